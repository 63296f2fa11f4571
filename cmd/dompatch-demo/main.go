// Command dompatch-demo serves a small partial-enabled site and drives the
// navigation engine against it.
//
// Usage:
//
//	dompatch-demo -addr :8473              # serve the demo site
//	dompatch-demo -addr :8473 -script     # serve, run a scripted navigation, exit
//	dompatch-demo -config dompatch.yaml -script
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
	"github.com/hazyhaar/dompatch/history"
	"github.com/hazyhaar/dompatch/island"
	"github.com/hazyhaar/dompatch/manifest"
	"github.com/hazyhaar/dompatch/nav"
	"github.com/hazyhaar/dompatch/reconcile"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8473", "listen address for the demo site")
	configPath := flag.String("config", "", "path to dompatch.yaml config file")
	script := flag.Bool("script", false, "run a scripted navigation against the site and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *configPath, *script); err != nil {
		logger.Error("dompatch-demo: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, addr, configPath string, script bool) error {
	cfg := &nav.Config{}
	if configPath != "" {
		loaded, err := nav.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = loaded
	}

	srv := &http.Server{Addr: addr, Handler: siteRouter(logger)}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	defer srv.Shutdown(context.Background())
	logger.Info("dompatch-demo: serving", "addr", addr)

	if !script {
		select {
		case <-ctx.Done():
			logger.Info("dompatch-demo: shutting down")
			return nil
		case err := <-errCh:
			return err
		}
	}

	// Give the listener a moment before the scripted client dials it.
	time.Sleep(100 * time.Millisecond)
	return runScript(ctx, logger, "http://"+addr, cfg)
}

// runScript loads the demo's front page into a live document, hydrates its
// islands, and walks through a navigation sequence, printing the
// controller status after each step.
func runScript(ctx context.Context, logger *slog.Logger, base string, cfg *nav.Config) error {
	resp, err := http.Get(base + "/")
	if err != nil {
		return fmt.Errorf("load front page: %w", err)
	}
	defer resp.Body.Close()

	doc, err := dom.NewDocument(resp.Body, base+"/")
	if err != nil {
		return err
	}
	if err := envelope.Transform(doc.Root); err != nil {
		return fmt.Errorf("transform markers: %w", err)
	}

	islands := island.NewRegistry(island.WithLogger(logger))
	types := manifest.NewRegistry(manifest.WithLogger(logger))
	types.RegisterType("counter", func() island.Component { return &counter{logger: logger} })
	types.Apply(&manifest.File{Version: 1, Islands: []manifest.Entry{
		{Type: "counter", Source: "islands/counter"},
	}})

	engine := reconcile.New(reconcile.Config{
		Registry: islands,
		Resolver: types,
		Logger:   logger,
	})
	if _, err := engine.Hydrate(doc); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	var hist *history.Manager
	if cfg.HistoryDB != "" {
		store, err := history.OpenStore(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		hist = history.NewManager(history.WithStore(store), history.WithLogger(logger))
	} else {
		hist = history.NewManager(history.WithLogger(logger))
	}

	ctrl := nav.NewController(nav.Options{
		Document:  doc,
		Engine:    engine,
		History:   hist,
		Islands:   islands,
		Sanitizer: bluemonday.UGCPolicy(),
		Logger:    logger,
	})

	steps := []struct {
		name string
		run  func() error
	}{
		{"navigate /counter?step=2", func() error {
			return ctrl.Navigate(ctx, nav.Activation{Kind: "programmatic", URL: base + "/counter?step=2"})
		}},
		{"navigate /feed", func() error {
			return ctrl.Navigate(ctx, nav.Activation{Kind: "programmatic", URL: base + "/feed"})
		}},
		{"traverse back", func() error { return ctrl.Traverse(ctx, -1) }},
		{"traverse forward", func() error { return ctrl.Traverse(ctx, 1) }},
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		logger.Info("dompatch-demo: step done", "step", step.name)
		if err := enc.Encode(ctrl.Status()); err != nil {
			return err
		}
	}
	fmt.Println(doc.Title())
	return nil
}

// counter is the demo island component: it just logs its lifecycle.
type counter struct {
	logger *slog.Logger
	props  json.RawMessage
}

func (c *counter) Mount(props json.RawMessage) error {
	c.props = props
	c.logger.Info("counter: mounted", "props", string(props))
	return nil
}

func (c *counter) Update(props json.RawMessage) error {
	c.props = props
	c.logger.Info("counter: updated", "props", string(props))
	return nil
}

func (c *counter) Unmount() {
	c.logger.Info("counter: unmounted")
}

// siteRouter serves the demo pages. The front page carries island markers
// for hydration; the partial routes answer with fragment envelopes.
func siteRouter(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		ib, ie, err := envelope.IslandMarkers("counter", "", map[string]int{"step": 1})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>dompatch demo</title><meta name="description" content="front"></head>
<body data-partial-nav="true">
<nav><a href="/counter?step=2">counter</a> <a href="/feed">feed</a></nav>
<main data-partial-name="content">%s<p>step: 1</p>%s</main>
<ul data-partial-name="feed"><li>seed</li></ul>
</body>
</html>`, ib, ie)
	})

	r.Get("/counter", func(w http.ResponseWriter, req *http.Request) {
		step := req.URL.Query().Get("step")
		if step == "" {
			step = "1"
		}
		pb, pe := envelope.PartialMarkers("content", envelope.ModeReplace)
		ib, ie, err := envelope.IslandMarkers("counter", "", map[string]string{"step": step})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "<html><head><title>counter %s</title></head><body>%s%s<p>step: %s</p>%s%s</body></html>",
			step, pb, ib, step, ie, pe)
	})

	r.Get("/feed", func(w http.ResponseWriter, req *http.Request) {
		pb, pe := envelope.PartialMarkers("feed", envelope.ModeAppend)
		fmt.Fprintf(w, "<html><head><title>feed</title></head><body>%s<li>item %d</li>%s</body></html>",
			pb, time.Now().UnixMilli()%1000, pe)
	})

	return r
}
