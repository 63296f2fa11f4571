package nav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
	"github.com/hazyhaar/dompatch/island"
	"github.com/hazyhaar/dompatch/reconcile"
)

// safeBuffer collects log output from concurrent attempts.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func partialBody(name string, inner string) string {
	begin, end := envelope.PartialMarkers(name, envelope.ModeReplace)
	return begin + inner + end
}

func newPage(t *testing.T, baseURL, body string) *dom.Document {
	t.Helper()
	markup := `<html><head><title>start</title></head><body data-partial-nav="true">` +
		body + `</body></html>`
	doc, err := dom.NewDocument(strings.NewReader(markup), baseURL)
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	return doc
}

func newController(t *testing.T, doc *dom.Document, logger *slog.Logger) *Controller {
	t.Helper()
	if logger == nil {
		logger = discard()
	}
	reg := island.NewRegistry(island.WithLogger(discard()))
	engine := reconcile.New(reconcile.Config{Registry: reg, Logger: logger})
	return NewController(Options{
		Document: doc,
		Engine:   engine,
		Islands:  reg,
		Logger:   logger,
	})
}

func findElement(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func TestNavigateAppliesFragmentsAndPushesHistory(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/docs", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get(DefaultPartialHeader) == "" {
			t.Error("partial header missing from fetch")
		}
		io.WriteString(w, partialBody("content", "<h1>Docs</h1>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"><p>home</p></main>`)
	c := newController(t, doc, nil)

	if err := c.Navigate(context.Background(), Activation{Kind: "anchor", URL: srv.URL + "/docs"}); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	out := doc.HTML()
	if !strings.Contains(out, "<h1>Docs</h1>") || strings.Contains(out, "<p>home</p>") {
		t.Errorf("fragment not applied:\n%s", out)
	}
	if cur, ok := c.History().Current(); !ok || !strings.HasSuffix(cur.URL, "/docs") {
		t.Errorf("history current = %+v %v, want /docs", cur, ok)
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
}

func TestSupersededAttemptIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r := chi.NewRouter()
	r.Get("/slow", func(w http.ResponseWriter, req *http.Request) {
		close(started)
		select {
		case <-release:
		case <-req.Context().Done():
		}
		io.WriteString(w, partialBody("content", "<p>slow</p>"))
	})
	r.Get("/fast", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, partialBody("content", "<p>fast</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	logBuf := &safeBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuf, nil))
	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"></main>`)
	c := newController(t, doc, logger)

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- c.Navigate(context.Background(), Activation{URL: srv.URL + "/slow"})
	}()
	<-started

	if err := c.Navigate(context.Background(), Activation{URL: srv.URL + "/fast"}); err != nil {
		t.Fatalf("second Navigate: %v", err)
	}
	close(release)

	if err := <-slowErr; !errors.Is(err, ErrStale) {
		t.Fatalf("superseded attempt returned %v, want ErrStale", err)
	}
	out := doc.HTML()
	if !strings.Contains(out, "<p>fast</p>") || strings.Contains(out, "<p>slow</p>") {
		t.Errorf("stale result reached the document:\n%s", out)
	}
	if cur, _ := c.History().Current(); !strings.HasSuffix(cur.URL, "/fast") {
		t.Errorf("history current = %q, want /fast", cur.URL)
	}
	if !strings.Contains(logBuf.String(), "stale navigation attempt discarded") {
		t.Error("discard was not logged")
	}
}

func TestNoPartialsLeavesEverythingUntouched(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/bare", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, "<html><head></head><body><p>full page</p></body></html>")
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"><p>home</p></main>`)
	c := newController(t, doc, nil)
	before := doc.HTML()

	err := c.Navigate(context.Background(), Activation{URL: srv.URL + "/bare"})
	if !errors.Is(err, envelope.ErrNoPartials) {
		t.Fatalf("err = %v, want ErrNoPartials", err)
	}
	if !regexp.MustCompile(`Found no partials`).MatchString(err.Error()) {
		t.Errorf("error message %q lacks the fallback marker", err)
	}
	if doc.HTML() != before {
		t.Error("document mutated by a no-partials response")
	}
	if c.History().Len() != 0 {
		t.Error("history mutated by a no-partials response")
	}
}

func TestUnknownFragmentSkippedOthersApply(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/mixed", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w,
			partialBody("ghost", "<p>nowhere</p>")+partialBody("content", "<p>landed</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	logBuf := &safeBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuf, nil))
	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"></main>`)
	c := newController(t, doc, logger)

	if err := c.Navigate(context.Background(), Activation{URL: srv.URL + "/mixed"}); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if !regexp.MustCompile(`Partial .* not found`).MatchString(logBuf.String()) {
		t.Errorf("missing warning for unknown fragment, logs: %s", logBuf.String())
	}
	out := doc.HTML()
	if !strings.Contains(out, "<p>landed</p>") {
		t.Errorf("known fragment skipped along with the unknown one:\n%s", out)
	}
	if strings.Contains(out, "<p>nowhere</p>") {
		t.Errorf("unknown fragment leaked into the document:\n%s", out)
	}
}

func TestFormSubmissionForwardsMethodAndBody(t *testing.T) {
	var gotMethod, gotQuery string
	r := chi.NewRouter()
	r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
		req.ParseForm()
		gotMethod = req.Method
		gotQuery = req.PostForm.Get("q")
		io.WriteString(w, partialBody("content", "<p>results</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `
		<form method="post" action="/search">
			<input type="text" name="q" value="sqlite wal">
			<input type="checkbox" name="exact">
		</form>
		<main data-partial-name="content"></main>`)
	c := newController(t, doc, nil)

	form := findElement(doc.Root, atom.Form)
	act, ok := FromForm(doc, form)
	if !ok {
		t.Fatal("eligible form not handled")
	}
	if err := c.Navigate(context.Background(), act); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if gotMethod != http.MethodPost || gotQuery != "sqlite wal" {
		t.Errorf("server saw method=%q q=%q, want POST / sqlite wal", gotMethod, gotQuery)
	}
	if !strings.Contains(doc.HTML(), "<p>results</p>") {
		t.Error("form response not applied")
	}
}

func TestAnchorEligibility(t *testing.T) {
	base := "https://app.example.test/docs/"
	cases := []struct {
		name    string
		body    string
		handled bool
		wantURL string
	}{
		{
			name:    "same origin relative",
			body:    `<a href="/pricing">go</a>`,
			handled: true,
			wantURL: "https://app.example.test/pricing",
		},
		{
			name:    "cross origin falls through",
			body:    `<a href="https://other.example.test/x">go</a>`,
			handled: false,
		},
		{
			name:    "explicit opt out",
			body:    `<a href="/pricing" data-partial="false">go</a>`,
			handled: false,
		},
		{
			name:    "ancestor opt out",
			body:    `<div data-partial="false"><a href="/pricing">go</a></div>`,
			handled: false,
		},
		{
			name:    "fragment-only link",
			body:    `<a href="#section">go</a>`,
			handled: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := newPage(t, base, tc.body)
			a := findElement(doc.Root, atom.A)
			act, ok := FromAnchor(doc, a)
			if ok != tc.handled {
				t.Fatalf("handled = %v, want %v", ok, tc.handled)
			}
			if tc.handled && act.URL != tc.wantURL {
				t.Errorf("URL = %q, want %q", act.URL, tc.wantURL)
			}
		})
	}
}

func TestAnchorOutsideNavRegionFallsThrough(t *testing.T) {
	markup := `<html><head></head><body><a href="/x">go</a></body></html>`
	doc, err := dom.NewDocument(strings.NewReader(markup), "https://app.example.test/")
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	if _, ok := FromAnchor(doc, findElement(doc.Root, atom.A)); ok {
		t.Error("anchor handled without an enabling ancestor")
	}
}

func TestAnchorFetchOverride(t *testing.T) {
	doc := newPage(t, "https://app.example.test/", `<a href="/page" data-partial="/partials/page">go</a>`)
	act, ok := FromAnchor(doc, findElement(doc.Root, atom.A))
	if !ok {
		t.Fatal("anchor with override not handled")
	}
	if act.FetchURL != "/partials/page" {
		t.Errorf("FetchURL = %q, want /partials/page", act.FetchURL)
	}
	if act.URL != "https://app.example.test/page" {
		t.Errorf("URL = %q, want the href destination", act.URL)
	}
}

func TestActivateHandlesEligibleAnchorsOnly(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/pricing", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, partialBody("content", "<p>pricing</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/",
		`<a href="/pricing">in</a><a href="https://other.example.test/x">out</a>
		<main data-partial-name="content"></main>`)
	c := newController(t, doc, nil)

	var anchors []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			anchors = append(anchors, n)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc.Root)
	if len(anchors) != 2 {
		t.Fatalf("anchors = %d, want 2", len(anchors))
	}

	handled, err := c.Activate(context.Background(), anchors[0])
	if !handled || err != nil {
		t.Fatalf("eligible anchor: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(doc.HTML(), "<p>pricing</p>") {
		t.Error("activation did not apply the fragment")
	}

	handled, err = c.Activate(context.Background(), anchors[1])
	if handled || err != nil {
		t.Errorf("cross-origin anchor: handled=%v err=%v, want fall-through", handled, err)
	}
}

func TestAnchorTargetAndModeAttributes(t *testing.T) {
	doc := newPage(t, "https://app.example.test/",
		`<a href="/p" data-partial-target="content, feed" data-partial-mode="append">go</a>`)
	act, ok := FromAnchor(doc, findElement(doc.Root, atom.A))
	if !ok {
		t.Fatal("anchor not handled")
	}
	if len(act.Targets) != 2 || act.Targets[0] != "content" || act.Targets[1] != "feed" {
		t.Errorf("Targets = %v, want [content feed]", act.Targets)
	}
	if act.Mode != envelope.ModeAppend {
		t.Errorf("Mode = %q, want append", act.Mode)
	}

	doc = newPage(t, "https://app.example.test/", `<a href="/p" data-partial-mode="sideways">go</a>`)
	act, _ = FromAnchor(doc, findElement(doc.Root, atom.A))
	if act.Mode != "" {
		t.Errorf("unknown mode produced override %q", act.Mode)
	}
}

func TestTargetFilterSkipsUnlistedFragments(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/multi", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w,
			partialBody("content", "<p>wanted</p>")+partialBody("aside", "<p>unwanted</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/",
		`<main data-partial-name="content"></main><div data-partial-name="aside"><p>kept</p></div>`)
	c := newController(t, doc, nil)

	act := Activation{URL: srv.URL + "/multi", Targets: []string{"content"}}
	if err := c.Navigate(context.Background(), act); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	out := doc.HTML()
	if !strings.Contains(out, "<p>wanted</p>") {
		t.Errorf("targeted fragment not applied:\n%s", out)
	}
	if !strings.Contains(out, "<p>kept</p>") || strings.Contains(out, "<p>unwanted</p>") {
		t.Errorf("unlisted fragment applied despite target filter:\n%s", out)
	}
}

func TestIndicatorShowsOnlyAfterDelay(t *testing.T) {
	doc := newPage(t, "https://app.example.test/", `<a href="/x">go</a>`)
	trigger := findElement(doc.Root, atom.A)
	var mu sync.Mutex

	// Fast completion: stopped before the delay elapses, never shown.
	ind := NewIndicator(40 * time.Millisecond)
	stop := ind.Start(&mu, doc, trigger)
	stop()
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	if _, ok := dom.Attr(trigger, LoadingAttr); ok {
		t.Error("indicator shown for a fast navigation")
	}
	mu.Unlock()

	// Slow completion: shown after the delay, cleared on stop.
	stop = ind.Start(&mu, doc, trigger)
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	if dom.AttrOr(trigger, LoadingAttr, "") != "true" {
		t.Error("indicator not shown after the delay")
	}
	if dom.AttrOr(doc.Html(), "aria-busy", "") != "true" {
		t.Error("document not marked busy")
	}
	mu.Unlock()
	stop()
	mu.Lock()
	if _, ok := dom.Attr(trigger, LoadingAttr); ok {
		t.Error("indicator attribute not cleared")
	}
	if _, ok := dom.Attr(doc.Html(), "aria-busy"); ok {
		t.Error("busy attribute not cleared")
	}
	mu.Unlock()
}

func TestTraverseReplaysAndRestoresScroll(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/{page}", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, partialBody("content", "<p>"+chi.URLParam(req, "page")+"</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"></main>`)
	c := newController(t, doc, nil)
	ctx := context.Background()

	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/alpha"}); err != nil {
		t.Fatalf("Navigate alpha: %v", err)
	}
	doc.SetScroll(0, 900) // reader scrolled down on alpha
	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/beta"}); err != nil {
		t.Fatalf("Navigate beta: %v", err)
	}
	if doc.ScrollY != 0 {
		t.Errorf("scroll after forward navigation = %d, want 0", doc.ScrollY)
	}

	if err := c.Traverse(ctx, -1); err != nil {
		t.Fatalf("Traverse back: %v", err)
	}
	if !strings.Contains(doc.HTML(), "<p>alpha</p>") {
		t.Error("traversal did not re-render the previous entry")
	}
	if doc.ScrollY != 900 {
		t.Errorf("scroll after traversal = %d, want restored 900", doc.ScrollY)
	}

	if err := c.Traverse(ctx, -1); !errors.Is(err, ErrEdgeOfHistory) {
		t.Errorf("Traverse past the oldest entry = %v, want ErrEdgeOfHistory", err)
	}
}

func TestFailedTraversalLeavesHistoryInPlace(t *testing.T) {
	var markerless atomic.Bool
	r := chi.NewRouter()
	r.Get("/{page}", func(w http.ResponseWriter, req *http.Request) {
		if markerless.Load() {
			io.WriteString(w, "<html><head></head><body><p>full page</p></body></html>")
			return
		}
		io.WriteString(w, partialBody("content", "<p>"+chi.URLParam(req, "page")+"</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"></main>`)
	c := newController(t, doc, nil)
	ctx := context.Background()

	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/alpha"}); err != nil {
		t.Fatalf("Navigate alpha: %v", err)
	}
	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/beta"}); err != nil {
		t.Fatalf("Navigate beta: %v", err)
	}

	// The previous entry's server stops answering with fragments; the
	// replay fails and must not move the history position.
	markerless.Store(true)
	err := c.Traverse(ctx, -1)
	if !errors.Is(err, envelope.ErrNoPartials) {
		t.Fatalf("Traverse = %v, want ErrNoPartials", err)
	}
	if cur, _ := c.History().Current(); !strings.HasSuffix(cur.URL, "/beta") {
		t.Errorf("failed traversal moved history to %q, want /beta", cur.URL)
	}
	if c.History().Index() != 1 {
		t.Errorf("index = %d, want 1", c.History().Index())
	}
	if !strings.Contains(doc.HTML(), "<p>beta</p>") {
		t.Error("document no longer shows the committed entry")
	}

	// The entry is still reachable once the server recovers.
	markerless.Store(false)
	if err := c.Traverse(ctx, -1); err != nil {
		t.Fatalf("Traverse after recovery: %v", err)
	}
	if !strings.Contains(doc.HTML(), "<p>alpha</p>") {
		t.Error("recovered traversal did not re-render the entry")
	}
}

func TestStaleTraversalDoesNotRestoreScroll(t *testing.T) {
	var slow atomic.Bool
	release := make(chan struct{})
	started := make(chan struct{})
	r := chi.NewRouter()
	r.Get("/alpha", func(w http.ResponseWriter, req *http.Request) {
		if slow.Load() {
			close(started)
			select {
			case <-release:
			case <-req.Context().Done():
			}
		}
		io.WriteString(w, partialBody("content", "<p>alpha</p>"))
	})
	r.Get("/beta", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, partialBody("content", "<p>beta</p>"))
	})
	r.Get("/fast", func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, partialBody("content", "<p>fast</p>"))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"></main>`)
	c := newController(t, doc, nil)
	ctx := context.Background()

	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/alpha"}); err != nil {
		t.Fatalf("Navigate alpha: %v", err)
	}
	doc.SetScroll(0, 900)
	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/beta"}); err != nil {
		t.Fatalf("Navigate beta: %v", err)
	}

	slow.Store(true)
	travErr := make(chan error, 1)
	go func() { travErr <- c.Traverse(ctx, -1) }()
	<-started

	if err := c.Navigate(ctx, Activation{URL: srv.URL + "/fast"}); err != nil {
		t.Fatalf("Navigate fast: %v", err)
	}
	close(release)

	if err := <-travErr; !errors.Is(err, ErrStale) {
		t.Fatalf("superseded traversal = %v, want ErrStale", err)
	}
	if doc.ScrollY != 0 {
		t.Errorf("stale traversal clobbered scroll: y = %d, want 0", doc.ScrollY)
	}
	if cur, _ := c.History().Current(); !strings.HasSuffix(cur.URL, "/fast") {
		t.Errorf("history current = %q, want /fast", cur.URL)
	}
	if !strings.Contains(doc.HTML(), "<p>fast</p>") {
		t.Error("newer navigation's content lost")
	}
}

func TestErrorStatusFailsTheFetch(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/missing", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "<html><head></head><body><h1>Not Found</h1></body></html>")
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	doc := newPage(t, srv.URL+"/", `<main data-partial-name="content"><p>home</p></main>`)
	c := newController(t, doc, nil)
	before := doc.HTML()

	err := c.Navigate(context.Background(), Activation{URL: srv.URL + "/missing"})
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("err = %v, want a fetch error naming status 404", err)
	}
	if errors.Is(err, envelope.ErrNoPartials) {
		t.Error("error page misreported as a fragment-free envelope")
	}
	if doc.HTML() != before {
		t.Error("document mutated by an error response")
	}
	if c.History().Len() != 0 {
		t.Error("history mutated by an error response")
	}
}
