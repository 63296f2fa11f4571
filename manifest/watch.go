package manifest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// WatchOptions tunes the manifest watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// reload fires. If more changes arrive during the window the timer
	// resets. 0 fires immediately. Default: 0.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a manifest file for changes and reloads it into a Registry
// when the build rewrites it. Change detection is stat-based (mtime and
// size folded into a version token), matching how build tools replace the
// file wholesale.
type Watcher struct {
	path string
	reg  *Registry
	opts WatchOptions

	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errs    atomic.Int64
	reloads atomic.Int64
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
}

// NewWatcher creates a Watcher. Call Run to start the loop.
func NewWatcher(path string, reg *Registry, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{path: path, reg: reg, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:          w.checks.Load(),
		ChangesDetected: w.changes.Load(),
		Errors:          w.errs.Load(),
		Reloads:         w.reloads.Load(),
	}
}

// Run blocks until ctx is cancelled, polling at opts.Interval. When the
// file's version token changes and the debounce window passes without
// further changes, the manifest is reloaded and applied.
//
// A reload that fails to parse does NOT advance the version, so it is
// retried on the next poll cycle; the registry keeps serving the previous
// manifest meanwhile.
func (w *Watcher) Run(ctx context.Context) {
	log := w.opts.Logger

	if v, err := w.stat(); err != nil {
		log.Warn("manifest: initial stat failed", "path", w.path, "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	log.Info("manifest: watching", "path", w.path,
		"interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			log.Info("manifest: watch stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.stat()
			if err != nil {
				w.errs.Add(1)
				log.Warn("manifest: stat failed", "path", w.path, "error", err)
				continue
			}
			if cur != w.version.Load() && cur != pending {
				w.changes.Add(1)
				pending = cur

				if w.opts.Debounce <= 0 {
					w.fire(log, pending)
					pending = -1
				} else {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(w.opts.Debounce)
					debounceCh = debounceTimer.C
					log.Debug("manifest: change detected, debouncing", "pending_version", cur)
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.fire(log, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(log *slog.Logger, ver int64) {
	f, err := Load(w.path)
	if err != nil {
		w.errs.Add(1)
		log.Error("manifest: reload failed", "path", w.path, "error", err)
		return
	}
	w.reg.Apply(f)
	w.reloads.Add(1)
	w.version.Store(ver)
}

// stat folds mtime and size into a version token.
func (w *Watcher) stat() (int64, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write([]byte(info.ModTime().UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
	v := int64(h.Sum64())
	if v < 0 {
		v = -v
	}
	return v, nil
}
