// Package nav is the partial navigation controller: it decides which
// activations stay inside the engine, fetches partial responses, and
// commits them to the live document through the reconciler, serialized and
// cancellation-safe. A navigation that cannot proceed falls through to the
// host's default handling instead of failing the page.
package nav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
	"github.com/hazyhaar/dompatch/headmerge"
	"github.com/hazyhaar/dompatch/history"
	"github.com/hazyhaar/dompatch/idgen"
	"github.com/hazyhaar/dompatch/island"
	"github.com/hazyhaar/dompatch/reconcile"
)

// DefaultPartialHeader marks a request as a partial fetch. Servers use it
// to render only the requested fragments.
const DefaultPartialHeader = "Dompatch-Partial"

// ErrStale reports that a navigation attempt was superseded by a newer one
// before it could commit. Its results were discarded; nothing was mutated.
var ErrStale = errors.New("nav: stale navigation attempt")

// ErrEdgeOfHistory reports a traversal past the end of the stack.
var ErrEdgeOfHistory = errors.New("nav: no history entry in that direction")

// Fetcher performs partial fetches. *http.Client satisfies it; hosts with
// their own transport (service workers, test harnesses) inject theirs.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// State is the controller's coarse activity phase, advisory for status
// surfaces.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateReconciling:
		return "reconciling"
	}
	return "idle"
}

// Options wires a Controller.
type Options struct {
	// Document is the live document. Required.
	Document *dom.Document
	// Engine applies fragments. Required.
	Engine *reconcile.Reconciler
	// History is the navigation stack. Nil creates an in-memory one.
	History *history.Manager
	// Islands is surfaced in Status output when set.
	Islands *island.Registry
	// Client performs partial fetches. Nil uses a 10s-timeout http.Client.
	Client Fetcher
	// Sanitizer, when set, scrubs fragment content at parse time.
	Sanitizer envelope.Sanitizer
	// Indicator flags slow navigations. Nil uses the default delay.
	Indicator *Indicator
	// PartialHeader overrides DefaultPartialHeader.
	PartialHeader string
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.History == nil {
		o.History = history.NewManager()
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Indicator == nil {
		o.Indicator = NewIndicator(0)
	}
	if o.PartialHeader == "" {
		o.PartialHeader = DefaultPartialHeader
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Controller serializes partial navigations against one live document.
// Concurrent Navigate calls are safe: a newer attempt cancels the one in
// flight, and only the newest attempt's results ever commit.
type Controller struct {
	doc       *dom.Document
	engine    *reconcile.Reconciler
	hist      *history.Manager
	islands   *island.Registry
	client    Fetcher
	sanitizer envelope.Sanitizer
	indicator *Indicator
	header    string
	logger    *slog.Logger
	newID     idgen.Generator

	// mu guards every live document mutation: commits, scroll restore,
	// and the indicator's attribute writes.
	mu sync.Mutex

	// startMu guards attempt turnover.
	startMu   sync.Mutex
	cancelCur context.CancelFunc

	gen   atomic.Int64
	state atomic.Int32
}

// NewController creates a Controller.
func NewController(opts Options) *Controller {
	opts.defaults()
	if opts.Document == nil {
		panic("nav: Options.Document is required")
	}
	if opts.Engine == nil {
		panic("nav: Options.Engine is required")
	}
	return &Controller{
		doc:       opts.Document,
		engine:    opts.Engine,
		hist:      opts.History,
		islands:   opts.Islands,
		client:    opts.Client,
		sanitizer: opts.Sanitizer,
		indicator: opts.Indicator,
		header:    opts.PartialHeader,
		logger:    opts.Logger,
		newID:     idgen.Prefixed("att_", idgen.NanoID(8)),
	}
}

// attempt is one navigation in flight. Its generation token is checked
// before every commit-side mutation; a mismatch means a newer attempt took
// over and this one's results are discarded.
type attempt struct {
	id     string
	gen    int64
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *Controller) begin(ctx context.Context) *attempt {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.cancelCur != nil {
		c.cancelCur()
	}
	actx, cancel := context.WithCancel(ctx)
	c.cancelCur = cancel
	att := &attempt{id: c.newID(), gen: c.gen.Add(1), ctx: actx, cancel: cancel}
	c.logger.Debug("nav: attempt started", "attempt", att.id, "generation", att.gen)
	return att
}

func (c *Controller) setState(att *attempt, s State) {
	if att.gen == c.gen.Load() {
		c.state.Store(int32(s))
	}
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// History returns the navigation stack.
func (c *Controller) History() *history.Manager { return c.hist }

// Navigate performs one partial navigation: fetch, parse, reconcile,
// commit history. Any navigation already in flight is cancelled; if this
// one is itself superseded before committing, it returns ErrStale and the
// document is left exactly as the newer attempt's outcome dictates.
//
// A response carrying no fragments returns an error wrapping
// envelope.ErrNoPartials with the document and history untouched; the host
// falls back to a full page load.
func (c *Controller) Navigate(ctx context.Context, act Activation) error {
	return c.navigate(ctx, act, nil)
}

// traversal carries the pending history move of a Traverse replay. The
// index moves only inside a successful commit, so a failed replay leaves
// history pointing at the entry the document still displays.
type traversal struct {
	delta int
	entry history.Entry
}

func (c *Controller) navigate(ctx context.Context, act Activation, trav *traversal) error {
	att := c.begin(ctx)
	defer att.cancel()
	c.setState(att, StateFetching)
	defer c.setState(att, StateIdle)

	stop := c.indicator.Start(&c.mu, c.doc, act.Trigger)
	defer stop()

	env, finalURL, err := c.fetch(att, act)
	if err != nil {
		return err
	}
	if len(env.Fragments) == 0 {
		return fmt.Errorf("nav: %s: %w", act.URL, envelope.ErrNoPartials)
	}
	return c.commit(att, act, env, finalURL, trav)
}

// Activate decides whether activating trigger (an anchor or form element)
// is a partial navigation and performs it when so. handled=false means the
// engine stays out of it and the host runs its default navigation.
func (c *Controller) Activate(ctx context.Context, trigger *html.Node) (handled bool, err error) {
	var act Activation
	var ok bool
	if trigger != nil && trigger.Type == html.ElementNode {
		switch trigger.DataAtom {
		case atom.A:
			act, ok = FromAnchor(c.doc, trigger)
		case atom.Form:
			act, ok = FromForm(c.doc, trigger)
		}
	}
	if !ok {
		return false, nil
	}
	return true, c.Navigate(ctx, act)
}

// Traverse replays the partial navigation for the entry delta steps away
// (negative is back, positive is forward) and restores its recorded scroll
// offsets. The history index moves only when the replay commits: a failed
// or superseded replay leaves history pointing at the entry the document
// still displays.
func (c *Controller) Traverse(ctx context.Context, delta int) error {
	if delta == 0 {
		return nil
	}
	entry, ok := c.hist.Peek(delta)
	if !ok {
		return ErrEdgeOfHistory
	}
	return c.navigate(ctx, Activation{Kind: "traverse", URL: entry.URL},
		&traversal{delta: delta, entry: entry})
}

func (c *Controller) fetch(att *attempt, act Activation) (*envelope.Envelope, string, error) {
	target := act.FetchURL
	if target == "" {
		target = act.URL
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, "", fmt.Errorf("nav: parse url %q: %w", target, err)
	}
	if c.doc.BaseURL != nil {
		u = c.doc.BaseURL.ResolveReference(u)
	}

	method := act.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(act.Form) > 0 {
		if method == http.MethodGet {
			q := u.Query()
			for k, vs := range act.Form {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
		} else {
			body = strings.NewReader(act.Form.Encode())
		}
	}

	req, err := http.NewRequestWithContext(att.ctx, method, u.String(), body)
	if err != nil {
		return nil, "", fmt.Errorf("nav: build request: %w", err)
	}
	req.Header.Set(c.header, act.URL)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if att.ctx.Err() != nil {
			return nil, "", c.discard(att, "fetch")
		}
		return nil, "", fmt.Errorf("nav: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("nav: fetch %s: unexpected status %d", u, resp.StatusCode)
	}

	var opts []envelope.Option
	if c.sanitizer != nil {
		opts = append(opts, envelope.WithSanitizer(c.sanitizer))
	}
	env, err := envelope.Parse(resp.Body, opts...)
	if err != nil {
		return nil, "", err
	}

	final := u.String()
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String() // after redirects
	}
	return env, final, nil
}

func (c *Controller) commit(att *attempt, act Activation, env *envelope.Envelope, finalURL string, trav *traversal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isStale(att) {
		return c.discard(att, "commit")
	}
	c.setState(att, StateReconciling)

	headmerge.Merge(c.doc, env.Head)

	applied := 0
	for _, frag := range env.Fragments {
		if c.isStale(att) {
			return c.discard(att, "fragment "+frag.Name)
		}
		if len(act.Targets) > 0 && !containsName(act.Targets, frag.Name) {
			c.logger.Debug("nav: fragment outside activation targets", "fragment", frag.Name)
			continue
		}
		if act.Mode != "" {
			frag.Mode = act.Mode
		}
		if _, err := c.engine.Apply(c.doc, frag); err != nil {
			if errors.Is(err, reconcile.ErrFragmentNotFound) {
				continue // warned by the engine; the response's other fragments still apply
			}
			return fmt.Errorf("nav: apply fragment %q: %w", frag.Name, err)
		}
		applied++
	}

	switch {
	case trav != nil:
		// The departing entry keeps the viewport position it had; the
		// index moves only now that the replay is committed.
		c.hist.SetScroll(att.ctx, c.doc.ScrollX, c.doc.ScrollY)
		c.hist.Seek(trav.delta)
		c.doc.SetScroll(trav.entry.ScrollX, trav.entry.ScrollY)
	case act.Replace:
		c.hist.Replace(att.ctx, finalURL)
	default:
		// The departing entry keeps the viewport position it had.
		c.hist.SetScroll(att.ctx, c.doc.ScrollX, c.doc.ScrollY)
		c.hist.Push(att.ctx, finalURL)
		c.doc.SetScroll(0, 0)
	}

	c.logger.Info("nav: committed", "attempt", att.id, "url", finalURL,
		"fragments", applied, "kind", act.Kind)
	return nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (c *Controller) isStale(att *attempt) bool {
	return att.gen != c.gen.Load() || att.ctx.Err() != nil
}

func (c *Controller) discard(att *attempt, where string) error {
	c.logger.Info("nav: stale navigation attempt discarded", "attempt", att.id, "at", where)
	return ErrStale
}
