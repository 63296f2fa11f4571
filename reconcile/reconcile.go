package reconcile

import (
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/dom"
	"github.com/hazyhaar/dompatch/envelope"
	"github.com/hazyhaar/dompatch/island"
)

// Config wires a Reconciler.
type Config struct {
	// Registry is the identity arena. Required.
	Registry *island.Registry
	// Resolver maps island types to constructors. Nil mounts everything
	// inert (markup applied, no behavior).
	Resolver island.Resolver
	// Lifecycle receives mount/update/unmount events. Default: slog sink.
	Lifecycle island.Lifecycle
	// Logger overrides slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Lifecycle == nil {
		c.Lifecycle = &island.LogLifecycle{Logger: c.Logger}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Resolver == nil {
		c.Resolver = inertResolver{}
	}
}

type inertResolver struct{}

func (inertResolver) Resolve(string) (island.Constructor, bool) { return nil, false }

// Reconciler applies parsed envelope fragments to a live document.
type Reconciler struct {
	registry  *island.Registry
	resolver  island.Resolver
	lifecycle island.Lifecycle
	logger    *slog.Logger
}

// New creates a Reconciler from configuration.
func New(cfg Config) *Reconciler {
	cfg.defaults()
	if cfg.Registry == nil {
		panic("reconcile: Config.Registry is required")
	}
	return &Reconciler{
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		lifecycle: cfg.Lifecycle,
		logger:    cfg.Logger,
	}
}

// Apply patches one fragment into the live document. The fragment's
// content is consumed: envelopes are single-use.
//
// Returns ErrFragmentNotFound when the document declares no slot for the
// fragment's name; the caller skips it and applies the response's other
// fragments. Structural errors (malformed nesting, duplicate identities)
// are detected before any live mutation.
func (r *Reconciler) Apply(doc *dom.Document, frag *envelope.Fragment) (EditSequence, error) {
	slot := doc.Slot(frag.Name)
	if slot == nil {
		r.logger.Warn(fmt.Sprintf("reconcile: Partial %q not found in live document; fragment skipped", frag.Name))
		return nil, fmt.Errorf("%w: %q", ErrFragmentNotFound, frag.Name)
	}

	p := &pass{r: r, scope: frag.Name}

	switch frag.Mode {
	case envelope.ModeReplace:
		if err := rekeyLiveScope(r.registry, slot, frag.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUsageViolation, err)
		}
		keys, err := assignNewKeys(frag.Nodes(), nil)
		if err != nil {
			return nil, err
		}
		p.setKeys(keys)
		if err := p.patchChildren(slot, frag.Nodes(), nil); err != nil {
			return nil, err
		}

	case envelope.ModeAppend, envelope.ModePrepend:
		keys, err := assignNewKeys(frag.Nodes(), liveTypeCounts(r.registry, frag.Name))
		if err != nil {
			return nil, err
		}
		p.setKeys(keys)
		if err := p.insertAtEdge(slot, frag); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("reconcile: unknown insertion mode %q", frag.Mode)
	}

	p.finish()
	r.logger.Debug("reconcile: fragment applied",
		"fragment", frag.Name, "mode", frag.Mode, "edits", len(p.edits))
	return p.edits, nil
}

// insertAtEdge handles append/prepend: existing slot content is left in
// place, incoming content is materialized at the requested edge.
func (p *pass) insertAtEdge(slot *html.Node, frag *envelope.Fragment) error {
	ref := slot.FirstChild // prepend anchor; nil appends
	if frag.Mode == envelope.ModeAppend {
		ref = nil
	}
	for _, n := range frag.Nodes() {
		nodes, err := p.materialize(n)
		if err != nil {
			return err
		}
		for _, m := range nodes {
			slot.InsertBefore(m, ref)
			p.record(Edit{Op: OpInsert, Path: dom.Path(m), Tag: nodeTag(m)})
		}
	}
	return nil
}

// Hydrate mounts the islands already present in a freshly loaded document
// and strips their containers, bringing a server-rendered first page to
// the same registry state a patched page reaches. The document must have
// been parsed with its boundary markers transformed (envelope.Transform).
func (r *Reconciler) Hydrate(doc *dom.Document) (EditSequence, error) {
	body := doc.Body()
	if body == nil {
		return nil, nil
	}

	// Group outermost containers by scope, document order.
	type rooted struct {
		container *html.Node
		scope     string
	}
	var roots []rooted
	perScope := map[string][]*html.Node{}

	var walk func(n *html.Node, scope string)
	walk = func(n *html.Node, scope string) {
		if n.Type == html.ElementNode {
			if name, ok := dom.Attr(n, dom.SlotAttr); ok {
				scope = name
			}
			if envelope.IsIsland(n) {
				roots = append(roots, rooted{n, scope})
				perScope[scope] = append(perScope[scope], n)
				return // nested containers are materialized recursively
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, scope)
		}
	}
	walk(body, "")

	keysByScope := map[string]newKeys{}
	for scope, containers := range perScope {
		keys, err := assignNewKeys(containers, liveTypeCounts(r.registry, scope))
		if err != nil {
			return nil, err
		}
		keysByScope[scope] = keys
	}

	p := &pass{r: r}
	for _, root := range roots {
		p.scope = root.scope
		p.setKeys(keysByScope[root.scope])
		nodes, err := p.mountIsland(root.container)
		if err != nil {
			return nil, err
		}
		parent := root.container.Parent
		for _, n := range nodes {
			parent.InsertBefore(n, root.container)
		}
		parent.RemoveChild(root.container)
	}
	p.finish()
	return p.edits, nil
}
