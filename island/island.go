// Package island tracks live interactive component instances across
// partial updates. An instance is identified by (scope, key): scope is the
// enclosing fragment name ("" for root-hydrated content) and key is either
// an explicit author key or a derived "type#n" occurrence key assigned at
// reconciliation time.
//
// The registry is an explicit arena owned by the reconciliation subsystem
// and passed by handle; it is never ambient state. All writes happen from
// the single reconciliation pass holding the navigation controller's lock.
package island

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dompatch/idgen"
)

// Component is the host-side behavior behind an island. Its internal state
// is opaque to the engine: the reconciler only drives the lifecycle.
type Component interface {
	// Mount is called once, after the instance's markup is in the live
	// tree, parent before children.
	Mount(props json.RawMessage) error
	// Update is called when the instance survives a patch with new props.
	Update(props json.RawMessage) error
	// Unmount is called when the instance is discarded, children before
	// parent.
	Unmount()
}

// Constructor builds a fresh, unmounted Component.
type Constructor func() Component

// Resolver maps a component type id to its constructor. The build-time
// manifest implements this; it is a pure external dependency of the
// reconciler.
type Resolver interface {
	Resolve(typ string) (Constructor, bool)
}

// Instance is a live, mounted island.
type Instance struct {
	ID    string
	Scope string
	Key   string // explicit key, or derived "type#n" reassigned per pass
	Type  string
	Props json.RawMessage

	// Explicit records whether Key was authored. Derived keys are
	// positional and reassigned by the key pre-pass on every
	// reconciliation; explicit keys are stable.
	Explicit bool

	// Parent and Nodes describe the contiguous live node range the
	// instance owns. Markers are stripped, so the registry is the only
	// record of island extent in the live tree.
	Parent *html.Node
	Nodes  []*html.Node

	// Comp is nil for inert instances (unresolvable type).
	Comp Component
}

// Identity returns the (scope, key) pair as a printable identity.
func (in *Instance) Identity() string {
	return in.Scope + "/" + in.Key
}

// Registry is the process-wide identity arena.
type Registry struct {
	byIdentity map[string]*Instance
	order      map[string][]*Instance // scope -> instances in registration order
	newID      idgen.Generator
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIDGenerator overrides the instance ID strategy.
func WithIDGenerator(gen idgen.Generator) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty identity arena.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byIdentity: make(map[string]*Instance),
		order:      make(map[string][]*Instance),
		newID:      idgen.Prefixed("isl_", idgen.NanoID(10)),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func identityKey(scope, key string) string { return scope + "\x00" + key }

// Register records a new live instance. Two live instances in the same
// scope never share an identity; violating that is a programming error in
// the reconciler and fails loudly.
func (r *Registry) Register(inst *Instance) (*Instance, error) {
	ik := identityKey(inst.Scope, inst.Key)
	if _, exists := r.byIdentity[ik]; exists {
		return nil, fmt.Errorf("island: identity %s already live", inst.Identity())
	}
	inst.ID = r.newID()
	r.byIdentity[ik] = inst
	r.order[inst.Scope] = append(r.order[inst.Scope], inst)
	r.logger.Debug("island: registered", "id", inst.ID, "identity", inst.Identity(), "type", inst.Type)
	return inst, nil
}

// Find returns the live instance for (scope, key), nil when none.
func (r *Registry) Find(scope, key string) *Instance {
	return r.byIdentity[identityKey(scope, key)]
}

// Release forgets an instance, freeing its identity for reuse within the
// same reconciliation pass. The caller drives the Unmount lifecycle event;
// Release is bookkeeping only.
func (r *Registry) Release(inst *Instance) {
	ik := identityKey(inst.Scope, inst.Key)
	if r.byIdentity[ik] != inst {
		return
	}
	delete(r.byIdentity, ik)
	ordered := r.order[inst.Scope]
	for i, it := range ordered {
		if it == inst {
			r.order[inst.Scope] = append(ordered[:i], ordered[i+1:]...)
			break
		}
	}
	r.logger.Debug("island: released", "id", inst.ID, "identity", inst.Identity())
}

// InScope returns the live instances of a scope in registration order.
// Callers that need document order sort against the live tree themselves
// (see the reconciler's key pre-pass).
func (r *Registry) InScope(scope string) []*Instance {
	out := make([]*Instance, len(r.order[scope]))
	copy(out, r.order[scope])
	return out
}

// Rekey updates the derived key of a live instance, keeping the identity
// index consistent. Explicit keys are never rekeyed.
func (r *Registry) Rekey(inst *Instance, newKey string) error {
	if inst.Explicit || inst.Key == newKey {
		return nil
	}
	newIK := identityKey(inst.Scope, newKey)
	if other, exists := r.byIdentity[newIK]; exists && other != inst {
		return fmt.Errorf("island: rekey %s -> %q collides with live instance %s", inst.Identity(), newKey, other.ID)
	}
	delete(r.byIdentity, identityKey(inst.Scope, inst.Key))
	inst.Key = newKey
	r.byIdentity[newIK] = inst
	return nil
}

// RekeyAll atomically reassigns derived keys for a set of instances in one
// scope. Unlike repeated Rekey calls it tolerates transient overlaps
// (instance A moving onto B's old key while B moves away), which happen
// whenever prepended content shifted positional occurrence order since the
// previous pass.
func (r *Registry) RekeyAll(insts []*Instance, keys []string) error {
	if len(insts) != len(keys) {
		return fmt.Errorf("island: rekey %d instances with %d keys", len(insts), len(keys))
	}
	for _, inst := range insts {
		delete(r.byIdentity, identityKey(inst.Scope, inst.Key))
	}
	for i, inst := range insts {
		ik := identityKey(inst.Scope, keys[i])
		if other, exists := r.byIdentity[ik]; exists {
			return fmt.Errorf("island: derived key %q in scope %q claimed twice (%s, %s)", keys[i], inst.Scope, other.ID, inst.ID)
		}
		inst.Key = keys[i]
		r.byIdentity[ik] = inst
	}
	return nil
}

// Len reports the number of live instances.
func (r *Registry) Len() int { return len(r.byIdentity) }

// OwnerOf returns the instance whose node range starts at n, nil when n is
// not an island range start. Used by the reconciler to group live children
// into units.
func (r *Registry) OwnerOf(n *html.Node) *Instance {
	// Linear over live instances: documents hold few islands and the
	// lookup runs once per live child during a pass.
	for _, insts := range r.order {
		for _, inst := range insts {
			if len(inst.Nodes) > 0 && inst.Nodes[0] == n {
				return inst
			}
		}
	}
	return nil
}
