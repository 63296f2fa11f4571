// Package manifest maps island type ids to their component constructors.
// The manifest file is a build artifact listing every island type the
// application ships; constructors are registered in code at startup. A
// type resolves only when both sides agree, so a stale manifest or a
// missing registration degrades to an inert mount instead of a panic.
package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/dompatch/island"
)

// Entry declares one island type shipped by the application.
type Entry struct {
	// Type is the identity carried by island boundary markers.
	Type string `yaml:"type"`
	// Source is the module or file the component is built from.
	// Informational: surfaced in logs and status output.
	Source string `yaml:"source,omitempty"`
	// Export names the constructor within Source when it is not the
	// default export.
	Export string `yaml:"export,omitempty"`
}

// File is the parsed manifest document.
type File struct {
	Version int     `yaml:"version"`
	Islands []Entry `yaml:"islands"`
}

// Load reads and parses a manifest file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	for i, e := range f.Islands {
		if e.Type == "" {
			return nil, fmt.Errorf("manifest: %s: islands[%d] missing type", path, i)
		}
	}
	return &f, nil
}

// Registry implements island.Resolver over the manifest's declared types
// and the constructors registered in code. Safe for concurrent use; Apply
// swaps the declared set atomically on hot reload.
type Registry struct {
	mu       sync.RWMutex
	declared map[string]Entry
	ctors    map[string]island.Constructor
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		declared: make(map[string]Entry),
		ctors:    make(map[string]island.Constructor),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterType binds a constructor to an island type id. Later
// registrations replace earlier ones.
func (r *Registry) RegisterType(typ string, ctor island.Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[typ] = ctor
}

// Apply replaces the declared type set with the manifest's. Registered
// constructors survive reloads; declarations do not.
func (r *Registry) Apply(f *File) {
	declared := make(map[string]Entry, len(f.Islands))
	for _, e := range f.Islands {
		declared[e.Type] = e
	}

	r.mu.Lock()
	r.declared = declared
	r.mu.Unlock()

	for typ := range declared {
		r.mu.RLock()
		_, bound := r.ctors[typ]
		r.mu.RUnlock()
		if !bound {
			r.logger.Warn("manifest: declared island type has no registered constructor",
				"type", typ, "source", declared[typ].Source)
		}
	}
	r.logger.Info("manifest: applied", "version", f.Version, "types", len(declared))
}

// Resolve returns the constructor for a type declared by the manifest and
// registered in code. Either side missing resolves to nothing.
func (r *Registry) Resolve(typ string) (island.Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.declared[typ]; !ok {
		return nil, false
	}
	ctor, ok := r.ctors[typ]
	return ctor, ok
}

// Entries returns the declared entries, unordered.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.declared))
	for _, e := range r.declared {
		out = append(out, e)
	}
	return out
}
