// Package brick defines capability handlers ("bricks"), the startup
// registry that names them, and the dispatcher that invokes them with a
// bounded deadline.
package brick

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// ErrDuplicate is returned when a brick name is registered twice.
var ErrDuplicate = errors.New("brick: name already registered")

// Handler executes one capability call. Implementations return a result
// payload or a typed error; they never build response envelopes.
type Handler interface {
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Descriptor describes one registered brick. Immutable after startup.
type Descriptor struct {
	// Name is the dispatch key, e.g. "gmail.search_messages".
	Name string
	// Version is a semantic version string, surfaced in envelopes.
	Version string
	// InputSchema is the JSON Schema document for the brick's params.
	InputSchema string
	// Handler is the brick implementation.
	Handler Handler
}

// Registry is the source of truth for installed bricks. Bricks are
// registered once at startup and never mutated afterward.
type Registry struct {
	mu     sync.RWMutex
	bricks map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bricks: make(map[string]Descriptor)}
}

// Register validates and stores a descriptor. The version must parse as
// semver and the handler must be non-nil.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" {
		return errors.New("brick: name must not be empty")
	}
	if desc.Handler == nil {
		return fmt.Errorf("brick: %s has no handler", desc.Name)
	}
	if _, err := semver.NewVersion(desc.Version); err != nil {
		return fmt.Errorf("brick: %s has invalid version %q: %w", desc.Name, desc.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bricks[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, desc.Name)
	}
	r.bricks[desc.Name] = desc
	return nil
}

// Get looks up a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.bricks[name]
	return desc, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.bricks))
	for _, desc := range r.bricks {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
