package brick

import (
	"context"
	"errors"
	"time"

	"github.com/brickfoundry/gateway/pkg/api"
)

// Meta is the call metadata carried in the handler context.
type Meta struct {
	// RequestID correlates the call with logs and the response envelope.
	RequestID string
	// ConnectionID is the opaque reference to the caller's stored
	// credential set for the external account.
	ConnectionID string
}

type metaKey struct{}

// WithMeta stores call metadata in the context.
func WithMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFrom retrieves call metadata from the context.
func MetaFrom(ctx context.Context) Meta {
	if meta, ok := ctx.Value(metaKey{}).(Meta); ok {
		return meta
	}
	return Meta{}
}

// Dispatcher resolves brick names and invokes handlers with an absolute
// deadline. It is the only place handler errors enter the pipeline.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. timeout bounds every handler call
// (default 30s).
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Dispatch looks up the named brick and executes its handler with the
// call metadata and deadline attached. An unregistered name yields
// UNKNOWN_BRICK; deadline expiry yields TIMEOUT.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any, meta Meta) (any, Descriptor, error) {
	desc, ok := d.registry.Get(name)
	if !ok {
		return nil, Descriptor{}, api.NewError(api.CodeUnknownBrick, "no brick registered under "+name)
	}

	callCtx, cancel := context.WithTimeout(WithMeta(ctx, meta), d.timeout)
	defer cancel()

	result, err := desc.Handler.Execute(callCtx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, desc, api.NewError(api.CodeTimeout, "brick call exceeded its deadline")
		}
		return nil, desc, err
	}
	return result, desc, nil
}
