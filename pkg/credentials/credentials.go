// Package credentials defines the collaborator interfaces through which
// the gateway obtains its shared HMAC secret and resolves connection IDs
// to stored credential references. Actual credential storage and OAuth
// flows live outside this repository.
package credentials

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

// ErrUnknownConnection is returned for a connection ID with no stored
// credential set.
var ErrUnknownConnection = errors.New("credentials: unknown connection")

// Reference points at a caller's stored credential set for one external
// account. The gateway passes it opaquely to brick clients; tokens never
// transit the gateway itself.
type Reference struct {
	ConnectionID string
	Provider     string
	AccountHint  string
	ExpiresAt    *time.Time
}

// Resolver maps connection IDs to credential references.
type Resolver interface {
	Resolve(ctx context.Context, connectionID string) (*Reference, error)
}

// SecretSource supplies the shared HMAC secret.
type SecretSource interface {
	Secret() (string, error)
}

// EnvSecretSource reads the secret from an environment variable.
type EnvSecretSource struct {
	Var string
}

// Secret returns the secret or an error if the variable is unset.
func (s EnvSecretSource) Secret() (string, error) {
	v := os.Getenv(s.Var)
	if v == "" {
		return "", errors.New("credentials: " + s.Var + " is not set")
	}
	return v, nil
}

// StaticResolver serves references from a fixed map; used for tests and
// single-tenant deployments where connections are provisioned out of
// band.
type StaticResolver struct {
	mu   sync.RWMutex
	refs map[string]*Reference
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{refs: make(map[string]*Reference)}
}

// Add registers a reference.
func (r *StaticResolver) Add(ref *Reference) {
	r.mu.Lock()
	r.refs[ref.ConnectionID] = ref
	r.mu.Unlock()
}

// Resolve looks up a connection ID.
func (r *StaticResolver) Resolve(ctx context.Context, connectionID string) (*Reference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.refs[connectionID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	return ref, nil
}
