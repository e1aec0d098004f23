package brick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfoundry/gateway/pkg/api"
)

func noopHandler(ctx context.Context, params map[string]any) (any, error) {
	return "done", nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{
		Name:    "gmail.send_email",
		Version: "1.1.0",
		Handler: HandlerFunc(noopHandler),
	}))

	desc, ok := r.Get("gmail.send_email")
	require.True(t, ok)
	assert.Equal(t, "1.1.0", desc.Version)

	_, ok = r.Get("gmail.delete_everything")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{Name: "b", Version: "1.0.0", Handler: HandlerFunc(noopHandler)}
	require.NoError(t, r.Register(desc))

	err := r.Register(desc)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistryValidatesDescriptor(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(Descriptor{Name: "", Version: "1.0.0", Handler: HandlerFunc(noopHandler)}))
	assert.Error(t, r.Register(Descriptor{Name: "b", Version: "not-semver", Handler: HandlerFunc(noopHandler)}))
	assert.Error(t, r.Register(Descriptor{Name: "b", Version: "1.0.0", Handler: nil}))
}

func TestRegistryListIsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c.z", "a.a", "b.m"} {
		require.NoError(t, r.Register(Descriptor{Name: name, Version: "1.0.0", Handler: HandlerFunc(noopHandler)}))
	}

	var names []string
	for _, desc := range r.List() {
		names = append(names, desc.Name)
	}
	assert.Equal(t, []string{"a.a", "b.m", "c.z"}, names)
}

func TestDispatchUnknownBrick(t *testing.T) {
	d := NewDispatcher(NewRegistry(), time.Second)

	_, _, err := d.Dispatch(context.Background(), "nope.nothing", nil, Meta{})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeUnknownBrick, apiErr.Code)
}

func TestDispatchPassesMeta(t *testing.T) {
	r := NewRegistry()
	var got Meta
	require.NoError(t, r.Register(Descriptor{
		Name:    "echo.meta",
		Version: "1.0.0",
		Handler: HandlerFunc(func(ctx context.Context, params map[string]any) (any, error) {
			got = MetaFrom(ctx)
			return nil, nil
		}),
	}))

	d := NewDispatcher(r, time.Second)
	_, desc, err := d.Dispatch(context.Background(), "echo.meta", nil, Meta{
		RequestID:    "req-1",
		ConnectionID: "conn-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", desc.Version)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "conn-1", got.ConnectionID)
}

func TestDispatchTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{
		Name:    "slow.brick",
		Version: "1.0.0",
		Handler: HandlerFunc(func(ctx context.Context, params map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}))

	d := NewDispatcher(r, 20*time.Millisecond)
	_, _, err := d.Dispatch(context.Background(), "slow.brick", nil, Meta{})

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeTimeout, apiErr.Code)
	assert.True(t, apiErr.Retryable)
}

func TestDispatchHandlerErrorPassesThrough(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{
		Name:    "failing.brick",
		Version: "2.0.0",
		Handler: HandlerFunc(func(ctx context.Context, params map[string]any) (any, error) {
			return nil, api.NewError(api.CodeUpstream5xx, "provider returned 503")
		}),
	}))

	d := NewDispatcher(r, time.Second)
	_, desc, err := d.Dispatch(context.Background(), "failing.brick", nil, Meta{})
	assert.Equal(t, "2.0.0", desc.Version)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeUpstream5xx, apiErr.Code)
}
