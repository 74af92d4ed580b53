package mutation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/transport"
)

func newFixture(t *testing.T, fetch transport.FetchFunc, cfg Config) (*Controller, *cachestore.Store) {
	t.Helper()
	bus := eventbus.New()
	store := cachestore.New(bus)
	exec := plugin.NewExecutor(nil, store, bus, nil)
	return New(exec, store, fetch, cfg), store
}

func boolPtr(b bool) *bool { return &b }

// updateSpy is a minimal LifecyclePlugin recording the (current, previous)
// pair OnUpdate is called with, so tests can assert the onUpdate lifecycle
// is actually reached through a controller operation.
type updateSpy struct {
	calls []updateCall
}

type updateCall struct {
	currentOptions, previousOptions map[string]any
}

func (s *updateSpy) Name() string                       { return "update-spy" }
func (s *updateSpy) Operations() []plugin.OperationType { return []plugin.OperationType{plugin.Write} }
func (s *updateSpy) OnMount(ctx *plugin.Context)        {}
func (s *updateSpy) OnUnmount(ctx *plugin.Context)      {}
func (s *updateSpy) OnUpdate(ctx, previous *plugin.Context) {
	s.calls = append(s.calls, updateCall{currentOptions: ctx.PluginOptions, previousOptions: previous.PluginOptions})
}

func TestSetPluginOptions_DispatchesOnUpdate(t *testing.T) {
	spy := &updateSpy{}
	bus := eventbus.New()
	store := cachestore.New(bus)
	exec := plugin.NewExecutor([]plugin.Plugin{spy}, store, bus, nil)
	ctrl := New(exec, store, func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200, Data: "ok"}
	}, Config{Path: []string{"posts"}, Method: "POST"})

	ctrl.SetPluginOptions(map[string]any{"idempotencyKey": "abc"})

	require.Len(t, spy.calls, 1)
	assert.Nil(t, spy.calls[0].previousOptions["idempotencyKey"])
	assert.Equal(t, "abc", spy.calls[0].currentOptions["idempotencyKey"])
}

func TestTrigger_Success_AutoInvalidatesAll(t *testing.T) {
	var invalidated []string
	bus := eventbus.New()
	bus.On(eventbus.EventInvalidate, func(payload any) {
		p := payload.(eventbus.InvalidatePayload)
		invalidated = append(invalidated, p.Tags...)
	})
	store := cachestore.New(bus)
	exec := plugin.NewExecutor(nil, store, bus, nil)

	ctrl := New(exec, store, func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 201, Data: map[string]any{"id": 1}}
	}, Config{Path: []string{"posts"}, Method: "POST", AutoInvalidate: InvalidateAll})

	resp, err := ctrl.Trigger(nil)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, []string{"posts"}, invalidated)
}

func TestTrigger_OptimisticImmediate_CommitsOnSuccess(t *testing.T) {
	_, store := newFixture(t, nil, Config{})
	store.SetCache("posts", cachestore.Partial{State: &cachestore.StatePartial{Data: ptr[any]([]string{"A"})}})

	exec := plugin.NewExecutor(nil, store, nil, nil)
	ctrl := New(exec, store, func(ctx context.Context, req *transport.Request) transport.Response {
		entry := store.Get("posts")
		assert.Equal(t, []string{"A", "B"}, entry.State.Data)
		assert.Equal(t, true, entry.Meta["isOptimistic"])
		return transport.Response{Status: 200, Data: "ok"}
	}, Config{
		Path: []string{"posts"},
		Optimistic: func(body any) []OptimisticSpec {
			return []OptimisticSpec{{
				ForKey: "posts",
				Updater: func(cur any) any {
					return append(append([]string{}, cur.([]string)...), "B")
				},
			}}
		},
	})

	_, err := ctrl.Trigger(nil)
	require.NoError(t, err)

	entry := store.Get("posts")
	assert.Equal(t, []string{"A", "B"}, entry.State.Data)
	assert.Equal(t, false, entry.Meta["isOptimistic"])
}

func TestTrigger_OptimisticImmediate_RollsBackOnError(t *testing.T) {
	_, store := newFixture(t, nil, Config{})
	store.SetCache("posts", cachestore.Partial{State: &cachestore.StatePartial{Data: ptr[any]([]string{"A"})}})

	exec := plugin.NewExecutor(nil, store, nil, nil)
	ctrl := New(exec, store, func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 500, Error: "boom"}
	}, Config{
		Path: []string{"posts"},
		Optimistic: func(body any) []OptimisticSpec {
			return []OptimisticSpec{{
				ForKey:          "posts",
				RollbackOnError: boolPtr(true),
				Updater: func(cur any) any {
					return append(append([]string{}, cur.([]string)...), "B")
				},
			}}
		},
	})

	resp, err := ctrl.Trigger(nil)
	require.NoError(t, err)
	assert.Equal(t, "boom", resp.Error)

	entry := store.Get("posts")
	assert.Equal(t, []string{"A"}, entry.State.Data)
	assert.Equal(t, false, entry.Meta["isOptimistic"])
}

func TestTrigger_MissingPathParameter_ReturnsError(t *testing.T) {
	ctrl, _ := newFixture(t, func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200}
	}, Config{Path: []string{"posts", ":id"}, Method: "DELETE"})

	_, err := ctrl.Trigger(nil)
	assert.Error(t, err)
}

func TestTrigger_SuppressedTagNotInvalidated(t *testing.T) {
	var invalidated []string
	bus := eventbus.New()
	bus.On(eventbus.EventInvalidate, func(payload any) {
		p := payload.(eventbus.InvalidatePayload)
		invalidated = append(invalidated, p.Tags...)
	})
	store := cachestore.New(bus)
	store.SetCache("k1", cachestore.Partial{Tags: []string{"suppressed"}})
	exec := plugin.NewExecutor(nil, store, bus, nil)

	ctrl := New(exec, store, func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200, Data: "ok"}
	}, Config{
		Path:           []string{"posts"},
		AutoInvalidate: InvalidateAll,
		Invalidate:     []string{"suppressed"},
		Optimistic: func(body any) []OptimisticSpec {
			return []OptimisticSpec{{
				ForKey:  "k1",
				Refetch: boolPtr(false),
				Updater: func(cur any) any { return "x" },
			}}
		},
	})

	_, err := ctrl.Trigger(nil)
	require.NoError(t, err)
	assert.NotContains(t, invalidated, "suppressed")
	assert.Contains(t, invalidated, "posts")
}

func TestTrigger_InvalidateSelf_OnlyAffectsSelfTaggedEntries(t *testing.T) {
	bus := eventbus.New()
	store := cachestore.New(bus)
	store.SetCache("posts/1", cachestore.Partial{Tags: []string{"posts", "posts/1"}})
	store.SetCache("posts/1/comments", cachestore.Partial{Tags: []string{"posts", "posts/1", "posts/1/comments"}})
	exec := plugin.NewExecutor(nil, store, bus, nil)

	ctrl := New(exec, store, func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200, Data: "ok"}
	}, Config{Path: []string{"posts", "1"}, Method: "PUT", AutoInvalidate: InvalidateSelf})

	_, err := ctrl.Trigger(nil)
	require.NoError(t, err)

	assert.True(t, store.Get("posts/1").Stale)
	assert.False(t, store.Get("posts/1/comments").Stale)
}

func ptr[T any](v T) *T { return &v }
