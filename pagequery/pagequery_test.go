package pagequery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/requestutil"
	"github.com/gocodealone-labs/dataclient/transport"
)

type fakePage struct {
	HasMore    bool
	NextCursor string
	Items      []string
}

func waitFor(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition")
}

func newFixture(fetch transport.FetchFunc) (*Controller, *cachestore.Store) {
	bus := eventbus.New()
	store := cachestore.New(bus)
	exec := plugin.NewExecutor(nil, store, bus, nil)

	cfg := Config{
		Path:           []string{"posts"},
		Method:         "GET",
		InitialRequest: requestutil.RequestOptions{Query: map[string]string{"limit": "2"}},
		CanFetchNext: func(ctx PageContext) bool {
			if ctx.LastPage == nil {
				return false
			}
			fp, ok := ctx.LastPage.Data.(fakePage)
			return ok && fp.HasMore
		},
		NextPageRequest: func(ctx PageContext) requestutil.RequestOptions {
			fp := ctx.LastPage.Data.(fakePage)
			return requestutil.RequestOptions{Query: map[string]string{"cursor": fp.NextCursor}}
		},
		Merger: func(pages []Page) any {
			var all []string
			for _, p := range pages {
				if fp, ok := p.Data.(fakePage); ok {
					all = append(all, fp.Items...)
				}
			}
			return all
		},
	}
	return New(exec, store, bus, fetch, cfg), store
}

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
func (s *updateSpy) Operations() []plugin.OperationType { return []plugin.OperationType{plugin.Pages} }
func (s *updateSpy) OnMount(ctx *plugin.Context)        {}
func (s *updateSpy) OnUnmount(ctx *plugin.Context)      {}
func (s *updateSpy) OnUpdate(ctx, previous *plugin.Context) {
	s.calls = append(s.calls, updateCall{currentOptions: ctx.PluginOptions, previousOptions: previous.PluginOptions})
}

func TestSetPluginOptions_DispatchesOnUpdate(t *testing.T) {
	spy := &updateSpy{}
	fetch := func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200, Data: fakePage{Items: []string{"a"}}}
	}

	bus := eventbus.New()
	store := cachestore.New(bus)
	exec := plugin.NewExecutor([]plugin.Plugin{spy}, store, bus, nil)
	cfg := Config{Path: []string{"posts"}, Method: "GET"}
	ctrl := New(exec, store, bus, fetch, cfg)

	require.NoError(t, ctrl.Mount())
	defer ctrl.Unmount()
	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 1 })

	ctrl.SetPluginOptions(map[string]any{"pageSize": 50})

	require.Len(t, spy.calls, 1)
	assert.Nil(t, spy.calls[0].previousOptions["pageSize"])
	assert.Equal(t, 50, spy.calls[0].currentOptions["pageSize"])
}

func TestFetchNext_AppendsPagesInOrder(t *testing.T) {
	call := 0
	fetch := func(ctx context.Context, req *transport.Request) transport.Response {
		call++
		cursor := req.Query["cursor"]
		switch cursor {
		case "":
			return transport.Response{Status: 200, Data: fakePage{HasMore: true, NextCursor: "c1", Items: []string{"a", "b"}}}
		case "c1":
			return transport.Response{Status: 200, Data: fakePage{HasMore: false, Items: []string{"c", "d"}}}
		default:
			return transport.Response{Status: 200, Data: fakePage{}}
		}
	}

	ctrl, _ := newFixture(fetch)
	require.NoError(t, ctrl.Mount())
	defer ctrl.Unmount()

	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 1 })

	f := ctrl.FetchNext()
	require.NotNil(t, f)
	_, ok := f.Wait(context.Background())
	require.True(t, ok)

	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 2 })

	state := ctrl.GetState()
	require.Len(t, state.Pages, 2)
	assert.Equal(t, []string{"a", "b", "c", "d"}, state.Data)
	assert.False(t, state.CanNext)

	assert.Equal(t, 2, call)
}

func TestFetchNext_NoopWhenCanFetchNextDeclines(t *testing.T) {
	fetch := func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200, Data: fakePage{HasMore: false, Items: []string{"a"}}}
	}
	ctrl, _ := newFixture(fetch)
	require.NoError(t, ctrl.Mount())
	defer ctrl.Unmount()

	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 1 })

	f := ctrl.FetchNext()
	assert.Nil(t, f)
	assert.Len(t, ctrl.GetState().Pages, 1)
}

func TestTrigger_ClearsPagesAndRefetchesFirst(t *testing.T) {
	var cursor string
	fetch := func(ctx context.Context, req *transport.Request) transport.Response {
		c := req.Query["cursor"]
		if c == "" {
			return transport.Response{Status: 200, Data: fakePage{HasMore: true, NextCursor: fmt.Sprintf("c-%s", cursor), Items: []string{"x"}}}
		}
		return transport.Response{Status: 200, Data: fakePage{Items: []string{"y"}}}
	}

	ctrl, store := newFixture(fetch)
	require.NoError(t, ctrl.Mount())
	defer ctrl.Unmount()

	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 1 })
	ctrl.FetchNext()
	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 2 })

	keysBefore := ctrl.pageKeys
	future := ctrl.Trigger(nil)
	require.NotNil(t, future)
	_, ok := future.Wait(context.Background())
	require.True(t, ok)

	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 1 })
	assert.NotEqual(t, keysBefore, ctrl.pageKeys)
	for _, k := range keysBefore {
		if k != ctrl.pageKeys[0] {
			assert.Nil(t, store.Get(k))
		}
	}
}

func TestTrigger_ForceFalseDoesNotClearPages(t *testing.T) {
	fetch := func(ctx context.Context, req *transport.Request) transport.Response {
		return transport.Response{Status: 200, Data: fakePage{HasMore: true, NextCursor: "c1", Items: []string{"a"}}}
	}
	ctrl, _ := newFixture(fetch)
	require.NoError(t, ctrl.Mount())
	defer ctrl.Unmount()

	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 1 })
	ctrl.FetchNext()
	waitFor(t, time.Second, func() bool { return len(ctrl.GetState().Pages) == 2 })

	force := false
	result := ctrl.Trigger(&TriggerOptions{Force: &force})
	assert.Nil(t, result)
	assert.Len(t, ctrl.GetState().Pages, 2)
}
