// Package query implements the read controller (component E): it
// orchestrates single-fingerprint reads — dedup via the shared pending
// promise, cache writes, subscriber fan-out, and refetch-on-invalidate.
package query

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/fingerprint"
	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/requestutil"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Config is the call-site-supplied descriptor for one read operation.
type Config struct {
	Path    []string
	Method  string
	Params  map[string]string
	Query   map[string]string
	Body    any
	Options map[string]any
	Tags    []string
	TagMode requestutil.TagMode

	// Disabled suppresses the automatic fetch Mount would otherwise start;
	// the zero value (false) matches spec §4.5's default-enabled behavior.
	Disabled bool

	// StaleTime is the age beyond which an entry is considered stale even
	// without an explicit invalidate.
	StaleTime time.Duration
}

// State is the derived, read-only view a controller publishes to its
// subscribers (spec §4.5 "derived state computation").
type State struct {
	Data     any
	Error    any
	Loading  bool
	Fetching bool
	Stale    bool
	Meta     map[string]any
}

// Controller is the per-call-site read coordinator. A Controller must be
// Mount-ed before use and Unmount-ed exactly once when the call site goes
// away.
type Controller struct {
	executor *plugin.Executor
	store    *cachestore.Store
	bus      *eventbus.Bus
	fetchFn  transport.FetchFunc

	mu           sync.Mutex
	cfg          Config
	resolvedPath string
	key          string
	tags         []string
	mounted      bool
	cancel       context.CancelFunc

	unsubCache func()
	unsubBus   func()

	nextSubID int
	subs      map[int]func(State)
}

// New constructs a Controller. It does not touch the cache or plugins until
// Mount is called.
func New(executor *plugin.Executor, store *cachestore.Store, bus *eventbus.Bus, fetchFn transport.FetchFunc, cfg Config) *Controller {
	return &Controller{
		executor: executor,
		store:    store,
		bus:      bus,
		fetchFn:  fetchFn,
		cfg:      cfg,
		subs:     make(map[int]func(State)),
	}
}

// Mount resolves the descriptor, runs onMount for participating plugins,
// subscribes to the cache entry and to bus refetch events for this key, and
// — unless Disabled — kicks off an initial fetch when no fetch has filled
// the entry yet or the entry is stale (flagged, or older than StaleTime).
// Mount has no force option; it always calls Fetch(false).
func (c *Controller) Mount() error {
	resolvedPath, err := requestutil.ResolvePath(strings.Join(c.cfg.Path, "/"), c.cfg.Params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.resolvedPath = resolvedPath
	segments := strings.Split(resolvedPath, "/")
	c.tags = requestutil.ResolveTags(c.cfg.Tags, c.cfg.TagMode, segments)
	c.key = c.executor.CreateQueryKey(fingerprint.CallDescriptor{
		Path:    resolvedPath,
		Method:  c.cfg.Method,
		Options: c.cfg.Options,
	})
	key := c.key
	c.mounted = true
	c.mu.Unlock()

	ctx := c.newPluginContext(context.Background(), false)
	c.executor.DispatchMount(ctx)

	c.unsubCache = c.store.SubscribeCache(key, c.notify)
	c.unsubBus = c.bus.On(eventbus.EventRefetch, func(payload any) {
		rp, ok := payload.(eventbus.RefetchPayload)
		if !ok || rp.QueryKey != key {
			return
		}
		c.Refetch(rp.Reason)
	})

	if c.cfg.Disabled {
		return nil
	}
	// SubscribeCache above already created an empty entry for a new key, so
	// an entry that no fetch has filled (zero Timestamp) counts as absent.
	entry := c.store.Get(key)
	if entry == nil || entry.State.Timestamp == 0 || entry.Stale || c.store.IsStale(key, c.cfg.StaleTime) {
		c.Fetch(false)
	}
	return nil
}

// Unmount runs onUnmount for participating plugins and releases both
// subscriptions. It does not abort any in-flight fetch: other controllers
// sharing the same key may still be awaiting it (spec §4.5).
func (c *Controller) Unmount() {
	ctx := c.newPluginContext(context.Background(), false)
	c.executor.DispatchUnmount(ctx)

	if c.unsubCache != nil {
		c.unsubCache()
	}
	if c.unsubBus != nil {
		c.unsubBus()
	}

	c.mu.Lock()
	c.mounted = false
	c.mu.Unlock()
}

// Fetch runs the read middleware chain and writes the terminal state to the
// cache. If a pending Future already exists for this key and force is
// false, that Future is returned unchanged (spec §4.5 dedup, testable
// property 2).
func (c *Controller) Fetch(force bool) *cachestore.Future {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	if !force {
		if f := c.store.GetPendingPromise(key); f != nil {
			return f
		}
	}

	future := cachestore.NewFuture()
	c.store.SetPendingPromise(key, future)

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	existing := c.store.Get(key)
	loading := existing == nil || existing.State.Data == nil
	fetching := true
	c.store.SetCache(key, cachestore.Partial{
		State: &cachestore.StatePartial{Loading: &loading, Fetching: &fetching, ClearErr: true},
	})

	pctx := c.newPluginContext(runCtx, force)

	go func() {
		resp := c.executor.ExecuteMiddleware(pctx, plugin.Terminal(c.fetchFn))
		c.settle(key, pctx, resp, future)
	}()

	return future
}

// Refetch sets the entry stale before requesting a forced fetch, so
// subscribers observe the stale transition ahead of the refetch (spec
// §4.5/§5 ordering guarantee 3).
func (c *Controller) Refetch(reason eventbus.RefetchReason) *cachestore.Future {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	stale := true
	c.store.SetCache(key, cachestore.Partial{Stale: &stale})
	return c.Fetch(true)
}

// Abort cancels the current in-flight fetch's context. The underlying
// Future resolves to an aborted response; the entry's data and error are
// left untouched and only its fetching/loading flags are cleared (spec
// §4.5/§5 cancellation policy).
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) settle(key string, pctx *plugin.Context, resp transport.Response, future *cachestore.Future) {
	defer future.Complete(resp)
	defer c.store.SetPendingPromise(key, nil)

	switch {
	case resp.Aborted:
		falseVal := false
		c.store.SetCache(key, cachestore.Partial{
			State: &cachestore.StatePartial{Fetching: &falseVal, Loading: &falseVal},
		})
	case resp.Error != nil:
		falseVal := false
		errVal := resp.Error
		c.store.SetCache(key, cachestore.Partial{
			State: &cachestore.StatePartial{Err: &errVal, Fetching: &falseVal, Loading: &falseVal},
		})
	default:
		falseVal := false
		data := resp.Data
		ts := time.Now().UnixMilli()
		staleVal := false
		c.mu.Lock()
		tags := c.tags
		c.mu.Unlock()
		c.store.SetCache(key, cachestore.Partial{
			State: &cachestore.StatePartial{Data: &data, ClearErr: true, Fetching: &falseVal, Loading: &falseVal, Timestamp: &ts},
			Tags:  tags,
			Stale: &staleVal,
		})
	}

	c.executor.DispatchAfterResponse(pctx, resp)
}

// Key returns the fingerprint this controller resolved to at Mount time.
func (c *Controller) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// GetState computes the current derived state as a pure function of the
// cache entry (spec §4.5).
func (c *Controller) GetState() State {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	entry := c.store.Get(key)
	if entry == nil {
		return State{Loading: true}
	}
	return State{
		Data:     entry.State.Data,
		Error:    entry.State.Err,
		Loading:  entry.State.Loading,
		Fetching: entry.State.Fetching,
		Stale:    entry.Stale,
		Meta:     entry.Meta,
	}
}

// Subscribe registers cb to be called with the latest derived state
// whenever the underlying cache entry changes. The returned function
// removes exactly this registration.
func (c *Controller) Subscribe(cb func(State)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = cb
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) notify() {
	state := c.GetState()
	c.mu.Lock()
	cbs := make([]func(State), 0, len(c.subs))
	for _, cb := range c.subs {
		cbs = append(cbs, cb)
	}
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(state)
	}
}

// GetContext returns the controller's current plugin.Context, recomputed
// fresh from its resolved path/key/tags/options (spec §6.3 getContext()).
func (c *Controller) GetContext() *plugin.Context {
	return c.newPluginContext(context.Background(), false)
}

// SetPluginOptions replaces the options fed into CreateContext's
// per-operation resolution (spec §6.3 setPluginOptions(opts)) and runs
// Update so participating plugins observe the change.
func (c *Controller) SetPluginOptions(opts map[string]any) {
	previous := c.GetContext()
	c.mu.Lock()
	c.cfg.Options = opts
	c.mu.Unlock()
	c.Update(previous)
}

// Update recomputes the controller's current context and dispatches
// onUpdate(current, previous) to every participating LifecyclePlugin (spec
// §4.4/§6.3), so a plugin owning per-key resources can release them for
// previous and acquire them for current. It does not itself resubscribe the
// controller to a different cache key; a change that alters the resolved
// query key requires Unmount followed by a fresh Mount.
func (c *Controller) Update(previous *plugin.Context) *plugin.Context {
	current := c.GetContext()
	c.executor.DispatchUpdate(current, previous)
	return current
}

func (c *Controller) newPluginContext(ctx context.Context, forceRefetch bool) *plugin.Context {
	c.mu.Lock()
	resolvedPath := c.resolvedPath
	key := c.key
	tags := c.tags
	req := &transport.Request{
		Method:  c.cfg.Method,
		Path:    resolvedPath,
		Query:   c.cfg.Query,
		Params:  c.cfg.Params,
		Headers: http.Header{},
	}
	resolved := requestutil.ResolveRequestBody(c.cfg.Body)
	req.Body = resolved.Body
	for hk, hv := range resolved.Headers {
		req.Headers.Set(hk, hv)
	}
	options := c.cfg.Options
	c.mu.Unlock()

	pctx := c.executor.CreateContext(plugin.ContextInput{
		OperationType:    plugin.Read,
		Path:             resolvedPath,
		Method:           c.cfg.Method,
		QueryKey:         key,
		Tags:             tags,
		RequestTimestamp: time.Now().UnixMilli(),
		Options:          options,
		ForceRefetch:     forceRefetch,
	}, req)
	pctx.Ctx = ctx
	return pctx
}
