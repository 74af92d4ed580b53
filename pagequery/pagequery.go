// Package pagequery implements the paginated-read controller (component
// G): an ordered list of page fingerprints, directional fetch, and a
// caller-supplied merger that folds the pages into one derived value.
package pagequery

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

// Page is one fetched page's cache-derived view.
type Page struct {
	Key   string
	Data  any
	Error any
}

// PageContext is handed to the caller-supplied predicate/generator
// callbacks (spec §4.7).
type PageContext struct {
	FirstPage *Page
	LastPage  *Page
	Pages     []Page
	Request   requestutil.RequestOptions
}

// Config is the call-site descriptor for a paginated read.
type Config struct {
	Path    []string
	Method  string
	Tags    []string
	TagMode requestutil.TagMode
	Options map[string]any

	InitialRequest requestutil.RequestOptions

	CanFetchNext    func(ctx PageContext) bool
	CanFetchPrev    func(ctx PageContext) bool
	NextPageRequest func(ctx PageContext) requestutil.RequestOptions
	PrevPageRequest func(ctx PageContext) requestutil.RequestOptions
	Merger          func(pages []Page) any
}

// TriggerOptions parameterizes Trigger. Force nil or true clears all
// accumulated pages and refetches page 0 from a freshly merged initial
// request; Force false only updates the baseline initial request used by
// subsequent fetchNext/fetchPrev calls and leaves accumulated pages as-is —
// the pinned resolution of spec §9's open question on trigger({force:false}).
type TriggerOptions struct {
	Request requestutil.RequestOptions
	Force   *bool
}

// State is the derived, read-only view published by GetState.
type State struct {
	Pages    []Page
	Data     any
	Error    any
	CanNext  bool
	CanPrev  bool
	Fetching bool
}

// Controller is the per-call-site paginated-read coordinator.
type Controller struct {
	executor *plugin.Executor
	store    *cachestore.Store
	bus      *eventbus.Bus
	fetchFn  transport.FetchFunc

	mu             sync.Mutex
	cfg            Config
	resolvedPath   string
	tags           []string
	initialRequest requestutil.RequestOptions
	pageKeys       []string
	pageRequests   map[string]requestutil.RequestOptions
	fetching       int
	cancel         context.CancelFunc
	unsubBus       func()
}

// New constructs a paginated Controller.
func New(executor *plugin.Executor, store *cachestore.Store, bus *eventbus.Bus, fetchFn transport.FetchFunc, cfg Config) *Controller {
	return &Controller{
		executor:       executor,
		store:          store,
		bus:            bus,
		fetchFn:        fetchFn,
		cfg:            cfg,
		initialRequest: cfg.InitialRequest,
		pageRequests:   make(map[string]requestutil.RequestOptions),
	}
}

// Mount resolves the descriptor, subscribes to invalidation of any
// accumulated page, and fetches the first page.
func (c *Controller) Mount() error {
	resolvedPath, err := requestutil.ResolvePath(strings.Join(c.cfg.Path, "/"), c.cfg.InitialRequest.Params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.resolvedPath = resolvedPath
	segments := strings.Split(resolvedPath, "/")
	c.tags = requestutil.ResolveTags(c.cfg.Tags, c.cfg.TagMode, segments)
	c.mu.Unlock()

	c.unsubBus = c.bus.On(eventbus.EventRefetch, func(payload any) {
		rp, ok := payload.(eventbus.RefetchPayload)
		if !ok {
			return
		}
		c.mu.Lock()
		matches := contains(c.pageKeys, rp.QueryKey)
		c.mu.Unlock()
		if matches {
			c.Trigger(nil)
		}
	})

	c.Trigger(nil)
	return nil
}

// Unmount releases the invalidation subscription. In-flight fetches are
// left to run: other controllers may be sharing their pending promises.
func (c *Controller) Unmount() {
	if c.unsubBus != nil {
		c.unsubBus()
	}
}

// lifecycleContext mints a plugin.Context scoped to the controller as a
// whole rather than to any single page fetch, mirroring mutation's
// lifecycleContext for a controller kind with no single resolved key.
func (c *Controller) lifecycleContext() *plugin.Context {
	c.mu.Lock()
	resolvedPath := c.resolvedPath
	tags := c.tags
	options := c.cfg.Options
	c.mu.Unlock()

	ctx := c.executor.CreateContext(plugin.ContextInput{
		OperationType: plugin.Pages,
		Path:          resolvedPath,
		Method:        c.cfg.Method,
		Tags:          tags,
		Options:       options,
	}, &transport.Request{Headers: http.Header{}})
	ctx.Ctx = context.Background()
	return ctx
}

// GetContext returns the controller's current plugin.Context (spec §6.3
// getContext()).
func (c *Controller) GetContext() *plugin.Context {
	return c.lifecycleContext()
}

// SetPluginOptions replaces the options fed into CreateContext's
// per-operation resolution for future page fetches (spec §6.3
// setPluginOptions(opts)) and runs Update so participating plugins observe
// the change.
func (c *Controller) SetPluginOptions(opts map[string]any) {
	previous := c.GetContext()
	c.mu.Lock()
	c.cfg.Options = opts
	c.mu.Unlock()
	c.Update(previous)
}

// Update recomputes the controller's current context and dispatches
// onUpdate(current, previous) to every participating LifecyclePlugin (spec
// §4.4/§6.3). It does not itself refetch or drop accumulated pages; a
// change that should invalidate existing pages belongs in Trigger.
func (c *Controller) Update(previous *plugin.Context) *plugin.Context {
	current := c.GetContext()
	c.executor.DispatchUpdate(current, previous)
	return current
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Trigger clears pages and refetches page 0 (Force nil/true), or just
// rebases the initial request for future fetchNext/fetchPrev calls
// (Force false, per the pinned open-question resolution).
func (c *Controller) Trigger(opts *TriggerOptions) *cachestore.Future {
	var overrides requestutil.RequestOptions
	force := true
	if opts != nil {
		overrides = opts.Request
		if opts.Force != nil {
			force = *opts.Force
		}
	}

	c.mu.Lock()
	merged := requestutil.ShallowMerge(c.initialRequest, overrides)
	c.initialRequest = merged

	if !force {
		c.mu.Unlock()
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	oldKeys := c.pageKeys
	c.pageKeys = nil
	c.pageRequests = make(map[string]requestutil.RequestOptions)
	c.mu.Unlock()

	for _, k := range oldKeys {
		c.store.DeleteCache(k)
	}

	key := c.keyFor(merged)
	return c.fetchPage(key, merged, appendPage)
}

type pagePosition int

const (
	appendPage pagePosition = iota
	prependPage
)

// FetchNext computes the merged request via NextPageRequest, checks
// CanFetchNext, and — if it returns true — fetches and appends the page.
// It returns nil if CanFetchNext declines or no NextPageRequest/CanFetchNext
// callback was supplied.
func (c *Controller) FetchNext() *cachestore.Future {
	if c.cfg.CanFetchNext == nil || c.cfg.NextPageRequest == nil {
		return nil
	}
	ctx := c.pageContext()
	if !c.cfg.CanFetchNext(ctx) {
		return nil
	}
	partial := c.cfg.NextPageRequest(ctx)
	merged := requestutil.ShallowMerge(ctx.Request, partial)
	key := c.keyFor(merged)
	return c.fetchPage(key, merged, appendPage)
}

// FetchPrev is FetchNext's mirror for the head of the page list.
func (c *Controller) FetchPrev() *cachestore.Future {
	if c.cfg.CanFetchPrev == nil || c.cfg.PrevPageRequest == nil {
		return nil
	}
	ctx := c.pageContext()
	if !c.cfg.CanFetchPrev(ctx) {
		return nil
	}
	partial := c.cfg.PrevPageRequest(ctx)
	merged := requestutil.ShallowMerge(ctx.Request, partial)
	key := c.keyFor(merged)
	return c.fetchPage(key, merged, prependPage)
}

// Abort cancels the current in-flight fetch, if any.
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) keyFor(req requestutil.RequestOptions) string {
	c.mu.Lock()
	resolvedPath := c.resolvedPath
	options := c.cfg.Options
	c.mu.Unlock()

	merged := map[string]any{"query": req.Query, "params": req.Params, "body": req.Body}
	for k, v := range options {
		merged[k] = v
	}
	return c.executor.CreateQueryKey(fingerprint.CallDescriptor{Path: resolvedPath, Method: c.cfg.Method, Options: merged})
}

func (c *Controller) fetchPage(key string, req requestutil.RequestOptions, pos pagePosition) *cachestore.Future {
	if f := c.store.GetPendingPromise(key); f != nil {
		return f
	}

	future := cachestore.NewFuture()
	c.store.SetPendingPromise(key, future)

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.fetching++
	resolvedPath := c.resolvedPath
	tags := c.tags
	c.mu.Unlock()

	resolvedBody := requestutil.ResolveRequestBody(req.Body)
	headers := http.Header{}
	for hk, hv := range resolvedBody.Headers {
		headers.Set(hk, hv)
	}
	transportReq := &transport.Request{
		Method:  c.cfg.Method,
		Path:    resolvedPath,
		Query:   req.Query,
		Params:  req.Params,
		Body:    resolvedBody.Body,
		Headers: headers,
	}

	pctx := c.executor.CreateContext(plugin.ContextInput{
		OperationType:    plugin.Pages,
		Path:             resolvedPath,
		Method:           c.cfg.Method,
		QueryKey:         key,
		Tags:             tags,
		RequestTimestamp: time.Now().UnixMilli(),
		Options:          c.cfg.Options,
	}, transportReq)
	pctx.Ctx = runCtx

	go func() {
		resp := c.executor.ExecuteMiddleware(pctx, plugin.Terminal(c.fetchFn))
		c.settle(key, req, pos, pctx, resp, future)
	}()

	return future
}

func (c *Controller) settle(key string, req requestutil.RequestOptions, pos pagePosition, pctx *plugin.Context, resp transport.Response, future *cachestore.Future) {
	defer future.Complete(resp)
	defer c.store.SetPendingPromise(key, nil)
	defer func() {
		c.mu.Lock()
		c.fetching--
		c.mu.Unlock()
	}()

	if !resp.Aborted {
		falseVal := false
		switch {
		case resp.Error != nil:
			errVal := resp.Error
			c.store.SetCache(key, cachestore.Partial{State: &cachestore.StatePartial{Err: &errVal, Fetching: &falseVal, Loading: &falseVal}})
		default:
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

		c.mu.Lock()
		if !contains(c.pageKeys, key) {
			if pos == prependPage {
				c.pageKeys = append([]string{key}, c.pageKeys...)
			} else {
				c.pageKeys = append(c.pageKeys, key)
			}
		}
		c.pageRequests[key] = req
		c.mu.Unlock()
	}

	c.executor.DispatchAfterResponse(pctx, resp)
}

func (c *Controller) pageContext() PageContext {
	c.mu.Lock()
	keys := append([]string(nil), c.pageKeys...)
	req := c.initialRequest
	c.mu.Unlock()

	pages := make([]Page, 0, len(keys))
	for _, k := range keys {
		e := c.store.Get(k)
		if e == nil {
			continue
		}
		pages = append(pages, Page{Key: k, Data: e.State.Data, Error: e.State.Err})
	}

	ctx := PageContext{Pages: pages, Request: req}
	if len(pages) > 0 {
		ctx.FirstPage = &pages[0]
		ctx.LastPage = &pages[len(pages)-1]
	}
	return ctx
}

// GetState computes the derived pages/data/error/canFetchNext/canFetchPrev
// view (spec §4.7).
func (c *Controller) GetState() State {
	ctx := c.pageContext()

	var data any
	if c.cfg.Merger != nil {
		data = c.cfg.Merger(ctx.Pages)
	}

	var latestErr any
	for i := len(ctx.Pages) - 1; i >= 0; i-- {
		if ctx.Pages[i].Error != nil {
			latestErr = ctx.Pages[i].Error
			break
		}
	}

	canNext := c.cfg.CanFetchNext != nil && c.cfg.CanFetchNext(ctx)
	canPrev := c.cfg.CanFetchPrev != nil && c.cfg.CanFetchPrev(ctx)

	c.mu.Lock()
	fetching := c.fetching > 0
	c.mu.Unlock()

	return State{
		Pages:    ctx.Pages,
		Data:     data,
		Error:    latestErr,
		CanNext:  canNext,
		CanPrev:  canPrev,
		Fetching: fetching,
	}
}
