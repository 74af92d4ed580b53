// Package client wires the fingerprint builder, event bus, cache store, and
// plugin executor into a single per-application instance (spec §6.2), and
// exposes convenience constructors for the three controller kinds.
package client

import (
	"log/slog"
	"sync"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/mutation"
	"github.com/gocodealone-labs/dataclient/pagequery"
	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/query"
	"github.com/gocodealone-labs/dataclient/requestutil"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Config is the client construction descriptor (spec §6.2).
type Config struct {
	BaseURL               string
	DefaultRequestOptions requestutil.RequestOptions
	Plugins               []plugin.Plugin

	// FetchFunc is the transport seam. A nil FetchFunc builds
	// transport.Default(DefaultConfig{BaseURL}) lazily.
	FetchFunc transport.FetchFunc

	Logger      *slog.Logger
	Diagnostics bool
}

// Client is a per-application instance: one cache, one event bus, one
// plugin executor. Construction is cheap; the underlying instance
// materializes lazily on first access (spec §6.2 "accessing api /
// stateManager / eventEmitter lazily materializes the instance").
type Client struct {
	cfg Config

	once     sync.Once
	bus      *eventbus.Bus
	store    *cachestore.Store
	executor *plugin.Executor
	fetchFn  transport.FetchFunc
}

// New constructs a Client. No cache, bus, or executor is built until the
// first controller is created or an accessor is called.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Use returns a new Client with its plugin list replaced; registration
// order is preserved. The receiver is left untouched — Use never mutates
// an already-materialized instance, since doing so out from under live
// controllers would violate the "context must not be shared" invariant.
func (c *Client) Use(plugins ...plugin.Plugin) *Client {
	next := c.cfg
	next.Plugins = append([]plugin.Plugin(nil), plugins...)
	return New(next)
}

func (c *Client) ensure() {
	c.once.Do(func() {
		c.bus = eventbus.New()
		c.store = cachestore.New(c.bus)

		c.fetchFn = c.cfg.FetchFunc
		if c.fetchFn == nil {
			c.fetchFn = transport.Default(transport.DefaultConfig{BaseURL: c.cfg.BaseURL})
		}

		c.executor = plugin.NewExecutor(c.cfg.Plugins, c.store, c.bus, c.fetchFn)
		if c.cfg.Logger != nil {
			c.executor.SetLogger(c.cfg.Logger)
		}
		c.executor.SetDiagnostics(c.cfg.Diagnostics)
	})
}

// Store returns the cache store, materializing the instance if needed.
func (c *Client) Store() *cachestore.Store {
	c.ensure()
	return c.store
}

// Bus returns the event bus, materializing the instance if needed.
func (c *Client) Bus() *eventbus.Bus {
	c.ensure()
	return c.bus
}

// Executor returns the plugin executor, materializing the instance if
// needed.
func (c *Client) Executor() *plugin.Executor {
	c.ensure()
	return c.executor
}

// FetchFunc returns the resolved transport, materializing the instance if
// needed.
func (c *Client) FetchFunc() transport.FetchFunc {
	c.ensure()
	return c.fetchFn
}

// InstanceAPI returns the merged per-client API surface contributed by
// every registered InstanceAPIPlugin (spec §4.4 "instance API").
func (c *Client) InstanceAPI() map[string]any {
	c.ensure()
	return c.executor.InstanceAPI()
}

// ClearCache removes every cache entry. Intended for test isolation (spec
// §9).
func (c *Client) ClearCache() {
	c.ensure()
	c.store.ClearCache()
}

// withDefaults layers cfg's DefaultRequestOptions under a controller
// config's own params/query/body using the paginated controller's
// shallow-merge rule. NewQuery and NewPageQuery apply it; NewMutation does
// not, so write controllers do not receive DefaultRequestOptions.
func (c *Client) withDefaults(override requestutil.RequestOptions) requestutil.RequestOptions {
	return requestutil.ShallowMerge(c.cfg.DefaultRequestOptions, override)
}

// NewQuery constructs a read controller (component E) bound to this
// client's store, bus, executor, and transport.
func (c *Client) NewQuery(cfg query.Config) *query.Controller {
	c.ensure()
	merged := c.withDefaults(requestutil.RequestOptions{Params: cfg.Params, Query: cfg.Query, Body: cfg.Body})
	cfg.Params, cfg.Query, cfg.Body = merged.Params, merged.Query, merged.Body
	return query.New(c.executor, c.store, c.bus, c.fetchFn, cfg)
}

// NewMutation constructs a write controller (component F).
func (c *Client) NewMutation(cfg mutation.Config) *mutation.Controller {
	c.ensure()
	return mutation.New(c.executor, c.store, c.fetchFn, cfg)
}

// NewPageQuery constructs a paginated-read controller (component G).
func (c *Client) NewPageQuery(cfg pagequery.Config) *pagequery.Controller {
	c.ensure()
	cfg.InitialRequest = c.withDefaults(cfg.InitialRequest)
	return pagequery.New(c.executor, c.store, c.bus, c.fetchFn, cfg)
}
