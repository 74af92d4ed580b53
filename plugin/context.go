package plugin

import (
	"context"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Response is an alias so plugin authors need not import transport
// directly for the common case.
type Response = transport.Response

// Context is the per-operation record threaded through the middleware
// chain (spec §3.1 "Plugin context"). A Context must not be shared across
// operations: the read/write/pages controllers mint a fresh one per
// operation via Executor.CreateContext.
type Context struct {
	OperationType    OperationType
	Path             string
	Method           string
	QueryKey         string
	Tags             []string
	RequestTimestamp int64

	// Request is mutated by middleware (headers, query, params, body)
	// before the terminal fetch call.
	Request *transport.Request

	// Ctx carries the per-operation cancellation signal — the Go
	// rendering of an AbortSignal threaded through context.request.signal.
	Ctx context.Context

	// Temp is a scratch map local to this operation; middleware and
	// afterResponse callbacks may stash intermediate values here (e.g. an
	// optimistic-update rollback snapshot).
	Temp map[string]any

	// PluginOptions holds the per-operation options resolved by
	// projecting the caller's options through each participating
	// plugin's declared option schema.
	PluginOptions map[string]any

	Store *cachestore.Store
	Bus   *eventbus.Bus

	// ForceRefetch signals that cache-aware plugins (e.g. a
	// response-cache middleware) should bypass any memoized shortcut and
	// always call through to the terminal fetch.
	ForceRefetch bool
}

// Next is the continuation a middleware calls to proceed to the next
// plugin (or, for the innermost middleware, to the terminal fetch).
type Next func(ctx *Context) Response

// Middleware wraps Next with enter/exit behavior, producing the "onion"
// execution model of spec §4.4.
type Middleware func(ctx *Context, next Next) Response
