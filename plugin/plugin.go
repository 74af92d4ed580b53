// Package plugin implements the plugin executor (component D): plugin
// registration, the onion middleware chain, lifecycle dispatch, response
// callbacks, and per-client instance APIs.
package plugin

import (
	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/transport"
)

// OperationType identifies which of the three controller kinds an
// operation belongs to.
type OperationType string

const (
	Read  OperationType = "read"
	Write OperationType = "write"
	Pages OperationType = "pages"
)

// Plugin is the shape every concrete plugin implements: a unique,
// namespaced name and the set of operation types it participates in.
// Everything else (middleware, lifecycle, afterResponse, instance API,
// default options) is opt-in via the narrower interfaces below — a Go
// rendering of spec §4.4's "zero or more of" plugin capabilities.
type Plugin interface {
	Name() string
	Operations() []OperationType
}

// Participates reports whether p declared op in its Operations().
func Participates(p Plugin, op OperationType) bool {
	for _, o := range p.Operations() {
		if o == op {
			return true
		}
	}
	return false
}

// MiddlewarePlugin is implemented by plugins that wrap the terminal fetch.
type MiddlewarePlugin interface {
	Plugin
	Middleware() Middleware
}

// AfterResponsePlugin is implemented by plugins that observe the final
// response after the middleware chain settles. The controllers call it
// after they have written the response's terminal state.
type AfterResponsePlugin interface {
	Plugin
	AfterResponse(ctx *Context, resp Response)
}

// LifecyclePlugin is implemented by plugins that own per-key resources
// (timers, listeners) tied to a controller's mount/unmount/update cycle.
type LifecyclePlugin interface {
	Plugin
	OnMount(ctx *Context)
	OnUnmount(ctx *Context)
	OnUpdate(ctx, previous *Context)
}

// OptionSchemaPlugin is implemented by plugins that declare default
// per-operation options, merged into PluginOptions at context creation.
type OptionSchemaPlugin interface {
	Plugin
	DefaultOptions() map[string]any
}

// InstanceDeps is handed to InstanceAPIPlugin.InstanceAPI once per client
// construction.
type InstanceDeps struct {
	Store     *cachestore.Store
	Bus       *eventbus.Bus
	Executor  *Executor
	FetchFunc transport.FetchFunc
}

// InstanceAPIPlugin is implemented by plugins that expose callable methods
// merged into the client surface (e.g. the GC plugin's runGc/start/stop,
// the prefetch plugin's prefetch).
type InstanceAPIPlugin interface {
	Plugin
	InstanceAPI(deps InstanceDeps) map[string]any
}
