// Package requestid stamps every operation with a unique identifier,
// threaded through the request headers and the plugin context's temp map
// so downstream middleware (logging, tracing) can correlate a single
// operation's enter/exit pairs.
package requestid

import (
	"github.com/google/uuid"

	"github.com/gocodealone-labs/dataclient/plugin"
)

const (
	// HeaderName is the outbound header carrying the generated ID.
	HeaderName = "X-Request-Id"
	// TempKey is the plugin.Context.Temp key other plugins read the ID from.
	TempKey = "requestid"
)

// Plugin assigns a fresh uuid.New() to every read/write/pages operation.
type Plugin struct {
	ops []plugin.OperationType
}

// New returns a Plugin participating in the given operation types. An empty
// ops list participates in all three.
func New(ops ...plugin.OperationType) *Plugin {
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}
	}
	return &Plugin{ops: ops}
}

func (p *Plugin) Name() string                     { return "requestid" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

// Middleware generates the ID before calling next, so every later
// middleware and the terminal fetch observe it.
func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		id := uuid.New().String()
		ctx.Temp[TempKey] = id
		if ctx.Request != nil {
			if ctx.Request.Headers == nil {
				ctx.Request.Headers = make(map[string][]string)
			}
			ctx.Request.Headers.Set(HeaderName, id)
		}
		return next(ctx)
	}
}
