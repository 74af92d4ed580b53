// Package ratelimit throttles outgoing operations with a token-bucket
// limiter. A call waits for a token; it resolves to aborted instead if its
// context is cancelled, or its deadline would pass, before a token arrives.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Plugin wraps the middleware chain with a shared rate.Limiter.
type Plugin struct {
	limiter *rate.Limiter
	ops     []plugin.OperationType
}

// New builds a Plugin enforcing r events/sec with burst capacity b.
func New(r rate.Limit, b int, ops ...plugin.OperationType) *Plugin {
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}
	}
	return &Plugin{limiter: rate.NewLimiter(r, b), ops: ops}
}

func (p *Plugin) Name() string                      { return "ratelimit" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

// Middleware waits for a token before calling next. If ctx.Ctx is
// cancelled while waiting, the operation resolves to the canonical
// aborted response rather than propagating the wait error.
func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		runCtx := ctx.Ctx
		if runCtx == nil {
			runCtx = context.Background()
		}
		if err := p.limiter.Wait(runCtx); err != nil {
			return transport.Aborted()
		}
		return next(ctx)
	}
}
