package plugin

import (
	"context"

	"github.com/gocodealone-labs/dataclient/transport"
)

// Terminal wraps fetch into the innermost Next of the middleware chain: it
// invokes fetch(ctx.Ctx, ctx.Request), converts a panic into
// {status:0, error} (spec §4.4 terminal behavior), and converts a
// cancelled ctx.Ctx into the canonical aborted response rather than
// letting a misbehaving FetchFunc return something else.
func Terminal(fetch transport.FetchFunc) Next {
	return func(ctx *Context) (resp Response) {
		defer func() {
			if r := recover(); r != nil {
				resp = transport.FromPanic(r)
			}
		}()

		runCtx := ctx.Ctx
		if runCtx == nil {
			runCtx = context.Background()
		}

		resp = fetch(runCtx, ctx.Request)

		if runCtx.Err() == context.Canceled && !resp.Aborted && resp.Data == nil {
			return transport.Aborted()
		}
		return resp
	}
}
