// Package tracing wraps each participating operation in an OpenTelemetry
// span, so the middleware onion's enter/exit phases are visible in a trace
// viewer the same way the teacher's pipeline events feed its own tracing.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gocodealone-labs/dataclient/plugin"
)

// Plugin starts one span per operation via the supplied tracer.
type Plugin struct {
	tracer trace.Tracer
	ops    []plugin.OperationType
}

// New builds a tracing Plugin. A nil tracer falls back to a tracer from a
// fresh no-op tracer provider.
func New(tracer trace.Tracer, ops ...plugin.OperationType) *Plugin {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("dataclient")
	}
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}
	}
	return &Plugin{tracer: tracer, ops: ops}
}

func (p *Plugin) Name() string                      { return "tracing" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		runCtx := ctx.Ctx
		if runCtx == nil {
			runCtx = context.Background()
		}

		spanCtx, span := p.tracer.Start(runCtx, "dataclient."+string(ctx.OperationType))
		defer span.End()

		span.SetAttributes(
			attribute.String("dataclient.path", ctx.Path),
			attribute.String("dataclient.method", ctx.Method),
			attribute.String("dataclient.query_key", ctx.QueryKey),
		)
		ctx.Ctx = spanCtx

		resp := next(ctx)

		span.SetAttributes(attribute.Int("dataclient.status", resp.Status))
		if resp.Error != nil {
			span.SetStatus(codes.Error, "operation returned an error")
		} else if resp.Aborted {
			span.SetStatus(codes.Error, "operation aborted")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return resp
	}
}
