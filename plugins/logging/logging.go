// Package logging provides a middleware plugin that logs the enter/exit of
// every participating operation using a structured zap.Logger, mirroring
// the teacher pipeline's recordEvent best-effort event emission.
package logging

import (
	"time"

	"go.uber.org/zap"

	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/plugins/requestid"
)

// Plugin logs operation start/end with status, duration, and any error.
type Plugin struct {
	logger *zap.Logger
	ops    []plugin.OperationType
}

// New builds a logging Plugin. A nil logger falls back to zap.NewNop(),
// matching the executor's own nil-logger-falls-back-to-default idiom.
func New(logger *zap.Logger, ops ...plugin.OperationType) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}
	}
	return &Plugin{logger: logger, ops: ops}
}

func (p *Plugin) Name() string                      { return "logging" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		start := time.Now()
		id, _ := ctx.Temp[requestid.TempKey].(string)

		p.logger.Debug("operation start",
			zap.String("requestId", id),
			zap.String("operation", string(ctx.OperationType)),
			zap.String("path", ctx.Path),
			zap.String("method", ctx.Method),
		)

		resp := next(ctx)

		fields := []zap.Field{
			zap.String("requestId", id),
			zap.String("operation", string(ctx.OperationType)),
			zap.String("path", ctx.Path),
			zap.Int("status", resp.Status),
			zap.Duration("duration", time.Since(start)),
		}
		if resp.Error != nil {
			p.logger.Warn("operation error", append(fields, zap.Any("error", resp.Error))...)
		} else if resp.Aborted {
			p.logger.Debug("operation aborted", fields...)
		} else {
			p.logger.Debug("operation settled", fields...)
		}
		return resp
	}
}
