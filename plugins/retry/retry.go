// Package retry wraps the middleware chain with exponential backoff around
// error responses, grounded on the teacher's WebhookSender retry shape
// (MaxRetries, InitialBackoff, MaxBackoff, BackoffMultiplier) adapted here
// to retrying idempotent reads and writes rather than webhook delivery.
package retry

import (
	"context"
	"time"

	"github.com/gocodealone-labs/dataclient/plugin"
)

// Config mirrors the teacher's WebhookConfig retry knobs.
type Config struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2.0
	}
	return c
}

// Plugin retries a participating operation's terminal response up to
// Config.MaxRetries times when it settles as an error, sleeping an
// exponentially growing backoff between attempts. An aborted response
// (explicit cancellation) is never retried.
type Plugin struct {
	cfg Config
	ops []plugin.OperationType
}

// New builds a retry Plugin. Write defaults to excluded from ops since
// retrying a non-idempotent write silently can duplicate side effects;
// pass plugin.Write explicitly to opt in for idempotent mutations.
func New(cfg Config, ops ...plugin.OperationType) *Plugin {
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Pages}
	}
	return &Plugin{cfg: cfg.withDefaults(), ops: ops}
}

func (p *Plugin) Name() string                      { return "retry" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		backoff := p.cfg.InitialBackoff

		var resp plugin.Response
		for attempt := 0; ; attempt++ {
			resp = next(ctx)
			if resp.Aborted || resp.Error == nil {
				return resp
			}
			if attempt >= p.cfg.MaxRetries {
				return resp
			}

			runCtx := ctx.Ctx
			if runCtx == nil {
				runCtx = context.Background()
			}
			timer := time.NewTimer(backoff)
			select {
			case <-runCtx.Done():
				timer.Stop()
				return resp
			case <-timer.C:
			}

			backoff = time.Duration(float64(backoff) * p.cfg.BackoffMultiplier)
			if backoff > p.cfg.MaxBackoff {
				backoff = p.cfg.MaxBackoff
			}
		}
	}
}
