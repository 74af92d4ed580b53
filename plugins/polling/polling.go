// Package polling periodically re-emits a refetch event for every mounted
// query key, the eventbus-driven analogue of a setInterval poll. A
// rate.Limiter caps how often this plugin emits for a given key, so a very
// short configured interval can never flood the bus beyond the configured
// ceiling. Refetch events emitted by other callers are not limited.
package polling

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/plugin"
)

// Config controls the tick interval and the per-key rate ceiling.
type Config struct {
	// Interval between polling ticks. Zero disables polling entirely —
	// the plugin becomes a no-op LifecyclePlugin.
	Interval time.Duration
	// RateLimit caps emitted refetch events per second per key; zero
	// means "use 1/Interval" (no extra ceiling beyond the ticker itself).
	RateLimit rate.Limit
	// Burst is the token bucket size backing RateLimit. Defaults to 1.
	Burst int
}

// Plugin implements plugin.LifecyclePlugin: OnMount starts a ticker for
// the mounted key, OnUnmount stops it.
type Plugin struct {
	cfg Config
	ops []plugin.OperationType

	mu      sync.Mutex
	tickers map[string]chan struct{} // key -> stop channel
}

// New builds a polling Plugin. Read is the only sensible operation type
// for a periodic poll; pass explicit ops to broaden it (e.g. to Pages).
func New(cfg Config, ops ...plugin.OperationType) *Plugin {
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RateLimit <= 0 && cfg.Interval > 0 {
		cfg.RateLimit = rate.Every(cfg.Interval)
	}
	return &Plugin{cfg: cfg, ops: ops, tickers: make(map[string]chan struct{})}
}

func (p *Plugin) Name() string                      { return "polling" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

// OnMount starts a background ticker for ctx.QueryKey, emitting a
// ReasonPolling refetch event through ctx.Bus on every allowed tick.
func (p *Plugin) OnMount(ctx *plugin.Context) {
	if p.cfg.Interval <= 0 || ctx.Bus == nil {
		return
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.tickers[ctx.QueryKey] = stop
	p.mu.Unlock()

	limiter := rate.NewLimiter(p.cfg.RateLimit, p.cfg.Burst)
	key := ctx.QueryKey
	bus := ctx.Bus

	go func() {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if limiter.Allow() {
					bus.Emit(eventbus.EventRefetch, eventbus.RefetchPayload{QueryKey: key, Reason: eventbus.ReasonPolling})
				}
			}
		}
	}()
}

// OnUnmount stops the ticker started by OnMount, if any.
func (p *Plugin) OnUnmount(ctx *plugin.Context) {
	p.mu.Lock()
	stop, ok := p.tickers[ctx.QueryKey]
	if ok {
		delete(p.tickers, ctx.QueryKey)
	}
	p.mu.Unlock()
	if ok {
		close(stop)
	}
}

// OnUpdate is a no-op: polling keys off QueryKey, which mount already
// resolved, so no per-update work is needed.
func (p *Plugin) OnUpdate(ctx, previous *plugin.Context) {}
