// Package circuitbreaker wraps the terminal fetch of participating
// operations in a sony/gobreaker circuit breaker, keyed by resolved path,
// so a failing endpoint fails fast instead of queuing further load onto it.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Config configures the breaker applied per path. Zero value uses
// gobreaker's own defaults.
type Config struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ReadyToTrip reports whether the breaker should open given the
	// rolling Counts; nil uses gobreaker's default (trips once consecutive
	// failures exceed 5).
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// Plugin opens a breaker per resolved path the first time it is seen.
type Plugin struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      Config
	ops      []plugin.OperationType
}

// New builds a Plugin. cfg.ReadyToTrip and the embedded duration fields are
// forwarded into each per-path gobreaker.Settings.
func New(cfg Config, ops ...plugin.OperationType) *Plugin {
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}
	}
	return &Plugin{breakers: make(map[string]*gobreaker.CircuitBreaker), cfg: cfg, ops: ops}
}

func (p *Plugin) Name() string                       { return "circuitbreaker" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

func (p *Plugin) breakerFor(path string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[path]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        path,
		MaxRequests: p.cfg.MaxRequests,
		Interval:    p.cfg.Interval,
		Timeout:     p.cfg.Timeout,
		ReadyToTrip: p.cfg.ReadyToTrip,
	})
	p.breakers[path] = b
	return b
}

// Middleware runs next through the per-path breaker. A tripped breaker
// short-circuits to the canonical network-failure response shape rather
// than calling next at all.
func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		b := p.breakerFor(ctx.Path)
		result, err := b.Execute(func() (any, error) {
			resp := next(ctx)
			if resp.Error != nil {
				return resp, errBreakerTrip
			}
			return resp, nil
		})
		if err != nil {
			if resp, ok := result.(transport.Response); ok {
				return resp
			}
			return transport.Response{Status: 0, Error: err.Error()}
		}
		return result.(transport.Response)
	}
}

var errBreakerTrip = breakerTripError{}

type breakerTripError struct{}

func (breakerTripError) Error() string { return "dataclient: downstream returned an error response" }
