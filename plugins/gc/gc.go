// Package gc sweeps stale, unsubscribed cache entries on an interval,
// exposed to the client surface as an instance API (spec §6.3's
// "runGc/start/stop" example). A Prometheus registry, when supplied,
// observes cache size and sweep counts; a Redis client, when supplied,
// mirrors every deletion as an out-of-process observability signal
// without the core cache ever depending on Redis itself.
package gc

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/plugin"
)

// Config controls sweep cadence and eligibility.
type Config struct {
	// MaxAge is the entry age beyond which an unsubscribed entry is
	// eligible for collection, regardless of its Stale flag.
	MaxAge time.Duration
	// ProtectSubscribed, when true (the default), never collects an
	// entry that still has at least one active subscriber.
	ProtectSubscribed *bool
	// Registerer, if non-nil, receives the plugin's Prometheus
	// collectors (cache size gauge, sweep counter, collected-entries
	// counter).
	Registerer prometheus.Registerer
	// RedisMirror, if non-nil, receives a DEL for every collected key
	// under RedisPrefix+key — a pure observability mirror, never read
	// back by the in-process store.
	RedisMirror *redis.Client
	RedisPrefix string
}

func protectSubscribed(c Config) bool {
	return c.ProtectSubscribed == nil || *c.ProtectSubscribed
}

// Plugin is an InstanceAPIPlugin exposing start/stop/runGc. It declares no
// operation participation: it never touches the middleware chain or
// lifecycle dispatch, only the instance API surface.
type Plugin struct {
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	size      prometheus.Gauge
	sweeps    prometheus.Counter
	collected prometheus.Counter
}

// New builds a gc Plugin. Prometheus collectors are created eagerly but
// only registered (via cfg.Registerer.MustRegister) when InstanceAPI runs,
// since that is the point a *cachestore.Store first becomes available.
func New(cfg Config) *Plugin {
	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = "dataclient:gc:"
	}
	cfg.RedisPrefix = prefix

	return &Plugin{
		cfg: cfg,
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dataclient_cache_entries",
			Help: "Current number of entries in the cache store.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataclient_gc_sweeps_total",
			Help: "Number of garbage-collection sweeps run.",
		}),
		collected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dataclient_gc_collected_entries_total",
			Help: "Number of cache entries collected across all sweeps.",
		}),
	}
}

func (p *Plugin) Name() string                      { return "gc" }
func (p *Plugin) Operations() []plugin.OperationType { return nil }

// InstanceAPI registers the Prometheus collectors (if configured) and
// returns {start(interval), stop(), runGc()} bound to deps.Store.
func (p *Plugin) InstanceAPI(deps plugin.InstanceDeps) map[string]any {
	if p.cfg.Registerer != nil {
		p.cfg.Registerer.MustRegister(p.size, p.sweeps, p.collected)
	}

	return map[string]any{
		"start": func(interval time.Duration) { p.start(deps.Store, interval) },
		"stop":  p.stop,
		"runGc": func() int { return p.runGc(deps.Store) },
	}
}

// start begins a background sweep loop at the given interval. Calling
// start while already running first stops the previous loop.
func (p *Plugin) start(store *cachestore.Store, interval time.Duration) {
	p.stop()
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runGc(store)
			}
		}
	}()
}

// stop halts the running sweep loop, if any. Safe to call when not
// running.
func (p *Plugin) stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.running = false
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runGc performs one sweep, deleting every eligible key from store and
// returns the number of entries collected.
func (p *Plugin) runGc(store *cachestore.Store) int {
	p.sweeps.Inc()

	keys := store.Keys()
	p.size.Set(float64(len(keys)))

	collected := 0
	for _, key := range keys {
		entry := store.Get(key)
		if entry == nil {
			continue
		}
		if protectSubscribed(p.cfg) && store.SubscriberCount(key) > 0 {
			continue
		}
		if !p.eligible(entry) {
			continue
		}
		store.DeleteCache(key)
		collected++
		p.mirrorDelete(key)
	}

	if collected > 0 {
		p.collected.Add(float64(collected))
	}
	return collected
}

func (p *Plugin) eligible(entry *cachestore.Entry) bool {
	if entry.Stale {
		return true
	}
	if p.cfg.MaxAge <= 0 {
		return false
	}
	age := time.Since(time.UnixMilli(entry.State.Timestamp))
	return age > p.cfg.MaxAge
}

func (p *Plugin) mirrorDelete(key string) {
	if p.cfg.RedisMirror == nil {
		return
	}
	// Best-effort: the mirror is an observability side channel, never a
	// dependency the sweep's correctness relies on.
	_ = p.cfg.RedisMirror.Del(context.Background(), p.cfg.RedisPrefix+key).Err()
}
