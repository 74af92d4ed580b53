// Package lrucache is an in-process, size-bounded L1 cache sitting in front
// of whatever L2/backend a chain also uses (e.g. plugins/rediscache): a hit
// here short-circuits the middleware chain before even a Redis round trip
// happens. Entries carry their own TTL independent of cachestore.Store's
// staleness bookkeeping, so this is a pure speed optimization, not a second
// source of truth.
package lrucache

import (
	"container/list"
	"sync"
	"time"

	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/transport"
)

type entry struct {
	key       string
	resp      plugin.Response
	expiresAt time.Time
}

// Plugin is a read-operation middleware; write and page operations pass
// through untouched, matching plugins/rediscache's rationale.
type Plugin struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List // front = most recently used, back = least recently used
	maxSize  int
	ttl      time.Duration

	hits, misses, evictions int64
}

// Config bounds the L1 cache. A MaxSize <= 0 defaults to 1000 entries; a TTL
// <= 0 defaults to one minute.
type Config struct {
	MaxSize int
	TTL     time.Duration
}

// New builds a Plugin per cfg.
func New(cfg Config) *Plugin {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &Plugin{
		items:    make(map[string]*list.Element, cfg.MaxSize),
		eviction: list.New(),
		maxSize:  cfg.MaxSize,
		ttl:      cfg.TTL,
	}
}

func (p *Plugin) Name() string { return "lrucache" }

// Operations participates in Read only.
func (p *Plugin) Operations() []plugin.OperationType {
	return []plugin.OperationType{plugin.Read}
}

// Middleware checks the L1 cache before next runs. A hit returns the stored
// response directly; a miss calls next and, on a non-aborted, error-free
// response, stores it and evicts the least-recently-used entry if the cache
// is at capacity.
func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		if ctx.ForceRefetch {
			return p.runAndStore(ctx, next)
		}
		if resp, ok := p.get(ctx.QueryKey); ok {
			return resp
		}
		return p.runAndStore(ctx, next)
	}
}

func (p *Plugin) runAndStore(ctx *plugin.Context, next plugin.Next) plugin.Response {
	resp := next(ctx)
	if resp.Aborted || resp.Error != nil {
		return resp
	}
	p.set(ctx.QueryKey, resp)
	return resp
}

func (p *Plugin) get(key string) (transport.Response, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elem, ok := p.items[key]
	if !ok {
		p.misses++
		return transport.Response{}, false
	}

	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		p.removeLocked(elem)
		p.misses++
		return transport.Response{}, false
	}

	p.eviction.MoveToFront(elem)
	p.hits++
	return e.resp, true
}

func (p *Plugin) set(key string, resp plugin.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.items[key]; ok {
		e := elem.Value.(*entry)
		e.resp = resp
		e.expiresAt = time.Now().Add(p.ttl)
		p.eviction.MoveToFront(elem)
		return
	}

	for p.eviction.Len() >= p.maxSize {
		p.evictLocked()
	}

	e := &entry{key: key, resp: resp, expiresAt: time.Now().Add(p.ttl)}
	elem := p.eviction.PushFront(e)
	p.items[key] = elem
}

func (p *Plugin) evictLocked() {
	back := p.eviction.Back()
	if back == nil {
		return
	}
	p.removeLocked(back)
	p.evictions++
}

func (p *Plugin) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(p.items, e.key)
	p.eviction.Remove(elem)
}

// Stats reports L1 hit/miss/eviction counters, useful for wiring into
// plugins/metrics or for test assertions.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

func (p *Plugin) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      p.eviction.Len(),
		MaxSize:   p.maxSize,
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
	}
}
