// Package cachestore is the state manager (component C): it owns the cache
// map, the pending-promise map, the tag index, and subscriber sets for a
// single client instance.
package cachestore

import (
	"sync"
	"time"

	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/fingerprint"
)

// State is the user-visible portion of a cache entry.
type State struct {
	Data      any
	Err       any
	Timestamp int64 // unix millis
	Loading   bool
	Fetching  bool
}

// Entry is the full cache record for one fingerprint. Entry is owned
// exclusively by Store; callers observe it only through Get (a snapshot
// copy) or through Subscribe callbacks.
type Entry struct {
	State State
	Tags  []string
	Stale bool
	Meta  map[string]any

	subscribers map[int]func()
	nextSubID   int
}

func newEntry() *Entry {
	return &Entry{Meta: make(map[string]any), subscribers: make(map[int]func())}
}

// snapshot returns a shallow copy safe to hand to callers outside the lock.
func (e *Entry) snapshot() *Entry {
	cp := *e
	cp.subscribers = nil
	if e.Tags != nil {
		cp.Tags = append([]string(nil), e.Tags...)
	}
	if e.Meta != nil {
		meta := make(map[string]any, len(e.Meta))
		for k, v := range e.Meta {
			meta[k] = v
		}
		cp.Meta = meta
	}
	return &cp
}

// StatePartial carries only the State fields a caller wants to overwrite.
// A nil pointer field means "leave as-is" — the Go rendering of JS's
// partial-object merge semantics.
type StatePartial struct {
	Data      *any
	ClearData bool // explicitly set Data back to nil/undefined
	Err       *any
	ClearErr  bool
	Timestamp *int64
	Loading   *bool
	Fetching  *bool
}

// Partial carries the fields setCache may merge into an entry in one write
// batch. Exactly one notification is delivered per Partial applied.
type Partial struct {
	State *StatePartial
	Tags  []string // nil means unchanged; non-nil replaces wholesale
	Stale *bool
}

// Store owns every cache entry, pending promise, and tag index for one
// client instance. All methods are safe for concurrent use. Store never
// blocks on a subscriber: callbacks are invoked synchronously but the
// subscriber set is snapshotted before iteration so a callback may safely
// re-enter Store.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	pending  map[string]*Future
	tagIndex map[string]map[string]struct{} // tag -> set of keys
	bus      *eventbus.Bus
}

// New creates an empty Store. bus may be nil; InvalidateByTags then marks
// entries stale without emitting a refetch event.
func New(bus *eventbus.Bus) *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		pending:  make(map[string]*Future),
		tagIndex: make(map[string]map[string]struct{}),
		bus:      bus,
	}
}

// CreateQueryKey delegates to the fingerprint builder (component A).
func (s *Store) CreateQueryKey(d fingerprint.CallDescriptor) string {
	return fingerprint.Build(d)
}

// Get returns a snapshot of the current entry for key, or nil if absent.
func (s *Store) Get(key string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	return e.snapshot()
}

// SetCache creates the entry for key if absent, then shallow-merges p into
// it. Setting State.Data or State.Err clears the pending promise for key.
// Subscribers are notified exactly once, synchronously, after the merge.
func (s *Store) SetCache(key string, p Partial) {
	s.mu.Lock()
	e := s.getOrCreateLocked(key)
	s.applyPartialLocked(key, e, p)
	subs := snapshotSubs(e)
	s.mu.Unlock()

	notifyAll(subs)
}

func (s *Store) getOrCreateLocked(key string) *Entry {
	e, ok := s.entries[key]
	if !ok {
		e = newEntry()
		s.entries[key] = e
	}
	return e
}

func (s *Store) applyPartialLocked(key string, e *Entry, p Partial) {
	clearsPromise := false

	if sp := p.State; sp != nil {
		if sp.Data != nil {
			e.State.Data = *sp.Data
			clearsPromise = true
		} else if sp.ClearData {
			e.State.Data = nil
			clearsPromise = true
		}
		if sp.Err != nil {
			e.State.Err = *sp.Err
			clearsPromise = true
		} else if sp.ClearErr {
			e.State.Err = nil
			clearsPromise = true
		}
		if sp.Timestamp != nil {
			e.State.Timestamp = *sp.Timestamp
		}
		if sp.Loading != nil {
			e.State.Loading = *sp.Loading
		}
		if sp.Fetching != nil {
			e.State.Fetching = *sp.Fetching
		}
	}

	if p.Tags != nil {
		s.reindexTagsLocked(key, e, p.Tags)
	}
	if p.Stale != nil {
		e.Stale = *p.Stale
	}

	if clearsPromise {
		delete(s.pending, key)
	}
}

func (s *Store) reindexTagsLocked(key string, e *Entry, tags []string) {
	for _, t := range e.Tags {
		if set, ok := s.tagIndex[t]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tagIndex, t)
			}
		}
	}
	e.Tags = dedup(tags)
	for _, t := range e.Tags {
		set, ok := s.tagIndex[t]
		if !ok {
			set = make(map[string]struct{})
			s.tagIndex[t] = set
		}
		set[key] = struct{}{}
	}
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SetMeta merges partial into entry.Meta and notifies subscribers.
func (s *Store) SetMeta(key string, partial map[string]any) {
	s.mu.Lock()
	e := s.getOrCreateLocked(key)
	for k, v := range partial {
		e.Meta[k] = v
	}
	subs := snapshotSubs(e)
	s.mu.Unlock()
	notifyAll(subs)
}

// DeleteCache removes the entry for key. Subscribers of the transition to
// "absent" are notified exactly once.
func (s *Store) DeleteCache(key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	for _, t := range e.Tags {
		if set, ok := s.tagIndex[t]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tagIndex, t)
			}
		}
	}
	delete(s.entries, key)
	delete(s.pending, key)
	subs := snapshotSubs(e)
	s.mu.Unlock()

	notifyAll(subs)
}

// ClearCache removes every entry. Intended for test isolation (spec §9:
// "tests require a fresh instance per case or an explicit clearCache
// utility").
func (s *Store) ClearCache() {
	s.mu.Lock()
	all := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.entries = make(map[string]*Entry)
	s.pending = make(map[string]*Future)
	s.tagIndex = make(map[string]map[string]struct{})
	var allSubs [][]func()
	for _, e := range all {
		allSubs = append(allSubs, snapshotSubs(e))
	}
	s.mu.Unlock()

	for _, subs := range allSubs {
		notifyAll(subs)
	}
}

// GetPendingPromise returns the in-flight Future for key, if any.
func (s *Store) GetPendingPromise(key string) *Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key]
}

// SetPendingPromise records (or clears, when f is nil) the in-flight Future
// for key.
func (s *Store) SetPendingPromise(key string, f *Future) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == nil {
		delete(s.pending, key)
		return
	}
	s.pending[key] = f
}

// SubscribeCache registers cb against key, creating an empty entry if none
// exists, and returns an unsubscribe function. Registering the same
// callback value twice is not de-duplicated by identity (Go has no stable
// function identity); callers own exactly the handle SubscribeCache
// returns and must call it at most once per registration to stay exact
// (see the "subscriber exactness" property).
func (s *Store) SubscribeCache(key string, cb func()) (unsubscribe func()) {
	s.mu.Lock()
	e := s.getOrCreateLocked(key)
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = cb
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if e, ok := s.entries[key]; ok {
				delete(e.subscribers, id)
			}
		})
	}
}

// SubscriberCount reports how many subscribers are currently registered on
// key's entry. Used by GC and by tests asserting subscriber exactness.
func (s *Store) SubscriberCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return 0
	}
	return len(e.subscribers)
}

// GetCacheEntriesBySelfTag returns the keys whose self tag — the most
// specific (last) entry in the resource's GenerateTags prefix hierarchy —
// equals tag, excluding entries where tag only matches a broader ancestor
// tag.
func (s *Store) GetCacheEntriesBySelfTag(tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, e := range s.entries {
		if len(e.Tags) > 0 && e.Tags[len(e.Tags)-1] == tag {
			out = append(out, k)
		}
	}
	return out
}

// InvalidateBySelfTag marks stale, and emits a refetch for, only the
// entries whose self tag equals tag (spec §4.3's narrower sibling of
// InvalidateByTags, used by mutation's InvalidateSelf auto-invalidation
// mode so it doesn't also invalidate entries for which tag is merely an
// ancestor prefix tag).
func (s *Store) InvalidateBySelfTag(tag string) {
	keys := s.GetCacheEntriesBySelfTag(tag)
	if len(keys) == 0 {
		return
	}

	s.mu.Lock()
	var allSubs [][]func()
	for _, k := range keys {
		e, ok := s.entries[k]
		if !ok {
			continue
		}
		e.Stale = true
		allSubs = append(allSubs, snapshotSubs(e))
	}
	s.mu.Unlock()

	for _, subs := range allSubs {
		notifyAll(subs)
	}

	if s.bus == nil {
		return
	}
	s.bus.Emit(eventbus.EventInvalidate, eventbus.InvalidatePayload{Tags: []string{tag}})
	for _, k := range keys {
		s.bus.Emit(eventbus.EventRefetch, eventbus.RefetchPayload{QueryKey: k, Reason: eventbus.ReasonInvalidate})
	}
}

// InvalidateByTags marks every entry whose tags intersect tags as stale,
// then — after releasing the store lock — emits a refetch event per
// affected key. This ordering (mark stale, then emit) is the contract
// spec §5.3 requires and is exercised by the "stale-then-refetch ordering"
// test property.
func (s *Store) InvalidateByTags(tags []string) {
	s.mu.Lock()
	affected := make(map[string]struct{})
	for _, t := range tags {
		for k := range s.tagIndex[t] {
			affected[k] = struct{}{}
		}
	}
	var allSubs [][]func()
	for k := range affected {
		e := s.entries[k]
		e.Stale = true
		allSubs = append(allSubs, snapshotSubs(e))
	}
	s.mu.Unlock()

	for _, subs := range allSubs {
		notifyAll(subs)
	}

	if s.bus == nil {
		return
	}
	s.bus.Emit(eventbus.EventInvalidate, eventbus.InvalidatePayload{Tags: tags})
	for k := range affected {
		s.bus.Emit(eventbus.EventRefetch, eventbus.RefetchPayload{QueryKey: k, Reason: eventbus.ReasonInvalidate})
	}
}

// IsStale reports whether key should be considered stale: absent, flagged
// stale, or older than staleTime.
func (s *Store) IsStale(key string, staleTime time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return true
	}
	if e.Stale {
		return true
	}
	if staleTime <= 0 {
		return false
	}
	age := time.Since(time.UnixMilli(e.State.Timestamp))
	return age > staleTime
}

// Keys returns every key currently present, for GC sweeps.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

func snapshotSubs(e *Entry) []func() {
	out := make([]func(), 0, len(e.subscribers))
	for _, cb := range e.subscribers {
		out = append(out, cb)
	}
	return out
}

func notifyAll(subs []func()) {
	for _, cb := range subs {
		cb()
	}
}
