// Package mutation implements the write controller (component F): it
// orchestrates mutations — optimistic update application and rollback,
// the terminal fetch, and post-success auto-invalidation.
package mutation

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/fingerprint"
	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/requestutil"
	"github.com/gocodealone-labs/dataclient/transport"
)

// OptimisticTiming selects when an OptimisticSpec's Updater runs relative to
// the terminal response (spec §4.6).
type OptimisticTiming string

const (
	TimingImmediate OptimisticTiming = "immediate"
	TimingOnSuccess OptimisticTiming = "onSuccess"
)

// AutoInvalidate selects the tag-hierarchy breadth a successful mutation
// invalidates by default (spec §4.6).
type AutoInvalidate string

const (
	InvalidateAll  AutoInvalidate = "all"
	InvalidateSelf AutoInvalidate = "self"
	InvalidateNone AutoInvalidate = "none"
)

// OptimisticSpec describes one speculative cache update a Trigger call may
// apply before (or after) the server confirms the mutation. Exactly one of
// ForKey or ForTagMatcher should be supplied to select affected entries.
type OptimisticSpec struct {
	ForKey        string
	ForTagMatcher func(tags []string) bool

	Updater func(current any) any
	Timing  OptimisticTiming

	// Refetch nil or true invalidates the affected tags after settlement
	// (success, or on error when the caller opts in); false suppresses it.
	Refetch *bool

	// RollbackOnError nil or true restores the pre-update snapshot on
	// error or abort; false leaves the optimistic value in place.
	RollbackOnError *bool

	OnError func(err any)
}

func refetchDefaultTrue(p *bool) bool  { return p == nil || *p }
func rollbackDefaultTrue(p *bool) bool { return p == nil || *p }

// Config is the call-site descriptor for one write operation.
type Config struct {
	Path    []string
	Method  string
	Tags    []string
	TagMode requestutil.TagMode
	Options map[string]any

	AutoInvalidate AutoInvalidate
	Invalidate     []string

	// Optimistic, given the resolved request body, returns the specs to
	// apply for this trigger call. Nil means no optimistic updates.
	Optimistic func(body any) []OptimisticSpec
}

// TriggerOptions supplies the path params, query, and body for one Trigger
// call (Config itself carries none), shallow-merged per spec §4.7's rule.
type TriggerOptions struct {
	Params map[string]string
	Query  map[string]string
	Body   any
}

// Controller is the per-call-site write coordinator.
type Controller struct {
	executor *plugin.Executor
	store    *cachestore.Store
	fetchFn  transport.FetchFunc

	mu      sync.Mutex
	cfg     Config
	mounted bool
}

// New constructs a write Controller.
func New(executor *plugin.Executor, store *cachestore.Store, fetchFn transport.FetchFunc, cfg Config) *Controller {
	return &Controller{executor: executor, store: store, fetchFn: fetchFn, cfg: cfg}
}

// lifecycleContext mints a minimal plugin.Context for onMount/onUnmount
// dispatch, which for a write controller are not tied to any single
// Trigger call's request.
func (c *Controller) lifecycleContext() *plugin.Context {
	ctx := c.executor.CreateContext(plugin.ContextInput{OperationType: plugin.Write}, &transport.Request{Headers: http.Header{}})
	ctx.Ctx = context.Background()
	return ctx
}

// Mount runs onMount for every participating LifecyclePlugin. Mount is
// optional for write controllers that have no lifecycle-owned resources;
// Trigger works without it.
func (c *Controller) Mount() {
	c.mu.Lock()
	c.mounted = true
	c.mu.Unlock()
	c.executor.DispatchMount(c.lifecycleContext())
}

// Unmount runs onUnmount for every participating LifecyclePlugin.
func (c *Controller) Unmount() {
	c.mu.Lock()
	c.mounted = false
	c.mu.Unlock()
	c.executor.DispatchUnmount(c.lifecycleContext())
}

// GetContext returns the controller's current plugin.Context (spec §6.3
// getContext()). A write controller has no single resolved key outside a
// Trigger call, so this is the same lifecycle-scoped context Mount/Unmount
// dispatch against.
func (c *Controller) GetContext() *plugin.Context {
	return c.lifecycleContext()
}

// SetPluginOptions replaces the options fed into CreateContext's
// per-operation resolution for future Trigger calls (spec §6.3
// setPluginOptions(opts)) and runs Update so participating plugins observe
// the change.
func (c *Controller) SetPluginOptions(opts map[string]any) {
	previous := c.GetContext()
	c.mu.Lock()
	c.cfg.Options = opts
	c.mu.Unlock()
	c.Update(previous)
}

// Update recomputes the controller's current context and dispatches
// onUpdate(current, previous) to every participating LifecyclePlugin (spec
// §4.4/§6.3).
func (c *Controller) Update(previous *plugin.Context) *plugin.Context {
	current := c.GetContext()
	c.executor.DispatchUpdate(current, previous)
	return current
}

type appliedOptimistic struct {
	spec      OptimisticSpec
	keys      []string
	snapshots map[string]any
}

// Trigger builds a per-call context, applies immediate optimistic updates,
// runs the write middleware chain, settles optimistic state (commit,
// rollback, or apply onSuccess updates), computes and emits
// auto-invalidation, and returns the final response. It never returns an
// error for HTTP-level failures — only for programming errors such as a
// missing path parameter (spec §4.6 "trigger contract").
func (c *Controller) Trigger(overrides *TriggerOptions) (transport.Response, error) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	merged := requestutil.RequestOptions{Params: nil, Query: nil, Body: nil}
	if overrides != nil {
		merged = requestutil.ShallowMerge(requestutil.RequestOptions{}, requestutil.RequestOptions{
			Params: overrides.Params, Query: overrides.Query, Body: overrides.Body,
		})
	}

	resolvedPath, err := requestutil.ResolvePath(strings.Join(cfg.Path, "/"), merged.Params)
	if err != nil {
		return transport.Response{}, err
	}
	segments := strings.Split(resolvedPath, "/")
	tags := requestutil.ResolveTags(cfg.Tags, cfg.TagMode, segments)

	resolvedBody := requestutil.ResolveRequestBody(merged.Body)
	headers := http.Header{}
	for k, v := range resolvedBody.Headers {
		headers.Set(k, v)
	}
	req := &transport.Request{
		Method:  cfg.Method,
		Path:    resolvedPath,
		Query:   merged.Query,
		Body:    resolvedBody.Body,
		Headers: headers,
	}

	key := c.executor.CreateQueryKey(fingerprint.CallDescriptor{Path: resolvedPath, Method: cfg.Method, Options: cfg.Options})
	pctx := c.executor.CreateContext(plugin.ContextInput{
		OperationType:    plugin.Write,
		Path:             resolvedPath,
		Method:           cfg.Method,
		QueryKey:         key,
		Tags:             tags,
		RequestTimestamp: time.Now().UnixMilli(),
		Options:          cfg.Options,
	}, req)
	pctx.Ctx = context.Background()

	var specs []OptimisticSpec
	if cfg.Optimistic != nil {
		specs = cfg.Optimistic(req.Body)
	}

	applied := c.applyImmediate(specs)

	resp := c.executor.ExecuteMiddleware(pctx, plugin.Terminal(c.fetchFn))

	switch {
	case resp.Aborted:
		for _, a := range applied {
			c.rollback(a)
		}
	case resp.Error != nil:
		for _, a := range applied {
			if rollbackDefaultTrue(a.spec.RollbackOnError) {
				c.rollback(a)
			} else {
				c.clearOptimisticFlag(a.keys)
			}
			if a.spec.OnError != nil {
				a.spec.OnError(resp.Error)
			}
			if a.spec.Refetch != nil && *a.spec.Refetch {
				c.invalidateKeys(a.keys)
			}
		}
	default:
		c.applyOnSuccess(specs)
		for _, a := range applied {
			c.clearOptimisticFlag(a.keys)
		}
		c.autoInvalidate(resolvedPath, tags, cfg, specs)
	}

	c.executor.DispatchAfterResponse(pctx, resp)
	return resp, nil
}

func (c *Controller) applyImmediate(specs []OptimisticSpec) []appliedOptimistic {
	var out []appliedOptimistic
	for _, spec := range specs {
		if spec.Timing != TimingImmediate && spec.Timing != "" {
			continue
		}
		keys := resolveAffectedKeys(c.store, spec)
		snaps := make(map[string]any, len(keys))
		for _, k := range keys {
			var cur any
			if e := c.store.Get(k); e != nil {
				cur = e.State.Data
			}
			snaps[k] = deepClone(cur)
			updated := spec.Updater(cur)
			c.store.SetCache(k, cachestore.Partial{State: &cachestore.StatePartial{Data: &updated}})
			c.store.SetMeta(k, map[string]any{"isOptimistic": true})
		}
		out = append(out, appliedOptimistic{spec: spec, keys: keys, snapshots: snaps})
	}
	return out
}

func (c *Controller) applyOnSuccess(specs []OptimisticSpec) {
	for _, spec := range specs {
		if spec.Timing != TimingOnSuccess {
			continue
		}
		keys := resolveAffectedKeys(c.store, spec)
		for _, k := range keys {
			var cur any
			if e := c.store.Get(k); e != nil {
				cur = e.State.Data
			}
			updated := spec.Updater(cur)
			c.store.SetCache(k, cachestore.Partial{State: &cachestore.StatePartial{Data: &updated}})
		}
	}
}

func (c *Controller) rollback(a appliedOptimistic) {
	for _, k := range a.keys {
		snap := a.snapshots[k]
		c.store.SetCache(k, cachestore.Partial{State: &cachestore.StatePartial{Data: &snap}})
	}
	c.clearOptimisticFlag(a.keys)
}

func (c *Controller) clearOptimisticFlag(keys []string) {
	for _, k := range keys {
		c.store.SetMeta(k, map[string]any{"isOptimistic": false})
	}
}

func (c *Controller) invalidateKeys(keys []string) {
	tagSet := map[string]struct{}{}
	for _, k := range keys {
		if e := c.store.Get(k); e != nil {
			for _, t := range e.Tags {
				tagSet[t] = struct{}{}
			}
		}
	}
	if len(tagSet) == 0 {
		return
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	c.store.InvalidateByTags(tags)
}

// autoInvalidate computes the union of the AutoInvalidate selection, any
// explicit Invalidate list, and the tags of entries touched by optimistic
// specs whose Refetch is nil or true, minus any tag of an entry touched by
// a spec that asked not to refetch, and emits one invalidate event with the
// result (spec §4.6).
func (c *Controller) autoInvalidate(resolvedPath string, resolvedTags []string, cfg Config, specs []OptimisticSpec) {
	// InvalidateSelf only targets entries whose self (most specific) tag is
	// the resource's own tag, not every entry carrying it as an ancestor
	// prefix, so it goes through the narrower self-tag invalidation rather
	// than the broad union below.
	if cfg.AutoInvalidate == InvalidateSelf {
		if selfTags := autoInvalidateTags(resolvedPath, cfg.AutoInvalidate); len(selfTags) == 1 {
			c.store.InvalidateBySelfTag(selfTags[0])
		}
	}

	union := map[string]struct{}{}
	if cfg.AutoInvalidate != InvalidateSelf {
		for _, t := range autoInvalidateTags(resolvedPath, cfg.AutoInvalidate) {
			union[t] = struct{}{}
		}
	}
	for _, t := range cfg.Invalidate {
		union[t] = struct{}{}
	}

	for _, spec := range specs {
		if !refetchDefaultTrue(spec.Refetch) {
			continue
		}
		for _, k := range resolveAffectedKeys(c.store, spec) {
			if e := c.store.Get(k); e != nil {
				for _, t := range e.Tags {
					union[t] = struct{}{}
				}
			}
		}
	}

	for _, spec := range specs {
		if refetchDefaultTrue(spec.Refetch) {
			continue
		}
		keys := resolveAffectedKeys(c.store, spec)
		for _, k := range keys {
			if e := c.store.Get(k); e != nil {
				for _, t := range e.Tags {
					delete(union, t)
				}
			}
		}
	}

	if len(union) == 0 {
		return
	}
	tags := make([]string, 0, len(union))
	for t := range union {
		tags = append(tags, t)
	}
	c.store.InvalidateByTags(tags)
}

func autoInvalidateTags(resolvedPath string, mode AutoInvalidate) []string {
	segments := strings.Split(resolvedPath, "/")
	switch mode {
	case InvalidateSelf:
		all := requestutil.GenerateTags(segments)
		if len(all) == 0 {
			return nil
		}
		return all[len(all)-1:]
	case InvalidateNone:
		return nil
	default: // InvalidateAll, "" (default)
		return requestutil.GenerateTags(segments)
	}
}

func resolveAffectedKeys(store *cachestore.Store, spec OptimisticSpec) []string {
	if spec.ForKey != "" {
		return []string{spec.ForKey}
	}
	if spec.ForTagMatcher != nil {
		var out []string
		for _, k := range store.Keys() {
			if e := store.Get(k); e != nil && spec.ForTagMatcher(e.Tags) {
				out = append(out, k)
			}
		}
		return out
	}
	return nil
}

// deepClone produces a structural copy of v tolerant of cyclic graphs (spec
// §9 "the optimistic protocol MUST clone the pre-update snapshot"), mirroring
// the cycle-detection strategy fingerprint.Build uses for canonicalization.
// The clone is intentionally structural (maps/slices), not type-preserving:
// rollback only needs to restore the data shape a reader observed.
func deepClone(v any) any {
	return cloneValue(reflect.ValueOf(v), map[uintptr]bool{})
}

func cloneValue(v reflect.Value, seen map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return "[Circular]"
		}
		seen[ptr] = true
		cloned := cloneValue(v.Elem(), seen)
		delete(seen, ptr)
		return cloned

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return "[Circular]"
		}
		seen[ptr] = true
		out := make(map[string]any, v.Len())
		for _, k := range v.MapKeys() {
			out[fmt.Sprint(k.Interface())] = cloneValue(v.MapIndex(k), seen)
		}
		delete(seen, ptr)
		return out

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = cloneValue(v.Index(i), seen)
		}
		return out

	case reflect.Struct:
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			out[sf.Name] = cloneValue(v.Field(i), seen)
		}
		return out

	default:
		if v.CanInterface() {
			return v.Interface()
		}
		return nil
	}
}
