package plugin

import (
	"log/slog"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/config"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/fingerprint"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Executor registers plugins, composes the onion middleware chain per
// operation, dispatches lifecycle and response callbacks, and exposes each
// plugin's per-instance API. It is deliberately the single place that
// knows the full plugin list; controllers only ever talk to an Executor.
type Executor struct {
	plugins     []Plugin
	store       *cachestore.Store
	bus         *eventbus.Bus
	fetchFn     transport.FetchFunc
	logger      *slog.Logger
	diagnostics bool
	instanceAPI map[string]any
}

// NewExecutor registers plugins in order (registration order is preserved
// and determines onion nesting per spec §4.4/§5.5) and runs every
// InstanceAPIPlugin's factory exactly once. fetchFn is handed to every
// InstanceAPIPlugin via InstanceDeps so instance-API methods that need to
// issue their own operations (e.g. prefetch) can do so without a second
// seam back into the client.
func NewExecutor(plugins []Plugin, store *cachestore.Store, bus *eventbus.Bus, fetchFn transport.FetchFunc) *Executor {
	e := &Executor{
		plugins:     append([]Plugin(nil), plugins...),
		store:       store,
		bus:         bus,
		fetchFn:     fetchFn,
		instanceAPI: make(map[string]any),
	}
	for _, p := range e.plugins {
		if iap, ok := p.(InstanceAPIPlugin); ok {
			methods := iap.InstanceAPI(InstanceDeps{Store: store, Bus: bus, Executor: e, FetchFunc: fetchFn})
			for name, fn := range methods {
				e.instanceAPI[name] = fn
			}
		}
	}
	return e
}

// SetLogger sets the logger used for middleware/afterResponse error
// reporting. A nil logger is replaced by slog.Default() lazily.
func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logger
}

func (e *Executor) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// SetDiagnostics toggles emission of DiagnosticEvents onto the bus. Events
// are emitted only when a plugin's lifecycle hook, middleware, or
// afterResponse panics and the panic is recovered.
func (e *Executor) SetDiagnostics(enabled bool) {
	e.diagnostics = enabled
}

// InstanceAPI returns the merged instance API surface contributed by every
// registered InstanceAPIPlugin.
func (e *Executor) InstanceAPI() map[string]any {
	return e.instanceAPI
}

// Participating returns, in registration order, the plugins that declared
// op in their Operations().
func (e *Executor) Participating(op OperationType) []Plugin {
	out := make([]Plugin, 0, len(e.plugins))
	for _, p := range e.plugins {
		if Participates(p, op) {
			out = append(out, p)
		}
	}
	return out
}

// ContextInput is the caller-facing shape CreateContext mints a Context
// from.
type ContextInput struct {
	OperationType    OperationType
	Path             string
	Method           string
	QueryKey         string
	Tags             []string
	RequestTimestamp int64
	Options          map[string]any
	ForceRefetch     bool
}

// CreateContext mints a fresh Context, seeded with an empty Temp map and
// with PluginOptions resolved by projecting input.Options through every
// participating plugin's declared option schema (spec §4.4 "Context
// factory"). Resolution happens lazily here, at context-creation time, one
// of the two valid strategies spec §9 leaves open. req is the mutable
// transport.Request the middleware chain will act on.
func (e *Executor) CreateContext(input ContextInput, req *transport.Request) *Context {
	participating := e.Participating(input.OperationType)

	resolved := make(map[string]any)
	for _, p := range participating {
		if osp, ok := p.(OptionSchemaPlugin); ok {
			resolved = config.DeepMergeMap(resolved, osp.DefaultOptions())
		}
	}
	resolved = config.DeepMergeMap(resolved, input.Options)

	return &Context{
		OperationType:    input.OperationType,
		Path:             input.Path,
		Method:           input.Method,
		QueryKey:         input.QueryKey,
		Tags:             input.Tags,
		RequestTimestamp: input.RequestTimestamp,
		Request:          req,
		Temp:             make(map[string]any),
		PluginOptions:    resolved,
		Store:            e.store,
		Bus:              e.bus,
		ForceRefetch:     input.ForceRefetch,
	}
}

// CreateQueryKey is a convenience forward to the underlying store's
// fingerprint builder.
func (e *Executor) CreateQueryKey(d fingerprint.CallDescriptor) string {
	return e.store.CreateQueryKey(d)
}

// ExecuteMiddleware composes the registered, participating middleware into
// a single onion chain and runs it to completion. Registered order
// [P1, P2, P3] produces execution order
// P1.enter -> P2.enter -> P3.enter -> terminal -> P3.exit -> P2.exit -> P1.exit
// per spec §4.4/§8 property 6. Middleware panics are recovered and
// converted into the terminal-behavior response shape of spec §4.4 so a
// plugin bug never crashes the caller.
func (e *Executor) ExecuteMiddleware(ctx *Context, terminal Next) Response {
	chain := terminal
	participating := e.Participating(ctx.OperationType)
	for i := len(participating) - 1; i >= 0; i-- {
		p, ok := participating[i].(MiddlewarePlugin)
		if !ok {
			continue
		}
		next := chain
		mw := p.Middleware()
		name := p.Name()
		chain = func(c *Context) Response {
			return e.guardedMiddleware(name, mw, c, next)
		}
	}
	return chain(ctx)
}

func (e *Executor) guardedMiddleware(name string, mw Middleware, ctx *Context, next Next) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("plugin middleware panicked", "plugin", name, "recovered", r)
			e.emitDiagnostic(name, eventbus.StageReturn, "panic")
			resp = Response{Status: 0, Error: r}
		}
	}()
	return mw(ctx, next)
}

// DispatchMount calls OnMount on every participating LifecyclePlugin.
func (e *Executor) DispatchMount(ctx *Context) {
	e.dispatchLifecycle(ctx, func(lp LifecyclePlugin) { lp.OnMount(ctx) }, "onMount")
}

// DispatchUnmount calls OnUnmount on every participating LifecyclePlugin.
func (e *Executor) DispatchUnmount(ctx *Context) {
	e.dispatchLifecycle(ctx, func(lp LifecyclePlugin) { lp.OnUnmount(ctx) }, "onUnmount")
}

// DispatchUpdate calls OnUpdate on every participating LifecyclePlugin so
// that plugins owning per-key resources (timers, listeners) can release
// them for the previous key.
func (e *Executor) DispatchUpdate(current, previous *Context) {
	for _, p := range e.Participating(current.OperationType) {
		lp, ok := p.(LifecyclePlugin)
		if !ok {
			continue
		}
		e.safeCall(p.Name(), "onUpdate", func() { lp.OnUpdate(current, previous) })
	}
}

func (e *Executor) dispatchLifecycle(ctx *Context, call func(LifecyclePlugin), stage string) {
	for _, p := range e.Participating(ctx.OperationType) {
		lp, ok := p.(LifecyclePlugin)
		if !ok {
			continue
		}
		e.safeCall(p.Name(), stage, func() { call(lp) })
	}
}

// DispatchAfterResponse runs AfterResponse on every participating
// AfterResponsePlugin. Exceptions are logged (and, when diagnostics are
// enabled, reported as a DiagnosticEvent) but never replace resp — per
// spec §4.4 and the Open Question decision in SPEC_FULL.md §6.2.
func (e *Executor) DispatchAfterResponse(ctx *Context, resp Response) {
	for _, p := range e.Participating(ctx.OperationType) {
		arp, ok := p.(AfterResponsePlugin)
		if !ok {
			continue
		}
		e.safeCall(p.Name(), "afterResponse", func() { arp.AfterResponse(ctx, resp) })
	}
}

func (e *Executor) safeCall(pluginName, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log().Error("plugin lifecycle callback panicked", "plugin", pluginName, "stage", stage, "recovered", r)
			e.emitDiagnostic(pluginName, eventbus.StageLog, stage)
		}
	}()
	fn()
}

func (e *Executor) emitDiagnostic(pluginName string, stage eventbus.DiagnosticStage, reason string) {
	if !e.diagnostics || e.bus == nil {
		return
	}
	e.bus.Emit(eventbus.EventDiagnostic, eventbus.DiagnosticPayload{Plugin: pluginName, Stage: stage, Reason: reason})
}
