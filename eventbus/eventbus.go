// Package eventbus is a small synchronous typed pub/sub used by plugins to
// request refetches and by the core to announce invalidation, without
// holding direct references to controllers.
package eventbus

import (
	"log/slog"
	"sync"
)

// Event names the core requires. Concrete plugins may emit additional,
// opaque diagnostic event names.
const (
	EventRefetch     = "refetch"
	EventInvalidate  = "invalidate"
	EventDiagnostic  = "diagnostic"
)

// RefetchReason explains why a refetch was requested.
type RefetchReason string

const (
	ReasonInvalidate RefetchReason = "invalidate"
	ReasonPolling    RefetchReason = "polling"
	ReasonDebounce   RefetchReason = "debounce"
)

// RefetchPayload is the payload of an EventRefetch event.
type RefetchPayload struct {
	QueryKey string
	Reason   RefetchReason
}

// InvalidatePayload is the payload of an EventInvalidate event.
type InvalidatePayload struct {
	Tags []string
}

// DiagnosticStage classifies a diagnostic event.
type DiagnosticStage string

const (
	StageLog    DiagnosticStage = "log"
	StageSkip   DiagnosticStage = "skip"
	StageReturn DiagnosticStage = "return"
)

// DiagnosticPayload carries an opaque, structured diagnostic record emitted
// by a plugin or by the core itself.
type DiagnosticPayload struct {
	Plugin string
	Stage  DiagnosticStage
	Reason string
	Color  string
	Meta   map[string]any
}

type subscription struct {
	id int
	cb func(payload any)
}

// Bus is a synchronous, in-process event bus. All methods are safe for
// concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]subscription
	nextID int
	logger *slog.Logger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// SetLogger sets the logger used to report subscriber panics. A nil logger
// falls back to slog.Default() lazily.
func (b *Bus) SetLogger(logger *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

func (b *Bus) log() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}
	return b.logger
}

// On registers cb for event and returns an unsubscribe function. Calling the
// returned function more than once is a safe no-op.
func (b *Bus) On(event string, cb func(payload any)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[event] = append(b.subs[event], subscription{id: id, cb: cb})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[event]
			for i, s := range list {
				if s.id == id {
					b.subs[event] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit invokes every current subscriber of event, in registration order. A
// panicking subscriber is recovered and logged; it never prevents the
// remaining subscribers from running. The subscriber set is snapshotted
// before iteration so that a handler may itself call On/Emit/Off without
// deadlocking or corrupting the in-progress dispatch.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	list := make([]subscription, len(b.subs[event]))
	copy(list, b.subs[event])
	b.mu.Unlock()

	for _, s := range list {
		b.invoke(s, payload)
	}
}

func (b *Bus) invoke(s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("eventbus subscriber panicked", "recovered", r)
		}
	}()
	s.cb(payload)
}
