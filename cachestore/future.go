package cachestore

import (
	"context"
	"sync"
	"time"

	"github.com/gocodealone-labs/dataclient/transport"
)

// Future is the Go rendering of spec §3.1's "pending promise": a single
// in-flight operation's eventual result, shared by every concurrent caller
// that deduplicates onto the same fingerprint.
type Future struct {
	done chan struct{}
	once sync.Once
	resp transport.Response
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete resolves f with resp. Only the first call has any effect.
func (f *Future) Complete(resp transport.Response) {
	f.once.Do(func() {
		f.resp = resp
		close(f.done)
	})
}

// Wait blocks until f resolves or ctx is done. A ctx cancellation does not
// resolve f itself (other waiters may still be awaiting it); it only stops
// this call from blocking further.
func (f *Future) Wait(ctx context.Context) (transport.Response, bool) {
	select {
	case <-f.done:
		return f.resp, true
	case <-ctx.Done():
		return transport.Response{}, false
	}
}

// WaitTimeout is storePromiseInCache's {timeout} defense (spec §5): it
// waits for f up to timeout, after which it reports not-ok regardless of
// whether f eventually resolves. Callers use this to decide when to clear
// a pending-promise slot that may never settle.
func (f *Future) WaitTimeout(timeout time.Duration) (transport.Response, bool) {
	if timeout <= 0 {
		select {
		case <-f.done:
			return f.resp, true
		default:
			return transport.Response{}, false
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return f.Wait(ctx)
}
