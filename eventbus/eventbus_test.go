package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnEmit_InvokesInRegistrationOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		b.On(EventRefetch, func(payload any) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Emit(EventRefetch, RefetchPayload{QueryKey: "k", Reason: ReasonPolling})

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestEmit_SubscriberPanicDoesNotStopOthers(t *testing.T) {
	b := New()
	var calledSecond bool

	b.On(EventInvalidate, func(payload any) {
		panic("boom")
	})
	b.On(EventInvalidate, func(payload any) {
		calledSecond = true
	})

	require.NotPanics(t, func() {
		b.Emit(EventInvalidate, InvalidatePayload{Tags: []string{"posts"}})
	})
	assert.True(t, calledSecond)
}

func TestUnsubscribe_StopsFutureDelivery(t *testing.T) {
	b := New()
	var calls int
	unsub := b.On(EventRefetch, func(payload any) { calls++ })

	b.Emit(EventRefetch, nil)
	unsub()
	b.Emit(EventRefetch, nil)

	assert.Equal(t, 1, calls)
}

func TestUnsubscribe_IdempotentAndReentrant(t *testing.T) {
	b := New()
	var unsub func()
	unsub = b.On(EventRefetch, func(payload any) {
		unsub()
	})

	require.NotPanics(t, func() {
		b.Emit(EventRefetch, nil)
		unsub()
	})
}
