package ratelimit

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/plugin"
)

func TestMiddleware_AllowsWithinBurst(t *testing.T) {
	p := New(rate.Limit(1), 2)
	mw := p.Middleware()

	ctx := &plugin.Context{Ctx: context.Background()}
	called := 0
	resp := mw(ctx, func(c *plugin.Context) plugin.Response {
		called++
		return plugin.Response{Status: 200}
	})

	require.Equal(t, 1, called)
	assert.Equal(t, 200, resp.Status)
}

func TestMiddleware_AbortsWhenContextExpiresWhileWaiting(t *testing.T) {
	p := New(rate.Limit(0.001), 1)
	mw := p.Middleware()

	// Drain the single token so the next call must wait.
	mw(&plugin.Context{Ctx: context.Background()}, func(c *plugin.Context) plugin.Response {
		return plugin.Response{Status: 200}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	called := false
	resp := mw(&plugin.Context{Ctx: ctx}, func(c *plugin.Context) plugin.Response {
		called = true
		return plugin.Response{Status: 200}
	})

	assert.False(t, called)
	assert.True(t, resp.Aborted)
}

func TestMiddleware_NilContextFallsBackToBackground(t *testing.T) {
	p := New(rate.Inf, 1)
	mw := p.Middleware()

	resp := mw(&plugin.Context{}, func(c *plugin.Context) plugin.Response {
		return plugin.Response{Status: 200}
	})
	assert.Equal(t, 200, resp.Status)
}
