package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/plugin"
)

func newFixture(t *testing.T) (*Plugin, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, time.Minute, "test:"), mr
}

func TestMiddleware_MissCallsNextAndWritesBack(t *testing.T) {
	p, mr := newFixture(t)
	mw := p.Middleware()

	called := 0
	ctx := &plugin.Context{OperationType: plugin.Read, QueryKey: "q1", Ctx: context.Background()}
	resp := mw(ctx, func(c *plugin.Context) plugin.Response {
		called++
		return plugin.Response{Status: 200, Data: "fresh"}
	})

	require.Equal(t, 1, called)
	assert.Equal(t, "fresh", resp.Data)
	assert.True(t, mr.Exists("test:q1"))
}

func TestMiddleware_HitSkipsNext(t *testing.T) {
	p, _ := newFixture(t)
	mw := p.Middleware()

	ctx := &plugin.Context{OperationType: plugin.Read, QueryKey: "q2", Ctx: context.Background()}
	mw(ctx, func(c *plugin.Context) plugin.Response { return plugin.Response{Status: 200, Data: "first"} })

	called := false
	resp := mw(ctx, func(c *plugin.Context) plugin.Response {
		called = true
		return plugin.Response{Status: 200, Data: "second"}
	})

	assert.False(t, called)
	assert.Equal(t, "first", resp.Data)
}

func TestMiddleware_ForceRefetchBypassesCache(t *testing.T) {
	p, _ := newFixture(t)
	mw := p.Middleware()

	ctx := &plugin.Context{OperationType: plugin.Read, QueryKey: "q3", Ctx: context.Background()}
	mw(ctx, func(c *plugin.Context) plugin.Response { return plugin.Response{Status: 200, Data: "first"} })

	ctx.ForceRefetch = true
	called := false
	mw(ctx, func(c *plugin.Context) plugin.Response {
		called = true
		return plugin.Response{Status: 200, Data: "second"}
	})
	assert.True(t, called)
}

func TestMiddleware_ErrorResponsesAreNotCached(t *testing.T) {
	p, mr := newFixture(t)
	mw := p.Middleware()

	ctx := &plugin.Context{OperationType: plugin.Read, QueryKey: "q4", Ctx: context.Background()}
	mw(ctx, func(c *plugin.Context) plugin.Response { return plugin.Response{Status: 500, Error: "boom"} })

	assert.False(t, mr.Exists("test:q4"))
}

func TestOperations_ReadOnly(t *testing.T) {
	p, _ := newFixture(t)
	assert.Equal(t, []plugin.OperationType{plugin.Read}, p.Operations())
}
