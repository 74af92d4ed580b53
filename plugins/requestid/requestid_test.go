package requestid

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/transport"
)

func TestMiddleware_SetsTempKeyAndHeader(t *testing.T) {
	p := New()
	mw := p.Middleware()

	ctx := &plugin.Context{
		OperationType: plugin.Read,
		Request:       &transport.Request{Headers: make(http.Header)},
		Temp:          make(map[string]any),
	}

	resp := mw(ctx, func(c *plugin.Context) plugin.Response {
		return plugin.Response{Status: 200}
	})

	require.Equal(t, 200, resp.Status)
	id, ok := ctx.Temp[TempKey].(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ctx.Request.Headers.Get(HeaderName))
}

func TestMiddleware_GeneratesDistinctIDsPerCall(t *testing.T) {
	p := New()
	mw := p.Middleware()

	seen := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		ctx := &plugin.Context{Request: &transport.Request{Headers: make(http.Header)}, Temp: make(map[string]any)}
		mw(ctx, func(c *plugin.Context) plugin.Response { return plugin.Response{} })
		id := ctx.Temp[TempKey].(string)
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestOperations_DefaultsToAllThree(t *testing.T) {
	p := New()
	assert.ElementsMatch(t, []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}, p.Operations())
}

func TestOperations_RestrictedWhenSpecified(t *testing.T) {
	p := New(plugin.Write)
	assert.Equal(t, []plugin.OperationType{plugin.Write}, p.Operations())
}
