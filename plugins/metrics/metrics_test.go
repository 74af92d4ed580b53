package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/plugin"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMiddleware_IncrementsSuccessCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)
	mw := p.Middleware()

	ctx := &plugin.Context{OperationType: plugin.Read}
	mw(ctx, func(c *plugin.Context) plugin.Response { return plugin.Response{Status: 200} })

	v := counterValue(t, p.total.WithLabelValues("read", "success"))
	assert.Equal(t, 1.0, v)
}

func TestMiddleware_IncrementsErrorCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)
	mw := p.Middleware()

	ctx := &plugin.Context{OperationType: plugin.Write}
	mw(ctx, func(c *plugin.Context) plugin.Response {
		return plugin.Response{Status: 500, Error: errors.New("boom")}
	})

	v := counterValue(t, p.total.WithLabelValues("write", "error"))
	assert.Equal(t, 1.0, v)
}

func TestMiddleware_IncrementsAbortedCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)
	mw := p.Middleware()

	ctx := &plugin.Context{OperationType: plugin.Pages}
	mw(ctx, func(c *plugin.Context) plugin.Response { return plugin.Response{Aborted: true} })

	v := counterValue(t, p.total.WithLabelValues("pages", "aborted"))
	assert.Equal(t, 1.0, v)
}
