// Package metrics exposes Prometheus counters and a histogram for operation
// outcomes and latency, registered against a caller-supplied registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gocodealone-labs/dataclient/plugin"
)

// Plugin records one counter increment and one histogram observation per
// settled operation.
type Plugin struct {
	ops      []plugin.OperationType
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the plugin's metrics against reg (prometheus.DefaultRegisterer
// if nil) and returns the Plugin.
func New(reg prometheus.Registerer, ops ...plugin.OperationType) *Plugin {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Write, plugin.Pages}
	}

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dataclient_operations_total",
		Help: "Count of data-client operations by type and outcome.",
	}, []string{"operation", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataclient_operation_duration_seconds",
		Help:    "Latency of data-client operations by type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	reg.MustRegister(total, duration)

	return &Plugin{ops: ops, total: total, duration: duration}
}

func (p *Plugin) Name() string                      { return "metrics" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

func (p *Plugin) Middleware() plugin.Middleware {
	return func(ctx *plugin.Context, next plugin.Next) plugin.Response {
		start := time.Now()
		resp := next(ctx)

		outcome := "success"
		if resp.Aborted {
			outcome = "aborted"
		} else if resp.Error != nil {
			outcome = "error"
		}

		op := string(ctx.OperationType)
		p.total.WithLabelValues(op, outcome).Inc()
		p.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		return resp
	}
}
