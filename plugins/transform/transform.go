// Package transform derives a shaped view of a successful response's data
// and stores it under the cache entry's meta.transformedData, per spec
// §3.2's "meta: mapping from plugin-chosen string keys to arbitrary
// values (e.g. transformed representations)".
package transform

import (
	"github.com/gocodealone-labs/dataclient/plugin"
)

// MetaKey is the Entry.Meta key the transformed value is stored under.
const MetaKey = "transformedData"

// Plugin runs Fn over a successful response's Data in AfterResponse and
// writes the result into the cache entry's meta map.
type Plugin struct {
	fn  func(data any) any
	ops []plugin.OperationType
}

// New builds a Plugin applying fn to every participating operation's
// successful response data. A nil fn makes the plugin a no-op.
func New(fn func(data any) any, ops ...plugin.OperationType) *Plugin {
	if len(ops) == 0 {
		ops = []plugin.OperationType{plugin.Read, plugin.Pages}
	}
	return &Plugin{fn: fn, ops: ops}
}

func (p *Plugin) Name() string                      { return "transform" }
func (p *Plugin) Operations() []plugin.OperationType { return p.ops }

// AfterResponse writes Fn(resp.Data) into ctx.Store under
// meta.transformedData for ctx.QueryKey, skipping aborted or error
// responses since there is no stable Data to shape.
func (p *Plugin) AfterResponse(ctx *plugin.Context, resp plugin.Response) {
	if p.fn == nil || resp.Aborted || resp.Error != nil || ctx.Store == nil {
		return
	}
	ctx.Store.SetMeta(ctx.QueryKey, map[string]any{MetaKey: p.fn(resp.Data)})
}
