// Package prefetch exposes an instanceApi.prefetch(cfg) function (spec
// §6.3) that mounts a throwaway query.Controller, waits for its initial
// fetch to settle, and unmounts it — populating the cache for a key a
// caller expects to read imminently without holding a live controller.
package prefetch

import (
	"context"

	"github.com/gocodealone-labs/dataclient/plugin"
	"github.com/gocodealone-labs/dataclient/query"
	"github.com/gocodealone-labs/dataclient/transport"
)

// Plugin is an InstanceAPIPlugin with no middleware or lifecycle
// participation of its own.
type Plugin struct{}

// New builds a prefetch Plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string                      { return "prefetch" }
func (p *Plugin) Operations() []plugin.OperationType { return nil }

// InstanceAPI returns {"prefetch": func(ctx context.Context, cfg
// query.Config) transport.Response}. The throwaway controller is unmounted
// before returning, regardless of outcome, since its only purpose is to
// populate the shared cache entry other controllers will read.
func (p *Plugin) InstanceAPI(deps plugin.InstanceDeps) map[string]any {
	return map[string]any{
		"prefetch": func(ctx context.Context, cfg query.Config) transport.Response {
			ctrl := query.New(deps.Executor, deps.Store, deps.Bus, deps.FetchFunc, cfg)
			if err := ctrl.Mount(); err != nil {
				return transport.Response{Status: 0, Error: err}
			}
			defer ctrl.Unmount()

			future := ctrl.Fetch(false)
			resp, _ := future.Wait(ctx)
			return resp
		},
	}
}
