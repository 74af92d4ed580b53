package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocodealone-labs/dataclient/cachestore"
	"github.com/gocodealone-labs/dataclient/eventbus"
	"github.com/gocodealone-labs/dataclient/plugin"
)

func newStore() *cachestore.Store {
	bus := eventbus.New()
	return cachestore.New(bus)
}

func boolPtr(v bool) *bool { return &v }

func TestRunGc_CollectsStaleUnsubscribedEntries(t *testing.T) {
	store := newStore()
	store.SetCache("stale", cachestore.Partial{Stale: boolPtr(true)})
	store.SetCache("fresh", cachestore.Partial{Stale: boolPtr(false)})

	p := New(Config{})
	deps := plugin.InstanceDeps{Store: store}
	api := p.InstanceAPI(deps)

	n := api["runGc"].(func() int)()
	assert.Equal(t, 1, n)
	assert.Nil(t, store.Get("stale"))
	assert.NotNil(t, store.Get("fresh"))
}

func TestRunGc_ProtectsSubscribedEntries(t *testing.T) {
	store := newStore()
	store.SetCache("stale", cachestore.Partial{Stale: boolPtr(true)})
	unsub := store.SubscribeCache("stale", func() {})
	defer unsub()

	p := New(Config{})
	api := p.InstanceAPI(plugin.InstanceDeps{Store: store})

	n := api["runGc"].(func() int)()
	assert.Equal(t, 0, n)
	assert.NotNil(t, store.Get("stale"))
}

func TestRunGc_ProtectSubscribedFalseCollectsAnyway(t *testing.T) {
	store := newStore()
	store.SetCache("stale", cachestore.Partial{Stale: boolPtr(true)})
	unsub := store.SubscribeCache("stale", func() {})
	defer unsub()

	p := New(Config{ProtectSubscribed: boolPtr(false)})
	api := p.InstanceAPI(plugin.InstanceDeps{Store: store})

	n := api["runGc"].(func() int)()
	assert.Equal(t, 1, n)
}

func TestStartStop_RunsPeriodically(t *testing.T) {
	store := newStore()
	store.SetCache("stale", cachestore.Partial{Stale: boolPtr(true)})

	p := New(Config{})
	api := p.InstanceAPI(plugin.InstanceDeps{Store: store})

	start := api["start"].(func(time.Duration))
	stop := api["stop"].(func())

	start(5 * time.Millisecond)
	defer stop()

	require.Eventually(t, func() bool {
		return store.Get("stale") == nil
	}, time.Second, 5*time.Millisecond)
}
