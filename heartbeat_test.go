package zkgroup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmontgomery/zkgroup/internal/fakestore"
)

func TestHeartbeatForcesRefreshWhenCacheEmpty(t *testing.T) {
	tree := fakestore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	h := NewHeartbeat(c, fastSettings(9001), nil)
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	// nothing was ever fetched; an empty cache must not produce a stale
	// empty answer
	members := h.Lookup(ctx)
	require.Len(t, members, 1)
	assert.Equal(t, 9001, members[0].Key.Port)
}

func TestHeartbeatTracksWatchUpdates(t *testing.T) {
	tree := fakestore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c1, _ := newTestClient(t, tree, 9001)
	require.NoError(t, c1.Start(ctx))
	defer c1.Stop()

	h := NewHeartbeat(c1, fastSettings(9001), nil)
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	require.Len(t, h.Lookup(ctx), 1) // primes cache and arms the watch

	c2, _ := newTestClient(t, tree, 9002)
	require.NoError(t, c2.Start(ctx))
	defer c2.Stop()

	assert.Eventually(t, func() bool {
		lookupCtx, lookupCancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer lookupCancel()
		return len(h.Lookup(lookupCtx)) == 2
	}, 2*time.Second, 10*time.Millisecond, "cache should pick up the watch-triggered snapshot")
}

func TestHeartbeatStandaloneShape(t *testing.T) {
	tree := fakestore.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := fastSettings(9007)
	conn := tree.Connect()
	h, err := NewStandaloneHeartbeat(settings, conn, nil)
	require.NoError(t, err)

	require.NoError(t, h.Start(ctx))
	members := h.Lookup(ctx)
	require.Len(t, members, 1)
	assert.Equal(t, 9007, members[0].Key.Port)

	h.Stop()
	inspect := tree.Connect()
	children, err := inspect.Children(context.Background(), settings.GroupPath())
	require.NoError(t, err)
	assert.Empty(t, children, "standalone stop must deregister its own client")
}

func TestHeartbeatLookupHonorsContext(t *testing.T) {
	tree := fakestore.New()
	c, _ := newTestClient(t, tree, 9001)
	h := NewHeartbeat(c, fastSettings(9001), nil)
	// never started: the loop is not serving

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Nil(t, h.Lookup(ctx), "lookup must not block past its context")
}
