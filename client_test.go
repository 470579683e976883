package zkgroup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmontgomery/zkgroup/coord"
	"github.com/dmontgomery/zkgroup/internal/fakestore"
)

func fastSettings(port int) Settings {
	s := DefaultSettings()
	s.ServiceName = "svc"
	s.NodeName = "grp"
	s.Host = "10.0.0.1"
	s.Port = port
	s.ConnectionString = "fake:2181"
	s.OperationTimeout = time.Second
	s.RetryBackoffBase = time.Millisecond
	s.RetryBackoffMax = 5 * time.Millisecond
	s.ShutdownGrace = 200 * time.Millisecond
	return s
}

func newTestClient(t *testing.T, tree *fakestore.Store, port int) (*Client, *fakestore.Conn) {
	t.Helper()
	settings := fastSettings(port)
	key, err := resolveKey(settings)
	require.NoError(t, err)
	conn := tree.Connect()
	return NewClient(settings, key, conn, nil), conn
}

func TestClientStartRegistersEphemeral(t *testing.T) {
	tree := fakestore.New()
	c, _ := newTestClient(t, tree, 9001)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	inspect := tree.Connect()
	ok, err := inspect.Exists(ctx, "/zkgroup/svc/grp")
	require.NoError(t, err)
	assert.True(t, ok, "group path should exist")

	children, err := inspect.Children(ctx, "/zkgroup/svc/grp")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "n_0000000000", children[0])
	assert.Equal(t, "/zkgroup/svc/grp/n_0000000000", c.OwnPath())

	data, _, err := inspect.Get(ctx, c.OwnPath())
	require.NoError(t, err)
	assert.Equal(t, c.Key().Encode(), data)
}

func TestClientStartTolerantOfConcurrentCreators(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c1, _ := newTestClient(t, tree, 9001)
	c2, _ := newTestClient(t, tree, 9002)
	require.NoError(t, c1.Start(ctx))
	defer c1.Stop()
	require.NoError(t, c2.Start(ctx))
	defer c2.Stop()

	inspect := tree.Connect()
	children, err := inspect.Children(ctx, "/zkgroup/svc/grp")
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestFetchMembersSortsSkipsAndFilters(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c1, _ := newTestClient(t, tree, 9001)
	c2, _ := newTestClient(t, tree, 9002)
	require.NoError(t, c1.Start(ctx))
	defer c1.Stop()
	require.NoError(t, c2.Start(ctx))
	defer c2.Stop()

	// a malformed payload and a non-member sibling must not poison a refresh
	scribbler := tree.Connect()
	_, err := scribbler.Create(ctx, "/zkgroup/svc/grp/n_manual", []byte{0xff}, coord.ModePersistent)
	require.NoError(t, err)
	_, err = scribbler.Create(ctx, "/zkgroup/svc/grp/election", nil, coord.ModePersistent)
	require.NoError(t, err)

	members, err := c1.FetchMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 9001, members[0].Key.Port, "store order: lowest sequence first")
	assert.Equal(t, 9002, members[1].Key.Port)
	for _, m := range members {
		assert.False(t, m.Created.IsZero())
	}
}

func TestWatchTriggeredRefresh(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c1, _ := newTestClient(t, tree, 9001)
	require.NoError(t, c1.Start(ctx))
	defer c1.Stop()

	_, err := c1.FetchMembers(ctx) // arms the watch
	require.NoError(t, err)

	c2, _ := newTestClient(t, tree, 9002)
	require.NoError(t, c2.Start(ctx))
	defer c2.Stop()

	var last []GroupMember
	assert.Eventually(t, func() bool {
		select {
		case last = <-c1.Updates():
		default:
		}
		return len(last) == 2
	}, 2*time.Second, 5*time.Millisecond, "watch should refresh the snapshot without polling")
}

func TestCheckLeaderElectsExactlyOne(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	clients := make([]*Client, 3)
	for i := range clients {
		c, _ := newTestClient(t, tree, 9001+i)
		require.NoError(t, c.Start(ctx))
		clients[i] = c
	}
	defer func() {
		for _, c := range clients {
			c.Stop()
		}
	}()

	// repeated checks are stable and never add participants
	for round := 0; round < 3; round++ {
		leaders := 0
		for _, c := range clients {
			ok, err := c.CheckLeader(ctx, c.Key())
			require.NoError(t, err)
			if ok {
				leaders++
			}
		}
		assert.Equal(t, 1, leaders, "round %d", round)
	}

	// everyone agrees on who the leader is
	ok, err := clients[1].CheckLeader(ctx, clients[0].Key())
	require.NoError(t, err)
	assert.True(t, ok, "first entrant holds the lowest sequence")

	// leadership moves when the leader goes away
	require.NoError(t, clients[0].Stop())
	ok, err = clients[1].CheckLeader(ctx, clients[1].Key())
	require.NoError(t, err)
	assert.True(t, ok, "next participant takes over")
}

func TestClientStopIdempotentAndRemovesNode(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c, _ := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	own := c.OwnPath()

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop(), "second stop is a no-op")

	inspect := tree.Connect()
	ok, err := inspect.Exists(ctx, own)
	require.NoError(t, err)
	assert.False(t, ok, "ephemeral node must be gone after stop")
}

func TestClientSwallowsTransientErrorsDuringShutdown(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c, _ := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop())

	// the session is closed now; a late fetch reports nothing, not an error
	members, err := c.FetchMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestFetchMembersEscalatesFailures(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c, conn := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	conn.InjectError(coord.ErrConnectionLost)
	_, err := c.FetchMembers(ctx)
	require.ErrorIs(t, err, coord.ErrConnectionLost)

	select {
	case got := <-c.Failures():
		assert.ErrorIs(t, got, coord.ErrConnectionLost)
	default:
		t.Fatal("refresh failure was not escalated")
	}
}

func TestClientRecoverKeepsLiveRegistration(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c, _ := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	own := c.OwnPath()

	require.NoError(t, c.Recover(ctx))
	assert.Equal(t, own, c.OwnPath(), "a live registration is left alone")

	inspect := tree.Connect()
	children, err := inspect.Children(ctx, c.GroupPath())
	require.NoError(t, err)
	assert.Len(t, children, 1, "recovery must not register a duplicate")
}

func TestClientRecoverReregistersAfterSessionExpiry(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c, conn := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	old := c.OwnPath()

	conn.ExpireSession()
	require.NoError(t, c.Recover(ctx))

	assert.NotEqual(t, old, c.OwnPath(), "a new member node replaces the expired one")
	inspect := tree.Connect()
	ok, err := inspect.Exists(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok, "old node stays gone")
	ok, err = inspect.Exists(ctx, c.OwnPath())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFetchMembersPropagatesErrorsWhileLive(t *testing.T) {
	tree := fakestore.New()
	ctx := context.Background()

	c, conn := newTestClient(t, tree, 9001)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	conn.InjectError(coord.ErrConnectionLost)
	_, err := c.FetchMembers(ctx)
	require.ErrorIs(t, err, coord.ErrConnectionLost)
}
