package zkgroup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dmontgomery/zkgroup/coord"
)

// Client owns the connection and session to the coordination store. It
// registers this process as an ephemeral sequential member node, keeps the
// membership fresh through a self-rearming children watch, and exposes the
// leader-election primitives.
//
// Session lifecycle belongs exclusively to the Client: no other component
// may open or close it.
type Client struct {
	settings Settings
	key      MemberKey
	store    coord.Store
	log      *zap.Logger

	groupPath    string
	electionPath string

	// updates carries watch-triggered snapshots to whoever holds the cache.
	updates chan []GroupMember
	// failures surfaces refresh errors the client cannot repair on its own;
	// the owner consumes them and drives Recover. Only the latest failure is
	// retained.
	failures chan error
	// armed hands each freshly armed one-shot watch to the watch loop.
	// Re-arming is a loop over this channel, not recursion, so stack depth
	// stays bounded under membership churn.
	armed chan (<-chan coord.Event)

	mu          sync.Mutex
	ownPath     string
	election    *coord.Election
	watchCancel context.CancelFunc
	stopped     bool

	stopping atomic.Bool
}

// NewClient wires a client for the given member identity. No store I/O
// happens until Start.
func NewClient(settings Settings, key MemberKey, store coord.Store, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	groupPath := settings.GroupPath()
	return &Client{
		settings:     settings,
		key:          key,
		store:        store,
		log:          log.Named("client"),
		groupPath:    groupPath,
		electionPath: groupPath + "/" + electionNode,
		updates:      make(chan []GroupMember, 1),
		failures:     make(chan error, 1),
		armed:        make(chan (<-chan coord.Event), 1),
	}
}

// Key returns the member identity this client registers.
func (c *Client) Key() MemberKey { return c.key }

// GroupPath returns the store path of the membership group.
func (c *Client) GroupPath() string { return c.groupPath }

// OwnPath returns the actual path of this process's member node, empty
// before a successful Start.
func (c *Client) OwnPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownPath
}

// Start waits for an established session, creates missing ancestor nodes in
// dependency order (a concurrent creator's success is not an error), then
// registers this process as an ephemeral sequential child carrying the
// encoded member key.
//
// A group root still absent after ancestor creation fails with
// ErrInitialization; that points at a store-side problem and is left to the
// caller's retry policy.
func (c *Client) Start(ctx context.Context) error {
	if err := c.store.WaitConnected(ctx); err != nil {
		return err
	}
	for _, p := range Ancestors(c.groupPath) {
		ok, err := c.store.Exists(ctx, p)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := c.store.Create(ctx, p, nil, coord.ModePersistent); err != nil && !errors.Is(err, coord.ErrNodeExists) {
			return err
		}
	}
	ok, err := c.store.Exists(ctx, c.groupPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInitialization, c.groupPath)
	}
	own, err := c.store.Create(ctx, c.groupPath+"/"+memberPrefix, c.key.Encode(), coord.ModeEphemeralSequential)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ownPath = own
	if c.watchCancel == nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		c.watchCancel = cancel
		go c.watchLoop(watchCtx)
	}
	c.mu.Unlock()
	c.log.Info("registered member",
		zap.String("path", own),
		zap.String("endpoint", c.key.Endpoint()))
	return nil
}

// FetchMembers lists the group's children, reads each member entry, and
// re-arms the one-shot children watch so the next change triggers another
// fetch. The returned snapshot is self-consistent: all entries were read
// under one listing. Malformed entries are skipped and logged, never abort
// the refresh.
func (c *Client) FetchMembers(ctx context.Context) ([]GroupMember, error) {
	children, watch, err := c.store.ChildrenW(ctx, c.groupPath)
	if err != nil {
		return nil, c.fail(err)
	}
	c.armWatch(watch)
	coord.SortBySequence(children)
	members := make([]GroupMember, 0, len(children))
	for _, name := range children {
		if !strings.HasPrefix(name, memberPrefix) {
			// election bookkeeping lives under a sibling node
			continue
		}
		path := c.groupPath + "/" + name
		data, stat, err := c.store.Get(ctx, path)
		if errors.Is(err, coord.ErrNoNode) {
			// member left between listing and read
			continue
		}
		if err != nil {
			return nil, c.fail(err)
		}
		key, err := DecodeMemberKey(data)
		if err != nil {
			c.log.Warn("skipping malformed member entry",
				zap.String("path", path), zap.Error(err))
			continue
		}
		members = append(members, GroupMember{
			Name:     name,
			Path:     path,
			Data:     data,
			Created:  stat.Created,
			Modified: stat.Modified,
			Key:      key,
		})
	}
	c.publish(members)
	membershipSize.WithLabelValues(c.settings.ServiceName).Set(float64(len(members)))
	return members, nil
}

// Updates delivers watch-triggered membership snapshots. Only the latest
// snapshot is retained if the consumer lags.
func (c *Client) Updates() <-chan []GroupMember { return c.updates }

// Failures delivers refresh errors that need Recover. Only the latest
// failure is retained.
func (c *Client) Failures() <-chan error { return c.failures }

// Recover repairs the client after a refresh failure: it waits for a live
// session, re-registers if the member node vanished with the old session,
// forgets election participation bound to that session, and refreshes the
// membership, which also re-arms the children watch.
func (c *Client) Recover(ctx context.Context) error {
	if c.stopping.Load() {
		return nil
	}
	if err := c.store.WaitConnected(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	own := c.ownPath
	election := c.election
	c.mu.Unlock()

	registered := false
	if own != "" {
		ok, err := c.store.Exists(ctx, own)
		if err != nil {
			return err
		}
		registered = ok
	}
	if !registered {
		if err := c.Start(ctx); err != nil {
			return err
		}
		if election != nil {
			// the participant node died with the old session; forget it so
			// the next leader check re-enters
			if err := election.Resign(ctx); err != nil {
				c.log.Debug("election reset failed during recovery", zap.Error(err))
			}
		}
		c.log.Info("re-registered after losing member node",
			zap.String("path", c.OwnPath()))
	}
	_, err := c.FetchMembers(ctx)
	return err
}

// CheckLeader reports whether the currently elected leader's key equals the
// given key. The election is bound to this client's own key on first call
// and only queried afterwards; repeated calls never create duplicate
// participants.
func (c *Client) CheckLeader(ctx context.Context, key MemberKey) (bool, error) {
	c.mu.Lock()
	if c.election == nil {
		c.election = coord.NewElection(c.store, c.electionPath, c.key.Encode())
	}
	election := c.election
	c.mu.Unlock()

	if err := election.Enter(ctx); err != nil {
		return false, c.suppress(err)
	}
	leader, err := election.Leader(ctx)
	if errors.Is(err, coord.ErrNoLeader) {
		return false, nil
	}
	if err != nil {
		return false, c.suppress(err)
	}
	return bytes.Equal(leader, key.Encode()), nil
}

// Stop resigns any election participation and closes the session, which
// removes this process's ephemeral node server-side. Idempotent: a second
// Stop is a no-op. Transient store errors during an intentional shutdown are
// swallowed.
func (c *Client) Stop() error {
	c.stopping.Store(true)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	election := c.election
	cancel := c.watchCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if election != nil && election.Participating() {
		ctx, cancelResign := context.WithTimeout(context.Background(), c.settings.ShutdownGrace)
		if err := election.Resign(ctx); err != nil {
			c.log.Debug("election resign failed during stop", zap.Error(err))
		}
		cancelResign()
	}
	if err := c.store.Close(); err != nil {
		c.log.Debug("store close failed", zap.Error(err))
	}
	c.log.Info("client stopped")
	return nil
}

// watchLoop turns one-shot watch firings into refreshes. Each successful
// FetchMembers arms the next watch, so the loop is driven entirely by the
// armed channel.
func (c *Client) watchLoop(ctx context.Context) {
	for {
		var watch <-chan coord.Event
		select {
		case <-ctx.Done():
			return
		case watch = <-c.armed:
		}
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watch:
			if !ok {
				continue
			}
			if ev.Err != nil {
				if c.stopping.Load() {
					return
				}
				c.log.Warn("membership watch error", zap.Error(ev.Err))
			}
			watchEventsTotal.WithLabelValues(c.settings.ServiceName).Inc()
			refreshCtx, cancel := context.WithTimeout(ctx, c.settings.OperationTimeout)
			if _, err := c.FetchMembers(refreshCtx); err != nil {
				c.log.Warn("watch-triggered refresh failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (c *Client) armWatch(watch <-chan coord.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.armed:
		// superseded watch never handed to the loop; drop it
	default:
	}
	c.armed <- watch
}

// publish replaces the pending snapshot wholesale; a lagging consumer only
// ever sees the latest state.
func (c *Client) publish(members []GroupMember) {
	for {
		select {
		case c.updates <- members:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}

// fail escalates a refresh error to whoever drives recovery. Session expiry
// additionally invalidates the published snapshot: the store has dropped this
// process's own node, so serving the old member list would be a lie.
func (c *Client) fail(err error) error {
	err = c.suppress(err)
	if err == nil {
		return nil
	}
	if errors.Is(err, coord.ErrSessionExpired) {
		c.publish(nil)
	}
	select {
	case c.failures <- err:
	default:
	}
	return err
}

// suppress swallows connection and session errors while an intentional
// shutdown is in progress; everything else escalates to the caller.
func (c *Client) suppress(err error) error {
	if err == nil {
		return nil
	}
	if c.stopping.Load() &&
		(errors.Is(err, coord.ErrConnectionLost) ||
			errors.Is(err, coord.ErrSessionExpired) ||
			errors.Is(err, coord.ErrClosed)) {
		c.log.Debug("store error suppressed during shutdown", zap.Error(err))
		return nil
	}
	return err
}
