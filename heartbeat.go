package zkgroup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dmontgomery/zkgroup/coord"
)

// Heartbeat is the companion that holds the live session-bound registration's
// member cache and answers membership queries. It consumes watch-triggered
// snapshots from the client; when asked while the cache is empty it forces a
// refresh first, because an empty cache is indistinguishable from "not yet
// synchronized" and a stale empty answer would wrongly suggest the service
// has no members.
//
// Two deployment shapes share this contract: the Guardian hands it an
// already registered client, or a standalone Heartbeat owns its own client
// and registers it on Start.
type Heartbeat struct {
	client     *Client
	settings   Settings
	log        *zap.Logger
	ownsClient bool

	lookups   chan memberQuery
	refreshes chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

type memberQuery struct {
	reply chan []GroupMember
}

// NewHeartbeat wires the companion to a client whose registration the
// caller manages.
func NewHeartbeat(client *Client, settings Settings, log *zap.Logger) *Heartbeat {
	if log == nil {
		log = zap.NewNop()
	}
	return &Heartbeat{
		client:    client,
		settings:  settings,
		log:       log.Named("heartbeat"),
		lookups:   make(chan memberQuery),
		refreshes: make(chan struct{}, 1),
	}
}

// NewStandaloneHeartbeat builds a companion owning its own client; Start
// registers with the store before serving lookups.
func NewStandaloneHeartbeat(settings Settings, store coord.Store, log *zap.Logger) (*Heartbeat, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	key, err := resolveKey(settings)
	if err != nil {
		return nil, err
	}
	h := NewHeartbeat(NewClient(settings, key, store, log), settings, log)
	h.ownsClient = true
	return h, nil
}

// Start begins serving queries. For the standalone shape it first registers
// the owned client, propagating any failure. Calling Start twice is a no-op.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	h.mu.Unlock()

	if h.ownsClient {
		if err := h.client.Start(ctx); err != nil {
			h.mu.Lock()
			h.started = false
			h.mu.Unlock()
			return err
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	go h.run(runCtx)
	return nil
}

// Stop ends the query loop; for the standalone shape it also stops the
// owned client. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if h.ownsClient {
		_ = h.client.Stop()
	}
}

// Lookup answers with the current member snapshot. It never blocks past ctx;
// an unreachable companion degrades to an empty answer.
func (h *Heartbeat) Lookup(ctx context.Context) []GroupMember {
	q := memberQuery{reply: make(chan []GroupMember, 1)}
	select {
	case h.lookups <- q:
	case <-ctx.Done():
		return nil
	}
	select {
	case members := <-q.reply:
		return members
	case <-ctx.Done():
		return nil
	}
}

// ForceRefresh asks the companion to refetch membership out of band. The
// signal coalesces if one is already pending.
func (h *Heartbeat) ForceRefresh() {
	select {
	case h.refreshes <- struct{}{}:
	default:
	}
}

// run owns the cache. The cache is only ever replaced wholesale, never
// mutated in place.
func (h *Heartbeat) run(ctx context.Context) {
	updates := h.client.Updates()
	var cache []GroupMember
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-updates:
			cache = snapshot
		case <-h.refreshes:
			if members, ok := h.refresh(ctx); ok {
				cache = members
			}
		case q := <-h.lookups:
			if len(cache) == 0 {
				if members, ok := h.refresh(ctx); ok {
					cache = members
				}
			}
			q.reply <- append([]GroupMember(nil), cache...)
		}
	}
}

func (h *Heartbeat) refresh(ctx context.Context) ([]GroupMember, bool) {
	opCtx, cancel := context.WithTimeout(ctx, h.settings.OperationTimeout)
	defer cancel()
	members, err := h.client.FetchMembers(opCtx)
	if err != nil {
		h.log.Warn("forced membership refresh failed", zap.Error(err))
		return nil, false
	}
	return members, true
}
