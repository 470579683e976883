package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// electionPrefix names the participant nodes under an election root.
const electionPrefix = "e_"

// ErrNoLeader is returned by Leader when the election has no participants.
var ErrNoLeader = errors.New("coord: election has no participants")

// Election is the lowest-sequence leader-election recipe over a Store. Every
// participant creates one ephemeral sequential node under the election root
// carrying its identity; the participant with the lowest sequence holds
// leadership until its node disappears.
//
// Enter binds this participant at most once; Leader can be queried
// repeatedly without creating additional participants.
type Election struct {
	store Store
	root  string
	id    []byte

	mu      sync.Mutex
	ownPath string
}

// NewElection prepares an election rooted at root for a participant
// identified by id. No store I/O happens until Enter.
func NewElection(store Store, root string, id []byte) *Election {
	return &Election{store: store, root: root, id: id}
}

// Enter joins the election. Calling Enter on an election that already holds
// a participant node is a no-op.
func (e *Election) Enter(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ownPath != "" {
		return nil
	}
	if _, err := e.store.Create(ctx, e.root, nil, ModePersistent); err != nil && !errors.Is(err, ErrNodeExists) {
		return fmt.Errorf("create election root %s: %w", e.root, err)
	}
	own, err := e.store.Create(ctx, e.root+"/"+electionPrefix, e.id, ModeEphemeralSequential)
	if err != nil {
		return fmt.Errorf("enter election %s: %w", e.root, err)
	}
	e.ownPath = own
	return nil
}

// Participating reports whether this election holds a participant node.
func (e *Election) Participating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ownPath != ""
}

// Leader returns the identity of the current leader. A participant that
// vanishes between listing and reading is treated as resigned and the next
// candidate is consulted.
func (e *Election) Leader(ctx context.Context) ([]byte, error) {
	children, err := e.store.Children(ctx, e.root)
	if err != nil {
		return nil, err
	}
	candidates := children[:0]
	for _, name := range children {
		if _, ok := SequenceOf(name); ok {
			candidates = append(candidates, name)
		}
	}
	SortBySequence(candidates)
	for _, name := range candidates {
		data, _, err := e.store.Get(ctx, e.root+"/"+name)
		if errors.Is(err, ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, ErrNoLeader
}

// Resign removes this participant's node. Safe to call without a prior
// Enter, or when the node already expired with the session.
func (e *Election) Resign(ctx context.Context) error {
	e.mu.Lock()
	own := e.ownPath
	e.ownPath = ""
	e.mu.Unlock()
	if own == "" {
		return nil
	}
	if err := e.store.Delete(ctx, own); err != nil && !errors.Is(err, ErrNoNode) {
		return fmt.Errorf("resign election %s: %w", e.root, err)
	}
	return nil
}
