// Package coord defines the hierarchical coordination store contract the
// membership client runs against, plus the leader-election recipe built on
// top of it. Backends live in subpackages; tests use internal/fakestore.
package coord

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CreateMode selects the lifetime and naming behavior of a created node.
type CreateMode int

const (
	// ModePersistent nodes survive the creating session.
	ModePersistent CreateMode = iota
	// ModeEphemeralSequential nodes are deleted when the creating session
	// ends and get a store-assigned monotonic suffix appended to their name.
	ModeEphemeralSequential
)

var (
	// ErrNoNode is returned when the addressed node does not exist.
	ErrNoNode = errors.New("coord: node does not exist")
	// ErrNodeExists is returned when creating a node that already exists.
	ErrNodeExists = errors.New("coord: node already exists")
	// ErrConnectionLost is returned when the store connection dropped
	// mid-operation. The session may still be alive server-side.
	ErrConnectionLost = errors.New("coord: connection lost")
	// ErrSessionExpired is returned once the store has declared the session
	// dead. All ephemeral nodes owned by it are gone.
	ErrSessionExpired = errors.New("coord: session expired")
	// ErrClosed is returned on operations against a closed store handle.
	ErrClosed = errors.New("coord: store closed")
)

// Stat carries the node metadata the membership layer cares about.
type Stat struct {
	Created  time.Time
	Modified time.Time
	Version  int32
}

// Event is a one-shot watch notification. Err is set when the watch fired
// because the underlying session or connection went away.
type Event struct {
	Path string
	Err  error
}

// Store is the hierarchical coordination store contract (ZooKeeper
// semantics). Implementations own exactly one session; Close ends it, which
// removes every ephemeral node created through this handle.
type Store interface {
	// WaitConnected blocks until the store reports an established session,
	// not merely a TCP connection.
	WaitConnected(ctx context.Context) error

	Exists(ctx context.Context, path string) (bool, error)

	// Create makes a node and returns its actual path, which for
	// ModeEphemeralSequential includes the store-assigned suffix. The parent
	// must already exist.
	Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error)

	Children(ctx context.Context, path string) ([]string, error)

	// ChildrenW lists children and arms a one-shot watch that fires on the
	// next change to the child set. The watch must be re-armed after firing.
	ChildrenW(ctx context.Context, path string) ([]string, <-chan Event, error)

	Get(ctx context.Context, path string) ([]byte, Stat, error)

	Delete(ctx context.Context, path string) error

	// Close ends the session. Safe to call more than once.
	Close() error
}

// SequenceOf extracts the store-assigned sequence number from a sequential
// node name such as "n_0000000042".
func SequenceOf(name string) (int, bool) {
	i := strings.LastIndexByte(name, '_')
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortBySequence orders sequential node names by their assigned counters.
// Names without a parseable suffix sort last, by name.
func SortBySequence(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, aok := SequenceOf(names[i])
		b, bok := SequenceOf(names[j])
		if aok != bok {
			return aok
		}
		if !aok {
			return names[i] < names[j]
		}
		return a < b
	})
}
