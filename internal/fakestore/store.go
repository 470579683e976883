// Package fakestore is an in-memory hierarchical store implementing
// coord.Store for tests. One Store holds the shared tree; each Connect call
// opens an independent session, so multi-process scenarios can be simulated
// inside a single test.
package fakestore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmontgomery/zkgroup/coord"
)

// Store is the shared tree. Zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	nodes   map[string]*node
	watches map[string][]chan coord.Event
}

type node struct {
	data     []byte
	created  time.Time
	modified time.Time
	version  int32
	owner    string // session id for ephemerals, empty for persistent
	nextSeq  int
}

// New returns a store containing only the root node.
func New() *Store {
	return &Store{
		nodes:   map[string]*node{"/": {created: time.Now(), modified: time.Now()}},
		watches: map[string][]chan coord.Event{},
	}
}

// Connect opens a new session against the shared tree.
func (s *Store) Connect() *Conn {
	return &Conn{store: s, session: uuid.NewString()}
}

// Conn is one session-bound handle implementing coord.Store.
type Conn struct {
	store   *Store
	session string

	mu      sync.Mutex
	errs    []error
	opDelay time.Duration
	closed  bool
	expired bool
}

var _ coord.Store = (*Conn)(nil)

// InjectError queues err to be returned by the next store operation on this
// connection, in FIFO order.
func (c *Conn) InjectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// ExpireSession kills the session without a clean Close: ephemeral nodes are
// removed, watches on their parents fire, and every further operation on
// this connection reports coord.ErrSessionExpired until WaitConnected renews
// the session.
func (c *Conn) ExpireSession() {
	c.mu.Lock()
	c.expired = true
	session := c.session
	c.mu.Unlock()
	c.store.dropSession(session)
}

// SessionID exposes the fake session identity for assertions.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetOpDelay makes every subsequent operation on this connection take at
// least d, for tests that need an in-flight window.
func (c *Conn) SetOpDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opDelay = d
}

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	var err error
	switch {
	case len(c.errs) > 0:
		err = c.errs[0]
		c.errs = c.errs[1:]
	case c.closed:
		err = coord.ErrClosed
	case c.expired:
		err = coord.ErrSessionExpired
	}
	delay := c.opDelay
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// WaitConnected behaves like a real client's redial: on an expired session
// it comes back with a fresh one, whose ephemerals are independent of the
// old session's. A closed connection stays closed.
func (c *Conn) WaitConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	switch {
	case len(c.errs) > 0:
		err := c.errs[0]
		c.errs = c.errs[1:]
		c.mu.Unlock()
		return err
	case c.closed:
		c.mu.Unlock()
		return coord.ErrClosed
	}
	if c.expired {
		c.expired = false
		c.session = uuid.NewString()
	}
	delay := c.opDelay
	c.mu.Unlock()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (c *Conn) Exists(ctx context.Context, path string) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	_, ok := c.store.nodes[path]
	return ok, nil
}

func (c *Conn) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	session := c.SessionID()
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	actual := path
	var parentPath string
	if mode == coord.ModeEphemeralSequential {
		// path is a prefix; the name gets a padded counter appended.
		parentPath = parentOf(path)
		parent, ok := c.store.nodes[parentPath]
		if !ok {
			return "", coord.ErrNoNode
		}
		actual = fmt.Sprintf("%s%010d", path, parent.nextSeq)
		parent.nextSeq++
	} else {
		parentPath = parentOf(path)
		if _, ok := c.store.nodes[parentPath]; !ok {
			return "", coord.ErrNoNode
		}
		if _, ok := c.store.nodes[path]; ok {
			return "", coord.ErrNodeExists
		}
	}

	now := time.Now()
	n := &node{data: append([]byte(nil), data...), created: now, modified: now}
	if mode == coord.ModeEphemeralSequential {
		n.owner = session
	}
	c.store.nodes[actual] = n
	c.store.fireLocked(parentPath)
	return actual, nil
}

func (c *Conn) Children(ctx context.Context, path string) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.childrenLocked(path)
}

func (c *Conn) ChildrenW(ctx context.Context, path string) ([]string, <-chan coord.Event, error) {
	if err := c.check(ctx); err != nil {
		return nil, nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	children, err := c.store.childrenLocked(path)
	if err != nil {
		return nil, nil, err
	}
	watch := make(chan coord.Event, 1)
	c.store.watches[path] = append(c.store.watches[path], watch)
	return children, watch, nil
}

func (c *Conn) Get(ctx context.Context, path string) ([]byte, coord.Stat, error) {
	if err := c.check(ctx); err != nil {
		return nil, coord.Stat{}, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	n, ok := c.store.nodes[path]
	if !ok {
		return nil, coord.Stat{}, coord.ErrNoNode
	}
	stat := coord.Stat{Created: n.created, Modified: n.modified, Version: n.version}
	return append([]byte(nil), n.data...), stat, nil
}

func (c *Conn) Delete(ctx context.Context, path string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if _, ok := c.store.nodes[path]; !ok {
		return coord.ErrNoNode
	}
	delete(c.store.nodes, path)
	c.store.fireLocked(parentOf(path))
	return nil
}

// Close ends the session cleanly. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	session := c.session
	c.mu.Unlock()
	c.store.dropSession(session)
	return nil
}

func (s *Store) childrenLocked(path string) ([]string, error) {
	if _, ok := s.nodes[path]; !ok {
		return nil, coord.ErrNoNode
	}
	prefix := path + "/"
	if path == "/" {
		prefix = "/"
	}
	var names []string
	for p := range s.nodes {
		if p == "/" || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" || strings.ContainsRune(rest, '/') {
			continue
		}
		names = append(names, rest)
	}
	return names, nil
}

func (s *Store) dropSession(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, n := range s.nodes {
		if n.owner == session {
			delete(s.nodes, p)
			s.fireLocked(parentOf(p))
		}
	}
}

// fireLocked delivers one event to every watch armed on path and disarms
// them. Watch channels are buffered so delivery never blocks.
func (s *Store) fireLocked(path string) {
	for _, w := range s.watches[path] {
		w <- coord.Event{Path: path}
	}
	delete(s.watches, path)
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}
