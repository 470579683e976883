// Package zk implements the coord.Store contract on a real ZooKeeper
// ensemble via github.com/go-zookeeper/zk.
package zk

import (
	"context"
	"time"

	gozk "github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"github.com/dmontgomery/zkgroup/coord"
)

// Options configure the ZooKeeper-backed store.
type Options struct {
	// Servers lists ensemble member addresses (host:port).
	Servers []string
	// SessionTimeout is negotiated with the ensemble; ephemeral nodes
	// survive disconnects shorter than this.
	SessionTimeout time.Duration
	// Logger receives connection state logging. Nil disables it.
	Logger *zap.Logger
}

// Store holds one ZooKeeper connection and its session.
type Store struct {
	conn   *gozk.Conn
	events <-chan gozk.Event
}

var _ coord.Store = (*Store)(nil)

// New dials the ensemble. The connection is established asynchronously;
// callers should WaitConnected before relying on session semantics.
func New(opts Options) (*Store, error) {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 10 * time.Second
	}
	var (
		conn   *gozk.Conn
		events <-chan gozk.Event
		err    error
	)
	if opts.Logger != nil {
		conn, events, err = gozk.Connect(opts.Servers, opts.SessionTimeout,
			gozk.WithLogger(zap.NewStdLog(opts.Logger)))
	} else {
		conn, events, err = gozk.Connect(opts.Servers, opts.SessionTimeout)
	}
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn, events: events}, nil
}

// WaitConnected blocks until the session is established with the ensemble.
func (s *Store) WaitConnected(ctx context.Context) error {
	if s.conn.State() == gozk.StateHasSession {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return coord.ErrConnectionLost
			}
			switch ev.State {
			case gozk.StateHasSession:
				return nil
			case gozk.StateExpired:
				return coord.ErrSessionExpired
			case gozk.StateAuthFailed:
				return coord.ErrConnectionLost
			}
		}
	}
}

func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, _, err := s.conn.Exists(path)
	return ok, mapErr(err)
}

func (s *Store) Create(ctx context.Context, path string, data []byte, mode coord.CreateMode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var flags int32
	if mode == coord.ModeEphemeralSequential {
		flags = gozk.FlagEphemeral | gozk.FlagSequence
	}
	created, err := s.conn.Create(path, data, flags, gozk.WorldACL(gozk.PermAll))
	return created, mapErr(err)
}

func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, _, err := s.conn.Children(path)
	return children, mapErr(err)
}

func (s *Store) ChildrenW(ctx context.Context, path string) ([]string, <-chan coord.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	children, _, watch, err := s.conn.ChildrenW(path)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	out := make(chan coord.Event, 1)
	go func() {
		ev, ok := <-watch
		if !ok {
			out <- coord.Event{Path: path, Err: coord.ErrConnectionLost}
			return
		}
		out <- coord.Event{Path: ev.Path, Err: mapErr(ev.Err)}
	}()
	return children, out, nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, coord.Stat, error) {
	if err := ctx.Err(); err != nil {
		return nil, coord.Stat{}, err
	}
	data, stat, err := s.conn.Get(path)
	if err != nil {
		return nil, coord.Stat{}, mapErr(err)
	}
	return data, coord.Stat{
		Created:  time.UnixMilli(stat.Ctime),
		Modified: time.UnixMilli(stat.Mtime),
		Version:  stat.Version,
	}, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(s.conn.Delete(path, -1))
}

// Close ends the session, removing this process's ephemeral nodes
// server-side.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

func mapErr(err error) error {
	switch err {
	case nil:
		return nil
	case gozk.ErrNoNode:
		return coord.ErrNoNode
	case gozk.ErrNodeExists:
		return coord.ErrNodeExists
	case gozk.ErrSessionExpired, gozk.ErrSessionMoved:
		return coord.ErrSessionExpired
	case gozk.ErrConnectionClosed, gozk.ErrNoServer, gozk.ErrClosing:
		return coord.ErrConnectionLost
	default:
		return err
	}
}
