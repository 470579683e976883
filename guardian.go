package zkgroup

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmontgomery/zkgroup/coord"
)

// guardianState is the explicit state value driving the Guardian's dispatch
// loop. There is no transition back to stateInitializing: a failed operation
// in stateRunning stays in stateRunning and retries.
type guardianState int32

const (
	stateInitializing guardianState = iota
	stateRunning
	stateStopping
	stateTerminated
)

func (s guardianState) String() string {
	switch s {
	case stateInitializing:
		return "initializing"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Guardian drives the coordination client through its lifecycle and
// serializes membership lookups. It is the single writer of the state
// machine and the retry counter; everything it owns is reached through its
// run loop, never by concurrent mutation.
type Guardian struct {
	settings  Settings
	key       MemberKey
	client    *Client
	heartbeat *Heartbeat
	retry     *Retrier
	log       *zap.Logger

	// ctx is the shutdown-scoped cancellation source: created at
	// construction, cancelled during teardown, unwinding any in-flight
	// backoff delay or store I/O promptly.
	ctx    context.Context
	cancel context.CancelFunc

	lookups     chan lookupRequest
	stops       chan chan struct{}
	initResults chan initResult

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}
}

type lookupRequest struct {
	service string
	reply   chan []ResolvedTarget
}

type initResult struct {
	err     error
	attempt int
}

// NewGuardian validates settings, resolves the public host into a hostname
// or parsed IP (wildcard addresses are invalid configuration, rejected here
// rather than retried), and wires the client. The store handle passes into
// the client's exclusive ownership.
func NewGuardian(settings Settings, store coord.Store, log *zap.Logger) (*Guardian, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	key, err := resolveKey(settings)
	if err != nil {
		return nil, err
	}
	log = log.With(
		zap.String("guardian", uuid.NewString()),
		zap.String("service", settings.ServiceName),
		zap.String("node", settings.NodeName),
	)
	client := NewClient(settings, key, store, log)
	ctx, cancel := context.WithCancel(context.Background())
	g := &Guardian{
		settings:    settings,
		key:         key,
		client:      client,
		heartbeat:   NewHeartbeat(client, settings, log),
		retry:       NewRetrier(settings.RetryBackoffBase, settings.RetryBackoffMax, settings.OperationTimeout),
		log:         log.Named("guardian"),
		ctx:         ctx,
		cancel:      cancel,
		lookups:     make(chan lookupRequest),
		stops:       make(chan chan struct{}),
		initResults: make(chan initResult, 1),
		done:        make(chan struct{}),
	}
	return g, nil
}

// resolveKey turns the configured public host into a member identity:
// a parsed IP when the string parses (wildcards rejected), a hostname
// otherwise. No DNS resolution happens here.
func resolveKey(settings Settings) (MemberKey, error) {
	if ip := net.ParseIP(settings.Host); ip != nil {
		if ip.IsUnspecified() {
			return MemberKey{}, fmt.Errorf("wildcard host %q is not a valid public address", settings.Host)
		}
		return MemberKey{Address: ip, Port: settings.Port}, nil
	}
	return MemberKey{Host: settings.Host, Port: settings.Port}, nil
}

// Start launches the run loop and the first initialization attempt. It may
// be called exactly once.
func (g *Guardian) Start() error {
	if !g.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go g.run()
	return nil
}

// Stop requests teardown and waits for it to be acknowledged. Duplicate
// stops are acknowledged idempotently; a Stop on a never-started or already
// terminated Guardian returns immediately.
func (g *Guardian) Stop(ctx context.Context) error {
	if !g.started.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case g.stops <- ack:
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup resolves the current members of serviceName. It never returns an
// error to the host: failures, mismatches, overlapping requests, and
// not-yet-initialized states all degrade to an empty result within ctx.
func (g *Guardian) Lookup(ctx context.Context, serviceName string) []ResolvedTarget {
	reply := make(chan []ResolvedTarget, 1)
	select {
	case g.lookups <- lookupRequest{service: serviceName, reply: reply}:
	case <-g.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case targets := <-reply:
		return targets
	case <-g.done:
		return nil
	case <-ctx.Done():
		// dropped or still in flight; the caller sees an empty answer
		return nil
	}
}

// IsLeader reports whether this member currently holds the group
// leadership. Errors degrade to false with the cause logged.
func (g *Guardian) IsLeader(ctx context.Context) bool {
	if g.loadState() != stateRunning {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, g.settings.OperationTimeout)
	defer cancel()
	ok, err := g.client.CheckLeader(opCtx, g.key)
	if err != nil {
		g.log.Warn("leader check failed", zap.Error(err))
		return false
	}
	return ok
}

// Members returns the current membership snapshot, empty unless Running.
func (g *Guardian) Members(ctx context.Context) []GroupMember {
	if g.loadState() != stateRunning {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, g.settings.OperationTimeout)
	defer cancel()
	return g.heartbeat.Lookup(opCtx)
}

func (g *Guardian) loadState() guardianState {
	return guardianState(g.state.Load())
}

// setState is only ever called from the run loop.
func (g *Guardian) setState(s guardianState) {
	old := g.loadState()
	g.state.Store(int32(s))
	g.log.Info("state transition",
		zap.Stringer("from", old), zap.Stringer("to", s))
}

type lookupResult struct {
	reply   chan []ResolvedTarget
	members []GroupMember
}

// run is the single-writer dispatch loop: one select per state, explicit
// transitions, no regression from Running to Initializing.
func (g *Guardian) run() {
	defer close(g.done)
	g.state.Store(int32(stateInitializing))
	g.scheduleInit()

	var (
		inFlight     bool
		recovering   bool
		acks         []chan struct{}
		teardownDone chan struct{}
	)
	lookupDone := make(chan lookupResult, 1)
	recoveryResults := make(chan error, 1)

	for {
		switch g.loadState() {
		case stateInitializing:
			select {
			case res := <-g.initResults:
				if res.err != nil {
					g.log.Warn("initialization failed, retrying",
						zap.Error(res.err), zap.Int("attempt", res.attempt))
					g.scheduleInit()
					continue
				}
				if err := g.heartbeat.Start(g.ctx); err != nil {
					// only possible in the standalone heartbeat shape
					g.log.Warn("heartbeat start failed, retrying", zap.Error(err))
					g.scheduleInit()
					continue
				}
				g.setState(stateRunning)
			case req := <-g.lookups:
				// never block the caller while initializing
				req.reply <- nil
				lookupsTotal.WithLabelValues(g.settings.ServiceName, outcomeEmpty).Inc()
			case ack := <-g.stops:
				acks = append(acks, ack)
				g.setState(stateStopping)
				teardownDone = g.beginTeardown()
			}

		case stateRunning:
			select {
			case req := <-g.lookups:
				if req.service != g.settings.ServiceName {
					g.log.Warn("lookup for foreign service ignored",
						zap.String("requested", req.service))
					lookupsTotal.WithLabelValues(g.settings.ServiceName, outcomeMismatch).Inc()
					continue
				}
				if inFlight {
					g.log.Debug("lookup already in flight, dropping request")
					lookupsTotal.WithLabelValues(g.settings.ServiceName, outcomeDropped).Inc()
					continue
				}
				inFlight = true
				go g.answerLookup(req, lookupDone)
			case err := <-g.client.Failures():
				if recovering {
					continue
				}
				recovering = true
				g.log.Warn("membership refresh failing, recovering", zap.Error(err))
				g.scheduleRecovery(recoveryResults)
			case err := <-recoveryResults:
				if err != nil {
					g.log.Warn("recovery attempt failed, retrying",
						zap.Error(err), zap.Int("attempt", g.retry.Attempts()))
					g.scheduleRecovery(recoveryResults)
					continue
				}
				recovering = false
				g.log.Info("membership refresh recovered")
			case res := <-lookupDone:
				inFlight = false
				res.reply <- targetsOf(res.members)
				outcome := outcomeOK
				if len(res.members) == 0 {
					outcome = outcomeEmpty
				}
				lookupsTotal.WithLabelValues(g.settings.ServiceName, outcome).Inc()
			case ack := <-g.stops:
				acks = append(acks, ack)
				g.setState(stateStopping)
				teardownDone = g.beginTeardown()
			}

		case stateStopping:
			select {
			case req := <-g.lookups:
				req.reply <- nil
				lookupsTotal.WithLabelValues(g.settings.ServiceName, outcomeEmpty).Inc()
			case res := <-lookupDone:
				inFlight = false
				res.reply <- nil
			case ack := <-g.stops:
				acks = append(acks, ack)
			case <-teardownDone:
				for _, ack := range acks {
					close(ack)
				}
				g.setState(stateTerminated)
				return
			}
		}
	}
}

// scheduleInit runs one Client.Start attempt through the retry scheduler.
// Retries are unbounded; only the per-attempt backoff is bounded.
func (g *Guardian) scheduleInit() {
	if g.ctx.Err() != nil {
		return
	}
	initAttemptsTotal.WithLabelValues(g.settings.ServiceName).Inc()
	go func() {
		err := g.retry.Do(g.ctx, g.client.Start)
		select {
		case g.initResults <- initResult{err: err, attempt: g.retry.Attempts()}:
		case <-g.ctx.Done():
		}
	}()
}

// scheduleRecovery runs one Client.Recover attempt through the retry
// scheduler. Like initialization, recovery retries are unbounded while the
// Guardian stays Running; it never regresses to Initializing.
func (g *Guardian) scheduleRecovery(results chan<- error) {
	if g.ctx.Err() != nil {
		return
	}
	recoveriesTotal.WithLabelValues(g.settings.ServiceName).Inc()
	go func() {
		err := g.retry.Do(g.ctx, g.client.Recover)
		select {
		case results <- err:
		case <-g.ctx.Done():
		}
	}()
}

func (g *Guardian) answerLookup(req lookupRequest, done chan<- lookupResult) {
	opCtx, cancel := context.WithTimeout(g.ctx, g.settings.OperationTimeout)
	defer cancel()
	members := g.heartbeat.Lookup(opCtx)
	done <- lookupResult{reply: req.reply, members: members}
}

// beginTeardown unwinds in-flight work and stops the owned children. A
// failed teardown is logged as a warning, not escalated: the member node
// disappears when the session expires, or a prune pass cleans it up later.
func (g *Guardian) beginTeardown() chan struct{} {
	teardownDone := make(chan struct{})
	go func() {
		defer close(teardownDone)
		g.cancel()
		g.heartbeat.Stop()
		if err := g.client.Stop(); err != nil {
			g.log.Warn("teardown incomplete, node entry expires with the session",
				zap.Error(err))
		}
	}()
	return teardownDone
}
