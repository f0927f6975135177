// Package client implements the client-side Viewstamped Replication
// engine: submitting an operation, tracking its state through leader
// redirects and retries, and recognizing when it has been persisted.
//
// Unlike replica.Engine, the client engine has essentially no grounding
// in the original source beyond its interface shape (ConsumeCliMsg/
// ConsumeReply are empty stubs there); its behavior here is built from
// the protocol's prose description of client-side retry and redirect
// handling, in the same mutex-guarded engine style as replica.Engine.
package client

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dedis/vsrepl/dispatch"
	"github.com/dedis/vsrepl/msgs"
)

// OpState describes where a submitted operation is in its lifecycle. The
// numeric values are stable across releases since callers may persist
// them; DoesntExist and JustStarted deliberately leave gaps (1, 7) so new
// intermediate states can be inserted later without renumbering neighbors.
type OpState int

const (
	// DoesntExist means DeleteOpID was called, or the op was never
	// started.
	DoesntExist OpState = 1
	// JustStarted is returned by StartOp the first time it sends an op;
	// the op's stored state moves straight to Ongoing from that point on.
	JustStarted OpState = 7
	// Ongoing means the op has been sent at least once and no quorum of
	// PersistedCliOp acks has arrived yet.
	Ongoing OpState = 8
	// Consumed means a strict majority of replicas have confirmed commit.
	Consumed OpState = 9
)

func (s OpState) String() string {
	switch s {
	case DoesntExist:
		return "DoesntExist"
	case JustStarted:
		return "JustStarted"
	case Ongoing:
		return "Ongoing"
	case Consumed:
		return "Consumed"
	default:
		return "Unknown"
	}
}

// DefaultRetryInterval is how long TimeTick is driven at when Start is used.
const DefaultRetryInterval = 300 * time.Millisecond

// DefaultTimeoutTick is how many TimeTick calls an op waits, without a
// PersistedCliOp arriving, before being resent to the next replica.
const DefaultTimeoutTick = 5

// initialOpID seeds the cliopid counter, matching the numeric identity
// JustStarted's state value happens to share.
const initialOpID = 7

type opRecord struct {
	op               msgs.ClientOp
	state            OpState
	tickCount        int
	lastReplicaTried uint32
	receivedFrom     map[uint32]struct{}
}

// Engine is one client's retry/redirect state machine. It tracks any
// number of concurrently in-flight operations by CliOpID.
type Engine struct {
	mu sync.Mutex

	clientID      uint32
	totReplicas   int
	consensusMin  int
	dispatcher    dispatch.ClientDispatcher
	retryInterval time.Duration
	timeoutTick   int
	log           *logrus.Entry
	metrics       *Metrics

	view     uint32
	nextOpID uint64

	ops map[uint64]*opRecord

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures optional Engine behavior, mirroring replica.Option.
type Option func(*Engine)

// WithLogger overrides the default logrus.StandardLogger()-derived entry.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.log = l.WithFields(logrus.Fields{}) }
}

// WithMetrics attaches a Metrics sink. Nil (the default) disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) { e.retryInterval = d }
}

// WithTimeoutTick overrides DefaultTimeoutTick.
func WithTimeoutTick(n int) Option {
	return func(e *Engine) { e.timeoutTick = n }
}

// New creates a client engine identified by clientID, talking to a
// cluster of totReplicas replicas through dp.
func New(clientID uint32, totReplicas int, dp dispatch.ClientDispatcher, opts ...Option) *Engine {
	if totReplicas < 3 {
		panic(errors.Errorf("client: totReplicas must be >= 3, got %d", totReplicas))
	}
	e := &Engine{
		clientID:      clientID,
		totReplicas:   totReplicas,
		consensusMin:  totReplicas / 2,
		dispatcher:    dp,
		retryInterval: DefaultRetryInterval,
		timeoutTick:   DefaultTimeoutTick,
		nextOpID:      initialOpID,
		ops:           make(map[uint64]*opRecord),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	e.log = logrus.StandardLogger().WithFields(logrus.Fields{
		"component": "client",
		"client":    clientID,
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the background retry-tick goroutine.
func (e *Engine) Start() {
	go e.tickLoop()
}

// Stop signals the tick goroutine to exit and waits for it.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) tickLoop() {
	defer close(e.doneCh)
	t := time.NewTicker(e.retryInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			e.TimeTick()
		}
	}
}

// currentLeader derives the believed leader from the last view this
// client has observed from any replica; the client tracks no separate
// leader field since the leader of a view is always view mod totReplicas.
func (e *Engine) currentLeader() uint32 {
	return e.view % uint32(e.totReplicas)
}

// setView adopts v as the client's last observed view. Adopting a higher
// view invalidates every op's previously collected consensus acks, since
// those acks were counted against a view a new leader may have reverted.
func (e *Engine) setView(v uint32) {
	if v < e.view {
		return
	}
	if v > e.view {
		for _, rec := range e.ops {
			rec.receivedFrom = nil
		}
	}
	e.view = v
}

// InitOp allocates a fresh cliopid from a monotonic counter and registers
// opStr under it with state DoesntExist, without sending anything.
func (e *Engine) InitOp(opStr string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextOpID
	e.nextOpID++
	e.ops[id] = &opRecord{
		op:    msgs.ClientOp{ClientID: e.clientID, CliOpID: id, OpStr: opStr},
		state: DoesntExist,
	}
	return id
}

// StartOp submits cliOpID's operation to the believed leader the first
// time it's called for a DoesntExist op, returning JustStarted for that
// call. Every later call is a no-op that just reports the op's current
// state (Ongoing or Consumed) without resending. Unknown ids report
// DoesntExist.
func (e *Engine) StartOp(cliOpID uint64) OpState {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.ops[cliOpID]
	if !ok {
		return DoesntExist
	}
	if rec.state != DoesntExist {
		return rec.state
	}

	rec.lastReplicaTried = e.currentLeader()
	rec.state = Ongoing
	e.dispatcher.SendToReplica(rec.lastReplicaTried, rec.op)
	if e.metrics != nil {
		e.metrics.opsSent.Inc()
	}
	return JustStarted
}

// DeleteOpID drops tracking state for cliOpID if it is safe to do so:
// -1 if cliOpID is unknown, -2 if it is still in flight (Ongoing), 0 once
// removed.
func (e *Engine) DeleteOpID(cliOpID uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.ops[cliOpID]
	if !ok {
		return -1
	}
	if rec.state == Ongoing || rec.state == JustStarted {
		return -2
	}
	delete(e.ops, cliOpID)
	return 0
}

// OpStateOf reports cliOpID's current lifecycle state.
func (e *Engine) OpStateOf(cliOpID uint64) OpState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.ops[cliOpID]
	if !ok {
		return DoesntExist
	}
	return rec.state
}

// TimeTick advances every in-flight op's retry countdown. Once an op has
// waited timeoutTick ticks without reaching Consumed, it round-robins to
// the next replica (starting from the leader it was first sent to) and
// resends.
func (e *Engine) TimeTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.ops {
		if rec.state != Ongoing {
			continue
		}
		rec.tickCount++
		if rec.tickCount < e.timeoutTick {
			continue
		}
		rec.tickCount = 0
		rec.lastReplicaTried = (rec.lastReplicaTried + 1) % uint32(e.totReplicas)
		e.dispatcher.SendToReplica(rec.lastReplicaTried, rec.op)
		if e.metrics != nil {
			e.metrics.retries.Inc()
		}
	}
}

// ConsumeLeaderRedirect ignores a redirect for a view older than the
// client's own. Otherwise it adopts m.View and resubmits to m.Leader every
// op that has been started and hasn't reached Consumed; ops still in
// DoesntExist are not sent.
func (e *Engine) ConsumeLeaderRedirect(m msgs.LeaderRedirect) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m.View < e.view {
		return
	}
	e.setView(m.View)

	for _, rec := range e.ops {
		if rec.state == DoesntExist || rec.state == Consumed {
			continue
		}
		rec.state = Ongoing
		rec.tickCount = 0
		rec.lastReplicaTried = m.Leader
		e.dispatcher.SendToReplica(m.Leader, rec.op)
	}
}

// ConsumePersistedCliOp records from's acknowledgement of m.CliOpID and
// marks it Consumed once a strict majority of distinct replicas have
// confirmed it. A single ack is not enough: the dispatcher contract
// allows duplicated or stale deliveries, so consensus is counted the same
// way a replica counts PrepareResponses.
func (e *Engine) ConsumePersistedCliOp(from uint32, m msgs.PersistedCliOp) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.ops[m.CliOpID]
	if !ok {
		return
	}
	if m.View < e.view {
		return
	}
	e.setView(m.View)

	if rec.state == Consumed {
		return
	}
	if rec.receivedFrom == nil {
		rec.receivedFrom = make(map[uint32]struct{})
	}
	rec.receivedFrom[from] = struct{}{}

	if len(rec.receivedFrom) > e.consensusMin {
		rec.state = Consumed
		if e.metrics != nil {
			e.metrics.opsConsumed.Inc()
		}
	}
}
