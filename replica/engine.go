// Package replica implements the per-replica Viewstamped Replication
// engine: the Normal/Change state machine, normal-case operation commit,
// view change, and missing-log recovery.
//
// The engine is a pure message-processing kernel: every exported Consume*
// method mutates local state and optionally sends messages through the
// dispatch.ReplicaDispatcher it was constructed with. ConsumeClientOp,
// ConsumePrepare, ConsumeStartView, ConsumeGetMissingLogs and
// ConsumeOpPersistedQuery return a direct response; ConsumePrepareResponse
// returns an advisory integer status code (0 success, negative
// local-reject reason); the other Consume* methods return nothing. A
// separate goroutine started by Start drives HealthTimeoutTicked on a
// fixed interval; callers that want deterministic tests can instead call
// HealthTimeoutTicked directly and never call Start, so test suites can
// drive ticks manually.
package replica

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dedis/vsrepl/dispatch"
	"github.com/dedis/vsrepl/duptrack"
	"github.com/dedis/vsrepl/hasher"
	"github.com/dedis/vsrepl/msgs"
)

// Status is the replica's coarse operating mode.
type Status int

const (
	// Normal means the replica is actively serving or replicating
	// Prepares in its current view.
	Normal Status = iota
	// Change means the replica believes a view change is underway and
	// is not yet safe to serve Prepares.
	Change
)

func (s Status) String() string {
	switch s {
	case Normal:
		return "Normal"
	case Change:
		return "Change"
	default:
		return "Unknown"
	}
}

// StateMachine is the opaque op-applier invoked after a client operation
// commits. Its semantics are outside this package's scope; the engine
// only guarantees Apply is called at most once per (ClientID, CliOpID),
// in commit order.
type StateMachine interface {
	Apply(op msgs.ClientOp)
}

// NopStateMachine is a StateMachine that does nothing, useful for tests
// that only care about replication, not application semantics.
type NopStateMachine struct{}

// Apply implements StateMachine.
func (NopStateMachine) Apply(msgs.ClientOp) {}

const (
	// DefaultTickInterval is the replica's recommended tick period.
	DefaultTickInterval = 150 * time.Millisecond

	heartbeatSilenceThreshold = 2
	viewChangeGiveUpThreshold = 3
)

type persistedKey struct {
	ClientID uint32
	CliOpID  uint64
}

// Engine is one replica's Viewstamped Replication state machine. Create
// one with New; all exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	totReplicas int
	replica     int
	dispatcher  dispatch.ReplicaDispatcher
	stateMachine StateMachine
	tickInterval time.Duration
	log         *logrus.Entry
	metrics     *Metrics

	view   uint32
	status Status
	op     int32
	commit int32

	logs    []msgs.LogEntry
	logHash hasher.Hash

	persistedOps map[persistedKey]struct{}
	cliop        msgs.ClientOp

	prepareSent              bool
	healthcheckTick          uint64
	latestHealthTickReceived uint64

	dupSVC      *duptrack.Tracker
	dupDVC      *duptrack.Tracker
	dupPrepResp *duptrack.Tracker
	dupSVResp   *duptrack.Tracker
	svResps     []msgs.StartViewResponse // cached by sender, valid only while dupSVResp holds a mark for them

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures optional Engine behavior at construction time,
// following the "mandatory constructor args + optional public
// configuration" convention used by dist.Node and model.Node.
type Option func(*Engine)

// WithLogger overrides the default logrus.StandardLogger()-derived entry.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.log = l.WithFields(logrus.Fields{}) }
}

// WithMetrics attaches a Metrics sink. Nil (the default) disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTickInterval overrides DefaultTickInterval.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tickInterval = d }
}

// New creates a replica engine for replica index `replica` out of
// `totReplicas` total. totReplicas must be at least 3.
func New(totReplicas, replica int, dp dispatch.ReplicaDispatcher, sm StateMachine, opts ...Option) *Engine {
	if totReplicas < 3 {
		panic(errors.Errorf("replica: totReplicas must be >= 3, got %d", totReplicas))
	}
	if replica < 0 || replica >= totReplicas {
		panic(errors.Errorf("replica: replica index %d out of range [0,%d)", replica, totReplicas))
	}

	e := &Engine{
		totReplicas:  totReplicas,
		replica:      replica,
		dispatcher:   dp,
		stateMachine: sm,
		tickInterval: DefaultTickInterval,
		status:       Normal,
		op:           -1,
		commit:       -1,
		persistedOps: make(map[persistedKey]struct{}),
		dupSVC:       duptrack.New(totReplicas),
		dupDVC:       duptrack.New(totReplicas),
		dupPrepResp:  duptrack.New(totReplicas),
		dupSVResp:    duptrack.New(totReplicas),
		svResps:      make([]msgs.StartViewResponse, totReplicas),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	e.log = logrus.StandardLogger().WithFields(logrus.Fields{
		"component": "replica",
		"replica":   replica,
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the background health-tick goroutine. It is safe to
// never call Start and drive HealthTimeoutTicked manually instead (e.g.
// from a deterministic test).
func (e *Engine) Start() {
	go e.tickLoop()
}

// Stop signals the tick goroutine to exit and waits for it. Stop is
// idempotent: a later call returns once the goroutine has exited. Calling
// Stop without a prior Start blocks forever, matching the Start/Stop
// pairing convention dist-style engines use (a disciplined caller is
// assumed).
func (e *Engine) Stop() {
	e.mu.Lock()
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.mu.Unlock()
	<-e.doneCh
}

func (e *Engine) tickLoop() {
	defer close(e.doneCh)
	t := time.NewTicker(e.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			e.HealthTimeoutTicked()
		}
	}
}

// leaderOf returns the replica index that leads view v.
func (e *Engine) leaderOf(view uint32) int {
	return int(view) % e.totReplicas
}

// isLeader reports whether this replica leads its current view.
func (e *Engine) isLeader() bool {
	return e.leaderOf(e.view) == e.replica
}

// quorum is the strict-majority threshold used throughout: a tally of
// distinct peer acks must reach totReplicas/2 to constitute a majority
// once the local replica's own implicit vote is counted.
func (e *Engine) quorum() int {
	return e.totReplicas / 2
}

func appendEntry(logs []msgs.LogEntry, op int32, cliop msgs.ClientOp) []msgs.LogEntry {
	return append(logs, msgs.LogEntry{OpNumber: op, ClientOp: cliop})
}

// commitEntry appends (op, cliop) to the log, advances commit, updates the
// hash, applies the op to the state machine unless it was already
// persisted, records the op as persisted, and notifies the originating
// client. It is the single choke point for "an op becomes durable" used by
// every commit path (leader quorum, follower catch-up, view-change replay,
// missing-log replay) so log_hash/commit/persistedOps/notification always
// move together.
func (e *Engine) commitEntry(op int32, cliop msgs.ClientOp) {
	e.logs = appendEntry(e.logs, op, cliop)
	e.commit = op
	e.logHash = hasher.Combine(e.logHash, op, cliop)
	key := persistedKey{cliop.ClientID, cliop.CliOpID}
	if _, done := e.persistedOps[key]; !done {
		e.stateMachine.Apply(cliop)
	}
	e.persistedOps[key] = struct{}{}
	e.dispatcher.SendToClient(cliop.ClientID, msgs.PersistedCliOp{View: e.view, CliOpID: cliop.CliOpID})
	if e.metrics != nil {
		e.metrics.commits.Inc()
	}
}

func (e *Engine) isPersisted(clientID uint32, cliOpID uint64) bool {
	_, ok := e.persistedOps[persistedKey{clientID, cliOpID}]
	return ok
}

// popBackAndReconcile discards the last log entry and recomputes
// commit/op/logHash from the new tail, the divergence-recovery step of
// Prepare processing.
func (e *Engine) popBackAndReconcile() {
	if len(e.logs) > 0 {
		e.logs = e.logs[:len(e.logs)-1]
	}
	e.logHash = hasher.Fold(0, e.logs)
	e.commit = -1
	if len(e.logs) > 0 {
		e.commit = e.logs[len(e.logs)-1].OpNumber
	}
	e.op = e.commit
}

// View returns the replica's current view.
func (e *Engine) View() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// Status returns the replica's current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CommitID returns the highest committed op-number, or -1.
func (e *Engine) CommitID() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commit
}

// OpID returns the highest prepared op-number, or -1.
func (e *Engine) OpID() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.op
}

// GetCommittedLogs returns a copy of the dense committed log.
func (e *Engine) GetCommittedLogs() []msgs.LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]msgs.LogEntry, len(e.logs))
	copy(out, e.logs)
	return out
}

// GetHash returns the current running log hash.
func (e *Engine) GetHash() hasher.Hash {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logHash
}
