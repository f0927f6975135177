// Package msgs defines the wire-level message and response types spoken by
// the replica and client engines. It performs no marshaling itself; the
// transport and dispatcher implementations own wire-format concerns, in
// keeping with the protocol kernel's transport-agnostic design (see
// dispatch.ReplicaDispatcher and dispatch.ClientDispatcher).
package msgs

import "fmt"

// ClientOp is a client-submitted operation, identified by the pair
// (ClientID, CliOpID) for at-most-once execution.
type ClientOp struct {
	ClientID   uint32
	OpStr      string
	CliOpID    uint64
	DontNotify bool
}

func (c ClientOp) String() string {
	return fmt.Sprintf("%d/%d/%s", c.ClientID, c.CliOpID, c.OpStr)
}

// Equal reports whether two ClientOps identify the same client operation.
func (c ClientOp) Equal(o ClientOp) bool {
	return c.ClientID == o.ClientID && c.CliOpID == o.CliOpID && c.OpStr == o.OpStr
}

// LeaderRedirect tells a client (or a stale self-believing leader) who the
// current leader of View actually is.
type LeaderRedirect struct {
	View   uint32
	Leader uint32
}

// Prepare carries either a genuine new op (Op > Commit) or a heartbeat. A
// heartbeat is the sentinel (Commit=-1, Op=-1, LogHash=1); see
// IsHeartbeat.
type Prepare struct {
	View    uint32
	Op      int32
	Commit  int32
	LogHash uint64
	CliOp   ClientOp
}

// IsHeartbeat reports whether p is the no-op heartbeat sentinel. LogHash=1
// is the discriminator that distinguishes it from a fresh replica's
// genuine (commit=-1, op=-1, hash=0) pre-state.
func (p Prepare) IsHeartbeat() bool {
	return p.Commit == -1 && p.Op == -1 && p.LogHash == 1
}

// HeartbeatPrepare builds the sentinel heartbeat Prepare for view.
func HeartbeatPrepare(view uint32) Prepare {
	return Prepare{View: view, Op: -1, Commit: -1, LogHash: 1}
}

// StartViewChange announces a replica's intent to move to View.
type StartViewChange struct {
	View uint32
}

// DoViewChange is sent by a replica that has observed a StartViewChange
// quorum, to the leader-elect of View.
type DoViewChange struct {
	View uint32
}

// StartView is the leader-elect's announcement that View is now active.
type StartView struct {
	View       uint32
	LastCommit int32
}

// LogEntry pairs a log op-number with the ClientOp committed at it.
type LogEntry struct {
	OpNumber int32
	ClientOp ClientOp
}

// StartViewResponse is a follower's reply to StartView, carrying any log
// entries the leader-elect is missing relative to sv.LastCommit.
type StartViewResponse struct {
	View           uint32
	Err            string
	LastCommit     int32
	MissingEntries []LogEntry
}

// PrepareResponse is a follower's reply to a Prepare.
type PrepareResponse struct {
	Err string
	Op  int32
}

// GetMissingLogs asks the leader for every committed entry after
// MyLastCommit.
type GetMissingLogs struct {
	View         uint32
	MyLastCommit int32
}

// MissingLogsResponse answers GetMissingLogs with the leader's in-flight
// op and every committed entry the requester lacks, plus the leader's
// total log hash for a post-apply consistency check.
type MissingLogsResponse struct {
	View          uint32
	Err           string
	OpLog         LogEntry
	CommittedLogs []LogEntry
	TotHash       uint64
}

// PersistedCliOp notifies a client (or a peer replica) that CliOpID has
// been committed in View.
type PersistedCliOp struct {
	View    uint32
	CliOpID uint64
}

// OpPersistedQuery lets a replica ask a peer whether it already knows an
// op to be persisted, short-circuiting re-replication.
type OpPersistedQuery struct {
	ClientID  uint32
	PersCliOp PersistedCliOp
}
