package replica

import (
	"github.com/dedis/vsrepl/hasher"
	"github.com/dedis/vsrepl/msgs"
)

// ConsumeGetMissingLogs answers a follower's request for everything it's
// missing past req.MyLastCommit. Only the leader is expected to hold the
// full committed log at any given moment, so non-leaders reply with an
// error rather than a partial answer.
func (e *Engine) ConsumeGetMissingLogs(from int, req msgs.GetMissingLogs) msgs.MissingLogsResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader() {
		return msgs.MissingLogsResponse{Err: "I am not the leader", View: e.view}
	}
	if req.View != e.view {
		return msgs.MissingLogsResponse{Err: "stale view", View: e.view}
	}

	missing := collectAfter(e.logs, req.MyLastCommit)
	var inflight msgs.LogEntry
	if e.op > e.commit {
		inflight = msgs.LogEntry{OpNumber: e.op, ClientOp: e.cliop}
	}

	return msgs.MissingLogsResponse{
		View:          e.view,
		OpLog:         inflight,
		CommittedLogs: missing,
		TotHash:       e.logHash,
	}
}

// ConsumeMissingLogsResponse applies the leader's answer to an earlier
// GetMissingLogs. It is rejected upfront if self is (now) the leader or
// the reply didn't actually come from the view's leader; otherwise the
// would-be resulting hash is computed before committing anything, and the
// whole batch is refused if it disagrees with the leader's TotHash.
func (e *Engine) ConsumeMissingLogsResponse(from int, resp msgs.MissingLogsResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.Err != "" || resp.View != e.view {
		return
	}
	if e.isLeader() || from != e.leaderOf(e.view) {
		return
	}

	h := e.logHash
	for _, entry := range resp.CommittedLogs {
		h = hasher.Combine(h, entry.OpNumber, entry.ClientOp)
	}
	if h != resp.TotHash {
		e.log.WithFields(map[string]interface{}{
			"want": resp.TotHash, "got": h,
		}).Warn("missing-log catch-up rejected: hash mismatch")
		return
	}

	for _, entry := range resp.CommittedLogs {
		if entry.OpNumber > e.commit {
			e.commitEntry(entry.OpNumber, entry.ClientOp)
		}
	}

	if resp.OpLog.OpNumber > e.op {
		e.op = resp.OpLog.OpNumber
		e.cliop = resp.OpLog.ClientOp
	}
}

// ConsumeOpPersistedQuery answers whether this replica already knows q's
// op to be persisted, letting a peer short-circuit re-replication instead
// of waiting on a full Prepare round.
func (e *Engine) ConsumeOpPersistedQuery(from int, q msgs.OpPersistedQuery) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isPersisted(q.ClientID, q.PersCliOp.CliOpID)
}
