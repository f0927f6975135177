package replica

import (
	"strconv"

	"github.com/dedis/vsrepl/msgs"
)

// ClientOpOutcome classifies how ConsumeClientOp handled an inbound
// client operation.
type ClientOpOutcome int

const (
	// OutcomeAccepted means a Prepare was broadcast; the client should
	// wait for a PersistedCliOp via the normal commit path.
	OutcomeAccepted ClientOpOutcome = iota
	// OutcomeRedirect means this replica is not the leader of its
	// current view; Redirect names who is.
	OutcomeRedirect
	// OutcomePersisted means the op was already committed; Persisted
	// carries the confirmation the client would otherwise wait for.
	OutcomePersisted
	// OutcomeRetry means the leader isn't ready (mid-Prepare or
	// mid-view-change); the client must retry.
	OutcomeRetry
)

// ClientOpResult is the response to ConsumeClientOp, corresponding to the
// original source's std::variant<MsgLeaderRedirect, MsgPersistedCliOp,
// int> return value.
type ClientOpResult struct {
	Outcome   ClientOpOutcome
	Redirect  msgs.LeaderRedirect
	Persisted msgs.PersistedCliOp
}

// ConsumeClientOp handles an inbound client operation, the leader-side
// normal-case replication entry point.
func (e *Engine) ConsumeClientOp(op msgs.ClientOp) ClientOpResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.WithFields(map[string]interface{}{
		"client": op.ClientID, "cliopid": op.CliOpID, "op": op.OpStr,
		"commit": e.commit, "myop": e.op,
	}).Debug("ConsumeClientOp")

	if e.isPersisted(op.ClientID, op.CliOpID) {
		resp := msgs.PersistedCliOp{View: e.view, CliOpID: op.CliOpID}
		if !op.DontNotify {
			mm := op
			mm.DontNotify = true
			for i := 0; i < e.totReplicas; i++ {
				if i != e.replica {
					e.dispatcher.SendClientOp(i, mm)
				}
			}
		}
		return ClientOpResult{Outcome: OutcomePersisted, Persisted: resp}
	}

	if !e.isLeader() {
		return ClientOpResult{
			Outcome:  OutcomeRedirect,
			Redirect: msgs.LeaderRedirect{View: e.view, Leader: uint32(e.leaderOf(e.view))},
		}
	}

	if e.op != e.commit || e.status != Normal {
		return ClientOpResult{Outcome: OutcomeRetry}
	}

	e.op++
	e.cliop = op
	e.latestHealthTickReceived = e.healthcheckTick
	e.prepareSent = true
	pr := msgs.Prepare{View: e.view, Op: e.op, Commit: e.commit, LogHash: e.logHash, CliOp: op}
	for i := 0; i < e.totReplicas; i++ {
		if i != e.replica {
			e.dispatcher.SendPrepare(i, pr)
		}
	}
	if e.metrics != nil {
		e.metrics.prepareSends.Inc()
	}
	return ClientOpResult{Outcome: OutcomeAccepted}
}

// ConsumePrepare handles an inbound Prepare from the (believed) leader,
// the follower-side normal-case replication entry point.
func (e *Engine) ConsumePrepare(from int, pr msgs.Prepare) msgs.PrepareResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isLeader() && e.view == pr.View {
		return msgs.PrepareResponse{Err: "I am not a follower!", Op: pr.Op}
	}

	e.log.WithFields(map[string]interface{}{
		"from": from, "view": pr.View, "commit": pr.Commit, "op": pr.Op,
	}).Debug("ConsumePrepare")

	ret := msgs.PrepareResponse{Op: pr.Op}
	if e.view < pr.View {
		e.view = pr.View
		e.status = Normal
		e.op = e.commit
		if e.metrics != nil {
			e.metrics.viewChanges.Inc()
		}
	} else if e.view > pr.View {
		ret.Err = "skipping old PREP v:" + strconv.FormatUint(uint64(pr.View), 10) + " opstr:" + pr.CliOp.OpStr
		return ret
	}

	e.latestHealthTickReceived = e.healthcheckTick

	if pr.IsHeartbeat() {
		return ret
	}

	if e.commit > pr.Commit || (e.commit == pr.Commit && pr.LogHash != e.logHash) {
		e.log.WithFields(map[string]interface{}{
			"from": from, "sz": len(e.logs), "commit": e.commit, "op": e.op,
			"msg_commit": pr.Commit, "msg_op": pr.Op,
		}).Info("PREP pop-back (diverged commit)")
		e.popBackAndReconcile()
	}

	if pr.Commit == e.op {
		if e.op > e.commit {
			if !e.isPersisted(e.cliop.ClientID, e.cliop.CliOpID) {
				e.commitEntry(e.op, e.cliop)
			}
		}
		if pr.Op > e.commit {
			e.cliop = pr.CliOp
			e.op = pr.Op
		}
	} else if e.commit < pr.Commit || pr.Commit != pr.Op {
		ret.Err = "My logs are not up-to-date " + strconv.Itoa(int(pr.Commit)) + " >< " + strconv.Itoa(int(e.op)) + "/" + strconv.Itoa(int(e.commit))
		e.dispatcher.SendGetMissingLogs(e.leaderOf(e.view), msgs.GetMissingLogs{View: e.view, MyLastCommit: e.commit})
		if e.metrics != nil {
			e.metrics.missingLogs.Inc()
		}
	}

	ret.Op = e.op
	return ret
}

// ConsumePrepareResponse handles a PrepareResponse arriving back at the
// leader (the original source's ConsumeReply(MsgPrepareResponse)).
func (e *Engine) ConsumePrepareResponse(from int, presp msgs.PrepareResponse) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if presp.Err != "" {
		return -2
	}
	if !e.isLeader() {
		return -1
	}
	if e.op != presp.Op {
		if presp.Op != -1 {
			return -3
		}
		return 0
	}

	isDup, slot := e.dupPrepResp.Check(from, uint32(presp.Op))
	if isDup {
		return 0
	}

	if e.dupPrepResp.Count(slot) < e.quorum() {
		return 0
	}

	e.dupPrepResp.Clear(slot)
	e.latestHealthTickReceived = e.healthcheckTick

	if e.op == e.commit {
		return 0 // already committed
	}

	e.commitEntry(e.op, e.cliop)
	return 0
}
