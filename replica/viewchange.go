package replica

import "github.com/dedis/vsrepl/msgs"

// ConsumeStartViewChange handles a peer's announcement that it wants to
// move to m.View. Only once a strict majority have said so does this
// replica adopt m.View itself (via the first branch below) and send a
// DoViewChange to the leader-elect of m.View (via the second, which fires
// either the same call that just adopted it or a later one observing the
// same already-adopted view). One StartViewChange never triggers a
// transition by itself, but a replica that is not yet silent echoes it to
// its other peers (the last branch below), and each echoed copy counts
// under the echoing replica's index, so echoes of a single replica's
// StartViewChange can complete the tally.
func (e *Engine) ConsumeStartViewChange(from int, m msgs.StartViewChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m.View <= e.view && e.status == Normal {
		return
	}

	isDup, slot := e.dupSVC.Check(from, m.View)
	if isDup {
		return
	}

	if e.dupSVC.Count(slot) >= e.quorum() {
		e.dupSVC.Clear(slot)
		if e.view < m.View {
			e.view = m.View
			e.status = Change
			e.op = e.commit
		}
		if e.view == m.View {
			e.dispatcher.SendDoViewChange(e.leaderOf(m.View), msgs.DoViewChange{View: m.View})
			e.latestHealthTickReceived = e.healthcheckTick
		}
		return
	}

	if m.View == e.view+1 && e.healthcheckTick-e.latestHealthTickReceived < viewChangeGiveUpThreshold {
		for i := 0; i < e.totReplicas; i++ {
			if i != e.replica && i != from {
				e.dispatcher.SendStartViewChange(i, m)
			}
		}
	}
}

// ConsumeDoViewChange handles a peer's vote to formally complete the view
// change to m.View, gathered only by the leader-elect of that view. Once a
// quorum of votes (including the leader-elect's own transition) is in,
// the leader-elect broadcasts StartView.
func (e *Engine) ConsumeDoViewChange(from int, m msgs.DoViewChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.leaderOf(m.View) != e.replica {
		return
	}

	isDup, slot := e.dupDVC.Check(from, m.View)
	if isDup {
		return
	}

	if e.dupDVC.Count(slot) < e.quorum() {
		return
	}
	e.dupDVC.Clear(slot)

	e.view = m.View
	e.status = Change
	e.op = e.commit
	e.dupSVResp.Clear()
	for i := range e.svResps {
		e.svResps[i] = msgs.StartViewResponse{}
	}

	sv := msgs.StartView{View: e.view, LastCommit: e.commit}
	for i := 0; i < e.totReplicas; i++ {
		if i != e.replica {
			e.dispatcher.SendStartView(i, sv)
		}
	}
	if e.metrics != nil {
		e.metrics.viewChanges.Inc()
	}
}

// ConsumeStartView handles the leader-elect's announcement that sv.View is
// now active, replying with any log entries past sv.LastCommit the
// leader-elect might be missing.
func (e *Engine) ConsumeStartView(from int, sv msgs.StartView) msgs.StartViewResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sv.View < e.view {
		return msgs.StartViewResponse{Err: "stale StartView", View: e.view}
	}

	e.view = sv.View
	e.status = Normal
	e.latestHealthTickReceived = e.healthcheckTick

	if e.commit > sv.LastCommit {
		e.op = e.commit
		missing := collectAfter(e.logs, sv.LastCommit)
		return msgs.StartViewResponse{View: e.view, LastCommit: e.commit, MissingEntries: missing}
	}

	e.op = e.commit
	return msgs.StartViewResponse{View: e.view, LastCommit: e.commit}
}

// collectAfter returns every entry in logs with OpNumber > after, assuming
// logs is dense and sorted by OpNumber.
func collectAfter(logs []msgs.LogEntry, after int32) []msgs.LogEntry {
	var out []msgs.LogEntry
	for _, l := range logs {
		if l.OpNumber > after {
			out = append(out, l)
		}
	}
	return out
}

// ConsumeStartViewResponse handles a follower's reply to StartView,
// arriving only at the new leader-elect. The leader-elect applies the
// single response carrying the highest LastCommit rather than merging
// across all respondents: all correct followers who converge agree on
// the same log, so taking the most-caught-up single source is sufficient
// and avoids a merge step the original source never performs either.
func (e *Engine) ConsumeStartViewResponse(from int, resp msgs.StartViewResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if resp.Err != "" || resp.View != e.view {
		return
	}

	isDup, slot := e.dupSVResp.Check(from, resp.View)
	if isDup {
		return
	}
	e.svResps[from] = resp

	if e.dupSVResp.Count(slot) < e.quorum() {
		return
	}

	best := resp
	for i := 0; i < e.totReplicas; i++ {
		if e.svResps[i].View == e.view && e.svResps[i].LastCommit > best.LastCommit {
			best = e.svResps[i]
		}
	}

	for _, entry := range best.MissingEntries {
		if entry.OpNumber > e.commit {
			e.commitEntry(entry.OpNumber, entry.ClientOp)
		}
	}
	e.op = e.commit
	e.status = Normal
}
