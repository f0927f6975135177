package replica

import (
	"testing"

	"github.com/dedis/vsrepl/msgs"
)

func TestStartViewChangeQuorumTriggersDoViewChange(t *testing.T) {
	e, dp := newTestEngine(t, 5, 2)

	e.ConsumeStartViewChange(0, msgs.StartViewChange{View: 1})
	if len(dp.doViewChgs) != 0 {
		t.Fatalf("DoViewChange sent early, before quorum (1/2)")
	}

	e.ConsumeStartViewChange(1, msgs.StartViewChange{View: 1})
	if len(dp.doViewChgs) != 1 {
		t.Fatalf("DoViewChange sent count = %d, want 1 once quorum (2) reached", len(dp.doViewChgs))
	}
	if dp.doViewChgs[0].View != 1 {
		t.Fatalf("DoViewChange.View = %d, want 1", dp.doViewChgs[0].View)
	}
}

func TestDoViewChangeQuorumStartsView(t *testing.T) {
	e, dp := newTestEngine(t, 5, 1) // leader of view 1 is replica 1

	e.ConsumeDoViewChange(0, msgs.DoViewChange{View: 1})
	if len(dp.startViews) != 0 {
		t.Fatalf("StartView sent before quorum")
	}
	e.ConsumeDoViewChange(2, msgs.DoViewChange{View: 1})
	if len(dp.startViews) != 4 {
		t.Fatalf("StartView broadcasts = %d, want 4 (n-1 peers)", len(dp.startViews))
	}
	if e.View() != 1 || e.Status() != Change {
		t.Fatalf("leader-elect state after DoViewChange quorum: view=%d status=%v, want view=1 status=Change (only StartViewResponse quorum moves to Normal)", e.View(), e.Status())
	}
}

func TestDoViewChangeIgnoredByNonLeaderElect(t *testing.T) {
	e, dp := newTestEngine(t, 5, 0) // replica 0 does not lead view 1

	e.ConsumeDoViewChange(2, msgs.DoViewChange{View: 1})
	e.ConsumeDoViewChange(3, msgs.DoViewChange{View: 1})
	if len(dp.startViews) != 0 {
		t.Fatalf("non-leader-elect should never send StartView")
	}
}

func TestConsumeStartViewAdoptsViewAndRepliesWithMissing(t *testing.T) {
	e, _ := newTestEngine(t, 3, 1)
	op := msgs.ClientOp{ClientID: 9, CliOpID: 1, OpStr: "SET a 1"}
	e.commitEntry(0, op)

	resp := e.ConsumeStartView(0, msgs.StartView{View: 1, LastCommit: -1})
	if e.View() != 1 || e.Status() != Normal {
		t.Fatalf("follower did not adopt new view: view=%d status=%v", e.View(), e.Status())
	}
	if len(resp.MissingEntries) != 1 {
		t.Fatalf("MissingEntries = %d, want 1 (leader-elect lacks our committed entry)", len(resp.MissingEntries))
	}
}

func TestConsumeStartViewResponseReplaysMissingEntries(t *testing.T) {
	e, _ := newTestEngine(t, 5, 1) // leader-elect of view 1

	e.ConsumeDoViewChange(0, msgs.DoViewChange{View: 1})
	e.ConsumeDoViewChange(2, msgs.DoViewChange{View: 1})

	entry := msgs.LogEntry{OpNumber: 0, ClientOp: msgs.ClientOp{ClientID: 3, CliOpID: 1, OpStr: "SET b 2"}}
	resp := msgs.StartViewResponse{View: 1, LastCommit: 0, MissingEntries: []msgs.LogEntry{entry}}

	e.ConsumeStartViewResponse(0, resp)
	e.ConsumeStartViewResponse(2, resp)
	e.ConsumeStartViewResponse(3, resp)

	if e.CommitID() != 0 {
		t.Fatalf("commit after StartViewResponse quorum = %d, want 0", e.CommitID())
	}
}
