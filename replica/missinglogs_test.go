package replica

import (
	"testing"

	"github.com/dedis/vsrepl/hasher"
	"github.com/dedis/vsrepl/msgs"
)

func TestConsumeGetMissingLogsOnlyLeaderAnswers(t *testing.T) {
	e, _ := newTestEngine(t, 3, 1) // not leader of view 0
	resp := e.ConsumeGetMissingLogs(0, msgs.GetMissingLogs{View: 0, MyLastCommit: -1})
	if resp.Err == "" {
		t.Fatalf("non-leader should refuse GetMissingLogs")
	}
}

func TestConsumeGetMissingLogsReturnsCommittedTail(t *testing.T) {
	e, _ := newTestEngine(t, 3, 0)
	op0 := msgs.ClientOp{ClientID: 1, CliOpID: 1, OpStr: "SET a 1"}
	op1 := msgs.ClientOp{ClientID: 1, CliOpID: 2, OpStr: "SET b 2"}
	e.commitEntry(0, op0)
	e.commitEntry(1, op1)

	resp := e.ConsumeGetMissingLogs(1, msgs.GetMissingLogs{View: 0, MyLastCommit: 0})
	if resp.Err != "" {
		t.Fatalf("unexpected error: %s", resp.Err)
	}
	if len(resp.CommittedLogs) != 1 || resp.CommittedLogs[0].OpNumber != 1 {
		t.Fatalf("CommittedLogs = %+v, want just op 1", resp.CommittedLogs)
	}
}

func TestConsumeMissingLogsResponseCatchesUp(t *testing.T) {
	e, _ := newTestEngine(t, 3, 1)
	op := msgs.ClientOp{ClientID: 2, CliOpID: 5, OpStr: "SET c 3"}
	resp := msgs.MissingLogsResponse{
		View:          0,
		CommittedLogs: []msgs.LogEntry{{OpNumber: 0, ClientOp: op}},
		TotHash:       hasher.Combine(0, 0, op),
	}

	e.ConsumeMissingLogsResponse(0, resp)
	if e.CommitID() != 0 {
		t.Fatalf("commit after catch-up = %d, want 0", e.CommitID())
	}
}

func TestConsumeMissingLogsResponseRejectsHashMismatch(t *testing.T) {
	e, _ := newTestEngine(t, 3, 1)
	op := msgs.ClientOp{ClientID: 2, CliOpID: 5, OpStr: "SET c 3"}
	resp := msgs.MissingLogsResponse{
		View:          0,
		CommittedLogs: []msgs.LogEntry{{OpNumber: 0, ClientOp: op}},
		TotHash:       0xdeadbeef,
	}

	e.ConsumeMissingLogsResponse(0, resp)
	if e.CommitID() != -1 {
		t.Fatalf("commit after hash-mismatched catch-up = %d, want -1 (rejected)", e.CommitID())
	}
}

func TestConsumeOpPersistedQueryReflectsLocalState(t *testing.T) {
	e, _ := newTestEngine(t, 3, 0)
	op := msgs.ClientOp{ClientID: 4, CliOpID: 1, OpStr: "SET d 4"}

	q := msgs.OpPersistedQuery{ClientID: 4, PersCliOp: msgs.PersistedCliOp{CliOpID: 1}}
	if e.ConsumeOpPersistedQuery(0, q) {
		t.Fatalf("query should report false before commit")
	}
	e.commitEntry(0, op)
	if !e.ConsumeOpPersistedQuery(0, q) {
		t.Fatalf("query should report true after commit")
	}
}
