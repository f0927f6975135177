package inmemnet

import (
	"testing"
	"time"

	"github.com/dedis/vsrepl/client"
	"github.com/dedis/vsrepl/msgs"
	"github.com/dedis/vsrepl/replica"
)

func buildCluster(t *testing.T, n int, opts ...replica.Option) (*Network, []*replica.Engine) {
	t.Helper()
	net := New()
	engines := make([]*replica.Engine, n)
	for i := 0; i < n; i++ {
		dp := NewReplicaDispatcher(net, i)
		engines[i] = replica.New(n, i, dp, replica.NopStateMachine{}, opts...)
	}
	for i := 0; i < n; i++ {
		WireReplica(net, i, engines[i], NewReplicaDispatcher(net, i))
	}
	return net, engines
}

func TestClusterCommitsOpThroughLeader(t *testing.T) {
	net, engines := buildCluster(t, 3)

	ce := client.New(7, 3, NewClientDispatcher(net))
	WireClient(net, 7, ce)

	id := ce.InitOp("SET x 1")
	ce.StartOp(id)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && ce.OpStateOf(id) != client.Consumed {
		time.Sleep(time.Millisecond)
	}
	if ce.OpStateOf(id) != client.Consumed {
		t.Fatalf("client op never reached Consumed state")
	}
	if engines[0].CommitID() != 0 {
		t.Fatalf("leader commit = %d, want 0", engines[0].CommitID())
	}
}

func TestPartitionBlocksThenHealDelivers(t *testing.T) {
	net, engines := buildCluster(t, 3)
	net.Partition(0, 1)

	op := msgs.ClientOp{ClientID: 7, CliOpID: 1, OpStr: "SET x 1"}
	net.deliverReplica(-1, 0, op)

	time.Sleep(20 * time.Millisecond)
	if engines[1].OpID() != -1 {
		t.Fatalf("partitioned follower should not have received the Prepare yet")
	}

	net.Heal(0, 1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && engines[1].OpID() == -1 {
		time.Sleep(5 * time.Millisecond)
	}
	if engines[1].OpID() == -1 {
		t.Fatalf("healed follower never caught up on the Prepare")
	}
}

// TestLeaderIsolationElectsNewView isolates view 0's leader from every other
// replica and checks that every replica in the surviving majority moves
// past view 0.
func TestLeaderIsolationElectsNewView(t *testing.T) {
	const n = 5
	net, engines := buildCluster(t, n, replica.WithTickInterval(10*time.Millisecond))
	for _, e := range engines {
		e.Start()
		defer e.Stop()
	}

	for i := 1; i < n; i++ {
		net.Partition(0, i)
		net.Partition(i, 0)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		allAdvanced := true
		for i := 1; i < n; i++ {
			if engines[i].View() == 0 {
				allAdvanced = false
				break
			}
		}
		if allAdvanced {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 1; i < n; i++ {
		if engines[i].View() == 0 {
			t.Fatalf("replica %d never left view 0 after leader isolation", i)
		}
	}
}

// TestSplitBrainIsolatedLeaderNeverCommitsAlone partitions the leader away
// from a strict majority of its peers and checks it can never reach quorum
// on a new op by itself, even though it still believes it is the leader.
func TestSplitBrainIsolatedLeaderNeverCommitsAlone(t *testing.T) {
	const n = 5
	net, engines := buildCluster(t, n, replica.WithTickInterval(10*time.Millisecond))
	for _, e := range engines {
		e.Start()
		defer e.Stop()
	}

	for i := 1; i < n; i++ {
		net.Partition(0, i)
		net.Partition(i, 0)
	}

	net.deliverReplica(-1, 0, msgs.ClientOp{ClientID: 9, CliOpID: 1, OpStr: "SET z 1"})

	time.Sleep(500 * time.Millisecond)
	if engines[0].CommitID() != -1 {
		t.Fatalf("isolated leader committed an op without a majority: commit=%d", engines[0].CommitID())
	}
}
