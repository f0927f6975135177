package replica

import "github.com/dedis/vsrepl/msgs"

// HealthTimeoutTicked drives the replica's periodic health check. It is
// called once per tickInterval by the goroutine Start spawns, or directly
// by tests that want deterministic control over timing instead of relying
// on a real clock.
//
// A leader either lets an already-sent Prepare double as its heartbeat for
// this tick, or sends the no-op heartbeat sentinel (Prepare.IsHeartbeat).
// A follower measures silence since its last received
// Prepare/StartView and, once that silence clears heartbeatSilenceThreshold
// ticks, starts gossiping StartViewChange for the next view on a
// bursting cadence rather than every tick, so that N followers noticing
// the same failure don't all flood the network at once.
func (e *Engine) HealthTimeoutTicked() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.healthcheckTick++

	if e.isLeader() {
		if e.prepareSent {
			// This tick's Prepare already doubles as the heartbeat.
			e.prepareSent = false
			return
		}

		if e.op != e.commit && e.healthcheckTick-e.latestHealthTickReceived > viewChangeGiveUpThreshold {
			// The in-flight op never reached quorum; give up on it so a
			// client retry can start a fresh one.
			e.op = e.commit
			e.dupPrepResp.Clear()
			return
		}

		switch e.status {
		case Change:
			sv := msgs.StartView{View: e.view, LastCommit: e.commit}
			for i := 0; i < e.totReplicas; i++ {
				if i != e.replica {
					e.dispatcher.SendStartView(i, sv)
				}
			}
		default:
			hb := msgs.HeartbeatPrepare(e.view)
			for i := 0; i < e.totReplicas; i++ {
				if i != e.replica {
					e.dispatcher.SendPrepare(i, hb)
				}
			}
			if e.metrics != nil {
				e.metrics.prepareSends.Inc()
			}
		}
		return
	}

	diff := e.healthcheckTick - e.latestHealthTickReceived
	if diff <= heartbeatSilenceThreshold {
		return
	}

	if !shouldBurst(diff) {
		return
	}

	nextView := e.view + 1
	e.status = Change
	svc := msgs.StartViewChange{View: nextView}
	for i := 0; i < e.totReplicas; i++ {
		if i != e.replica {
			e.dispatcher.SendStartViewChange(i, svc)
		}
	}

	// Register our own vote directly; ConsumeStartViewChange takes e.mu
	// itself, so it can't be called re-entrantly from here.
	if _, slot := e.dupSVC.Check(e.replica, nextView); e.dupSVC.Count(slot) >= e.quorum() {
		e.dupSVC.Clear(slot)
		e.dispatcher.SendDoViewChange(e.leaderOf(nextView), msgs.DoViewChange{View: nextView})
	}
}

// shouldBurst implements the bursting retransmission cadence: never at or
// under the silence threshold, fire on the first tick past it, then back
// off to every eighth tick, so a cluster-wide failure detection doesn't
// turn into a steady-state flood once every replica has already voted.
func shouldBurst(diff uint64) bool {
	return diff > heartbeatSilenceThreshold && (diff < 4 || (diff > 5 && diff%8 == 0))
}
