// Package inmemnet provides an in-process network simulator for testing
// replica.Engine and client.Engine without real sockets, grounded on the
// teacher's fake-network test harnesses (dist_test.go, minnet_test.go) and
// the original source's own unit-test doubles. It implements both
// dispatch.ReplicaDispatcher and dispatch.ClientDispatcher, and supports
// partitioning a link and healing it later so tests can exercise view
// change and missing-log recovery deterministically.
package inmemnet

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dedis/vsrepl/backoff"
)

// Network is an in-memory message bus connecting a fixed set of replica
// indices and client IDs. Replicas and clients register a delivery
// callback; Send* methods enqueue a delivery on a separate goroutine so
// callers are never blocked by a slow or partitioned peer, matching the
// "best-effort, asynchronous" contract dispatch.ReplicaDispatcher
// documents.
type Network struct {
	mu  sync.RWMutex
	log *logrus.Entry

	replicaInboxes map[int]func(from int, msg interface{})
	clientInboxes  map[uint32]func(from int, msg interface{})

	partitioned map[[2]int]bool // [from,to] pair, replica-to-replica
	dropClient  map[uint32]bool
}

// New creates an empty Network. Call RegisterReplica/RegisterClient to
// attach handlers before sending anything.
func New() *Network {
	return &Network{
		log:            logrus.StandardLogger().WithField("component", "inmemnet"),
		replicaInboxes: make(map[int]func(from int, msg interface{})),
		clientInboxes:  make(map[uint32]func(from int, msg interface{})),
		partitioned:    make(map[[2]int]bool),
		dropClient:     make(map[uint32]bool),
	}
}

// RegisterReplica attaches handler as replica index `idx`'s inbox. handler
// is invoked on its own goroutine per message; messages to one replica are
// not serialized, so handler calls for the same replica may run
// concurrently and in any order (replica.Engine's own lock serializes the
// Consume* calls they make).
func (n *Network) RegisterReplica(idx int, handler func(from int, msg interface{})) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replicaInboxes[idx] = handler
}

// RegisterClient attaches handler as client `id`'s inbox. from is the
// sending replica's index, needed by the client engine's consensus
// counting of PersistedCliOp acks.
func (n *Network) RegisterClient(id uint32, handler func(from int, msg interface{})) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clientInboxes[id] = handler
}

// Partition drops every message sent from `from` to `to` (replica indices)
// until Heal(from, to) is called. It is directional: Partition(0, 1) does
// not block messages from 1 to 0.
func (n *Network) Partition(from, to int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[[2]int{from, to}] = true
}

// Heal clears a previously introduced partition. Any in-flight
// backoff.Retry loop for a message sent during the partition picks this
// up on its next attempt and delivers without the sender having to
// notice the heal itself.
func (n *Network) Heal(from, to int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, [2]int{from, to})
}

// DropClientLinks makes every message destined for client `id` vanish
// until healed, modeling a client that has lost connectivity to the
// cluster.
func (n *Network) DropClientLinks(id uint32, drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if drop {
		n.dropClient[id] = true
	} else {
		delete(n.dropClient, id)
	}
}

func (n *Network) isPartitioned(from, to int) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.partitioned[[2]int{from, to}]
}

// deliverReplica attempts delivery, falling back to backoff.Retry against
// the partition flag so a healed link eventually carries the message
// without the sender having to notice the heal itself.
func (n *Network) deliverReplica(from, to int, msg interface{}) {
	if to == from {
		return
	}
	frameID := uuid.New()
	send := func() error {
		if n.isPartitioned(from, to) {
			return errPartitioned
		}
		n.mu.RLock()
		h := n.replicaInboxes[to]
		n.mu.RUnlock()
		if h == nil {
			return nil
		}
		h(from, msg)
		return nil
	}
	go func() {
		if err := send(); err == nil {
			return
		}
		n.log.WithFields(logrus.Fields{"frame": frameID, "from": from, "to": to}).Debug("link down, retrying in background")
		backoff.Config{MaxWait: 200 * time.Millisecond}.Retry(context.Background(), send)
	}()
}

func (n *Network) deliverClient(from int, to uint32, msg interface{}) {
	n.mu.RLock()
	dropped := n.dropClient[to]
	h := n.clientInboxes[to]
	n.mu.RUnlock()
	if dropped || h == nil {
		return
	}
	go h(from, msg)
}

var errPartitioned = partitionedError{}

type partitionedError struct{}

func (partitionedError) Error() string { return "inmemnet: link partitioned" }
