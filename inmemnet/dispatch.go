package inmemnet

import (
	"github.com/dedis/vsrepl/dispatch"
	"github.com/dedis/vsrepl/msgs"
)

// ReplicaDispatcher adapts a Network into the dispatch.ReplicaDispatcher a
// replica.Engine is constructed with. Each instance is bound to the
// sending replica's own index so Network can enforce directional
// partitions.
type ReplicaDispatcher struct {
	net  *Network
	self int
}

var _ dispatch.ReplicaDispatcher = (*ReplicaDispatcher)(nil)

// NewReplicaDispatcher returns the dispatcher replica index `self` should
// be constructed with.
func NewReplicaDispatcher(net *Network, self int) *ReplicaDispatcher {
	return &ReplicaDispatcher{net: net, self: self}
}

func (d *ReplicaDispatcher) SendClientOp(to int, op msgs.ClientOp) {
	d.net.deliverReplica(d.self, to, op)
}
func (d *ReplicaDispatcher) SendStartViewChange(to int, m msgs.StartViewChange) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendDoViewChange(to int, m msgs.DoViewChange) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendStartView(to int, m msgs.StartView) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendPrepare(to int, m msgs.Prepare) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendGetMissingLogs(to int, m msgs.GetMissingLogs) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendOpPersistedQuery(to int, m msgs.OpPersistedQuery) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendPrepareResponse(to int, m msgs.PrepareResponse) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendStartViewResponse(to int, m msgs.StartViewResponse) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendMissingLogsResponse(to int, m msgs.MissingLogsResponse) {
	d.net.deliverReplica(d.self, to, m)
}
func (d *ReplicaDispatcher) SendToClient(to uint32, m msgs.PersistedCliOp) {
	d.net.deliverClient(d.self, to, m)
}

// ClientDispatcher adapts a Network into the dispatch.ClientDispatcher a
// client.Engine is constructed with.
type ClientDispatcher struct {
	net *Network
}

var _ dispatch.ClientDispatcher = (*ClientDispatcher)(nil)

// NewClientDispatcher returns a dispatcher bound to net.
func NewClientDispatcher(net *Network) *ClientDispatcher {
	return &ClientDispatcher{net: net}
}

func (d *ClientDispatcher) SendToReplica(to uint32, op msgs.ClientOp) {
	d.net.deliverReplica(-1, int(to), op)
}
