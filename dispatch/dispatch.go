// Package dispatch defines the outbound interfaces the replica and client
// engines send through. The engine owns no transport: it is handed a
// ReplicaDispatcher (or ClientDispatcher) at construction and never
// assumes anything about delivery beyond "at most once per call, possibly
// out of order, possibly dropped" — duplicate handling lives entirely in
// duptrack and the persisted-ops set.
//
// This package takes the message-specific-method-per-variant option
// rather than a tagged sum type: Go has no overloading, and one method
// per wire variant reads more directly than a type-switch over an
// interface{}. This mirrors the dist.Peer interface's Send method,
// generalized from one message type to the ten variants this protocol
// needs.
package dispatch

import "github.com/dedis/vsrepl/msgs"

// ReplicaDispatcher is the outbound surface a replica.Engine sends
// through. Implementations must not block the caller for longer than
// local enqueueing takes; the protocol assumes delivery is best-effort,
// asynchronous, and may duplicate, drop, or reorder messages.
type ReplicaDispatcher interface {
	// The Send* methods below deliver one of the request/broadcast
	// variants to replica index `to`, which is never the sender's own index.
	SendClientOp(to int, op msgs.ClientOp)
	SendStartViewChange(to int, m msgs.StartViewChange)
	SendDoViewChange(to int, m msgs.DoViewChange)
	SendStartView(to int, m msgs.StartView)
	SendPrepare(to int, m msgs.Prepare)
	SendGetMissingLogs(to int, m msgs.GetMissingLogs)
	SendOpPersistedQuery(to int, m msgs.OpPersistedQuery)

	// The three *Response variants travel back to whichever replica
	// originated the request.
	SendPrepareResponse(to int, m msgs.PrepareResponse)
	SendStartViewResponse(to int, m msgs.StartViewResponse)
	SendMissingLogsResponse(to int, m msgs.MissingLogsResponse)

	// SendToClient delivers a commit notification to client `to`.
	SendToClient(to uint32, m msgs.PersistedCliOp)
}

// ClientDispatcher is the outbound surface a client.Engine sends through.
type ClientDispatcher interface {
	// SendToReplica delivers a ClientOp to replica index `to`.
	SendToReplica(to uint32, op msgs.ClientOp)
}
