package inmemnet

import (
	"github.com/dedis/vsrepl/client"
	"github.com/dedis/vsrepl/msgs"
	"github.com/dedis/vsrepl/replica"
)

// WireReplica registers re's inbox on net, type-switching every inbound
// message to the matching Consume* method and routing any response back
// through dp. This is the glue a cmd/ entry point (or a test) would
// otherwise have to hand-write per message variant.
func WireReplica(net *Network, idx int, re *replica.Engine, dp *ReplicaDispatcher) {
	net.RegisterReplica(idx, func(from int, msg interface{}) {
		switch m := msg.(type) {
		case msgs.ClientOp:
			result := re.ConsumeClientOp(m)
			switch result.Outcome {
			case replica.OutcomeRedirect:
				net.deliverClient(idx, m.ClientID, result.Redirect)
			case replica.OutcomePersisted:
				net.deliverClient(idx, m.ClientID, result.Persisted)
			}
		case msgs.Prepare:
			resp := re.ConsumePrepare(from, m)
			dp.SendPrepareResponse(from, resp)
		case msgs.PrepareResponse:
			re.ConsumePrepareResponse(from, m)
		case msgs.StartViewChange:
			re.ConsumeStartViewChange(from, m)
		case msgs.DoViewChange:
			re.ConsumeDoViewChange(from, m)
		case msgs.StartView:
			resp := re.ConsumeStartView(from, m)
			dp.SendStartViewResponse(from, resp)
		case msgs.StartViewResponse:
			re.ConsumeStartViewResponse(from, m)
		case msgs.GetMissingLogs:
			resp := re.ConsumeGetMissingLogs(from, m)
			dp.SendMissingLogsResponse(from, resp)
		case msgs.MissingLogsResponse:
			re.ConsumeMissingLogsResponse(from, m)
		case msgs.OpPersistedQuery:
			re.ConsumeOpPersistedQuery(from, m)
		}
	})
}

// WireClient registers ce's inbox on net, type-switching inbound
// PersistedCliOp/LeaderRedirect deliveries to the matching Consume*
// method.
func WireClient(net *Network, id uint32, ce *client.Engine) {
	net.RegisterClient(id, func(from int, msg interface{}) {
		switch m := msg.(type) {
		case msgs.PersistedCliOp:
			ce.ConsumePersistedCliOp(uint32(from), m)
		case msgs.LeaderRedirect:
			ce.ConsumeLeaderRedirect(m)
		}
	})
}
