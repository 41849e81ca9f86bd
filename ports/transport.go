package ports

import (
	"context"

	"github.com/somewherelostt/Neom1/core"
	"github.com/somewherelostt/Neom1/rpc"
)

// Transport is the connection manager as seen by its consumers.
type Transport interface {
	Status() core.ConnectionStatus
	SetStatus(status core.ConnectionStatus)

	// NextID reserves a request id from the sequence Call uses.
	NextID() uint64
	// Send writes a serialised frame now, or queues it until the socket opens.
	Send(payload []byte)
	Call(ctx context.Context, method string, params interface{}) (rpc.Response, error)

	// OnStatus replays the current status before returning.
	OnStatus(fn func(core.ConnectionStatus)) (unsubscribe func())
	OnMessage(fn func(rpc.Message)) (unsubscribe func())
}
