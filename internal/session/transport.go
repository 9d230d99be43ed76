package session

import (
	"context"

	"github.com/omochice/socket-session/pkg/protocol"
)

// Transport is the connection a Session observes.
// *ws.Adapter satisfies this interface.
type Transport interface {
	// Connect starts connecting to endpoint without waiting for the handshake.
	Connect(ctx context.Context, endpoint string) error

	// Status returns the current lifecycle status without blocking.
	Status() protocol.Status

	// Send writes an outbound payload; it fails with protocol.ErrNotConnected
	// unless the status is Open.
	Send(ctx context.Context, payload []byte) error

	// Close moves the connection to Closed.
	Close() error

	// OnStatus and OnMessage register handlers and return a func that
	// unsubscribes them. Notifications arrive one at a time, in order.
	OnStatus(fn func(protocol.Status)) (cancel func())
	OnMessage(fn func(protocol.Message)) (cancel func())
}
