// Package feed serves the demo strategy feed that session clients watch.
package feed

import "context"

// Conn is one accepted subscriber connection.
// *ws.Conn satisfies this interface.
type Conn interface {
	// Read reads one inbound frame.
	// Returns an error once the peer has closed the connection.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
