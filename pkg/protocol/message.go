package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedEndpoint is returned when an endpoint is not a usable websocket URI.
	ErrMalformedEndpoint = errors.New("malformed endpoint")

	// ErrNotConnected is returned when sending while the connection is not open.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionUnavailable describes a connection that could not be
	// established or was lost.
	ErrConnectionUnavailable = errors.New("connection unavailable")
)

// Message represents one received payload.
// The payload is opaque; Seq records arrival order within one transport.
type Message struct {
	Seq        uint64
	Data       []byte
	Binary     bool
	ReceivedAt time.Time
}

// NewMessage copies data into a new Message.
func NewMessage(seq uint64, data []byte, binary bool, at time.Time) Message {
	copied := make([]byte, len(data))
	copy(copied, data)
	return Message{
		Seq:        seq,
		Data:       copied,
		Binary:     binary,
		ReceivedAt: at,
	}
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// ParseEndpoint validates a websocket endpoint address.
func ParseEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty address", ErrMalformedEndpoint)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEndpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedEndpoint, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrMalformedEndpoint, raw)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrMalformedEndpoint, port)
		}
	}
	return u, nil
}
