// Package session accumulates the status and message history of one
// websocket connection for a display layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omochice/socket-session/pkg/protocol"
)

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("session closed")

// Snapshot is a read-only view of a Session at one instant.
// History shares storage with the session and must not be modified.
type Snapshot struct {
	ID          string
	Status      protocol.Status
	StatusLabel string
	History     []protocol.Message
}

// Latest returns the last message of the snapshot, if any.
func (s Snapshot) Latest() (protocol.Message, bool) {
	if len(s.History) == 0 {
		return protocol.Message{}, false
	}
	return s.History[len(s.History)-1], true
}

// Session owns one Transport, mirrors its status and keeps every message it
// delivers in arrival order. A Session is created on mount and closed on
// unmount; its history lives exactly as long as it does.
type Session struct {
	id        uuid.UUID
	endpoint  string
	transport Transport
	logger    zerolog.Logger
	metrics   *Metrics
	observer  func(Snapshot)

	mu      sync.RWMutex
	status  protocol.Status
	history []protocol.Message
	closed  bool
	cancels []func()
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics records session activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithObserver calls fn with a fresh snapshot after every change.
// fn runs on the transport's notification goroutine and must not block for long.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// New validates endpoint, subscribes to transport and starts connecting.
// The transport is owned by the Session from here on; on any error it has
// already been released.
func New(ctx context.Context, endpoint string, transport Transport, opts ...Option) (*Session, error) {
	if _, err := protocol.ParseEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("failed to create session: nil transport")
	}

	s := &Session{
		id:        uuid.New(),
		endpoint:  endpoint,
		transport: transport,
		logger:    zerolog.Nop(),
		status:    protocol.StatusUninstantiated,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("session", s.id.String()).Logger()
	s.metrics.observeStatus(s.status)

	s.cancels = []func(){
		transport.OnStatus(s.handleStatus),
		transport.OnMessage(s.handleMessage),
	}

	if err := transport.Connect(ctx, endpoint); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to connect session: %w", err)
	}

	s.logger.Info().Str("endpoint", endpoint).Msg("session started")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// Endpoint returns the address the session connects to.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Status returns the last status observed from the transport.
func (s *Session) Status() protocol.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// StatusLabel returns the display label of Status.
func (s *Session) StatusLabel() string {
	return s.Status().Label()
}

// History returns a copy of every message received so far, oldest first.
func (s *Session) History() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Len returns the number of messages received so far.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Latest returns the most recent message; ok is false before the first one.
func (s *Session) Latest() (msg protocol.Message, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return protocol.Message{}, false
	}
	return s.history[len(s.history)-1], true
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Send forwards payload to the transport. It never changes the history.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if s.transport.Status() != protocol.StatusOpen {
		return fmt.Errorf("failed to send: %w", protocol.ErrNotConnected)
	}
	if err := s.transport.Send(ctx, payload); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	s.metrics.observeSent()
	return nil
}

// Close unsubscribes from the transport and closes it. Once Close has marked
// the session closed, late notifications are ignored and the state no longer
// changes. Close is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if err := s.transport.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("transport close failed")
		return fmt.Errorf("failed to close transport: %w", err)
	}
	s.logger.Info().Int("messages", s.Len()).Msg("session closed")
	return nil
}

func (s *Session) handleStatus(status protocol.Status) {
	s.mu.Lock()
	if s.closed || status == s.status {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = status
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.observeStatus(status)
	s.logger.Debug().
		Str("from", prev.Label()).
		Str("to", status.Label()).
		Msg("status changed")
	s.notify(snap)
}

func (s *Session) handleMessage(msg protocol.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, msg)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.observeMessage(msg, len(snap.History))
	s.logger.Debug().
		Uint64("seq", msg.Seq).
		Int("bytes", len(msg.Data)).
		Int("history", len(snap.History)).
		Msg("message received")
	s.notify(snap)
}

func (s *Session) snapshotLocked() Snapshot {
	n := len(s.history)
	return Snapshot{
		ID:          s.id.String(),
		Status:      s.status,
		StatusLabel: s.status.Label(),
		History:     s.history[:n:n],
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.observer != nil {
		s.observer(snap)
	}
}
