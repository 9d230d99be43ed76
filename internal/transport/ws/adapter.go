// Package ws provides the websocket transport: a client Adapter that owns one
// connection to an endpoint, and a server-side Conn used by the feed server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/omochice/socket-session/pkg/protocol"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// event is one queued notification; exactly one of status or message is set.
type event struct {
	status    protocol.Status
	message   protocol.Message
	isMessage bool
}

// Adapter owns a single websocket connection and reports its lifecycle.
//
// Every status change and inbound message is queued and handed to subscribers
// by one dispatcher goroutine, so handlers never run concurrently and always
// observe notifications in the order the adapter produced them. The queue is
// unbounded; slow handlers delay delivery but never lose notifications.
type Adapter struct {
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger

	status atomic.Int32

	mu          sync.Mutex
	endpoint    string
	conn        net.Conn
	cancel      context.CancelFunc
	done        chan struct{}
	deliberate  bool
	err         error
	seq         uint64
	last        protocol.Message
	hasLast     bool
	queue       []event
	dispatching bool

	writeMu sync.Mutex

	onStatus  subscribers[protocol.Status]
	onMessage subscribers[protocol.Message]
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithDialTimeout bounds the TCP dial and websocket handshake.
func WithDialTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each outbound frame when the caller's context has no deadline.
func WithWriteTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.writeTimeout = d
		}
	}
}

// WithLogger sets the logger used for connection events.
func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an Adapter in the Uninstantiated state.
func NewAdapter(opts ...AdapterOption) *Adapter {
	a := &Adapter{
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Status returns the current lifecycle status without blocking.
func (a *Adapter) Status() protocol.Status {
	return protocol.Status(a.status.Load())
}

// Endpoint returns the address passed to the last accepted Connect.
func (a *Adapter) Endpoint() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoint
}

// Err returns why the last connection ended unexpectedly, wrapping
// protocol.ErrConnectionUnavailable. It is nil after a deliberate Close of a
// live connection, a clean remote close, or while a connection is in progress.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// LastMessage returns the most recently received message.
func (a *Adapter) LastMessage() (protocol.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.hasLast
}

// OnStatus registers fn for status changes. The returned func unsubscribes.
func (a *Adapter) OnStatus(fn func(protocol.Status)) func() {
	return a.onStatus.add(fn)
}

// OnMessage registers fn for inbound messages. The returned func unsubscribes.
func (a *Adapter) OnMessage(fn func(protocol.Message)) func() {
	return a.onMessage.add(fn)
}

// Connect starts connecting to endpoint and returns without waiting for the
// handshake. It is a no-op while a connection is connecting, open or closing.
// ctx bounds the dial only.
func (a *Adapter) Connect(ctx context.Context, endpoint string) error {
	u, err := protocol.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	a.mu.Lock()
	switch a.Status() {
	case protocol.StatusConnecting, protocol.StatusOpen, protocol.StatusClosing:
		a.mu.Unlock()
		return nil
	}

	connCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.endpoint = u.String()
	a.cancel = cancel
	a.done = done
	a.deliberate = false
	a.err = nil
	a.setStatusLocked(protocol.StatusConnecting)
	a.mu.Unlock()

	go a.run(connCtx, cancel, done, u.String())
	return nil
}

// Send writes payload as a text frame.
func (a *Adapter) Send(ctx context.Context, payload []byte) error {
	return a.write(ctx, ws.OpText, payload)
}

// SendBinary writes payload as a binary frame.
func (a *Adapter) SendBinary(ctx context.Context, payload []byte) error {
	return a.write(ctx, ws.OpBinary, payload)
}

// Close closes the connection and waits until the status reaches Closed.
// Closing a connection that never opened, or is already closed, is a no-op.
// Close never reports transport faults; a peer that vanished during teardown
// shows up in Err.
func (a *Adapter) Close() error {
	a.mu.Lock()
	switch a.Status() {
	case protocol.StatusConnecting:
		a.deliberate = true
		a.setStatusLocked(protocol.StatusClosing)
		cancel, done := a.cancel, a.done
		a.mu.Unlock()

		cancel()
		<-done
		return nil

	case protocol.StatusOpen:
		a.deliberate = true
		a.setStatusLocked(protocol.StatusClosing)
		conn, done := a.conn, a.done
		a.mu.Unlock()

		werr := a.writeFrame(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		cerr := conn.Close()
		<-done

		// A peer that already dropped the connection leaves nothing to tear
		// down; the fault is recorded for Err instead of returned.
		if err := teardownError(werr, cerr); err != nil {
			a.mu.Lock()
			a.err = fmt.Errorf("%w: %v", protocol.ErrConnectionUnavailable, err)
			a.mu.Unlock()
			a.logger.Debug().Err(err).Msg("websocket already gone while closing")
		}
		return nil

	case protocol.StatusClosing:
		done := a.done
		a.mu.Unlock()
		<-done
		return nil

	default:
		a.mu.Unlock()
		return nil
	}
}

// teardownError returns the first close failure other than net.ErrClosed.
func teardownError(errs ...error) error {
	for _, err := range errs {
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// run dials, then reads until the connection ends.
func (a *Adapter) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}, endpoint string) {
	defer close(done)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, a.dialTimeout)
	conn, br, _, err := ws.Dialer{}.Dial(dialCtx, endpoint)
	dialCancel()

	a.mu.Lock()
	if err != nil {
		if !a.deliberate {
			a.err = fmt.Errorf("%w: %v", protocol.ErrConnectionUnavailable, err)
			a.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("websocket dial failed")
		}
		a.setStatusLocked(protocol.StatusClosed)
		a.mu.Unlock()
		return
	}
	if a.deliberate {
		a.setStatusLocked(protocol.StatusClosed)
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.conn = conn
	a.setStatusLocked(protocol.StatusOpen)
	a.mu.Unlock()

	a.logger.Debug().Str("endpoint", endpoint).Msg("websocket open")

	var src io.Reader = conn
	if br != nil {
		// The server sent frames right after the handshake; br holds them.
		src = br
	}
	err = a.readLoop(conn, src)
	conn.Close()

	a.mu.Lock()
	a.conn = nil
	a.err = a.closeReason(err)
	if a.err != nil {
		a.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("websocket connection lost")
	}
	a.setStatusLocked(protocol.StatusClosed)
	a.mu.Unlock()

	a.logger.Debug().Str("endpoint", endpoint).Msg("websocket closed")
}

func (a *Adapter) readLoop(conn net.Conn, src io.Reader) error {
	control := func(hdr ws.Header, r io.Reader) error {
		return a.handleControl(conn, hdr, r)
	}
	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return err
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		a.receive(data, hdr.OpCode == ws.OpBinary)
	}
}

func (a *Adapter) handleControl(conn net.Conn, hdr ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		return a.writeFrame(conn, ws.OpPong, payload)
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		a.mu.Lock()
		if a.Status() == protocol.StatusOpen {
			a.setStatusLocked(protocol.StatusClosing)
		}
		a.mu.Unlock()

		reply := code
		if reply.Empty() || reply == ws.StatusNoStatusRcvd {
			reply = ws.StatusNormalClosure
		}
		_ = a.writeFrame(conn, ws.OpClose, ws.NewCloseFrameBody(reply, ""))
		return wsutil.ClosedError{Code: code, Reason: reason}
	default:
		return nil
	}
}

// closeReason maps the error that ended the read loop to the value of Err.
func (a *Adapter) closeReason(err error) error {
	if a.deliberate {
		return nil
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		switch closed.Code {
		case ws.StatusNormalClosure, ws.StatusGoingAway, ws.StatusNoStatusRcvd, 0:
			return nil
		}
		return fmt.Errorf("%w: closed by peer with status %d %q", protocol.ErrConnectionUnavailable, closed.Code, closed.Reason)
	}
	return fmt.Errorf("%w: %v", protocol.ErrConnectionUnavailable, err)
}

func (a *Adapter) receive(data []byte, binary bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	msg := protocol.NewMessage(a.seq, data, binary, time.Now())
	a.last = msg
	a.hasLast = true
	a.enqueueLocked(event{message: msg, isMessage: true})
}

func (a *Adapter) write(ctx context.Context, op ws.OpCode, payload []byte) error {
	a.mu.Lock()
	conn := a.conn
	open := a.Status() == protocol.StatusOpen
	a.mu.Unlock()

	if !open || conn == nil {
		return fmt.Errorf("failed to send message: %w", protocol.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(a.writeTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})

	if err := wsutil.WriteClientMessage(conn, op, payload); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (a *Adapter) writeFrame(conn net.Conn, op ws.OpCode, payload []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(a.writeTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return wsutil.WriteClientMessage(conn, op, payload)
}

// setStatusLocked records a transition and queues its notification.
// a.mu must be held.
func (a *Adapter) setStatusLocked(s protocol.Status) {
	if a.Status() == s {
		return
	}
	a.status.Store(int32(s))
	a.enqueueLocked(event{status: s})
}

// enqueueLocked appends ev and starts the dispatcher if it is idle.
// a.mu must be held.
func (a *Adapter) enqueueLocked(ev event) {
	a.queue = append(a.queue, ev)
	if !a.dispatching {
		a.dispatching = true
		go a.dispatch()
	}
}

// dispatch drains the queue and exits once it is empty.
func (a *Adapter) dispatch() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.dispatching = false
			a.queue = nil
			a.mu.Unlock()
			return
		}
		ev := a.queue[0]
		a.queue[0] = event{}
		a.queue = a.queue[1:]
		a.mu.Unlock()

		if ev.isMessage {
			a.onMessage.notify(ev.message)
		} else {
			a.onStatus.notify(ev.status)
		}
	}
}
