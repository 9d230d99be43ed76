package session

import (
	"context"
	"sync"

	"github.com/omochice/socket-session/pkg/protocol"
)

// fakeTransport is an in-memory Transport driven by the test goroutine.
type fakeTransport struct {
	mu sync.Mutex

	status       protocol.Status
	connectErr   error
	sendErr      error
	closeErr     error
	quietConnect bool

	connectCalls []string
	closeCalls   int
	sent         [][]byte

	// every handler ever registered, with its cancellation flag
	statusHandlers  []*fakeSub[protocol.Status]
	messageHandlers []*fakeSub[protocol.Message]
	seq             uint64
}

type fakeSub[T any] struct {
	fn        func(T)
	cancelled bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	f.connectCalls = append(f.connectCalls, endpoint)
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	quiet := f.quietConnect
	f.mu.Unlock()

	if !quiet {
		f.EmitStatus(protocol.StatusConnecting)
	}
	return nil
}

func (f *fakeTransport) Status() protocol.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != protocol.StatusOpen {
		return protocol.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closeCalls++
	err := f.closeErr
	f.mu.Unlock()
	return err
}

func (f *fakeTransport) OnStatus(fn func(protocol.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub[protocol.Status]{fn: fn}
	f.statusHandlers = append(f.statusHandlers, sub)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		sub.cancelled = true
	}
}

func (f *fakeTransport) OnMessage(fn func(protocol.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub[protocol.Message]{fn: fn}
	f.messageHandlers = append(f.messageHandlers, sub)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		sub.cancelled = true
	}
}

// EmitStatus sets the status and notifies active subscribers.
func (f *fakeTransport) EmitStatus(s protocol.Status) {
	f.mu.Lock()
	f.status = s
	var fns []func(protocol.Status)
	for _, sub := range f.statusHandlers {
		if !sub.cancelled {
			fns = append(fns, sub.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// EmitMessage delivers payload to active subscribers.
func (f *fakeTransport) EmitMessage(payload string) {
	f.emit(payload, false)
}

// EmitMessageIgnoringCancel delivers payload to every handler ever registered,
// modelling a notification already in flight when the subscriber went away.
func (f *fakeTransport) EmitMessageIgnoringCancel(payload string) {
	f.emit(payload, true)
}

func (f *fakeTransport) emit(payload string, ignoreCancel bool) {
	f.mu.Lock()
	f.seq++
	msg := protocol.Message{Seq: f.seq, Data: []byte(payload)}
	var fns []func(protocol.Message)
	for _, sub := range f.messageHandlers {
		if ignoreCancel || !sub.cancelled {
			fns = append(fns, sub.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

func (f *fakeTransport) activeSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.statusHandlers {
		if !sub.cancelled {
			n++
		}
	}
	for _, sub := range f.messageHandlers {
		if !sub.cancelled {
			n++
		}
	}
	return n
}

var _ Transport = (*fakeTransport)(nil)
