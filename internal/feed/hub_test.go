package feed_test

import (
	"testing"

	"github.com/omochice/socket-session/internal/feed"
)

func newTestSubscriber(id string, buffer int) *feed.Subscriber {
	return feed.NewSubscriber(id, newMockConn("127.0.0.1:1234"), buffer, 0, 0)
}

func TestHub_Register(t *testing.T) {
	hub := feed.NewHub()
	hub.Register(newTestSubscriber("a", 10))

	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestHub_Register_MultipleSubscribers(t *testing.T) {
	hub := feed.NewHub()

	for i := 0; i < 3; i++ {
		hub.Register(newTestSubscriber("sub", 10))
	}

	if got := hub.ClientCount(); got != 3 {
		t.Errorf("ClientCount() = %d, want 3", got)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := feed.NewHub()
	sub := newTestSubscriber("a", 10)
	hub.Register(sub)

	hub.Unregister(sub)
	hub.Unregister(sub)

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
	if _, ok := <-sub.Outgoing; ok {
		t.Error("Outgoing should be closed after Unregister")
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := feed.NewHub()
	a := newTestSubscriber("a", 10)
	b := newTestSubscriber("b", 10)
	hub.Register(a)
	hub.Register(b)

	if got := hub.Broadcast([]byte("frame")); got != 2 {
		t.Errorf("Broadcast() = %d, want 2", got)
	}
	for _, sub := range []*feed.Subscriber{a, b} {
		if got := string(<-sub.Outgoing); got != "frame" {
			t.Errorf("%s received %q, want %q", sub.ID, got, "frame")
		}
	}
}

func TestHub_Broadcast_SkipsFullQueue(t *testing.T) {
	hub := feed.NewHub()
	slow := newTestSubscriber("slow", 1)
	fast := newTestSubscriber("fast", 10)
	hub.Register(slow)
	hub.Register(fast)

	hub.Broadcast([]byte("first"))
	if got := hub.Broadcast([]byte("second")); got != 1 {
		t.Errorf("Broadcast() = %d, want 1", got)
	}
	if got := len(fast.Outgoing); got != 2 {
		t.Errorf("fast queue length = %d, want 2", got)
	}
}

func TestHub_Send(t *testing.T) {
	hub := feed.NewHub()
	sub := newTestSubscriber("a", 1)

	if hub.Send(sub, []byte("x")) {
		t.Error("Send() to unregistered subscriber should fail")
	}

	hub.Register(sub)
	if !hub.Send(sub, []byte("x")) {
		t.Error("Send() to registered subscriber should succeed")
	}
	if hub.Send(sub, []byte("y")) {
		t.Error("Send() to full queue should fail")
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := feed.NewHub()
	conns := []*mockConn{newMockConn("a"), newMockConn("b")}
	for i, conn := range conns {
		hub.Register(feed.NewSubscriber(string(rune('a'+i)), conn, 1, 0, 0))
	}

	hub.CloseAll()

	for _, conn := range conns {
		if !conn.isClosed() {
			t.Errorf("conn %s not closed", conn.remoteAddr)
		}
	}
}

func TestSubscriber_Allow(t *testing.T) {
	unlimited := feed.NewSubscriber("u", newMockConn(""), 1, 0, 0)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow() {
			t.Fatal("unlimited subscriber was throttled")
		}
	}

	limited := feed.NewSubscriber("l", newMockConn(""), 1, 0.001, 2)
	if !limited.Allow() || !limited.Allow() {
		t.Fatal("burst should be allowed")
	}
	if limited.Allow() {
		t.Error("third command should be throttled")
	}
}
