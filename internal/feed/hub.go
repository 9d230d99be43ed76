package feed

import (
	"sync"

	"golang.org/x/time/rate"
)

// Subscriber is a connected frontend.
type Subscriber struct {
	ID       string
	Conn     Conn
	Outgoing chan []byte
	limiter  *rate.Limiter
}

// NewSubscriber creates a subscriber with an outgoing queue of size buffer.
// Inbound commands are limited to perSecond with the given burst; a zero
// perSecond disables the limit.
func NewSubscriber(id string, conn Conn, buffer int, perSecond float64, burst int) *Subscriber {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Subscriber{
		ID:       id,
		Conn:     conn,
		Outgoing: make(chan []byte, buffer),
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Allow reports whether another inbound command may be handled now.
func (s *Subscriber) Allow() bool {
	return s.limiter.Allow()
}

// Hub tracks every subscriber and fans frames out to them.
type Hub struct {
	subscribers map[*Subscriber]bool
	mu          sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
	}
}

// Register adds a subscriber to the hub.
func (h *Hub) Register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = true
}

// Unregister removes a subscriber and closes its outgoing queue.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.subscribers[sub] {
		return
	}
	delete(h.subscribers, sub)
	close(sub.Outgoing)
}

// Broadcast queues data for every subscriber and returns how many accepted it.
// A subscriber whose queue is full misses the frame.
func (h *Hub) Broadcast(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subscribers {
		select {
		case sub.Outgoing <- data:
			delivered++
		default:
		}
	}
	return delivered
}

// Send queues data for one registered subscriber.
func (h *Hub) Send(sub *Subscriber, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.subscribers[sub] {
		return false
	}
	select {
	case sub.Outgoing <- data:
		return true
	default:
		return false
	}
}

// ClientCount returns number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// CloseAll closes every subscriber connection. Their read loops then
// unregister them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.subscribers))
	for sub := range h.subscribers {
		conns = append(conns, sub.Conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
