package ws

import (
	"sync"
	"sync/atomic"
)

type subscriber[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// subscribers is an ordered list of handlers for one kind of notification.
type subscribers[T any] struct {
	mu   sync.RWMutex
	list []*subscriber[T]
}

// add registers fn and returns a cancel func that is safe to call more than once.
func (s *subscribers[T]) add(fn func(T)) func() {
	sub := &subscriber[T]{fn: fn}
	sub.active.Store(true)

	s.mu.Lock()
	s.list = append(s.list, sub)
	s.mu.Unlock()

	return func() {
		if !sub.active.Swap(false) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.list {
			if other == sub {
				s.list = append(s.list[:i:i], s.list[i+1:]...)
				return
			}
		}
	}
}

func (s *subscribers[T]) notify(v T) {
	s.mu.RLock()
	list := s.list
	s.mu.RUnlock()

	for _, sub := range list {
		if sub.active.Load() {
			sub.fn(v)
		}
	}
}
