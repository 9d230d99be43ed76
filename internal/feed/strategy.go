package feed

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/omochice/socket-session/pkg/protocol"
)

// Log levels published to frontends.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Strategy holds the read-only status and the editable params that the feed
// publishes.
type Strategy struct {
	mu     sync.RWMutex
	status map[string]any
	params map[string]any
	now    func() time.Time
}

// NewStrategy returns a strategy with the demo status and params.
func NewStrategy() *Strategy {
	return &Strategy{
		status: map[string]any{
			"exchanges_connected": 4,
			"profitable_trades":   38,
			"overall_pnl_usd":     283,
			"fees_paid":           591,
			"trade_allow":         true,
		},
		params: map[string]any{
			"binance_on":      true,
			"huobi_on":        true,
			"okx_leverage":    1.5,
			"bitmex_on":       true,
			"max_position":    10000,
			"trade_direction": "OPEN",
		},
		now: time.Now,
	}
}

// Params returns the current params sorted by name.
func (s *Strategy) Params() []protocol.Param {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.ParamsFromMap(s.params)
}

// Status returns a copy of the status map.
func (s *Strategy) Status() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.status)
}

// StatusEnvelope refreshes fees_paid with the current timestamp and returns
// the status and params as one envelope.
func (s *Strategy) StatusEnvelope() (*protocol.Envelope, error) {
	s.mu.Lock()
	s.status["fees_paid"] = s.now().Unix()
	status := copyMap(s.status)
	params := protocol.ParamsFromMap(s.params)
	s.mu.Unlock()

	return protocol.StatusEnvelope(status, params)
}

// LogEnvelopes returns one test entry per log level.
func (s *Strategy) LogEnvelopes() ([]*protocol.Envelope, error) {
	ts := s.now().Unix()
	out := make([]*protocol.Envelope, 0, 3)
	for _, level := range []string{LevelInfo, LevelWarning, LevelError} {
		env, err := protocol.LogEnvelope(protocol.LogEntry{
			Level: level,
			Msg:   "This is a test = " + level + "- msg",
			Ts:    ts,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// Apply merges request into the params and returns the changed names in
// order. Whole JSON numbers stay integers unless the param already holds a
// float.
func (s *Strategy) Apply(request map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(request))
	for name, value := range request {
		s.params[name] = coerce(s.params[name], value)
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func coerce(current, value any) any {
	f, ok := value.(float64)
	if !ok {
		return value
	}
	switch current.(type) {
	case float32, float64:
		return f
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
