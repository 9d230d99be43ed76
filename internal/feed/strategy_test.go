package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-session/pkg/protocol"
)

func fixedStrategy(at time.Time) *Strategy {
	s := NewStrategy()
	s.now = func() time.Time { return at }
	return s
}

func paramMap(params []protocol.Param) map[string]any {
	out := make(map[string]any, len(params))
	for _, p := range params {
		out[p.Name] = p.Value
	}
	return out
}

func TestStrategy_InitialState(t *testing.T) {
	s := NewStrategy()

	status := s.Status()
	assert.Equal(t, 4, status["exchanges_connected"])
	assert.Equal(t, 591, status["fees_paid"])
	assert.Equal(t, true, status["trade_allow"])

	params := s.Params()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	assert.Equal(t, []string{
		"binance_on", "bitmex_on", "huobi_on", "max_position", "okx_leverage", "trade_direction",
	}, names)
}

func TestStrategy_StatusEnvelope(t *testing.T) {
	at := time.Unix(1700000000, 0)
	s := fixedStrategy(at)

	env, err := s.StatusEnvelope()
	require.NoError(t, err)
	assert.Equal(t, protocol.EnvelopeStatus, env.Kind())

	body := env.AsMap()
	status := body["status"].(map[string]any)
	assert.Equal(t, float64(at.Unix()), status["fees_paid"])
	assert.Equal(t, float64(38), status["profitable_trades"])

	rows := body["params"].([]any)
	require.Len(t, rows, 6)
	assert.Equal(t, []any{"binance_on", true, "bool"}, rows[0])
	assert.Equal(t, []any{"max_position", float64(10000), "int"}, rows[3])
	assert.Equal(t, []any{"okx_leverage", 1.5, "float"}, rows[4])
	assert.Equal(t, []any{"trade_direction", "OPEN", "str"}, rows[5])

	assert.Equal(t, at.Unix(), s.Status()["fees_paid"])
}

func TestStrategy_LogEnvelopes(t *testing.T) {
	s := fixedStrategy(time.Unix(42, 0))

	envs, err := s.LogEnvelopes()
	require.NoError(t, err)
	require.Len(t, envs, 3)

	for i, level := range []string{LevelInfo, LevelWarning, LevelError} {
		entry, ok := envs[i].Log()
		require.True(t, ok)
		assert.Equal(t, level, entry.Level)
		assert.Contains(t, entry.Msg, level)
		assert.Equal(t, int64(42), entry.Ts)
	}
}

func TestStrategy_Apply(t *testing.T) {
	s := NewStrategy()

	changed := s.Apply(map[string]any{
		"trade_direction": "CLOSE",
		"okx_leverage":    float64(3),
		"max_position":    float64(500),
		"new_threshold":   0.25,
	})

	assert.Equal(t, []string{"max_position", "new_threshold", "okx_leverage", "trade_direction"}, changed)

	params := paramMap(s.Params())
	assert.Equal(t, "CLOSE", params["trade_direction"])
	assert.Equal(t, float64(3), params["okx_leverage"])
	assert.Equal(t, int64(500), params["max_position"])
	assert.Equal(t, 0.25, params["new_threshold"])
	assert.Equal(t, true, params["binance_on"])

	for _, p := range s.Params() {
		switch p.Name {
		case "max_position":
			assert.Equal(t, "int", p.TypeName())
		case "okx_leverage", "new_threshold":
			assert.Equal(t, "float", p.TypeName())
		}
	}
}

func TestStrategy_ApplyEmpty(t *testing.T) {
	s := NewStrategy()
	before := s.Params()

	assert.Empty(t, s.Apply(map[string]any{}))
	assert.Equal(t, before, s.Params())
}
