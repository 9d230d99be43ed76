package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-session/internal/session"
	"github.com/omochice/socket-session/pkg/protocol"
)

func encode(t *testing.T, build func() (*protocol.Envelope, error)) []byte {
	t.Helper()
	env, err := build()
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func TestRenderer_PrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, true)

	history := []protocol.Message{{Seq: 1, Data: []byte("a")}}
	r.render(session.Snapshot{StatusLabel: "Connecting"})
	r.render(session.Snapshot{StatusLabel: "Open"})
	r.render(session.Snapshot{StatusLabel: "Open", History: history})
	history = append(history, protocol.Message{Seq: 2, Data: []byte("b")})
	r.render(session.Snapshot{StatusLabel: "Open", History: history})

	assert.Equal(t, "*** Connecting ***\n*** Open ***\n#1 a\n#2 b\n", out.String())
}

func TestRenderer_Format(t *testing.T) {
	r := newRenderer(&bytes.Buffer{}, false)

	status := encode(t, func() (*protocol.Envelope, error) {
		return protocol.StatusEnvelope(
			map[string]any{"trade_allow": true, "fees_paid": 591},
			[]protocol.Param{{Name: "okx_leverage", Value: 1.5}},
		)
	})
	logEnv := encode(t, func() (*protocol.Envelope, error) {
		return protocol.LogEnvelope(protocol.LogEntry{Level: "warning", Msg: "careful", Ts: 1})
	})
	resp := encode(t, func() (*protocol.Envelope, error) {
		return protocol.ResponseEnvelope("success")
	})

	tests := []struct {
		name string
		msg  protocol.Message
		want string
	}{
		{"status", protocol.Message{Seq: 1, Data: status}, "#1 status fees_paid=591 trade_allow=true params okx_leverage=1.5"},
		{"logging", protocol.Message{Seq: 2, Data: logEnv}, "#2 [WARNING] careful"},
		{"response", protocol.Message{Seq: 3, Data: resp}, "#3 response success"},
		{"plain text", protocol.Message{Seq: 4, Data: []byte("hello")}, "#4 hello"},
		{"unknown envelope", protocol.Message{Seq: 5, Data: []byte(`{"other":1}`)}, `#5 {"other":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.format(tt.msg))
		})
	}
}

func TestParseSet(t *testing.T) {
	tests := []struct {
		arg     string
		want    map[string]any
		wantErr bool
	}{
		{"binance_on=false", map[string]any{"binance_on": false}, false},
		{"max_position = 500", map[string]any{"max_position": int64(500)}, false},
		{"okx_leverage=2.5", map[string]any{"okx_leverage": 2.5}, false},
		{"trade_direction=CLOSE", map[string]any{"trade_direction": "CLOSE"}, false},
		{"flag=1", map[string]any{"flag": int64(1)}, false},
		{"missing", nil, true},
		{"=value", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseSet(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
