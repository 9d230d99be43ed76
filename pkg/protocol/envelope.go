package protocol

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// EnvelopeKind represents the kind of a feed envelope
type EnvelopeKind int

const (
	EnvelopeUnknown EnvelopeKind = iota
	EnvelopeStatus
	EnvelopeLogging
	EnvelopeRequest
	EnvelopeResponse
)

// String returns the string representation of EnvelopeKind
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeStatus:
		return "status"
	case EnvelopeLogging:
		return "logging"
	case EnvelopeRequest:
		return "request"
	case EnvelopeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Param is a named strategy parameter.
type Param struct {
	Name  string
	Value any
}

// TypeName returns the name a frontend uses to pick an editor for the value.
func (p Param) TypeName() string {
	switch p.Value.(type) {
	case bool:
		return "bool"
	case int, int32, int64, uint, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case string:
		return "str"
	default:
		return "object"
	}
}

// ParamsFromMap returns the params of m sorted by name.
func ParamsFromMap(m map[string]any) []Param {
	params := make([]Param, 0, len(m))
	for name, value := range m {
		params = append(params, Param{Name: name, Value: value})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	return params
}

// LogEntry is the body of a logging envelope.
type LogEntry struct {
	Level string
	Msg   string
	Ts    int64
}

// Envelope is a JSON document exchanged with the feed server.
// The payloads carried by the session stay opaque; envelopes only matter to
// the feed server and to renderers that choose to decode them.
type Envelope struct {
	body *structpb.Struct
}

func newEnvelope(fields map[string]any) (*Envelope, error) {
	body, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope: %w", err)
	}
	return &Envelope{body: body}, nil
}

// StatusEnvelope builds {"status": {...}, "params": [[name, value, type], ...]}.
func StatusEnvelope(status map[string]any, params []Param) (*Envelope, error) {
	rows := make([]any, 0, len(params))
	for _, p := range params {
		rows = append(rows, []any{p.Name, p.Value, p.TypeName()})
	}
	return newEnvelope(map[string]any{
		"status": status,
		"params": rows,
	})
}

// LogEnvelope builds {"logging": {"level": ..., "msg": ..., "ts": ...}}.
func LogEnvelope(entry LogEntry) (*Envelope, error) {
	return newEnvelope(map[string]any{
		"logging": map[string]any{
			"level": entry.Level,
			"msg":   entry.Msg,
			"ts":    entry.Ts,
		},
	})
}

// RequestEnvelope builds {"request": {...}}.
func RequestEnvelope(request map[string]any) (*Envelope, error) {
	return newEnvelope(map[string]any{"request": request})
}

// ResponseEnvelope builds {"response": result}.
func ResponseEnvelope(result string) (*Envelope, error) {
	return newEnvelope(map[string]any{"response": result})
}

// DecodeEnvelope parses a JSON envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := e.Decode(data); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode encodes the envelope into JSON bytes
func (e *Envelope) Encode() ([]byte, error) {
	data, err := protojson.Marshal(e.body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode decodes JSON bytes into the envelope
func (e *Envelope) Decode(data []byte) error {
	body := &structpb.Struct{}
	if err := protojson.Unmarshal(data, body); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	e.body = body
	return nil
}

// Kind classifies the envelope by its top-level key.
func (e *Envelope) Kind() EnvelopeKind {
	fields := e.body.GetFields()
	switch {
	case fields["status"] != nil:
		return EnvelopeStatus
	case fields["logging"] != nil:
		return EnvelopeLogging
	case fields["request"] != nil:
		return EnvelopeRequest
	case fields["response"] != nil:
		return EnvelopeResponse
	default:
		return EnvelopeUnknown
	}
}

// AsMap returns the envelope as plain Go values.
func (e *Envelope) AsMap() map[string]any {
	return e.body.AsMap()
}

// Request returns the body of a request envelope.
func (e *Envelope) Request() (map[string]any, bool) {
	v := e.body.GetFields()["request"]
	if v == nil || v.GetStructValue() == nil {
		return nil, false
	}
	return v.GetStructValue().AsMap(), true
}

// Response returns the result of a response envelope.
func (e *Envelope) Response() (string, bool) {
	v := e.body.GetFields()["response"]
	if v == nil {
		return "", false
	}
	return v.GetStringValue(), true
}

// Log returns the entry of a logging envelope.
func (e *Envelope) Log() (LogEntry, bool) {
	v := e.body.GetFields()["logging"]
	if v == nil || v.GetStructValue() == nil {
		return LogEntry{}, false
	}
	f := v.GetStructValue().GetFields()
	return LogEntry{
		Level: f["level"].GetStringValue(),
		Msg:   f["msg"].GetStringValue(),
		Ts:    int64(f["ts"].GetNumberValue()),
	}, true
}
