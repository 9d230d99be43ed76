package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/omochice/socket-session/internal/session"
	"github.com/omochice/socket-session/pkg/protocol"
)

// renderer prints what changed between consecutive snapshots.
type renderer struct {
	out     io.Writer
	raw     bool
	status  string
	printed int
}

func newRenderer(out io.Writer, raw bool) *renderer {
	return &renderer{out: out, raw: raw}
}

func (r *renderer) render(snap session.Snapshot) {
	if snap.StatusLabel != r.status {
		r.status = snap.StatusLabel
		fmt.Fprintf(r.out, "*** %s ***\n", snap.StatusLabel)
	}
	for _, msg := range snap.History[r.printed:] {
		fmt.Fprintln(r.out, r.format(msg))
	}
	r.printed = len(snap.History)
}

func (r *renderer) format(msg protocol.Message) string {
	if r.raw || msg.Binary {
		return fmt.Sprintf("#%d %s", msg.Seq, msg.Text())
	}
	env, err := protocol.DecodeEnvelope(msg.Data)
	if err != nil {
		return fmt.Sprintf("#%d %s", msg.Seq, msg.Text())
	}

	switch env.Kind() {
	case protocol.EnvelopeStatus:
		body := env.AsMap()
		status, _ := body["status"].(map[string]any)
		return fmt.Sprintf("#%d status %s params %s", msg.Seq, formatMap(status), formatParams(body["params"]))
	case protocol.EnvelopeLogging:
		entry, _ := env.Log()
		return fmt.Sprintf("#%d [%s] %s", msg.Seq, strings.ToUpper(entry.Level), entry.Msg)
	case protocol.EnvelopeResponse:
		result, _ := env.Response()
		return fmt.Sprintf("#%d response %s", msg.Seq, result)
	default:
		return fmt.Sprintf("#%d %s", msg.Seq, msg.Text())
	}
}

func formatMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, m[k])
	}
	return strings.Join(parts, " ")
}

func formatParams(v any) string {
	rows, _ := v.([]any)
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		cols, ok := row.([]any)
		if !ok || len(cols) < 2 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%v=%v", cols[0], cols[1]))
	}
	return strings.Join(parts, " ")
}

// parseSet turns "name=value" into a one-entry request body.
func parseSet(arg string) (map[string]any, error) {
	name, raw, ok := strings.Cut(arg, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil, fmt.Errorf("expected name=value, got %q", arg)
	}
	return map[string]any{name: parseValue(strings.TrimSpace(raw))}, nil
}

func parseValue(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
