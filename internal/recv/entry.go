// Package recv implements a Loki-compatible push receiver for inspecting
// what a sink sends.
package recv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Entry is one received log line.
type Entry struct {
	Timestamp time.Time         `json:"ts"`
	Tenant    string            `json:"tenant,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Line      string            `json:"line"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Handler consumes decoded push requests. Handle must not retain entries
// beyond the call unless it copies them.
type Handler interface {
	Handle(entries []Entry)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(entries []Entry)

// Handle calls f(entries).
func (f HandlerFunc) Handle(entries []Entry) { f(entries) }

// Tee fans entries out to every non-nil handler in order.
func Tee(handlers ...Handler) Handler {
	hs := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return HandlerFunc(func(entries []Entry) {
		for _, h := range hs {
			h.Handle(entries)
		}
	})
}

// PushRequest is the Loki push API JSON payload.
type PushRequest struct {
	Streams []PushStream `json:"streams"`
}

// PushStream is one stream within a push request.
type PushStream struct {
	Stream map[string]string `json:"stream"`
	Values []PushValue       `json:"values"`
}

// PushValue is a ["<ns>", "<line>"] or ["<ns>", "<line>", {metadata}] tuple.
type PushValue struct {
	Timestamp time.Time
	Line      string
	Metadata  map[string]string
}

var errBadValue = errors.New("value must be [timestamp, line] or [timestamp, line, metadata]")

// UnmarshalJSON decodes the tuple form.
func (v *PushValue) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return errBadValue
	}
	if len(raw) < 2 || len(raw) > 3 {
		return errBadValue
	}

	var ts string
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", ts, err)
	}
	v.Timestamp = time.Unix(0, ns)

	if err := json.Unmarshal(raw[1], &v.Line); err != nil {
		return fmt.Errorf("line: %w", err)
	}
	if len(raw) == 3 {
		if err := json.Unmarshal(raw[2], &v.Metadata); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	return nil
}

// DecodePush reads a JSON push request from r and flattens it into
// entries tagged with tenant.
func DecodePush(r io.Reader, tenant string) ([]Entry, error) {
	var req PushRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, err
	}

	var entries []Entry
	for _, s := range req.Streams {
		for _, v := range s.Values {
			entries = append(entries, Entry{
				Timestamp: v.Timestamp,
				Tenant:    tenant,
				Labels:    s.Stream,
				Line:      v.Line,
				Metadata:  v.Metadata,
			})
		}
	}
	return entries, nil
}
