package loki

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Entry is one log line of a stream.
type Entry struct {
	Timestamp time.Time
	Line      string
	Metadata  map[string]string // structured metadata, optional
}

// MarshalJSON encodes the entry as Loki's value tuple:
// ["<unix ns>", "<line>"] or ["<unix ns>", "<line>", {metadata}].
func (e Entry) MarshalJSON() ([]byte, error) {
	ts := strconv.FormatInt(e.Timestamp.UnixNano(), 10)
	if len(e.Metadata) == 0 {
		return marshal([2]string{ts, e.Line})
	}
	return marshal([3]any{ts, e.Line, e.Metadata})
}

// marshal is json.Marshal without HTML escaping, so lines reach Loki
// byte-for-byte.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Stream is a group of entries sharing one label set.
type Stream struct {
	Labels  LabelSet `json:"stream"`
	Entries []Entry  `json:"values"`
}

// Batch is the payload of a single push request.
type Batch struct {
	Streams []*Stream `json:"streams"`
}

// Empty reports whether the batch holds no streams.
func (b *Batch) Empty() bool {
	return len(b.Streams) == 0
}

// Entries returns the total number of entries across streams.
func (b *Batch) Entries() int {
	n := 0
	for _, s := range b.Streams {
		n += len(s.Entries)
	}
	return n
}
