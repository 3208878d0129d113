// Package loki turns queued log records into Loki push payloads.
package loki

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/lokisink/internal/logtypes"
)

// LevelLabel is the label carrying the Grafana level name.
const LevelLabel = "level"

var (
	// ErrNilArgument is returned when a required argument is nil.
	ErrNilArgument = errors.New("required argument is nil")
	// ErrInvalidLabel is returned for a global label with an empty name.
	ErrInvalidLabel = errors.New("label name must not be empty")
)

// FormatterOptions controls how records are mapped to streams.
type FormatterOptions struct {
	// Labels are attached to every stream.
	Labels map[string]string
	// PropertiesAsLabels names record properties promoted to labels.
	PropertiesAsLabels []string
	// PropertiesAsStructuredMetadata names record properties sent as
	// per-entry structured metadata.
	PropertiesAsStructuredMetadata []string
	// LeavePropertiesIntact keeps promoted properties in the line body.
	LeavePropertiesIntact bool
	// CreateLevelLabel adds a "level" label with the Grafana level name.
	CreateLevelLabel bool
	// UseInternalTimestamp orders and stamps entries with the time the
	// sink accepted them instead of the record's own timestamp.
	UseInternalTimestamp bool
}

// BatchFormatter groups records by label set and serializes them.
type BatchFormatter struct {
	opts   FormatterOptions
	global LabelSet
	logger *zap.Logger
}

// NewBatchFormatter validates opts and returns a formatter. A nil logger
// discards diagnostics.
func NewBatchFormatter(opts FormatterOptions, logger *zap.Logger) (*BatchFormatter, error) {
	global := make(LabelSet, len(opts.Labels))
	for k, v := range opts.Labels {
		if strings.TrimSpace(k) == "" {
			return nil, ErrInvalidLabel
		}
		global[k] = SanitizeLabelValue(v)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchFormatter{opts: opts, global: global, logger: logger}, nil
}

// Format writes the push payload for events to w. Nothing is written when
// events is empty.
func (f *BatchFormatter) Format(events []logtypes.QueuedEvent, formatter TextFormatter, w io.Writer) error {
	if formatter == nil || w == nil {
		return ErrNilArgument
	}
	batch, err := f.Batch(events, formatter)
	if err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(batch); err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	_, err = w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return err
}

type preparedEvent struct {
	ts       time.Time
	labels   LabelSet
	metadata map[string]string
	body     logtypes.LogRecord
}

// Batch builds the streams for events without serializing them.
func (f *BatchFormatter) Batch(events []logtypes.QueuedEvent, formatter TextFormatter) (*Batch, error) {
	if formatter == nil {
		return nil, ErrNilArgument
	}

	batch := &Batch{}
	if len(events) == 0 {
		return batch, nil
	}

	type group struct {
		labels LabelSet
		events []preparedEvent
	}
	var groups []*group
	index := make(map[string]*group)

	for i := range events {
		pe := f.prepare(&events[i])
		key := pe.labels.Key()
		g, ok := index[key]
		if !ok {
			g = &group{labels: pe.labels}
			index[key] = g
			groups = append(groups, g)
		}
		g.events = append(g.events, pe)
	}

	var line bytes.Buffer
	for _, g := range groups {
		sort.SliceStable(g.events, func(i, j int) bool {
			return g.events[i].ts.Before(g.events[j].ts)
		})

		var suppressed []string
		if !f.opts.LeavePropertiesIntact {
			suppressed = g.labels.Keys()
		}

		stream := &Stream{Labels: g.labels, Entries: make([]Entry, 0, len(g.events))}
		for i := range g.events {
			pe := &g.events[i]
			line.Reset()
			if err := formatter.Format(&pe.body, &line, suppressed); err != nil {
				return nil, fmt.Errorf("format record: %w", err)
			}
			stream.Entries = append(stream.Entries, Entry{
				Timestamp: pe.ts,
				Line:      strings.TrimRight(line.String(), "\r\n"),
				Metadata:  pe.metadata,
			})
		}
		batch.Streams = append(batch.Streams, stream)
	}
	return batch, nil
}

func (f *BatchFormatter) prepare(ev *logtypes.QueuedEvent) preparedEvent {
	rec := &ev.Record
	pe := preparedEvent{ts: rec.Timestamp, labels: f.global.Clone(), body: *rec}
	if f.opts.UseInternalTimestamp {
		pe.ts = ev.InternalTimestamp
	}

	if f.opts.CreateLevelLabel {
		if _, taken := pe.labels[LevelLabel]; taken {
			f.logger.Debug("level label already set by a global label",
				zap.String("label", LevelLabel))
		} else {
			pe.labels[LevelLabel] = rec.Level.GrafanaLevel()
		}
	}

	promoted := make(map[string]struct{})
	for _, name := range f.opts.PropertiesAsLabels {
		v, ok := rec.Property(name)
		if !ok {
			continue
		}
		promoted[name] = struct{}{}

		key := SanitizeLabelName(name)
		if existing, taken := pe.labels[key]; taken {
			f.logger.Debug("property conflicts with an existing label, keeping the label",
				zap.String("label", key),
				zap.String("kept", existing),
				zap.String("dropped", logtypes.Scalar(v)))
			continue
		}
		pe.labels[key] = SanitizeLabelValue(logtypes.Scalar(v))
	}

	for _, name := range f.opts.PropertiesAsStructuredMetadata {
		v, ok := rec.Property(name)
		if !ok {
			continue
		}
		promoted[name] = struct{}{}
		if pe.metadata == nil {
			pe.metadata = make(map[string]string)
		}
		pe.metadata[SanitizeLabelName(name)] = logtypes.Scalar(v)
	}

	if !f.opts.LeavePropertiesIntact {
		pe.body = rec.WithoutProperties(promoted)
	}
	return pe
}
