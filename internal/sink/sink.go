// Package sink buffers log records in memory and ships them to Loki in
// batches from a single background flush loop.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/lokisink/internal/backoff"
	"github.com/ppiankov/lokisink/internal/buffers"
	"github.com/ppiankov/lokisink/internal/forward"
	"github.com/ppiankov/lokisink/internal/logtypes"
	"github.com/ppiankov/lokisink/internal/loki"
	"github.com/ppiankov/lokisink/internal/timer"
)

// maxErrorBody bounds how much of a failed response is logged.
const maxErrorBody = 4 << 10

// batchFormatter turns a batch into one push payload.
type batchFormatter interface {
	Format(events []logtypes.QueuedEvent, text loki.TextFormatter, w io.Writer) error
}

// Sink accepts records through Emit and posts them to Loki on a timer.
// Emit never blocks; records that do not fit in the queue are dropped.
type Sink struct {
	opts      Options
	url       string
	queue     *buffers.Queue[logtypes.QueuedEvent]
	schedule  *backoff.Schedule
	formatter batchFormatter
	client    forward.Client
	timer     *timer.Timer
	logger    *zap.Logger
	metrics   *Metrics

	// arm schedules the next tick.
	arm func(time.Duration) error

	// owned by the tick goroutine
	batch []logtypes.QueuedEvent
	buf   bytes.Buffer

	// mu is held shared by Emit so Close cannot slip between the closed
	// check and the enqueue
	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// New validates opts, prepares the transport and arms the first flush
// after opts.Period.
func New(opts Options) (*Sink, error) {
	s, err := newSink(opts)
	if err != nil {
		return nil, err
	}
	if err := s.arm(s.opts.Period); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("arm timer: %w", err)
	}
	s.metrics.nextFlush(s.opts.Period)
	return s, nil
}

func newSink(opts Options) (*Sink, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	var queue *buffers.Queue[logtypes.QueuedEvent]
	if opts.QueueLimit == nil {
		queue = buffers.NewUnboundedQueue[logtypes.QueuedEvent]()
	} else {
		queue, err = buffers.NewQueue[logtypes.QueuedEvent](*opts.QueueLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}

	schedule, err := backoff.NewSchedule(opts.Period)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	formatter, err := loki.NewBatchFormatter(loki.FormatterOptions{
		Labels:                         opts.Labels,
		PropertiesAsLabels:             opts.PropertiesAsLabels,
		PropertiesAsStructuredMetadata: opts.PropertiesAsStructuredMetadata,
		LeavePropertiesIntact:          opts.LeavePropertiesIntact,
		CreateLevelLabel:               opts.CreateLevelLabel,
		UseInternalTimestamp:           opts.UseInternalTimestamp,
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	client := opts.Client
	if client == nil {
		client = forward.NewHTTPClient(nil)
	}
	if opts.Gzip {
		client, err = forward.NewGzipClient(client, 0)
		if err != nil {
			return nil, err
		}
	}
	client.SetCredentials(opts.Credentials)
	if err := client.SetTenant(opts.Tenant); err != nil {
		return nil, err
	}
	if err := client.SetDefaultHeaders(opts.Headers); err != nil {
		return nil, err
	}

	s := &Sink{
		opts:      opts,
		url:       forward.PushURL(opts.URL),
		queue:     queue,
		schedule:  schedule,
		formatter: formatter,
		client:    client,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		batch:     make([]logtypes.QueuedEvent, 0, min(opts.BatchPostingLimit, 1024)),
	}
	s.timer, err = timer.New(s.onTick)
	if err != nil {
		return nil, err
	}
	s.arm = s.timer.Start
	return s, nil
}

// Emit queues rec for shipping. Records below the minimum level and
// records emitted after Close are ignored.
func (s *Sink) Emit(rec logtypes.LogRecord) {
	if rec.Level < s.opts.MinimumLevel {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.dropped(reasonClosed, 1)
		return
	}

	ev := logtypes.QueuedEvent{Record: rec, InternalTimestamp: s.opts.Now()}
	if !s.queue.TryEnqueue(ev) {
		s.logger.Warn("queue is full, dropping event",
			zap.Int("limit", s.queue.Limit()),
			zap.Int64("dropped", s.queue.Drops()),
		)
		s.metrics.dropped(reasonQueueFull, 1)
		return
	}
	s.metrics.enqueued(s.queue.Len())
}

// Close stops the timer, waits for a running flush, flushes what is left
// in the queue once and closes the transport. Later calls return the
// first result.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.closed = true
	s.mu.Unlock()

	s.timer.Close()
	s.onTick()

	err := s.client.Close()
	if err != nil {
		err = fmt.Errorf("close transport: %w", err)
	}
	s.mu.Lock()
	s.closeErr = err
	s.mu.Unlock()
	return err
}

func (s *Sink) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Sink) onTick() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("flush panicked", zap.Any("panic", r))
			s.metrics.failed(reasonPanic)
			s.metrics.dropped(reasonPostFailed, len(s.batch))
			s.clearBatch()
			s.schedule.MarkFailure()
		}
		s.metrics.queueLength(s.queue.Len())
		if s.isClosed() {
			return
		}
		next := s.schedule.NextInterval()
		s.metrics.nextFlush(next)
		if err := s.arm(next); err != nil {
			s.logger.Debug("timer not re-armed", zap.Error(err))
		}
	}()
	s.flush()
}

// flush drains the queue in batches of at most BatchPostingLimit events,
// continuing while batches come out full. The first failed batch ends the
// tick.
func (s *Sink) flush() {
	limit := s.opts.BatchPostingLimit
	for {
		for len(s.batch) < limit {
			ev, ok := s.queue.TryDequeue()
			if !ok {
				break
			}
			s.batch = append(s.batch, ev)
		}
		batchWasFull := len(s.batch) >= limit

		if len(s.batch) == 0 {
			s.schedule.MarkSuccess()
			return
		}

		s.buf.Reset()
		if err := s.formatter.Format(s.batch, s.opts.TextFormatter, &s.buf); err != nil {
			s.logger.Error("format batch failed, dropping events",
				zap.Int("events", len(s.batch)),
				zap.Error(err),
			)
			s.metrics.failed(reasonFormat)
			s.metrics.dropped(reasonFormat, len(s.batch))
			s.clearBatch()
			s.schedule.MarkFailure()
			return
		}

		// nothing to post; the batch is released so the next pass drains
		// fresh events instead of reformatting the same ones
		if s.buf.Len() == 0 {
			s.metrics.dropped(reasonEmptyPayload, len(s.batch))
			s.clearBatch()
			if !batchWasFull {
				return
			}
			continue
		}

		if !s.post() {
			s.metrics.dropped(reasonPostFailed, len(s.batch))
			s.clearBatch()
			s.schedule.MarkFailure()
			return
		}

		s.metrics.shipped(len(s.batch))
		s.clearBatch()
		s.schedule.MarkSuccess()

		if !batchWasFull {
			return
		}
	}
}

// post sends the formatted buffer and reports whether Loki accepted it.
func (s *Sink) post() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Post(ctx, s.url, bytes.NewReader(s.buf.Bytes()))
	s.metrics.observePost(time.Since(start))
	if err != nil {
		s.logger.Error("push to loki failed",
			zap.String("url", s.url),
			zap.Int("events", len(s.batch)),
			zap.Int("failures", s.schedule.Failures()+1),
			zap.Error(err),
		)
		s.metrics.failed(reasonTransport)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	s.logger.Error("loki rejected batch",
		zap.String("url", s.url),
		zap.Int("status", resp.StatusCode),
		zap.String("statusText", http.StatusText(resp.StatusCode)),
		zap.ByteString("body", body),
		zap.Int("events", len(s.batch)),
		zap.Int("failures", s.schedule.Failures()+1),
	)
	s.metrics.failed(reasonStatus)
	return false
}

func (s *Sink) clearBatch() {
	clear(s.batch)
	s.batch = s.batch[:0]
}

// QueueLength returns the number of events waiting to be shipped.
func (s *Sink) QueueLength() int {
	return s.queue.Len()
}
