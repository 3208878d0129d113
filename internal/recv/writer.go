package recv

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Writer drains entries from a bounded channel and writes them as JSONL.
// Handle never blocks the HTTP handler; entries that do not fit are
// dropped and counted.
type Writer struct {
	ch     chan Entry
	dst    io.Writer
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex // orders Send against Close
	closed bool

	bytesWritten atomic.Int64
	linesWritten atomic.Int64
	dropped      atomic.Int64

	onDrop func() // optional, called per dropped entry
}

// NewWriter creates a Writer with the given buffer size.
func NewWriter(bufSize int, dst io.Writer) *Writer {
	w := &Writer{
		ch:   make(chan Entry, bufSize),
		dst:  dst,
		done: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// SetDropHook sets a callback invoked for every dropped entry.
func (w *Writer) SetDropHook(fn func()) {
	w.onDrop = fn
}

// Handle queues entries for writing.
func (w *Writer) Handle(entries []Entry) {
	for _, e := range entries {
		if !w.Send(e) {
			w.dropped.Add(1)
			if w.onDrop != nil {
				w.onDrop()
			}
		}
	}
}

// Send attempts a non-blocking send of entry to the writer channel.
// Returns false if the channel is full or the writer is closed.
func (w *Writer) Send(entry Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.ch <- entry:
		return true
	default:
		return false
	}
}

// Close signals the writer to stop, drains remaining entries, and waits.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
}

// BytesWritten returns total bytes written.
func (w *Writer) BytesWritten() int64 { return w.bytesWritten.Load() }

// LinesWritten returns total lines written.
func (w *Writer) LinesWritten() int64 { return w.linesWritten.Load() }

// Dropped returns the number of entries rejected by a full channel.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

func (w *Writer) drain() {
	defer w.wg.Done()
	for {
		select {
		case entry := <-w.ch:
			w.writeLine(entry)
		case <-w.done:
			// drain remaining
			for {
				select {
				case entry := <-w.ch:
					w.writeLine(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeLine(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	n, err := w.dst.Write(data)
	w.bytesWritten.Add(int64(n))
	if err != nil {
		return
	}
	w.linesWritten.Add(1)
	if t, ok := w.dst.(lineTracker); ok {
		t.Track(entry.Timestamp, entry.Tenant)
	}
}

// lineTracker is implemented by destinations that index what they store.
type lineTracker interface {
	Track(ts time.Time, tenant string)
}
