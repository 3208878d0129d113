package recv

import (
	"bytes"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriterJSONL(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(64, &buf)

	w.Handle([]Entry{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Labels: map[string]string{"app": "a"}, Line: "one"},
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), Line: "two", Tenant: "t"},
	})
	w.Close()

	if w.LinesWritten() != 2 {
		t.Errorf("LinesWritten = %d, want 2", w.LinesWritten())
	}
	if w.BytesWritten() != int64(buf.Len()) {
		t.Errorf("BytesWritten = %d, want %d", w.BytesWritten(), buf.Len())
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var e Entry
	if err := json.Unmarshal(lines[1], &e); err != nil {
		t.Fatal(err)
	}
	if e.Line != "two" || e.Tenant != "t" {
		t.Errorf("entry = %+v", e)
	}
}

// blockingWriter stalls the drain goroutine until release is closed.
type blockingWriter struct {
	release chan struct{}
	buf     bytes.Buffer
}

func (b *blockingWriter) Write(p []byte) (int, error) {
	<-b.release
	return b.buf.Write(p)
}

func TestWriterDropsWhenFull(t *testing.T) {
	dst := &blockingWriter{release: make(chan struct{})}
	w := NewWriter(1, dst)

	drops := 0
	w.SetDropHook(func() { drops++ })

	// first entry is picked up by drain and blocks; the next fills the
	// channel; the rest are dropped
	w.Handle([]Entry{{Line: "a"}})
	time.Sleep(20 * time.Millisecond)
	w.Handle([]Entry{{Line: "b"}, {Line: "c"}, {Line: "d"}})

	if w.Dropped() != 2 {
		t.Errorf("Dropped = %d, want 2", w.Dropped())
	}
	if drops != 2 {
		t.Errorf("drop hook calls = %d, want 2", drops)
	}

	close(dst.release)
	w.Close()
	if w.LinesWritten() != 2 {
		t.Errorf("LinesWritten = %d, want 2", w.LinesWritten())
	}
}

func TestWriterSendAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(4, &buf)
	w.Close()
	w.Close() // idempotent

	if w.Send(Entry{Line: "late"}) {
		t.Error("Send after Close should fail")
	}
}

func TestWriterSendRacingClose(t *testing.T) {
	for range 50 {
		var buf bytes.Buffer
		w := NewWriter(1024, &buf)

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					if w.Send(Entry{Line: "x"}) {
						accepted.Add(1)
					}
				}
			}()
		}
		w.Close()
		wg.Wait()

		if got := w.LinesWritten(); got != accepted.Load() {
			t.Fatalf("LinesWritten = %d, accepted = %d", got, accepted.Load())
		}
	}
}
