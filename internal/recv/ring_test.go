package recv

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func push(r *Ring, lines ...string) {
	for _, l := range lines {
		r.Handle([]Entry{{Line: l}})
	}
}

func TestRingUnderCapacity(t *testing.T) {
	r := NewRing(5)
	push(r, "a", "b", "c")

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	if snap[0].Line != "a" || snap[1].Line != "b" || snap[2].Line != "c" {
		t.Errorf("got %v, want [a b c]", lines(snap))
	}
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(3)
	r.Handle([]Entry{{Line: "a"}, {Line: "b"}, {Line: "c"}, {Line: "d"}, {Line: "e"}})

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	if snap[0].Line != "c" || snap[1].Line != "d" || snap[2].Line != "e" {
		t.Errorf("got %v, want [c d e]", lines(snap))
	}
	if r.Version() != 5 {
		t.Errorf("version = %d, want 5", r.Version())
	}
}

func TestRingEmpty(t *testing.T) {
	r := NewRing(10)
	if snap := r.Snapshot(); snap != nil {
		t.Errorf("expected nil snapshot for empty ring, got %v", snap)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	r := NewRing(0)
	push(r, "x")
	if len(r.Snapshot()) != 1 {
		t.Errorf("len = %d, want 1", len(r.Snapshot()))
	}
}

func TestRingPreservesFields(t *testing.T) {
	r := NewRing(10)
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	r.Handle([]Entry{{
		Timestamp: ts,
		Tenant:    "team-a",
		Labels:    map[string]string{"app": "api"},
		Line:      "hello",
		Metadata:  map[string]string{"trace_id": "abc"},
	}})

	e := r.Snapshot()[0]
	if !e.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, ts)
	}
	if e.Labels["app"] != "api" || e.Tenant != "team-a" || e.Metadata["trace_id"] != "abc" {
		t.Errorf("entry = %+v", e)
	}
}

func TestRingConcurrent(t *testing.T) {
	r := NewRing(100)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Handle([]Entry{{Line: fmt.Sprintf("%d-%d", id, j)}})
				r.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if r.Version() != 10000 {
		t.Errorf("version = %d, want 10000", r.Version())
	}
}

func TestRingSnapshotFiltered(t *testing.T) {
	r := NewRing(10)
	r.Handle([]Entry{
		{Labels: map[string]string{"app": "api"}, Line: "a"},
		{Labels: map[string]string{"app": "web"}, Line: "b"},
		{Labels: map[string]string{"app": "api"}, Line: "c"},
	})

	snap := r.SnapshotFiltered(func(e Entry) bool {
		return e.Labels["app"] == "api"
	})
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if snap[0].Line != "a" || snap[1].Line != "c" {
		t.Errorf("got %v, want [a c]", lines(snap))
	}
}

func lines(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Line
	}
	return out
}
