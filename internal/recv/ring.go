package recv

import "sync"

const defaultRingSize = 10_000

// Ring keeps the most recent received entries in memory.
// All methods are safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	buf     []Entry
	cap     int
	head    int // next write position
	count   int // entries in buffer (≤ cap)
	version int // total entries ever pushed
}

// NewRing creates a ring buffer with the given capacity.
// If cap ≤ 0, defaultRingSize is used.
func NewRing(cap int) *Ring {
	if cap <= 0 {
		cap = defaultRingSize
	}
	return &Ring{
		buf: make([]Entry, cap),
		cap: cap,
	}
}

// Handle stores entries, overwriting the oldest when full.
func (r *Ring) Handle(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.buf[r.head] = e
		r.head = (r.head + 1) % r.cap
		if r.count < r.cap {
			r.count++
		}
		r.version++
	}
}

// Snapshot returns a chronological copy of all entries in the ring.
func (r *Ring) Snapshot() []Entry {
	return r.SnapshotFiltered(nil)
}

// SnapshotFiltered returns a chronological copy of the entries for which
// keep returns true. A nil keep returns every entry.
func (r *Ring) SnapshotFiltered(keep func(Entry) bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	if n == 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	start := (r.head - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		e := r.buf[(start+i)%r.cap]
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Version returns the number of entries ever stored.
func (r *Ring) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}
