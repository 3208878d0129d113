package recv

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Stats collects receiver counters for the shutdown summary.
// All methods are safe for concurrent use.
type Stats struct {
	Pushes        atomic.Int64
	LinesReceived atomic.Int64

	mu      sync.Mutex
	talkers map[string]int64
	tenants map[string]int64
}

// NewStats creates a Stats collector.
func NewStats() *Stats {
	return &Stats{
		talkers: make(map[string]int64),
		tenants: make(map[string]int64),
	}
}

// RecordPush counts one push request and its entries. The talker name is
// the "app" label value, falling back to the "job" label.
func (s *Stats) RecordPush(entries []Entry) {
	s.Pushes.Add(1)
	s.LinesReceived.Add(int64(len(entries)))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if name := talkerName(e.Labels); name != "" {
			s.talkers[name]++
		}
		if e.Tenant != "" {
			s.tenants[e.Tenant]++
		}
	}
}

func talkerName(labels map[string]string) string {
	if name := labels["app"]; name != "" {
		return name
	}
	return labels["job"]
}

// Count is a name and its cumulative line count.
type Count struct {
	Name  string
	Count int64
}

// Snapshot is a point-in-time copy of receiver stats.
type Snapshot struct {
	Pushes        int64
	LinesReceived int64
	Talkers       []Count
	Tenants       []Count
}

// Snapshot returns a point-in-time copy of all stats. Talkers and tenants
// are sorted by count, busiest first.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Pushes:        s.Pushes.Load(),
		LinesReceived: s.LinesReceived.Load(),
	}

	s.mu.Lock()
	snap.Talkers = sortedCounts(s.talkers)
	snap.Tenants = sortedCounts(s.tenants)
	s.mu.Unlock()

	return snap
}

func sortedCounts(m map[string]int64) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
