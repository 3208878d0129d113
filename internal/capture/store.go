// Package capture persists received push entries as size-bounded JSONL
// segments, so a debugging session can be inspected after the receiver
// stops.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultSegmentBytes is the size at which the active segment is sealed.
	DefaultSegmentBytes = 64 << 20 // 64MB

	// IndexFile lists sealed segments, one JSON object per line.
	IndexFile = "segments.jsonl"

	segmentExt = ".jsonl"
	zstdExt    = ".zst"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("capture store closed")

// Options configures a Store.
type Options struct {
	Dir string
	// SegmentBytes caps a single segment. Zero means DefaultSegmentBytes.
	SegmentBytes int64
	// MaxBytes caps the directory; the oldest segments are removed first.
	// Zero disables the cap.
	MaxBytes int64
	// Compress seals segments as zstd files.
	Compress bool
	Now      func() time.Time
}

// Segment describes one sealed segment in the index.
type Segment struct {
	Name    string           `json:"name"`
	First   time.Time        `json:"first"`
	Last    time.Time        `json:"last"`
	Lines   int64            `json:"lines"`
	Bytes   int64            `json:"bytes"`
	Tenants map[string]int64 `json:"tenants,omitempty"`
}

// Store is an io.Writer that spreads JSONL lines over rotating segment
// files. A single Write is never split across segments.
type Store struct {
	opts Options

	mu      sync.Mutex
	file    *os.File
	current Segment
	seq     int
	usage   int64
	closed  bool

	onSeal func(Segment)
}

// Open creates dir if needed and starts a new active segment.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("capture dir is required")
	}
	if opts.SegmentBytes <= 0 {
		opts.SegmentBytes = DefaultSegmentBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}

	s := &Store{opts: opts}
	usage, err := dirUsage(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan capture dir: %w", err)
	}
	s.usage = usage
	existing, err := sealedSegments(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("scan capture dir: %w", err)
	}
	s.seq = len(existing)
	if err := s.startSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnSeal registers fn to be called after each segment is sealed.
func (s *Store) OnSeal(fn func(Segment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSeal = fn
}

// Write appends p to the active segment, sealing it first when p would
// push it past SegmentBytes.
func (s *Store) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	if s.current.Bytes > 0 && s.current.Bytes+int64(len(p)) > s.opts.SegmentBytes {
		sealErr := s.seal()
		// the old file is closed either way; without a new segment the
		// store cannot accept writes any more
		if err := s.startSegment(); err != nil {
			s.closed = true
			return 0, errors.Join(sealErr, err)
		}
		if sealErr != nil {
			return 0, fmt.Errorf("seal segment: %w", sealErr)
		}
	}

	n, err := s.file.Write(p)
	s.current.Bytes += int64(n)
	s.usage += int64(n)
	return n, err
}

// Track records one written line in the active segment's index entry.
func (s *Store) Track(ts time.Time, tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg := &s.current
	seg.Lines++
	if seg.First.IsZero() || ts.Before(seg.First) {
		seg.First = ts
	}
	if ts.After(seg.Last) {
		seg.Last = ts
	}
	if tenant != "" {
		if seg.Tenants == nil {
			seg.Tenants = make(map[string]int64)
		}
		seg.Tenants[tenant]++
	}
}

// Usage returns the bytes held by segment files, the active one included.
func (s *Store) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Close seals the active segment. An empty active segment is removed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.seal()
}

func (s *Store) startSegment() error {
	s.seq++
	name := fmt.Sprintf("%s-%04d%s", s.opts.Now().UTC().Format("20060102T150405"), s.seq, segmentExt)
	f, err := os.OpenFile(filepath.Join(s.opts.Dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	s.file = f
	s.current = Segment{Name: name}
	return nil
}

// seal closes the active file, compresses it when configured, appends it
// to the index and enforces the directory cap.
func (s *Store) seal() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	path := filepath.Join(s.opts.Dir, s.current.Name)
	if s.current.Bytes == 0 {
		return os.Remove(path)
	}

	seg := s.current
	if s.opts.Compress {
		size, err := compress(path)
		if err != nil {
			return fmt.Errorf("compress %s: %w", seg.Name, err)
		}
		s.usage += size - seg.Bytes
		seg.Name += zstdExt
	}
	if err := appendIndex(s.opts.Dir, seg); err != nil {
		return fmt.Errorf("update index: %w", err)
	}
	if err := s.enforceCap(); err != nil {
		return fmt.Errorf("enforce size cap: %w", err)
	}
	if s.onSeal != nil {
		s.onSeal(seg)
	}
	return nil
}

func (s *Store) enforceCap() error {
	if s.opts.MaxBytes <= 0 {
		return nil
	}
	usage, err := dirUsage(s.opts.Dir)
	if err != nil {
		return err
	}
	s.usage = usage
	if usage <= s.opts.MaxBytes {
		return nil
	}

	names, err := sealedSegments(s.opts.Dir)
	if err != nil {
		return err
	}
	removed := make(map[string]bool)
	for _, name := range names {
		if s.usage <= s.opts.MaxBytes {
			break
		}
		path := filepath.Join(s.opts.Dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		s.usage -= info.Size()
		removed[name] = true
	}
	if len(removed) == 0 {
		return nil
	}
	return rewriteIndex(s.opts.Dir, func(seg Segment) bool { return !removed[seg.Name] })
}

// compress replaces path with a zstd copy and returns the new size.
func compress(path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path + zstdExt)
	if err != nil {
		return 0, err
	}
	enc, err := zstd.NewWriter(dst)
	if err != nil {
		_ = dst.Close()
		return 0, err
	}
	if _, err := io.Copy(enc, src); err != nil {
		_ = enc.Close()
		_ = dst.Close()
		return 0, err
	}
	if err := enc.Close(); err != nil {
		_ = dst.Close()
		return 0, err
	}
	info, err := dst.Stat()
	if err != nil {
		_ = dst.Close()
		return 0, err
	}
	if err := dst.Close(); err != nil {
		return 0, err
	}
	return info.Size(), os.Remove(path)
}

// ReadIndex returns the sealed segments listed in dir, oldest first.
func ReadIndex(dir string) ([]Segment, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var segs []Segment
	for line := range strings.SplitSeq(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var seg Segment
		if err := json.Unmarshal([]byte(line), &seg); err != nil {
			return nil, fmt.Errorf("parse index line: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func appendIndex(dir string, seg Segment) error {
	f, err := os.OpenFile(filepath.Join(dir, IndexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	data, err := json.Marshal(seg)
	if err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func rewriteIndex(dir string, keep func(Segment) bool) error {
	segs, err := ReadIndex(dir)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, seg := range segs {
		if !keep(seg) {
			continue
		}
		data, err := json.Marshal(seg)
		if err != nil {
			return err
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return os.WriteFile(filepath.Join(dir, IndexFile), []byte(b.String()), 0o644)
}

// sealedSegments lists segment files by name, which sorts oldest first.
// It is only called while no segment is open.
func sealedSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == IndexFile {
			continue
		}
		if strings.HasSuffix(name, segmentExt) || strings.HasSuffix(name, segmentExt+zstdExt) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// dirUsage sums the sizes of segment files in dir. The index is not
// counted against the cap.
func dirUsage(dir string) (int64, error) {
	names, err := sealedSegments(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
