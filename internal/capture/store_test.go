package capture

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.Now = fixedNow
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	names, err := sealedSegments(dir)
	if err != nil {
		t.Fatal(err)
	}
	return names
}

func TestStoreWritesSingleSegment(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir})

	line := []byte(`{"line":"hello"}` + "\n")
	if _, err := s.Write(line); err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Track(ts, "team-a")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("segments = %v, want 1", files)
	}
	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, line) {
		t.Errorf("content = %q", data)
	}

	index, err := ReadIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 1 {
		t.Fatalf("index = %+v", index)
	}
	seg := index[0]
	if seg.Name != files[0] || seg.Lines != 1 || seg.Bytes != int64(len(line)) {
		t.Errorf("segment = %+v", seg)
	}
	if !seg.First.Equal(ts) || !seg.Last.Equal(ts) || seg.Tenants["team-a"] != 1 {
		t.Errorf("segment range/tenants = %+v", seg)
	}
}

func TestStoreRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir, SegmentBytes: 100})

	var sealed []Segment
	s.OnSeal(func(seg Segment) { sealed = append(sealed, seg) })

	line := []byte(strings.Repeat("x", 39) + "\n")
	for range 10 {
		if _, err := s.Write(line); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// two 40-byte lines fit in 100 bytes, a third would not
	if files := segmentFiles(t, dir); len(files) != 5 {
		t.Errorf("segments = %d, want 5", len(files))
	}
	if len(sealed) != 5 {
		t.Errorf("seal callbacks = %d, want 5", len(sealed))
	}
	for _, seg := range sealed {
		if seg.Bytes != 80 {
			t.Errorf("segment %s bytes = %d, want 80", seg.Name, seg.Bytes)
		}
	}
}

func TestStoreOversizedWriteIsNotSplit(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir, SegmentBytes: 10})

	big := []byte(strings.Repeat("y", 50) + "\n")
	if _, err := s.Write(big); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	files := segmentFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("segments = %v", files)
	}
}

func TestStoreCompress(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir, Compress: true})

	payload := strings.Repeat(`{"line":"compress me"}`+"\n", 100)
	if _, err := s.Write([]byte(payload)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir)
	if len(files) != 1 || !strings.HasSuffix(files[0], ".jsonl.zst") {
		t.Fatalf("segments = %v, want one .jsonl.zst", files)
	}
	f, err := os.Open(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Error("decompressed payload differs")
	}

	index, _ := ReadIndex(dir)
	if len(index) != 1 || index[0].Name != files[0] {
		t.Errorf("index = %+v", index)
	}
	if s.Usage() >= int64(len(payload)) {
		t.Errorf("usage = %d, want compressed size below %d", s.Usage(), len(payload))
	}
}

func TestStoreEnforcesMaxBytes(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir, SegmentBytes: 100, MaxBytes: 250})

	line := []byte(strings.Repeat("z", 99) + "\n")
	for range 6 {
		if _, err := s.Write(line); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	files := segmentFiles(t, dir)
	index, err := ReadIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != len(files) {
		t.Errorf("index has %d entries for %d files", len(index), len(files))
	}
	var total int64
	for _, name := range files {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		total += info.Size()
	}
	if total > 250 {
		t.Errorf("segments use %d bytes, cap is 250", total)
	}
	if len(files) == 0 || files[len(files)-1] != index[len(index)-1].Name {
		t.Errorf("newest segment was removed: files=%v", files)
	}
}

func TestStoreEmptyCloseLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, Options{Dir: dir})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if files := segmentFiles(t, dir); len(files) != 0 {
		t.Errorf("segments = %v, want none", files)
	}
	if _, err := s.Write([]byte("late\n")); err != ErrClosed {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestStoreReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()
	for range 2 {
		s := openStore(t, Options{Dir: dir})
		if _, err := s.Write([]byte("x\n")); err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if files := segmentFiles(t, dir); len(files) != 2 {
		t.Errorf("segments = %v, want 2", files)
	}
	if s, err := Open(Options{}); err == nil || s != nil {
		t.Error("expected error for empty dir option")
	}
}

func TestStoreRecoversFromFailedSeal(t *testing.T) {
	dir := t.TempDir()
	// a directory where the compressed first segment should go makes
	// sealing it fail
	blocker := filepath.Join(dir, fixedNow().UTC().Format("20060102T150405")+"-0001.jsonl.zst")
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatal(err)
	}
	s := openStore(t, Options{Dir: dir, SegmentBytes: 10, Compress: true})

	line := []byte("1234567\n")
	if _, err := s.Write(line); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(line); err == nil {
		t.Fatal("expected seal error")
	}
	if _, err := s.Write(line); err != nil {
		t.Fatalf("Write after failed seal: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	index, err := ReadIndex(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 1 || !strings.HasSuffix(index[0].Name, "-0002.jsonl.zst") || index[0].Bytes != int64(len(line)) {
		t.Errorf("index = %+v", index)
	}
}
