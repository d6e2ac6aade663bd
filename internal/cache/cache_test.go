package cache

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"fragility/internal/artifact"
	"fragility/internal/window"
)

func testKey() Key {
	return Key{Recording: strings.Repeat("ab", 32), Params: strings.Repeat("cd", 32)}
}

func windowResult(index int) artifact.WindowResult {
	return artifact.WindowResult{
		Index:      index,
		Transition: mat.NewDense(2, 2, []float64{0.5, 0.1, 0, 0.2}),
		Norms:      []float64{0.49, 0.8},
		Vectors:    mat.NewDense(2, 2, []float64{0.49, 0, 0.06, 0.8}),
	}
}

func testArtifact(t *testing.T, key Key) *artifact.Artifact {
	t.Helper()
	art, err := artifact.Assemble(artifact.Metadata{
		ChannelNames: []string{"A1", "A2"},
		Windows:      []window.Window{{Start: 0, End: 4}, {Start: 2, End: 6}},
		RecordingID:  key.Recording,
		ParamsHash:   key.Params,
	}, []artifact.WindowResult{windowResult(0), windowResult(1)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return art
}

func TestFingerprintIgnoresOrder(t *testing.T) {
	a := Fingerprint(map[string]string{"mode": "column", "radius": "1.5"})
	b := Fingerprint(map[string]string{"radius": "1.5", "mode": "column"})
	if a != b {
		t.Fatal("fingerprint depends on map order")
	}
	if a == Fingerprint(map[string]string{"mode": "row", "radius": "1.5"}) {
		t.Fatal("fingerprint ignores values")
	}
}

func TestWindowCaches(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}
	impls := map[string]WindowCache{
		"file":   fc.Windows(),
		"memory": NewMemory().Windows(),
	}
	key := testKey()
	for name, wc := range impls {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := wc.Get(key, 3, 2); ok || err != nil {
				t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
			}
			if err := wc.Put(key, windowResult(3)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, ok, err := wc.Get(key, 3, 2)
			if err != nil || !ok {
				t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
			}
			if got.Index != 3 || got.Norms[1] != 0.8 || !mat.Equal(got.Transition, windowResult(3).Transition) {
				t.Fatalf("unexpected result %+v", got)
			}
			_, _, err = wc.Get(key, 3, 5)
			var consistency *ConsistencyError
			if !errors.As(err, &consistency) {
				t.Fatalf("expected ConsistencyError for channel mismatch, got %v", err)
			}
		})
	}
}

func TestFileWindowCorruptEntry(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	key := testKey()
	if err := fc.Windows().Put(key, windowResult(0)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := os.WriteFile(fc.windowPath(key, 0), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := fc.Windows().Get(key, 0, 2)
	var consistency *ConsistencyError
	if ok || !errors.As(err, &consistency) {
		t.Fatalf("expected ConsistencyError, got ok=%v err=%v", ok, err)
	}
}

func TestFileWindowOversizedHeaderIsInconsistent(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	key := testKey()
	if err := os.MkdirAll(fc.EntryDir(key), 0o755); err != nil {
		t.Fatal(err)
	}
	// The header claims 46000x46000 float64 values; the file is tiny.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, hdr := range map[string]string{
		"window_index.npy": "{'descr': '<i8', 'fortran_order': False, 'shape': (1,), }",
		"transition.npy":   "{'descr': '<f8', 'fortran_order': False, 'shape': (46000, 46000), }",
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			t.Fatal(err)
		}
		hdr += "\n"
		w.Write([]byte("\x93NUMPY\x01\x00"))
		binary.Write(w, binary.LittleEndian, uint16(len(hdr)))
		fmt.Fprint(w, hdr)
		w.Write(make([]byte, 8))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fc.windowPath(key, 0), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := fc.Windows().Get(key, 0, 2)
	var consistency *ConsistencyError
	if ok || !errors.As(err, &consistency) {
		t.Fatalf("expected ConsistencyError, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryCopiesEntries(t *testing.T) {
	mem := NewMemory()
	key := testKey()
	art := testArtifact(t, key)
	if err := mem.Artifacts().Put(key, art); err != nil {
		t.Fatalf("Put: %v", err)
	}
	art.Norms.Set(0, 0, 42)
	art.Transitions[0].Set(0, 0, 42)

	got, ok, err := mem.Artifacts().Get(key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Norms.At(0, 0) == 42 || got.Transitions[0].At(0, 0) == 42 {
		t.Fatal("mutating the stored artifact changed the cached copy")
	}
	got.Vectors[1].Set(1, 1, 42)
	got.Metadata.ChannelNames[0] = "Z9"
	again, _, _ := mem.Artifacts().Get(key)
	if again.Vectors[1].At(1, 1) == 42 || again.Metadata.ChannelNames[0] != "A1" {
		t.Fatal("mutating a returned artifact changed the cached copy")
	}

	res := windowResult(0)
	if err := mem.Windows().Put(key, res); err != nil {
		t.Fatalf("Put window: %v", err)
	}
	res.Norms[0] = 42
	res.Transition.Set(0, 0, 42)
	cached, _, _ := mem.Windows().Get(key, 0, 2)
	if cached.Norms[0] == 42 || cached.Transition.At(0, 0) == 42 {
		t.Fatal("mutating a stored window changed the cached copy")
	}
}

func TestArtifactCacheRoundTrip(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	key := testKey()
	ac := fc.Artifacts()
	if _, ok, err := ac.Get(key); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := ac.Put(key, testArtifact(t, key)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := ac.Get(key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.NumWindows() != 2 {
		t.Fatalf("unexpected window count %d", got.NumWindows())
	}

	other := Key{Recording: key.Recording, Params: strings.Repeat("ef", 32)}
	if err := ac.Put(other, testArtifact(t, key)); err == nil {
		t.Fatal("expected Put to reject an artifact for a different key")
	}

	if err := ac.Invalidate(key); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := ac.Get(key); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	key := testKey()
	unlock, err := fc.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := fc.Lock(ctx, key); err == nil {
		t.Fatal("expected second lock to fail while held")
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	unlock2, err := fc.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	_ = unlock2()
}

func TestStatsAndClear(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	key := testKey()
	for i := 0; i < 3; i++ {
		if err := fc.Windows().Put(key, windowResult(i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := fc.Artifacts().Put(key, testArtifact(t, key)); err != nil {
		t.Fatalf("Put artifact: %v", err)
	}
	stats, err := fc.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 1 || stats.Windows != 3 || stats.Artifacts != 1 || stats.TotalBytes == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if err := fc.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	stats, _ = fc.Stats()
	if stats.Entries != 0 || stats.Windows != 0 {
		t.Fatalf("cache not cleared: %+v", stats)
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	fc, _ := NewFileCache(t.TempDir())
	if err := fc.Windows().Put(Key{Recording: "../x", Params: "ab"}, windowResult(0)); err == nil {
		t.Fatal("expected invalid key error")
	}
}
