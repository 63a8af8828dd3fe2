package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lsmkv/pkg/dberrors"
)

func openEngine(t *testing.T, opts Options) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, dir
}

func TestPutGet(t *testing.T) {
	e, _ := openEngine(t, Options{})

	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := e.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want v", got)
	}
}

func TestOverwrite(t *testing.T) {
	e, _ := openEngine(t, Options{})

	_ = e.Put([]byte("k"), []byte("v1"))
	_ = e.Put([]byte("k"), []byte("v2"))

	got, err := e.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("got %q, want v2", got)
	}
}

func TestDeleteShadowsSSTable(t *testing.T) {
	e, _ := openEngine(t, Options{MemtableSize: 2, CompactionThreshold: 10})

	// Force a flush so "k" lives in an SSTable, then delete it from the
	// fresh memtable above.
	if err := e.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := e.Put([]byte("other"), []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := e.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := e.Get([]byte("k"))
	if !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCrashRecoveryMidBatch(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.BatchPut([][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("1"), []byte("2")}); err != nil {
		t.Fatalf("BatchPut failed: %v", err)
	}
	// Simulate an unclean shutdown: drop the handle without calling Close,
	// so no extra flush happens and recovery must replay the WAL.

	e2, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := e2.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", k, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%s) = %q, want %q", k, got, want)
		}
	}
}

func TestBatchPutRejectsMismatchedLengths(t *testing.T) {
	e, _ := openEngine(t, Options{})

	err := e.BatchPut([][]byte{[]byte("a"), []byte("b")}, [][]byte{[]byte("1")})
	if !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	if _, err := e.Get([]byte("a")); !errors.Is(err, dberrors.ErrNotFound) {
		t.Fatalf("expected nothing written from a rejected batch, got err=%v", err)
	}
}

func TestGetRangeAcrossMemtableAndSSTable(t *testing.T) {
	e, _ := openEngine(t, Options{MemtableSize: 3, CompactionThreshold: 10})

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"}} {
		if err := e.Put([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := e.GetRange([]byte("b"), []byte("d"))
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(got), got)
	}
	for i, want := range []string{"b", "c", "d"} {
		if string(got[i].Key) != want {
			t.Fatalf("entry %d: got key %q, want %q", i, got[i].Key, want)
		}
	}
}

func TestCompactionProducesOneFile(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, Options{MemtableSize: 1, CompactionThreshold: 3})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer e.Close()

	// Four puts of the same key, one per memtable flush: the fourth flush
	// pushes the live SSTable count to 4, past the threshold of 3, and
	// triggers a compaction that merges all four generations into one.
	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		if err := e.Put([]byte("k"), []byte(v)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var sstables []string
	for _, f := range files {
		if filepath.Ext(f.Name()) == ".dat" {
			sstables = append(sstables, f.Name())
		}
	}
	if len(sstables) != 1 {
		t.Fatalf("expected exactly one SSTable after compaction, got %v", sstables)
	}

	got, err := e.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v4" {
		t.Fatalf("Get(k) = %q, want v4", got)
	}
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := e.Put([]byte("k"), []byte("v")); !errors.Is(err, dberrors.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	e, _ := openEngine(t, Options{})

	if err := e.Put([]byte{}, []byte("v")); !errors.Is(err, dberrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
