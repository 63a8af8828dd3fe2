package sstable

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTable(t *testing.T, dir string, gen uint64, entries []Entry) string {
	t.Helper()
	w, err := NewWriter(dir, gen)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for _, e := range entries {
		if err := w.Add(e); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	path, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return path
}

func TestWriteAndGet(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, 1, []Entry{
		{Key: []byte("a"), Value: []byte("1"), SeqNum: 1},
		{Key: []byte("b"), Value: []byte("2"), SeqNum: 2},
		{Key: []byte("c"), SeqNum: 3, Tombstone: true},
	})

	r, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	e, found, err := r.Get([]byte("b"))
	if err != nil || !found {
		t.Fatalf("expected b to be found, err=%v found=%v", err, found)
	}
	if string(e.Value) != "2" {
		t.Fatalf("got %q, want 2", e.Value)
	}

	e, found, err = r.Get([]byte("c"))
	if err != nil || !found {
		t.Fatalf("expected tombstone to be found, err=%v found=%v", err, found)
	}
	if !e.Tombstone {
		t.Fatal("expected tombstone flag set")
	}

	_, found, err = r.Get([]byte("missing"))
	if err != nil || found {
		t.Fatalf("expected missing key to be absent, err=%v found=%v", err, found)
	}
}

func TestFileNamedByGeneration(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, 42, []Entry{{Key: []byte("a"), Value: []byte("1")}})
	if filepath.Base(path) != "sstable_42.dat" {
		t.Fatalf("got %q, want sstable_42.dat", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected final file to exist: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the installed file, found %d entries", len(entries))
	}
}

func TestRange(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, 1, []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("d"), Value: []byte("4")},
	})

	r, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	got, err := r.Range([]byte("b"), []byte("c"))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(got) != 2 || string(got[0].Key) != "b" || string(got[1].Key) != "c" {
		t.Fatalf("unexpected range result: %+v", got)
	}
}

func TestAll(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}
	path := writeTable(t, dir, 1, entries)

	r, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	got, err := r.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, 1, []Entry{{Key: []byte("a"), Value: []byte("1")}})

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := os.Truncate(path, info.Size()-2); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	if _, err := Open(path, 1); err == nil {
		t.Fatal("expected Open to reject a truncated footer")
	}
}

func TestDiscardRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Add(Entry{Key: []byte("a"), Value: []byte("1")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := w.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files after discard, found %d", len(entries))
	}
}
