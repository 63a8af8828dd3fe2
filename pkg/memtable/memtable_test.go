package memtable

import "testing"

func TestMemtablePutGet(t *testing.T) {
	mt := New()
	mt.Put([]byte("b"), []byte("B"), 1)
	mt.Put([]byte("a"), []byte("A"), 2)

	item, ok := mt.Get([]byte("a"))
	if !ok {
		t.Fatal("expected key a to be present")
	}
	if string(item.Value) != "A" {
		t.Fatalf("got %q, want A", item.Value)
	}

	if _, ok := mt.Get([]byte("missing")); ok {
		t.Fatal("expected missing key to be absent")
	}
}

func TestMemtableOverwrite(t *testing.T) {
	mt := New()
	mt.Put([]byte("x"), []byte("a"), 1)
	mt.Put([]byte("x"), []byte("b"), 2)

	if mt.Len() != 1 {
		t.Fatalf("expected 1 entry after overwrite, got %d", mt.Len())
	}
	item, _ := mt.Get([]byte("x"))
	if string(item.Value) != "b" {
		t.Fatalf("got %q, want b", item.Value)
	}
}

func TestMemtableDeleteShadows(t *testing.T) {
	mt := New()
	mt.Put([]byte("k"), []byte("v"), 1)
	mt.Delete([]byte("k"), 2)

	item, ok := mt.Get([]byte("k"))
	if !ok {
		t.Fatal("expected tombstone entry to be present in the memtable")
	}
	if !item.Tombstone {
		t.Fatal("expected tombstone flag to be set")
	}
}

func TestMemtableIterSorted(t *testing.T) {
	mt := New()
	for _, k := range []string{"c", "a", "b"} {
		mt.Put([]byte(k), []byte(k), 1)
	}

	items := mt.IterSorted()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if string(items[i-1].Key) > string(items[i].Key) {
			t.Fatalf("items not sorted: %s before %s", items[i-1].Key, items[i].Key)
		}
	}
}

func TestMemtableClear(t *testing.T) {
	mt := New()
	mt.Put([]byte("a"), []byte("A"), 1)
	mt.Clear()

	if mt.Len() != 0 {
		t.Fatalf("expected empty memtable after Clear, got %d entries", mt.Len())
	}
}
