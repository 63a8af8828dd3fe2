// Package memtable implements the engine's in-memory ordered write buffer.
// All access happens while the storage engine holds its single mutex, so
// the memtable does no internal locking of its own; it exists purely to
// give Put/Get/iteration a sorted key space, backed by
// github.com/zhangyunhao116/skipmap so ascending traversal for flush and
// range scans never needs a separate sort pass.
package memtable

import (
	"bytes"

	"github.com/zhangyunhao116/skipmap"

	"lsmkv/pkg/types"
)

type orderedMap = skipmap.FuncMap[[]byte, Item]

// Memtable is an ordered mapping from key to payload-or-tombstone. At most
// one entry is kept per key; a later write silently overwrites an earlier
// one in place.
type Memtable struct {
	data *orderedMap
}

// New creates an empty memtable.
func New() *Memtable {
	return &Memtable{
		data: skipmap.NewFunc[[]byte, Item](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

// Put inserts or overwrites key with a value.
func (mt *Memtable) Put(key types.Key, value types.Value, seq uint64) {
	mt.data.Store(key, Item{Key: key, Value: value, SeqNum: seq})
}

// Delete records a tombstone for key, shadowing any older entry for it —
// in the memtable itself and in every SSTable beneath it.
func (mt *Memtable) Delete(key types.Key, seq uint64) {
	mt.data.Store(key, Item{Key: key, SeqNum: seq, Tombstone: true})
}

// Get looks up key. The ok result is false only when the memtable holds no
// entry at all for key; a tombstone is returned as a present Item with
// Tombstone set, which the caller must treat as "absent" without
// consulting SSTables.
func (mt *Memtable) Get(key types.Key) (Item, bool) {
	return mt.data.Load(key)
}

// IterSorted returns every entry in ascending key order.
func (mt *Memtable) IterSorted() []Item {
	out := make([]Item, 0, mt.data.Len())
	mt.data.Range(func(_ []byte, v Item) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Len returns the number of distinct keys currently held.
func (mt *Memtable) Len() int {
	return mt.data.Len()
}

// Clear empties the memtable, ready for reuse after a flush.
func (mt *Memtable) Clear() {
	mt.data = skipmap.NewFunc[[]byte, Item](func(a, b []byte) bool {
		return bytes.Compare(a, b) < 0
	})
}
