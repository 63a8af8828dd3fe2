// Package types holds the small value types shared across the engine
// packages so they don't import each other just for a type alias.
package types

// Key is an opaque, non-empty byte sequence with lexicographic total order.
type Key = []byte

// Value is an opaque byte sequence stored alongside a key.
type Value = []byte

// SeqNum is a strictly increasing integer assigned to every committed
// write. Unique per engine instance, monotonic across WAL, memtable and
// SSTables.
type SeqNum uint64

// Generation identifies an SSTable; higher generations are newer.
type Generation uint64
