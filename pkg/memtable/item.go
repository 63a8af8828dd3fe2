package memtable

import (
	"bytes"

	"lsmkv/pkg/types"
)

// Item is a single entry held by the memtable: a key mapped to either a
// value or a tombstone, tagged with the sequence number it was committed
// under.
type Item struct {
	Key       types.Key
	Value     types.Value
	SeqNum    uint64
	Tombstone bool
}

func (it *Item) Less(than *Item) bool {
	return bytes.Compare(it.Key, than.Key) < 0
}
