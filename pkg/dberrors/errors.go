// Package dberrors defines the sentinel errors the engine returns, so
// callers classify failures with errors.Is instead of string matching.
package dberrors

import "errors"

var (
	// ErrNotFound is returned by reads for an absent or tombstoned key.
	// It is not logged or wrapped — a get miss is a normal outcome.
	ErrNotFound = errors.New("lsmkv: not found")

	// ErrClosed is returned by any operation issued after Close.
	ErrClosed = errors.New("lsmkv: engine closed")

	// ErrInvalidArgument covers malformed input caught before any I/O:
	// empty keys, mismatched batch_put slice lengths.
	ErrInvalidArgument = errors.New("lsmkv: invalid argument")

	// ErrDurability wraps a failed WAL append, sync, replay or truncate.
	// When an append or sync fails, the operation it guarded did not take
	// effect; a truncate failure is reported after the flush it followed
	// has already installed its SSTable.
	ErrDurability = errors.New("lsmkv: durability failure")

	// ErrCorruption wraps an unreadable SSTable footer or an index entry
	// pointing past end-of-file, discovered at open time.
	ErrCorruption = errors.New("lsmkv: corruption")
)
