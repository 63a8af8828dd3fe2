// Package wal implements the engine's write-ahead log: a append-only file
// of record frames, synced to durable media before a write is acknowledged,
// with a sequential replay procedure used during crash recovery.
package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"lsmkv/pkg/encoding"
	"lsmkv/pkg/types"
)

const fileName = "wal.log"

// Entry is a single WAL record: a put carries a value, a delete does not.
type Entry struct {
	Op     encoding.OpTag
	SeqNum uint64
	Key    types.Key
	Value  types.Value
}

// WAL is an append-only log of record frames. Every method that mutates
// the file blocks until the write is durable: AppendPut and AppendDelete
// return only after
// the application buffer has been flushed and the file synced to stable
// storage.
type WAL struct {
	mu       sync.Mutex
	dir      string
	filePath string
	file     *os.File
	writer   *bufio.Writer
}

// New opens (or creates) the WAL file under dir.
func New(dir string) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("wal: empty data directory")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("wal: create data directory: %w", err)
	}

	path := filepath.Join(dir, fileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	return &WAL{
		dir:      dir,
		filePath: path,
		file:     file,
		writer:   bufio.NewWriter(file),
	}, nil
}

// AppendPut durably records a put of key/value under seq.
func (w *WAL) AppendPut(key types.Key, value types.Value, seq uint64) error {
	return w.append(Entry{Op: encoding.OpPut, SeqNum: seq, Key: key, Value: value})
}

// AppendDelete durably records a deletion of key under seq.
func (w *WAL) AppendDelete(key types.Key, seq uint64) error {
	return w.append(Entry{Op: encoding.OpDelete, SeqNum: seq, Key: key})
}

func (w *WAL) append(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("wal: closed")
	}

	if err := writeEntry(w.writer, entry); err != nil {
		return fmt.Errorf("wal: write record: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}

	return nil
}

// Replay iterates every complete record from the beginning of the log and
// invokes fn for each. A record is complete iff every declared field was
// present when read; any shorter trailing tail left by a crash mid-write
// is silently discarded rather than reported as an error.
func (w *WAL) Replay(fn func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("wal: flush before replay: %w", err)
		}
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("wal: open for replay: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		entry, complete, err := readEntry(reader)
		if err != nil {
			return fmt.Errorf("wal: replay: %w", err)
		}
		if !complete {
			return nil
		}
		if err := fn(entry); err != nil {
			return fmt.Errorf("wal: replay callback: %w", err)
		}
	}
}

// Truncate atomically reduces the log to zero length: close, truncate,
// reopen. Called only after the memtable it represents has been durably
// materialized as an SSTable.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		_ = w.file.Close()
	}

	if err := os.Truncate(w.filePath, 0); err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}

	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("wal: reopen after truncate: %w", err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("wal: flush on close: %w", err)
		}
		w.writer = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("wal: close: %w", err)
		}
		w.file = nil
	}
	return nil
}

func writeEntry(w io.Writer, entry Entry) error {
	if _, err := w.Write([]byte{byte(entry.Op)}); err != nil {
		return err
	}
	if err := encoding.WriteUint64(w, entry.SeqNum); err != nil {
		return err
	}
	if err := encoding.WriteString(w, entry.Key); err != nil {
		return err
	}
	if entry.Op == encoding.OpPut {
		if err := encoding.WriteString(w, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// readEntry reads one record. complete is false (with a nil error) when
// the reader hit a clean end-of-file or a torn trailing write; the caller
// should stop iterating without treating it as a failure.
func readEntry(r io.Reader) (Entry, bool, error) {
	var opByte [1]byte
	if _, err := io.ReadFull(r, opByte[:]); err != nil {
		return Entry{}, false, nil
	}

	var entry Entry
	entry.Op = encoding.OpTag(opByte[0])

	seq, err := encoding.ReadUint64(r)
	if err != nil {
		return Entry{}, false, nil
	}
	entry.SeqNum = seq

	key, err := encoding.ReadString(r)
	if err != nil {
		return Entry{}, false, nil
	}
	entry.Key = key

	if entry.Op == encoding.OpPut {
		value, err := encoding.ReadString(r)
		if err != nil {
			return Entry{}, false, nil
		}
		entry.Value = value
	}

	return entry, true, nil
}
