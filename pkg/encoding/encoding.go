// Package encoding implements the byte-level framing shared by the
// write-ahead log and the SSTable format: length-prefixed byte strings and
// a tombstone marker that survives both framings. Length prefixes are
// fixed-width 32-bit little-endian integers; strings carry their raw bytes
// with no null-termination.
package encoding

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// OpTag distinguishes a WAL record's operation. It doubles as the payload
// tag inside an SSTable record, since a tombstone is exactly what a DEL
// record installs.
type OpTag uint8

const (
	OpPut OpTag = iota
	OpDelete
)

// WriteString writes a length-prefixed byte string: a uint32 little-endian
// length followed by the raw bytes.
func WriteString(w io.Writer, b []byte) error {
	if len(b) > math.MaxUint32 {
		return fmt.Errorf("encoding: string too large: %d bytes", len(b))
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

// ReadString reads back what WriteString wrote.
func ReadString(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteUint32 writes a fixed-width little-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a fixed-width little-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint64 writes a fixed-width little-endian uint64.
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a fixed-width little-endian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
