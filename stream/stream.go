// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stream provides the growable byte buffers that schema diffs are
// written to and patches are read from. All multi-byte values are
// little-endian.
//
// A WriteStream is a single-writer cursor. Schemas that need to decide after
// the fact whether a header byte is kept use the reserve/backpatch/rewind
// primitive:
//
//	head := out.Reserve(1)
//	changed := ...
//	if changed {
//	    out.WriteUint8At(head, flag)
//	} else {
//	    out.Rewind(head)
//	}
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrExhausted is returned when a read needs more bytes than remain.
var ErrExhausted = errors.New("stream: exhausted")

const minCapacity = 64

// WriteStream is a growable output buffer with a settable cursor.
type WriteStream struct {
	buf    []byte
	offset int
}

// NewWriteStream returns a stream with at least capacity bytes preallocated.
func NewWriteStream(capacity int) *WriteStream {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &WriteStream{buf: make([]byte, capacity)}
}

// Grow ensures at least n bytes are writable past the cursor.
func (w *WriteStream) Grow(n int) {
	need := w.offset + n
	if need <= len(w.buf) {
		return
	}
	size := 2 * len(w.buf)
	if size < minCapacity {
		size = minCapacity
	}
	for size < need {
		size *= 2
	}
	buf := make([]byte, size)
	copy(buf, w.buf[:w.offset])
	w.buf = buf
}

// Offset returns the write cursor.
func (w *WriteStream) Offset() int { return w.offset }

// SetOffset moves the write cursor. Moving it forward exposes whatever the
// buffer held there; moving it back discards everything past n.
func (w *WriteStream) SetOffset(n int) {
	if n < 0 {
		panic(fmt.Sprintf("stream: negative offset %d", n))
	}
	w.Grow(n - w.offset)
	w.offset = n
}

// Reserve skips n bytes and returns the position of the first one, to be
// filled later with WriteUint8At or discarded with Rewind.
func (w *WriteStream) Reserve(n int) int {
	w.Grow(n)
	mark := w.offset
	clear(w.buf[mark : mark+n])
	w.offset += n
	return mark
}

// Rewind discards everything written at or after mark.
func (w *WriteStream) Rewind(mark int) {
	if mark > w.offset {
		panic(fmt.Sprintf("stream: rewind to %d past offset %d", mark, w.offset))
	}
	w.offset = mark
}

// Reset empties the stream, keeping its buffer.
func (w *WriteStream) Reset() { w.offset = 0 }

// Bytes returns the written bytes. The slice aliases the stream buffer and is
// only valid until the next write.
func (w *WriteStream) Bytes() []byte { return w.buf[:w.offset] }

func (w *WriteStream) WriteUint8(v uint8) {
	w.Grow(1)
	w.buf[w.offset] = v
	w.offset++
}

func (w *WriteStream) WriteUint16(v uint16) {
	w.Grow(2)
	binary.LittleEndian.PutUint16(w.buf[w.offset:], v)
	w.offset += 2
}

func (w *WriteStream) WriteUint32(v uint32) {
	w.Grow(4)
	binary.LittleEndian.PutUint32(w.buf[w.offset:], v)
	w.offset += 4
}

func (w *WriteStream) WriteUint64(v uint64) {
	w.Grow(8)
	binary.LittleEndian.PutUint64(w.buf[w.offset:], v)
	w.offset += 8
}

func (w *WriteStream) WriteInt8(v int8)   { w.WriteUint8(uint8(v)) }
func (w *WriteStream) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }
func (w *WriteStream) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }
func (w *WriteStream) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *WriteStream) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *WriteStream) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteUint8At stores v at an absolute position without moving the cursor.
func (w *WriteStream) WriteUint8At(pos int, v uint8) {
	if pos >= w.offset {
		panic(fmt.Sprintf("stream: backpatch at %d past offset %d", pos, w.offset))
	}
	w.buf[pos] = v
}

// WriteUint32At stores v at an absolute position without moving the cursor.
func (w *WriteStream) WriteUint32At(pos int, v uint32) {
	if pos+4 > w.offset {
		panic(fmt.Sprintf("stream: backpatch at %d past offset %d", pos, w.offset))
	}
	binary.LittleEndian.PutUint32(w.buf[pos:], v)
}

// WriteString writes a u32 byte length followed by the UTF-8 bytes of s.
func (w *WriteStream) WriteString(s string) {
	w.Grow(4 + len(s))
	w.WriteUint32(uint32(len(s)))
	w.offset += copy(w.buf[w.offset:], s)
}

// WriteBytes appends p verbatim.
func (w *WriteStream) WriteBytes(p []byte) {
	w.Grow(len(p))
	w.offset += copy(w.buf[w.offset:], p)
}

var pool = sync.Pool{
	New: func() any { return NewWriteStream(256) },
}

// Get returns an empty WriteStream from a shared pool.
func Get() *WriteStream {
	w := pool.Get().(*WriteStream)
	w.Reset()
	return w
}

// Put returns w to the pool. The caller must not use w or any slice obtained
// from w.Bytes afterwards.
func Put(w *WriteStream) {
	if w == nil || len(w.buf) > 1<<20 {
		return
	}
	pool.Put(w)
}

// ReadStream is a read cursor over a byte slice.
type ReadStream struct {
	buf    []byte
	offset int
}

// NewReadStream reads from p. p is not copied.
func NewReadStream(p []byte) *ReadStream {
	return &ReadStream{buf: p}
}

func (r *ReadStream) Offset() int    { return r.offset }
func (r *ReadStream) Length() int    { return len(r.buf) }
func (r *ReadStream) BytesLeft() int { return len(r.buf) - r.offset }

func (r *ReadStream) take(n int) ([]byte, error) {
	if r.BytesLeft() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrExhausted, n, r.offset, r.BytesLeft())
	}
	p := r.buf[r.offset : r.offset+n]
	r.offset += n
	return p, nil
}

func (r *ReadStream) ReadUint8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *ReadStream) ReadUint16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *ReadStream) ReadUint32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *ReadStream) ReadUint64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *ReadStream) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *ReadStream) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *ReadStream) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *ReadStream) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *ReadStream) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *ReadStream) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString reads a string written by WriteString.
func (r *ReadStream) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	p, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadBytes returns the next n bytes. The slice aliases the stream input.
func (r *ReadStream) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}
