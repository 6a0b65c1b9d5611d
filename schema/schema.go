// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package schema implements delta encoding of structured values.
//
// A Schema describes the shape of a value and knows how to write the bytes
// that move a receiver from a base value to a target value (Diff) and how to
// rebuild the target from the base and those bytes (Patch). Every schema obeys
// two laws:
//
//   - Diff returns false and writes nothing iff base and target are deeply
//     equal under the schema.
//   - Patch(base, bytes written by Diff(base, target)) returns target and
//     consumes every one of those bytes.
//
// Schemas are immutable once constructed and safe for concurrent use. A
// stream is not: each Diff or Patch call owns the stream it is given.
//
// Go representation of values:
//
//	numbers      uint8 … uint64, int8 … int64, float32, float64
//	Boolean      bool
//	String       string
//	Struct       Fields, one entry per declared field
//	Array        []any
//	SortedArray  []any, sorted under the schema's compare function
//	Vector[T]    []T with a fixed length
//	Dictionary   map[string]any
//	Union        Variant
package schema

import (
	"errors"
	"fmt"

	"github.com/luxfi/deltarpc/stream"
)

// Kind identifies which encoding algorithm a schema uses.
type Kind string

const (
	KindUint8       Kind = "uint8"
	KindUint16      Kind = "uint16"
	KindUint32      Kind = "uint32"
	KindUint64      Kind = "uint64"
	KindInt8        Kind = "int8"
	KindInt16       Kind = "int16"
	KindInt32       Kind = "int32"
	KindInt64       Kind = "int64"
	KindFloat32     Kind = "float32"
	KindFloat64     Kind = "float64"
	KindBoolean     Kind = "boolean"
	KindString      Kind = "string"
	KindStruct      Kind = "struct"
	KindArray       Kind = "array"
	KindSortedArray Kind = "sorted-array"
	KindVector      Kind = "vector"
	KindDictionary  Kind = "dictionary"
	KindUnion       Kind = "union"
)

var (
	ErrSchemaMismatch = errors.New("schema: value does not match schema")
	ErrInvalidFlag    = errors.New("schema: invalid flag")
	ErrUnsorted       = errors.New("schema: sorted array out of order")
	ErrTrailingBytes  = errors.New("schema: trailing bytes after patch")
)

// Schema is a value descriptor together with its delta codec.
type Schema interface {
	Kind() Kind

	// Identity is the canonical default value. It must not be mutated.
	Identity() any

	// Alloc returns a fresh value equal to Identity.
	Alloc() any

	// Free releases v. Values are garbage collected, so this only matters to
	// schemas that recycle storage.
	Free(v any)

	// Clone deep-copies v.
	Clone(v any) any

	// Diff writes the bytes transforming base into target and reports whether
	// anything was written. On error the stream is left as it was found.
	Diff(base, target any, out *stream.WriteStream) (bool, error)

	// Patch reads bytes written by Diff and rebuilds the target from base.
	Patch(base any, in *stream.ReadStream) (any, error)

	// Describe returns a serializable description of the schema.
	Describe() Descriptor
}

func mismatch(kind Kind, v any) error {
	return fmt.Errorf("%w: %s got %T", ErrSchemaMismatch, kind, v)
}

// Delta returns the bytes that turn base into target, or nil when they are
// equal.
func Delta(s Schema, base, target any) ([]byte, error) {
	out := stream.Get()
	defer stream.Put(out)

	changed, err := s.Diff(base, target, out)
	if err != nil || !changed {
		return nil, err
	}
	return append([]byte(nil), out.Bytes()...), nil
}

// Apply patches base with a delta produced by Delta. An empty delta yields a
// clone of base. The delta must be consumed exactly.
func Apply(s Schema, base any, delta []byte) (any, error) {
	if len(delta) == 0 {
		return s.Clone(base), nil
	}
	in := stream.NewReadStream(delta)
	v, err := s.Patch(base, in)
	if err != nil {
		return nil, err
	}
	if in.BytesLeft() != 0 {
		return nil, fmt.Errorf("%w: %d of %d", ErrTrailingBytes, in.BytesLeft(), in.Length())
	}
	return v, nil
}

// Encode is Delta against the schema identity.
func Encode(s Schema, v any) ([]byte, error) {
	return Delta(s, s.Identity(), v)
}

// Decode is Apply against the schema identity.
func Decode(s Schema, p []byte) (any, error) {
	return Apply(s, s.Identity(), p)
}

// Equal reports whether a and b are deeply equal under s.
func Equal(s Schema, a, b any) (bool, error) {
	out := stream.Get()
	defer stream.Put(out)

	changed, err := s.Diff(a, b, out)
	return !changed, err
}

// maskLen is the size in bytes of a change bitmask covering n entries.
func maskLen(n int) int { return (n + 7) / 8 }

func maskBit(mask []byte, i int) bool { return mask[i/8]&(1<<(i%8)) != 0 }

func setMaskBit(mask []byte, i int) { mask[i/8] |= 1 << (i % 8) }

func writeMask(out *stream.WriteStream, head int, mask []byte) {
	for i, b := range mask {
		if b != 0 {
			out.WriteUint8At(head+i, b)
		}
	}
}

// readMask reads a bitmask covering n entries, failing before any allocation
// proportional to n when the stream cannot hold it. Padding bits past n must
// be clear.
func readMask(in *stream.ReadStream, n int) ([]byte, error) {
	mask, err := in.ReadBytes(maskLen(n))
	if err != nil {
		return nil, err
	}
	if r := n % 8; r != 0 && mask[len(mask)-1]>>r != 0 {
		return nil, fmt.Errorf("%w: mask bit set past entry %d", ErrSchemaMismatch, n-1)
	}
	return mask, nil
}

// requireBytes guards patches of entries a parent marked as changed, so a
// truncated stream fails instead of falling back to the base value.
func requireBytes(in *stream.ReadStream) error {
	if in.BytesLeft() == 0 {
		return fmt.Errorf("%w: changed entry at offset %d", stream.ErrExhausted, in.Offset())
	}
	return nil
}
