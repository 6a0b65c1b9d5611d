// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"math"

	"github.com/luxfi/deltarpc/stream"
)

// Numeric is the set of Go types a Number schema can carry.
type Numeric interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~int8 | ~int16 | ~int32 | ~int64 |
		~float32 | ~float64
}

// Number is a fixed-width numeric leaf. It writes the target in full when it
// differs from the base and nothing otherwise.
type Number[T Numeric] struct {
	kind     Kind
	identity T
	width    int
	write    func(*stream.WriteStream, T)
	read     func(*stream.ReadStream) (T, error)
}

func NewUint8(identity uint8) *Number[uint8] {
	return &Number[uint8]{KindUint8, identity, 1, (*stream.WriteStream).WriteUint8, (*stream.ReadStream).ReadUint8}
}

func NewUint16(identity uint16) *Number[uint16] {
	return &Number[uint16]{KindUint16, identity, 2, (*stream.WriteStream).WriteUint16, (*stream.ReadStream).ReadUint16}
}

func NewUint32(identity uint32) *Number[uint32] {
	return &Number[uint32]{KindUint32, identity, 4, (*stream.WriteStream).WriteUint32, (*stream.ReadStream).ReadUint32}
}

func NewUint64(identity uint64) *Number[uint64] {
	return &Number[uint64]{KindUint64, identity, 8, (*stream.WriteStream).WriteUint64, (*stream.ReadStream).ReadUint64}
}

func NewInt8(identity int8) *Number[int8] {
	return &Number[int8]{KindInt8, identity, 1, (*stream.WriteStream).WriteInt8, (*stream.ReadStream).ReadInt8}
}

func NewInt16(identity int16) *Number[int16] {
	return &Number[int16]{KindInt16, identity, 2, (*stream.WriteStream).WriteInt16, (*stream.ReadStream).ReadInt16}
}

func NewInt32(identity int32) *Number[int32] {
	return &Number[int32]{KindInt32, identity, 4, (*stream.WriteStream).WriteInt32, (*stream.ReadStream).ReadInt32}
}

func NewInt64(identity int64) *Number[int64] {
	return &Number[int64]{KindInt64, identity, 8, (*stream.WriteStream).WriteInt64, (*stream.ReadStream).ReadInt64}
}

func NewFloat32(identity float32) *Number[float32] {
	return &Number[float32]{KindFloat32, identity, 4, (*stream.WriteStream).WriteFloat32, (*stream.ReadStream).ReadFloat32}
}

func NewFloat64(identity float64) *Number[float64] {
	return &Number[float64]{KindFloat64, identity, 8, (*stream.WriteStream).WriteFloat64, (*stream.ReadStream).ReadFloat64}
}

func (n *Number[T]) Kind() Kind    { return n.kind }
func (n *Number[T]) Identity() any { return n.identity }
func (n *Number[T]) Alloc() any    { return n.identity }
func (n *Number[T]) Free(any)      {}

// Width is the encoded size in bytes.
func (n *Number[T]) Width() int { return n.width }

func (n *Number[T]) Clone(v any) any {
	x, ok := toNumber[T](v)
	if !ok {
		return v
	}
	return x
}

// Value converts v into the schema's domain.
func (n *Number[T]) Value(v any) (T, error) {
	x, ok := toNumber[T](v)
	if !ok {
		return 0, mismatch(n.kind, v)
	}
	return x, nil
}

func (n *Number[T]) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	b, err := n.Value(base)
	if err != nil {
		return false, err
	}
	t, err := n.Value(target)
	if err != nil {
		return false, err
	}
	if same(b, t) {
		return false, nil
	}
	out.Grow(n.width)
	n.write(out, t)
	return true, nil
}

// Patch reads a value when the stream has bytes left and returns base
// otherwise, so it is safe to call when the matching Diff wrote nothing.
func (n *Number[T]) Patch(base any, in *stream.ReadStream) (any, error) {
	if in.BytesLeft() > 0 {
		v, err := n.read(in)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return n.Value(base)
}

func (n *Number[T]) Describe() Descriptor {
	return Descriptor{Type: n.kind, Identity: n.identity}
}

// same compares numbers the way the wire sees them: any two NaNs are the
// same value and -0 differs from +0.
func same[T Numeric](a, b T) bool {
	if a != a || b != b {
		return a != a && b != b
	}
	return a == b && (a != 0 || math.Signbit(float64(a)) == math.Signbit(float64(b)))
}

func toNumber[T Numeric](v any) (T, bool) {
	switch x := v.(type) {
	case T:
		return x, true
	case int:
		return T(x), true
	case uint:
		return T(x), true
	case uint8:
		return T(x), true
	case uint16:
		return T(x), true
	case uint32:
		return T(x), true
	case uint64:
		return T(x), true
	case int8:
		return T(x), true
	case int16:
		return T(x), true
	case int32:
		return T(x), true
	case int64:
		return T(x), true
	case float32:
		return T(x), true
	case float64:
		return T(x), true
	}
	return 0, false
}
