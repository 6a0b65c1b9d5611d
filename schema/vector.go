// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"fmt"

	"github.com/luxfi/deltarpc/stream"
)

// Vector is a fixed-length typed slice of numbers.
//
// Wire format:
//
//	[changed bitmask over dimension][each changed element, full width]
type Vector[T Numeric] struct {
	elem      *Number[T]
	dimension int
}

func NewVector[T Numeric](elem *Number[T], dimension int) *Vector[T] {
	if elem == nil || dimension < 0 {
		panic("schema: invalid vector declaration")
	}
	return &Vector[T]{elem: elem, dimension: dimension}
}

func (v *Vector[T]) Kind() Kind     { return KindVector }
func (v *Vector[T]) Dimension() int { return v.dimension }
func (v *Vector[T]) Identity() any  { return v.Alloc() }
func (v *Vector[T]) Free(any)       {}

func (v *Vector[T]) Alloc() any {
	x := make([]T, v.dimension)
	for i := range x {
		x[i] = v.elem.identity
	}
	return x
}

func (v *Vector[T]) Clone(x any) any {
	s, ok := x.([]T)
	if !ok {
		return x
	}
	c := make([]T, len(s))
	copy(c, s)
	return c
}

func (v *Vector[T]) values(x any) ([]T, error) {
	s, ok := x.([]T)
	if !ok {
		return nil, mismatch(KindVector, x)
	}
	if len(s) != v.dimension {
		return nil, fmt.Errorf("%w: vector dimension %d, value has %d", ErrSchemaMismatch, v.dimension, len(s))
	}
	return s, nil
}

func (v *Vector[T]) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	b, err := v.values(base)
	if err != nil {
		return false, err
	}
	t, err := v.values(target)
	if err != nil {
		return false, err
	}

	mask := make([]byte, maskLen(v.dimension))
	head := out.Reserve(len(mask))
	changed := false
	for i := range t {
		if same(b[i], t[i]) {
			continue
		}
		setMaskBit(mask, i)
		v.elem.write(out, t[i])
		changed = true
	}
	if !changed {
		out.Rewind(head)
		return false, nil
	}
	writeMask(out, head, mask)
	return true, nil
}

func (v *Vector[T]) Patch(base any, in *stream.ReadStream) (any, error) {
	b, err := v.values(base)
	if err != nil {
		return nil, err
	}
	mask, err := readMask(in, v.dimension)
	if err != nil {
		return nil, err
	}
	result := make([]T, len(b))
	copy(result, b)
	for i := range result {
		if !maskBit(mask, i) {
			continue
		}
		if result[i], err = v.elem.read(in); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return result, nil
}

func (v *Vector[T]) Describe() Descriptor {
	elem := v.elem.Describe()
	return Descriptor{Type: KindVector, Element: &elem, Dimension: v.dimension}
}
