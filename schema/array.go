// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"cmp"
	"fmt"

	"github.com/luxfi/deltarpc/stream"
)

// Array is a variable-length list of elements sharing one schema.
//
// Wire format:
//
//	[target length:u32][changed bitmask over target indices][payloads]
//
// Element i is diffed against base[i] when the base is long enough and
// against the element identity otherwise.
type Array struct {
	elem Schema
}

func NewArray(elem Schema) *Array {
	if elem == nil {
		panic("schema: array element schema is nil")
	}
	return &Array{elem: elem}
}

func (a *Array) Kind() Kind      { return KindArray }
func (a *Array) Identity() any   { return []any{} }
func (a *Array) Alloc() any      { return []any{} }
func (a *Array) Element() Schema { return a.elem }

func (a *Array) Free(v any) {
	if x, ok := v.([]any); ok {
		for _, e := range x {
			a.elem.Free(e)
		}
	}
}

func (a *Array) Clone(v any) any {
	x, ok := v.([]any)
	if !ok {
		return v
	}
	c := make([]any, len(x))
	for i, e := range x {
		c[i] = a.elem.Clone(e)
	}
	return c
}

func (a *Array) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	return diffList(KindArray, a.elem, base, target, out)
}

func (a *Array) Patch(base any, in *stream.ReadStream) (any, error) {
	return patchList(KindArray, a.elem, base, in)
}

func (a *Array) Describe() Descriptor {
	elem := a.elem.Describe()
	return Descriptor{Type: KindArray, Element: &elem}
}

func diffList(kind Kind, elem Schema, base, target any, out *stream.WriteStream) (bool, error) {
	b, ok := base.([]any)
	if !ok {
		return false, mismatch(kind, base)
	}
	t, ok := target.([]any)
	if !ok {
		return false, mismatch(kind, target)
	}

	start := out.Offset()
	out.WriteUint32(uint32(len(t)))
	mask := make([]byte, maskLen(len(t)))
	head := out.Reserve(len(mask))
	changed := len(b) != len(t)
	for i := range t {
		var from any
		if i < len(b) {
			from = b[i]
		} else {
			from = elem.Identity()
		}
		wrote, err := elem.Diff(from, t[i], out)
		if err != nil {
			out.Rewind(start)
			return false, fmt.Errorf("index %d: %w", i, err)
		}
		if wrote {
			setMaskBit(mask, i)
			changed = true
		}
	}
	if !changed {
		out.Rewind(start)
		return false, nil
	}
	writeMask(out, head, mask)
	return true, nil
}

func patchList(kind Kind, elem Schema, base any, in *stream.ReadStream) ([]any, error) {
	b, ok := base.([]any)
	if !ok {
		return nil, mismatch(kind, base)
	}
	n, err := in.ReadUint32()
	if err != nil {
		return nil, err
	}
	mask, err := readMask(in, int(n))
	if err != nil {
		return nil, err
	}
	result := make([]any, n)
	for i := range result {
		var from any
		if i < len(b) {
			from = b[i]
		} else {
			from = elem.Identity()
		}
		if !maskBit(mask, i) {
			result[i] = elem.Clone(from)
			continue
		}
		if err := requireBytes(in); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		if result[i], err = elem.Patch(from, in); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return result, nil
}

// SortedArray is an Array whose values must be ordered under compare. Order
// is checked on both sides of every diff and on every patched result.
type SortedArray struct {
	Array
	compare func(a, b any) int
}

// NewSortedArray declares a sorted array. A nil compare orders numbers and
// strings naturally.
func NewSortedArray(elem Schema, compare func(a, b any) int) *SortedArray {
	if compare == nil {
		compare = CompareOrdered
	}
	return &SortedArray{Array: *NewArray(elem), compare: compare}
}

func (s *SortedArray) Kind() Kind { return KindSortedArray }

func (s *SortedArray) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	if err := s.check(base); err != nil {
		return false, fmt.Errorf("base: %w", err)
	}
	if err := s.check(target); err != nil {
		return false, fmt.Errorf("target: %w", err)
	}
	return diffList(KindSortedArray, s.elem, base, target, out)
}

func (s *SortedArray) Patch(base any, in *stream.ReadStream) (any, error) {
	v, err := patchList(KindSortedArray, s.elem, base, in)
	if err != nil {
		return nil, err
	}
	if err := s.check(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *SortedArray) Describe() Descriptor {
	d := s.Array.Describe()
	d.Type = KindSortedArray
	return d
}

func (s *SortedArray) check(v any) error {
	x, ok := v.([]any)
	if !ok {
		return mismatch(KindSortedArray, v)
	}
	for i := 1; i < len(x); i++ {
		if s.compare(x[i-1], x[i]) > 0 {
			return fmt.Errorf("%w at index %d", ErrUnsorted, i)
		}
	}
	return nil
}

// CompareOrdered orders two values of the same ordered Go type. Values of
// different or unordered types compare equal.
func CompareOrdered(a, b any) int {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	case float32:
		if y, ok := b.(float32); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case uint8:
		if y, ok := b.(uint8); ok {
			return cmp.Compare(x, y)
		}
	case uint16:
		if y, ok := b.(uint16); ok {
			return cmp.Compare(x, y)
		}
	case uint32:
		if y, ok := b.(uint32); ok {
			return cmp.Compare(x, y)
		}
	case uint64:
		if y, ok := b.(uint64); ok {
			return cmp.Compare(x, y)
		}
	case int8:
		if y, ok := b.(int8); ok {
			return cmp.Compare(x, y)
		}
	case int16:
		if y, ok := b.(int16); ok {
			return cmp.Compare(x, y)
		}
	case int32:
		if y, ok := b.(int32); ok {
			return cmp.Compare(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case int:
		if y, ok := b.(int); ok {
			return cmp.Compare(x, y)
		}
	}
	return 0
}
