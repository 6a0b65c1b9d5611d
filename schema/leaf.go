// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"github.com/luxfi/deltarpc/stream"
)

// Boolean encodes a bool as a single byte.
type Boolean struct {
	identity bool
}

func NewBoolean(identity bool) *Boolean { return &Boolean{identity: identity} }

func (b *Boolean) Kind() Kind      { return KindBoolean }
func (b *Boolean) Identity() any   { return b.identity }
func (b *Boolean) Alloc() any      { return b.identity }
func (b *Boolean) Free(any)        {}
func (b *Boolean) Clone(v any) any { return v }

func (b *Boolean) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	x, ok := base.(bool)
	if !ok {
		return false, mismatch(KindBoolean, base)
	}
	y, ok := target.(bool)
	if !ok {
		return false, mismatch(KindBoolean, target)
	}
	if x == y {
		return false, nil
	}
	if y {
		out.WriteUint8(1)
	} else {
		out.WriteUint8(0)
	}
	return true, nil
}

func (b *Boolean) Patch(base any, in *stream.ReadStream) (any, error) {
	if in.BytesLeft() == 0 {
		x, ok := base.(bool)
		if !ok {
			return nil, mismatch(KindBoolean, base)
		}
		return x, nil
	}
	v, err := in.ReadUint8()
	if err != nil {
		return nil, err
	}
	return v != 0, nil
}

func (b *Boolean) Describe() Descriptor {
	return Descriptor{Type: KindBoolean, Identity: b.identity}
}

// String encodes UTF-8 text as a u32 byte length followed by the bytes.
type String struct {
	identity string
}

func NewString(identity string) *String { return &String{identity: identity} }

func (s *String) Kind() Kind      { return KindString }
func (s *String) Identity() any   { return s.identity }
func (s *String) Alloc() any      { return s.identity }
func (s *String) Free(any)        {}
func (s *String) Clone(v any) any { return v }

func (s *String) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	x, ok := base.(string)
	if !ok {
		return false, mismatch(KindString, base)
	}
	y, ok := target.(string)
	if !ok {
		return false, mismatch(KindString, target)
	}
	if x == y {
		return false, nil
	}
	out.WriteString(y)
	return true, nil
}

func (s *String) Patch(base any, in *stream.ReadStream) (any, error) {
	if in.BytesLeft() == 0 {
		x, ok := base.(string)
		if !ok {
			return nil, mismatch(KindString, base)
		}
		return x, nil
	}
	return in.ReadString()
}

func (s *String) Describe() Descriptor {
	return Descriptor{Type: KindString, Identity: s.identity}
}
