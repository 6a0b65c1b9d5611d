// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"fmt"
	"maps"
	"slices"

	"github.com/luxfi/deltarpc/stream"
)

// Dictionary maps string keys to values of one schema.
//
// Wire format, keys in sorted order:
//
//	[removed count:u32][removed key]...
//	[upsert count:u32]([key][mode:u8][payload if mode is dictPatched])...
//
// A new key holding the value identity is sent as dictIdentity with no
// payload. Any other insert or change is patched against the base value, or
// the value identity for new keys.
type Dictionary struct {
	value Schema
}

const (
	dictIdentity uint8 = 0
	dictPatched  uint8 = 1
)

func NewDictionary(value Schema) *Dictionary {
	if value == nil {
		panic("schema: dictionary value schema is nil")
	}
	return &Dictionary{value: value}
}

func (d *Dictionary) Kind() Kind    { return KindDictionary }
func (d *Dictionary) Identity() any { return map[string]any{} }
func (d *Dictionary) Alloc() any    { return map[string]any{} }
func (d *Dictionary) Value() Schema { return d.value }

func (d *Dictionary) Free(v any) {
	if m, ok := v.(map[string]any); ok {
		for _, e := range m {
			d.value.Free(e)
		}
	}
}

func (d *Dictionary) Clone(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	c := make(map[string]any, len(m))
	for k, e := range m {
		c[k] = d.value.Clone(e)
	}
	return c
}

func (d *Dictionary) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	b, ok := base.(map[string]any)
	if !ok {
		return false, mismatch(KindDictionary, base)
	}
	t, ok := target.(map[string]any)
	if !ok {
		return false, mismatch(KindDictionary, target)
	}

	start := out.Offset()

	var removed []string
	for k := range b {
		if _, ok := t[k]; !ok {
			removed = append(removed, k)
		}
	}
	slices.Sort(removed)
	out.WriteUint32(uint32(len(removed)))
	for _, k := range removed {
		out.WriteString(k)
	}

	countAt := out.Reserve(4)
	upserts := 0
	for _, k := range slices.Sorted(maps.Keys(t)) {
		from, existed := b[k]
		if !existed {
			from = d.value.Identity()
		}
		mark := out.Offset()
		out.WriteString(k)
		modeAt := out.Reserve(1)
		wrote, err := d.value.Diff(from, t[k], out)
		if err != nil {
			out.Rewind(start)
			return false, fmt.Errorf("key %q: %w", k, err)
		}
		switch {
		case wrote:
			out.WriteUint8At(modeAt, dictPatched)
		case existed:
			out.Rewind(mark)
			continue
		default:
			// new key equal to the identity; mode byte already zero
		}
		upserts++
	}

	if len(removed) == 0 && upserts == 0 {
		out.Rewind(start)
		return false, nil
	}
	out.WriteUint32At(countAt, uint32(upserts))
	return true, nil
}

func (d *Dictionary) Patch(base any, in *stream.ReadStream) (any, error) {
	b, ok := base.(map[string]any)
	if !ok {
		return nil, mismatch(KindDictionary, base)
	}
	result := d.Clone(b).(map[string]any)

	removed, err := in.ReadUint32()
	if err != nil {
		return nil, err
	}
	// every key costs at least its 4 byte length
	if int(removed) > in.BytesLeft()/4 {
		return nil, fmt.Errorf("%w: %d removed keys", stream.ErrExhausted, removed)
	}
	for i := uint32(0); i < removed; i++ {
		k, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		if _, ok := result[k]; !ok {
			return nil, fmt.Errorf("%w: removed key %q not in base", ErrSchemaMismatch, k)
		}
		delete(result, k)
	}

	upserts, err := in.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(upserts) > in.BytesLeft()/5 {
		return nil, fmt.Errorf("%w: %d upserted keys", stream.ErrExhausted, upserts)
	}
	for i := uint32(0); i < upserts; i++ {
		k, err := in.ReadString()
		if err != nil {
			return nil, err
		}
		mode, err := in.ReadUint8()
		if err != nil {
			return nil, err
		}
		from, existed := b[k]
		if !existed {
			from = d.value.Identity()
		}
		switch mode {
		case dictIdentity:
			result[k] = d.value.Clone(d.value.Identity())
		case dictPatched:
			if err := requireBytes(in); err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			v, err := d.value.Patch(from, in)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			result[k] = v
		default:
			return nil, fmt.Errorf("%w: dictionary mode %d", ErrInvalidFlag, mode)
		}
	}
	return result, nil
}

func (d *Dictionary) Describe() Descriptor {
	value := d.value.Describe()
	return Descriptor{Type: KindDictionary, Element: &value}
}
