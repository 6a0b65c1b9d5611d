// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"fmt"

	"github.com/luxfi/deltarpc/stream"
)

// Field is a named struct member.
type Field struct {
	Name   string
	Schema Schema
}

// Fields is a struct value: one entry per field, in declaration order.
type Fields []any

// Struct is a fixed, ordered set of fields.
//
// Wire format:
//
//	[changed bitmask, one bit per field][payload of each changed field]
type Struct struct {
	fields   []Field
	index    map[string]int
	identity Fields
}

// NewStruct declares a struct. Field order is the wire order and must not
// change once deployed. It panics on duplicate or empty names.
func NewStruct(fields ...Field) *Struct {
	s := &Struct{
		fields:   append([]Field(nil), fields...),
		index:    make(map[string]int, len(fields)),
		identity: make(Fields, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" || f.Schema == nil {
			panic(fmt.Sprintf("schema: struct field %d is incomplete", i))
		}
		if _, dup := s.index[f.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate struct field %q", f.Name))
		}
		s.index[f.Name] = i
		s.identity[i] = f.Schema.Identity()
	}
	return s
}

func (s *Struct) Kind() Kind    { return KindStruct }
func (s *Struct) Identity() any { return s.identity }
func (s *Struct) NumField() int { return len(s.fields) }

// Field returns the i-th declared field.
func (s *Struct) Field(i int) Field { return s.fields[i] }

// Index returns the position of the named field.
func (s *Struct) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Get returns the named field of v.
func (s *Struct) Get(v any, name string) (any, error) {
	fields, err := s.values(v)
	if err != nil {
		return nil, err
	}
	i, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: no struct field %q", ErrSchemaMismatch, name)
	}
	return fields[i], nil
}

func (s *Struct) Alloc() any {
	v := make(Fields, len(s.fields))
	for i, f := range s.fields {
		v[i] = f.Schema.Alloc()
	}
	return v
}

func (s *Struct) Free(v any) {
	fields, err := s.values(v)
	if err != nil {
		return
	}
	for i, f := range s.fields {
		f.Schema.Free(fields[i])
	}
}

func (s *Struct) Clone(v any) any {
	fields, err := s.values(v)
	if err != nil {
		return v
	}
	c := make(Fields, len(fields))
	for i, f := range s.fields {
		c[i] = f.Schema.Clone(fields[i])
	}
	return c
}

func (s *Struct) values(v any) (Fields, error) {
	var fields Fields
	switch x := v.(type) {
	case Fields:
		fields = x
	case []any:
		fields = x
	default:
		return nil, mismatch(KindStruct, v)
	}
	if len(fields) != len(s.fields) {
		return nil, fmt.Errorf("%w: struct has %d fields, value has %d", ErrSchemaMismatch, len(s.fields), len(fields))
	}
	return fields, nil
}

func (s *Struct) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	b, err := s.values(base)
	if err != nil {
		return false, err
	}
	t, err := s.values(target)
	if err != nil {
		return false, err
	}

	mask := make([]byte, maskLen(len(s.fields)))
	head := out.Reserve(len(mask))
	changed := false
	for i, f := range s.fields {
		wrote, err := f.Schema.Diff(b[i], t[i], out)
		if err != nil {
			out.Rewind(head)
			return false, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if wrote {
			setMaskBit(mask, i)
			changed = true
		}
	}
	if !changed {
		out.Rewind(head)
		return false, nil
	}
	writeMask(out, head, mask)
	return true, nil
}

func (s *Struct) Patch(base any, in *stream.ReadStream) (any, error) {
	b, err := s.values(base)
	if err != nil {
		return nil, err
	}
	mask, err := readMask(in, len(s.fields))
	if err != nil {
		return nil, err
	}
	result := make(Fields, len(s.fields))
	for i, f := range s.fields {
		if !maskBit(mask, i) {
			result[i] = f.Schema.Clone(b[i])
			continue
		}
		if err := requireBytes(in); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if result[i], err = f.Schema.Patch(b[i], in); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return result, nil
}

func (s *Struct) Describe() Descriptor {
	d := Descriptor{Type: KindStruct, Fields: make([]NamedDescriptor, len(s.fields))}
	for i, f := range s.fields {
		d.Fields[i] = NamedDescriptor{Name: f.Name, Schema: f.Schema.Describe()}
	}
	return d
}
