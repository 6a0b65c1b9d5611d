// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"fmt"

	"github.com/luxfi/deltarpc/stream"
)

// UnionFlag is the leading byte of an encoded union delta. The values are
// part of the wire format.
type UnionFlag uint8

const (
	// EqualToBase is never written; an unchanged union writes nothing.
	EqualToBase UnionFlag = 0
	// UnequalToBase: same tag as the base, payload patches the base value.
	UnequalToBase UnionFlag = 1
	// UnequalToTargetSchemaID: tag changed, payload patches the new tag's
	// identity.
	UnequalToTargetSchemaID UnionFlag = 2
	// EqualToTargetSchemaID: tag changed to a value equal to its identity;
	// no payload.
	EqualToTargetSchemaID UnionFlag = 4
)

// maxUnionTags is the number of tags a one byte tag index can address.
const maxUnionTags = 256

// Variant is a union value: the active tag and a value of that tag's schema.
// The zero Variant has no active tag. It is only produced by Alloc on a union
// without an identity tag and is accepted as a base but never as a target.
type Variant struct {
	Tag   string
	Value any
}

// Case declares one union tag.
type Case struct {
	Tag    string
	Schema Schema
}

// Union selects one of several named schemas at a time.
//
// Wire format when changed:
//
//	[flag:u8][tag index:u8, only when the tag changed][payload, when present]
//
// The tag index is the position of the tag in the declared case list, so
// case order is part of the wire format.
type Union struct {
	cases    []Case
	index    map[string]int
	identity Variant
}

// NewUnion declares a union. identityTag names the case whose identity is the
// union identity; empty means the union identity has no active tag. It panics
// on duplicate tags, more than 256 cases or an unknown identity tag.
func NewUnion(cases []Case, identityTag string) *Union {
	if len(cases) > maxUnionTags {
		panic(fmt.Sprintf("schema: union has %d cases, limit is %d", len(cases), maxUnionTags))
	}
	u := &Union{
		cases: append([]Case(nil), cases...),
		index: make(map[string]int, len(cases)),
	}
	for i, c := range cases {
		if c.Tag == "" || c.Schema == nil {
			panic(fmt.Sprintf("schema: union case %d is incomplete", i))
		}
		if _, dup := u.index[c.Tag]; dup {
			panic(fmt.Sprintf("schema: duplicate union tag %q", c.Tag))
		}
		u.index[c.Tag] = i
	}
	if identityTag != "" {
		i, ok := u.index[identityTag]
		if !ok {
			panic(fmt.Sprintf("schema: unknown union identity tag %q", identityTag))
		}
		u.identity = Variant{Tag: identityTag, Value: u.cases[i].Schema.Identity()}
	}
	return u
}

func (u *Union) Kind() Kind    { return KindUnion }
func (u *Union) Identity() any { return u.identity }

// Tags returns the declared tags in wire order.
func (u *Union) Tags() []string {
	tags := make([]string, len(u.cases))
	for i, c := range u.cases {
		tags[i] = c.Tag
	}
	return tags
}

// TagIndex returns the wire index of tag.
func (u *Union) TagIndex(tag string) (int, bool) {
	i, ok := u.index[tag]
	return i, ok
}

// Case returns the schema registered for tag.
func (u *Union) Case(tag string) (Schema, bool) {
	i, ok := u.index[tag]
	if !ok {
		return nil, false
	}
	return u.cases[i].Schema, true
}

// Alloc returns a copy of the union identity.
func (u *Union) Alloc() any {
	if u.identity.Tag == "" {
		return Variant{}
	}
	return u.AllocTag(u.identity.Tag)
}

// AllocTag returns a variant of tag holding a fresh identity value.
func (u *Union) AllocTag(tag string) Variant {
	s, ok := u.Case(tag)
	if !ok {
		return Variant{}
	}
	return Variant{Tag: tag, Value: s.Alloc()}
}

func (u *Union) Free(v any) {
	x, ok := v.(Variant)
	if !ok || x.Tag == "" {
		return
	}
	if s, ok := u.Case(x.Tag); ok {
		s.Free(x.Value)
	}
}

func (u *Union) Clone(v any) any {
	x, ok := v.(Variant)
	if !ok || x.Tag == "" {
		return v
	}
	s, ok := u.Case(x.Tag)
	if !ok {
		return v
	}
	return Variant{Tag: x.Tag, Value: s.Clone(x.Value)}
}

func (u *Union) variant(v any, allowEmpty bool) (Variant, error) {
	x, ok := v.(Variant)
	if !ok {
		return Variant{}, mismatch(KindUnion, v)
	}
	if x.Tag == "" {
		if allowEmpty {
			return x, nil
		}
		return Variant{}, fmt.Errorf("%w: union value has no active tag", ErrSchemaMismatch)
	}
	if _, ok := u.index[x.Tag]; !ok {
		return Variant{}, fmt.Errorf("%w: unknown union tag %q", ErrSchemaMismatch, x.Tag)
	}
	return x, nil
}

func (u *Union) Diff(base, target any, out *stream.WriteStream) (bool, error) {
	b, err := u.variant(base, true)
	if err != nil {
		return false, err
	}
	t, err := u.variant(target, false)
	if err != nil {
		return false, err
	}

	out.Grow(16)
	head := out.Reserve(1)

	flag := EqualToBase
	tagIndex := u.index[t.Tag]
	targetSchema := u.cases[tagIndex].Schema
	if t.Tag == b.Tag {
		wrote, err := targetSchema.Diff(b.Value, t.Value, out)
		if err != nil {
			out.Rewind(head)
			return false, fmt.Errorf("union tag %q: %w", t.Tag, err)
		}
		if wrote {
			flag = UnequalToBase
		}
	} else {
		out.WriteUint8(uint8(tagIndex))
		wrote, err := targetSchema.Diff(targetSchema.Identity(), t.Value, out)
		if err != nil {
			out.Rewind(head)
			return false, fmt.Errorf("union tag %q: %w", t.Tag, err)
		}
		if wrote {
			flag = UnequalToTargetSchemaID
		} else {
			flag = EqualToTargetSchemaID
		}
	}

	if flag != EqualToBase {
		out.WriteUint8At(head, uint8(flag))
		return true, nil
	}
	out.Rewind(head)
	return false, nil
}

func (u *Union) Patch(base any, in *stream.ReadStream) (any, error) {
	b, err := u.variant(base, true)
	if err != nil {
		return nil, err
	}
	raw, err := in.ReadUint8()
	if err != nil {
		return nil, err
	}

	switch flag := UnionFlag(raw); flag {
	case UnequalToBase:
		if b.Tag == "" {
			return nil, fmt.Errorf("%w: union base has no active tag to patch", ErrSchemaMismatch)
		}
		s := u.cases[u.index[b.Tag]].Schema
		v, err := s.Patch(b.Value, in)
		if err != nil {
			return nil, fmt.Errorf("union tag %q: %w", b.Tag, err)
		}
		return Variant{Tag: b.Tag, Value: v}, nil
	case UnequalToTargetSchemaID, EqualToTargetSchemaID:
		c, err := u.readCase(in)
		if err != nil {
			return nil, err
		}
		if flag == EqualToTargetSchemaID {
			return Variant{Tag: c.Tag, Value: c.Schema.Clone(c.Schema.Identity())}, nil
		}
		v, err := c.Schema.Patch(c.Schema.Identity(), in)
		if err != nil {
			return nil, fmt.Errorf("union tag %q: %w", c.Tag, err)
		}
		return Variant{Tag: c.Tag, Value: v}, nil
	default:
		return nil, fmt.Errorf("%w: union flag %d", ErrInvalidFlag, raw)
	}
}

func (u *Union) readCase(in *stream.ReadStream) (Case, error) {
	i, err := in.ReadUint8()
	if err != nil {
		return Case{}, err
	}
	if int(i) >= len(u.cases) {
		return Case{}, fmt.Errorf("%w: union tag index %d of %d", ErrSchemaMismatch, i, len(u.cases))
	}
	return u.cases[i], nil
}

func (u *Union) Describe() Descriptor {
	d := Descriptor{Type: KindUnion, Fields: make([]NamedDescriptor, len(u.cases))}
	if u.identity.Tag != "" {
		d.Identity = u.identity.Tag
	}
	for i, c := range u.cases {
		d.Fields[i] = NamedDescriptor{Name: c.Tag, Schema: c.Schema.Describe()}
	}
	return d
}
