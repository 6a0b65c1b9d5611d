// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/deltarpc/stream"
)

func newABUnion() *Union {
	return NewUnion([]Case{
		{Tag: "a", Schema: NewUint16(0)},
		{Tag: "b", Schema: NewUint16(0)},
	}, "a")
}

func TestUnionTagChangeToIdentity(t *testing.T) {
	u := newABUnion()
	p := roundTrip(t, u, Variant{"a", uint16(3)}, Variant{"b", uint16(0)})
	require.Equal(t, []byte{byte(EqualToTargetSchemaID), 1}, p)
}

func TestUnionTagChangeWithPayload(t *testing.T) {
	u := newABUnion()
	p := roundTrip(t, u, Variant{"a", uint16(3)}, Variant{"b", uint16(7)})
	require.Equal(t, []byte{byte(UnequalToTargetSchemaID), 1, 7, 0}, p)
}

func TestUnionSameTag(t *testing.T) {
	u := newABUnion()

	out := stream.NewWriteStream(0)
	changed, err := u.Diff(Variant{"a", uint16(5)}, Variant{"a", uint16(5)}, out)
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, out.Offset())

	p := roundTrip(t, u, Variant{"a", uint16(5)}, Variant{"a", uint16(6)})
	require.Equal(t, []byte{byte(UnequalToBase), 6, 0}, p)
}

func TestUnionTagChangeMinimality(t *testing.T) {
	u := NewUnion([]Case{
		{Tag: "num", Schema: NewFloat64(0)},
		{Tag: "text", Schema: NewString("")},
		{Tag: "list", Schema: NewArray(NewUint8(0))},
		{Tag: "pair", Schema: NewStruct(Field{Name: "l", Schema: NewInt8(0)}, Field{Name: "r", Schema: NewInt8(0)})},
	}, "")
	values := []Variant{
		{"num", 2.5},
		{"text", "hi"},
		{"list", []any{uint8(1)}},
		{"pair", Fields{int8(-1), int8(1)}},
	}
	for _, from := range values {
		for i, tag := range u.Tags() {
			if tag == from.Tag {
				continue
			}
			to := u.AllocTag(tag)
			p := roundTrip(t, u, from, to)
			require.Equal(t, []byte{byte(EqualToTargetSchemaID), byte(i)}, p, "%s -> %s", from.Tag, tag)
		}
	}
	for _, a := range values {
		for _, b := range values {
			pairs(t, u, a, b)
		}
	}
}

func TestUnionEmptyBase(t *testing.T) {
	u := NewUnion([]Case{{Tag: "x", Schema: NewUint8(0)}}, "")
	require.Equal(t, Variant{}, u.Alloc())

	p := roundTrip(t, u, Variant{}, Variant{"x", uint8(0)})
	require.Equal(t, []byte{byte(EqualToTargetSchemaID), 0}, p)

	// an empty target is not a value
	_, err := u.Diff(Variant{"x", uint8(1)}, Variant{}, stream.NewWriteStream(0))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	// UnequalToBase needs an active base tag
	_, err = u.Patch(Variant{}, stream.NewReadStream([]byte{byte(UnequalToBase), 1}))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestUnionInvalidInput(t *testing.T) {
	u := newABUnion()
	out := stream.NewWriteStream(0)

	_, err := u.Diff(Variant{"a", uint16(1)}, Variant{"zzz", uint16(1)}, out)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	_, err = u.Diff(Variant{"a", uint16(1)}, Variant{"b", "not a number"}, out)
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.Zero(t, out.Offset(), "failed diff must not commit bytes")

	for _, flag := range []byte{0, 3, 5, 8, 0xff} {
		_, err = u.Patch(u.Identity(), stream.NewReadStream([]byte{flag, 0}))
		require.ErrorIs(t, err, ErrInvalidFlag, "flag %d", flag)
	}

	_, err = u.Patch(u.Identity(), stream.NewReadStream([]byte{byte(EqualToTargetSchemaID), 2}))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = u.Patch(u.Identity(), stream.NewReadStream([]byte{byte(UnequalToTargetSchemaID)}))
	require.ErrorIs(t, err, stream.ErrExhausted)
}

func TestUnionTagOrderStability(t *testing.T) {
	// the tag index follows declaration order, not name order
	u := NewUnion([]Case{
		{Tag: "zeta", Schema: NewUint8(0)},
		{Tag: "alpha", Schema: NewUint8(0)},
		{Tag: "mid", Schema: NewUint8(0)},
	}, "zeta")
	require.Equal(t, []string{"zeta", "alpha", "mid"}, u.Tags())
	for i := 0; i < 50; i++ {
		p := roundTrip(t, u, u.Identity(), Variant{"alpha", uint8(0)})
		require.Equal(t, []byte{byte(EqualToTargetSchemaID), 1}, p)
		p = roundTrip(t, u, u.Identity(), Variant{"mid", uint8(0)})
		require.Equal(t, []byte{byte(EqualToTargetSchemaID), 2}, p)
	}
}

func TestUnionAllocCloneFree(t *testing.T) {
	u := NewUnion([]Case{
		{Tag: "list", Schema: NewArray(NewUint8(0))},
		{Tag: "n", Schema: NewUint8(9)},
	}, "n")
	require.Equal(t, Variant{"n", uint8(9)}, u.Alloc())
	require.Equal(t, Variant{"list", []any{}}, u.AllocTag("list"))
	require.Equal(t, Variant{}, u.AllocTag("nope"))

	orig := Variant{"list", []any{uint8(1), uint8(2)}}
	c := u.Clone(orig).(Variant)
	c.Value.([]any)[0] = uint8(7)
	require.Equal(t, uint8(1), orig.Value.([]any)[0])

	u.Free(orig)
	u.Free(Variant{})
}

func TestUnionInsideStruct(t *testing.T) {
	s := NewStruct(
		Field{Name: "id", Schema: NewUint32(0)},
		Field{Name: "base", Schema: newABUnion()},
	)
	pairs(t, s, Fields{uint32(1), Variant{"a", uint16(3)}}, Fields{uint32(1), Variant{"b", uint16(0)}})
	pairs(t, s, Fields{uint32(1), Variant{"a", uint16(3)}}, Fields{uint32(2), Variant{"b", uint16(7)}})
}
