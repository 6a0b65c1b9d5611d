// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/deltarpc/schema"
)

func declared() schema.Schema {
	return schema.NewStruct(
		schema.Field{Name: "id", Schema: schema.NewUint32(0)},
		schema.Field{Name: "hp", Schema: schema.NewInt16(100)},
		schema.Field{Name: "speed", Schema: schema.NewFloat32(1.5)},
		schema.Field{Name: "alive", Schema: schema.NewBoolean(true)},
		schema.Field{Name: "name", Schema: schema.NewString("anon")},
		schema.Field{Name: "pos", Schema: schema.NewVector(schema.NewFloat64(0), 3)},
		schema.Field{Name: "tags", Schema: schema.NewSortedArray(schema.NewString(""), nil)},
		schema.Field{Name: "items", Schema: schema.NewArray(schema.NewUint8(0))},
		schema.Field{Name: "stats", Schema: schema.NewDictionary(schema.NewInt64(0))},
		schema.Field{Name: "state", Schema: schema.NewUnion([]schema.Case{
			{Tag: "idle", Schema: schema.NewBoolean(false)},
			{Tag: "moving", Schema: schema.NewUint16(7)},
		}, "idle")},
	)
}

func TestBuildSchemaRoundTrip(t *testing.T) {
	want := declared()
	got, err := BuildSchema(want.Describe())
	require.NoError(t, err)
	if diff := cmp.Diff(want.Describe(), got.Describe()); diff != "" {
		t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Identity(), got.Identity()); diff != "" {
		t.Fatalf("identity mismatch (-want +got):\n%s", diff)
	}

	v := schema.Fields{
		uint32(9), int16(-3), float32(2), false, "bob",
		[]float64{1, 2, 3},
		[]any{"a", "b"},
		[]any{uint8(1), uint8(2)},
		map[string]any{"kills": int64(4)},
		schema.Variant{Tag: "moving", Value: uint16(3)},
	}
	a, err := schema.Encode(want, v)
	require.NoError(t, err)
	b, err := schema.Encode(got, v)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestBuildSchemaFromYAML(t *testing.T) {
	doc := `
type: struct
fields:
  - name: level
    schema: {type: uint8, identity: 1}
  - name: shape
    schema:
      type: union
      identity: circle
      fields:
        - name: circle
          schema: {type: float32, identity: 0.5}
        - name: box
          schema:
            type: vector
            dimension: 2
            element: {type: int32}
`
	var d schema.Descriptor
	require.NoError(t, yaml.Unmarshal([]byte(doc), &d))

	s, err := BuildSchema(d)
	require.NoError(t, err)
	require.Equal(t, schema.Fields{
		uint8(1),
		schema.Variant{Tag: "circle", Value: float32(0.5)},
	}, s.Identity())
}

func TestBuildSchemaInvalid(t *testing.T) {
	u8 := schema.Descriptor{Type: schema.KindUint8}
	tests := []struct {
		name string
		d    schema.Descriptor
	}{
		{"missing type", schema.Descriptor{}},
		{"unknown type", schema.Descriptor{Type: "decimal"}},
		{"overflowing identity", schema.Descriptor{Type: schema.KindUint8, Identity: 256}},
		{"negative unsigned identity", schema.Descriptor{Type: schema.KindUint32, Identity: -1}},
		{"fractional integer identity", schema.Descriptor{Type: schema.KindInt32, Identity: 1.5}},
		{"string number identity", schema.Descriptor{Type: schema.KindInt32, Identity: "1"}},
		{"boolean identity", schema.Descriptor{Type: schema.KindBoolean, Identity: "yes"}},
		{"string identity", schema.Descriptor{Type: schema.KindString, Identity: 3}},
		{"array without element", schema.Descriptor{Type: schema.KindArray}},
		{"vector of strings", schema.Descriptor{
			Type:      schema.KindVector,
			Dimension: 2,
			Element:   &schema.Descriptor{Type: schema.KindString},
		}},
		{"negative dimension", schema.Descriptor{Type: schema.KindVector, Dimension: -1, Element: &u8}},
		{"sorted booleans", schema.Descriptor{
			Type:    schema.KindSortedArray,
			Element: &schema.Descriptor{Type: schema.KindBoolean},
		}},
		{"duplicate field", schema.Descriptor{Type: schema.KindStruct, Fields: []schema.NamedDescriptor{
			{Name: "a", Schema: u8}, {Name: "a", Schema: u8},
		}}},
		{"unnamed field", schema.Descriptor{Type: schema.KindStruct, Fields: []schema.NamedDescriptor{
			{Schema: u8},
		}}},
		{"unknown identity tag", schema.Descriptor{Type: schema.KindUnion, Identity: "z", Fields: []schema.NamedDescriptor{
			{Name: "a", Schema: u8},
		}}},
		{"non-string identity tag", schema.Descriptor{Type: schema.KindUnion, Identity: 0, Fields: []schema.NamedDescriptor{
			{Name: "a", Schema: u8},
		}}},
		{"too many cases", schema.Descriptor{Type: schema.KindUnion, Fields: manyCases(257)}},
		{"nested error", schema.Descriptor{Type: schema.KindDictionary, Element: &schema.Descriptor{Type: "nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSchema(tt.d)
			require.ErrorIs(t, err, ErrInvalidSchema)
		})
	}

	_, err := BuildSchema(schema.Descriptor{Type: schema.KindUnion, Fields: manyCases(256)})
	require.NoError(t, err)
}

func manyCases(n int) []schema.NamedDescriptor {
	cases := make([]schema.NamedDescriptor, n)
	for i := range cases {
		cases[i] = schema.NamedDescriptor{Name: string(rune('A' + i)), Schema: schema.Descriptor{Type: schema.KindUint8}}
	}
	return cases
}

func TestConvert(t *testing.T) {
	v8, err := convert[uint8](schema.KindUint8, 255)
	require.NoError(t, err)
	require.Equal(t, uint8(255), v8)

	v64, err := convert[uint64](schema.KindUint64, uint64(math.MaxUint64))
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), v64)

	_, err = convert[int64](schema.KindInt64, uint64(math.MaxUint64))
	require.Error(t, err)

	i16, err := convert[int16](schema.KindInt16, float64(-12))
	require.NoError(t, err)
	require.Equal(t, int16(-12), i16)

	f32, err := convert[float32](schema.KindFloat32, 3)
	require.NoError(t, err)
	require.Equal(t, float32(3), f32)

	f64, err := convert[float64](schema.KindFloat64, math.Inf(1))
	require.NoError(t, err)
	require.True(t, math.IsInf(f64, 1))

	_, err = convert[int8](schema.KindInt8, math.NaN())
	require.Error(t, err)
}

func TestValue(t *testing.T) {
	s := declared()
	doc := `
id: 9
hp: -3
name: bob
pos: [1, 2.5, 3]
tags: [a, b]
items: [1, 2]
stats: {kills: 4}
state: {moving: 3}
`
	var raw any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &raw))

	v, err := Value(s, raw)
	require.NoError(t, err)
	want := schema.Fields{
		uint32(9), int16(-3), float32(1.5), true, "bob",
		[]float64{1, 2.5, 3},
		[]any{"a", "b"},
		[]any{uint8(1), uint8(2)},
		map[string]any{"kills": int64(4)},
		schema.Variant{Tag: "moving", Value: uint16(3)},
	}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}

	// the value survives a patch and converts back to the same document
	p, err := schema.Encode(s, v)
	require.NoError(t, err)
	decoded, err := schema.Decode(s, p)
	require.NoError(t, err)
	if diff := cmp.Diff(v, decoded); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}

	plain := Plain(s, decoded).(map[string]any)
	require.Equal(t, map[string]any{"moving": uint16(3)}, plain["state"])
	require.Equal(t, []any{float64(1), 2.5, float64(3)}, plain["pos"])
	require.Equal(t, "anon", Plain(s, s.Identity()).(map[string]any)["name"])
}

func TestValueNullIsIdentity(t *testing.T) {
	s := declared()
	v, err := Value(s, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Identity(), v); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	p, err := schema.Encode(s, v)
	require.NoError(t, err)
	require.Empty(t, p)
}

func TestValueErrors(t *testing.T) {
	s := declared()
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "{nope: 1}"},
		{"overflow", "{id: -1}"},
		{"wrong leaf", "{name: [1]}"},
		{"wrong dimension", "{pos: [1, 2]}"},
		{"two tags", "{state: {idle: true, moving: 1}}"},
		{"unknown tag", "{state: {flying: 1}}"},
		{"scalar for struct", "3"},
		{"scalar for array", "{items: 3}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			require.NoError(t, yaml.Unmarshal([]byte(tt.doc), &raw))
			_, err := Value(s, raw)
			require.Error(t, err)
		})
	}
}

func TestLoadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value.yaml")
	require.NoError(t, os.WriteFile(path, []byte("moving: 12\n"), 0o644))

	s := schema.NewUnion([]schema.Case{
		{Tag: "idle", Schema: schema.NewBoolean(false)},
		{Tag: "moving", Schema: schema.NewUint16(0)},
	}, "idle")
	v, err := LoadValue(path, s)
	require.NoError(t, err)
	require.Equal(t, schema.Variant{Tag: "moving", Value: uint16(12)}, v)

	_, err = LoadValue(filepath.Join(t.TempDir(), "missing.yaml"), s)
	require.Error(t, err)
}
