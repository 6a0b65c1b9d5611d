// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/deltarpc/schema"
)

// convert returns v as T when no precision is lost. Floats accept any
// finite or infinite value.
func convert[T schema.Numeric](kind schema.Kind, v any) (T, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case T:
		return x, nil
	case int:
		return fromInt[T](kind, int64(x))
	case int8:
		return fromInt[T](kind, int64(x))
	case int16:
		return fromInt[T](kind, int64(x))
	case int32:
		return fromInt[T](kind, int64(x))
	case int64:
		return fromInt[T](kind, x)
	case uint:
		return fromUint[T](kind, uint64(x))
	case uint8:
		return fromUint[T](kind, uint64(x))
	case uint16:
		return fromUint[T](kind, uint64(x))
	case uint32:
		return fromUint[T](kind, uint64(x))
	case uint64:
		return fromUint[T](kind, x)
	case float32:
		return fromFloat[T](kind, float64(x))
	case float64:
		return fromFloat[T](kind, x)
	}
	return 0, fmt.Errorf("%s cannot hold %T", kind, v)
}

func isFloat(kind schema.Kind) bool {
	return kind == schema.KindFloat32 || kind == schema.KindFloat64
}

func fromInt[T schema.Numeric](kind schema.Kind, x int64) (T, error) {
	t := T(x)
	if isFloat(kind) || (int64(t) == x && (t < 0) == (x < 0)) {
		return t, nil
	}
	return 0, fmt.Errorf("%d overflows %s", x, kind)
}

func fromUint[T schema.Numeric](kind schema.Kind, x uint64) (T, error) {
	t := T(x)
	if isFloat(kind) || (uint64(t) == x && t >= 0) {
		return t, nil
	}
	return 0, fmt.Errorf("%d overflows %s", x, kind)
}

func fromFloat[T schema.Numeric](kind schema.Kind, x float64) (T, error) {
	if isFloat(kind) {
		return T(x), nil
	}
	if x != x || x < -1<<63 || x >= 1<<64 {
		return 0, fmt.Errorf("%v is not a %s", x, kind)
	}
	t := T(x)
	if float64(t) != x {
		return 0, fmt.Errorf("%v is not a %s", x, kind)
	}
	return t, nil
}

// Value converts a generic decoded document (YAML or JSON) into the Go
// representation s expects. Structs are mappings by field name with missing
// fields set to their identity, unions are single-key mappings from tag to
// value and null is the schema identity.
func Value(s schema.Schema, v any) (any, error) {
	return value(s, v, "$")
}

func value(s schema.Schema, v any, path string) (any, error) {
	if v == nil {
		return s.Alloc(), nil
	}
	switch s := s.(type) {
	case *schema.Number[uint8]:
		return leaf[uint8](s, v, path)
	case *schema.Number[uint16]:
		return leaf[uint16](s, v, path)
	case *schema.Number[uint32]:
		return leaf[uint32](s, v, path)
	case *schema.Number[uint64]:
		return leaf[uint64](s, v, path)
	case *schema.Number[int8]:
		return leaf[int8](s, v, path)
	case *schema.Number[int16]:
		return leaf[int16](s, v, path)
	case *schema.Number[int32]:
		return leaf[int32](s, v, path)
	case *schema.Number[int64]:
		return leaf[int64](s, v, path)
	case *schema.Number[float32]:
		return leaf[float32](s, v, path)
	case *schema.Number[float64]:
		return leaf[float64](s, v, path)

	case *schema.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case *schema.String:
		if str, ok := v.(string); ok {
			return str, nil
		}

	case *schema.Struct:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		for name := range m {
			if _, ok := s.Index(name); !ok {
				return nil, fmt.Errorf("%s: unknown field %q", path, name)
			}
		}
		fields := make(schema.Fields, s.NumField())
		for i := range fields {
			f := s.Field(i)
			x, err := value(f.Schema, m[f.Name], path+"."+f.Name)
			if err != nil {
				return nil, err
			}
			fields[i] = x
		}
		return fields, nil

	case *schema.Union:
		m, ok := v.(map[string]any)
		if !ok || len(m) != 1 {
			return nil, fmt.Errorf("%s: union value must map one tag to its value", path)
		}
		for tag, x := range m {
			c, ok := s.Case(tag)
			if !ok {
				return nil, fmt.Errorf("%s: unknown tag %q", path, tag)
			}
			x, err := value(c, x, path+"|"+tag)
			if err != nil {
				return nil, err
			}
			return schema.Variant{Tag: tag, Value: x}, nil
		}

	case *schema.Array:
		return list(s.Element(), v, path)
	case *schema.SortedArray:
		return list(s.Element(), v, path)

	case *schema.Dictionary:
		m, ok := v.(map[string]any)
		if !ok {
			break
		}
		out := make(map[string]any, len(m))
		for k, x := range m {
			x, err := value(s.Value(), x, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil

	case *schema.Vector[uint8]:
		return vectorValue[uint8](s, v, path)
	case *schema.Vector[uint16]:
		return vectorValue[uint16](s, v, path)
	case *schema.Vector[uint32]:
		return vectorValue[uint32](s, v, path)
	case *schema.Vector[uint64]:
		return vectorValue[uint64](s, v, path)
	case *schema.Vector[int8]:
		return vectorValue[int8](s, v, path)
	case *schema.Vector[int16]:
		return vectorValue[int16](s, v, path)
	case *schema.Vector[int32]:
		return vectorValue[int32](s, v, path)
	case *schema.Vector[int64]:
		return vectorValue[int64](s, v, path)
	case *schema.Vector[float32]:
		return vectorValue[float32](s, v, path)
	case *schema.Vector[float64]:
		return vectorValue[float64](s, v, path)

	default:
		return nil, fmt.Errorf("%s: unsupported schema %T", path, s)
	}
	return nil, fmt.Errorf("%s: %s cannot hold %T", path, s.Kind(), v)
}

func leaf[T schema.Numeric](s schema.Schema, v any, path string) (any, error) {
	x, err := convert[T](s.Kind(), v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, nil
}

func list(elem schema.Schema, v any, path string) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a sequence, got %T", path, v)
	}
	out := make([]any, len(items))
	for i, x := range items {
		x, err := value(elem, x, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

func vectorValue[T schema.Numeric](s *schema.Vector[T], v any, path string) (any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a sequence, got %T", path, v)
	}
	if len(items) != s.Dimension() {
		return nil, fmt.Errorf("%s: vector dimension %d, value has %d", path, s.Dimension(), len(items))
	}
	kind := s.Describe().Element.Type
	out := make([]T, len(items))
	for i, x := range items {
		t, err := convert[T](kind, x)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
		out[i] = t
	}
	return out, nil
}

// Plain converts a schema value back into plain maps and slices suitable
// for YAML or JSON output.
func Plain(s schema.Schema, v any) any {
	switch s := s.(type) {
	case *schema.Struct:
		fields, ok := v.(schema.Fields)
		if !ok {
			return v
		}
		m := make(map[string]any, len(fields))
		for i := 0; i < s.NumField() && i < len(fields); i++ {
			f := s.Field(i)
			m[f.Name] = Plain(f.Schema, fields[i])
		}
		return m
	case *schema.Union:
		x, ok := v.(schema.Variant)
		if !ok || x.Tag == "" {
			return nil
		}
		c, ok := s.Case(x.Tag)
		if !ok {
			return v
		}
		return map[string]any{x.Tag: Plain(c, x.Value)}
	case *schema.Array:
		return plainList(s.Element(), v)
	case *schema.SortedArray:
		return plainList(s.Element(), v)
	case *schema.Dictionary:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(m))
		for k, x := range m {
			out[k] = Plain(s.Value(), x)
		}
		return out
	}
	if s.Kind() == schema.KindVector {
		// []uint8 would otherwise encode as binary
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return v
}

func plainList(elem schema.Schema, v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(items))
	for i, x := range items {
		out[i] = Plain(elem, x)
	}
	return out
}

// LoadValue reads a YAML document from path and converts it for s.
func LoadValue(path string, s schema.Schema) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read value: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	v, err := Value(s, doc)
	if err != nil {
		return nil, fmt.Errorf("convert value: %w", err)
	}
	return v, nil
}
