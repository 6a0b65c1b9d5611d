// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"

	rpc "github.com/luxfi/deltarpc"
	"github.com/luxfi/deltarpc/schema"
)

// ErrInvalidSchema is returned for descriptors that do not declare a schema.
var ErrInvalidSchema = errors.New("config: invalid schema")

const maxUnionCases = 256

// BuildSchema constructs the schema a descriptor describes. It is the
// inverse of Schema.Describe; sorted arrays use schema.CompareOrdered.
func BuildSchema(d schema.Descriptor) (schema.Schema, error) {
	return build(d, "$")
}

func build(d schema.Descriptor, path string) (schema.Schema, error) {
	switch d.Type {
	case schema.KindUint8:
		return number(d, path, schema.NewUint8)
	case schema.KindUint16:
		return number(d, path, schema.NewUint16)
	case schema.KindUint32:
		return number(d, path, schema.NewUint32)
	case schema.KindUint64:
		return number(d, path, schema.NewUint64)
	case schema.KindInt8:
		return number(d, path, schema.NewInt8)
	case schema.KindInt16:
		return number(d, path, schema.NewInt16)
	case schema.KindInt32:
		return number(d, path, schema.NewInt32)
	case schema.KindInt64:
		return number(d, path, schema.NewInt64)
	case schema.KindFloat32:
		return number(d, path, schema.NewFloat32)
	case schema.KindFloat64:
		return number(d, path, schema.NewFloat64)

	case schema.KindBoolean:
		switch id := d.Identity.(type) {
		case nil:
			return schema.NewBoolean(false), nil
		case bool:
			return schema.NewBoolean(id), nil
		}
		return nil, invalid(path, "boolean identity %v", d.Identity)

	case schema.KindString:
		switch id := d.Identity.(type) {
		case nil:
			return schema.NewString(""), nil
		case string:
			return schema.NewString(id), nil
		}
		return nil, invalid(path, "string identity %v", d.Identity)

	case schema.KindStruct:
		fields := make([]schema.Field, len(d.Fields))
		seen := make(map[string]bool, len(d.Fields))
		for i, f := range d.Fields {
			if f.Name == "" {
				return nil, invalid(path, "field %d has no name", i)
			}
			if seen[f.Name] {
				return nil, invalid(path, "duplicate field %q", f.Name)
			}
			seen[f.Name] = true
			s, err := build(f.Schema, path+"."+f.Name)
			if err != nil {
				return nil, err
			}
			fields[i] = schema.Field{Name: f.Name, Schema: s}
		}
		return schema.NewStruct(fields...), nil

	case schema.KindUnion:
		if len(d.Fields) > maxUnionCases {
			return nil, invalid(path, "%d cases, limit is %d", len(d.Fields), maxUnionCases)
		}
		cases := make([]schema.Case, len(d.Fields))
		seen := make(map[string]bool, len(d.Fields))
		for i, c := range d.Fields {
			if c.Name == "" {
				return nil, invalid(path, "case %d has no tag", i)
			}
			if seen[c.Name] {
				return nil, invalid(path, "duplicate tag %q", c.Name)
			}
			seen[c.Name] = true
			s, err := build(c.Schema, path+"|"+c.Name)
			if err != nil {
				return nil, err
			}
			cases[i] = schema.Case{Tag: c.Name, Schema: s}
		}
		var tag string
		switch id := d.Identity.(type) {
		case nil:
		case string:
			if id != "" && !seen[id] {
				return nil, invalid(path, "unknown identity tag %q", id)
			}
			tag = id
		default:
			return nil, invalid(path, "union identity must be a tag, got %v", d.Identity)
		}
		return schema.NewUnion(cases, tag), nil

	case schema.KindArray, schema.KindSortedArray, schema.KindDictionary:
		if d.Element == nil {
			return nil, invalid(path, "%s without element", d.Type)
		}
		elem, err := build(*d.Element, path+"[]")
		if err != nil {
			return nil, err
		}
		switch d.Type {
		case schema.KindArray:
			return schema.NewArray(elem), nil
		case schema.KindSortedArray:
			switch elem.Kind() {
			case schema.KindBoolean, schema.KindStruct, schema.KindArray, schema.KindSortedArray,
				schema.KindVector, schema.KindDictionary, schema.KindUnion:
				return nil, invalid(path, "sorted array of %s has no natural order", elem.Kind())
			}
			return schema.NewSortedArray(elem, nil), nil
		default:
			return schema.NewDictionary(elem), nil
		}

	case schema.KindVector:
		if d.Element == nil {
			return nil, invalid(path, "vector without element")
		}
		if d.Dimension < 0 {
			return nil, invalid(path, "negative vector dimension %d", d.Dimension)
		}
		elem, err := build(*d.Element, path+"[]")
		if err != nil {
			return nil, err
		}
		return vector(elem, d.Dimension, path)

	case "":
		return nil, invalid(path, "missing type")
	}
	return nil, invalid(path, "unknown type %q", d.Type)
}

func number[T schema.Numeric, S schema.Schema](d schema.Descriptor, path string, ctor func(T) S) (schema.Schema, error) {
	id, err := convert[T](d.Type, d.Identity)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: identity: %v", ErrInvalidSchema, path, err)
	}
	return ctor(id), nil
}

func vector(elem schema.Schema, dim int, path string) (schema.Schema, error) {
	switch e := elem.(type) {
	case *schema.Number[uint8]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[uint16]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[uint32]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[uint64]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[int8]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[int16]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[int32]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[int64]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[float32]:
		return schema.NewVector(e, dim), nil
	case *schema.Number[float64]:
		return schema.NewVector(e, dim), nil
	}
	return nil, invalid(path, "vector of %s, elements must be numbers", elem.Kind())
}

func invalid(path, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrInvalidSchema, path, fmt.Sprintf(format, args...))
}

// BuildProtocol constructs the protocol a ProtocolConfig declares.
func BuildProtocol(c ProtocolConfig) (rpc.ProtocolSchema, error) {
	client, err := buildTable(c.Client, "client")
	if err != nil {
		return rpc.ProtocolSchema{}, err
	}
	server, err := buildTable(c.Server, "server")
	if err != nil {
		return rpc.ProtocolSchema{}, err
	}
	return rpc.ProtocolSchema{Name: c.Name, Client: client, Server: server}, nil
}

func buildTable(procs []ProcedureConfig, side string) (rpc.Table, error) {
	table := make(rpc.Table, len(procs))
	for i, p := range procs {
		req, err := build(p.Request, side+"."+p.Name+".request")
		if err != nil {
			return nil, err
		}
		res, err := build(p.Response, side+"."+p.Name+".response")
		if err != nil {
			return nil, err
		}
		table[i] = rpc.Procedure{Name: p.Name, Request: req, Response: res}
	}
	return table, nil
}
