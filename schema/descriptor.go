// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package schema

// Descriptor is a serializable description of a schema tree. Two schemas with
// equal descriptors produce identical bytes for identical values.
type Descriptor struct {
	Type      Kind              `json:"type" yaml:"type"`
	Identity  any               `json:"identity,omitempty" yaml:"identity,omitempty"`
	Element   *Descriptor       `json:"element,omitempty" yaml:"element,omitempty"`
	Dimension int               `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Fields    []NamedDescriptor `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// NamedDescriptor is a struct field or union case.
type NamedDescriptor struct {
	Name   string     `json:"name" yaml:"name"`
	Schema Descriptor `json:"schema" yaml:"schema"`
}
