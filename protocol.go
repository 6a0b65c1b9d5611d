// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/luxfi/deltarpc/schema"
)

var ErrInvalidProtocol = errors.New("rpc: invalid protocol schema")

// Procedure declares one remote procedure.
type Procedure struct {
	Name     string
	Request  schema.Schema
	Response schema.Schema
}

// Table is an ordered list of procedures. A procedure's position is its slot
// on the wire, so the order must not change once deployed.
type Table []Procedure

// ProtocolSchema declares the procedures each side serves. Client lists
// procedures the client invokes on the server; Server lists procedures the
// server invokes on the client.
type ProtocolSchema struct {
	Name   string
	Client Table
	Server Table
}

// WireTable holds the wrapped schema of every procedure of one direction,
// indexed by slot.
type WireTable struct {
	names   []string
	schemas []*schema.Struct
	slots   map[string]int
}

func newWireTable(n int) WireTable {
	return WireTable{
		names:   make([]string, 0, n),
		schemas: make([]*schema.Struct, 0, n),
		slots:   make(map[string]int, n),
	}
}

func (t *WireTable) add(name string, s *schema.Struct) {
	t.slots[name] = len(t.names)
	t.names = append(t.names, name)
	t.schemas = append(t.schemas, s)
}

// Len returns the number of procedures.
func (t WireTable) Len() int { return len(t.names) }

// Names returns procedure names in slot order.
func (t WireTable) Names() []string { return append([]string(nil), t.names...) }

// Slot returns the slot of the named procedure.
func (t WireTable) Slot(name string) (int, bool) {
	i, ok := t.slots[name]
	return i, ok
}

// Name returns the procedure at slot, or "" when out of range.
func (t WireTable) Name(slot int) string {
	if slot < 0 || slot >= len(t.names) {
		return ""
	}
	return t.names[slot]
}

// Schema returns the wrapped schema at slot, or nil when out of range.
func (t WireTable) Schema(slot int) *schema.Struct {
	if slot < 0 || slot >= len(t.schemas) {
		return nil
	}
	return t.schemas[slot]
}

// Lookup returns the wrapped schema of the named procedure.
func (t WireTable) Lookup(name string) (*schema.Struct, bool) {
	i, ok := t.slots[name]
	if !ok {
		return nil, false
	}
	return t.schemas[i], true
}

// PhaseSchema is one phase of a transposed protocol. Client holds what the
// client sends in this phase, Server what the server sends.
type PhaseSchema struct {
	Name   string
	Client WireTable
	Server WireTable
}

// TransposedProtocol is the wire form of a ProtocolSchema. Every entry wraps
// the declared schema as {id: uint32, base: schema}.
type TransposedProtocol struct {
	Name     string
	Request  PhaseSchema
	Response PhaseSchema

	// IDSchema is the correlation id schema shared by every wrapper.
	IDSchema *schema.Number[uint32]

	source      ProtocolSchema
	fingerprint [32]byte
}

// Transpose derives the request-phase and response-phase wire schemas.
//
// A client procedure's request is sent by the client (Request.Client) and its
// response by the server (Response.Server). A server procedure's request is
// sent by the server (Request.Server) and its response by the client
// (Response.Client). Slots follow declaration order within each table.
func Transpose(p ProtocolSchema) (*TransposedProtocol, error) {
	if err := validateTable("client", p.Client); err != nil {
		return nil, err
	}
	if err := validateTable("server", p.Server); err != nil {
		return nil, err
	}

	id := schema.NewUint32(0)
	wrap := func(base schema.Schema) *schema.Struct {
		return schema.NewStruct(
			schema.Field{Name: "id", Schema: id},
			schema.Field{Name: "base", Schema: base},
		)
	}

	t := &TransposedProtocol{
		Name: p.Name,
		Request: PhaseSchema{
			Client: newWireTable(len(p.Client)),
			Server: newWireTable(len(p.Server)),
		},
		Response: PhaseSchema{
			Client: newWireTable(len(p.Server)),
			Server: newWireTable(len(p.Client)),
		},
		IDSchema: id,
		source:   p,
	}
	for _, proc := range p.Client {
		t.Request.Client.add(proc.Name, wrap(proc.Request))
		t.Response.Server.add(proc.Name, wrap(proc.Response))
	}
	for _, proc := range p.Server {
		t.Request.Server.add(proc.Name, wrap(proc.Request))
		t.Response.Client.add(proc.Name, wrap(proc.Response))
	}
	if p.Name != "" {
		t.Request.Name = p.Name + "Request"
		t.Response.Name = p.Name + "Response"
	}

	fp, err := fingerprint(t.Describe())
	if err != nil {
		return nil, err
	}
	t.fingerprint = fp
	return t, nil
}

func validateTable(side string, table Table) error {
	if len(table) > math.MaxUint16 {
		return fmt.Errorf("%w: %s table has %d procedures", ErrInvalidProtocol, side, len(table))
	}
	seen := make(map[string]struct{}, len(table))
	for i, proc := range table {
		if proc.Name == "" {
			return fmt.Errorf("%w: %s procedure %d has no name", ErrInvalidProtocol, side, i)
		}
		if proc.Request == nil || proc.Response == nil {
			return fmt.Errorf("%w: %s procedure %q is missing a schema", ErrInvalidProtocol, side, proc.Name)
		}
		if _, dup := seen[proc.Name]; dup {
			return fmt.Errorf("%w: duplicate %s procedure %q", ErrInvalidProtocol, side, proc.Name)
		}
		seen[proc.Name] = struct{}{}
	}
	return nil
}

// Source returns the protocol schema t was derived from.
func (t *TransposedProtocol) Source() ProtocolSchema { return t.source }

// Fingerprint identifies the wire shape of the protocol. Peers refuse to
// talk when fingerprints differ.
func (t *TransposedProtocol) Fingerprint() [32]byte { return t.fingerprint }

// ProcedureDescriptor describes one declared procedure.
type ProcedureDescriptor struct {
	Name     string            `json:"name"`
	Request  schema.Descriptor `json:"request"`
	Response schema.Descriptor `json:"response"`
}

// ProtocolDescriptor describes a declared protocol.
type ProtocolDescriptor struct {
	Name   string                `json:"name,omitempty"`
	Client []ProcedureDescriptor `json:"client"`
	Server []ProcedureDescriptor `json:"server"`
}

func describeTable(table Table) []ProcedureDescriptor {
	d := make([]ProcedureDescriptor, len(table))
	for i, proc := range table {
		d[i] = ProcedureDescriptor{
			Name:     proc.Name,
			Request:  proc.Request.Describe(),
			Response: proc.Response.Describe(),
		}
	}
	return d
}

// Describe returns the descriptor of the declared protocol.
func (t *TransposedProtocol) Describe() ProtocolDescriptor {
	return ProtocolDescriptor{
		Name:   t.source.Name,
		Client: describeTable(t.source.Client),
		Server: describeTable(t.source.Server),
	}
}

var fingerprintMode cbor.EncMode

func init() {
	var err error
	fingerprintMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("rpc: CBOR encoder initialization failed: " + err.Error())
	}
}

// fingerprint hashes the deterministic CBOR encoding of d. The protocol name
// is diagnostic only and excluded.
func fingerprint(d ProtocolDescriptor) ([32]byte, error) {
	d.Name = ""
	p, err := fingerprintMode.Marshal(d)
	if err != nil {
		return [32]byte{}, fmt.Errorf("fingerprint: %w", err)
	}
	return blake3.Sum256(p), nil
}

// ErrorSchema carries a failed call's correlation id and message. Both
// directions share it.
var ErrorSchema = schema.NewStruct(
	schema.Field{Name: "id", Schema: schema.NewUint32(0)},
	schema.Field{Name: "message", Schema: schema.NewString("")},
)

// ErrorProtocolSchema is the error side channel of a protocol.
type ErrorProtocolSchema struct {
	Name   string
	Client *schema.Struct
	Server *schema.Struct
}

// ErrorProtocol returns the error side channel for p.
func ErrorProtocol(p ProtocolSchema) ErrorProtocolSchema {
	e := ErrorProtocolSchema{Client: ErrorSchema, Server: ErrorSchema}
	if p.Name != "" {
		e.Name = p.Name + "Error"
	}
	return e
}
