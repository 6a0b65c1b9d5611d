// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"

	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// InspectServiceName is the JSON-RPC service name of the inspection API.
const InspectServiceName = "Protocol"

// InspectService answers JSON-RPC questions about a protocol's wire shape.
type InspectService struct {
	proto *TransposedProtocol
}

type DescribeArgs struct{}

type DescribeReply struct {
	Protocol    ProtocolDescriptor `json:"protocol"`
	Fingerprint string             `json:"fingerprint"`
}

// Describe returns the declared protocol and its fingerprint.
func (s *InspectService) Describe(_ *http.Request, _ *DescribeArgs, reply *DescribeReply) error {
	fp := s.proto.Fingerprint()
	reply.Protocol = s.proto.Describe()
	reply.Fingerprint = hex.EncodeToString(fp[:])
	return nil
}

type SlotsArgs struct {
	Phase     string `json:"phase"`     // "request" or "response"
	Direction string `json:"direction"` // "client" or "server"
}

type SlotsReply struct {
	Name       string   `json:"name,omitempty"`
	Procedures []string `json:"procedures"`
}

// Slots lists procedure names in wire slot order for one phase and sender.
func (s *InspectService) Slots(_ *http.Request, args *SlotsArgs, reply *SlotsReply) error {
	phase, err := s.proto.phase(args.Phase)
	if err != nil {
		return err
	}
	table, err := phase.table(args.Direction)
	if err != nil {
		return err
	}
	reply.Name = phase.Name
	reply.Procedures = table.Names()
	return nil
}

func (t *TransposedProtocol) phase(name string) (PhaseSchema, error) {
	switch name {
	case "request":
		return t.Request, nil
	case "response":
		return t.Response, nil
	default:
		return PhaseSchema{}, fmt.Errorf("unknown phase %q", name)
	}
}

func (p PhaseSchema) table(direction string) (WireTable, error) {
	switch direction {
	case "client":
		return p.Client, nil
	case "server":
		return p.Server, nil
	default:
		return WireTable{}, fmt.Errorf("unknown direction %q", direction)
	}
}

// Wire returns the wrapped table for a phase ("request" or "response") and
// sender ("client" or "server").
func (t *TransposedProtocol) Wire(phase, direction string) (WireTable, error) {
	p, err := t.phase(phase)
	if err != nil {
		return WireTable{}, err
	}
	return p.table(direction)
}

// NewInspectHandler serves InspectService over JSON-RPC 2.0.
func NewInspectHandler(proto *TransposedProtocol) (http.Handler, error) {
	server := gorillarpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(&InspectService{proto: proto}, InspectServiceName); err != nil {
		return nil, fmt.Errorf("register inspect service: %w", err)
	}
	return server, nil
}

// Inspect fetches the description of the protocol served at endpoint.
func Inspect(ctx context.Context, endpoint string, options ...RequestOption) (*DescribeReply, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	var reply DescribeReply
	if err := SendJSONRequest(ctx, uri, InspectServiceName+".Describe", &DescribeArgs{}, &reply, options...); err != nil {
		return nil, err
	}
	return &reply, nil
}

// InspectSlots fetches the slot order of one phase and sender at endpoint.
func InspectSlots(ctx context.Context, endpoint, phase, direction string, options ...RequestOption) (*SlotsReply, error) {
	uri, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	var reply SlotsReply
	args := &SlotsArgs{Phase: phase, Direction: direction}
	if err := SendJSONRequest(ctx, uri, InspectServiceName+".Slots", args, &reply, options...); err != nil {
		return nil, err
	}
	return &reply, nil
}
