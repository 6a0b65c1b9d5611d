// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"errors"
	"fmt"

	"github.com/luxfi/deltarpc/schema"
	"github.com/luxfi/deltarpc/stream"
)

var errShortEnvelope = errors.New("rpc: short envelope")

// MessageType identifies envelope types
type MessageType uint8

const (
	MsgRequest  MessageType = 0x01
	MsgResponse MessageType = 0x02
	MsgError    MessageType = 0x03
)

func (t MessageType) String() string {
	switch t {
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	case MsgError:
		return "error"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// envelopeHeaderLen is [type:u8][slot:u16].
const envelopeHeaderLen = 3

// envelope is a decoded socket frame. Payload aliases the frame.
type envelope struct {
	Type    MessageType
	Slot    int
	Payload []byte
}

// encodeMessage writes [type][slot][wrapped payload] where the payload is the
// delta of {id, value} against the wrapper identity. The returned slice is
// owned by the caller.
func encodeMessage(t MessageType, slot int, wrapper *schema.Struct, id uint32, value any) ([]byte, error) {
	w := stream.Get()
	defer stream.Put(w)

	w.WriteUint8(uint8(t))
	w.WriteUint16(uint16(slot))
	if _, err := wrapper.Diff(wrapper.Identity(), schema.Fields{id, value}, w); err != nil {
		return nil, err
	}
	return append([]byte(nil), w.Bytes()...), nil
}

func decodeEnvelope(frame []byte) (envelope, error) {
	r := stream.NewReadStream(frame)
	t, err := r.ReadUint8()
	if err != nil {
		return envelope{}, errShortEnvelope
	}
	slot, err := r.ReadUint16()
	if err != nil {
		return envelope{}, errShortEnvelope
	}
	return envelope{Type: MessageType(t), Slot: int(slot), Payload: frame[envelopeHeaderLen:]}, nil
}

// decodeWrapped patches the wrapper identity with payload and splits the
// result into correlation id and value.
func decodeWrapped(wrapper *schema.Struct, payload []byte) (uint32, any, error) {
	v, err := schema.Apply(wrapper, wrapper.Identity(), payload)
	if err != nil {
		return 0, nil, err
	}
	f := v.(schema.Fields)
	return f[0].(uint32), f[1], nil
}

// peekID reads the correlation id of a wrapped payload without decoding the
// value. The id is the first field, so it follows the field mask directly.
func peekID(payload []byte) (uint32, bool) {
	r := stream.NewReadStream(payload)
	mask, err := r.ReadUint8()
	if err != nil || mask&1 == 0 {
		return 0, false
	}
	id, err := r.ReadUint32()
	if err != nil {
		return 0, false
	}
	return id, true
}
