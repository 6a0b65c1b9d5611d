// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stream

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	w := NewWriteStream(1)
	w.WriteUint8(0xab)
	w.WriteUint16(0x0102)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint64(math.MaxUint64 - 1)
	w.WriteInt8(-3)
	w.WriteInt16(-300)
	w.WriteInt32(-70000)
	w.WriteInt64(math.MinInt64)
	w.WriteFloat32(1.5)
	w.WriteFloat64(math.Pi)
	w.WriteString("héllo")

	r := NewReadStream(w.Bytes())
	u8, err := r.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xab), u8)
	u16, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0102), u16)
	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), u32)
	u64, err := r.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64-1), u64)
	i8, err := r.ReadInt8()
	require.NoError(t, err)
	require.Equal(t, int8(-3), i8)
	i16, err := r.ReadInt16()
	require.NoError(t, err)
	require.Equal(t, int16(-300), i16)
	i32, err := r.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(-70000), i32)
	i64, err := r.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), i64)
	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	require.Equal(t, float32(1.5), f32)
	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	require.Equal(t, math.Pi, f64)
	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "héllo", s)

	require.Zero(t, r.BytesLeft())
	require.Equal(t, r.Length(), r.Offset())
}

func TestLittleEndian(t *testing.T) {
	w := NewWriteStream(0)
	w.WriteUint16(7)
	w.WriteUint32(0x01020304)
	require.Equal(t, []byte{7, 0, 4, 3, 2, 1}, w.Bytes())
}

func TestReserveBackpatchRewind(t *testing.T) {
	w := NewWriteStream(0)
	w.WriteUint8(9)

	head := w.Reserve(1)
	require.Equal(t, 1, head)
	w.WriteUint16(0xffff)
	w.WriteUint8At(head, 4)
	require.Equal(t, []byte{9, 4, 0xff, 0xff}, w.Bytes())

	head = w.Reserve(1)
	w.WriteUint8(1)
	w.Rewind(head)
	require.Equal(t, []byte{9, 4, 0xff, 0xff}, w.Bytes())

	// reserved bytes are zeroed even when the buffer held data there
	head = w.Reserve(2)
	require.Equal(t, []byte{0, 0}, w.Bytes()[head:])
}

func TestGrowKeepsContents(t *testing.T) {
	w := NewWriteStream(0)
	for i := 0; i < 1000; i++ {
		w.WriteUint8(uint8(i))
	}
	require.Equal(t, 1000, w.Offset())
	for i, b := range w.Bytes() {
		require.Equal(t, uint8(i), b)
	}
}

func TestExhausted(t *testing.T) {
	r := NewReadStream([]byte{1, 2, 3})
	_, err := r.ReadUint32()
	require.True(t, errors.Is(err, ErrExhausted))
	// failed reads do not move the cursor
	require.Equal(t, 0, r.Offset())

	v, err := r.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0201), v)

	_, err = NewReadStream([]byte{10, 0, 0, 0, 'a'}).ReadString()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestPool(t *testing.T) {
	w := Get()
	w.WriteUint32(1)
	Put(w)

	w = Get()
	require.Zero(t, w.Offset())
	Put(w)
}
