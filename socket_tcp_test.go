// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/s2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/luxfi/deltarpc/schema"
)

// startServer listens on a loopback port and serves until the test ends.
func startServer(t *testing.T, proto *TransposedProtocol, opts ...Option) *Server {
	t.Helper()
	server, err := Listen("127.0.0.1:0", proto, opts...)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return server
}

func TestTCPRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server := startServer(t, proto)

	// Register echo handler
	if err := server.Handle("echo", echoHandler); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	client, err := Dial(ctx, server.Addr(), proto)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call(ctx, "echo", "hello world")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != "hello world" {
		t.Errorf("got %q, want %q", resp, "hello world")
	}
}

func TestTCPCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server := startServer(t, proto, WithHandler("add", addHandler))

	client, err := Dial(ctx, server.Addr(), proto, WithHandler("ping", func(_ context.Context, arg any) (any, error) {
		return arg.(uint8) * 2, nil
	}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call(ctx, "add", schema.Fields{int32(10), int32(20)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != int32(30) {
		t.Errorf("got %v, want 30", resp)
	}

	// the server reaches the client over the same connection
	var peers []*Peer
	for deadline := time.Now().Add(time.Second); len(peers) == 0 && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
		peers = server.Peers()
	}
	if len(peers) != 1 {
		t.Fatalf("got %d peers, want 1", len(peers))
	}
	if peers[0].SessionID() != client.SessionID() {
		t.Errorf("server session %q, client session %q", peers[0].SessionID(), client.SessionID())
	}
	resp, err = peers[0].Call(ctx, "ping", uint8(21))
	if err != nil {
		t.Fatalf("server Call: %v", err)
	}
	if resp != uint8(42) {
		t.Errorf("got %v, want 42", resp)
	}
}

func TestTCPCompression(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server := startServer(t, proto, WithHandler("echo", echoHandler), WithCompressionThreshold(128))
	client, err := Dial(ctx, server.Addr(), proto, WithCompressionThreshold(128))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	payload := strings.Repeat("delta ", 4096)
	resp, err := client.Call(ctx, "echo", payload)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != payload {
		t.Errorf("payload corrupted: got %d bytes, want %d", len(resp.(string)), len(payload))
	}
}

func TestStreamConnCompressedFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	payload := bytes.Repeat([]byte("abcd"), 1024)
	go newStreamConn(a, 64).WriteFrame(payload)

	header := make([]byte, 5)
	if _, err := io.ReadFull(b, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header[4] != flagCompressed {
		t.Fatalf("flags = %#x, want compressed", header[4])
	}
	msgLen := binary.BigEndian.Uint32(header[:4])
	if int(msgLen) >= len(payload) {
		t.Fatalf("frame of %d bytes is not smaller than the %d byte payload", msgLen, len(payload))
	}
	body := make([]byte, msgLen-1)
	if _, err := io.ReadFull(b, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoded, err := s2.Decode(nil, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatal("decoded payload differs")
	}
}

func TestStreamConnSmallFrameUncompressed(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	w, r := newStreamConn(a, 64), newStreamConn(b, 64)
	go w.WriteFrame([]byte("tiny"))
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != "tiny" {
		t.Errorf("got %q, want %q", got, "tiny")
	}
}

func TestStreamConnRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{
			name:  "too large",
			frame: binary.BigEndian.AppendUint32(nil, maxFrameSize+1),
			want:  ErrFrameTooLarge,
		},
		{
			name:  "empty",
			frame: binary.BigEndian.AppendUint32(nil, 0),
			want:  ErrFrameTooLarge,
		},
		{
			name:  "unknown flags",
			frame: append(binary.BigEndian.AppendUint32(nil, 2), 0x80, 0),
			want:  errFrameFlags,
		},
		{
			name:  "truncated",
			frame: append(binary.BigEndian.AppendUint32(nil, 10), 0, 1, 2),
			want:  io.ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := net.Pipe()
			defer b.Close()
			go func() {
				a.Write(tt.frame)
				a.Close()
			}()
			_, err := newStreamConn(b, 0).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTCPHandshakeRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m, err := NewMetrics("tcp", prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	server := startServer(t, newTestProtocol(t), WithMetrics(m))

	other, err := Transpose(ProtocolSchema{Name: "Other"})
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	_, err = Dial(ctx, server.Addr(), other)
	if !errors.Is(err, ErrHandshakeMismatch) {
		t.Fatalf("got %v, want %v", err, ErrHandshakeMismatch)
	}

	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(m.handshakes.WithLabelValues("rejected")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("rejected handshake not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(server.Peers()); n != 0 {
		t.Errorf("got %d peers after rejected handshake", n)
	}
}

func TestTCPStrayConnection(t *testing.T) {
	proto := newTestProtocol(t)
	server := startServer(t, proto, WithHandshakeTimeout(50*time.Millisecond))

	// a connection that never says hello is dropped
	conn, err := net.Dial("tcp", server.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("stray connection received data")
	}
}

func TestServerCloseDisconnectsPeers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server, err := Listen("127.0.0.1:0", proto)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(context.Background()) }()

	client, err := Dial(ctx, server.Addr(), proto)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-served; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client still connected after server close")
	}
	if _, err := client.Call(ctx, "echo", "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want %v", err, ErrClosed)
	}
}

func TestDialUnknownTransport(t *testing.T) {
	proto := newTestProtocol(t)
	if _, err := Dial(context.Background(), "127.0.0.1:1", proto, WithTransport("carrier-pigeon")); err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if _, err := Listen("127.0.0.1:0", proto, WithTransport("carrier-pigeon")); err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if _, err := Listen("127.0.0.1:0", proto, WithHandler("nope", echoHandler)); !errors.Is(err, ErrUnknownProcedure) {
		t.Fatalf("got %v, want %v", err, ErrUnknownProcedure)
	}
}

func TestAvailableTransports(t *testing.T) {
	for _, name := range []string{TransportTCP, TransportWS} {
		if !HasTransport(name) {
			t.Errorf("transport %q not registered", name)
		}
	}
	names := AvailableTransports()
	if len(names) < 2 || names[0] > names[len(names)-1] {
		t.Errorf("unexpected transport list %v", names)
	}
}
