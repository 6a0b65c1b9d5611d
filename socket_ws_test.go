// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/deltarpc/schema"
)

func TestWebSocketRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server := startServer(t, proto,
		WithTransport(TransportWS),
		WithHandler("echo", echoHandler),
		WithHandler("flip", func(_ context.Context, arg any) (any, error) {
			v := arg.(schema.Variant)
			if v.Tag == "a" {
				return schema.Variant{Tag: "b", Value: v.Value}, nil
			}
			return schema.Variant{Tag: "a", Value: v.Value}, nil
		}),
	)

	client, err := Dial(ctx, server.Addr(), proto, WithTransport(TransportWS))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Call(ctx, "echo", "over websocket")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != "over websocket" {
		t.Errorf("got %q, want %q", resp, "over websocket")
	}

	resp, err = client.Call(ctx, "flip", schema.Variant{Tag: "a", Value: uint16(9)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := schema.Variant{Tag: "b", Value: uint16(9)}
	if resp != want {
		t.Errorf("got %v, want %v", resp, want)
	}
}

func TestWebSocketCompression(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	opts := []Option{WithTransport(TransportWS), WithCompressionThreshold(64)}
	server := startServer(t, proto, append(opts, WithHandler("echo", echoHandler))...)

	client, err := Dial(ctx, server.Addr(), proto, opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	payload := strings.Repeat("compressible ", 2048)
	resp, err := client.Call(ctx, "echo", payload)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != payload {
		t.Error("payload corrupted")
	}
}

func TestWebSocketCustomPath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server := startServer(t, proto, WithTransport(TransportWS), WithWebSocketPath("/custom"))

	if _, err := Dial(ctx, server.Addr(), proto, WithTransport(TransportWS)); err == nil {
		t.Fatal("dial on the default path should fail")
	}

	client, err := Dial(ctx, "ws://"+server.Addr()+"/custom", proto, WithTransport(TransportWS))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Close()
}

func TestWebSocketServerClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proto := newTestProtocol(t)
	server, err := Listen("127.0.0.1:0", proto, WithTransport(TransportWS))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	client, err := Dial(ctx, server.Addr(), proto, WithTransport(TransportWS))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	server.Close()
	if err := <-served; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client still connected after server close")
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"localhost:8080", "ws://localhost:8080/deltarpc"},
		{"ws://example.com/x", "ws://example.com/x"},
		{"wss://example.com/x", "wss://example.com/x"},
		{"http://example.com/x", "ws://example.com/x"},
		{"https://example.com/x", "wss://example.com/x"},
	}
	for _, tt := range tests {
		if got := wsURL(tt.addr, DefaultWebSocketPath); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
