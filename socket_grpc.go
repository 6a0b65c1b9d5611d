//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

// grpcExchange is the bidi stream every gRPC socket runs over. No service is
// registered for it; the server routes it through UnknownServiceHandler.
const grpcExchange = "/deltarpc.Socket/Exchange"

var grpcStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	ServerStreams: true,
	ClientStreams: true,
}

// rawCodec moves frames through gRPC without a message schema.
type rawCodec struct{}

func (rawCodec) Name() string { return "deltarpc-raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case *[]byte:
		return *p, nil
	default:
		return nil, fmt.Errorf("grpc: raw codec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpc: raw codec cannot unmarshal into %T", v)
	}
	*p = append((*p)[:0], data...)
	return nil
}

// grpcStream is the subset of grpc.ClientStream and grpc.ServerStream a
// socket needs.
type grpcStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

type grpcConn struct {
	stream  grpcStream
	writeMu sync.Mutex
	once    sync.Once
	close   func()
}

func (c *grpcConn) ReadFrame() ([]byte, error) {
	var p []byte
	if err := c.stream.RecvMsg(&p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *grpcConn) WriteFrame(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.stream.SendMsg(&p); err != nil {
		return fmt.Errorf("grpc write: %w", err)
	}
	return nil
}

func (c *grpcConn) Close() error {
	c.once.Do(c.close)
	return nil
}

func dialGRPC(ctx context.Context, addr string, o *options) (frameConn, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	// The stream outlives the dial context.
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := cc.NewStream(sctx, &grpcStreamDesc, grpcExchange, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		cancel()
		cc.Close()
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &grpcConn{
		stream: stream,
		close: func() {
			stream.CloseSend()
			cancel()
			cc.Close()
		},
	}, nil
}

type grpcListener struct {
	listener net.Listener
	server   *grpc.Server
	accepted chan frameConn
	closed   chan struct{}
	once     sync.Once
}

func listenGRPC(addr string, o *options) (frameListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	l := &grpcListener{
		listener: listener,
		accepted: make(chan frameConn),
		closed:   make(chan struct{}),
	}
	l.server = grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(l.exchange),
	)
	go func() {
		if err := l.server.Serve(listener); err != nil {
			o.logger.Error().Err(err).Msg("grpc listener stopped")
		}
	}()
	return l, nil
}

// exchange runs for the lifetime of one socket.
func (l *grpcListener) exchange(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	if method != grpcExchange {
		return fmt.Errorf("grpc: unknown method %q", method)
	}
	done := make(chan struct{})
	c := &grpcConn{stream: stream, close: func() { close(done) }}
	select {
	case l.accepted <- c:
	case <-l.closed:
		return net.ErrClosed
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-done:
	case <-stream.Context().Done():
	}
	return nil
}

func (l *grpcListener) Accept(ctx context.Context) (frameConn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *grpcListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.server.Stop()
	})
	return nil
}

func (l *grpcListener) Addr() string { return l.listener.Addr().String() }
