// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpc runs request/response calls over schema-encoded delta messages.
//
// # Protocols
//
// A ProtocolSchema lists the procedures each side serves. Transpose turns it
// into per-phase wire tables whose entries wrap every request and response
// schema as {id: uint32, base: schema}; the id correlates a response with its
// call so any number of calls share one connection.
//
//	proto, err := rpc.Transpose(rpc.ProtocolSchema{
//	    Name: "Game",
//	    Client: rpc.Table{
//	        {Name: "move", Request: moveSchema, Response: stateSchema},
//	    },
//	    Server: rpc.Table{
//	        {Name: "ping", Request: schema.NewUint8(0), Response: schema.NewUint8(0)},
//	    },
//	})
//
// # Usage
//
// Server usage:
//
//	server, err := rpc.Listen(":9000", proto)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.Handle("move", func(ctx context.Context, arg any) (any, error) {
//	    return apply(arg)
//	})
//	server.Serve(ctx)
//
// Client usage:
//
//	peer, err := rpc.Dial(ctx, "localhost:9000", proto)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer peer.Close()
//
//	state, err := peer.Call(ctx, "move", schema.Fields{int32(1), int32(0)})
//
// A handler failure reaches the caller as *CallError and leaves the
// connection up.
//
// # Transport Selection
//
// TCP is the default transport. Frames are length prefixed and optionally
// S2 compressed. WebSocket is always available; gRPC needs a build tag:
//
//	go build              # tcp, ws
//	go build -tags grpc   # tcp, ws, grpc
//
// Every transport runs the same handshake before the first message: the
// dialer announces a session id and the protocol fingerprint, and the server
// refuses connections whose fingerprint differs from its own.
//
// # Architecture
//
//   - protocol.go: transposition, error schema, descriptors and fingerprints
//   - codec.go: message envelope encoding
//   - peer.go: calls, handlers and the pending-call table
//   - socket.go, handshake.go: the Socket state machine and SYN/ACK exchange
//   - socket_tcp.go, socket_ws.go, socket_grpc.go: framers per transport
//   - transport.go: transport registry for build-tag extensibility
//   - dial.go: Dial, Listen and Server
//   - inspect.go, json.go: JSON-RPC inspection service and client
//   - metrics.go: Prometheus collectors
package rpc
