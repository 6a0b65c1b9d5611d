// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"sort"
	"sync"
)

// Transport types
const (
	TransportTCP  = "tcp"  // Length-prefixed frames, default
	TransportWS   = "ws"   // WebSocket binary messages
	TransportGRPC = "grpc" // gRPC bidi stream, requires build tag
)

// DefaultTransport is the default transport type (TCP)
const DefaultTransport = TransportTCP

type dialFunc func(ctx context.Context, addr string, o *options) (frameConn, error)
type listenFunc func(addr string, o *options) (frameListener, error)

// frameListener accepts frame connections that have not yet handshaken.
type frameListener interface {
	Accept(ctx context.Context) (frameConn, error)
	Close() error
	Addr() string
}

type transport struct {
	dial   dialFunc
	listen listenFunc
}

var (
	transportsMu sync.RWMutex
	transports   = map[string]transport{
		TransportTCP: {dialTCP, listenTCP},
		TransportWS:  {dialWS, listenWS},
	}
)

// registerTransport registers a new transport (used by build tags)
func registerTransport(name string, dial dialFunc, listen listenFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = transport{dial, listen}
}

func lookupTransport(name string) (transport, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	t, ok := transports[name]
	return t, ok
}

// AvailableTransports returns list of available transport types
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	_, ok := lookupTransport(name)
	return ok
}
