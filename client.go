// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Caller invokes procedures on a remote peer.
// Application code should depend on this interface rather than *Peer.
type Caller interface {
	// Call sends arg to the named procedure and waits for its result.
	Call(ctx context.Context, proc string, arg any) (any, error)

	// Close closes the connection
	Close() error
}

// Handler serves one procedure. The returned value must conform to the
// procedure's response schema; a non-nil error is sent to the caller as a
// CallError message.
type Handler func(ctx context.Context, arg any) (any, error)

// Option configures peers, dialers and servers
type Option func(*options)

type options struct {
	transport            string
	logger               zerolog.Logger
	metrics              *Metrics
	sessionID            string
	handshakeTimeout     time.Duration
	compressionThreshold int
	wsPath               string
	handlers             map[string]Handler
	inspectAddr          string
}

const (
	defaultHandshakeTimeout = 10 * time.Second
)

func newOptions(opts []Option) *options {
	o := &options{
		transport:        DefaultTransport,
		logger:           zerolog.Nop(),
		handshakeTimeout: defaultHandshakeTimeout,
		wsPath:           DefaultWebSocketPath,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// session returns the configured session id or a fresh random one.
func (o *options) session() string {
	if o.sessionID != "" {
		return o.sessionID
	}
	return uuid.NewString()
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) Option {
	return func(o *options) { o.transport = t }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records call and socket metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSessionID fixes the session id a dialer announces in its handshake.
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// WithHandshakeTimeout bounds the SYN/ACK exchange.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithCompressionThreshold compresses frames of at least n bytes. Zero
// disables compression.
func WithCompressionThreshold(n int) Option {
	return func(o *options) { o.compressionThreshold = n }
}

// WithWebSocketPath sets the HTTP path of the ws transport.
func WithWebSocketPath(path string) Option {
	return func(o *options) { o.wsPath = path }
}

// WithHandler registers h for proc before the peer starts receiving, so no
// early request finds the procedure unserved.
func WithHandler(proc string, h Handler) Option {
	return func(o *options) {
		if o.handlers == nil {
			o.handlers = make(map[string]Handler)
		}
		o.handlers[proc] = h
	}
}

// WithInspectAddress makes Server.Serve expose the JSON-RPC inspection
// service on addr.
func WithInspectAddress(addr string) Option {
	return func(o *options) { o.inspectAddr = addr }
}
