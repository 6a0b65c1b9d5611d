// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Dial connects to a server speaking proto, completes the handshake and
// returns a started client-side peer. The default transport is TCP.
func Dial(ctx context.Context, addr string, proto *TransposedProtocol, opts ...Option) (*Peer, error) {
	o := newOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}

	conn, err := t.dial(ctx, addr, o)
	if err != nil {
		return nil, err
	}

	session := o.session()
	hctx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()
	if err := clientHandshake(hctx, conn, newHello(session, proto)); err != nil {
		o.metrics.handshake(false)
		return nil, err
	}
	o.metrics.handshake(true)

	p := newPeer(proto, SideClient, o, nil)
	if err := p.Start(newConnSocket(conn, session, o)); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// Server accepts connections for one protocol and serves each with a
// server-side Peer. All peers share the server's handlers.
type Server struct {
	proto    *TransposedProtocol
	listener frameListener
	o        *options
	handlers *handlerTable

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed atomic.Bool
}

// Listen creates a server for proto on addr using the default transport
// (TCP).
func Listen(addr string, proto *TransposedProtocol, opts ...Option) (*Server, error) {
	o := newOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}

	s := &Server{
		proto:    proto,
		o:        o,
		handlers: newHandlerTable(proto.Request.Client),
		peers:    make(map[*Peer]struct{}),
	}
	for proc, h := range o.handlers {
		if err := s.handlers.set(proc, h); err != nil {
			return nil, err
		}
	}

	listener, err := t.listen(addr, o)
	if err != nil {
		return nil, err
	}
	s.listener = listener
	return s, nil
}

// Handle registers the handler for a client procedure.
func (s *Server) Handle(proc string, h Handler) error {
	return s.handlers.set(proc, h)
}

// Addr returns the server's listen address
func (s *Server) Addr() string { return s.listener.Addr() }

// Protocol returns the protocol the server speaks.
func (s *Server) Protocol() *TransposedProtocol { return s.proto }

// Peers returns the currently connected peers.
func (s *Server) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	return peers
}

// Serve accepts connections until ctx is done or Close is called. It
// returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})

	if s.o.inspectAddr != "" {
		handler, err := NewInspectHandler(s.proto)
		if err != nil {
			return err
		}
		srv := &http.Server{Addr: s.o.inspectAddr, Handler: handler, ReadHeaderTimeout: s.o.handshakeTimeout}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("inspect: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		defer cancel()
		for {
			conn, err := s.listener.Accept(ctx)
			if err != nil {
				if s.closed.Load() || ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				s.o.logger.Warn().Err(err).Msg("accept failed")
				continue
			}
			g.Go(func() error {
				s.serveConn(ctx, conn)
				return nil
			})
		}
	})

	return g.Wait()
}

func (s *Server) serveConn(ctx context.Context, conn frameConn) {
	hctx, cancel := context.WithTimeout(ctx, s.o.handshakeTimeout)
	session, err := serverHandshake(hctx, conn, s.proto)
	cancel()
	if err != nil {
		s.o.metrics.handshake(false)
		s.o.logger.Info().Err(err).Msg("handshake rejected")
		return
	}
	s.o.metrics.handshake(true)

	p := newPeer(s.proto, SideServer, s.o, s.handlers)
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	if err := p.Start(newConnSocket(conn, session, s.o)); err != nil {
		conn.Close()
	} else {
		p.log.Debug().Msg("peer connected")
		select {
		case <-p.Done():
		case <-ctx.Done():
		}
	}
	p.Close()

	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
}

// Close stops accepting and closes every connected peer.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.listener.Close()
	for _, p := range s.Peers() {
		p.Close()
	}
	return err
}
