// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrSocketOpen   = errors.New("rpc: socket already open")
	ErrSocketClosed = errors.New("rpc: socket closed")
)

// SocketState is the lifecycle state of a Socket.
type SocketState uint8

const (
	StateInit SocketState = iota
	StateOpen
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpen:
		return "OPEN"
	default:
		return "CLOSED"
	}
}

// SocketSpec receives socket events. Message is called from a single
// goroutine in arrival order; data is owned by the callee.
type SocketSpec struct {
	Ready   func()
	Message func(data []byte, unreliable bool)
	Close   func(err error)
}

// Socket is a handshaken, message-oriented connection to one remote peer.
type Socket interface {
	SessionID() string
	State() SocketState

	// Open starts delivering messages to spec. It fails with ErrSocketOpen
	// or ErrSocketClosed unless the socket is in StateInit.
	Open(spec SocketSpec) error

	// Send writes one message. It is a no-op unless the socket is open.
	// unreliable is a hint; stream transports deliver every message.
	Send(data []byte, unreliable bool) error

	Close() error
}

// frameConn carries whole frames. WriteFrame is safe for concurrent use;
// ReadFrame is called from one goroutine.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(p []byte) error
	Close() error
}

// connSocket adapts a handshaken frameConn to Socket.
type connSocket struct {
	conn      frameConn
	sessionID string
	log       zerolog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	state    SocketState
	onClose  func(error)
	readDone chan struct{}
}

func newConnSocket(conn frameConn, sessionID string, o *options) *connSocket {
	return &connSocket{
		conn:      conn,
		sessionID: sessionID,
		log:       o.logger.With().Str("session", sessionID).Logger(),
		metrics:   o.metrics,
	}
}

func (s *connSocket) SessionID() string { return s.sessionID }

func (s *connSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *connSocket) Open(spec SocketSpec) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return ErrSocketOpen
	case StateClosed:
		s.mu.Unlock()
		return ErrSocketClosed
	}
	s.state = StateOpen
	s.onClose = spec.Close
	s.readDone = make(chan struct{})
	s.mu.Unlock()

	if spec.Ready != nil {
		spec.Ready()
	}
	go s.readLoop(spec.Message)
	return nil
}

func (s *connSocket) readLoop(message func([]byte, bool)) {
	defer close(s.readDone)
	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				err = nil
			}
			s.shutdown(err)
			return
		}
		s.metrics.received(len(data))
		if message != nil {
			message(data, false)
		}
	}
}

func (s *connSocket) Send(data []byte, _ bool) error {
	if s.State() != StateOpen {
		return nil
	}
	if err := s.conn.WriteFrame(data); err != nil {
		return err
	}
	s.metrics.sent(len(data))
	return nil
}

// Close closes the connection and waits for the read loop to exit. It must
// not be called from a Message callback.
func (s *connSocket) Close() error {
	err := s.shutdown(nil)
	s.mu.Lock()
	done := s.readDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return err
}

func (s *connSocket) shutdown(cause error) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == StateOpen
	s.state = StateClosed
	onClose := s.onClose
	s.mu.Unlock()

	err := s.conn.Close()
	if cause != nil {
		s.log.Debug().Err(cause).Msg("socket closed")
	}
	if wasOpen && onClose != nil {
		onClose(cause)
	}
	return err
}
