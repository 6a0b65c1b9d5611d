// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/s2"
)

var (
	ErrFrameTooLarge = errors.New("tcp: frame too large")
	errFrameFlags    = errors.New("tcp: unknown frame flags")
)

const (
	maxFrameSize = 64 * 1024 * 1024 // 64MB max

	flagCompressed = 1 << 0

	writeTimeout = 30 * time.Second
)

// streamConn frames a byte stream as [4 len][1 flags][payload]. The length
// is big endian and covers flags and payload.
type streamConn struct {
	conn          net.Conn
	compressAbove int

	writeMu sync.Mutex
	header  [4]byte
}

func newStreamConn(conn net.Conn, compressAbove int) *streamConn {
	return &streamConn{conn: conn, compressAbove: compressAbove}
}

func (c *streamConn) WriteFrame(p []byte) error {
	var flags byte
	if c.compressAbove > 0 && len(p) >= c.compressAbove {
		if z := s2.Encode(nil, p); len(z) < len(p) {
			p = z
			flags |= flagCompressed
		}
	}
	msgLen := 1 + len(p)
	if msgLen > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}

	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = flags
	copy(buf[5:], p)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("tcp write: %w", err)
	}
	return nil
}

func (c *streamConn) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(c.conn, c.header[:]); err != nil {
		return nil, err
	}
	msgLen := binary.BigEndian.Uint32(c.header[:])
	if msgLen == 0 || msgLen > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
	}

	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(c.conn, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	flags, payload := msg[0], msg[1:]
	switch flags {
	case 0:
		return payload, nil
	case flagCompressed:
		n, err := s2.DecodedLen(payload)
		if err != nil {
			return nil, fmt.Errorf("tcp decompress: %w", err)
		}
		if n > maxFrameSize {
			return nil, fmt.Errorf("%w: %d bytes decompressed", ErrFrameTooLarge, n)
		}
		out, err := s2.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("tcp decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %#x", errFrameFlags, flags)
	}
}

func (c *streamConn) Close() error {
	return c.conn.Close()
}

func dialTCP(ctx context.Context, addr string, o *options) (frameConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial: %w", err)
	}
	return newStreamConn(conn, o.compressionThreshold), nil
}

type tcpListener struct {
	listener      net.Listener
	compressAbove int
}

func listenTCP(addr string, o *options) (frameListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen: %w", err)
	}
	return &tcpListener{listener: listener, compressAbove: o.compressionThreshold}, nil
}

func (l *tcpListener) Accept(context.Context) (frameConn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn, l.compressAbove), nil
}

func (l *tcpListener) Close() error { return l.listener.Close() }

func (l *tcpListener) Addr() string { return l.listener.Addr().String() }

// Pipe returns two connected in-memory sockets that have completed the
// handshake for proto. a is the client end, b the server end.
func Pipe(ctx context.Context, proto *TransposedProtocol, opts ...Option) (a, b Socket, err error) {
	o := newOptions(opts)
	ca, cb := net.Pipe()
	fa, fb := newStreamConn(ca, o.compressionThreshold), newStreamConn(cb, o.compressionThreshold)

	session := o.session()
	serverErr := make(chan error, 1)
	go func() {
		_, err := serverHandshake(ctx, fb, proto)
		serverErr <- err
	}()
	cerr := clientHandshake(ctx, fa, newHello(session, proto))
	serr := <-serverErr
	if cerr != nil || serr != nil {
		fa.Close()
		fb.Close()
		return nil, nil, errors.Join(cerr, serr)
	}
	return newConnSocket(fa, session, o), newConnSocket(fb, session, o), nil
}
