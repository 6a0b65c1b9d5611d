// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWebSocketPath is the HTTP path the WebSocket transport serves on.
const DefaultWebSocketPath = "/deltarpc"

// wsConn carries one frame per binary WebSocket message.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, p, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, net.ErrClosed
			}
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return p, nil
		}
	}
}

func (c *wsConn) WriteFrame(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// wsURL turns a host:port into a ws:// URL on path. Full ws, wss, http and
// https URLs are used as given, with http schemes rewritten.
func wsURL(addr, path string) string {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return addr
	case strings.HasPrefix(addr, "https://"):
		return "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		return "ws://" + strings.TrimPrefix(addr, "http://")
	}
	return "ws://" + addr + path
}

func dialWS(ctx context.Context, addr string, o *options) (frameConn, error) {
	d := websocket.Dialer{
		HandshakeTimeout:  o.handshakeTimeout,
		EnableCompression: o.compressionThreshold > 0,
	}
	conn, resp, err := d.DialContext(ctx, wsURL(addr, o.wsPath), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsListener struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	accepted chan frameConn
	closed   chan struct{}
	once     sync.Once
}

func listenWS(addr string, o *options) (frameListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen: %w", err)
	}
	l := &wsListener{
		listener: listener,
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: o.compressionThreshold > 0,
		},
		accepted: make(chan frameConn),
		closed:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(o.wsPath, l.serveHTTP)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: o.handshakeTimeout}
	go func() {
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error().Err(err).Msg("ws listener stopped")
		}
	}()
	return l, nil
}

func (l *wsListener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	select {
	case l.accepted <- c:
	case <-l.closed:
		c.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (frameConn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		err = l.server.Close()
	})
	return err
}

func (l *wsListener) Addr() string { return l.listener.Addr().String() }
