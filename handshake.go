// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrHandshakeMismatch = errors.New("rpc: handshake mismatch")
	ErrProtocolMismatch  = errors.New("rpc: protocol mismatch")
)

// hello is the handshake frame. The client sends it as SYN; the server
// echoes the session as ACK.
type hello struct {
	Session     string `cbor:"1,keyasint"`
	Protocol    string `cbor:"2,keyasint,omitempty"`
	Fingerprint []byte `cbor:"3,keyasint"`
}

func newHello(session string, proto *TransposedProtocol) hello {
	fp := proto.Fingerprint()
	return hello{Session: session, Protocol: proto.Name, Fingerprint: fp[:]}
}

// readFrameContext reads one frame, closing conn if ctx ends first.
func readFrameContext(ctx context.Context, conn frameConn) ([]byte, error) {
	type result struct {
		p   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := conn.ReadFrame()
		ch <- result{p, err}
	}()
	select {
	case r := <-ch:
		return r.p, r.err
	case <-ctx.Done():
		conn.Close()
		<-ch
		return nil, ctx.Err()
	}
}

// clientHandshake sends SYN and waits for a matching ACK. conn is closed on
// failure.
func clientHandshake(ctx context.Context, conn frameConn, syn hello) error {
	err := func() error {
		p, err := cbor.Marshal(syn)
		if err != nil {
			return fmt.Errorf("encode hello: %w", err)
		}
		if err := conn.WriteFrame(p); err != nil {
			return fmt.Errorf("send hello: %w", err)
		}
		p, err = readFrameContext(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fmt.Errorf("%w: no acknowledgement: %v", ErrHandshakeMismatch, err)
		}
		var ack hello
		if err := cbor.Unmarshal(p, &ack); err != nil {
			return fmt.Errorf("%w: malformed acknowledgement: %v", ErrHandshakeMismatch, err)
		}
		if ack.Session != syn.Session {
			return fmt.Errorf("%w: sent session %q, got %q", ErrHandshakeMismatch, syn.Session, ack.Session)
		}
		if !bytes.Equal(ack.Fingerprint, syn.Fingerprint) {
			return fmt.Errorf("%w: server speaks %q", ErrProtocolMismatch, ack.Protocol)
		}
		return nil
	}()
	if err != nil {
		conn.Close()
	}
	return err
}

// serverHandshake reads SYN, checks the protocol fingerprint and answers with
// ACK. It returns the client's session id. conn is closed on failure.
func serverHandshake(ctx context.Context, conn frameConn, proto *TransposedProtocol) (string, error) {
	session, err := func() (string, error) {
		p, err := readFrameContext(ctx, conn)
		if err != nil {
			return "", fmt.Errorf("read hello: %w", err)
		}
		var syn hello
		if err := cbor.Unmarshal(p, &syn); err != nil {
			return "", fmt.Errorf("%w: malformed hello: %v", ErrHandshakeMismatch, err)
		}
		if syn.Session == "" {
			return "", fmt.Errorf("%w: hello without session", ErrHandshakeMismatch)
		}
		fp := proto.Fingerprint()
		if !bytes.Equal(syn.Fingerprint, fp[:]) {
			return "", fmt.Errorf("%w: client speaks %q", ErrProtocolMismatch, syn.Protocol)
		}
		ack, err := cbor.Marshal(newHello(syn.Session, proto))
		if err != nil {
			return "", fmt.Errorf("encode hello: %w", err)
		}
		if err := conn.WriteFrame(ack); err != nil {
			return "", fmt.Errorf("send hello: %w", err)
		}
		return syn.Session, nil
	}()
	if err != nil {
		conn.Close()
	}
	return session, err
}
