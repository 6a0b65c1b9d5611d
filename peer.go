// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrClosed           = errors.New("rpc: peer closed")
	ErrNotStarted       = errors.New("rpc: peer not started")
	ErrUnknownProcedure = errors.New("rpc: unknown procedure")
)

// CallError is a failure reported by the remote handler of a call.
type CallError struct {
	ID        uint32
	Procedure string
	Message   string
}

func (e *CallError) Error() string {
	if e.Procedure == "" {
		return "rpc: call failed: " + e.Message
	}
	return fmt.Sprintf("rpc: %s failed: %s", e.Procedure, e.Message)
}

// Side selects which half of a protocol a peer plays.
type Side uint8

const (
	SideClient Side = iota
	SideServer
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

type callResult struct {
	value any
	err   error
}

type pendingCall struct {
	slot int
	ch   chan callResult
}

// handlerTable maps incoming request slots to handlers. Server peers share
// one table.
type handlerTable struct {
	procs WireTable

	mu       sync.RWMutex
	handlers []Handler
}

func newHandlerTable(procs WireTable) *handlerTable {
	return &handlerTable{procs: procs, handlers: make([]Handler, procs.Len())}
}

func (t *handlerTable) set(proc string, h Handler) error {
	slot, ok := t.procs.Slot(proc)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProcedure, proc)
	}
	t.mu.Lock()
	t.handlers[slot] = h
	t.mu.Unlock()
	return nil
}

func (t *handlerTable) get(slot int) Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if slot < 0 || slot >= len(t.handlers) {
		return nil
	}
	return t.handlers[slot]
}

// Peer is one end of a connection speaking a transposed protocol. It calls
// the remote side's procedures and serves its own over a single Socket, so
// any number of calls in either direction share the connection.
type Peer struct {
	proto   *TransposedProtocol
	side    Side
	log     zerolog.Logger
	metrics *Metrics

	// outReq/inRes carry calls this peer makes, inReq/outRes calls it serves.
	outReq, inRes WireTable
	inReq, outRes WireTable
	handlers      *handlerTable

	mu   sync.Mutex
	sock Socket

	pending  sync.Map // correlation id -> pendingCall
	nextID   atomic.Uint32
	closed   atomic.Bool
	done     chan struct{}
	once     sync.Once
	err      error
	ctx      context.Context
	cancel   context.CancelFunc
	handling sync.WaitGroup
}

// NewPeer creates a peer playing side of proto. Call Start to attach it to
// a socket.
func NewPeer(proto *TransposedProtocol, side Side, opts ...Option) *Peer {
	return newPeer(proto, side, newOptions(opts), nil)
}

func newPeer(proto *TransposedProtocol, side Side, o *options, handlers *handlerTable) *Peer {
	p := &Peer{
		proto:   proto,
		side:    side,
		log:     o.logger.With().Str("side", side.String()).Logger(),
		metrics: o.metrics,
		done:    make(chan struct{}),
	}
	if side == SideClient {
		p.outReq, p.inRes = proto.Request.Client, proto.Response.Server
		p.inReq, p.outRes = proto.Request.Server, proto.Response.Client
	} else {
		p.outReq, p.inRes = proto.Request.Server, proto.Response.Client
		p.inReq, p.outRes = proto.Request.Client, proto.Response.Server
	}
	if handlers == nil {
		handlers = newHandlerTable(p.inReq)
		for proc, h := range o.handlers {
			if err := handlers.set(proc, h); err != nil {
				p.log.Warn().Err(err).Msg("ignoring handler")
			}
		}
	}
	p.handlers = handlers
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Protocol returns the protocol the peer speaks.
func (p *Peer) Protocol() *TransposedProtocol { return p.proto }

// Side returns the half of the protocol the peer plays.
func (p *Peer) Side() Side { return p.side }

// SessionID returns the session of the attached socket, or "" before Start.
func (p *Peer) SessionID() string {
	if sock := p.socket(); sock != nil {
		return sock.SessionID()
	}
	return ""
}

// Handle registers the handler for a procedure the remote side invokes.
// On server peers the registration applies to every connection.
func (p *Peer) Handle(proc string, h Handler) error {
	return p.handlers.set(proc, h)
}

// Start opens sock and begins serving. A peer can be started once.
func (p *Peer) Start(sock Socket) error {
	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.sock != nil {
		p.mu.Unlock()
		return ErrSocketOpen
	}
	p.sock = sock
	p.log = p.log.With().Str("session", sock.SessionID()).Logger()
	p.mu.Unlock()

	return sock.Open(SocketSpec{
		Message: p.receive,
		Close:   p.socketClosed,
	})
}

func (p *Peer) socket() Socket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock
}

// Done is closed when the peer's connection ends.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err returns the error that ended the connection, or nil after a clean
// close. It is only meaningful after Done is closed.
func (p *Peer) Err() error {
	<-p.done
	return p.err
}

// Close closes the socket, fails calls in flight with ErrClosed and waits for
// running handlers to return. It must not be called from a handler.
func (p *Peer) Close() error {
	p.shutdown(nil)
	var err error
	if sock := p.socket(); sock != nil {
		err = sock.Close()
	}
	p.handling.Wait()
	return err
}

func (p *Peer) shutdown(cause error) {
	p.once.Do(func() {
		p.err = cause
		p.closed.Store(true)
		p.cancel()
		close(p.done)
	})
}

func (p *Peer) socketClosed(err error) {
	if err != nil {
		p.log.Warn().Err(err).Msg("connection lost")
	} else {
		p.log.Debug().Msg("connection closed")
	}
	p.shutdown(err)
}

// Call invokes proc on the remote side with arg and waits for the response,
// ctx expiry or the end of the connection. A failure reported by the remote
// handler is returned as *CallError.
func (p *Peer) Call(ctx context.Context, proc string, arg any) (any, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	sock := p.socket()
	if sock == nil {
		return nil, ErrNotStarted
	}
	slot, ok := p.outReq.Slot(proc)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcedure, proc)
	}

	call := pendingCall{slot: slot, ch: make(chan callResult, 1)}
	id := p.register(call)
	defer p.pending.Delete(id)

	frame, err := encodeMessage(MsgRequest, slot, p.outReq.Schema(slot), id, arg)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", proc, err)
	}

	start := time.Now()
	p.metrics.callStarted()
	value, err := p.await(ctx, sock, frame, call)
	p.metrics.callFinished(proc, outcome(err), time.Since(start))
	return value, err
}

// await sends frame and waits for the result. A write stuck behind a full
// connection does not hold the caller past ctx; the frame is still written or
// fails when the connection closes.
func (p *Peer) await(ctx context.Context, sock Socket, frame []byte, call pendingCall) (any, error) {
	sent := make(chan error, 1)
	go func() { sent <- sock.Send(frame, false) }()
	for {
		select {
		case err := <-sent:
			if err != nil {
				return nil, err
			}
			sent = nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-call.ch:
			return r.value, r.err
		case <-p.done:
			return nil, ErrClosed
		}
	}
}

func outcome(err error) string {
	var callErr *CallError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &callErr):
		return outcomeError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	case errors.Is(err, ErrClosed):
		return outcomeClosed
	default:
		return outcomeFailed
	}
}

// register stores call under a fresh correlation id. Zero and ids still in
// use after wraparound are skipped.
func (p *Peer) register(call pendingCall) uint32 {
	for {
		id := p.nextID.Add(1)
		if id == 0 {
			continue
		}
		if _, loaded := p.pending.LoadOrStore(id, call); !loaded {
			return id
		}
	}
}

func (p *Peer) complete(id uint32, slot int, r callResult) {
	v, ok := p.pending.LoadAndDelete(id)
	if !ok {
		p.log.Debug().Uint32("id", id).Msg("result for unknown call")
		p.metrics.droppedMessage()
		return
	}
	call := v.(pendingCall)
	if call.slot != slot {
		r = callResult{err: fmt.Errorf("rpc: result on slot %d for call on slot %d", slot, call.slot)}
	}
	call.ch <- r
}

func (p *Peer) receive(data []byte, _ bool) {
	env, err := decodeEnvelope(data)
	if err != nil {
		p.drop(err, 0, -1)
		return
	}
	switch env.Type {
	case MsgRequest:
		p.serve(env)
	case MsgResponse:
		p.resolve(env)
	case MsgError:
		p.fail(env)
	default:
		p.drop(errors.New("unknown message type"), env.Type, env.Slot)
	}
}

func (p *Peer) drop(err error, t MessageType, slot int) {
	p.log.Warn().Err(err).Stringer("type", t).Int("slot", slot).Msg("dropped message")
	p.metrics.droppedMessage()
}

func (p *Peer) serve(env envelope) {
	wrapper := p.inReq.Schema(env.Slot)
	if wrapper == nil {
		if id, ok := peekID(env.Payload); ok {
			p.replyError(env.Slot, id, fmt.Sprintf("no procedure at slot %d", env.Slot))
			return
		}
		p.drop(ErrUnknownProcedure, env.Type, env.Slot)
		return
	}
	proc := p.inReq.Name(env.Slot)
	id, arg, err := decodeWrapped(wrapper, env.Payload)
	if err != nil {
		if id, ok := peekID(env.Payload); ok {
			p.metrics.handledRequest(proc, outcomeFailed)
			p.replyError(env.Slot, id, fmt.Sprintf("malformed %s request: %v", proc, err))
			return
		}
		p.drop(err, env.Type, env.Slot)
		return
	}

	h := p.handlers.get(env.Slot)
	if h == nil {
		p.metrics.handledRequest(proc, outcomeFailed)
		p.replyError(env.Slot, id, fmt.Sprintf("no handler for %s", proc))
		return
	}

	p.handling.Add(1)
	go func() {
		defer p.handling.Done()
		p.invoke(env.Slot, proc, id, h, arg)
	}()
}

func (p *Peer) invoke(slot int, proc string, id uint32, h Handler, arg any) {
	res, err := h(withPeer(p.ctx, p), arg)
	if p.closed.Load() {
		return
	}
	if err == nil {
		var frame []byte
		frame, err = encodeMessage(MsgResponse, slot, p.outRes.Schema(slot), id, res)
		if err == nil {
			p.metrics.handledRequest(proc, outcomeOK)
			p.send(frame)
			return
		}
		p.log.Error().Err(err).Str("procedure", proc).Msg("handler returned a value outside the response schema")
		err = fmt.Errorf("encode %s response: %w", proc, err)
	}
	p.metrics.handledRequest(proc, outcomeError)
	p.sendError(slot, id, err.Error())
}

// replyError answers a request the read loop rejected. The write happens on
// its own goroutine so the read loop never blocks on the connection.
func (p *Peer) replyError(slot int, id uint32, message string) {
	p.handling.Add(1)
	go func() {
		defer p.handling.Done()
		p.sendError(slot, id, message)
	}()
}

func (p *Peer) sendError(slot int, id uint32, message string) {
	frame, err := encodeMessage(MsgError, slot, ErrorSchema, id, message)
	if err != nil {
		p.log.Error().Err(err).Msg("encode error message")
		return
	}
	p.send(frame)
}

func (p *Peer) send(frame []byte) {
	sock := p.socket()
	if sock == nil {
		return
	}
	if err := sock.Send(frame, false); err != nil {
		p.log.Warn().Err(err).Msg("send failed")
	}
}

func (p *Peer) resolve(env envelope) {
	wrapper := p.inRes.Schema(env.Slot)
	if wrapper == nil {
		p.drop(ErrUnknownProcedure, env.Type, env.Slot)
		return
	}
	id, value, err := decodeWrapped(wrapper, env.Payload)
	if err != nil {
		if id, ok := peekID(env.Payload); ok {
			p.complete(id, env.Slot, callResult{err: fmt.Errorf("decode %s response: %w", p.inRes.Name(env.Slot), err)})
			return
		}
		p.drop(err, env.Type, env.Slot)
		return
	}
	p.complete(id, env.Slot, callResult{value: value})
}

func (p *Peer) fail(env envelope) {
	id, message, err := decodeWrapped(ErrorSchema, env.Payload)
	if err != nil {
		p.drop(err, env.Type, env.Slot)
		return
	}
	p.complete(id, env.Slot, callResult{err: &CallError{
		ID:        id,
		Procedure: p.outReq.Name(env.Slot),
		Message:   message.(string),
	}})
}

type peerKey struct{}

func withPeer(ctx context.Context, p *Peer) context.Context {
	return context.WithValue(ctx, peerKey{}, p)
}

// PeerFromContext returns the peer serving the current handler, which can be
// used to call back into the remote side.
func PeerFromContext(ctx context.Context) (*Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(*Peer)
	return p, ok
}
