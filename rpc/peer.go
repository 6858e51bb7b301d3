package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultCallTimeout = 30 * time.Second

var (
	ErrClosed  = errors.New("rpc: channel closed")
	ErrTimeout = errors.New("rpc: call timed out")
)

// HandlerFunc services one request and returns the value to send back.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (interface{}, error)

// StreamFunc services one subscription, pushing items through send until it
// returns. A nil return ends the stream normally; an error tears it down.
type StreamFunc func(ctx context.Context, input json.RawMessage, send func(interface{}) error) error

// Procedure is a named remote-callable operation. Validate, when set, runs
// before the handler; a validation failure is reported to the caller
// without invoking anything. Exactly one of Handle or Stream should be set.
type Procedure struct {
	Validate func(json.RawMessage) error
	Handle   HandlerFunc
	Stream   StreamFunc
}

type registryNode struct {
	children map[string]*registryNode
	proc     *Procedure
}

type callResult struct {
	data json.RawMessage
	err  error
}

type subscription struct {
	onData func(json.RawMessage)
}

// Peer is one endpoint of the symmetric call/response/notification/stream
// protocol. Either side may register procedures and either side may call;
// the same implementation serves both roles.
type Peer struct {
	conn    Conn
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	root    *registryNode
	pending map[string]chan callResult
	subs    map[string]*subscription

	closed    chan struct{}
	closeOnce sync.Once
}

func NewPeer(conn Conn, callTimeout time.Duration, logger *zap.Logger) *Peer {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Peer{
		conn:    conn,
		logger:  logger,
		timeout: callTimeout,
		root:    &registryNode{children: make(map[string]*registryNode)},
		pending: make(map[string]chan callResult),
		subs:    make(map[string]*subscription),
		closed:  make(chan struct{}),
	}
}

// Register binds proc to the dot-segmented path. The last registration for
// a path wins.
func (p *Peer) Register(path string, proc Procedure) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.root
	for _, segment := range strings.Split(path, ".") {
		child, ok := node.children[segment]
		if !ok {
			child = &registryNode{children: make(map[string]*registryNode)}
			node.children[segment] = child
		}
		node = child
	}
	node.proc = &proc
}

func (p *Peer) resolve(path string) *Procedure {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.root
	for _, segment := range strings.Split(path, ".") {
		child, ok := node.children[segment]
		if !ok {
			return nil
		}
		node = child
	}
	return node.proc
}

// Call sends a request and blocks until the matching response or error
// arrives, the fixed timeout elapses, ctx is done, or the channel closes.
// A close rejects the call immediately; it is never retried here.
func (p *Peer) Call(ctx context.Context, path string, input interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to encode input: %w", err)
	}

	id := uuid.NewString()
	ch := make(chan callResult, 1)

	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.send(&Envelope{Type: TypeRequest, ID: id, Path: path, Data: data}); err != nil {
		p.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.data, res.err
	case <-timer.C:
		p.dropPending(id)
		return nil, ErrTimeout
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		p.dropPending(id)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget message; no response will ever arrive.
func (p *Peer) Notify(path string, input interface{}) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("rpc: failed to encode input: %w", err)
	}
	return p.send(&Envelope{Type: TypeNotification, Path: path, Data: data})
}

// Subscribe starts a server-produced sequence. onData runs once per
// stream-data item until stream-end or a remote error tears the
// subscription down. The returned function cancels the local subscription.
func (p *Peer) Subscribe(path string, input interface{}, onData func(json.RawMessage)) (func(), error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to encode input: %w", err)
	}

	id := uuid.NewString()

	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	p.subs[id] = &subscription{onData: onData}
	p.mu.Unlock()

	if err := p.send(&Envelope{Type: TypeRequest, ID: id, Path: path, Data: data}); err != nil {
		p.dropSub(id)
		return nil, err
	}

	return func() { p.dropSub(id) }, nil
}

func (p *Peer) dropPending(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Peer) dropSub(id string) {
	p.mu.Lock()
	delete(p.subs, id)
	p.mu.Unlock()
}

// HandleMessage dispatches one decoded wire payload. Malformed payloads are
// dropped and logged; they never produce a response.
func (p *Peer) HandleMessage(ctx context.Context, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("dropping malformed rpc payload", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeRequest:
		p.handleRequest(ctx, &env)
	case TypeNotification:
		p.handleNotification(ctx, &env)
	case TypeResponse:
		p.resolvePending(env.ID, callResult{data: env.Data})
	case TypeError:
		p.handleError(&env)
	case TypeStreamData:
		p.handleStreamData(&env)
	case TypeStreamEnd:
		p.dropSub(env.ID)
	case TypePing:
		if err := p.send(&Envelope{Type: TypePong}); err != nil {
			p.logger.Warn("failed to answer ping", zap.Error(err))
		}
	case TypePong:
		// Passive: the channel's own close is the only liveness signal.
	default:
		p.logger.Warn("dropping rpc payload with unknown type", zap.String("type", string(env.Type)))
	}
}

func (p *Peer) handleRequest(ctx context.Context, env *Envelope) {
	proc := p.resolve(env.Path)
	if proc == nil || (proc.Handle == nil && proc.Stream == nil) {
		p.sendError(env.ID, CodeNotFound, fmt.Sprintf("no procedure at %q", env.Path))
		return
	}
	if proc.Validate != nil {
		if err := proc.Validate(env.Data); err != nil {
			p.sendError(env.ID, CodeInvalidInput, err.Error())
			return
		}
	}

	if proc.Stream != nil {
		go p.runStream(ctx, env, proc)
		return
	}

	output, err := p.invoke(ctx, proc, env.Data)
	if err != nil {
		// Message only; internals never cross the wire.
		p.sendError(env.ID, CodeInternal, err.Error())
		return
	}
	data, err := json.Marshal(output)
	if err != nil {
		p.sendError(env.ID, CodeInternal, "failed to encode response")
		return
	}
	if err := p.send(&Envelope{Type: TypeResponse, ID: env.ID, Data: data}); err != nil {
		p.logger.Warn("failed to send response", zap.String("path", env.Path), zap.Error(err))
	}
}

func (p *Peer) handleNotification(ctx context.Context, env *Envelope) {
	proc := p.resolve(env.Path)
	if proc == nil || proc.Handle == nil {
		p.logger.Warn("notification for unknown path", zap.String("path", env.Path))
		return
	}
	if proc.Validate != nil {
		if err := proc.Validate(env.Data); err != nil {
			p.logger.Warn("dropping invalid notification", zap.String("path", env.Path), zap.Error(err))
			return
		}
	}
	if _, err := p.invoke(ctx, proc, env.Data); err != nil {
		p.logger.Warn("notification handler failed", zap.String("path", env.Path), zap.Error(err))
	}
}

// invoke runs a handler with panic containment so a broken procedure can
// never take the transport down.
func (p *Peer) invoke(ctx context.Context, proc *Procedure, input json.RawMessage) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked", zap.Any("panic", r))
			err = errors.New("internal handler failure")
		}
	}()
	return proc.Handle(ctx, input)
}

func (p *Peer) runStream(ctx context.Context, env *Envelope, proc *Procedure) {
	send := func(item interface{}) error {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("rpc: failed to encode stream item: %w", err)
		}
		return p.send(&Envelope{Type: TypeStreamData, ID: env.ID, Data: data})
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("stream handler panicked", zap.Any("panic", r))
				err = errors.New("internal handler failure")
			}
		}()
		return proc.Stream(ctx, env.Data, send)
	}()

	if err != nil {
		p.sendError(env.ID, CodeInternal, err.Error())
		return
	}
	if err := p.send(&Envelope{Type: TypeStreamEnd, ID: env.ID}); err != nil {
		p.logger.Warn("failed to end stream", zap.String("path", env.Path), zap.Error(err))
	}
}

func (p *Peer) handleError(env *Envelope) {
	callErr := &CallError{Code: env.Code, Message: env.Message}
	if p.resolvePending(env.ID, callResult{err: callErr}) {
		return
	}
	p.mu.Lock()
	_, isSub := p.subs[env.ID]
	delete(p.subs, env.ID)
	p.mu.Unlock()
	if isSub {
		p.logger.Warn("subscription torn down by remote error", zap.String("id", env.ID), zap.String("message", env.Message))
		return
	}
	p.logger.Warn("error for unknown correlation id", zap.String("id", env.ID))
}

func (p *Peer) handleStreamData(env *Envelope) {
	p.mu.Lock()
	sub := p.subs[env.ID]
	p.mu.Unlock()
	if sub == nil {
		p.logger.Warn("stream data for unknown subscription", zap.String("id", env.ID))
		return
	}
	sub.onData(env.Data)
}

func (p *Peer) resolvePending(id string, res callResult) bool {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

func (p *Peer) send(env *Envelope) error {
	frame, err := WrapEnvelope(env)
	if err != nil {
		return err
	}
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	return p.conn.WriteMessage(frame)
}

func (p *Peer) sendError(id, code, message string) {
	if err := p.send(&Envelope{Type: TypeError, ID: id, Code: code, Message: message}); err != nil {
		p.logger.Warn("failed to send error envelope", zap.String("id", id), zap.Error(err))
	}
}

// Heartbeat emits protocol-level pings every interval until ctx is done or
// the peer closes. The long-lived side runs this; pongs are answered
// passively on the other end.
func (p *Peer) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.send(&Envelope{Type: TypePing}); err != nil {
				return
			}
		case <-p.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ReadLoop pumps inbound messages until the channel fails, then closes the
// peer. The returned error is the read failure that ended the loop.
func (p *Peer) ReadLoop(ctx context.Context) error {
	for {
		raw, err := p.conn.ReadMessage()
		if err != nil {
			p.Close()
			return err
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			p.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if frame.Type != FrameTypeRPC {
			p.logger.Warn("dropping non-rpc frame on rpc-only loop", zap.String("type", frame.Type))
			continue
		}
		p.HandleMessage(ctx, frame.Payload)
	}
}

// Close tears the peer down: every pending call is rejected immediately and
// all subscription state is dropped. Safe to call more than once.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)

		p.mu.Lock()
		pending := p.pending
		p.pending = make(map[string]chan callResult)
		p.subs = make(map[string]*subscription)
		p.mu.Unlock()

		for _, ch := range pending {
			ch <- callResult{err: ErrClosed}
		}
		if err := p.conn.Close(); err != nil {
			p.logger.Debug("close failed", zap.Error(err))
		}
	})
}

// Closed reports whether the peer has been torn down.
func (p *Peer) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}
