package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxAttempts = 10
	backoffFactor      = 1.5
)

// ErrReconnectExhausted is the terminal error surfaced once the reconnect
// attempt cap is exceeded.
var ErrReconnectExhausted = errors.New("rpc: reconnect attempts exhausted")

// ClientConfig tunes the connecting side of the transport.
type ClientConfig struct {
	URL         string
	CallTimeout time.Duration
	BaseDelay   time.Duration
	MaxAttempts int
}

// EventFunc receives one-way game events arriving outside the RPC protocol.
type EventFunc func(eventType string, raw json.RawMessage)

// Client is the connecting endpoint: it dials the room socket, runs a Peer
// over it and transparently reconnects with capped exponential backoff when
// the connection drops unexpectedly. Pending calls are rejected the instant
// the channel closes and are never reissued here; callers retry after the
// reconnect.
type Client struct {
	cfg     ClientConfig
	logger  *zap.Logger
	onEvent EventFunc
	dial    func(ctx context.Context) (Conn, error)
	rng     *rand.Rand

	mu       sync.Mutex
	peer     *Peer
	procs    map[string]Procedure
	attempts int
	closing  bool
	termErr  error

	done chan struct{}
}

func NewClient(cfg ClientConfig, onEvent EventFunc, logger *zap.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	c := &Client{
		cfg:     cfg,
		logger:  logger,
		onEvent: onEvent,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		procs:   make(map[string]Procedure),
		done:    make(chan struct{}),
	}
	c.dial = c.dialWebsocket
	return c
}

func (c *Client) dialWebsocket(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", c.cfg.URL, err)
	}
	return NewWebsocketConn(conn), nil
}

// Register binds proc for this client; registrations survive reconnects.
func (c *Client) Register(path string, proc Procedure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procs[path] = proc
	if c.peer != nil {
		c.peer.Register(path, proc)
	}
}

// Connect dials once and starts the read loop. Subsequent drops reconnect
// automatically until the attempt cap is hit.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(ctx, conn)
	return nil
}

func (c *Client) attach(ctx context.Context, conn Conn) {
	peer := NewPeer(conn, c.cfg.CallTimeout, c.logger)

	c.mu.Lock()
	c.peer = peer
	c.attempts = 0
	for path, proc := range c.procs {
		peer.Register(path, proc)
	}
	c.mu.Unlock()

	go c.readLoop(ctx, peer)
}

func (c *Client) readLoop(ctx context.Context, peer *Peer) {
	defer peer.Close()
	for {
		raw, err := peer.conn.ReadMessage()
		if err != nil {
			peer.Close()
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.logger.Info("connection lost", zap.Error(err))
				c.scheduleReconnect(ctx)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if frame.Type == FrameTypeRPC {
			peer.HandleMessage(ctx, frame.Payload)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(frame.Type, raw)
		}
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > c.cfg.MaxAttempts {
		c.terminate(ErrReconnectExhausted)
		return
	}

	delay := backoffDelay(c.cfg.BaseDelay, attempt-1, c.rng)
	c.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		c.terminate(ctx.Err())
		return
	case <-c.done:
		return
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		c.scheduleReconnect(ctx)
		return
	}

	c.logger.Info("reconnected", zap.Int("attempt", attempt))
	c.attach(ctx, conn)
}

func (c *Client) terminate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.termErr == nil {
		c.termErr = err
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// backoffDelay computes base × 1.5^attempt × jitter(0.9, 1.1).
func backoffDelay(base time.Duration, attempt int, rng *rand.Rand) time.Duration {
	jitter := 0.9 + rng.Float64()*0.2
	return time.Duration(float64(base) * math.Pow(backoffFactor, float64(attempt)) * jitter)
}

func (c *Client) currentPeer() (*Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.termErr != nil {
		return nil, c.termErr
	}
	if c.peer == nil || c.peer.Closed() {
		return nil, ErrClosed
	}
	return c.peer, nil
}

// Call issues a request over the current connection.
func (c *Client) Call(ctx context.Context, path string, input interface{}) (json.RawMessage, error) {
	peer, err := c.currentPeer()
	if err != nil {
		return nil, err
	}
	return peer.Call(ctx, path, input)
}

// Notify sends a fire-and-forget message over the current connection.
func (c *Client) Notify(path string, input interface{}) error {
	peer, err := c.currentPeer()
	if err != nil {
		return err
	}
	return peer.Notify(path, input)
}

// Subscribe opens a server-produced stream over the current connection.
func (c *Client) Subscribe(path string, input interface{}, onData func(json.RawMessage)) (func(), error) {
	peer, err := c.currentPeer()
	if err != nil {
		return nil, err
	}
	return peer.Subscribe(path, input, onData)
}

// SendEvent emits a one-way game event frame.
func (c *Client) SendEvent(event interface{}) error {
	peer, err := c.currentPeer()
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rpc: failed to encode event: %w", err)
	}
	return peer.conn.WriteMessage(data)
}

// Done closes once the client has terminally stopped; Err reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// Close shuts the client down explicitly. An explicit close never
// reconnects.
func (c *Client) Close() {
	c.mu.Lock()
	c.closing = true
	peer := c.peer
	c.mu.Unlock()
	if peer != nil {
		peer.Close()
	}
	c.terminate(nil)
}
