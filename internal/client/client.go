// Package client implements the dialing side of the transport: one logical
// session over a possibly-replaced underlying connection, with
// queue-while-disconnected, flush-on-reconnect and capped exponential
// backoff.
package client

import (
	"context"
	"log/slog"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/internal/ack"
	"github.com/avalongame/realtime/internal/protocol"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// TokenProvider returns the current credential. It is called at the start of
// every connect attempt, so a credential refreshed in between is picked up by
// the next reconnect without restarting the client.
type TokenProvider func() (string, error)

// Config configures a Client. Zero values fall back to defaults in New.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://host:8080/ws".
	URL string
	// Token resolves the credential attached to the connect parameters.
	// Nil connects anonymously.
	Token TokenProvider
	// AckTimeout bounds EmitWithAck waits. Defaults to 30 seconds.
	AckTimeout time.Duration
	// MaxReconnectAttempts bounds automatic reconnection. Defaults to 5.
	MaxReconnectAttempts int
	// BaseReconnectDelay is the backoff unit. Defaults to 1 second.
	BaseReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff. Defaults to 30 seconds.
	MaxReconnectDelay time.Duration
	// HandshakeTimeout bounds the WebSocket dial. Defaults to 5 seconds.
	HandshakeTimeout time.Duration
	// Logger receives structured transport logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the resilient client transport.
type Client struct {
	cfg *Config

	mu         sync.Mutex
	conn       *websocket.Conn
	epoch      int
	connected  bool
	connecting bool
	closed     bool
	attempts   int
	retryTimer *time.Timer
	queue      [][]byte

	listenersMu sync.RWMutex
	listeners   map[string][]realtime.Listener

	acks   *ack.Correlator
	logger *slog.Logger
}

var _ realtime.Client = (*Client)(nil)

// New creates a client for the given configuration. The configuration is
// copied; defaults are resolved on the copy, never written back to the
// caller's struct. The client is idle until Connect is called.
func New(cfg *Config) *Client {
	resolved := *cfg
	if resolved.AckTimeout <= 0 {
		resolved.AckTimeout = 30 * time.Second
	}
	if resolved.MaxReconnectAttempts <= 0 {
		resolved.MaxReconnectAttempts = 5
	}
	if resolved.BaseReconnectDelay <= 0 {
		resolved.BaseReconnectDelay = time.Second
	}
	if resolved.MaxReconnectDelay <= 0 {
		resolved.MaxReconnectDelay = 30 * time.Second
	}
	if resolved.HandshakeTimeout <= 0 {
		resolved.HandshakeTimeout = 5 * time.Second
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	return &Client{
		cfg:       &resolved,
		listeners: make(map[string][]realtime.Listener),
		acks:      ack.New(),
		logger:    resolved.Logger,
	}
}

// Connect resolves the current credential and opens the transport. It also
// clears a manual disconnect and resets an exhausted reconnect budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	c.attempts = 0
	c.cancelRetryLocked()
	c.mu.Unlock()

	return c.connect(ctx)
}

// Connected reports whether the transport is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// On registers an event listener. EventConnect and EventDisconnect listeners
// observe transport lifecycle and are invoked with nil args.
func (c *Client) On(event string, l realtime.Listener) {
	c.listenersMu.Lock()
	c.listeners[event] = append(c.listeners[event], l)
	c.listenersMu.Unlock()
}

// Off removes a previously registered listener, or every listener of the
// event when l is nil.
func (c *Client) Off(event string, l realtime.Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if l == nil {
		delete(c.listeners, event)
		return
	}

	target := reflect.ValueOf(l).Pointer()
	kept := c.listeners[event][:0]
	for _, registered := range c.listeners[event] {
		if reflect.ValueOf(registered).Pointer() != target {
			kept = append(kept, registered)
		}
	}
	if len(kept) == 0 {
		delete(c.listeners, event)
		return
	}
	c.listeners[event] = kept
}

// Emit sends a fire-and-forget event, queueing it in FIFO order while
// disconnected.
func (c *Client) Emit(event string, args ...any) error {
	if realtime.IsReservedEvent(event) {
		return realtime.ErrReservedEvent
	}

	frame, err := protocol.EncodeArgs(event, nil, args...)
	if err != nil {
		return err
	}
	c.sendOrQueue(frame)
	return nil
}

// EmitWithAck sends an event expecting a reply and blocks until the reply
// arrives, the ack timeout elapses or ctx is done. The correlation id is
// registered before the send is attempted, so a request queued while
// disconnected still resolves after the reconnect flush.
func (c *Client) EmitWithAck(ctx context.Context, event string, args ...any) (realtime.Args, error) {
	if realtime.IsReservedEvent(event) {
		return nil, realtime.ErrReservedEvent
	}

	id, replyCh := c.acks.Register()
	frame, err := protocol.EncodeArgs(event, &id, args...)
	if err != nil {
		c.acks.Forget(id)
		return nil, err
	}
	c.sendOrQueue(frame)

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case data := <-replyCh:
		return data, nil
	case <-timer.C:
		c.acks.Forget(id)
		select {
		case data := <-replyCh:
			return data, nil
		default:
		}
		return nil, realtime.ErrAckTimeout
	case <-ctx.Done():
		c.acks.Forget(id)
		return nil, ctx.Err()
	}
}

// UpdateAuthToken abandons every pending acknowledgment, force-disconnects
// the current transport and reconnects shortly after with a freshly resolved
// credential. In-flight EmitWithAck callers run into their own timeouts; the
// loss is expected.
func (c *Client) UpdateAuthToken() {
	c.acks.Reset()

	c.mu.Lock()
	c.cancelRetryLocked()
	conn := c.detachConnLocked()
	wasConnected := conn != nil
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		c.fire(realtime.EventDisconnect, nil)
	}

	time.AfterFunc(100*time.Millisecond, func() {
		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("reconnect after credential change failed", "error", err)
		}
	})
}

// Disconnect closes the transport and disables automatic reconnection until
// the next explicit Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.cancelRetryLocked()
	conn := c.detachConnLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		c.fire(realtime.EventDisconnect, nil)
	}
}

// connect performs one attempt: resolve the credential, dial, flush the
// queue. Called from Connect, the retry timer and the credential-change path.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	// The credential is re-resolved on every attempt, never cached from the
	// first one.
	token := ""
	if c.cfg.Token != nil {
		var err error
		if token, err = c.cfg.Token(); err != nil {
			c.logger.Warn("credential resolution failed, connecting anonymously", "error", err)
			token = ""
		}
	}

	target, err := dialURL(c.cfg.URL, token)
	if err != nil {
		// A malformed endpoint never becomes dialable; fail fast instead of
		// burning the reconnect budget on it.
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		return err
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.scheduleRetryLocked()
		c.mu.Unlock()
		return errors.Wrap(err, "dial")
	}
	if c.closed {
		// Disconnect raced the dial.
		c.mu.Unlock()
		conn.Close()
		return nil
	}

	c.epoch++
	epoch := c.epoch
	c.conn = conn
	c.connected = true
	c.attempts = 0

	// Queued frames go out strictly before any newly issued send; Emit
	// callers are waiting on the same lock.
	flushErr := c.flushLocked(conn)
	c.mu.Unlock()

	if flushErr != nil {
		// The readLoop below notices the closed connection and recycles it.
		conn.Close()
	}

	c.fire(realtime.EventConnect, nil)
	go c.readLoop(conn, epoch)

	return nil
}

func (c *Client) flushLocked(conn *websocket.Conn) error {
	for i, frame := range c.queue {
		if err := writeFrame(conn, frame); err != nil {
			c.queue = c.queue[i:]
			return err
		}
	}
	c.queue = nil
	return nil
}

// sendOrQueue transmits immediately when connected and appends to the FIFO
// queue otherwise. A failed write re-queues the frame and recycles the
// connection.
func (c *Client) sendOrQueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil {
		if err := writeFrame(c.conn, frame); err == nil {
			return
		}
		c.conn.Close()
	}
	c.queue = append(c.queue, frame)
}

// readLoop processes inbound frames strictly in arrival order for one
// underlying connection.
func (c *Client) readLoop(conn *websocket.Conn, epoch int) {
	defer c.connLost(conn, epoch)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	defaultPing := conn.PingHandler()
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return defaultPing(appData)
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env protocol.Envelope) {
	// A correlated reply resolves its pending request and is never
	// additionally dispatched as a named event.
	if env.IsReply() {
		if !c.acks.Resolve(*env.AckID, env.Data) {
			c.logger.Debug("discarding stray reply", "ackId", *env.AckID)
		}
		return
	}

	if realtime.IsReservedEvent(env.Event) {
		c.logger.Warn("dropping reserved event from wire", "event", env.Event)
		return
	}

	c.fire(env.Event, env.Data)
}

// connLost handles an unexpected closure of the current connection. Exits of
// connections already replaced by a reconnect or detached by Disconnect are
// stale and ignored.
func (c *Client) connLost(conn *websocket.Conn, epoch int) {
	conn.Close()

	c.mu.Lock()
	if c.epoch != epoch || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.scheduleRetryLocked()
	c.mu.Unlock()

	c.fire(realtime.EventDisconnect, nil)
}

// scheduleRetryLocked arms the single reconnect timer, incrementing the
// attempt counter before the attempt. Once the budget is exhausted no further
// automatic attempt occurs; only an explicit Connect resumes.
func (c *Client) scheduleRetryLocked() {
	if c.closed || c.retryTimer != nil {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Error("automatic reconnection stopped",
			"error", realtime.ErrReconnectExhausted,
			"attempts", c.attempts)
		return
	}

	c.attempts++
	delay := backoffDelay(c.attempts, c.cfg.BaseReconnectDelay, c.cfg.MaxReconnectDelay)
	c.logger.Info("scheduling reconnect", "attempt", c.attempts, "delay", delay)

	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retryTimer = nil
		c.mu.Unlock()

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("reconnect attempt failed", "error", err)
		}
	})
}

func (c *Client) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) detachConnLocked() *websocket.Conn {
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.epoch++
	return conn
}

// fire invokes the listeners registered for event in registration order.
func (c *Client) fire(event string, args realtime.Args) {
	c.listenersMu.RLock()
	listeners := append([]realtime.Listener{}, c.listeners[event]...)
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		l(args)
	}
}

// backoffDelay returns min(base * 2^attempt, max).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

func writeFrame(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func dialURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse url")
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
