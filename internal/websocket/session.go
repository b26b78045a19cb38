package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/internal/ack"
	"github.com/avalongame/realtime/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize     = 1 << 20
	sendBufferSize     = 256
	dispatchBufferSize = 256
)

// Session is the server-side state of one accepted connection. It owns the
// socket, the identity derived from the handshake, the per-session handler
// table and the pending acknowledgments. Room membership lives in the
// server's registry; the session only carries its connection id into it.
type Session struct {
	id         string
	subject    string
	remoteAddr string
	conn       *websocket.Conn
	server     *Server

	ctx    context.Context
	cancel context.CancelFunc

	sendCh     chan []byte
	dispatchCh chan protocol.Envelope
	mu         sync.RWMutex
	closed     bool

	handlersMu sync.RWMutex
	handlers   map[string]realtime.HandlerFunc

	acks       *ack.Correlator
	ackTimeout time.Duration

	limiter *rate.Limiter
	logger  *slog.Logger
}

func newSession(server *Server, conn *websocket.Conn, remoteAddr, subject string) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if cfg := server.cfg.RateLimit; cfg != nil && cfg.Enabled {
		limiter = rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
	}

	s := &Session{
		id:         uuid.New().String(),
		subject:    subject,
		remoteAddr: remoteAddr,
		conn:       conn,
		server:     server,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, sendBufferSize),
		dispatchCh: make(chan protocol.Envelope, dispatchBufferSize),
		handlers:   make(map[string]realtime.HandlerFunc),
		acks:       ack.New(),
		ackTimeout: server.cfg.AckTimeout,
		limiter:    limiter,
	}
	s.logger = server.logger.With("session", s.id)

	go s.writePump()
	go s.dispatchLoop()

	return s
}

// ID returns the process-unique connection identifier.
func (s *Session) ID() string { return s.id }

// Subject returns the identity bound at handshake time, or "" when anonymous.
func (s *Session) Subject() string { return s.subject }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Context is cancelled when the connection closes.
func (s *Session) Context() context.Context { return s.ctx }

// On registers the handler for an event name, replacing any previous one.
func (s *Session) On(event string, handler realtime.HandlerFunc) {
	s.handlersMu.Lock()
	s.handlers[event] = handler
	s.handlersMu.Unlock()
}

// Emit sends a fire-and-forget event to this connection.
func (s *Session) Emit(event string, args ...any) error {
	if realtime.IsReservedEvent(event) {
		return realtime.ErrReservedEvent
	}

	frame, err := protocol.EncodeArgs(event, nil, args...)
	if err != nil {
		return err
	}
	s.trySend(frame)
	return nil
}

// EmitWithAck sends an event carrying a fresh correlation id and blocks until
// the client replies, the ack timeout elapses or ctx is done. Disconnection
// does not resolve the call early; it runs into the original timeout.
func (s *Session) EmitWithAck(ctx context.Context, event string, args ...any) (realtime.Args, error) {
	if realtime.IsReservedEvent(event) {
		return nil, realtime.ErrReservedEvent
	}

	id, replyCh := s.acks.Register()
	frame, err := protocol.EncodeArgs(event, &id, args...)
	if err != nil {
		s.acks.Forget(id)
		return nil, err
	}
	s.trySend(frame)

	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()

	select {
	case data := <-replyCh:
		return data, nil
	case <-timer.C:
		s.acks.Forget(id)
		// A reply may have won the race against the timer.
		select {
		case data := <-replyCh:
			return data, nil
		default:
		}
		return nil, realtime.ErrAckTimeout
	case <-ctx.Done():
		s.acks.Forget(id)
		return nil, ctx.Err()
	}
}

// Join adds this connection to a named room.
func (s *Session) Join(room string) {
	s.server.rooms.Join(s.id, room)
}

// Leave removes this connection from a room.
func (s *Session) Leave(room string) {
	s.server.rooms.Leave(s.id, room)
}

// Rooms returns a snapshot of the rooms this connection belongs to.
func (s *Session) Rooms() []string {
	return s.server.rooms.Rooms(s.id)
}

// Disconnect closes the connection from the server side.
func (s *Session) Disconnect() {
	s.closeWithCode(websocket.CloseNormalClosure, "")
}

// dispatch routes one decoded envelope: correlated replies resolve a pending
// acknowledgment and are never dispatched as events; requests queue for the
// session's dispatch loop, which runs handlers strictly in arrival order.
func (s *Session) dispatch(env protocol.Envelope) {
	if env.IsReply() {
		if !s.acks.Resolve(*env.AckID, env.Data) {
			s.logger.Debug("discarding stray reply", "ackId", *env.AckID)
		}
		return
	}

	// Lifecycle events are local-only and never accepted off the wire.
	if realtime.IsReservedEvent(env.Event) {
		s.logger.Warn("dropping reserved event from wire", "event", env.Event)
		return
	}

	select {
	case s.dispatchCh <- env:
	case <-s.ctx.Done():
	}
}

// dispatchLoop is the single goroutine that runs this session's handlers, one
// frame at a time in arrival order. Replies resolve on the read loop, not
// here, so a handler calling EmitWithAck back to the same client does not
// deadlock the queue.
func (s *Session) dispatchLoop() {
	for {
		select {
		case env := <-s.dispatchCh:
			s.runHandler(env)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) runHandler(env protocol.Envelope) {
	s.handlersMu.RLock()
	handler := s.handlers[env.Event]
	s.handlersMu.RUnlock()
	if handler == nil {
		// Unknown events are silently ignored.
		return
	}

	var reply realtime.ReplyFunc
	if env.AckID != nil {
		id := *env.AckID
		var once sync.Once
		reply = func(args ...any) error {
			var err error
			once.Do(func() {
				err = s.sendReply(id, args...)
			})
			return err
		}
	}

	handler(s.ctx, s, env.Data, reply)
}

func (s *Session) sendReply(id uint64, args ...any) error {
	frame, err := protocol.EncodeArgs("", &id, args...)
	if err != nil {
		return err
	}
	s.trySend(frame)
	return nil
}

// trySend queues a frame for delivery. Sending on a closed or congested
// connection drops the frame; delivery is best effort and the caller is never
// told.
func (s *Session) trySend(frame []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.server.metrics.framesDropped.Inc()
		return
	}

	select {
	case s.sendCh <- frame:
		s.server.metrics.framesOut.Inc()
	default:
		s.server.metrics.framesDropped.Inc()
		s.logger.Warn("send buffer full, dropping frame")
	}
}

// allowInbound applies the per-session inbound rate limit.
func (s *Session) allowInbound() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

func (s *Session) closeWithCode(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage, message, deadline)

	close(s.sendCh)
	s.conn.Close()
}

// writePump pumps frames from the send channel to the connection and keeps
// it alive with periodic pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}
