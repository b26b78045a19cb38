package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/internal/protocol"
)

// CheckOriginFn validates the origin of a WebSocket connection request.
// Return true to allow the connection.
type CheckOriginFn = func(r *http.Request) bool

// ServerConfig configures a Server. Zero values fall back to sensible
// defaults in New.
type ServerConfig struct {
	// Addr is the network address to listen on (e.g. ":8080").
	Addr string
	// Path is the WebSocket endpoint path. Defaults to "/ws".
	Path string
	// Verify maps the credential supplied at connect time to a subject id.
	// Nil disables authentication entirely; every connection is anonymous.
	Verify realtime.VerifyFunc
	// RateLimit bounds inbound frames per session. Nil uses the default.
	RateLimit *RateLimitConfig
	// CheckOrigin implements the CORS policy for the upgrade request.
	CheckOrigin CheckOriginFn
	// AckTimeout bounds EmitWithAck waits. Defaults to 30 seconds.
	AckTimeout time.Duration
	// Logger receives structured transport logs. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is the Prometheus registerer for transport metrics. Nil keeps
	// the instruments unregistered.
	Metrics prometheus.Registerer
}

// RateLimitConfig defines the per-session inbound rate limit.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a session may send per second.
	MessagesPerSecond rate.Limit
	// Burst defines the token bucket capacity.
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig allows 100 frames per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// DefaultAckTimeout bounds how long an EmitWithAck waits for the reply frame.
const DefaultAckTimeout = 30 * time.Second

// Server accepts WebSocket connections, performs the handshake and exposes
// broadcast and room-addressable emits to the application layer.
type Server struct {
	cfg      *ServerConfig
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	running  bool
	sessions map[string]*Session

	rooms *roomRegistry

	callbackMu   sync.RWMutex
	onConnection []func(realtime.Session)
	onDisconnect []func(realtime.Session)

	logger  *slog.Logger
	metrics *serverMetrics
}

var _ realtime.Server = (*Server)(nil)

// New creates a server for the given configuration. The configuration is
// copied; defaults are resolved on the copy, never written back to the
// caller's struct.
func New(cfg *ServerConfig) *Server {
	resolved := *cfg
	if resolved.Path == "" {
		resolved.Path = "/ws"
	}
	if resolved.RateLimit == nil {
		resolved.RateLimit = DefaultRateLimitConfig()
	}
	if resolved.AckTimeout <= 0 {
		resolved.AckTimeout = DefaultAckTimeout
	}
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}

	return &Server{
		cfg:      &resolved,
		sessions: make(map[string]*Session),
		rooms:    newRoomRegistry(),
		logger:   resolved.Logger,
		metrics:  newServerMetrics(resolved.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     resolved.CheckOrigin,
		},
	}
}

// Start begins listening for connections. It returns once the listener is up
// or with the startup error; the accept loop runs until Stop or ctx
// cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return realtime.ErrServerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.HandleUpgrade)

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the server down, closing every session.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Disconnect()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// OnConnection registers the callback fired with each newly opened session.
func (s *Server) OnConnection(fn func(realtime.Session)) {
	s.callbackMu.Lock()
	s.onConnection = append(s.onConnection, fn)
	s.callbackMu.Unlock()
}

// OnDisconnect registers the callback fired after a session closed.
func (s *Server) OnDisconnect(fn func(realtime.Session)) {
	s.callbackMu.Lock()
	s.onDisconnect = append(s.onDisconnect, fn)
	s.callbackMu.Unlock()
}

// HandleUpgrade upgrades an HTTP request to a session. It is exported so the
// endpoint can be mounted on an application-owned router instead of the
// built-in mux.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// Handshake: an invalid or missing credential downgrades to anonymous,
	// it never rejects the connection.
	subject := ""
	if token := r.URL.Query().Get("token"); token != "" && s.cfg.Verify != nil {
		subject, err = s.cfg.Verify(token)
		if err != nil {
			s.metrics.authFailures.Inc()
			s.logger.Warn("handshake credential rejected, continuing anonymously", "error", err)
			subject = ""
		}
	}

	sess := newSession(s, conn, r.RemoteAddr, subject)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.metrics.connectionsTotal.Inc()
	s.metrics.connectionsOpen.Inc()

	go s.serveSession(sess)
}

// serveSession runs the read loop for one session; it owns the session until
// the connection closes.
func (s *Server) serveSession(sess *Session) {
	defer s.teardown(sess)

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Synthetic connect notification: handlers registered here are in place
	// before the first frame is read.
	s.callbackMu.RLock()
	callbacks := append([]func(realtime.Session){}, s.onConnection...)
	s.callbackMu.RUnlock()
	for _, fn := range callbacks {
		fn(sess)
	}

	sess.logger.Info("session opened", "subject", sess.subject, "remote", sess.remoteAddr)

	for {
		_, frame, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				sess.logger.Warn("read error", "error", err)
			}
			return
		}

		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.metrics.framesIn.Inc()

		if !sess.allowInbound() {
			sess.logger.Warn("rate limit exceeded, closing session")
			sess.closeWithCode(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			// Malformed frames are dropped; the connection stays open.
			s.metrics.framesMalformed.Inc()
			sess.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		sess.dispatch(env)
	}
}

// teardown removes a closed session. Room removal and pending-ack abandonment
// happen atomically with the removal from the connection table, so a send in
// flight can never observe a half-torn-down session.
func (s *Server) teardown(sess *Session) {
	s.mu.Lock()
	_, known := s.sessions[sess.id]
	delete(s.sessions, sess.id)
	s.rooms.LeaveAll(sess.id)
	s.mu.Unlock()

	sess.acks.Reset()
	sess.closeWithCode(websocket.CloseNormalClosure, "")

	if !known {
		return
	}
	s.metrics.connectionsOpen.Dec()
	sess.logger.Info("session closed")

	s.callbackMu.RLock()
	callbacks := append([]func(realtime.Session){}, s.onDisconnect...)
	s.callbackMu.RUnlock()
	for _, fn := range callbacks {
		fn(sess)
	}
}

// snapshot returns the open sessions at the instant of the call.
func (s *Server) snapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// EmitToAll sends an event to every currently open connection.
func (s *Server) EmitToAll(event string, args ...any) error {
	if realtime.IsReservedEvent(event) {
		return realtime.ErrReservedEvent
	}

	frame, err := protocol.EncodeArgs(event, nil, args...)
	if err != nil {
		return err
	}

	for _, sess := range s.snapshot() {
		sess.trySend(frame)
	}
	return nil
}

// To returns an emitter addressing the named room.
func (s *Server) To(room string) realtime.RoomEmitter {
	return &roomEmitter{server: s, room: room}
}

// EmitToRoom sends an event to every current member of the room.
func (s *Server) EmitToRoom(room, event string, args ...any) error {
	return s.To(room).Emit(event, args...)
}

// EmitToConnection sends to a single connection. Addressing an unknown or
// closed connection is a silent no-op.
func (s *Server) EmitToConnection(connID, event string, args ...any) error {
	if realtime.IsReservedEvent(event) {
		return realtime.ErrReservedEvent
	}

	s.mu.RLock()
	sess, ok := s.sessions[connID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	frame, err := protocol.EncodeArgs(event, nil, args...)
	if err != nil {
		return err
	}
	sess.trySend(frame)
	return nil
}

// Session looks a live session up by connection id.
func (s *Server) Session(connID string) (realtime.Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[connID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess, true
}

// roomEmitter fans events out to the members of one room as registered at
// the instant of the Emit call.
type roomEmitter struct {
	server *Server
	room   string
}

func (r *roomEmitter) Emit(event string, args ...any) error {
	if realtime.IsReservedEvent(event) {
		return realtime.ErrReservedEvent
	}

	frame, err := protocol.EncodeArgs(event, nil, args...)
	if err != nil {
		return err
	}

	for _, id := range r.server.rooms.Members(r.room) {
		r.server.mu.RLock()
		sess, ok := r.server.sessions[id]
		r.server.mu.RUnlock()
		if ok {
			sess.trySend(frame)
		}
	}
	return nil
}

func (r *roomEmitter) Members() []string {
	return r.server.rooms.Members(r.room)
}
