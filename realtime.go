package realtime

import (
	"context"
	"encoding/json"
)

// Args is the ordered argument list carried by an event. Each element is an
// independently serializable JSON value; handlers decode the positions they
// care about and ignore the rest.
type Args []json.RawMessage

// Decode unmarshals the argument at position i into v. It returns
// ErrArgOutOfRange when the envelope carried fewer arguments.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return ErrArgOutOfRange
	}
	return json.Unmarshal(a[i], v)
}

// MarshalArgs encodes a list of Go values into wire arguments.
func MarshalArgs(values ...any) (Args, error) {
	args := make(Args, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		args = append(args, data)
	}
	return args, nil
}

// Reserved event names. They signal transport lifecycle to the application
// layer on both sides and are never placed on the wire as application events.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// IsReservedEvent reports whether name is one of the local-only lifecycle events.
func IsReservedEvent(name string) bool {
	return name == EventConnect || name == EventDisconnect
}

// VerifyFunc maps an opaque credential supplied at connect time to a subject
// identifier. It is provided by the application layer; the transport never
// interprets the credential itself. A verification failure downgrades the
// connection to anonymous instead of rejecting it, so unauthenticated events
// keep working.
type VerifyFunc func(token string) (subject string, err error)

// ReplyFunc answers a request that arrived with a correlation id. It is nil
// when the sender did not ask for an acknowledgment.
type ReplyFunc func(args ...any) error

// HandlerFunc processes an inbound event on a server session. reply is non-nil
// only when the sender expects an acknowledgment; calling it more than once is
// a no-op after the first delivery.
type HandlerFunc func(ctx context.Context, sess Session, args Args, reply ReplyFunc)

// Listener receives an inbound event on the client side. Lifecycle listeners
// registered for EventConnect and EventDisconnect are invoked with nil args.
type Listener func(args Args)

// Session is the server-side state owned by one accepted connection: its
// identity, room memberships, registered handlers and pending acknowledgments.
// A session is created when the handshake completes and destroyed when the
// underlying connection closes.
type Session interface {
	// ID returns the process-unique connection identifier.
	ID() string

	// Subject returns the identity bound at handshake time, or the empty
	// string for an anonymous connection.
	Subject() string

	// RemoteAddr returns the peer's network address.
	RemoteAddr() string

	// Context is cancelled when the connection closes.
	Context() context.Context

	// On registers the handler for an event name, replacing any previous one.
	On(event string, handler HandlerFunc)

	// Emit sends a fire-and-forget event to this connection. Delivery is best
	// effort: sending on a closed or congested connection drops the message.
	Emit(event string, args ...any) error

	// EmitWithAck sends an event carrying a correlation id and blocks until
	// the peer replies, the configured ack timeout elapses (ErrAckTimeout) or
	// ctx is done.
	EmitWithAck(ctx context.Context, event string, args ...any) (Args, error)

	// Join adds this connection to a named room. Joining twice is a no-op.
	Join(room string)

	// Leave removes this connection from a room it may or may not be in.
	Leave(room string)

	// Rooms returns a snapshot of the rooms this connection belongs to.
	Rooms() []string

	// Disconnect closes the connection from the server side.
	Disconnect()
}

// RoomEmitter addresses the current members of one room.
type RoomEmitter interface {
	// Emit fans the event out to every connection that is a member of the
	// room at the instant of the call.
	Emit(event string, args ...any) error

	// Members returns a snapshot of the member connection ids.
	Members() []string
}

// Server accepts WebSocket connections, performs the authenticated handshake
// and exposes room-addressable fan-out to the application layer.
type Server interface {
	// Start begins listening. It returns once the listener is up or with the
	// startup error; the accept loop keeps running until Stop is called or
	// ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts the server down, closing every session.
	Stop(ctx context.Context) error

	// OnConnection registers the callback fired with each newly opened
	// session. The application layer registers its per-session handlers here.
	OnConnection(fn func(Session))

	// OnDisconnect registers the callback fired after a session closed and
	// its rooms and pending acknowledgments were released.
	OnDisconnect(fn func(Session))

	// EmitToAll sends an event to every currently open connection.
	EmitToAll(event string, args ...any) error

	// To returns an emitter addressing the named room.
	To(room string) RoomEmitter

	// EmitToRoom is shorthand for To(room).Emit.
	EmitToRoom(room, event string, args ...any) error

	// EmitToConnection sends to a single connection; it is a silent no-op
	// when the connection is unknown or no longer open.
	EmitToConnection(connID, event string, args ...any) error

	// Session looks a live session up by connection id.
	Session(connID string) (Session, bool)
}

// Client is the dialing side: one logical session over a possibly-replaced
// underlying connection, with queue-while-disconnected and capped exponential
// backoff reconnection.
type Client interface {
	// Connect resolves the current credential and opens the transport. It
	// also resets an exhausted reconnect budget.
	Connect(ctx context.Context) error

	// On registers an event listener. EventConnect and EventDisconnect
	// listeners observe transport lifecycle.
	On(event string, l Listener)

	// Off removes a previously registered listener, or every listener of the
	// event when l is nil.
	Off(event string, l Listener)

	// Emit sends an event, queueing it in FIFO order while disconnected.
	Emit(event string, args ...any) error

	// EmitWithAck sends an event expecting a reply. The correlation id is
	// registered before the send is attempted, so a request queued while
	// disconnected still resolves after the reconnect flush.
	EmitWithAck(ctx context.Context, event string, args ...any) (Args, error)

	// UpdateAuthToken abandons pending acknowledgments, drops the current
	// transport and reconnects with a freshly resolved credential.
	UpdateAuthToken()

	// Connected reports whether the transport is currently open.
	Connected() bool

	// Disconnect closes the transport and disables automatic reconnection.
	Disconnect()
}
