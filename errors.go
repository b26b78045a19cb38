package realtime

import "github.com/pkg/errors"

// Transport error taxonomy. None of these is fatal to the owning process; the
// worst case is a dropped message or a client that needs an explicit Connect.
var (
	// ErrMalformedFrame marks a frame that is not a well-formed envelope. The
	// frame is dropped and the connection stays open.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrAckTimeout is returned by EmitWithAck when no correlated reply
	// arrived within the ack timeout.
	ErrAckTimeout = errors.New("acknowledgment timed out")

	// ErrReconnectExhausted is reported when the client has used up its
	// automatic reconnection budget. Only an explicit Connect resumes.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrReservedEvent is returned when an application emit names one of the
	// local-only lifecycle events.
	ErrReservedEvent = errors.New("reserved event name")

	// ErrServerAlreadyRunning is returned by Start on a running server.
	ErrServerAlreadyRunning = errors.New("server already running")

	// ErrFrameTooLarge is returned when encoding a frame above the limit.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrArgOutOfRange is returned when decoding an argument position the
	// envelope did not carry.
	ErrArgOutOfRange = errors.New("argument index out of range")
)
