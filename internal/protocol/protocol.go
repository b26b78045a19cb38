// Package protocol implements the JSON envelope codec: the only code that
// knows what a frame looks like on the wire.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/avalongame/realtime"
)

// maxFrameSize bounds a single text frame. Game payloads are small; anything
// near this limit is a broken or hostile peer.
const maxFrameSize = 1 << 20 // 1MB

// Envelope is the wire message: an event name, an ordered argument list and
// an optional correlation id. A reply envelope has an empty event and reuses
// the request's ackId.
type Envelope struct {
	Event string        `json:"event"`
	Data  realtime.Args `json:"data,omitempty"`
	AckID *uint64       `json:"ackId,omitempty"`
}

// IsReply reports whether the envelope answers a previous request.
func (e Envelope) IsReply() bool {
	return e.Event == "" && e.AckID != nil
}

// Encode serializes an envelope to a text frame.
func Encode(event string, data realtime.Args, ackID *uint64) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data, AckID: ackID})
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	if len(frame) > maxFrameSize {
		return nil, realtime.ErrFrameTooLarge
	}
	return frame, nil
}

// EncodeArgs marshals Go values and encodes them in one step.
func EncodeArgs(event string, ackID *uint64, values ...any) ([]byte, error) {
	args, err := realtime.MarshalArgs(values...)
	if err != nil {
		return nil, errors.Wrap(err, "encode args")
	}
	return Encode(event, args, ackID)
}

// Decode parses a text frame into an envelope. It fails with
// realtime.ErrMalformedFrame when the frame is not parseable or names no
// event on a non-reply frame.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) > maxFrameSize {
		return Envelope{}, errors.Wrap(realtime.ErrFrameTooLarge, "decode")
	}

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, errors.Wrapf(realtime.ErrMalformedFrame, "decode: %v", err)
	}

	if env.Event == "" && env.AckID == nil {
		return Envelope{}, errors.Wrap(realtime.ErrMalformedFrame, "missing event")
	}

	return env, nil
}
