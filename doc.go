// Package realtime provides the bidirectional, room-addressable event
// transport used by the multiplayer game platform: a WebSocket server that
// manages many authenticated sessions, and a client that manages one
// resilient connection.
//
// # Architecture
//
// Every message on the wire is a JSON envelope with an event name, an ordered
// argument list and an optional correlation id:
//
//	{"event":"joinGame","data":["room-42"],"ackId":7}
//
// Handlers are registered per event name on each session. A frame that
// carries a correlation id is either a request expecting a reply (non-empty
// event) or the reply itself (empty event, same ackId), which turns the
// fire-and-forget transport into request/response where the caller asks
// for it.
//
// # Quick start
//
//	import (
//	    "github.com/avalongame/realtime"
//	    "github.com/avalongame/realtime/ws"
//	)
//
//	srv := ws.New(ws.NewConfig(":8080", verifyToken))
//	srv.OnConnection(func(sess realtime.Session) {
//	    sess.On("joinGame", func(ctx context.Context, s realtime.Session, args realtime.Args, reply realtime.ReplyFunc) {
//	        var room string
//	        if err := args.Decode(0, &room); err != nil {
//	            return
//	        }
//	        s.Join(room)
//	        if reply != nil {
//	            reply(map[string]bool{"ok": true})
//	        }
//	    })
//	})
//	srv.Start(ctx)
//
// On the client side:
//
//	cli := ws.Dial(ws.NewClientConfig("ws://localhost:8080/ws", tokenProvider))
//	cli.Connect(ctx)
//	resp, err := cli.EmitWithAck(ctx, "joinGame", "room-42")
//
// # Delivery model
//
// Delivery is best effort. Sending to a connection that is not ready drops
// the message silently; there is no persistence of undelivered messages and
// no ordering guarantee across different event names. The client buffers
// outbound messages while disconnected and flushes them in FIFO order after
// reconnecting, with capped exponential backoff and a bounded retry budget.
//
// Handshake authentication is optimistic: an invalid credential is logged and
// the connection proceeds anonymously, so events that do not require an
// identity keep working.
package realtime
