package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/ws"
)

func TestEchoRoundTrip(t *testing.T) {
	t.Parallel()

	server := startServer(t, ":18080", nil)
	server.OnConnection(func(sess realtime.Session) {
		sess.On("echo", func(_ context.Context, _ realtime.Session, args realtime.Args, reply realtime.ReplyFunc) {
			var msg string
			if err := args.Decode(0, &msg); err != nil {
				return
			}
			if reply != nil {
				reply(msg)
			}
		})
	})

	cli := dialClient(t, ":18080", nil)

	data, err := cli.EmitWithAck(context.Background(), "echo", "Hello!")
	if err != nil {
		t.Fatalf("echo failed: %v", err)
	}

	var echoed string
	if err := data.Decode(0, &echoed); err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if echoed != "Hello!" {
		t.Errorf("got %q, want %q", echoed, "Hello!")
	}
}

func TestAuthenticatedRoomBroadcast(t *testing.T) {
	t.Parallel()

	verify := func(token string) (string, error) {
		return "user-" + token, nil
	}

	server := startServer(t, ":18081", ws.NewConfig(":18081", verify))
	server.OnConnection(func(sess realtime.Session) {
		sess.On("joinGame", func(_ context.Context, s realtime.Session, args realtime.Args, reply realtime.ReplyFunc) {
			var gameID string
			if err := args.Decode(0, &gameID); err != nil {
				return
			}
			s.Join(gameID)
			if reply != nil {
				reply(s.Subject())
			}
		})
	})

	alice := dialClient(t, ":18081", staticToken("alice"))
	bob := dialClient(t, ":18081", staticToken("bob"))
	carol := dialClient(t, ":18081", staticToken("carol"))

	aliceGot := make(chan string, 1)
	alice.On("gameStarted", func(args realtime.Args) {
		var mission string
		if err := args.Decode(0, &mission); err == nil {
			aliceGot <- mission
		}
	})
	bobGot := make(chan string, 1)
	bob.On("gameStarted", func(args realtime.Args) {
		var mission string
		if err := args.Decode(0, &mission); err == nil {
			bobGot <- mission
		}
	})
	carolGot := make(chan string, 1)
	carol.On("gameStarted", func(args realtime.Args) {
		var mission string
		if err := args.Decode(0, &mission); err == nil {
			carolGot <- mission
		}
	})

	for name, cli := range map[string]realtime.Client{"alice": alice, "bob": bob} {
		data, err := cli.EmitWithAck(context.Background(), "joinGame", "game-1")
		if err != nil {
			t.Fatalf("%s failed to join: %v", name, err)
		}
		var subject string
		if err := data.Decode(0, &subject); err != nil {
			t.Fatalf("failed to decode join reply: %v", err)
		}
		if subject != "user-"+name {
			t.Errorf("subject = %q, want %q", subject, "user-"+name)
		}
	}

	if err := server.EmitToRoom("game-1", "gameStarted", "mission-1"); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	for name, ch := range map[string]chan string{"alice": aliceGot, "bob": bobGot} {
		select {
		case mission := <-ch:
			if mission != "mission-1" {
				t.Errorf("%s received %q, want mission-1", name, mission)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s never received the broadcast", name)
		}
	}

	// Carol never joined and must not see it.
	select {
	case mission := <-carolGot:
		t.Errorf("carol received %q without joining", mission)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReconnectResumesTraffic(t *testing.T) {
	t.Parallel()

	server := startServer(t, ":18082", nil)
	sessions := make(chan realtime.Session, 2)
	server.OnConnection(func(sess realtime.Session) {
		sess.On("echo", func(_ context.Context, _ realtime.Session, args realtime.Args, reply realtime.ReplyFunc) {
			var msg string
			if err := args.Decode(0, &msg); err != nil {
				return
			}
			if reply != nil {
				reply(msg)
			}
		})
		sessions <- sess
	})

	cli := dialClient(t, ":18082", nil)
	disconnected := make(chan struct{}, 2)
	cli.On(realtime.EventDisconnect, func(realtime.Args) { disconnected <- struct{}{} })

	first := <-sessions
	first.Disconnect()

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("client never noticed the server-side close")
	}

	// Issued while down, resolved after the automatic reconnect.
	data, err := cli.EmitWithAck(context.Background(), "echo", "still here")
	if err != nil {
		t.Fatalf("echo after reconnect failed: %v", err)
	}
	var echoed string
	if err := data.Decode(0, &echoed); err != nil {
		t.Fatalf("failed to decode reply: %v", err)
	}
	if echoed != "still here" {
		t.Errorf("got %q, want %q", echoed, "still here")
	}
}
