package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/ws"
)

// startServer starts a server on addr and registers its shutdown.
func startServer(t *testing.T, addr string, cfg *ws.ServerConfig) ws.Server {
	t.Helper()

	if cfg == nil {
		cfg = ws.NewConfig(addr, nil)
	}
	cfg.Addr = addr

	server := ws.New(cfg)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	})

	// Give the listener a moment to come up.
	time.Sleep(200 * time.Millisecond)

	return server
}

// dialClient connects a client transport to addr and registers its shutdown.
func dialClient(t *testing.T, addr string, token ws.TokenProvider) realtime.Client {
	t.Helper()

	cfg := ws.NewClientConfig("ws://localhost"+addr+"/ws", token)
	cfg.BaseReconnectDelay = 10 * time.Millisecond

	cli := ws.Dial(cfg)
	if err := cli.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(cli.Disconnect)

	return cli
}

func staticToken(token string) ws.TokenProvider {
	return func() (string, error) { return token, nil }
}
