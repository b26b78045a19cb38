package ws

import (
	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/internal/client"
)

type ClientConfig = client.Config
type TokenProvider = client.TokenProvider

// Dial creates a client transport for the given configuration. The transport
// is idle until Connect is called.
//
// Example:
//
//	cli := ws.Dial(ws.NewClientConfig("ws://localhost:8080/ws", tokenFromStorage))
//	cli.On(realtime.EventConnect, func(realtime.Args) { log.Println("up") })
//	if err := cli.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
func Dial(cfg *ClientConfig) realtime.Client {
	return client.New(cfg)
}

// NewClientConfig returns a client configuration with the given endpoint and
// credential provider and defaults for everything else.
func NewClientConfig(url string, token TokenProvider) *ClientConfig {
	return &ClientConfig{
		URL:   url,
		Token: token,
	}
}
