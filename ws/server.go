// Package ws is the public facade over the transport internals: server and
// client constructors plus their configuration helpers.
package ws

import (
	"net/http"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/internal/websocket"
)

type ServerConfig = websocket.ServerConfig
type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn

// Server extends realtime.Server with the http.HandlerFunc for mounting the
// WebSocket endpoint on an application-owned router.
type Server interface {
	realtime.Server
	HandleUpgrade(w http.ResponseWriter, r *http.Request)
}

// New creates a WebSocket server for the transport.
//
// Example:
//
//	srv := ws.New(ws.NewConfig(":8080", verifyToken))
//	srv.OnConnection(func(sess realtime.Session) {
//	    sess.On("joinGame", handleJoin)
//	})
//	srv.Start(ctx)
func New(cfg *ServerConfig) Server {
	return websocket.New(cfg)
}

// NewConfig returns a server configuration with the given address and
// credential verifier and defaults for everything else. Tune the returned
// struct before passing it to New.
func NewConfig(addr string, verify realtime.VerifyFunc) *ServerConfig {
	return &ServerConfig{
		Addr:   addr,
		Verify: verify,
	}
}

// AllOrigins returns a checkOrigin function that allows all origins.
// Development only.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
