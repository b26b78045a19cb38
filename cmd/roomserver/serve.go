package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/avalongame/realtime"
	"github.com/avalongame/realtime/ws"
)

type serveOptions struct {
	addr     string
	tokens   []string
	logJSON  bool
	logLevel string
}

func serveCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the room server",
		Long: `Start the room server on the given address.

The WebSocket endpoint is /ws. Static credentials can be supplied as
token=subject pairs; connections presenting an unknown token are
accepted anonymously.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", ":8080", "Address to listen on")
	cmd.Flags().StringSliceVar(&opts.tokens, "token", nil, "Static credential as token=subject (repeatable)")
	cmd.Flags().BoolVar(&opts.logJSON, "log-json", false, "Emit logs as JSON")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

func runServe(opts *serveOptions) error {
	logger, err := newLogger(opts)
	if err != nil {
		return err
	}

	verify, err := staticVerifier(opts.tokens)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()

	cfg := ws.NewConfig(opts.addr, verify)
	cfg.Logger = logger
	cfg.Metrics = registry
	server := ws.New(cfg)

	registerRoomHandlers(server, logger)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/ws", server.HandleUpgrade)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("room server listening", "addr", opts.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Wrap(httpServer.Shutdown(ctx), "shutdown")
}

// registerRoomHandlers wires the room operations every connection gets.
func registerRoomHandlers(server ws.Server, logger *slog.Logger) {
	server.OnConnection(func(sess realtime.Session) {
		logger.Info("connected", "session", sess.ID(), "subject", sess.Subject())

		sess.On("ping", func(_ context.Context, _ realtime.Session, _ realtime.Args, reply realtime.ReplyFunc) {
			if reply != nil {
				reply(map[string]bool{"pong": true})
			}
		})

		sess.On("joinRoom", func(_ context.Context, s realtime.Session, args realtime.Args, reply realtime.ReplyFunc) {
			var room string
			if err := args.Decode(0, &room); err != nil || room == "" {
				return
			}
			s.Join(room)
			server.EmitToRoom(room, "userJoined", s.Subject())
			if reply != nil {
				reply(server.To(room).Members())
			}
		})

		sess.On("leaveRoom", func(_ context.Context, s realtime.Session, args realtime.Args, reply realtime.ReplyFunc) {
			var room string
			if err := args.Decode(0, &room); err != nil || room == "" {
				return
			}
			s.Leave(room)
			server.EmitToRoom(room, "userLeft", s.Subject())
			if reply != nil {
				reply(true)
			}
		})

		sess.On("chat", func(_ context.Context, s realtime.Session, args realtime.Args, _ realtime.ReplyFunc) {
			var room, text string
			if err := args.Decode(0, &room); err != nil {
				return
			}
			if err := args.Decode(1, &text); err != nil {
				return
			}
			server.EmitToRoom(room, "chat", s.Subject(), text)
		})
	})

	server.OnDisconnect(func(sess realtime.Session) {
		logger.Info("disconnected", "session", sess.ID())
	})
}

// staticVerifier builds a VerifyFunc from token=subject pairs. No pairs means
// every connection is anonymous.
func staticVerifier(pairs []string) (realtime.VerifyFunc, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	subjects := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		token, subject, ok := strings.Cut(pair, "=")
		if !ok || token == "" || subject == "" {
			return nil, errors.Errorf("invalid token pair %q, want token=subject", pair)
		}
		subjects[token] = subject
	}

	return func(token string) (string, error) {
		subject, ok := subjects[token]
		if !ok {
			return "", errors.New("unknown token")
		}
		return subject, nil
	}, nil
}

func newLogger(opts *serveOptions) (*slog.Logger, error) {
	var level slog.Level
	switch opts.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, errors.Errorf("unknown log level %q", opts.logLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.logJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts)), nil
}
