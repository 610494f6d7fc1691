package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confera/confera/internal/auth"
	"github.com/confera/confera/internal/config"
	"github.com/confera/confera/internal/joinlink"
	"github.com/confera/confera/internal/logging"
	"github.com/confera/confera/internal/room"
	"github.com/confera/confera/internal/server"
	"github.com/confera/confera/internal/session"
	"github.com/confera/confera/internal/signaling"
	"github.com/confera/confera/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay together and blocks until SIGINT/SIGTERM or a
// listener failure.
func run() error {
	// 1. Configuration & Logger
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.Init(cfg.LogLevel, slog.LevelInfo)

	// 2. Registry, sessions and the relay hub
	rooms := room.NewRegistry(log, room.NumericIDGenerator{}, auth.NewArgon2(auth.DefaultParams), cfg.MaxIDAttempts)
	hub := signaling.NewHub(log, rooms, session.NewTable())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	// 3. HTTP API and websocket
	opts := server.Options{
		Origins:        cfg.Origins(),
		SendBufferSize: cfg.SendBufferSize,
		DefaultCodec:   cfg.Codec,
	}
	if cfg.AdminEnabled() {
		opts.Admin = auth.NewAdminTokens(cfg.AdminSecret, cfg.AdminTokenTTL)
		log.Info("Admin API enabled")
	}
	srv := server.New(log, hub, rooms, joinlink.New(cfg.JoinLinkSecret, cfg.DefaultLinkPassword), opts)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting Confera server", "address", cfg.Addr(), "version", version.Version, "codec", cfg.Codec)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 4. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 5. Final Cleanup: stop accepting requests, then close every
	// websocket by stopping the hub.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "err", err)
	}
	stopHub()
	log.Info("Server stopped cleanly")

	return nil
}
