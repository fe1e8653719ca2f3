package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/pairwire/pairwire/internal/config"
	"github.com/pairwire/pairwire/internal/httpserver"
	"github.com/pairwire/pairwire/internal/hub"
	"github.com/pairwire/pairwire/internal/metrics"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting pairwire",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"match_sweep_interval", cfg.MatchSweepInterval,
		"max_recent_pairs", cfg.MaxRecentPairs,
		"session_grace_unjoined", cfg.SessionGraceUnjoined,
		"session_grace_joined", cfg.SessionGraceJoined,
		"max_event_bytes", cfg.MaxEventBytes,
		"max_video_frame_bytes", cfg.MaxVideoFrameBytes,
		"max_audio_frame_bytes", cfg.MaxAudioFrameBytes,
		"allowed_origins", cfg.AllowedOrigins,
	)

	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("ALLOWED_ORIGINS is empty; accepting websocket upgrades from any origin")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	engine := hub.New(cfg, logger, m)

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, func() (int, int, int) {
		s := engine.Snapshot()
		return s.WaitingCount, s.ActiveSessionCount, s.TotalConnections
	})

	srv.Mux().Handle("GET /ws", engine.WebSocketHandler())
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
