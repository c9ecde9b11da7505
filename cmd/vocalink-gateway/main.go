// Command vocalink-gateway is the recognition backend for Vocalink clients.
// It accepts WebSocket sessions, validates the frame stream, feeds audio to
// the configured recognizer and relays transcription results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalink/internal/config"
	"github.com/MrWong99/vocalink/internal/gateway"
	"github.com/MrWong99/vocalink/internal/gateway/transcriptstore"
	"github.com/MrWong99/vocalink/internal/health"
	"github.com/MrWong99/vocalink/internal/observe"
)

const (
	defaultListenAddr = ":8090"
	defaultRecognizer = "echo"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocalink-gateway: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocalink-gateway: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	addr := cfg.Gateway.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	recognizerName := cfg.Gateway.Recognizer
	if recognizerName == "" {
		recognizerName = defaultRecognizer
	}

	slog.Info("vocalink-gateway starting",
		"config", *configPath,
		"listen_addr", addr,
		"recognizer", recognizerName,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vocalink-gateway"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Recognizer registry ───────────────────────────────────────────────────
	registry := gateway.NewRegistry()
	registry.Register("echo", func() (gateway.Recognizer, error) {
		return gateway.NewEchoRecognizer(), nil
	})

	recognizer, err := registry.Create(recognizerName)
	if err != nil {
		slog.Error("failed to create recognizer", "name", recognizerName, "err", err)
		return 1
	}

	// ── Transcript store (optional) ───────────────────────────────────────────
	var (
		transcripts gateway.TranscriptLog
		checkers    []health.Checker
	)
	if dsn := cfg.Gateway.PostgresDSN; dsn != "" {
		store, err := transcriptstore.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open transcript store", "err", err)
			return 1
		}
		defer store.Close()
		transcripts = store
		checkers = append(checkers, health.Checker{Name: "postgres", Check: store.Ping})
		slog.Info("transcript store connected")
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	sessions, err := gateway.NewServer(gateway.Config{
		Recognizer:  recognizer,
		Transcripts: transcripts,
		Metrics:     metrics,
	})
	if err != nil {
		slog.Error("failed to initialise gateway", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", sessions)
	mux.Handle("/metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Gateway.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	slog.Info("gateway ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
