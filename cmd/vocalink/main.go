// Command vocalink is the interactive speech-to-text client. It captures PCM
// audio from a file, FIFO or stdin, streams it to the recognition backend and
// prints transcripts as they arrive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/vocalink/internal/app"
	"github.com/MrWong99/vocalink/internal/config"
	"github.com/MrWong99/vocalink/internal/observe"
	"github.com/MrWong99/vocalink/pkg/gesture"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "", `PCM source: a file or FIFO path, or "-" for stdin`)
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "vocalink: -input is required (a raw PCM file, a FIFO fed by an OS capture shim, or \"-\" for stdin)")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocalink: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocalink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config hot reload can adjust it.
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(cfg.Server.LogLevel, level))

	slog.Info("vocalink starting",
		"config", *configPath,
		"server", cfg.Server.URL,
		"input", *input,
		"gesture_mode", cfg.Gesture.Mode,
	)

	// ── PCM source ────────────────────────────────────────────────────────────
	var source io.Reader
	fromStdin := *input == "-"
	if fromStdin {
		source = os.Stdin
	} else {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vocalink: open PCM source: %v\n", err)
			return 1
		}
		defer f.Close()
		source = f
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vocalink"})
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

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(cfg, source,
		app.WithLogLevel(level),
		app.WithConfigFile(*configPath),
		app.WithTranscriptHandler(printTranscript),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	runDone := make(chan error, 1)
	go func() { runDone <- application.Run(ctx) }()

	if fromStdin {
		// Stdin carries the audio, so there is no console. Start recording
		// immediately and stream until the process is signalled.
		slog.Info("streaming from stdin — recording starts now, Ctrl+C to stop")
		application.Controller().Click()
	} else {
		printConsoleHelp(cfg.Gesture.Mode)
		go console(application.Controller(), cfg.Gesture.Mode, stop)
	}

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// console translates terminal input into recording gestures until stdin is
// exhausted or the user quits.
func console(c *gesture.Controller, mode config.GestureMode, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "":
			if mode == config.GestureHold {
				// No key-up events on a line console; emulate the hold by
				// toggling down and up around the recording.
				if c.Recording() {
					c.PointerUp()
				} else {
					c.PointerDown(0, 0)
				}
			} else {
				c.Click()
			}
		case "c":
			c.InteractionCancel()
		case "q":
			quit()
			return
		default:
			fmt.Println("unknown command — Enter toggles recording, c cancels, q quits")
		}
	}
	quit()
}

func printConsoleHelp(mode config.GestureMode) {
	fmt.Println("┌──────────────────────────────────────────────┐")
	fmt.Println("│  vocalink — push-to-talk console             │")
	fmt.Printf("│  gesture mode : %-28s │\n", mode)
	fmt.Println("│  Enter        : start / stop recording       │")
	fmt.Println("│  c            : cancel the current recording │")
	fmt.Println("│  q            : quit                         │")
	fmt.Println("└──────────────────────────────────────────────┘")
}

// printTranscript renders recognition results: interim hypotheses with an
// ellipsis prefix, committed finals with a marker and confidence.
func printTranscript(t voxtypes.Transcript) {
	if t.IsFinal {
		fmt.Printf("» %s  (confidence %.2f)\n", t.Text, t.Confidence)
		return
	}
	fmt.Printf("… %s\n", t.Text)
}

func newLogger(level config.LogLevel, lv *slog.LevelVar) *slog.Logger {
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
