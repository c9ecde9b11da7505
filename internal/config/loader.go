package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.URL != "" {
		if !strings.HasPrefix(cfg.Server.URL, "ws://") && !strings.HasPrefix(cfg.Server.URL, "wss://") {
			errs = append(errs, fmt.Errorf("server.url %q must use the ws:// or wss:// scheme", cfg.Server.URL))
		}
	}

	// Audio
	if cfg.Audio.Format != "" && cfg.Audio.Format != "pcm" {
		errs = append(errs, fmt.Errorf("audio.format %q is invalid; only \"pcm\" is supported", cfg.Audio.Format))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.BitsPerSample != 0 && cfg.Audio.BitsPerSample != 8 && cfg.Audio.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("audio.bits_per_sample %d is invalid; valid values: 8, 16", cfg.Audio.BitsPerSample))
	}
	if cfg.Audio.FrameDurationMs < 0 || cfg.Audio.FrameDurationMs > 1000 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is out of range [1, 1000]", cfg.Audio.FrameDurationMs))
	}

	// Gesture
	if cfg.Gesture.Mode != "" && !cfg.Gesture.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("gesture.mode %q is invalid; valid values: hold, click", cfg.Gesture.Mode))
	}
	if cfg.Gesture.HoldThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("gesture.hold_threshold_ms %d must be positive", cfg.Gesture.HoldThresholdMs))
	}
	if cfg.Gesture.CancelDistance < 0 {
		errs = append(errs, fmt.Errorf("gesture.cancel_distance %.1f must be positive", cfg.Gesture.CancelDistance))
	}

	// Reconnect
	if cfg.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d must not be negative", cfg.Reconnect.MaxRetries))
	}
	if cfg.Reconnect.InitialBackoffMs > 0 && cfg.Reconnect.MaxBackoffMs > 0 &&
		cfg.Reconnect.MaxBackoffMs < cfg.Reconnect.InitialBackoffMs {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff_ms %d is below reconnect.initial_backoff_ms %d",
			cfg.Reconnect.MaxBackoffMs, cfg.Reconnect.InitialBackoffMs))
	}

	// Gateway
	if cfg.Gateway.TLS != nil {
		if cfg.Gateway.TLS.CertFile == "" || cfg.Gateway.TLS.KeyFile == "" {
			errs = append(errs, errors.New("gateway.tls requires both cert_file and key_file"))
		}
	}
	if cfg.Gateway.ListenAddr != "" && cfg.Gateway.PostgresDSN == "" {
		slog.Warn("gateway.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}
