package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/vocalink/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: wss://stt.example.com/stream
  log_level: debug
audio:
  format: pcm
  sample_rate: 16000
  channels: 1
  bits_per_sample: 16
  frame_duration_ms: 20
gesture:
  mode: hold
  hold_threshold_ms: 400
  cancel_distance: 64
reconnect:
  initial_backoff_ms: 500
  max_backoff_ms: 10000
  max_retries: 5
gateway:
  listen_addr: ":8090"
  postgres_dsn: postgres://localhost:5432/vocalink
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Server.URL != "wss://stt.example.com/stream" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Gesture.HoldThresholdMs != 400 {
		t.Errorf("gesture.hold_threshold_ms = %d, want 400", cfg.Gesture.HoldThresholdMs)
	}
	if cfg.Reconnect.MaxRetries != 5 {
		t.Errorf("reconnect.max_retries = %d, want 5", cfg.Reconnect.MaxRetries)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: wss://stt.example.com/stream
  listen_port: 8080
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_URLSchemeEnforced(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: https://stt.example.com/stream
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-websocket URL scheme, got nil")
	}
	if !strings.Contains(err.Error(), "ws://") {
		t.Errorf("error should mention the ws:// scheme, got: %v", err)
	}
}

func TestValidate_InvalidGestureMode(t *testing.T) {
	t.Parallel()
	yaml := `
gesture:
  mode: shake
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid gesture mode, got nil")
	}
	if !strings.Contains(err.Error(), "gesture.mode") {
		t.Errorf("error should mention gesture.mode, got: %v", err)
	}
}

func TestValidate_BackoffOrdering(t *testing.T) {
	t.Parallel()
	yaml := `
reconnect:
  initial_backoff_ms: 5000
  max_backoff_ms: 1000
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for max backoff below initial backoff, got nil")
	}
	if !strings.Contains(err.Error(), "max_backoff_ms") {
		t.Errorf("error should mention max_backoff_ms, got: %v", err)
	}
}

func TestValidate_NonPCMFormatRejected(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  format: opus
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-pcm audio format, got nil")
	}
}

func TestValidate_IncompleteTLS(t *testing.T) {
	t.Parallel()
	yaml := `
gateway:
  listen_addr: ":8090"
  tls:
    cert_file: /etc/vocalink/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS without key file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: ftp://example.com
  log_level: loud
gesture:
  mode: shake
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "ws://", "gesture.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("empty config should validate, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("nil config returned")
	}
}
