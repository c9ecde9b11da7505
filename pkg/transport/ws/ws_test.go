package ws_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vocalink/pkg/transport"
	"github.com/MrWong99/vocalink/pkg/transport/ws"
)

// echoServer accepts one WebSocket and echoes every message back. It records
// the upgrade request headers for inspection.
func echoServer(t *testing.T) (url string, headers *http.Header) {
	t.Helper()
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "test over")
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), &got
}

func TestDialer_EchoRoundTrip(t *testing.T) {
	t.Parallel()
	url, _ := echoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := ws.NewDialer().Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Write(ctx, transport.KindText, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatalf("Write(text) error = %v", err)
	}
	kind, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if kind != transport.KindText {
		t.Errorf("kind = %v, want KindText", kind)
	}
	if string(data) != `{"type":"heartbeat"}` {
		t.Errorf("echoed data = %q", data)
	}

	frame := []byte{0, 0, 0, 1, 0x7f, 0x80}
	if err := conn.Write(ctx, transport.KindBinary, frame); err != nil {
		t.Fatalf("Write(binary) error = %v", err)
	}
	kind, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if kind != transport.KindBinary {
		t.Errorf("kind = %v, want KindBinary", kind)
	}
	if !bytes.Equal(data, frame) {
		t.Errorf("echoed frame = %v, want %v", data, frame)
	}
}

func TestDialer_SendsConfiguredHeaders(t *testing.T) {
	t.Parallel()
	url, headers := echoServer(t)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer test-token")
	d := ws.NewDialer(ws.WithHTTPHeader(hdr))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if got := headers.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("Authorization header = %q, want configured bearer token", got)
	}
}

func TestDialer_DialFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := ws.NewDialer().Dial(ctx, "ws://127.0.0.1:1/nope"); err == nil {
		t.Fatal("expected dial error for unreachable address")
	}
}
