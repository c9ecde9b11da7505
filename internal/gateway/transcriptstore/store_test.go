package transcriptstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vocalink/internal/gateway/transcriptstore"
	"github.com/MrWong99/vocalink/pkg/voxtypes"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOCALINK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOCALINK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOCALINK_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [transcriptstore.Store] with a clean schema.
func newTestStore(t *testing.T) *transcriptstore.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS transcripts CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := transcriptstore.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	transcripts := []voxtypes.Transcript{
		{SessionID: "session-1", Text: "open the pod bay doors", IsFinal: true, Confidence: 0.93},
		{SessionID: "session-1", Text: "turn on the lights", IsFinal: true, Confidence: 0.88},
		{SessionID: "session-2", Text: "what time is it", IsFinal: true, Confidence: 0.95},
	}
	for _, tr := range transcripts {
		if err := store.Append(ctx, tr); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// All entries for session-1, newest first.
	recent, err := store.Recent(ctx, "session-1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent session-1: want 2, got %d", len(recent))
	}
	if recent[0].Text != "turn on the lights" {
		t.Errorf("newest first: want %q, got %q", "turn on the lights", recent[0].Text)
	}
	if recent[1].Confidence != 0.93 {
		t.Errorf("Confidence round-trip: want 0.93, got %v", recent[1].Confidence)
	}
	if recent[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be populated")
	}

	// Limit caps the result.
	limited, err := store.Recent(ctx, "session-1", 1)
	if err != nil {
		t.Fatalf("Recent limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Recent limit 1: want 1, got %d", len(limited))
	}

	// Unknown session returns an empty slice, not nil.
	other, err := store.Recent(ctx, "no-such-session", 0)
	if err != nil {
		t.Fatalf("Recent other: %v", err)
	}
	if other == nil || len(other) != 0 {
		t.Errorf("Recent other: want empty slice, got %v", other)
	}
}

func TestAppend_RejectsInterim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, voxtypes.Transcript{SessionID: "s1", Text: "partial…", IsFinal: false})
	if err == nil {
		t.Fatal("Append interim: expected error, got nil")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// New already ran EnsureSchema once; a second store against the same DB
	// must not fail.
	second, err := transcriptstore.New(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	defer second.Close()

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
