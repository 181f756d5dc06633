package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{CaptureID: "c1", Type: EventTranscriptFinal}); err != nil {
		t.Fatalf("ephemeral append must be a no-op: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	captureID := "capture-123"
	if err := es.BeginCapture(context.Background(), captureID, "es-PE", "streaming"); err != nil {
		t.Fatalf("begin capture: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{
		CaptureID: captureID,
		Type:      EventTranscriptFinal,
		Payload:   []byte("vende dos coca colas"),
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{
		CaptureID: captureID,
		Type:      EventSaleConfirmed,
		Payload:   []byte(`{"id":"s1"}`),
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := es.ListCaptureEvents(context.Background(), captureID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventTranscriptFinal || string(events[0].Payload) != "vende dos coca colas" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
}

func TestPruneByDaysAndCaptures(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginCapture(context.Background(), "old-capture", "es-PE", "local"); err != nil {
		t.Fatalf("begin capture: %v", err)
	}
	if err := es.AppendEvent(context.Background(), Event{CaptureID: "old-capture", Type: EventSessionError}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.BeginCapture(context.Background(), "new-capture", "es-PE", "local"); err != nil {
		t.Fatalf("begin capture: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListCaptureEvents(context.Background(), "old-capture", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old capture pruned")
	}
}
