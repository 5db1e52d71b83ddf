package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/jsr77/internal/event"
	"github.com/loykin/jsr77/internal/history"
	"github.com/loykin/jsr77/internal/objectname"
)

func notification(t event.Type, seq uint64) event.Notification {
	return event.Notification{
		Type:      t,
		Source:    objectname.MustParse("jboss:j2eeType=J2EEServer,name=Local"),
		Sequence:  seq,
		Timestamp: time.Now().UTC(),
	}
}

func TestSQLiteSink_File(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	for i, typ := range []event.Type{event.StateStarting, event.StateRunning} {
		if err := sink.Send(ctx, history.FromNotification(notification(typ, uint64(i+1)))); err != nil {
			t.Fatalf("Failed to send %s: %v", typ, err)
		}
	}
	n, err := sink.Count(ctx, "jboss:j2eeType=J2EEServer,name=Local")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	e := history.FromNotification(event.NewAttributeChange(objectname.MustParse("d:j2eeType=JVM,name=h,J2EEServer=s"), "HeapSize", 1, 2))
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Send(ctx, e); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
	var attr, newValue string
	if err := sink.db.QueryRowContext(ctx, `SELECT attribute, new_value FROM notification_history WHERE id = ?`, e.ID).Scan(&attr, &newValue); err != nil {
		t.Fatalf("query: %v", err)
	}
	if attr != "HeapSize" || newValue != "2" {
		t.Fatalf("unexpected row: %q %q", attr, newValue)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
