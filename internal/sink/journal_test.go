package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

func setupTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := NewJournal(JournalConfig{
		Path: filepath.Join(t.TempDir(), "events.db"),
	}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestJournal_RecordAndRecent(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	if err := journal.RecordSound(ctx, "door_knock", 0.8, base); err != nil {
		t.Fatalf("RecordSound failed: %v", err)
	}
	if err := journal.RecordFace(ctx, "Alice", 0.92, "http://host/shot.jpg", base.Add(time.Second)); err != nil {
		t.Fatalf("RecordFace failed: %v", err)
	}
	if err := journal.RecordArrival(ctx, "Alice", "http://host/shot.jpg", base.Add(2*time.Second)); err != nil {
		t.Fatalf("RecordArrival failed: %v", err)
	}

	entries, err := journal.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	// Newest first
	if entries[0].EventType != "arrived" || entries[0].Subject != "Alice" {
		t.Errorf("unexpected newest entry: %+v", entries[0])
	}
	if entries[1].EventType != "face" || entries[1].Confidence != 0.92 {
		t.Errorf("unexpected face entry: %+v", entries[1])
	}
	if entries[1].ScreenshotRef != "http://host/shot.jpg" {
		t.Errorf("screenshot ref = %q", entries[1].ScreenshotRef)
	}
	if entries[2].EventType != "sound" || entries[2].Subject != "door_knock" {
		t.Errorf("unexpected sound entry: %+v", entries[2])
	}
}

func TestJournal_RecordPresence(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	err := journal.RecordPresence(ctx, []string{"person(Alice)", "dog"}, []string{"cat"}, []string{"dog", "person(Alice)"}, time.Now())
	if err != nil {
		t.Fatalf("RecordPresence failed: %v", err)
	}

	entries, err := journal.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (two enters, one exit)", len(entries))
	}

	types := map[string]int{}
	for _, e := range entries {
		types[e.EventType]++
	}
	if types["presence_enter"] != 2 || types["presence_exit"] != 1 {
		t.Errorf("entry types = %v", types)
	}
}

func TestJournal_RecentLimit(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		if err := journal.RecordSound(ctx, "speech", 0.5, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordSound failed: %v", err)
		}
	}

	entries, err := journal.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}
