package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/home-sentinel/edge/internal/logger"
)

// JournalConfig contains local event journal configuration
type JournalConfig struct {
	Path string // SQLite database file path
}

// Journal keeps a local SQLite history of every emitted event, so events
// survive broker or database outages and can be inspected on the device
type Journal struct {
	logger *logger.Logger
	db     *sql.DB
}

// NewJournal opens (or creates) the journal database
func NewJournal(cfg JournalConfig, log *logger.Logger) (*Journal, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	journal := &Journal{
		logger: log,
		db:     db,
	}

	if err := journal.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	log.Info("Event journal opened", "path", cfg.Path)

	return journal, nil
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		subject TEXT NOT NULL,
		confidence REAL,
		screenshot TEXT,
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`

	_, err := j.db.Exec(schema)
	return err
}

func (j *Journal) insert(ctx context.Context, eventType, subject string, confidence float64, screenshotRef string, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, subject, confidence, screenshot, timestamp) VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)`,
		uuid.New().String(), eventType, subject, confidence, screenshotRef, at)
	if err != nil {
		return fmt.Errorf("failed to journal %s event: %w", eventType, err)
	}
	return nil
}

func (j *Journal) RecordPresence(ctx context.Context, added, removed, stable []string, at time.Time) error {
	for _, label := range added {
		if err := j.insert(ctx, "presence_enter", label, 0, "", at); err != nil {
			return err
		}
	}
	for _, label := range removed {
		if err := j.insert(ctx, "presence_exit", label, 0, "", at); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) RecordSound(ctx context.Context, label string, confidence float64, at time.Time) error {
	return j.insert(ctx, "sound", label, confidence, "", at)
}

func (j *Journal) RecordFace(ctx context.Context, name string, confidence float64, screenshotRef string, at time.Time) error {
	return j.insert(ctx, "face", name, confidence, screenshotRef, at)
}

func (j *Journal) RecordArrival(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return j.insert(ctx, "arrived", name, 0, screenshotRef, at)
}

func (j *Journal) RecordDeparture(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return j.insert(ctx, "left", name, 0, screenshotRef, at)
}

// JournalEntry is one stored event, newest first from Recent
type JournalEntry struct {
	ID            string    `json:"id"`
	EventType     string    `json:"event_type"`
	Subject       string    `json:"subject"`
	Confidence    float64   `json:"confidence"`
	ScreenshotRef string    `json:"screenshot,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Recent returns the most recent journal entries, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, event_type, subject, COALESCE(confidence, 0), COALESCE(screenshot, ''), timestamp
		 FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.Subject, &e.Confidence, &e.ScreenshotRef, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the journal database
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
