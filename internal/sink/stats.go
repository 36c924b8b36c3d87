package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/home-sentinel/edge/internal/logger"
)

// StatsConfig contains statistics sink configuration
type StatsConfig struct {
	DatabaseURL string
}

// StatsSink writes presence, face and sound events to PostgreSQL for
// long-term statistics
type StatsSink struct {
	logger *logger.Logger
	pool   *pgxpool.Pool
}

const statsSchema = `
CREATE TABLE IF NOT EXISTS presence_stats (
	id BIGSERIAL PRIMARY KEY,
	label TEXT NOT NULL,
	transition TEXT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS person_stats (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	screenshot TEXT,
	detected_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sound_stats (
	id BIGSERIAL PRIMARY KEY,
	label TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_person_stats_detected_at ON person_stats (detected_at);
CREATE INDEX IF NOT EXISTS idx_sound_stats_detected_at ON sound_stats (detected_at);
`

// NewStatsSink connects to the statistics database and ensures the schema
// exists
func NewStatsSink(ctx context.Context, cfg StatsConfig, log *logger.Logger) (*StatsSink, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping stats database: %w", err)
	}
	if _, err := pool.Exec(ctx, statsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create stats schema: %w", err)
	}

	log.Info("Statistics sink connected")

	return &StatsSink{
		logger: log,
		pool:   pool,
	}, nil
}

func (s *StatsSink) RecordPresence(ctx context.Context, added, removed, stable []string, at time.Time) error {
	for _, label := range added {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO presence_stats (label, transition, detected_at) VALUES ($1, 'enter', $2)`,
			label, at); err != nil {
			return fmt.Errorf("failed to record presence enter: %w", err)
		}
	}
	for _, label := range removed {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO presence_stats (label, transition, detected_at) VALUES ($1, 'exit', $2)`,
			label, at); err != nil {
			return fmt.Errorf("failed to record presence exit: %w", err)
		}
	}
	return nil
}

func (s *StatsSink) RecordSound(ctx context.Context, label string, confidence float64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sound_stats (label, confidence, detected_at) VALUES ($1, $2, $3)`,
		label, confidence, at)
	if err != nil {
		return fmt.Errorf("failed to record sound event: %w", err)
	}
	return nil
}

func (s *StatsSink) RecordFace(ctx context.Context, name string, confidence float64, screenshotRef string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO person_stats (name, confidence, screenshot, detected_at) VALUES ($1, $2, NULLIF($3, ''), $4)`,
		name, confidence, screenshotRef, at)
	if err != nil {
		return fmt.Errorf("failed to record face event: %w", err)
	}
	return nil
}

func (s *StatsSink) RecordArrival(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return s.recordPresenceTransition(ctx, name, "arrived", at)
}

func (s *StatsSink) RecordDeparture(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return s.recordPresenceTransition(ctx, name, "left", at)
}

func (s *StatsSink) recordPresenceTransition(ctx context.Context, name, transition string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO presence_stats (label, transition, detected_at) VALUES ($1, $2, $3)`,
		name, transition, at)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", transition, err)
	}
	return nil
}

// Close releases the connection pool
func (s *StatsSink) Close() error {
	s.pool.Close()
	return nil
}
