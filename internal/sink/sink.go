// Package sink delivers stabilized presence and sound events to downstream
// consumers: MQTT/Home Assistant, a statistics database and a local journal.
package sink

import (
	"context"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// EventSink receives the engine's stabilized events. Implementations must
// tolerate repeated delivery of the same transition.
type EventSink interface {
	// RecordPresence reports labels that entered and labels that exited the
	// stable presence set, along with the resulting set itself.
	RecordPresence(ctx context.Context, added, removed, stable []string, at time.Time) error

	// RecordSound reports a gated sound event.
	RecordSound(ctx context.Context, label string, confidence float64, at time.Time) error

	// RecordFace reports an accepted face recognition.
	RecordFace(ctx context.Context, name string, confidence float64, screenshotRef string, at time.Time) error

	// RecordArrival reports an inferred arrival.
	RecordArrival(ctx context.Context, name, screenshotRef string, at time.Time) error

	// RecordDeparture reports an inferred departure.
	RecordDeparture(ctx context.Context, name, screenshotRef string, at time.Time) error

	// Close releases the sink's resources.
	Close() error
}

// Multi fans events out to several sinks. Delivery is best effort: one
// failing sink never blocks the others, failures are logged and dropped.
type Multi struct {
	logger *logger.Logger
	sinks  []EventSink
}

// NewMulti creates a fan-out over the given sinks
func NewMulti(log *logger.Logger, sinks ...EventSink) *Multi {
	return &Multi{
		logger: log,
		sinks:  sinks,
	}
}

func (m *Multi) each(op string, fn func(s EventSink) error) error {
	for _, s := range m.sinks {
		if err := fn(s); err != nil {
			m.logger.Warn("Event sink delivery failed", "op", op, "error", err.Error())
		}
	}
	return nil
}

func (m *Multi) RecordPresence(ctx context.Context, added, removed, stable []string, at time.Time) error {
	return m.each("presence", func(s EventSink) error {
		return s.RecordPresence(ctx, added, removed, stable, at)
	})
}

func (m *Multi) RecordSound(ctx context.Context, label string, confidence float64, at time.Time) error {
	return m.each("sound", func(s EventSink) error {
		return s.RecordSound(ctx, label, confidence, at)
	})
}

func (m *Multi) RecordFace(ctx context.Context, name string, confidence float64, screenshotRef string, at time.Time) error {
	return m.each("face", func(s EventSink) error {
		return s.RecordFace(ctx, name, confidence, screenshotRef, at)
	})
}

func (m *Multi) RecordArrival(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return m.each("arrival", func(s EventSink) error {
		return s.RecordArrival(ctx, name, screenshotRef, at)
	})
}

func (m *Multi) RecordDeparture(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return m.each("departure", func(s EventSink) error {
		return s.RecordDeparture(ctx, name, screenshotRef, at)
	})
}

// Close closes every sink, returning the first error encountered
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
