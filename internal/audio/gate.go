// Package audio ingests the camera's audio track, classifies it into sound
// events and rate-limits what gets emitted downstream.
package audio

import "time"

// GateConfig contains sound event gating configuration
type GateConfig struct {
	ConfidenceFloor float64       // Scores below this are dropped outright
	MinInterval     time.Duration // Per-label cooldown between emitted events
}

// Gate suppresses low-confidence and repeated sound events. The cooldown is
// tracked per label, so a dog bark never blocks a door knock. Not safe for
// concurrent use; the audio loop owns it.
type Gate struct {
	cfg      GateConfig
	lastEmit map[string]time.Time
}

// NewGate creates a new sound event gate
func NewGate(cfg GateConfig) *Gate {
	if cfg.ConfidenceFloor == 0 {
		cfg.ConfidenceFloor = 0.3
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = 5 * time.Second
	}
	return &Gate{
		cfg:      cfg,
		lastEmit: make(map[string]time.Time),
	}
}

// Allow reports whether a classified sound should be emitted now. An allowed
// event starts the label's cooldown window.
func (g *Gate) Allow(label string, confidence float64, now time.Time) bool {
	if confidence < g.cfg.ConfidenceFloor {
		return false
	}
	if last, ok := g.lastEmit[label]; ok && now.Sub(last) < g.cfg.MinInterval {
		return false
	}
	g.lastEmit[label] = now
	return true
}
