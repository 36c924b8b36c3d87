// Package correlate pairs door sounds with face recognitions to infer
// arrivals and departures.
package correlate

import (
	"sync"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// Event is an inferred arrival or departure
type Event struct {
	Name          string
	At            time.Time
	ScreenshotRef string // Set when a face observation contributed one
}

// Handler receives inferred arrival/departure events
type Handler func(event Event)

// CorrelatorConfig contains correlation configuration
type CorrelatorConfig struct {
	Window     time.Duration // Max gap between a door sound and a face sighting
	DoorSounds []string      // Sound labels treated as door activity
}

type faceObservation struct {
	at            time.Time
	screenshotRef string
}

// Correlator infers arrivals and departures from the order of door sounds
// and face recognitions: door then face means someone arrived, face then
// door means someone left. A single lock covers each read-modify-write so
// concurrent audio and video events cannot both consume the same pending
// observation.
type Correlator struct {
	logger    *logger.Logger
	cfg       CorrelatorConfig
	onArrived Handler
	onLeft    Handler

	mu           sync.Mutex
	pendingDoor  time.Time
	pendingFaces map[string]faceObservation
}

// NewCorrelator creates a new door/face correlator
func NewCorrelator(cfg CorrelatorConfig, onArrived, onLeft Handler, log *logger.Logger) *Correlator {
	if cfg.Window == 0 {
		cfg.Window = 30 * time.Second
	}
	if len(cfg.DoorSounds) == 0 {
		cfg.DoorSounds = []string{"door_knock"}
	}
	return &Correlator{
		logger:       log,
		cfg:          cfg,
		onArrived:    onArrived,
		onLeft:       onLeft,
		pendingFaces: make(map[string]faceObservation),
	}
}

// OnSound feeds a sound event into the correlator. Non-door sounds are
// ignored. A door sound following a recent face sighting means that person
// left; otherwise it is remembered as a possible arrival in progress. One
// door sound pairs with at most one face: the most recent sighting wins and
// the rest stay pending for a later door sound.
func (c *Correlator) OnSound(label string, at time.Time) {
	if !c.isDoorSound(label) {
		return
	}

	var left *Event

	c.mu.Lock()
	var bestName string
	var best faceObservation
	for name, obs := range c.pendingFaces {
		if at.Sub(obs.at) < 0 || at.Sub(obs.at) > c.cfg.Window {
			continue
		}
		if bestName == "" || obs.at.After(best.at) {
			bestName = name
			best = obs
		}
	}
	if bestName != "" {
		left = &Event{Name: bestName, At: at, ScreenshotRef: best.screenshotRef}
		delete(c.pendingFaces, bestName)
	} else {
		// No recent face: remember the door sound, overwriting any older one
		c.pendingDoor = at
	}
	c.mu.Unlock()

	if left != nil {
		c.logger.Info("Departure inferred", "name", left.Name)
		if c.onLeft != nil {
			c.onLeft(*left)
		}
	}
}

// OnFace feeds a face recognition into the correlator. A face following a
// recent door sound means that person arrived; otherwise the sighting is
// remembered for a possible departure.
func (c *Correlator) OnFace(name string, screenshotRef string, at time.Time) {
	var arrived *Event

	c.mu.Lock()
	if !c.pendingDoor.IsZero() && at.Sub(c.pendingDoor) >= 0 && at.Sub(c.pendingDoor) <= c.cfg.Window {
		arrived = &Event{Name: name, At: at, ScreenshotRef: screenshotRef}
		c.pendingDoor = time.Time{}
	} else {
		c.pendingFaces[name] = faceObservation{at: at, screenshotRef: screenshotRef}
	}
	c.mu.Unlock()

	if arrived != nil {
		c.logger.Info("Arrival inferred", "name", arrived.Name)
		if c.onArrived != nil {
			c.onArrived(*arrived)
		}
	}
}

// Sweep discards pending observations older than twice the window. Run
// periodically so stale state never pairs with far-future events.
func (c *Correlator) Sweep(now time.Time) {
	stale := 2 * c.cfg.Window

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pendingDoor.IsZero() && now.Sub(c.pendingDoor) > stale {
		c.pendingDoor = time.Time{}
	}
	for name, obs := range c.pendingFaces {
		if now.Sub(obs.at) > stale {
			delete(c.pendingFaces, name)
		}
	}
}

func (c *Correlator) isDoorSound(label string) bool {
	for _, s := range c.cfg.DoorSounds {
		if s == label {
			return true
		}
	}
	return false
}
