// Package presence turns noisy per-frame label observations into a stable
// "currently in frame" set using per-label hysteresis.
package presence

import (
	"sort"
	"strings"

	"github.com/home-sentinel/edge/internal/logger"
)

// Profile is a per-label-class debounce timing profile
type Profile struct {
	MinStable  int // Consecutive-ish sightings required before a label is confirmed
	MaxMissing int // Missed ticks tolerated before a label's state is forgotten
}

// labelState is the mutable hysteresis state for one tracked label
type labelState struct {
	missingStreak int
	stableScore   int
}

// Debouncer maps the multiset of raw labels seen each tick into a stable
// presence set. Labels in the important set (person, dog, ...) confirm fast
// and tolerate long absences; everything else confirms slower and is dropped
// sooner. State is owned exclusively by the debouncer and is not safe for
// concurrent use; the detection loop calls Tick from a single goroutine.
type Debouncer struct {
	logger           *logger.Logger
	important        map[string]struct{}
	importantProfile Profile
	otherProfile     Profile
	tracked          map[string]*labelState
}

// DebouncerConfig contains debounce configuration
type DebouncerConfig struct {
	ImportantLabels  []string
	ImportantProfile Profile
	OtherProfile     Profile
}

// NewDebouncer creates a new presence debouncer
func NewDebouncer(cfg DebouncerConfig, log *logger.Logger) *Debouncer {
	important := make(map[string]struct{}, len(cfg.ImportantLabels))
	for _, label := range cfg.ImportantLabels {
		important[label] = struct{}{}
	}

	importantProfile := cfg.ImportantProfile
	if importantProfile.MinStable == 0 {
		importantProfile.MinStable = 10
	}
	if importantProfile.MaxMissing == 0 {
		importantProfile.MaxMissing = 30
	}
	otherProfile := cfg.OtherProfile
	if otherProfile.MinStable == 0 {
		otherProfile.MinStable = 15
	}
	if otherProfile.MaxMissing == 0 {
		otherProfile.MaxMissing = 15
	}

	return &Debouncer{
		logger:           log,
		important:        important,
		importantProfile: importantProfile,
		otherProfile:     otherProfile,
		tracked:          make(map[string]*labelState),
	}
}

// BaseLabel strips a "(name)" suffix so that "person(Alice)" and "person"
// share the same timing profile.
func BaseLabel(label string) string {
	if idx := strings.IndexByte(label, '('); idx > 0 && strings.HasSuffix(label, ")") {
		return label[:idx]
	}
	return label
}

// ProfileFor returns the timing profile for a label
func (d *Debouncer) ProfileFor(label string) Profile {
	if _, ok := d.important[BaseLabel(label)]; ok {
		return d.importantProfile
	}
	return d.otherProfile
}

// Tick processes one frame's raw label set as a single atomic batch and
// returns the current stable set. The raw set is only read, never retained.
func (d *Debouncer) Tick(seen map[string]struct{}) map[string]struct{} {
	for label, state := range d.tracked {
		profile := d.ProfileFor(label)
		if _, ok := seen[label]; ok {
			state.missingStreak = 0
			if state.stableScore < profile.MinStable {
				state.stableScore++
			}
			continue
		}

		state.missingStreak++
		if state.missingStreak > profile.MaxMissing/2 && state.stableScore > 0 {
			state.stableScore--
		}
		if state.missingStreak > profile.MaxMissing {
			delete(d.tracked, label)
		}
	}

	for label := range seen {
		if _, ok := d.tracked[label]; !ok {
			d.tracked[label] = &labelState{stableScore: 1}
		}
	}

	return d.stableSet()
}

// Transplant moves the hysteresis state of a generic label onto one or more
// named labels, keeping the more generous value per field, and forgets the
// generic entry. A recognized person must not re-earn stability already
// earned as the generic "person" label.
func (d *Debouncer) Transplant(from string, to []string) {
	src, ok := d.tracked[from]
	if !ok {
		return
	}

	for _, label := range to {
		profile := d.ProfileFor(label)
		dst, exists := d.tracked[label]
		if !exists {
			dst = &labelState{missingStreak: src.missingStreak}
			d.tracked[label] = dst
		}
		if src.stableScore > dst.stableScore {
			dst.stableScore = src.stableScore
		}
		if dst.stableScore > profile.MinStable {
			dst.stableScore = profile.MinStable
		}
		if src.missingStreak < dst.missingStreak {
			dst.missingStreak = src.missingStreak
		}
	}

	delete(d.tracked, from)
}

// stableSet collects the labels whose score meets their profile's bar
func (d *Debouncer) stableSet() map[string]struct{} {
	stable := make(map[string]struct{})
	for label, state := range d.tracked {
		if state.stableScore >= d.ProfileFor(label).MinStable {
			stable[label] = struct{}{}
		}
	}
	return stable
}

// TrackedCount returns how many labels currently carry hysteresis state
func (d *Debouncer) TrackedCount() int {
	return len(d.tracked)
}

// Diff compares two stable sets and returns the sorted added and removed
// labels. Downstream eventing acts on this diff, so every state change is
// reported exactly once, at the transition.
func Diff(prev, cur map[string]struct{}) (added, removed []string) {
	for label := range cur {
		if _, ok := prev[label]; !ok {
			added = append(added, label)
		}
	}
	for label := range prev {
		if _, ok := cur[label]; !ok {
			removed = append(removed, label)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Labels returns a stable set as a sorted slice
func Labels(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for label := range set {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
