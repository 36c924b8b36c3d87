package presence

import (
	"reflect"
	"testing"

	"github.com/home-sentinel/edge/internal/logger"
)

func setupTestDebouncer(t *testing.T) *Debouncer {
	t.Helper()
	return NewDebouncer(DebouncerConfig{
		ImportantLabels:  []string{"person", "dog", "cat"},
		ImportantProfile: Profile{MinStable: 10, MaxMissing: 30},
		OtherProfile:     Profile{MinStable: 15, MaxMissing: 15},
	}, logger.NewNopLogger())
}

func tick(d *Debouncer, labels ...string) map[string]struct{} {
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	return d.Tick(seen)
}

func TestDebouncer_ConfirmsAfterMinStable(t *testing.T) {
	d := setupTestDebouncer(t)

	for i := 0; i < 9; i++ {
		stable := tick(d, "person")
		if _, ok := stable["person"]; ok {
			t.Fatalf("person stable after %d ticks, want 10", i+1)
		}
	}

	stable := tick(d, "person")
	if _, ok := stable["person"]; !ok {
		t.Fatal("person not stable after 10 ticks")
	}
}

func TestDebouncer_SurvivesShortAbsence(t *testing.T) {
	d := setupTestDebouncer(t)

	for i := 0; i < 10; i++ {
		tick(d, "person")
	}

	// Up to MaxMissing/2 missed ticks the score is untouched
	for i := 0; i < 15; i++ {
		stable := tick(d)
		if _, ok := stable["person"]; !ok {
			t.Fatalf("person dropped after %d missed ticks", i+1)
		}
	}
}

func TestDebouncer_DecaysAndForgets(t *testing.T) {
	d := setupTestDebouncer(t)

	for i := 0; i < 10; i++ {
		tick(d, "person")
	}

	var stable map[string]struct{}
	for i := 0; i < 31; i++ {
		stable = tick(d)
	}
	if _, ok := stable["person"]; ok {
		t.Fatal("person still stable after decaying past max missing")
	}
	if d.TrackedCount() != 0 {
		t.Fatalf("tracked count = %d after decay past max missing, want 0", d.TrackedCount())
	}

	// A single reappearance must not instantly restore stability
	stable = tick(d, "person")
	if _, ok := stable["person"]; ok {
		t.Fatal("person stable immediately after one reappearance")
	}
}

func TestDebouncer_OtherProfileDropsSooner(t *testing.T) {
	d := setupTestDebouncer(t)

	for i := 0; i < 15; i++ {
		tick(d, "chair")
	}
	if _, ok := tick(d, "chair")["chair"]; !ok {
		t.Fatal("chair not stable after other-profile min stable")
	}

	for i := 0; i < 16; i++ {
		tick(d)
	}
	if d.TrackedCount() != 0 {
		t.Fatal("chair state not forgotten after other-profile max missing")
	}
}

func TestDebouncer_TransplantKeepsEarnedStability(t *testing.T) {
	d := setupTestDebouncer(t)

	// Earn full stability as the generic label
	for i := 0; i < 10; i++ {
		tick(d, "person")
	}

	d.Transplant("person", []string{"person(Alice)"})

	// The named label is stable on the very next tick where it is seen
	stable := tick(d, "person(Alice)")
	if _, ok := stable["person(Alice)"]; !ok {
		t.Fatal("named label not stable after transplant from stable generic label")
	}
	if _, ok := stable["person"]; ok {
		t.Fatal("generic label still stable after transplant")
	}
}

func TestDebouncer_TransplantKeepsMoreGenerousState(t *testing.T) {
	d := setupTestDebouncer(t)

	for i := 0; i < 10; i++ {
		tick(d, "person", "person(Bob)")
	}
	// Bob goes missing long enough to decay below the stability bar while
	// the generic label stays fresh
	for i := 0; i < 18; i++ {
		tick(d, "person")
	}

	d.Transplant("person", []string{"person(Bob)"})

	stable := tick(d, "person(Bob)")
	if _, ok := stable["person(Bob)"]; !ok {
		t.Fatal("transplant did not restore the named label's earned stability")
	}
}

func TestBaseLabel(t *testing.T) {
	cases := map[string]string{
		"person(Alice)": "person",
		"person":        "person",
		"dog(Rex)":      "dog",
		"(weird":        "(weird",
	}
	for in, want := range cases {
		if got := BaseLabel(in); got != want {
			t.Errorf("BaseLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDiff(t *testing.T) {
	prev := map[string]struct{}{"person": {}, "dog": {}}
	cur := map[string]struct{}{"dog": {}, "cat": {}, "bird": {}}

	added, removed := Diff(prev, cur)
	if !reflect.DeepEqual(added, []string{"bird", "cat"}) {
		t.Errorf("added = %v, want [bird cat]", added)
	}
	if !reflect.DeepEqual(removed, []string{"person"}) {
		t.Errorf("removed = %v, want [person]", removed)
	}

	added, removed = Diff(cur, cur)
	if added != nil || removed != nil {
		t.Errorf("identical sets produced diff: added=%v removed=%v", added, removed)
	}
}

func TestDebouncer_FlickerNeverConfirms(t *testing.T) {
	d := setupTestDebouncer(t)

	// Alternating present/absent: score rises by one then the absence run
	// is too short to decay it, but it must never reach the bar if the
	// label is missing more than it is seen
	for i := 0; i < 60; i++ {
		var stable map[string]struct{}
		if i%6 == 0 {
			stable = tick(d, "bird")
		} else {
			stable = tick(d)
		}
		if _, ok := stable["bird"]; ok {
			t.Fatalf("sporadic label became stable at tick %d", i)
		}
	}
}
