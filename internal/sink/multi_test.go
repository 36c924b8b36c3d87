package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

type countingSink struct {
	presence, sound, face, arrival, departure int
	fail                                      bool
}

func (c *countingSink) err() error {
	if c.fail {
		return errors.New("sink down")
	}
	return nil
}

func (c *countingSink) RecordPresence(ctx context.Context, added, removed, stable []string, at time.Time) error {
	c.presence++
	return c.err()
}

func (c *countingSink) RecordSound(ctx context.Context, label string, confidence float64, at time.Time) error {
	c.sound++
	return c.err()
}

func (c *countingSink) RecordFace(ctx context.Context, name string, confidence float64, screenshotRef string, at time.Time) error {
	c.face++
	return c.err()
}

func (c *countingSink) RecordArrival(ctx context.Context, name, screenshotRef string, at time.Time) error {
	c.arrival++
	return c.err()
}

func (c *countingSink) RecordDeparture(ctx context.Context, name, screenshotRef string, at time.Time) error {
	c.departure++
	return c.err()
}

func (c *countingSink) Close() error { return nil }

func TestMulti_FansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	multi := NewMulti(logger.NewNopLogger(), a, b)
	ctx := context.Background()
	now := time.Now()

	multi.RecordPresence(ctx, []string{"person"}, nil, []string{"person"}, now)
	multi.RecordSound(ctx, "speech", 0.5, now)
	multi.RecordFace(ctx, "Alice", 0.9, "", now)
	multi.RecordArrival(ctx, "Alice", "", now)
	multi.RecordDeparture(ctx, "Alice", "", now)

	for i, s := range []*countingSink{a, b} {
		if s.presence != 1 || s.sound != 1 || s.face != 1 || s.arrival != 1 || s.departure != 1 {
			t.Errorf("sink %d did not receive every event: %+v", i, s)
		}
	}
}

func TestMulti_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &countingSink{fail: true}
	good := &countingSink{}
	multi := NewMulti(logger.NewNopLogger(), bad, good)

	if err := multi.RecordSound(context.Background(), "speech", 0.5, time.Now()); err != nil {
		t.Fatalf("Multi surfaced a sink error: %v", err)
	}
	if good.sound != 1 {
		t.Fatal("healthy sink skipped after a failing one")
	}
}

func TestMQTTSink_EventCooldown(t *testing.T) {
	s := &MQTTSink{
		logger:      logger.NewNopLogger(),
		cfg:         MQTTConfig{EventCooldown: 10 * time.Second},
		lastPublish: make(map[string]time.Time),
	}
	base := time.Now()

	if !s.allow("face:Alice", base) {
		t.Fatal("first event blocked")
	}
	if s.allow("face:Alice", base.Add(5*time.Second)) {
		t.Fatal("repeat within cooldown allowed")
	}
	if !s.allow("face:Bob", base.Add(5*time.Second)) {
		t.Fatal("different subject blocked by another's cooldown")
	}
	if !s.allow("face:Alice", base.Add(11*time.Second)) {
		t.Fatal("event after cooldown blocked")
	}
}

func TestPersonPresent(t *testing.T) {
	cases := []struct {
		stable []string
		want   bool
	}{
		{nil, false},
		{[]string{"dog", "cat"}, false},
		{[]string{"person"}, true},
		{[]string{"person(Alice)"}, true},
		{[]string{"dog", "person(Bob)"}, true},
	}
	for _, tc := range cases {
		if got := personPresent(tc.stable); got != tc.want {
			t.Errorf("personPresent(%v) = %v, want %v", tc.stable, got, tc.want)
		}
	}
}

func TestImageURLCacheBust(t *testing.T) {
	at := time.Unix(1700000000, 0)
	got := imageURL("http://host/screenshots/alice.jpg", at)
	want := "http://host/screenshots/alice.jpg?t=1700000000"
	if got != want {
		t.Errorf("imageURL = %q, want %q", got, want)
	}
}
