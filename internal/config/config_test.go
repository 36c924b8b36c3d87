package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
sentinel:
  stream:
    url: rtsp://camera.local/stream1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s := cfg.Sentinel
	if s.Stream.URL != "rtsp://camera.local/stream1" {
		t.Errorf("stream url = %q", s.Stream.URL)
	}

	// Defaults
	if s.Stream.StaleThreshold != 10*time.Second {
		t.Errorf("stale threshold = %v, want 10s", s.Stream.StaleThreshold)
	}
	if s.Stream.ReconnectAttempts != 3 {
		t.Errorf("reconnect attempts = %d, want 3", s.Stream.ReconnectAttempts)
	}
	if s.Presence.MinStable != 10 || s.Presence.MaxMissing != 30 {
		t.Errorf("presence profile = %d/%d, want 10/30", s.Presence.MinStable, s.Presence.MaxMissing)
	}
	if s.Faces.SimilarityThreshold != 0.55 {
		t.Errorf("similarity threshold = %f, want 0.55", s.Faces.SimilarityThreshold)
	}
	if s.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", s.Audio.SampleRate)
	}
	if s.Correlation.Window != 30*time.Second {
		t.Errorf("correlation window = %v, want 30s", s.Correlation.Window)
	}
	if s.Web.Port != 8099 {
		t.Errorf("web port = %d, want 8099", s.Web.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if s.Gallery.CacheDir != filepath.Join("./data", "cache") {
		t.Errorf("gallery cache dir = %q", s.Gallery.CacheDir)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
sentinel:
  data_dir: /var/lib/sentinel
  stream:
    url: rtsp://camera.local/stream1
    stale_threshold: 5s
  presence:
    important_labels: [person]
    min_stable: 4
  audio:
    enabled: true
    tracked_sounds: [door_knock]
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s := cfg.Sentinel
	if s.Stream.StaleThreshold != 5*time.Second {
		t.Errorf("stale threshold = %v, want 5s", s.Stream.StaleThreshold)
	}
	if len(s.Presence.ImportantLabels) != 1 || s.Presence.ImportantLabels[0] != "person" {
		t.Errorf("important labels = %v", s.Presence.ImportantLabels)
	}
	if s.Presence.MinStable != 4 {
		t.Errorf("min stable = %d, want 4", s.Presence.MinStable)
	}
	if !s.Audio.Enabled {
		t.Error("audio not enabled")
	}
	if len(s.Audio.TrackedSounds) != 1 || s.Audio.TrackedSounds[0] != "door_knock" {
		t.Errorf("tracked sounds = %v", s.Audio.TrackedSounds)
	}
	if s.Screenshots.Dir != filepath.Join("/var/lib/sentinel", "screenshots") {
		t.Errorf("screenshots dir = %q", s.Screenshots.Dir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_MissingStreamURL(t *testing.T) {
	path := writeConfig(t, `
sentinel:
  detect:
    object_service_url: http://localhost:8080
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a configuration without a stream url")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load accepted a missing file")
	}
}
