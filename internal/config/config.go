package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Sentinel SentinelConfig `yaml:"sentinel"`
	Log      LogConfig      `yaml:"log,omitempty"`
}

// SentinelConfig contains the home-sentinel specific configuration
type SentinelConfig struct {
	DataDir     string            `yaml:"data_dir"`
	Stream      StreamConfig      `yaml:"stream"`
	Detect      DetectConfig      `yaml:"detect"`
	Presence    PresenceConfig    `yaml:"presence"`
	Faces       FacesConfig       `yaml:"faces"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Audio       AudioConfig       `yaml:"audio"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Stats       StatsConfig       `yaml:"stats"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Screenshots ScreenshotsConfig `yaml:"screenshots"`
	Journal     JournalConfig     `yaml:"journal"`
	Web         WebConfig         `yaml:"web"`
}

// StreamConfig contains video source and reconnect configuration
type StreamConfig struct {
	URL                       string        `yaml:"url"`
	PullRetryDelay            time.Duration `yaml:"pull_retry_delay"`
	StaleThreshold            time.Duration `yaml:"stale_threshold"`
	ReconnectAttemptThreshold int           `yaml:"reconnect_attempt_threshold"`
	ReconnectAttempts         int           `yaml:"reconnect_attempts"`
	ReconnectBaseDelay        time.Duration `yaml:"reconnect_base_delay"`
	ReconnectFallbackSleep    time.Duration `yaml:"reconnect_fallback_sleep"`
}

// DetectConfig contains external detector service configuration
type DetectConfig struct {
	ObjectServiceURL    string        `yaml:"object_service_url"`
	FaceServiceURL      string        `yaml:"face_service_url"`
	SoundServiceURL     string        `yaml:"sound_service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
}

// PresenceConfig contains debounce configuration
type PresenceConfig struct {
	ImportantLabels []string `yaml:"important_labels"`
	MinStable       int      `yaml:"min_stable"`
	MaxMissing      int      `yaml:"max_missing"`
	OtherMinStable  int      `yaml:"other_min_stable"`
	OtherMaxMissing int      `yaml:"other_max_missing"`
}

// FacesConfig contains face matching configuration
type FacesConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinThreshold        float64 `yaml:"min_threshold"`
	MaxThreshold        float64 `yaml:"max_threshold"`
	MinSimDiff          float64 `yaml:"min_sim_diff"`
	HighConfidenceBonus float64 `yaml:"high_confidence_bonus"`
	PaddingRatio        float64 `yaml:"padding_ratio"`
	MinFaceSize         int     `yaml:"min_face_size"`
	CacheValidityFrames int     `yaml:"cache_validity_frames"`
	CacheSweepInterval  int     `yaml:"cache_sweep_interval"`
}

// GalleryConfig contains identity gallery configuration
type GalleryConfig struct {
	DatabaseURL string `yaml:"database_url"`
	CacheDir    string `yaml:"cache_dir"`
	Refresh     bool   `yaml:"refresh"`
}

// AudioConfig contains audio ingestion and sound gating configuration
type AudioConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SampleRate      int           `yaml:"sample_rate"`
	ChunkSize       int           `yaml:"chunk_size"`
	ConfidenceFloor float64       `yaml:"confidence_floor"`
	MinInterval     time.Duration `yaml:"min_interval"`
	TrackedSounds   []string      `yaml:"tracked_sounds"`
	RMSThreshold    float64       `yaml:"rms_threshold"`
}

// CorrelationConfig contains presence correlation configuration
type CorrelationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Window     time.Duration `yaml:"window"`
	DoorSounds []string      `yaml:"door_sounds"`
}

// StatsConfig contains the statistics database configuration
type StatsConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// MQTTConfig contains the Home Assistant MQTT bridge configuration
type MQTTConfig struct {
	Broker        string        `yaml:"broker"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	ClientID      string        `yaml:"client_id"`
	DeviceID      string        `yaml:"device_id"`
	DeviceName    string        `yaml:"device_name"`
	EventCooldown time.Duration `yaml:"event_cooldown"`
}

// ScreenshotsConfig contains screenshot persistence configuration
type ScreenshotsConfig struct {
	Dir     string `yaml:"dir"`
	WebURL  string `yaml:"web_url"`
	Quality int    `yaml:"quality"`
}

// JournalConfig contains the local event journal configuration
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WebConfig contains the status web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	if cfg.Sentinel.Stream.URL == "" {
		return nil, fmt.Errorf("sentinel.stream.url is required")
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"/etc/home-sentinel/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	s := &c.Sentinel

	if s.DataDir == "" {
		s.DataDir = "./data"
	}

	if s.Stream.PullRetryDelay == 0 {
		s.Stream.PullRetryDelay = 50 * time.Millisecond
	}
	if s.Stream.StaleThreshold == 0 {
		s.Stream.StaleThreshold = 10 * time.Second
	}
	if s.Stream.ReconnectAttemptThreshold == 0 {
		s.Stream.ReconnectAttemptThreshold = 20
	}
	if s.Stream.ReconnectAttempts == 0 {
		s.Stream.ReconnectAttempts = 3
	}
	if s.Stream.ReconnectBaseDelay == 0 {
		s.Stream.ReconnectBaseDelay = 5 * time.Second
	}
	if s.Stream.ReconnectFallbackSleep == 0 {
		s.Stream.ReconnectFallbackSleep = 10 * time.Second
	}

	if s.Detect.ObjectServiceURL == "" {
		s.Detect.ObjectServiceURL = "http://localhost:8080"
	}
	if s.Detect.FaceServiceURL == "" {
		s.Detect.FaceServiceURL = "http://localhost:8081"
	}
	if s.Detect.SoundServiceURL == "" {
		s.Detect.SoundServiceURL = "http://localhost:8082"
	}
	if s.Detect.Timeout == 0 {
		s.Detect.Timeout = 30 * time.Second
	}
	if s.Detect.ConfidenceThreshold == 0 {
		s.Detect.ConfidenceThreshold = 0.5
	}

	if len(s.Presence.ImportantLabels) == 0 {
		s.Presence.ImportantLabels = []string{"person", "dog", "cat"}
	}
	if s.Presence.MinStable == 0 {
		s.Presence.MinStable = 10
	}
	if s.Presence.MaxMissing == 0 {
		s.Presence.MaxMissing = 30
	}
	if s.Presence.OtherMinStable == 0 {
		s.Presence.OtherMinStable = 15
	}
	if s.Presence.OtherMaxMissing == 0 {
		s.Presence.OtherMaxMissing = 15
	}

	if s.Faces.SimilarityThreshold == 0 {
		s.Faces.SimilarityThreshold = 0.55
	}
	if s.Faces.MinThreshold == 0 {
		s.Faces.MinThreshold = 0.5
	}
	if s.Faces.MaxThreshold == 0 {
		s.Faces.MaxThreshold = 0.6
	}
	if s.Faces.MinSimDiff == 0 {
		s.Faces.MinSimDiff = 0.08
	}
	if s.Faces.HighConfidenceBonus == 0 {
		s.Faces.HighConfidenceBonus = 0.1
	}
	if s.Faces.PaddingRatio == 0 {
		s.Faces.PaddingRatio = 0.2
	}
	if s.Faces.MinFaceSize == 0 {
		s.Faces.MinFaceSize = 64
	}
	if s.Faces.CacheValidityFrames == 0 {
		s.Faces.CacheValidityFrames = 30
	}
	if s.Faces.CacheSweepInterval == 0 {
		s.Faces.CacheSweepInterval = 100
	}

	if s.Gallery.CacheDir == "" {
		s.Gallery.CacheDir = filepath.Join(s.DataDir, "cache")
	}

	if s.Audio.SampleRate == 0 {
		s.Audio.SampleRate = 16000
	}
	if s.Audio.ChunkSize == 0 {
		s.Audio.ChunkSize = 4096
	}
	if s.Audio.ConfidenceFloor == 0 {
		s.Audio.ConfidenceFloor = 0.3
	}
	if s.Audio.MinInterval == 0 {
		s.Audio.MinInterval = 5 * time.Second
	}
	if len(s.Audio.TrackedSounds) == 0 {
		s.Audio.TrackedSounds = []string{"speech", "dog_bark", "door_knock"}
	}
	if s.Audio.RMSThreshold == 0 {
		s.Audio.RMSThreshold = 1000
	}

	if s.Correlation.Window == 0 {
		s.Correlation.Window = 30 * time.Second
	}
	if len(s.Correlation.DoorSounds) == 0 {
		s.Correlation.DoorSounds = []string{"door_knock"}
	}

	if s.MQTT.ClientID == "" {
		s.MQTT.ClientID = "home-sentinel"
	}
	if s.MQTT.DeviceID == "" {
		s.MQTT.DeviceID = "home_sentinel"
	}
	if s.MQTT.DeviceName == "" {
		s.MQTT.DeviceName = "Home Sentinel"
	}
	if s.MQTT.EventCooldown == 0 {
		s.MQTT.EventCooldown = 10 * time.Second
	}

	if s.Screenshots.Dir == "" {
		s.Screenshots.Dir = filepath.Join(s.DataDir, "screenshots")
	}
	if s.Screenshots.Quality == 0 {
		s.Screenshots.Quality = 85
	}

	if s.Journal.Path == "" {
		s.Journal.Path = filepath.Join(s.DataDir, "db", "sentinel.db")
	}

	if s.Web.Host == "" {
		s.Web.Host = "0.0.0.0"
	}
	if s.Web.Port == 0 {
		s.Web.Port = 8099
	}
}
