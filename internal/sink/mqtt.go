package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/home-sentinel/edge/internal/logger"
	"github.com/home-sentinel/edge/internal/presence"
)

// MQTTConfig contains MQTT sink configuration
type MQTTConfig struct {
	Broker        string // host:port
	Username      string
	Password      string
	ClientID      string
	DeviceID      string // Home Assistant device identifier
	DeviceName    string // Home Assistant device display name
	ImagesEnabled bool   // Publish image entities; requires screenshot web URLs
	EventCooldown time.Duration
}

// MQTTSink publishes events to an MQTT broker with Home Assistant discovery.
// Sensor state topics are retained so Home Assistant restarts pick up the
// last known values. Identical events are rate-limited per subject.
type MQTTSink struct {
	logger *logger.Logger
	cfg    MQTTConfig
	client mqtt.Client

	mu          sync.Mutex
	lastPublish map[string]time.Time
}

const publishTimeout = 2 * time.Second

// NewMQTTSink creates an MQTT sink and connects to the broker. The broker
// being down is not fatal: the paho client reconnects in the background and
// publishes resume once it does.
func NewMQTTSink(cfg MQTTConfig, log *logger.Logger) (*MQTTSink, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "home-sentinel"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "home_sentinel"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Home Sentinel"
	}
	if cfg.EventCooldown == 0 {
		cfg.EventCooldown = 10 * time.Second
	}

	s := &MQTTSink{
		logger:      log,
		cfg:         cfg,
		lastPublish: make(map[string]time.Time),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(s.topic("status"), "offline", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info("MQTT connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
		s.publishDiscovery(c)
		c.Publish(s.topic("status"), 1, true, "online")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		log.Warn("MQTT connection lost, will auto-reconnect", "error", err.Error(), "broker", cfg.Broker)
	}

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		log.Warn("MQTT broker not reachable yet, connecting in background", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		log.Warn("MQTT connection failed, retrying in background", "error", err.Error())
	}

	return s, nil
}

func (s *MQTTSink) topic(suffix string) string {
	return fmt.Sprintf("home_sentinel/%s/%s", s.cfg.DeviceID, suffix)
}

// allow applies the per-subject event cooldown
func (s *MQTTSink) allow(key string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastPublish[key]; ok && at.Sub(last) < s.cfg.EventCooldown {
		return false
	}
	s.lastPublish[key] = at
	return true
}

func (s *MQTTSink) publish(topic string, retained bool, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mqtt payload: %w", err)
	}
	return s.publishRaw(topic, retained, data)
}

func (s *MQTTSink) publishRaw(topic string, retained bool, payload []byte) error {
	token := s.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish timeout: %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	s.logger.Debug("MQTT event published", "topic", topic, "size", len(payload))
	return nil
}

// fireTrigger publishes a device automation trigger for Home Assistant
// automations. Triggers are momentary, never retained.
func (s *MQTTSink) fireTrigger(kind string, payload map[string]any) {
	if err := s.publish(s.topic("trigger/"+kind), false, payload); err != nil {
		s.logger.Warn("Failed to fire device trigger", "trigger", kind, "error", err.Error())
	}
}

// publishImage updates one of the image entities. The timestamp query forces
// Home Assistant to refetch past its browser cache.
func (s *MQTTSink) publishImage(id, screenshotRef string, at time.Time) {
	if !s.cfg.ImagesEnabled || screenshotRef == "" {
		return
	}
	url := imageURL(screenshotRef, at)
	if err := s.publishRaw(s.topic("image/"+id+"/url"), true, []byte(url)); err != nil {
		s.logger.Warn("Failed to update image entity", "image", id, "error", err.Error())
	}
}

func imageURL(screenshotRef string, at time.Time) string {
	return fmt.Sprintf("%s?t=%d", screenshotRef, at.Unix())
}

// personPresent reports whether any label in the stable set is a person,
// named or generic
func personPresent(stable []string) bool {
	for _, label := range stable {
		if presence.BaseLabel(label) == "person" {
			return true
		}
	}
	return false
}

func (s *MQTTSink) RecordPresence(ctx context.Context, added, removed, stable []string, at time.Time) error {
	state := "OFF"
	if personPresent(stable) {
		state = "ON"
	}
	if err := s.publishRaw(s.topic("person_detected"), true, []byte(state)); err != nil {
		s.logger.Warn("Failed to update occupancy sensor", "error", err.Error())
	}
	return s.publish(s.topic("presence"), true, map[string]any{
		"added":     added,
		"removed":   removed,
		"stable":    stable,
		"timestamp": at.Format(time.RFC3339),
	})
}

func (s *MQTTSink) RecordSound(ctx context.Context, label string, confidence float64, at time.Time) error {
	if !s.allow("sound:"+label, at) {
		return nil
	}
	s.fireTrigger("sound_detected", map[string]any{
		"sound":      label,
		"confidence": confidence,
	})
	return s.publish(s.topic("last_sound"), true, map[string]any{
		"label":      label,
		"confidence": confidence,
		"timestamp":  at.Format(time.RFC3339),
	})
}

func (s *MQTTSink) RecordFace(ctx context.Context, name string, confidence float64, screenshotRef string, at time.Time) error {
	if !s.allow("face:"+name, at) {
		return nil
	}
	s.fireTrigger("face_recognized", map[string]any{
		"name":       name,
		"confidence": confidence,
	})
	s.publishImage("latest", screenshotRef, at)
	return s.publish(s.topic("last_face"), true, map[string]any{
		"name":       name,
		"confidence": confidence,
		"screenshot": screenshotRef,
		"timestamp":  at.Format(time.RFC3339),
	})
}

func (s *MQTTSink) RecordArrival(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return s.publishTransition("arrived", name, screenshotRef, at)
}

func (s *MQTTSink) RecordDeparture(ctx context.Context, name, screenshotRef string, at time.Time) error {
	return s.publishTransition("left", name, screenshotRef, at)
}

func (s *MQTTSink) publishTransition(kind, name, screenshotRef string, at time.Time) error {
	if !s.allow(kind+":"+name, at) {
		return nil
	}

	if err := s.publish(s.topic("last_presence"), true, map[string]any{
		"event":      kind,
		"name":       name,
		"screenshot": screenshotRef,
		"timestamp":  at.Format(time.RFC3339),
	}); err != nil {
		s.logger.Warn("Failed to update presence sensor", "error", err.Error())
	}
	s.fireTrigger("person_"+kind, map[string]any{
		"name":       name,
		"screenshot": screenshotRef,
	})
	s.publishImage(kind, screenshotRef, at)

	// Events are momentary, never retained
	return s.publish(s.topic("event"), false, map[string]any{
		"type":       kind,
		"name":       name,
		"screenshot": screenshotRef,
		"timestamp":  at.Format(time.RFC3339),
	})
}

// discoveryDevice is the shared Home Assistant device block
func (s *MQTTSink) discoveryDevice() map[string]any {
	return map[string]any{
		"identifiers":  []string{s.cfg.DeviceID},
		"name":         s.cfg.DeviceName,
		"manufacturer": "home-sentinel",
		"model":        "edge",
	}
}

// publishDiscovery announces the device's entities to Home Assistant. Runs
// on every (re)connect so a restarted broker re-learns the device.
func (s *MQTTSink) publishDiscovery(c mqtt.Client) {
	device := s.discoveryDevice()
	availability := []map[string]string{{"topic": s.topic("status")}}

	sensors := []struct {
		key      string
		name     string
		topic    string
		template string
		icon     string
	}{
		{"last_face", "Last Face", s.topic("last_face"), "{{ value_json.name }}", "mdi:face-recognition"},
		{"last_sound", "Last Sound", s.topic("last_sound"), "{{ value_json.label }}", "mdi:ear-hearing"},
		{"last_presence", "Last Presence Event", s.topic("last_presence"), "{{ value_json.event }}", "mdi:home-account"},
		{"presence", "Presence", s.topic("presence"), "{{ value_json.added | join(', ') }}", "mdi:motion-sensor"},
	}

	for _, sensor := range sensors {
		config := map[string]any{
			"name":                  sensor.name,
			"unique_id":             fmt.Sprintf("%s_%s", s.cfg.DeviceID, sensor.key),
			"state_topic":           sensor.topic,
			"value_template":        sensor.template,
			"json_attributes_topic": sensor.topic,
			"icon":                  sensor.icon,
			"availability":          availability,
			"device":                device,
		}
		topic := fmt.Sprintf("homeassistant/sensor/%s_%s/config", s.cfg.DeviceID, sensor.key)
		if err := s.publish(topic, true, config); err != nil {
			s.logger.Warn("Failed to publish discovery config", "entity", sensor.key, "error", err.Error())
		}
	}

	binarySensors := []struct {
		key         string
		name        string
		topic       string
		payloadOn   string
		payloadOff  string
		deviceClass string
	}{
		{"status", "Status", s.topic("status"), "online", "offline", "connectivity"},
		{"person_detected", "Person Detected", s.topic("person_detected"), "ON", "OFF", "occupancy"},
	}

	for _, sensor := range binarySensors {
		config := map[string]any{
			"name":         sensor.name,
			"unique_id":    fmt.Sprintf("%s_%s", s.cfg.DeviceID, sensor.key),
			"state_topic":  sensor.topic,
			"payload_on":   sensor.payloadOn,
			"payload_off":  sensor.payloadOff,
			"device_class": sensor.deviceClass,
			"device":       device,
		}
		topic := fmt.Sprintf("homeassistant/binary_sensor/%s_%s/config", s.cfg.DeviceID, sensor.key)
		if err := s.publish(topic, true, config); err != nil {
			s.logger.Warn("Failed to publish discovery config", "entity", sensor.key, "error", err.Error())
		}
	}

	if s.cfg.ImagesEnabled {
		images := []struct {
			key  string
			name string
		}{
			{"latest", "Latest Recognition"},
			{"arrived", "Last Arrival"},
			{"left", "Last Departure"},
		}
		for _, img := range images {
			config := map[string]any{
				"name":      img.name,
				"unique_id": fmt.Sprintf("%s_image_%s", s.cfg.DeviceID, img.key),
				"url_topic": s.topic("image/" + img.key + "/url"),
				"device":    device,
			}
			topic := fmt.Sprintf("homeassistant/image/%s_image_%s/config", s.cfg.DeviceID, img.key)
			if err := s.publish(topic, true, config); err != nil {
				s.logger.Warn("Failed to publish discovery config", "entity", "image_"+img.key, "error", err.Error())
			}
		}
	}

	for _, trigger := range []string{"face_recognized", "sound_detected", "person_arrived", "person_left"} {
		config := map[string]any{
			"automation_type": "trigger",
			"type":            trigger,
			"subtype":         trigger,
			"topic":           s.topic("trigger/" + trigger),
			"device":          device,
		}
		topic := fmt.Sprintf("homeassistant/device_automation/%s_%s/config", s.cfg.DeviceID, trigger)
		if err := s.publish(topic, true, config); err != nil {
			s.logger.Warn("Failed to publish discovery config", "entity", "trigger_"+trigger, "error", err.Error())
		}
	}
}

// Close publishes the offline status and disconnects
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		token := s.client.Publish(s.topic("status"), 1, true, "offline")
		token.WaitTimeout(publishTimeout)
		s.client.Disconnect(250)
		s.logger.Info("MQTT disconnected")
	}
	return nil
}
