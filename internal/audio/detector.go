package audio

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/home-sentinel/edge/internal/detect"
	"github.com/home-sentinel/edge/internal/logger"
	"github.com/home-sentinel/edge/internal/video"
)

// EventHandler receives gated sound events
type EventHandler func(label string, confidence float64, at time.Time)

// DetectorConfig contains audio detection configuration
type DetectorConfig struct {
	URL           string        // Stream URL, audio track is demuxed from it
	SampleRate    int           // PCM sample rate requested from ffmpeg
	ChunkSize     int           // Bytes read from the ffmpeg pipe per call
	TrackedSounds []string      // Labels that may produce events
	RMSThreshold  float64       // Loudness fallback threshold, int16 scale
	RetryDelay    time.Duration // Wait before respawning a dead ffmpeg
}

// Detector pulls the mono PCM audio track off the camera stream via ffmpeg,
// accumulates fixed-size windows and classifies them. When no classifier is
// available it falls back to a plain loudness check so that at least loud
// events still register.
type Detector struct {
	logger     *logger.Logger
	cfg        DetectorConfig
	ffmpeg     *video.FFmpegWrapper
	classifier detect.SoundClassifier
	gate       *Gate
	handler    EventHandler
}

// NewDetector creates a new audio detector. classifier may be nil to run in
// loudness-only mode.
func NewDetector(cfg DetectorConfig, ffmpeg *video.FFmpegWrapper, classifier detect.SoundClassifier, gate *Gate, handler EventHandler, log *logger.Logger) *Detector {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4096
	}
	if cfg.RMSThreshold == 0 {
		cfg.RMSThreshold = 1000
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Detector{
		logger:     log,
		cfg:        cfg,
		ffmpeg:     ffmpeg,
		classifier: classifier,
		gate:       gate,
		handler:    handler,
	}
}

// Run pulls audio until ctx is cancelled, respawning ffmpeg whenever the
// pipe dies
func (d *Detector) Run(ctx context.Context) {
	d.logger.Info("Audio detector started",
		"url", d.cfg.URL,
		"sample_rate", d.cfg.SampleRate,
		"classifier", d.classifier != nil)

	for ctx.Err() == nil {
		if err := d.ingest(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("Audio ingestion stopped, retrying",
				"error", err.Error(),
				"retry_delay", d.cfg.RetryDelay.String())
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.RetryDelay):
		}
	}

	d.logger.Info("Audio detector stopped")
}

// ingest runs one ffmpeg process to completion, feeding PCM chunks into the
// classification window
func (d *Detector) ingest(ctx context.Context) error {
	cmd := d.ffmpeg.BuildCommand(ctx, d.pipeArgs())
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	}()

	d.logger.Debug("Audio pipe opened", "pid", cmd.Process.Pid)

	chunk := make([]byte, d.cfg.ChunkSize)
	window := make([]float32, 0, 2*detect.WindowSize)

	for ctx.Err() == nil {
		n, err := stdout.Read(chunk)
		if n == 0 {
			if err != nil {
				return err
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		window = appendSamples(window, chunk[:n])
		if len(window) >= detect.WindowSize {
			d.classify(ctx, window[len(window)-detect.WindowSize:])
			window = window[:0]
		}
	}
	return ctx.Err()
}

// pipeArgs builds the ffmpeg invocation demuxing the stream's audio track
// into raw mono PCM on stdout
func (d *Detector) pipeArgs() []string {
	args := []string{
		"-nostdin",
		"-loglevel", "error",
	}
	if strings.HasPrefix(d.cfg.URL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", d.cfg.URL,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(d.cfg.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
}

// appendSamples decodes little-endian int16 PCM into normalized float32
// samples. A trailing odd byte is dropped.
func appendSamples(dst []float32, pcm []byte) []float32 {
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		dst = append(dst, float32(s)/32768.0)
	}
	return dst
}

func (d *Detector) classify(ctx context.Context, window []float32) {
	now := time.Now()

	if d.classifier == nil {
		d.loudnessFallback(window, now)
		return
	}

	scores, err := d.classifier.Classify(ctx, window)
	if err != nil {
		d.logger.Warn("Sound classification failed, using loudness fallback", "error", err.Error())
		d.loudnessFallback(window, now)
		return
	}

	for _, score := range scores {
		label := mapLabel(score.Label)
		if label == "" || !d.tracked(label) {
			continue
		}
		d.emit(label, score.Confidence, now)
	}
}

// loudnessFallback emits a generic loud_noise event when the window's RMS
// level, on the int16 scale, exceeds the configured threshold
func (d *Detector) loudnessFallback(window []float32, now time.Time) {
	if len(window) == 0 {
		return
	}
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum/float64(len(window))) * 32768.0
	if rms <= d.cfg.RMSThreshold {
		return
	}

	confidence := rms / (d.cfg.RMSThreshold * 4)
	if confidence > 1.0 {
		confidence = 1.0
	}
	d.emit("loud_noise", confidence, now)
}

func (d *Detector) emit(label string, confidence float64, now time.Time) {
	if !d.gate.Allow(label, confidence, now) {
		return
	}
	d.logger.Info("Sound event detected",
		"label", label,
		"confidence", confidence)
	if d.handler != nil {
		d.handler(label, confidence, now)
	}
}

func (d *Detector) tracked(label string) bool {
	if len(d.cfg.TrackedSounds) == 0 {
		return true
	}
	for _, t := range d.cfg.TrackedSounds {
		if t == label {
			return true
		}
	}
	return label == "loud_noise"
}

// labelAliases folds the classifier's fine-grained class names into the
// coarse labels the rest of the system understands
var labelAliases = map[string][]string{
	"speech":     {"speech", "conversation", "narration", "talk", "chatter"},
	"dog_bark":   {"dog", "bark", "bow-wow", "growl", "yip", "howl", "whimper"},
	"door_knock": {"knock", "door", "doorbell", "ding-dong", "slam", "tap"},
}

// mapLabel maps a raw classifier class name to a tracked label, or "" when
// the class is not interesting
func mapLabel(raw string) string {
	lower := strings.ToLower(raw)
	for label, aliases := range labelAliases {
		for _, alias := range aliases {
			if strings.Contains(lower, alias) {
				return label
			}
		}
	}
	return ""
}
