package detect

import (
	"context"

	"github.com/home-sentinel/edge/internal/logger"
)

// WindowSize is the fixed YAMNet input window: 0.98s of mono 16kHz samples.
const WindowSize = 15680

// SoundClient is an HTTP client for the YAMNet sound classification service
type SoundClient struct {
	client
	topK int
}

// soundRequest is the wire request for the sound classification service
type soundRequest struct {
	Samples    []float32 `json:"samples"` // Normalized [-1, 1] mono samples
	SampleRate int       `json:"sample_rate"`
	TopK       int       `json:"top_k,omitempty"`
}

// soundResponse is the wire response of the sound classification service
type soundResponse struct {
	Scores          []SoundScore `json:"scores"`
	InferenceTimeMs float64      `json:"inference_time_ms"`
}

// NewSoundClient creates a new sound classification client
func NewSoundClient(cfg ClientConfig, log *logger.Logger) *SoundClient {
	return &SoundClient{
		client: newClient(cfg, log),
		topK:   3,
	}
}

// Classify classifies a rolling window of mono 16kHz samples. Windows shorter
// than WindowSize are zero-padded; longer ones are truncated.
func (c *SoundClient) Classify(ctx context.Context, window []float32) ([]SoundScore, error) {
	samples := window
	if len(samples) > WindowSize {
		samples = samples[:WindowSize]
	} else if len(samples) < WindowSize {
		padded := make([]float32, WindowSize)
		copy(padded, samples)
		samples = padded
	}

	req := soundRequest{
		Samples:    samples,
		SampleRate: 16000,
		TopK:       c.topK,
	}

	var resp soundResponse
	if err := c.postJSON(ctx, "/api/v1/classify", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("Sound classification completed",
		"score_count", len(resp.Scores),
		"inference_time_ms", resp.InferenceTimeMs,
	)

	return resp.Scores, nil
}
