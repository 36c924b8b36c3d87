package detect

import (
	"context"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// ObjectClient is an HTTP client for the YOLO object detection service
type ObjectClient struct {
	client
	confidenceThreshold float64
}

// objectRequest is the wire request for the object detection service
type objectRequest struct {
	Image               string   `json:"image"` // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// objectResponse is the wire response of the object detection service
type objectResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	DetectionCount  int           `json:"detection_count"`
}

// NewObjectClient creates a new object detection client
func NewObjectClient(cfg ClientConfig, log *logger.Logger) *ObjectClient {
	return &ObjectClient{
		client:              newClient(cfg, log),
		confidenceThreshold: cfg.ConfidenceThreshold,
	}
}

// Detect performs object detection on a single JPEG frame
func (c *ObjectClient) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	req := objectRequest{Image: encodeImage(frame)}
	if c.confidenceThreshold > 0 {
		req.ConfidenceThreshold = &c.confidenceThreshold
	}

	startTime := time.Now()
	var resp objectResponse
	if err := c.postJSON(ctx, "/api/v1/detect", req, &resp); err != nil {
		return nil, err
	}

	detections := make([]Detection, 0, len(resp.BoundingBoxes))
	for _, box := range resp.BoundingBoxes {
		detections = append(detections, Detection{
			Label:      box.ClassName,
			Confidence: box.Confidence,
			Box:        box,
		})
	}

	c.logger.Debug("Object detection completed",
		"detection_count", len(detections),
		"inference_time_ms", resp.InferenceTimeMs,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return detections, nil
}
