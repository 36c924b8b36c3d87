package detect

import (
	"context"

	"github.com/home-sentinel/edge/internal/logger"
)

// FaceClient is an HTTP client for the InsightFace embedding service
type FaceClient struct {
	client
	maxFaces int
}

// faceRequest is the wire request for the face embedding service
type faceRequest struct {
	Image    string `json:"image"` // Base64-encoded JPEG crop
	MaxFaces int    `json:"max_faces,omitempty"`
}

// faceResponse is the wire response of the face embedding service
type faceResponse struct {
	Faces           []Face  `json:"faces"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// NewFaceClient creates a new face embedding client
func NewFaceClient(cfg ClientConfig, maxFaces int, log *logger.Logger) *FaceClient {
	if maxFaces == 0 {
		maxFaces = 10
	}
	return &FaceClient{
		client:   newClient(cfg, log),
		maxFaces: maxFaces,
	}
}

// Embed extracts face embeddings from a JPEG crop. A crop without any
// detectable face yields an empty slice, not an error.
func (c *FaceClient) Embed(ctx context.Context, crop []byte) ([]Face, error) {
	req := faceRequest{
		Image:    encodeImage(crop),
		MaxFaces: c.maxFaces,
	}

	var resp faceResponse
	if err := c.postJSON(ctx, "/api/v1/embed", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("Face embedding completed",
		"face_count", len(resp.Faces),
		"inference_time_ms", resp.InferenceTimeMs,
	)

	return resp.Faces, nil
}
