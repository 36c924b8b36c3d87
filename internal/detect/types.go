package detect

import "context"

// BoundingBox represents a detected object's bounding box
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`
}

// Width returns the box width in pixels
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Detection is a single object detection
type Detection struct {
	Label      string
	Confidence float64
	Box        BoundingBox
}

// Face is a single face observation with its embedding vector
type Face struct {
	Embedding []float32   `json:"embedding"`
	Box       BoundingBox `json:"box"`
}

// SoundScore is a single sound classification score
type SoundScore struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ObjectDetector detects objects in a JPEG frame
type ObjectDetector interface {
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// FaceEmbedder extracts face embeddings from a JPEG crop.
// Zero or more faces may be returned per crop.
type FaceEmbedder interface {
	Embed(ctx context.Context, crop []byte) ([]Face, error)
}

// SoundClassifier classifies a fixed-size rolling window of mono 16kHz
// samples. Callers zero-pad partial windows.
type SoundClassifier interface {
	Classify(ctx context.Context, window []float32) ([]SoundScore, error)
}
