package app

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/home-sentinel/edge/internal/detect"
)

func encodeTestFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

func TestCropJPEG_PadsAndClamps(t *testing.T) {
	frame := encodeTestFrame(t, 640, 480)
	// Box near the top-left corner: padding must clamp at the frame edge
	box := detect.BoundingBox{X1: 10, Y1: 10, X2: 210, Y2: 310}

	crop, err := cropJPEG(frame, box, 0.2, 64)
	if err != nil {
		t.Fatalf("cropJPEG failed: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(crop))
	if err != nil {
		t.Fatalf("crop is not a valid jpeg: %v", err)
	}
	// Width: 200px box + 40px padding each side, left clamped to 0: 250
	if cfg.Width != 250 {
		t.Errorf("crop width = %d, want 250", cfg.Width)
	}
	// Height: 300px box + 60px padding each side, top clamped to 0: 370
	if cfg.Height != 370 {
		t.Errorf("crop height = %d, want 370", cfg.Height)
	}
}

func TestCropJPEG_RejectsTinyBox(t *testing.T) {
	frame := encodeTestFrame(t, 640, 480)
	box := detect.BoundingBox{X1: 100, Y1: 100, X2: 130, Y2: 130}

	if _, err := cropJPEG(frame, box, 0.2, 64); err == nil {
		t.Fatal("cropJPEG accepted a box below the minimum size")
	}
}

func TestCropJPEG_RejectsGarbage(t *testing.T) {
	if _, err := cropJPEG([]byte("not a jpeg"), detect.BoundingBox{X2: 100, Y2: 100}, 0.2, 10); err == nil {
		t.Fatal("cropJPEG accepted non-jpeg data")
	}
}
