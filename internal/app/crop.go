package app

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/home-sentinel/edge/internal/detect"
)

// cropJPEG cuts a padded region around a detection box out of a JPEG frame
// and re-encodes it. The padding gives the face embedder context around a
// tight person box; boxes smaller than minSize after padding are rejected,
// they carry too few pixels for a usable embedding.
func cropJPEG(frameData []byte, box detect.BoundingBox, paddingRatio float64, minSize int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frameData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	bounds := img.Bounds()

	padX := int(box.Width() * paddingRatio)
	padY := int(box.Height() * paddingRatio)

	x1 := clampInt(int(box.X1)-padX, bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(box.Y1)-padY, bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(box.X2)+padX, bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(box.Y2)+padY, bounds.Min.Y, bounds.Max.Y)

	w, h := x2-x1, y2-y1
	if w < minSize || h < minSize {
		return nil, fmt.Errorf("crop too small: %dx%d", w, h)
	}

	rect := image.Rect(x1, y1, x2, y2)
	crop := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(crop, crop.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
