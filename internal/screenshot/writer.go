// Package screenshot saves annotated frames for notifications and the
// status page.
package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/home-sentinel/edge/internal/detect"
	"github.com/home-sentinel/edge/internal/logger"
)

// WriterConfig contains screenshot writer configuration
type WriterConfig struct {
	Dir     string // Output directory, empty disables the writer
	WebURL  string // Public base URL, falls back to the local path when empty
	Quality int    // JPEG quality for saved screenshots
}

// Writer saves JPEG frames with detection boxes drawn on them and returns a
// reference usable in notifications
type Writer struct {
	logger *logger.Logger
	cfg    WriterConfig
}

// NewWriter creates a new screenshot writer
func NewWriter(cfg WriterConfig, log *logger.Logger) (*Writer, error) {
	if cfg.Quality == 0 {
		cfg.Quality = 85
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}
	return &Writer{
		logger: log,
		cfg:    cfg,
	}, nil
}

// Enabled reports whether screenshots are being written
func (w *Writer) Enabled() bool { return w.cfg.Dir != "" }

// Save writes an annotated copy of frame and returns a reference to it: a
// web URL when one is configured, otherwise the local file path. tag becomes
// part of the file name.
func (w *Writer) Save(frame []byte, boxes []detect.BoundingBox, tag string) (string, error) {
	if w.cfg.Dir == "" {
		return "", nil
	}

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("failed to decode frame: %w", err)
	}

	annotated := image.NewRGBA(img.Bounds())
	draw.Draw(annotated, img.Bounds(), img, img.Bounds().Min, draw.Src)
	for _, box := range boxes {
		drawBox(annotated, box)
	}

	name := fmt.Sprintf("%s_%s.jpg", time.Now().Format("20060102_150405"), sanitize(tag))
	path := filepath.Join(w.cfg.Dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create screenshot file: %w", err)
	}
	defer file.Close()

	if err := jpeg.Encode(file, annotated, &jpeg.Options{Quality: w.cfg.Quality}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode screenshot: %w", err)
	}

	w.logger.Debug("Screenshot saved", "path", path, "boxes", len(boxes))

	if w.cfg.WebURL != "" {
		return strings.TrimRight(w.cfg.WebURL, "/") + "/screenshots/" + name, nil
	}
	return path, nil
}

var boxColor = color.RGBA{R: 0, G: 220, B: 60, A: 255}

const boxThickness = 3

// drawBox draws a rectangle outline clamped to the image bounds
func drawBox(img *image.RGBA, box detect.BoundingBox) {
	bounds := img.Bounds()
	x1, y1 := clamp(int(box.X1), bounds.Min.X, bounds.Max.X-1), clamp(int(box.Y1), bounds.Min.Y, bounds.Max.Y-1)
	x2, y2 := clamp(int(box.X2), bounds.Min.X, bounds.Max.X-1), clamp(int(box.Y2), bounds.Min.Y, bounds.Max.Y-1)
	if x2 <= x1 || y2 <= y1 {
		return
	}

	for t := 0; t < boxThickness; t++ {
		for x := x1; x <= x2; x++ {
			img.Set(x, clamp(y1+t, y1, y2), boxColor)
			img.Set(x, clamp(y2-t, y1, y2), boxColor)
		}
		for y := y1; y <= y2; y++ {
			img.Set(clamp(x1+t, x1, x2), y, boxColor)
			img.Set(clamp(x2-t, x1, x2), y, boxColor)
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitize makes a tag safe for use in a file name
func sanitize(tag string) string {
	if tag == "" {
		return "frame"
	}
	var b strings.Builder
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
