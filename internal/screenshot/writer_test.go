package screenshot

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/home-sentinel/edge/internal/detect"
	"github.com/home-sentinel/edge/internal/logger"
)

func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return buf.Bytes()
}

func TestWriter_SaveLocalPath(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(WriterConfig{Dir: dir}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	frame := testFrame(t, 320, 240)
	box := detect.BoundingBox{X1: 50, Y1: 40, X2: 200, Y2: 220}

	ref, err := writer.Save(frame, []detect.BoundingBox{box}, "Alice")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasPrefix(ref, dir) {
		t.Errorf("ref = %q, want a path under %q", ref, dir)
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		t.Fatalf("saved file unreadable: %v", err)
	}
	saved, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("saved file is not a valid jpeg: %v", err)
	}
	if saved.Bounds().Dx() != 320 || saved.Bounds().Dy() != 240 {
		t.Errorf("saved dimensions = %v, want 320x240", saved.Bounds())
	}
}

func TestWriter_SaveWebRef(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(WriterConfig{Dir: dir, WebURL: "http://sentinel.local:8099/"}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ref, err := writer.Save(testFrame(t, 64, 64), nil, "front door")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasPrefix(ref, "http://sentinel.local:8099/screenshots/") {
		t.Errorf("ref = %q, want a web url", ref)
	}
	if strings.Contains(ref, " ") {
		t.Errorf("ref %q contains an unsanitized space", ref)
	}

	// The referenced file must exist on disk
	name := ref[strings.LastIndex(ref, "/")+1:]
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("referenced file missing: %v", err)
	}
}

func TestWriter_Disabled(t *testing.T) {
	writer, err := NewWriter(WriterConfig{}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if writer.Enabled() {
		t.Fatal("writer enabled without a directory")
	}

	ref, err := writer.Save([]byte("not used"), nil, "x")
	if err != nil || ref != "" {
		t.Fatalf("disabled writer returned (%q, %v), want empty no-op", ref, err)
	}
}

func TestWriter_RejectsGarbage(t *testing.T) {
	writer, err := NewWriter(WriterConfig{Dir: t.TempDir()}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	if _, err := writer.Save([]byte("definitely not jpeg"), nil, "x"); err == nil {
		t.Fatal("Save accepted non-jpeg data")
	}
}
