package audio

import (
	"testing"

	"github.com/home-sentinel/edge/internal/logger"
)

func TestPipeArgsUseConfiguredSampleRate(t *testing.T) {
	d := NewDetector(DetectorConfig{
		URL:        "rtsp://cam/stream",
		SampleRate: 22050,
	}, nil, nil, nil, nil, logger.NewNopLogger())

	args := d.pipeArgs()
	found := false
	for i, arg := range args {
		if arg == "-ar" {
			found = true
			if i+1 >= len(args) || args[i+1] != "22050" {
				t.Errorf("-ar value = %q, want 22050", args[i+1])
			}
		}
	}
	if !found {
		t.Fatal("no -ar flag in ffmpeg args")
	}

	hasTCP := false
	for _, arg := range args {
		if arg == "-rtsp_transport" {
			hasTCP = true
		}
	}
	if !hasTCP {
		t.Error("rtsp source missing -rtsp_transport")
	}
}

func TestPipeArgsDefaultSampleRate(t *testing.T) {
	d := NewDetector(DetectorConfig{URL: "http://cam/stream"}, nil, nil, nil, nil, logger.NewNopLogger())

	args := d.pipeArgs()
	for i, arg := range args {
		if arg == "-ar" {
			if args[i+1] != "16000" {
				t.Errorf("-ar value = %q, want the 16000 default", args[i+1])
			}
			return
		}
	}
	t.Fatal("no -ar flag in ffmpeg args")
}
