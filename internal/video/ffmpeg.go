package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/home-sentinel/edge/internal/logger"
)

// FFmpegWrapper wraps FFmpeg invocation for stream decoding
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
}

// NewFFmpegWrapper creates a new FFmpeg wrapper
func NewFFmpegWrapper(log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:     log,
		ffmpegPath: "ffmpeg",
	}

	ffmpegPath, err := wrapper.detectFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	log.Info("FFmpeg wrapper initialized", "path", wrapper.ffmpegPath)

	return wrapper, nil
}

// detectFFmpeg finds FFmpeg executable
func (f *FFmpegWrapper) detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// BuildCommand builds an FFmpeg command
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// ValidateInput validates an input source (RTSP URL or device path)
func (f *FFmpegWrapper) ValidateInput(input string) error {
	args := []string{
		"-hide_banner",
		"-probesize", "32",
		"-analyzeduration", "1000000",
		"-i", input,
		"-f", "null",
		"-",
	}

	cmd := f.BuildCommand(context.Background(), args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "Connection refused") ||
			strings.Contains(string(output), "No such file") ||
			strings.Contains(string(output), "Invalid data found") {
			return fmt.Errorf("invalid input: %s: %w", string(output), err)
		}
		return fmt.Errorf("input validation failed: %w", err)
	}

	return nil
}
