package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// Frame represents a single decoded video frame
type Frame struct {
	Data       []byte    // JPEG-encoded frame data
	ID         uint64    // Monotonically increasing frame counter
	CapturedAt time.Time // When the frame was read off the stream
	Width      int       // Frame width in pixels
	Height     int       // Frame height in pixels
}

// Stream is the consumer-facing contract of a live frame source.
type Stream interface {
	// Latest returns the most recently read frame (nil before the first
	// successful pull), its ID and the time of the last successful pull.
	// It never blocks.
	Latest() (*Frame, uint64, time.Time)
	Close() error
}

// Source reads MJPEG frames from an FFmpeg pipe over a video stream.
//
// A single background goroutine continuously pulls frames and replaces the
// latest-frame slot. Old unread frames are discarded on purpose: a slow
// consumer must always see the newest data rather than fall behind.
type Source struct {
	logger     *logger.Logger
	url        string
	retryDelay time.Duration

	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu          sync.Mutex
	latest      *Frame
	frameID     uint64
	lastSuccess time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// SourceConfig contains frame source configuration
type SourceConfig struct {
	URL            string
	PullRetryDelay time.Duration // Sleep after a failed pull before retrying
	Quality        int           // MJPEG quality passed to ffmpeg (-q:v)
}

// OpenSource starts an FFmpeg process decoding the stream to an MJPEG pipe
// and launches the background reader.
func OpenSource(ffmpeg *FFmpegWrapper, cfg SourceConfig, log *logger.Logger) (*Source, error) {
	retryDelay := cfg.PullRetryDelay
	if retryDelay == 0 {
		retryDelay = 50 * time.Millisecond
	}
	quality := cfg.Quality
	if quality == 0 {
		quality = 5
	}

	ctx, cancel := context.WithCancel(context.Background())

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}
	if strings.HasPrefix(cfg.URL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", cfg.URL,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprintf("%d", quality),
		"-",
	)

	cmd := ffmpeg.BuildCommand(ctx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &Source{
		logger:     log,
		url:        cfg.URL,
		retryDelay: retryDelay,
		cmd:        cmd,
		stdout:     stdout,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go s.readLoop()

	log.Info("Frame source opened", "url", cfg.URL)

	return s, nil
}

// readLoop continuously pulls frames from the pipe and replaces the latest
// slot. Pull failures sleep briefly and retry; staleness is judged by the
// consumer from the last-success timestamp, not signalled from here.
func (s *Source) readLoop() {
	defer close(s.done)

	reader := bufio.NewReaderSize(s.stdout, 1<<16)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		data, err := readJPEG(reader)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
			continue
		}

		frame := &Frame{
			Data:       data,
			CapturedAt: time.Now(),
		}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			frame.Width = cfg.Width
			frame.Height = cfg.Height
		}

		s.storeFrame(frame)
	}
}

// storeFrame assigns the next frame ID and replaces the latest slot. The ID,
// frame and last-success time change together under one lock so readers never
// see a half-updated tuple.
func (s *Source) storeFrame(frame *Frame) {
	s.mu.Lock()
	s.frameID++
	frame.ID = s.frameID
	s.latest = frame
	s.lastSuccess = frame.CapturedAt
	s.mu.Unlock()
}

// readJPEG scans the pipe for the next complete JPEG image (SOI..EOI).
func readJPEG(r *bufio.Reader) ([]byte, error) {
	// Seek start-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	buf := make([]byte, 0, 32*1024)
	buf = append(buf, 0xFF, 0xD8)

	// Accumulate until end-of-image marker.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			buf = append(buf, next)
			if next == 0xD9 {
				return buf, nil
			}
		}
	}
}

// Latest returns the most recent frame, its ID and the last pull success time.
// It is a cheap synchronized read and never blocks.
func (s *Source) Latest() (*Frame, uint64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.frameID, s.lastSuccess
}

// Close terminates the FFmpeg process and waits for the reader to exit.
func (s *Source) Close() error {
	s.cancel()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.done
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
	s.logger.Info("Frame source closed", "url", s.url)
	return nil
}
