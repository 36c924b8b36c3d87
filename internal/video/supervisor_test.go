package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// fakeStream is a scriptable Stream for supervisor tests
type fakeStream struct {
	mu          sync.Mutex
	frameID     uint64
	lastSuccess time.Time
	closed      bool
}

func (f *fakeStream) Latest() (*Frame, uint64, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frameID == 0 {
		return nil, 0, f.lastSuccess
	}
	return &Frame{ID: f.frameID}, f.frameID, f.lastSuccess
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStream) advance() {
	f.mu.Lock()
	f.frameID++
	f.lastSuccess = time.Now()
	f.mu.Unlock()
}

func fastConfig() SupervisorConfig {
	return SupervisorConfig{
		StaleThreshold:            50 * time.Millisecond,
		ReconnectAttemptThreshold: 3,
		ReconnectAttempts:         2,
		ReconnectBaseDelay:        time.Millisecond,
		ReconnectFallbackSleep:    5 * time.Millisecond,
	}
}

func TestSupervisor_ConnectAdoptsStream(t *testing.T) {
	stream := &fakeStream{}
	sup := NewSupervisor(func(ctx context.Context) (Stream, error) {
		return stream, nil
	}, fastConfig(), logger.NewNopLogger())

	if err := sup.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if sup.State() != StateConnected {
		t.Fatalf("state = %v, want connected", sup.State())
	}
}

func TestSupervisor_HealthyPollsStayConnected(t *testing.T) {
	stream := &fakeStream{}
	sup := NewSupervisor(func(ctx context.Context) (Stream, error) {
		return stream, nil
	}, fastConfig(), logger.NewNopLogger())
	sup.Connect(context.Background())

	for i := 0; i < 10; i++ {
		stream.advance()
		if err := sup.Poll(context.Background()); err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if sup.State() != StateConnected {
			t.Fatalf("state = %v after healthy poll, want connected", sup.State())
		}
	}
	if sup.Reconnects() != 0 {
		t.Fatalf("reconnects = %d on a healthy stream, want 0", sup.Reconnects())
	}
}

func TestSupervisor_StaleStreamReconnects(t *testing.T) {
	first := &fakeStream{}
	second := &fakeStream{}
	opens := 0
	sup := NewSupervisor(func(ctx context.Context) (Stream, error) {
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	}, fastConfig(), logger.NewNopLogger())
	sup.Connect(context.Background())

	first.advance()
	sup.Poll(context.Background())

	// Stream stops advancing: polls go stale and eventually trigger a
	// reconnect onto the second stream
	for i := 0; i < 5 && sup.Reconnects() == 0; i++ {
		sup.Poll(context.Background())
	}

	if sup.Reconnects() != 1 {
		t.Fatalf("reconnects = %d after stale stream, want 1", sup.Reconnects())
	}
	if !first.closed {
		t.Fatal("stale stream was not closed before reconnecting")
	}
	if sup.State() != StateConnected {
		t.Fatalf("state = %v after reconnect, want connected", sup.State())
	}
}

func TestSupervisor_FailedCyclesKeepRetrying(t *testing.T) {
	stream := &fakeStream{}
	opens := 0
	sup := NewSupervisor(func(ctx context.Context) (Stream, error) {
		opens++
		// Two full failed cycles (2 attempts each), then success
		if opens <= 4 {
			return nil, errors.New("connection refused")
		}
		return stream, nil
	}, fastConfig(), logger.NewNopLogger())

	if err := sup.Connect(context.Background()); err != nil {
		t.Fatalf("Connect gave up: %v", err)
	}
	if opens != 5 {
		t.Fatalf("open attempts = %d, want 5", opens)
	}
	if sup.State() != StateConnected {
		t.Fatalf("state = %v, want connected", sup.State())
	}
}

func TestSupervisor_CancelledContextStopsReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sup := NewSupervisor(func(ctx context.Context) (Stream, error) {
		return nil, errors.New("connection refused")
	}, fastConfig(), logger.NewNopLogger())

	if err := sup.Connect(ctx); err == nil {
		t.Fatal("Connect ignored a cancelled context")
	}
}

func TestReadJPEG(t *testing.T) {
	frame1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	frame2 := []byte{0xFF, 0xD8, 0x04, 0xFF, 0x00, 0x05, 0xFF, 0xD9}
	pipe := append([]byte{0x00, 0x11}, frame1...) // leading garbage
	pipe = append(pipe, frame2...)

	r := bufio.NewReader(bytes.NewReader(pipe))

	got1, err := readJPEG(r)
	if err != nil {
		t.Fatalf("first readJPEG failed: %v", err)
	}
	if !bytes.Equal(got1, frame1) {
		t.Errorf("first frame = %x, want %x", got1, frame1)
	}

	got2, err := readJPEG(r)
	if err != nil {
		t.Fatalf("second readJPEG failed: %v", err)
	}
	if !bytes.Equal(got2, frame2) {
		t.Errorf("second frame = %x, want %x", got2, frame2)
	}

	if _, err := readJPEG(r); err == nil {
		t.Fatal("readJPEG found a frame in an exhausted pipe")
	}
}
