package video

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// TestSource_LatestNeverTorn hammers the latest-frame slot from a writer
// goroutine while reading it concurrently: the frame, its ID and the
// last-success time must always belong to the same update.
func TestSource_LatestNeverTorn(t *testing.T) {
	s := &Source{}

	const writes = 2000
	base := time.Unix(0, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			s.storeFrame(&Frame{
				Data:       []byte{byte(i)},
				CapturedAt: base.Add(time.Duration(i) * time.Millisecond),
			})
		}
	}()

	var lastID uint64
	for lastID < writes {
		frame, id, success := s.Latest()
		if frame == nil {
			if id != 0 {
				t.Fatalf("frameID %d reported before any frame", id)
			}
			continue
		}
		if frame.ID != id {
			t.Fatalf("torn read: frame.ID %d does not match frameID %d", frame.ID, id)
		}
		if !frame.CapturedAt.Equal(success) {
			t.Fatalf("torn read: capturedAt %v does not match lastSuccess %v", frame.CapturedAt, success)
		}
		if id < lastID {
			t.Fatalf("frameID regressed from %d to %d", lastID, id)
		}
		lastID = id
	}
	wg.Wait()
}

// TestSource_ReadLoopKeepsNewestFrame drives the background reader through a
// stub pipe: each complete image advances the frame ID exactly once and the
// slot holds the newest one.
func TestSource_ReadLoopKeepsNewestFrame(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		logger:     logger.NewNopLogger(),
		retryDelay: time.Millisecond,
		stdout:     pr,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.readLoop()

	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0x03, 0x04, 0xFF, 0xD9}
	if _, err := pw.Write(append(append([]byte{}, first...), second...)); err != nil {
		t.Fatalf("pipe write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var frame *Frame
	var id uint64
	for time.Now().Before(deadline) {
		frame, id, _ = s.Latest()
		if id >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if id != 2 {
		t.Fatalf("frameID = %d after two frames on the pipe, want 2", id)
	}
	if frame.ID != id {
		t.Errorf("frame.ID %d does not match reported frameID %d", frame.ID, id)
	}
	if !bytes.Equal(frame.Data, second) {
		t.Errorf("slot holds frame %v, want the newest %v", frame.Data, second)
	}

	cancel()
	pw.Close()
	<-s.done
}
