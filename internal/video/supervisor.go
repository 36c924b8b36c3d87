package video

import (
	"context"
	"time"

	"github.com/home-sentinel/edge/internal/logger"
)

// SupervisorState represents the connection state of the supervised stream
type SupervisorState int

const (
	StateConnected SupervisorState = iota
	StateStale
	StateReconnecting
	StateFailedRetrying
)

// String returns a human-readable state name
func (s SupervisorState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	case StateReconnecting:
		return "reconnecting"
	case StateFailedRetrying:
		return "failed_retrying"
	default:
		return "unknown"
	}
}

// OpenFunc opens a fresh stream connection
type OpenFunc func(ctx context.Context) (Stream, error)

// Supervisor owns the stream lifecycle and drives reconnects with bounded
// retries and backoff when the stream goes stale. Losing the stream is never
// fatal: the supervisor keeps cycling until the context is cancelled.
type Supervisor struct {
	logger *logger.Logger
	open   OpenFunc

	staleThreshold   time.Duration
	stalePollLimit   int
	maxAttempts      int
	attemptBaseDelay time.Duration
	fallbackSleep    time.Duration

	stream         Stream
	state          SupervisorState
	baselineID     uint64
	stalePollCount int
	reconnects     int
}

// SupervisorConfig contains reconnect supervision configuration
type SupervisorConfig struct {
	StaleThreshold            time.Duration // Max age of lastSuccessAt before the stream counts as stale
	ReconnectAttemptThreshold int           // Stale polls before a reconnect is triggered
	ReconnectAttempts         int           // Immediate reopen attempts per reconnect cycle
	ReconnectBaseDelay        time.Duration // Delay is base × attempt number
	ReconnectFallbackSleep    time.Duration // Sleep after a fully failed cycle
}

// NewSupervisor creates a new reconnect supervisor
func NewSupervisor(open OpenFunc, cfg SupervisorConfig, log *logger.Logger) *Supervisor {
	staleThreshold := cfg.StaleThreshold
	if staleThreshold == 0 {
		staleThreshold = 10 * time.Second
	}
	stalePollLimit := cfg.ReconnectAttemptThreshold
	if stalePollLimit == 0 {
		stalePollLimit = 20
	}
	maxAttempts := cfg.ReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	baseDelay := cfg.ReconnectBaseDelay
	if baseDelay == 0 {
		baseDelay = 5 * time.Second
	}
	fallback := cfg.ReconnectFallbackSleep
	if fallback == 0 {
		fallback = 10 * time.Second
	}

	return &Supervisor{
		logger:           log,
		open:             open,
		staleThreshold:   staleThreshold,
		stalePollLimit:   stalePollLimit,
		maxAttempts:      maxAttempts,
		attemptBaseDelay: baseDelay,
		fallbackSleep:    fallback,
		state:            StateFailedRetrying,
	}
}

// Connect establishes the initial stream connection, retrying indefinitely
// until it succeeds or the context is cancelled.
func (s *Supervisor) Connect(ctx context.Context) error {
	stream, err := s.open(ctx)
	if err == nil {
		s.adopt(stream)
		return nil
	}

	s.logger.Warn("Initial stream connection failed, entering retry cycle", "error", err)
	return s.reconnect(ctx)
}

// Latest proxies to the current stream's latest-frame slot.
func (s *Supervisor) Latest() (*Frame, uint64, time.Time) {
	if s.stream == nil {
		return nil, 0, time.Time{}
	}
	return s.stream.Latest()
}

// State returns the current supervision state
func (s *Supervisor) State() SupervisorState {
	return s.state
}

// Reconnects returns how many reconnect cycles have completed successfully
func (s *Supervisor) Reconnects() int {
	return s.reconnects
}

// Poll judges staleness from the consumer side. It is called once per
// consumer iteration with the frame ID the consumer just observed; after
// enough consecutive no-progress polls it tears the stream down and
// reconnects. A reconnect blocks the calling loop, which is acceptable:
// without frames there is nothing else for the consumer to do.
func (s *Supervisor) Poll(ctx context.Context) error {
	if s.stream == nil {
		return s.reconnect(ctx)
	}

	_, frameID, lastSuccess := s.stream.Latest()

	stale := false
	if !lastSuccess.IsZero() && time.Since(lastSuccess) > s.staleThreshold {
		stale = true
	}
	if lastSuccess.IsZero() || frameID == s.baselineID {
		stale = true
	}

	if !stale {
		s.baselineID = frameID
		s.stalePollCount = 0
		s.state = StateConnected
		return nil
	}

	s.state = StateStale
	s.stalePollCount++
	if s.stalePollCount < s.stalePollLimit {
		return nil
	}

	s.logger.Warn("Stream stale, reconnecting",
		"stale_polls", s.stalePollCount,
		"last_success", lastSuccess,
	)
	return s.reconnect(ctx)
}

// reconnect closes the current stream and cycles reopen attempts until one
// succeeds. Never returns an error other than the context's.
func (s *Supervisor) reconnect(ctx context.Context) error {
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}

	for {
		s.state = StateReconnecting

		for attempt := 1; attempt <= s.maxAttempts; attempt++ {
			if err := sleepCtx(ctx, s.attemptBaseDelay*time.Duration(attempt-1)); err != nil {
				return err
			}

			stream, err := s.open(ctx)
			if err == nil {
				s.adopt(stream)
				s.reconnects++
				s.logger.Info("Stream reconnected", "attempt", attempt)
				return nil
			}
			s.logger.Warn("Reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", s.maxAttempts,
				"error", err,
			)
		}

		s.state = StateFailedRetrying
		s.logger.Warn("All reconnect attempts failed, still trying",
			"sleep", s.fallbackSleep,
		)
		if err := sleepCtx(ctx, s.fallbackSleep); err != nil {
			return err
		}
	}
}

// adopt installs a fresh stream and resets staleness bookkeeping so the new
// connection is not judged against the old baseline.
func (s *Supervisor) adopt(stream Stream) {
	s.stream = stream
	s.state = StateConnected
	s.stalePollCount = 0
	_, frameID, _ := stream.Latest()
	s.baselineID = frameID
}

// Close tears down the current stream, if any
func (s *Supervisor) Close() error {
	if s.stream != nil {
		err := s.stream.Close()
		s.stream = nil
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
