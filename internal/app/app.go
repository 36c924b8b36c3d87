// Package app wires the engine together: frame supervision, detection,
// presence debouncing, identity resolution, audio and the event sinks.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/home-sentinel/edge/internal/audio"
	"github.com/home-sentinel/edge/internal/config"
	"github.com/home-sentinel/edge/internal/correlate"
	"github.com/home-sentinel/edge/internal/detect"
	"github.com/home-sentinel/edge/internal/identity"
	"github.com/home-sentinel/edge/internal/logger"
	"github.com/home-sentinel/edge/internal/presence"
	"github.com/home-sentinel/edge/internal/screenshot"
	"github.com/home-sentinel/edge/internal/sink"
	"github.com/home-sentinel/edge/internal/video"
	"github.com/home-sentinel/edge/internal/web"
)

// App owns every component of the presence engine and their lifecycles
type App struct {
	logger *logger.Logger
	cfg    *config.Config

	ffmpeg      *video.FFmpegWrapper
	supervisor  *video.Supervisor
	debouncer   *presence.Debouncer
	resolver    *identity.Resolver
	galleryDB   *identity.Store
	objects     *detect.ObjectClient
	faces       *detect.FaceClient
	sinks       *sink.Multi
	journal     *sink.Journal
	correlator  *correlate.Correlator
	screenshots *screenshot.Writer
	audioDet    *audio.Detector
	webServer   *web.Server

	mu          sync.RWMutex
	stable      map[string]struct{}
	streamState string

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the engine from configuration. External services being down is
// not fatal here; only a broken local setup (missing ffmpeg, unwritable
// directories) fails construction.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	s := cfg.Sentinel

	ffmpeg, err := video.NewFFmpegWrapper(log)
	if err != nil {
		return nil, err
	}

	a := &App{
		logger:      log,
		cfg:         cfg,
		ffmpeg:      ffmpeg,
		stable:      make(map[string]struct{}),
		streamState: video.StateFailedRetrying.String(),
	}

	a.supervisor = video.NewSupervisor(
		func(ctx context.Context) (video.Stream, error) {
			return video.OpenSource(ffmpeg, video.SourceConfig{
				URL:            s.Stream.URL,
				PullRetryDelay: s.Stream.PullRetryDelay,
			}, log)
		},
		video.SupervisorConfig{
			StaleThreshold:            s.Stream.StaleThreshold,
			ReconnectAttemptThreshold: s.Stream.ReconnectAttemptThreshold,
			ReconnectAttempts:         s.Stream.ReconnectAttempts,
			ReconnectBaseDelay:        s.Stream.ReconnectBaseDelay,
			ReconnectFallbackSleep:    s.Stream.ReconnectFallbackSleep,
		},
		log,
	)

	a.debouncer = presence.NewDebouncer(presence.DebouncerConfig{
		ImportantLabels:  s.Presence.ImportantLabels,
		ImportantProfile: presence.Profile{MinStable: s.Presence.MinStable, MaxMissing: s.Presence.MaxMissing},
		OtherProfile:     presence.Profile{MinStable: s.Presence.OtherMinStable, MaxMissing: s.Presence.OtherMaxMissing},
	}, log)

	a.resolver = identity.NewResolver(identity.ResolverConfig{
		BaseThreshold:       s.Faces.SimilarityThreshold,
		MinThreshold:        s.Faces.MinThreshold,
		MaxThreshold:        s.Faces.MaxThreshold,
		MinSimDiff:          s.Faces.MinSimDiff,
		HighConfidenceBonus: s.Faces.HighConfidenceBonus,
		CacheValidityFrames: uint64(s.Faces.CacheValidityFrames),
		CacheSweepInterval:  uint64(s.Faces.CacheSweepInterval),
	}, log)

	a.galleryDB = identity.NewStore(identity.StoreConfig{
		DatabaseURL: s.Gallery.DatabaseURL,
		CacheDir:    s.Gallery.CacheDir,
	}, log)

	a.objects = detect.NewObjectClient(detect.ClientConfig{
		ServiceURL:          s.Detect.ObjectServiceURL,
		Timeout:             s.Detect.Timeout,
		ConfidenceThreshold: s.Detect.ConfidenceThreshold,
	}, log)
	a.faces = detect.NewFaceClient(detect.ClientConfig{
		ServiceURL: s.Detect.FaceServiceURL,
		Timeout:    s.Detect.Timeout,
	}, 10, log)

	a.screenshots, err = screenshot.NewWriter(screenshot.WriterConfig{
		Dir:     s.Screenshots.Dir,
		WebURL:  s.Screenshots.WebURL,
		Quality: s.Screenshots.Quality,
	}, log)
	if err != nil {
		return nil, err
	}

	if err := a.buildSinks(); err != nil {
		return nil, err
	}

	a.correlator = correlate.NewCorrelator(
		correlate.CorrelatorConfig{
			Window:     s.Correlation.Window,
			DoorSounds: s.Correlation.DoorSounds,
		},
		func(e correlate.Event) { a.deliverArrival(e) },
		func(e correlate.Event) { a.deliverDeparture(e) },
		log,
	)

	if s.Audio.Enabled {
		var classifier detect.SoundClassifier
		if s.Detect.SoundServiceURL != "" {
			classifier = detect.NewSoundClient(detect.ClientConfig{
				ServiceURL: s.Detect.SoundServiceURL,
				Timeout:    s.Detect.Timeout,
			}, log)
		}
		gate := audio.NewGate(audio.GateConfig{
			ConfidenceFloor: s.Audio.ConfidenceFloor,
			MinInterval:     s.Audio.MinInterval,
		})
		a.audioDet = audio.NewDetector(audio.DetectorConfig{
			URL:           s.Stream.URL,
			SampleRate:    s.Audio.SampleRate,
			ChunkSize:     s.Audio.ChunkSize,
			TrackedSounds: s.Audio.TrackedSounds,
			RMSThreshold:  s.Audio.RMSThreshold,
		}, ffmpeg, classifier, gate, a.handleSound, log)
	}

	if s.Web.Enabled {
		var history web.EventHistory
		if a.journal != nil {
			history = a.journal
		}
		a.webServer = web.NewServer(web.ServerConfig{
			Host:          s.Web.Host,
			Port:          s.Web.Port,
			ScreenshotDir: s.Screenshots.Dir,
		}, a.statusSnapshot, history, log)
	}

	return a, nil
}

// buildSinks assembles the fan-out from the configured destinations
func (a *App) buildSinks() error {
	s := a.cfg.Sentinel
	var sinks []sink.EventSink

	if s.Journal.Enabled {
		journal, err := sink.NewJournal(sink.JournalConfig{Path: s.Journal.Path}, a.logger)
		if err != nil {
			return err
		}
		a.journal = journal
		sinks = append(sinks, journal)
	}

	if s.MQTT.Broker != "" {
		mqttSink, err := sink.NewMQTTSink(sink.MQTTConfig{
			Broker:        s.MQTT.Broker,
			Username:      s.MQTT.Username,
			Password:      s.MQTT.Password,
			ClientID:      s.MQTT.ClientID,
			DeviceID:      s.MQTT.DeviceID,
			DeviceName:    s.MQTT.DeviceName,
			ImagesEnabled: s.Screenshots.WebURL != "",
			EventCooldown: s.MQTT.EventCooldown,
		}, a.logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, mqttSink)
	}

	if s.Stats.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		statsSink, err := sink.NewStatsSink(ctx, sink.StatsConfig{DatabaseURL: s.Stats.DatabaseURL}, a.logger)
		cancel()
		if err != nil {
			// Stats are best effort, the engine must run without them
			a.logger.Warn("Statistics sink unavailable", "error", err.Error())
		} else {
			sinks = append(sinks, statsSink)
		}
	}

	a.sinks = sink.NewMulti(a.logger, sinks...)
	return nil
}

// Start loads the gallery, connects the stream and launches the worker
// goroutines. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(context.Background())

	if err := a.loadGallery(ctx); err != nil {
		return err
	}

	if err := a.supervisor.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect stream: %w", err)
	}
	a.setStreamState(a.supervisor.State())

	if a.webServer != nil {
		a.webServer.Start()
	}

	if a.audioDet != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.audioDet.Run(a.runCtx)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runDetectionLoop(a.runCtx)
	}()

	a.logger.Info("Home sentinel started",
		"stream", a.cfg.Sentinel.Stream.URL,
		"audio", a.audioDet != nil,
		"gallery_size", a.resolver.GallerySize(),
	)
	return nil
}

// loadGallery installs the identity gallery. With a database configured a
// total load failure is fatal: running blind when recognition was asked for
// would silently degrade the system. Without one the engine runs with
// whatever the cache holds, possibly nothing.
func (a *App) loadGallery(ctx context.Context) error {
	s := a.cfg.Sentinel

	gallery, err := a.galleryDB.Load(ctx, s.Gallery.Refresh)
	if err != nil {
		if s.Gallery.DatabaseURL != "" {
			return err
		}
		a.logger.Warn("No face gallery available, running without recognition", "error", err.Error())
		return nil
	}

	a.resolver.SetGallery(gallery)
	return nil
}

// Shutdown stops the workers and releases every resource
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Shutdown timed out waiting for workers")
	}

	if a.webServer != nil {
		if err := a.webServer.Shutdown(ctx); err != nil {
			a.logger.Warn("Web server shutdown failed", "error", err.Error())
		}
	}
	if err := a.supervisor.Close(); err != nil {
		a.logger.Warn("Stream close failed", "error", err.Error())
	}
	if err := a.sinks.Close(); err != nil {
		a.logger.Warn("Sink close failed", "error", err.Error())
	}

	a.logger.Info("Shutdown complete")
	return nil
}

// handleSound receives gated sound events from the audio detector
func (a *App) handleSound(label string, confidence float64, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.sinks.RecordSound(ctx, label, confidence, at)

	if a.cfg.Sentinel.Correlation.Enabled {
		a.correlator.OnSound(label, at)
	}
}

func (a *App) deliverArrival(e correlate.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.sinks.RecordArrival(ctx, e.Name, e.ScreenshotRef, e.At)
}

func (a *App) deliverDeparture(e correlate.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.sinks.RecordDeparture(ctx, e.Name, e.ScreenshotRef, e.At)
}

func (a *App) setStable(stable map[string]struct{}) {
	a.mu.Lock()
	a.stable = stable
	a.mu.Unlock()
}

func (a *App) setStreamState(state video.SupervisorState) {
	a.mu.Lock()
	a.streamState = state.String()
	a.mu.Unlock()
}

// statusSnapshot supplies the web status endpoint
func (a *App) statusSnapshot() web.Status {
	a.mu.RLock()
	labels := make([]string, 0, len(a.stable))
	for label := range a.stable {
		labels = append(labels, label)
	}
	streamState := a.streamState
	a.mu.RUnlock()
	sort.Strings(labels)

	return web.Status{
		StreamState:  streamState,
		StableLabels: labels,
		GallerySize:  a.resolver.GallerySize(),
		AudioEnabled: a.audioDet != nil,
	}
}
