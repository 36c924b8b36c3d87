// Package web serves the local status API and saved screenshots.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/home-sentinel/edge/internal/logger"
	"github.com/home-sentinel/edge/internal/sink"
)

// ServerConfig contains web server configuration
type ServerConfig struct {
	Host          string
	Port          int
	ScreenshotDir string // Served under /screenshots when set
}

// Status is the engine snapshot returned by the status endpoint
type Status struct {
	StreamState   string   `json:"stream_state"`
	StableLabels  []string `json:"stable_labels"`
	GallerySize   int      `json:"gallery_size"`
	AudioEnabled  bool     `json:"audio_enabled"`
	UptimeSeconds float64  `json:"uptime_seconds"`
}

// StatusFunc supplies the current engine status
type StatusFunc func() Status

// EventHistory supplies recent journal entries for the events endpoint
type EventHistory interface {
	Recent(ctx context.Context, limit int) ([]sink.JournalEntry, error)
}

// Server is the local HTTP server exposing health, status, recent events
// and saved screenshots to the home network
type Server struct {
	logger     *logger.Logger
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	status     StatusFunc
	history    EventHistory
	startTime  time.Time
}

// NewServer creates a new web server. history may be nil when the journal is
// disabled.
func NewServer(cfg ServerConfig, status StatusFunc, history EventHistory, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	s := &Server{
		logger:    log,
		config:    cfg,
		router:    router,
		status:    status,
		history:   history,
		startTime: time.Now(),
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/events", s.handleEvents)
	}

	if s.config.ScreenshotDir != "" {
		s.router.Static("/screenshots", s.config.ScreenshotDir)
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.status()
	status.UptimeSeconds = time.Since(s.startTime).Seconds()
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, []sink.JournalEntry{})
		return
	}

	entries, err := s.history.Recent(c.Request.Context(), 100)
	if err != nil {
		s.logger.Error("Failed to load recent events", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}
	if entries == nil {
		entries = []sink.JournalEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		s.logger.Info("Web server started", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed", "error", err.Error())
		}
	}()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler, primarily for tests
func (s *Server) Router() http.Handler { return s.router }

func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
