// Package http serves a loaded participation dataset over a read-only JSON
// API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/pkg/logger"
	"github.com/nykp/meetup-participation/pkg/telemetry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains everything the handlers read.
type Dependencies struct {
	// Dataset is served read-only. It must not be mutated while the server
	// runs.
	Dataset *report.Dataset

	// Health may be nil; /health then reports healthy with no checks.
	Health *HealthChecker

	Logger  *zap.Logger
	Version string
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

const (
	headerRequestID = "X-Request-ID"
	headerTraceID   = "X-Trace-ID"
	ctxRequestID    = "request_id"
	tracerName      = "github.com/nykp/meetup-participation/http"
)

// Server is the report API.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	tracer     trace.Tracer

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a Server. deps.Dataset is required.
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Dataset == nil {
		return nil, errors.New("http: dataset is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker(deps.Version)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.Named("http"),
		tracer: otel.Tracer(tracerName),
	}

	s.engine.Use(s.requestIDMiddleware(), s.tracingMiddleware(), s.loggingMiddleware(), s.recoveryMiddleware())
	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, CodeNotFound, "no such endpoint")
	})
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/live", s.handleLive)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/events", s.handleEvents)
	v1.GET("/attendees", s.handleAttendees)
	v1.GET("/seasons", s.handleSeasons)
	v1.GET("/stats", s.handleStats)
	v1.GET("/report", s.handleReport)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("request.id", c.GetString(ctxRequestID)),
			),
		)
		defer span.End()
		if id := telemetry.TraceID(ctx); id != "" {
			c.Header(headerTraceID, id)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := logger.WithContext(c.Request.Context(), s.logger)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(ctxRequestID)),
				)
				writeError(c, http.StatusInternalServerError, CodeInternal, "an unexpected error occurred")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("http: server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening",
			zap.String("addr", s.config.Addr),
			zap.String("group", s.deps.Dataset.Group()),
			zap.Int("facts", s.deps.Dataset.Len()),
		)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http: listen: %w", err)
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http: shutdown: %w", err)
	}
	return nil
}

// IsRunning reports whether Run is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
