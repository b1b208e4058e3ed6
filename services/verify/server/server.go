// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the run history over HTTP for dashboards and CI
// tooling.
//
// Routes:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/v1/runs?limit=N
//	GET    /api/v1/runs/:id
//	GET    /api/v1/runs/:id/report?format=md|json
//	DELETE /api/v1/runs/:id
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/vercheck/services/verify/report"
	"github.com/AleutianAI/vercheck/services/verify/storage"
)

// ErrNilStore is returned by New without a store.
var ErrNilStore = errors.New("store must not be nil")

// DefaultListLimit caps /api/v1/runs when no limit is given.
const DefaultListLimit = 50

// Config configures the server.
type Config struct {
	Addr string `yaml:"addr" json:"addr"`

	// RatePerSecond and Burst bound request throughput. Zero disables
	// limiting.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" json:"burst" validate:"gte=0"`

	// AllowDelete enables DELETE /api/v1/runs/:id.
	AllowDelete bool `yaml:"allow_delete" json:"allow_delete"`
}

// DefaultConfig listens on localhost only.
func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:8088",
		RatePerSecond: 20,
		Burst:         40,
	}
}

// Server serves run history.
type Server struct {
	cfg     Config
	store   storage.Store
	engine  *gin.Engine
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at /metrics instead of the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metrics = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the router.
func New(cfg Config, store storage.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		metrics: promhttp.Handler(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("vercheck"))
	r.Use(s.requestLogger())
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics))

	v1 := r.Group("/api/v1")
	v1.GET("/runs", s.listRuns)
	v1.GET("/runs/:id", s.getRun)
	v1.GET("/runs/:id/report", s.getReport)
	if cfg.AllowDelete {
		v1.DELETE("/runs/:id", s.deleteRun)
	}

	s.engine = r
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// RateLimit rejects requests with 429 once the limiter is exhausted.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) listRuns(c *gin.Context) {
	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getReport(c *gin.Context) {
	format := report.Format(c.DefaultQuery("format", string(report.FormatMarkdown)))
	contentType := "text/markdown; charset=utf-8"
	switch format {
	case report.FormatMarkdown:
	case report.FormatJSON:
		contentType = "application/json; charset=utf-8"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%v: %q", report.ErrUnknownFormat, format)})
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if err := report.Render(c.Writer, run.Document, format); err != nil {
		s.logger.Error("render report failed", slog.String("error", err.Error()))
	}
}

func (s *Server) deleteRun(c *gin.Context) {
	if err := s.store.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrEmptyID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("history request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
	}
}
