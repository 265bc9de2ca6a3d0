// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/parallint/services/parallint/engine"
	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/telemetry"
)

// serviceVersion is reported by /healthz.
const serviceVersion = "0.1.0"

const shutdownTimeout = 15 * time.Second

// LintRequest is the body of POST /v1/lint.
type LintRequest struct {
	// Patterns are resolved against the server's working directory and
	// must stay inside it.
	Patterns []string `json:"patterns" binding:"required"`

	// Fix applies autofixes on disk.
	Fix bool `json:"fix"`
}

// ErrorResponse is the error body of every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// errPathTraversal rejects patterns that leave the server's root.
var errPathTraversal = errors.New("pattern escapes the server root")

func (a *app) newServeCmd(f *lintFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lint runs over HTTP",
		Long: `serve starts an HTTP API that lints files below the working directory.

  POST /v1/lint   {"patterns": ["src/"], "fix": false}
  GET  /healthz
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession(cmd, f, telemetry.ExporterPrometheus)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if cmd.Flags().Changed("addr") {
				s.cfg.Serve.Addr = addr
			}
			h := &lintHandlers{
				root:   s.cwd,
				base:   a.engineConfig(s, f),
				runs:   semaphore.NewWeighted(1),
				logger: s.logger.Slog(),
			}
			return serve(cmd.Context(), s.cfg.Serve.Addr, newRouter(h), h.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8723", "Listen address")
	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("parallint server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down parallint server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newRouter(h *lintHandlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("parallint"))

	router.GET("/healthz", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	v1 := router.Group("/v1")
	v1.POST("/lint", h.HandleLint)
	return router
}

// lintHandlers serves lint runs. Runs are serialised: two concurrent runs
// with fix enabled could rewrite the same file.
type lintHandlers struct {
	root   string
	base   engine.Config
	runs   *semaphore.Weighted
	logger *slog.Logger
}

// HandleHealth handles GET /healthz.
func (h *lintHandlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: serviceVersion})
}

// HandleLint handles POST /v1/lint.
//
// Response:
//
//	200 OK: report.MergedReport
//	400 Bad Request: malformed body, blank pattern or path traversal
//	404 Not Found: no file matched
//	500 Internal Server Error: a worker failed
//	504 Gateway Timeout: the run timed out
func (h *lintHandlers) HandleLint(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.logger.With(telemetry.TraceAttrs(ctx)...)

	var req LintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if err := h.checkPatterns(req.Patterns); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "PATH_TRAVERSAL"})
		return
	}

	if err := h.runs.Acquire(ctx, 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "CANCELLED"})
		return
	}
	defer h.runs.Release(1)

	cfg := h.base
	cfg.Options.Fix = req.Fix
	cfg.Logger = logger
	merged, err := engine.New(cfg).Run(ctx, req.Patterns)
	if err != nil {
		status, code := lintErrorStatus(err)
		logger.Error("lint run failed", slog.String("error", err.Error()), slog.String("code", code))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, merged)
}

// checkPatterns rejects patterns that resolve outside the server root.
func (h *lintHandlers) checkPatterns(patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(h.root, abs)
		}
		rel, err := filepath.Rel(h.root, filepath.Clean(abs))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return errPathTraversal
		}
	}
	return nil
}

func lintErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, lint.ErrNoFilesMatched):
		return http.StatusNotFound, "NO_FILES_MATCHED"
	case errors.Is(err, engine.ErrRunTimeout):
		return http.StatusGatewayTimeout, "RUN_TIMEOUT"
	case errors.Is(err, engine.ErrJobFailed):
		return http.StatusInternalServerError, "JOB_FAILED"
	default:
		return http.StatusInternalServerError, "LINT_FAILED"
	}
}
