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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/parallint/services/parallint/engine"
	"github.com/AleutianAI/parallint/services/parallint/lint"
	"github.com/AleutianAI/parallint/services/parallint/lint/linttest"
	"github.com/AleutianAI/parallint/services/parallint/pool"
	"github.com/AleutianAI/parallint/services/parallint/report"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T, root string) *gin.Engine {
	t.Helper()
	resolver := linttest.Resolver(&linttest.MarkerModule{})
	h := &lintHandlers{
		root: root,
		base: engine.Config{
			Options:     linttest.Options(root),
			Concurrency: 2,
			Spawner:     &pool.InProcessSpawner{Resolver: resolver, Logger: slog.Default()},
			Resolver:    resolver,
		},
		runs:   semaphore.NewWeighted(1),
		logger: slog.Default(),
	}
	return newRouter(h)
}

func postLint(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/lint", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router := setupTestRouter(t, t.TempDir())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, serviceVersion, resp.Version)
}

func TestHandleMetrics(t *testing.T) {
	router := setupTestRouter(t, t.TempDir())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleLint(t *testing.T) {
	root := linttest.WriteTree(t, map[string]string{
		"src/a.js": "const BAD = 1;\n",
		"src/b.js": "const ok = 1;\n",
	})
	router := setupTestRouter(t, root)

	t.Run("merged report", func(t *testing.T) {
		w := postLint(router, `{"patterns": ["src/"]}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var merged report.MergedReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &merged))
		assert.Len(t, merged.Results, 2)
		assert.Equal(t, 1, merged.ErrorCount)
		assert.Equal(t, 1, merged.JobCount)
	})

	errorCases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed body", `{"patterns":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing patterns", `{}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty patterns", `{"patterns": []}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"blank pattern", `{"patterns": [" "]}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"path traversal", `{"patterns": ["../etc"]}`, http.StatusBadRequest, "PATH_TRAVERSAL"},
		{"absolute outside root", `{"patterns": ["/etc/passwd"]}`, http.StatusBadRequest, "PATH_TRAVERSAL"},
		{"no match", `{"patterns": ["src/*.py"]}`, http.StatusNotFound, "NO_FILES_MATCHED"},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			w := postLint(router, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestLintErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("x: %w", engine.ErrInvalidArgument), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{fmt.Errorf("x: %w", lint.ErrNoFilesMatched), http.StatusNotFound, "NO_FILES_MATCHED"},
		{fmt.Errorf("x: %w", engine.ErrRunTimeout), http.StatusGatewayTimeout, "RUN_TIMEOUT"},
		{fmt.Errorf("x: %w", engine.ErrJobFailed), http.StatusInternalServerError, "JOB_FAILED"},
		{errors.New("boom"), http.StatusInternalServerError, "LINT_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := lintErrorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
