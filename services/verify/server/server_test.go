// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/vercheck/services/verify/storage"
	"github.com/AleutianAI/vercheck/services/verify/storage/badger"
	"github.com/AleutianAI/vercheck/services/verify/storage/storagetest"
)

func newTestServer(t *testing.T, cfg Config) (*Server, storage.Store) {
	t.Helper()
	store, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveRun(ctx, storagetest.Doc("old-run", 0, true), "/reports/old"))
	require.NoError(t, store.SaveRun(ctx, storagetest.Doc("new-run", time.Hour, false), "/reports/new"))

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("vercheck_verdict_pass 1\n"))
	})
	s, err := New(cfg, store, WithMetricsHandler(metrics))
	require.NoError(t, err)
	return s, store
}

func get(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := get(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vercheck_verdict_pass")
}

func TestListRuns(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := get(s, http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []storage.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "new-run", body.Runs[0].ID)

	rec = get(s, http.MethodGet, "/api/v1/runs?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 1)

	for _, bad := range []string{"0", "-1", "ten"} {
		rec = get(s, http.MethodGet, "/api/v1/runs?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	// The API lives under /api only.
	assert.Equal(t, http.StatusNotFound, get(s, http.MethodGet, "/v1/runs").Code)
}

func TestGetRun(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := get(s, http.MethodGet, "/api/v1/runs/old-run")
	require.Equal(t, http.StatusOK, rec.Code)
	var run storage.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "/reports/old", run.Summary.ReportDir)
	assert.Equal(t, "counter", run.Document.Project)

	rec = get(s, http.MethodGet, "/api/v1/runs/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReport(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := get(s, http.MethodGet, "/api/v1/runs/new-run/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "# Version Verification Report"))
	assert.Contains(t, rec.Body.String(), "**Status: FAIL**")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")

	rec = get(s, http.MethodGet, "/api/v1/runs/new-run/report?format=json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id": "new-run"`)

	rec = get(s, http.MethodGet, "/api/v1/runs/new-run/report?format=pdf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(s, http.MethodGet, "/api/v1/runs/nope/report")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteRun(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := get(s, http.MethodDelete, "/api/v1/runs/old-run")
	assert.Equal(t, http.StatusNotFound, rec.Code, "delete is off by default")

	s, store := newTestServer(t, Config{AllowDelete: true})
	rec = get(s, http.MethodDelete, "/api/v1/runs/old-run")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := store.GetRun(context.Background(), "old-run")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)

	rec = get(s, http.MethodDelete, "/api/v1/runs/old-run")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RatePerSecond: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, get(s, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(s, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(s, http.MethodGet, "/healthz").Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(rate.NewLimiter(0, 0)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
