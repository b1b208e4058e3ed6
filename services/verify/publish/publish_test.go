// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

func sampleDoc() *report.Document {
	old, cur, delta := 150.0, 320.0, 170.0
	return &report.Document{
		Project:     "counter",
		OldVersion:  "v11.0",
		NewVersion:  "v12.0",
		GeneratedAt: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		RunID:       "run-1",
		OverallPass: true,
		TestCases: []report.TestCaseRow{
			{Name: "alu", Pass: true, Metrics: []report.MetricRow{
				{Name: "latency_ms", Old: &old, New: &cur, Delta: &delta, Pass: true},
				{Name: "warning_count", Pass: true},
			}},
		},
		Summary: report.Summary{Total: 1, Passed: 1},
	}
}

func TestPoints(t *testing.T) {
	points := Points(sampleDoc())
	require.Len(t, points, 2)
	assert.Equal(t, MeasurementRun, points[0].Name())
	assert.Equal(t, MeasurementMetric, points[1].Name())

	fields := map[string]any{}
	for _, f := range points[1].FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 150.0, fields["old"])
	assert.Equal(t, 320.0, fields["new"])
	assert.Equal(t, 170.0, fields["delta"])
	assert.Equal(t, true, fields["pass"])
}

func TestInflux_Publish(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(raw)
		mu.Unlock()
		assert.Equal(t, "/api/v2/write", r.URL.Path)
		assert.Equal(t, "verify", r.URL.Query().Get("bucket"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, err := NewInflux(InfluxConfig{URL: srv.URL, Token: "t", Org: "hw", Bucket: "verify"})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "influx", p.Name())

	require.NoError(t, p.Publish(context.Background(), sampleDoc(), nil))
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, body, "vercheck_run,new_version=v12.0,old_version=v11.0,project=counter,run_id=run-1")
	assert.Contains(t, body, "vercheck_metric,metric=latency_ms,new_version=v12.0,project=counter,run_id=run-1,testcase=alu")

	assert.ErrorIs(t, p.Publish(context.Background(), nil, nil), ErrNilDocument)
}

func TestInflux_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewInflux(InfluxConfig{URL: srv.URL, Org: "hw", Bucket: "verify"})
	require.NoError(t, err)
	defer p.Close()

	errs := All(context.Background(), []Publisher{p}, sampleDoc(), nil)
	require.Len(t, errs, 1)
	var pe *Error
	require.True(t, errors.As(errs[0], &pe))
	assert.Equal(t, "influx", pe.Publisher)
}

func TestNewInflux_MissingConfig(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "")
	t.Setenv("INFLUXDB_ORG", "")
	t.Setenv("INFLUXDB_BUCKET", "")
	_, err := NewInflux(InfluxConfig{URL: "http://localhost:8086"})
	assert.ErrorIs(t, err, ErrMissingConfig)

	t.Setenv("INFLUXDB_ORG", "hw")
	t.Setenv("INFLUXDB_BUCKET", "verify")
	p, err := NewInflux(InfluxConfig{URL: "http://localhost:8086"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

type memObject struct {
	bytes.Buffer
	name    string
	closed  bool
	objects map[string]string
}

func (o *memObject) Close() error {
	o.closed = true
	o.objects[o.name] = o.String()
	return nil
}

func TestGCS_Publish(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "report.json")
	mdPath := filepath.Join(dir, "report.md")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"project":"counter"}`), 0o644))
	require.NoError(t, os.WriteFile(mdPath, []byte("# Version Verification Report\n"), 0o644))

	objects := map[string]string{}
	g := &GCS{bucket: "reports", prefix: "ci", open: func(_ context.Context, object string) io.WriteCloser {
		return &memObject{name: object, objects: objects}
	}}
	assert.Equal(t, "gcs", g.Name())

	require.NoError(t, g.Publish(context.Background(), sampleDoc(), []string{jsonPath, mdPath}))
	assert.Equal(t, `{"project":"counter"}`, objects["ci/counter/run-1/report.json"])
	assert.True(t, strings.HasPrefix(objects["ci/counter/run-1/report.md"], "# Version"))

	err := g.Publish(context.Background(), sampleDoc(), []string{filepath.Join(dir, "gone.json")})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, g.Close())
}

func TestNewGCS_Validation(t *testing.T) {
	_, err := NewGCS(context.Background(), GCSConfig{})
	assert.ErrorIs(t, err, ErrMissingConfig)

	_, err = NewGCS(context.Background(), GCSConfig{Bucket: "b", CredentialsFile: filepath.Join(t.TempDir(), "sa.json")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("a/report.json"))
	assert.Equal(t, "text/markdown; charset=utf-8", contentType("report.md"))
	assert.Equal(t, "text/csv", contentType("verification_metrics.csv"))
	assert.Equal(t, "application/octet-stream", contentType("wave.vcd"))
}

type stubPublisher struct {
	name string
	err  error
	n    int
}

func (s *stubPublisher) Name() string { return s.name }
func (s *stubPublisher) Publish(context.Context, *report.Document, []string) error {
	s.n++
	return s.err
}
func (s *stubPublisher) Close() error { return s.err }

func TestAll_ContinuesAfterFailure(t *testing.T) {
	bad := &stubPublisher{name: "bad", err: errors.New("boom")}
	good := &stubPublisher{name: "good"}

	errs := All(context.Background(), []Publisher{bad, good}, sampleDoc(), nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "publish bad: boom", errs[0].Error())
	assert.Equal(t, 1, good.n)

	err := CloseAll([]Publisher{bad, good})
	assert.ErrorContains(t, err, "publish bad: boom")
}
