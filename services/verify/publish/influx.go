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
	"context"
	"fmt"
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

// Measurement names written by Influx.
const (
	MeasurementRun    = "vercheck_run"
	MeasurementMetric = "vercheck_metric"
)

// InfluxConfig locates the InfluxDB bucket. Empty fields fall back to the
// INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and INFLUXDB_BUCKET
// environment variables.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"-"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`
}

func (c InfluxConfig) withEnv() InfluxConfig {
	pick := func(v, key string) string {
		if v != "" {
			return v
		}
		return os.Getenv(key)
	}
	return InfluxConfig{
		URL:    pick(c.URL, "INFLUXDB_URL"),
		Token:  pick(c.Token, "INFLUXDB_TOKEN"),
		Org:    pick(c.Org, "INFLUXDB_ORG"),
		Bucket: pick(c.Bucket, "INFLUXDB_BUCKET"),
	}
}

// Influx writes one run point and one point per test case metric.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// NewInflux creates the client. No connection is made until Publish.
func NewInflux(cfg InfluxConfig) (*Influx, error) {
	cfg = cfg.withEnv()
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: influx needs url, org and bucket", ErrMissingConfig)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}, nil
}

func (p *Influx) Name() string {
	return "influx"
}

// Publish writes the run's points in a single request.
func (p *Influx) Publish(ctx context.Context, doc *report.Document, _ []string) error {
	if doc == nil {
		return ErrNilDocument
	}
	if err := p.writeAPI.WritePoint(ctx, Points(doc)...); err != nil {
		return fmt.Errorf("write to bucket %s: %w", p.bucket, err)
	}
	return nil
}

func (p *Influx) Close() error {
	p.client.Close()
	return nil
}

// Points converts doc to InfluxDB points, all stamped with the document's
// generation time. Tags are sorted so the line protocol is stable.
func Points(doc *report.Document) []*write.Point {
	ts := doc.GeneratedAt
	points := make([]*write.Point, 0, 1+len(doc.TestCases)*len(doc.Schema))

	points = append(points, influxdb2.NewPointWithMeasurement(MeasurementRun).
		AddTag("project", doc.Project).
		AddTag("old_version", doc.OldVersion).
		AddTag("new_version", doc.NewVersion).
		AddTag("run_id", doc.RunID).
		AddField("pass", doc.OverallPass).
		AddField("total", doc.Summary.Total).
		AddField("passed", doc.Summary.Passed).
		AddField("failed", doc.Summary.Failed).
		AddField("warnings", len(doc.Warnings)).
		SetTime(ts).
		SortTags())

	for _, tc := range doc.TestCases {
		for _, m := range tc.Metrics {
			if m.Old == nil && m.New == nil {
				continue
			}
			p := influxdb2.NewPointWithMeasurement(MeasurementMetric).
				AddTag("project", doc.Project).
				AddTag("new_version", doc.NewVersion).
				AddTag("run_id", doc.RunID).
				AddTag("testcase", tc.Name).
				AddTag("metric", m.Name).
				AddField("pass", m.Pass).
				AddField("defaulted", m.Defaulted).
				SetTime(ts)
			if m.Old != nil {
				p.AddField("old", *m.Old)
			}
			if m.New != nil {
				p.AddField("new", *m.New)
			}
			if m.Delta != nil {
				p.AddField("delta", *m.Delta)
			}
			points = append(points, p.SortTags())
		}
	}
	return points
}
