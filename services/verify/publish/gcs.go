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
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

// GCSConfig selects the bucket that receives report files.
type GCSConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`

	// Prefix is prepended to object names. Objects land at
	// <prefix>/<project>/<run_id>/<file>.
	Prefix string `yaml:"prefix" json:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// objectOpener returns a writer for one object. Closing it finalizes the
// upload.
type objectOpener func(ctx context.Context, object string) io.WriteCloser

// GCS uploads report files to Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
	open   objectOpener
}

// NewGCS creates a Cloud Storage client for cfg.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs needs a bucket", ErrMissingConfig)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	g := &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	g.open = func(ctx context.Context, object string) io.WriteCloser {
		w := client.Bucket(g.bucket).Object(object).NewWriter(ctx)
		w.CacheControl = "no-cache, no-store, must-revalidate"
		w.ContentType = contentType(object)
		return w
	}
	return g, nil
}

func (g *GCS) Name() string {
	return "gcs"
}

// ObjectName returns where a report file of doc is stored.
func (g *GCS) ObjectName(doc *report.Document, file string) string {
	return path.Join(g.prefix, doc.Project, doc.RunID, filepath.Base(file))
}

// Publish uploads every file. It stops at the first failed upload.
func (g *GCS) Publish(ctx context.Context, doc *report.Document, files []string) error {
	if doc == nil {
		return ErrNilDocument
	}
	for _, f := range files {
		if err := g.upload(ctx, f, g.ObjectName(doc, f)); err != nil {
			return err
		}
	}
	return nil
}

func (g *GCS) upload(ctx context.Context, localPath, object string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	w := g.open(ctx, object)
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return fmt.Errorf("copy %s to gs://%s/%s: %w", localPath, g.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", g.bucket, object, err)
	}
	return nil
}

func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
