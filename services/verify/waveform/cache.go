// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package waveform

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// Cache memoizes parsed waveforms by content hash for the duration of one
// pipeline run, so several waveform metrics over the same file parse it once.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	max   int
	items map[string]*Waveform
	hits  int
}

// NewCache creates a cache holding at most max waveforms. max <= 0 means
// unbounded.
func NewCache(max int) *Cache {
	return &Cache{
		max:   max,
		items: make(map[string]*Waveform),
	}
}

// Parse returns the cached waveform for the file's content, parsing it on a
// miss. The result always reports path as its Path, even when the parse was
// shared with an identical file. A nil Cache parses without memoizing.
func (c *Cache) Parse(path string) (*Waveform, error) {
	if c == nil {
		return Parse(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingArtifactError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("read waveform: %w", err)
	}
	key := hash(data)

	c.mu.RLock()
	if w, ok := c.items[key]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return w.withPath(path), nil
	}
	c.mu.RUnlock()

	w, err := ParseReader(path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[key]; ok {
		return existing.withPath(path), nil
	}
	if c.max <= 0 || len(c.items) < c.max {
		c.items[key] = w
	}
	return w, nil
}

// Len returns the number of cached waveforms.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Hits returns how many Parse calls were served from the cache.
func (c *Cache) Hits() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits
}

// withPath returns w, or a view of it sharing the parsed data under another
// path.
func (w *Waveform) withPath(path string) *Waveform {
	if w.path == path {
		return w
	}
	cp := *w
	cp.path = path
	return &cp
}

func hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
