// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package download streams catalog artifacts to local files. Writes go
// through a uniquely named temp file that is fsynced and renamed into
// place, so an interrupted download never leaves a partial artifact
// under the final name.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/errdefs"
)

// Progress reports download state to an optional observer.
type Progress struct {
	URL      string
	Received int64
	// Total is -1 when the server sends no Content-Length.
	Total int64
	Done  bool
}

// ProgressFunc receives throttled progress updates plus a final Done
// event. Callbacks run on the downloading goroutine and must be quick.
type ProgressFunc func(Progress)

// progressInterval throttles intermediate progress callbacks.
const progressInterval = 200 * time.Millisecond

// Downloader fetches files over HTTP.
type Downloader struct {
	client    *http.Client
	userAgent string
}

// New returns a Downloader. Model files can take minutes to transfer,
// so there is no overall request timeout; the caller's context bounds
// each download.
func New(userAgent string) *Downloader {
	if userAgent == "" {
		userAgent = "tagsense/1.0"
	}
	return &Downloader{
		client:    &http.Client{},
		userAgent: userAgent,
	}
}

// Fetch downloads url into dest atomically. progress may be nil.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return &errdefs.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &errdefs.NetworkError{URL: url, Status: resp.StatusCode}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%s", dest, uuid.New().String())
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", tempPath, err)
	}
	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	total := resp.ContentLength
	log.WithField("url", url).Debugf("Downloading to %s (%d bytes)", dest, total)

	writer := &progressWriter{
		dst:      tempFile,
		url:      url,
		total:    total,
		progress: progress,
	}
	if _, err := io.Copy(writer, resp.Body); err != nil {
		return fmt.Errorf("download of %s interrupted: %w", url, err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}
	cleanupTemp = false

	if progress != nil {
		progress(Progress{URL: url, Received: writer.received, Total: total, Done: true})
	}
	log.WithField("url", url).Debugf("Downloaded %d bytes", writer.received)
	return nil
}

// progressWriter counts bytes and emits throttled callbacks.
type progressWriter struct {
	dst      io.Writer
	url      string
	total    int64
	received int64
	lastEmit time.Time
	progress ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.received += int64(n)
	if err != nil {
		return n, err
	}
	if w.progress != nil && time.Since(w.lastEmit) >= progressInterval {
		w.lastEmit = time.Now()
		w.progress(Progress{URL: w.url, Received: w.received, Total: w.total})
	}
	return n, nil
}
