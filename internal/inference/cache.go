// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	// Register the decoders InferFile accepts.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/errdefs"
	"github.com/deanable/tagsense/internal/registry"
	"github.com/deanable/tagsense/internal/util"
)

// Tag is one scored prediction.
type Tag struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// InferOptions override descriptor parameters for a single call.
type InferOptions struct {
	// Threshold replaces the descriptor's confidence threshold when
	// non-negative.
	Threshold float64
	// MaxTags replaces the descriptor's cap when positive.
	MaxTags int
}

// DefaultInferOptions defer entirely to the descriptor.
func DefaultInferOptions() InferOptions {
	return InferOptions{Threshold: -1}
}

// entry pairs a loaded session with its label set. Entries are
// published to the cache map only once both halves loaded successfully.
type entry struct {
	session Session
	labels  []string
	desc    *registry.ModelDescriptor
}

// inflight tracks a load in progress so concurrent requests for the
// same model wait for it instead of loading again.
type inflight struct {
	done  chan struct{}
	entry *entry
	err   error
}

// Cache hands out inference sessions, loading each model at most once.
// Loads for different models proceed in parallel; only the map
// check-and-insert is serialized.
type Cache struct {
	runtime Runtime
	store   *registry.Store

	mu      sync.Mutex
	entries map[string]*entry
	loading map[string]*inflight
	closed  bool
}

// NewCache returns an empty cache backed by runtime and store.
func NewCache(runtime Runtime, store *registry.Store) *Cache {
	return &Cache{
		runtime: runtime,
		store:   store,
		entries: make(map[string]*entry),
		loading: make(map[string]*inflight),
	}
}

// EnsureLoaded loads the named model if it is not cached yet. It is
// idempotent and safe to call concurrently.
func (c *Cache) EnsureLoaded(ctx context.Context, name string) error {
	_, err := c.acquire(ctx, name)
	return err
}

// Infer classifies img with the named model: scores are paired with
// labels by position, sorted descending, filtered by the confidence
// threshold and truncated to the tag cap.
func (c *Cache) Infer(ctx context.Context, name string, img image.Image, opts InferOptions) ([]Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := c.acquire(ctx, name)
	if err != nil {
		return nil, err
	}

	// Inference is CPU-bound; run it on its own goroutine so the
	// caller can stop waiting when ctx is done. The computation
	// itself runs to completion either way.
	type runResult struct {
		scores []float32
		err    error
	}
	ch := make(chan runResult, 1)
	go func() {
		scores, runErr := e.session.Run(ctx, img)
		ch <- runResult{scores: scores, err: runErr}
	}()

	var scores []float32
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("inference with %s: %w", name, res.err)
		}
		scores = res.scores
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tags := pairScores(name, scores, e.labels)
	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].Score != tags[j].Score {
			return tags[i].Score > tags[j].Score
		}
		return tags[i].Label < tags[j].Label
	})

	threshold := e.desc.ConfidenceThreshold
	if opts.Threshold >= 0 {
		threshold = opts.Threshold
	}
	maxTags := e.desc.MaxTags
	if opts.MaxTags > 0 {
		maxTags = opts.MaxTags
	}

	filtered := tags[:0]
	for _, t := range tags {
		if float64(t.Score) >= threshold {
			filtered = append(filtered, t)
		}
	}
	if maxTags > 0 && len(filtered) > maxTags {
		filtered = filtered[:maxTags]
	}
	return filtered, nil
}

// InferFile decodes the image at path and classifies it. JPEG, PNG and
// GIF are accepted.
func (c *Cache) InferFile(ctx context.Context, name, path string, opts InferOptions) ([]Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errdefs.NotFound("image file", path)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errdefs.InvalidState(path, fmt.Sprintf("cannot decode image: %v", err))
	}
	log.Debugf("Decoded %s image %s", format, path)
	return c.Infer(ctx, name, img, opts)
}

// Loaded returns the names of the currently cached models, sorted.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evict releases the named session if it is cached. Callers sequence
// eviction after in-flight work on the model completes.
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	e, ok := c.entries[name]
	delete(c.entries, name)
	c.mu.Unlock()

	if ok {
		if err := e.session.Close(); err != nil {
			log.WithField("model", name).WithError(err).Warn("Closing evicted session")
		} else {
			log.WithField("model", name).Debug("Session evicted")
		}
	}
}

// Close releases every cached session and rejects further use. The
// caller is responsible for sequencing Close after in-flight calls.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	var firstErr error
	for name, e := range entries {
		if err := e.session.Close(); err != nil {
			log.WithField("model", name).WithError(err).Warn("Closing cached session")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	log.Debugf("Session cache closed, released %d sessions", len(entries))
	return firstErr
}

// acquire returns the cached entry for name, loading it when absent.
// At most one load per name runs at a time; concurrent callers for the
// same name wait on the in-flight load, callers for other names are
// not blocked beyond the map access.
func (c *Cache) acquire(ctx context.Context, name string) (*entry, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errdefs.InvalidState("session cache", "cache is closed")
	}
	if e, ok := c.entries[name]; ok {
		c.mu.Unlock()
		return e, nil
	}
	if fl, ok := c.loading[name]; ok {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.entry, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fl := &inflight{done: make(chan struct{})}
	c.loading[name] = fl
	c.mu.Unlock()

	e, err := c.load(name)

	c.mu.Lock()
	delete(c.loading, name)
	closed := c.closed
	if err == nil && !closed {
		c.entries[name] = e
	}
	c.mu.Unlock()

	if err == nil && closed {
		e.session.Close()
		e, err = nil, errdefs.InvalidState("session cache", "cache is closed")
	}
	// Failed loads leave no entry; the next caller retries.
	fl.entry, fl.err = e, err
	close(fl.done)
	return e, err
}

// load builds a complete entry: artifacts must exist, the session must
// open, the labels must read. Nothing is published on partial success.
func (c *Cache) load(name string) (*entry, error) {
	desc, ok := c.store.Get(name)
	if !ok {
		return nil, errdefs.NotFound("model", name)
	}
	if !util.NonEmptyFile(desc.ModelPath) {
		return nil, errdefs.NotFound("model file", desc.ModelPath)
	}
	if !util.NonEmptyFile(desc.LabelsPath) {
		return nil, errdefs.NotFound("label file", desc.LabelsPath)
	}

	log.WithField("model", name).Info("Loading inference session")
	session, err := c.runtime.Open(desc.ModelPath, desc.ImageWidth, desc.ImageHeight)
	if err != nil {
		return nil, fmt.Errorf("opening session for %s: %w", name, err)
	}

	labels, err := LoadLabels(desc.LabelsPath)
	if err != nil {
		session.Close()
		return nil, err
	}

	log.WithField("model", name).Debugf("Session ready with %d labels", len(labels))
	return &entry{session: session, labels: labels, desc: desc}, nil
}

// pairScores matches scores to labels by index. Cardinality mismatches
// are tolerated: excess scores get synthetic names, excess labels are
// ignored. Converted models report inconsistent output sizes often
// enough that failing here would be worse than the noise.
func pairScores(name string, scores []float32, labels []string) []Tag {
	if len(scores) != len(labels) {
		log.WithField("model", name).
			Warnf("Score count %d does not match label count %d, padding with synthetic labels",
				len(scores), len(labels))
	}
	tags := make([]Tag, len(scores))
	for i, score := range scores {
		label := syntheticLabel(i)
		if i < len(labels) {
			label = labels[i]
		}
		tags[i] = Tag{Label: label, Score: score}
	}
	return tags
}
