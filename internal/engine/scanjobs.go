// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/deanable/tagsense/internal/catalog"
	"github.com/deanable/tagsense/internal/registry"
)

// finishedJobRetention is how long completed scans stay queryable.
const finishedJobRetention = time.Hour

// ScanJob tracks one asynchronous catalog scan.
type ScanJob struct {
	ID        string
	StartedAt time.Time
	cancel    context.CancelFunc

	mu       sync.Mutex
	progress catalog.ScanProgress
	results  []*registry.ModelDescriptor
	err      error
	done     bool
}

// ScanStatus is a point-in-time snapshot of a scan job, shaped for JSON.
type ScanStatus struct {
	ID        string               `json:"id"`
	StartedAt time.Time            `json:"startedAt"`
	Progress  catalog.ScanProgress `json:"progress"`
	Done      bool                 `json:"done"`
	Error     string               `json:"error,omitempty"`
	// Results is populated once the scan completed.
	Results []*registry.ModelDescriptor `json:"results,omitempty"`
}

func (j *ScanJob) observe(p catalog.ScanProgress) {
	j.mu.Lock()
	j.progress = p
	j.mu.Unlock()
}

func (j *ScanJob) finish(results []*registry.ModelDescriptor, err error) {
	j.mu.Lock()
	j.results = results
	j.err = err
	j.done = true
	j.mu.Unlock()
}

// Status snapshots the job.
func (j *ScanJob) Status() ScanStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := ScanStatus{
		ID:        j.ID,
		StartedAt: j.StartedAt,
		Progress:  j.progress,
		Done:      j.done,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	if j.done {
		st.Results = j.results
	}
	return st
}

// Cancel stops the scan; the partial result is kept.
func (j *ScanJob) Cancel() {
	j.cancel()
}

// scanBoard keeps recent scan jobs addressable by id.
type scanBoard struct {
	mu   sync.Mutex
	jobs map[string]*ScanJob
}

func newScanBoard() *scanBoard {
	return &scanBoard{jobs: make(map[string]*ScanJob)}
}

func (b *scanBoard) add(job *ScanJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Drop stale finished jobs while we are here.
	for id, j := range b.jobs {
		st := j.Status()
		if st.Done && time.Since(j.StartedAt) > finishedJobRetention {
			delete(b.jobs, id)
		}
	}
	b.jobs[job.ID] = job
}

func (b *scanBoard) get(id string) (*ScanJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	return job, ok
}

func (b *scanBoard) cancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, job := range b.jobs {
		job.cancel()
	}
}
