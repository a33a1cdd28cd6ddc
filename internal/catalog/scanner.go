// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/registry"
)

// CatalogAPI is the remote access surface the scanner needs. *Client
// implements it; tests substitute a scripted fake.
type CatalogAPI interface {
	ListModels(ctx context.Context, q ListQuery) ([]Entry, []byte, error)
	GetModel(ctx context.Context, id string) (*Entry, error)
	ListFiles(ctx context.Context, id string) ([]EntryFile, error)
}

// ScannerConfig tunes the paged walk. The loop-prevention thresholds are
// configurable because the upstream behavior they guard against (the API
// re-serving pages instead of signaling end-of-data) is not deterministic.
type ScannerConfig struct {
	// PageSize is the listing page size.
	PageSize int
	// MaxPages is the hard ceiling on pages fetched across the whole scan.
	MaxPages int
	// OverlapThreshold stops a term's pagination when the fraction of
	// already-seen ids on a page exceeds it.
	OverlapThreshold float64
	// PageDelay is the politeness pause between page requests.
	PageDelay time.Duration
	// Source is the provenance name recorded on produced descriptors.
	Source string
}

func (c ScannerConfig) withDefaults() ScannerConfig {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 100
	}
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		c.OverlapThreshold = 0.8
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
	if c.Source == "" {
		c.Source = "huggingface"
	}
	return c
}

// ScanProgress is one progress event emitted while a scan runs.
type ScanProgress struct {
	ScanID  string `json:"scanId"`
	Term    string `json:"term"`
	Page    int    `json:"page"`
	Scanned int    `json:"scanned"`
	Matched int    `json:"matched"`
	// LastMatch is the most recently accepted model name, when any.
	LastMatch string `json:"lastMatch,omitempty"`
	// Done marks the final event of the scan.
	Done bool `json:"done,omitempty"`
}

// ProgressFunc receives progress events. It is called from the scanning
// goroutine and must not block.
type ProgressFunc func(ScanProgress)

// Scanner walks the remote catalog page by page, applies the filter and
// scorer, and accumulates a ranked candidate set.
type Scanner struct {
	api CatalogAPI
	cfg ScannerConfig
}

// NewScanner creates a scanner over the given catalog API.
func NewScanner(api CatalogAPI, cfg ScannerConfig) *Scanner {
	return &Scanner{api: api, cfg: cfg.withDefaults()}
}

// candidate pairs a produced descriptor with its raw download count for
// the final tie-break sort.
type candidate struct {
	desc      *registry.ModelDescriptor
	downloads int64
}

// Scan walks the catalog for each search term and returns candidate
// descriptors sorted by priority descending, downloads descending.
//
// Early stops that are not errors: a page payload byte-identical to the
// previous page, seen-id overlap above the configured threshold, the page
// ceiling, a zero-entry page, the MaxModels cap, and cancellation — all
// return the partial result accumulated so far. A page-level HTTP failure
// likewise returns the partial set. Only misconfiguration (an invalid
// filter expression) is returned as an error.
func (s *Scanner) Scan(ctx context.Context, opts FilterOptions, progress ProgressFunc) ([]*registry.ModelDescriptor, error) {
	var expression *Expression
	if opts.Expression != "" {
		var err error
		expression, err = CompileExpression(opts.Expression)
		if err != nil {
			return nil, err
		}
	}

	scanID := uuid.NewString()
	seen := make(map[string]struct{})
	found := make(map[string]*candidate)
	scanned := 0
	pagesFetched := 0

	logScan := log.WithField("scan_id", scanID)
	logScan.WithField("terms", len(opts.searchTerms())).Info("Starting catalog scan")

	emit := func(term string, page int, lastMatch string, done bool) {
		if progress != nil {
			progress(ScanProgress{
				ScanID:    scanID,
				Term:      term,
				Page:      page,
				Scanned:   scanned,
				Matched:   len(found),
				LastMatch: lastMatch,
				Done:      done,
			})
		}
	}

scan:
	for _, term := range opts.searchTerms() {
		var prevPayload []byte

		for page := 1; ; page++ {
			if ctx.Err() != nil {
				logScan.Debug("Scan cancelled, returning partial result")
				break scan
			}
			if pagesFetched >= s.cfg.MaxPages {
				logScan.WithField("pages", pagesFetched).Warn("Page ceiling reached, stopping scan")
				break scan
			}

			entries, payload, err := s.api.ListModels(ctx, ListQuery{
				Search:    term,
				Limit:     s.cfg.PageSize,
				Skip:      (page - 1) * s.cfg.PageSize,
				SortBy:    opts.SortBy,
				Direction: opts.SortDirection,
			})
			if err != nil {
				// A failing page request aborts the scan but keeps what was
				// accumulated; the caller gets a partial result, not an error.
				logScan.WithField("term", term).WithField("page", page).WithError(err).
					Warn("Page request failed, returning partial result")
				break scan
			}
			pagesFetched++

			if len(entries) == 0 {
				logScan.WithField("term", term).Debug("Empty page, term exhausted")
				break
			}

			// The upstream API is observed to sometimes repeat results
			// instead of signaling end-of-data; both guards stop cleanly.
			if prevPayload != nil && bytes.Equal(prevPayload, payload) {
				logScan.WithField("term", term).WithField("page", page).
					Debug("Page payload identical to previous page, stopping term")
				break
			}
			prevPayload = payload

			dup := 0
			for _, e := range entries {
				if _, ok := seen[e.ID]; ok {
					dup++
				}
			}
			if overlap := float64(dup) / float64(len(entries)); overlap > s.cfg.OverlapThreshold {
				logScan.WithField("term", term).WithField("overlap", overlap).
					Debug("Seen-id overlap above threshold, stopping term")
				break
			}

			for i := range entries {
				entry := entries[i]
				if _, ok := seen[entry.ID]; ok {
					continue
				}
				seen[entry.ID] = struct{}{}
				scanned++

				if !ShouldInclude(entry, opts) {
					continue
				}
				if expression != nil {
					ok, err := expression.Match(entry)
					if err != nil {
						logScan.WithField("model", entry.ID).WithError(err).Warn("Filter expression failed for entry, skipping")
						continue
					}
					if !ok {
						continue
					}
				}

				desc, downloads, ok := s.inspect(ctx, entry, opts, logScan)
				if !ok {
					if ctx.Err() != nil {
						break scan
					}
					continue
				}
				found[desc.Name] = &candidate{desc: desc, downloads: downloads}
				emit(term, page, desc.Name, false)
			}

			emit(term, page, "", false)

			if opts.MaxModels > 0 && len(found) >= opts.MaxModels {
				logScan.WithField("matched", len(found)).Debug("Result cap reached")
				break scan
			}

			// Politeness pause, cancellable.
			if s.cfg.PageDelay > 0 {
				select {
				case <-ctx.Done():
					break scan
				case <-time.After(s.cfg.PageDelay):
				}
			}
		}
	}

	results := rank(found)
	if opts.MaxModels > 0 && len(results) > opts.MaxModels {
		results = results[:opts.MaxModels]
	}

	logScan.WithField("scanned", scanned).WithField("matched", len(results)).Info("Catalog scan finished")
	emit("", 0, "", true)
	return results, nil
}

// inspect fetches an entry's detail and file tree, runs the compatibility
// check, and builds the candidate descriptor. Per-entry failures are
// logged and skipped, never aborting the scan.
func (s *Scanner) inspect(ctx context.Context, entry Entry, opts FilterOptions, logScan *log.Entry) (*registry.ModelDescriptor, int64, bool) {
	detail, err := s.api.GetModel(ctx, entry.ID)
	if err != nil {
		logScan.WithField("model", entry.ID).WithError(err).Warn("Detail fetch failed, skipping entry")
		return nil, 0, false
	}
	files, err := s.api.ListFiles(ctx, entry.ID)
	if err != nil {
		logScan.WithField("model", entry.ID).WithError(err).Warn("File listing failed, skipping entry")
		return nil, 0, false
	}
	sel, ok := SelectArtifacts(files, opts)
	if !ok {
		return nil, 0, false
	}

	score := Priority(*detail, files) + NativePreferenceBonus(sel, opts)
	return s.describe(*detail, sel, score), detail.Downloads, true
}

func (s *Scanner) describe(entry Entry, sel ArtifactSelection, score int) *registry.ModelDescriptor {
	return Describe(entry, sel, score, s.cfg.Source)
}

// Describe converts a catalog entry plus its artifact selection into the
// normalized candidate descriptor handed to callers.
func Describe(entry Entry, sel ArtifactSelection, score int, source string) *registry.ModelDescriptor {
	desc := registry.NewModelDescriptor(registry.NormalizeName(entry.ID))
	desc.DisplayName = entry.ID
	desc.Priority = score
	desc.Source = source
	desc.License = entry.License
	if sel.NativeFormat {
		desc.ModelFormat = registry.FormatONNX
	} else {
		desc.ModelFormat = registry.FormatPyTorch
	}

	desc.SetExtra("catalogId", entry.ID)
	desc.SetExtra("downloads", strconv.FormatInt(entry.Downloads, 10))
	desc.SetExtra("likes", strconv.FormatInt(entry.Likes, 10))
	desc.SetExtra("verified", strconv.FormatBool(entry.Verified))
	desc.SetExtra("modelFile", sel.ModelFile.Path)
	if sel.HasLabels {
		desc.SetExtra("labelFile", sel.LabelFile.Path)
	}
	if entry.PipelineTag != "" {
		desc.SetExtra("pipeline", entry.PipelineTag)
	}
	if !entry.LastModified.IsZero() {
		desc.SetExtra("lastModified", entry.LastModified.UTC().Format(time.RFC3339))
	}
	return desc
}

// rank sorts candidates by priority descending, breaking ties by raw
// download count descending, then by name for determinism.
func rank(found map[string]*candidate) []*registry.ModelDescriptor {
	ordered := make([]*candidate, 0, len(found))
	for _, c := range found {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].desc.Priority != ordered[j].desc.Priority {
			return ordered[i].desc.Priority > ordered[j].desc.Priority
		}
		if ordered[i].downloads != ordered[j].downloads {
			return ordered[i].downloads > ordered[j].downloads
		}
		return ordered[i].desc.Name < ordered[j].desc.Name
	})

	out := make([]*registry.ModelDescriptor, len(ordered))
	for i, c := range ordered {
		out[i] = c.desc
	}
	return out
}
