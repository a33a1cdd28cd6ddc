// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// NativeModelExt is the extension of the runtime's directly-loadable format.
const NativeModelExt = ".onnx"

// knownArchitectures is the allow-list of architecture substrings an entry's
// id or tags must match, a safety net against catalog noise (the listing API
// returns plenty of non-vision repositories for generic search terms).
var knownArchitectures = []string{
	"resnet", "efficientnet", "mobilenet", "vit", "convnext", "densenet",
	"inception", "regnet", "squeezenet", "vgg", "swin", "deit", "beit",
	"clip", "siglip", "image-classification",
}

// defaultSearchTerms seed a scan when the caller supplies no search terms.
var defaultSearchTerms = []string{"image-classification", "resnet", "vit", "mobilenet"}

// FilterOptions is the immutable per-scan filter specification.
type FilterOptions struct {
	// MinDownloads excludes entries below this download count.
	MinDownloads int64 `json:"minDownloads" yaml:"min-downloads"`
	// MaxModelSizeMB excludes model files larger than this; 0 disables.
	MaxModelSizeMB int `json:"maxModelSizeMB" yaml:"max-model-size-mb"`
	// MinLikes excludes entries below this like count.
	MinLikes int64 `json:"minLikes" yaml:"min-likes"`
	// MaxModels caps the number of accumulated results; 0 means unlimited.
	MaxModels int `json:"maxModels" yaml:"max-models"`
	// ExcludeArchived drops archived/withdrawn entries.
	ExcludeArchived bool `json:"excludeArchived" yaml:"exclude-archived"`
	// ExcludePrivate drops private entries.
	ExcludePrivate bool `json:"excludePrivate" yaml:"exclude-private"`
	// OnlyVerified keeps only entries from verified publishers.
	OnlyVerified bool `json:"onlyVerified" yaml:"only-verified"`
	// PreferNativeLabels boosts entries shipping a native-format model file
	// together with a real label file.
	PreferNativeLabels bool `json:"preferNativeLabels" yaml:"prefer-native-labels"`
	// Licenses is a case-insensitive substring allow-list; empty means
	// unrestricted.
	Licenses []string `json:"licenses,omitempty" yaml:"licenses,omitempty"`
	// SearchTerms are the ordered server-side search queries.
	SearchTerms []string `json:"searchTerms,omitempty" yaml:"search-terms,omitempty"`
	// SupportedFormats is the set of acceptable model file extensions.
	SupportedFormats []string `json:"supportedFormats,omitempty" yaml:"supported-formats,omitempty"`
	// SortBy/SortDirection are passed to the listing endpoint.
	SortBy        string `json:"sortBy,omitempty" yaml:"sort-by,omitempty"`
	SortDirection string `json:"sortDirection,omitempty" yaml:"sort-direction,omitempty"`
	// Expression is an optional filter condition compiled once per scan
	// and evaluated against every entry, e.g.
	// "Downloads > 5000 && HasTag(\"resnet\")".
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// DefaultFilterOptions returns the options used by an unparameterized scan.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MinDownloads:     100,
		MaxModels:        25,
		ExcludeArchived:  true,
		ExcludePrivate:   true,
		SupportedFormats: []string{NativeModelExt, ".pt", ".pth"},
		SortBy:           "downloads",
		SortDirection:    "desc",
	}
}

// searchTerms returns the configured terms or the generic fallback set.
func (o FilterOptions) searchTerms() []string {
	if len(o.SearchTerms) > 0 {
		return o.SearchTerms
	}
	return defaultSearchTerms
}

// normalizedFormats returns the supported extensions lowercased with a
// leading dot, defaulting when unset.
func (o FilterOptions) normalizedFormats() []string {
	if len(o.SupportedFormats) == 0 {
		return []string{NativeModelExt, ".pt", ".pth"}
	}
	out := make([]string, 0, len(o.SupportedFormats))
	for _, f := range o.SupportedFormats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		out = append(out, f)
	}
	return out
}

// ShouldInclude is the pure inclusion check of one entry against the
// options. All gates must pass; the optional Expression is evaluated
// separately by the scanner because its compilation can fail.
func ShouldInclude(entry Entry, opts FilterOptions) bool {
	if !matchesArchitecture(entry) {
		return false
	}
	if entry.Downloads < opts.MinDownloads {
		return false
	}
	if entry.Likes < opts.MinLikes {
		return false
	}
	if opts.ExcludeArchived && entry.Disabled {
		return false
	}
	if opts.ExcludePrivate && entry.Private {
		return false
	}
	if opts.OnlyVerified && !entry.Verified {
		return false
	}
	if len(opts.Licenses) > 0 {
		license := strings.ToLower(entry.License)
		matched := false
		for _, allowed := range opts.Licenses {
			if allowed = strings.ToLower(strings.TrimSpace(allowed)); allowed != "" && strings.Contains(license, allowed) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchesArchitecture(entry Entry) bool {
	id := strings.ToLower(entry.ID)
	for _, arch := range knownArchitectures {
		if strings.Contains(id, arch) {
			return true
		}
	}
	for _, tag := range entry.Tags {
		tag = strings.ToLower(tag)
		for _, arch := range knownArchitectures {
			if strings.Contains(tag, arch) {
				return true
			}
		}
	}
	return false
}

// ArtifactSelection is the outcome of the file-compatibility check: the
// model file to download, the label file when the repository ships one,
// and whether the model file is already in the native format.
type ArtifactSelection struct {
	ModelFile    EntryFile
	LabelFile    EntryFile
	HasLabels    bool
	NativeFormat bool
}

// SelectArtifacts runs the file-compatibility check over a repository file
// tree. At least one file must carry a supported model extension (and pass
// the size cap when set); a label-like file is preferred but its absence
// only means synthetic labels will be needed, never exclusion.
func SelectArtifacts(files []EntryFile, opts FilterOptions) (ArtifactSelection, bool) {
	formats := opts.normalizedFormats()
	maxBytes := int64(opts.MaxModelSizeMB) * 1024 * 1024

	var sel ArtifactSelection
	haveModel := false
	for _, f := range files {
		if !f.IsFile() {
			continue
		}
		ext := f.Ext()
		supported := false
		for _, allowed := range formats {
			if ext == allowed {
				supported = true
				break
			}
		}
		if supported && (maxBytes <= 0 || f.Size <= maxBytes) {
			native := ext == NativeModelExt
			// First native file wins; otherwise first supported file.
			if !haveModel || (native && !sel.NativeFormat) {
				sel.ModelFile = f
				sel.NativeFormat = native
				haveModel = true
			}
		}
		if !sel.HasLabels && f.IsLabelFile() {
			sel.LabelFile = f
			sel.HasLabels = true
		}
	}
	return sel, haveModel
}

// Priority computes the additive ranking score of an entry. It starts at a
// base of 50; the download and like tiers are mutually exclusive with the
// highest applying. The score has no upper bound; callers break ties by
// raw download count.
func Priority(entry Entry, files []EntryFile) int {
	return priorityAt(entry, files, time.Now())
}

func priorityAt(entry Entry, files []EntryFile, now time.Time) int {
	score := 50

	switch {
	case entry.Downloads > 10000:
		score += 30
	case entry.Downloads > 1000:
		score += 20
	case entry.Downloads > 100:
		score += 10
	}

	switch {
	case entry.Likes > 100:
		score += 15
	case entry.Likes > 10:
		score += 10
	}

	if entry.Verified {
		score += 20
	}

	if !entry.LastModified.IsZero() {
		age := now.Sub(entry.LastModified)
		switch {
		case age <= 30*24*time.Hour:
			score += 10
		case age <= 90*24*time.Hour:
			score += 5
		}
	}

	for _, f := range files {
		name := strings.ToLower(path.Base(f.Path))
		if strings.Contains(name, "imagenet") || strings.Contains(name, "classes") {
			score += 15
			break
		}
	}

	return score
}

// NativePreferenceBonus is the extra score for repositories shipping a
// ready-to-load native model with real labels, applied only when the scan
// options ask for it.
func NativePreferenceBonus(sel ArtifactSelection, opts FilterOptions) int {
	if opts.PreferNativeLabels && sel.NativeFormat && sel.HasLabels {
		return 25
	}
	return 0
}

// ExpressionEnv is the variable set visible to filter expressions.
type ExpressionEnv struct {
	ID        string
	Downloads int
	Likes     int
	License   string
	Verified  bool
	Private   bool
	Archived  bool
	Pipeline  string
	Tags      []string
}

// HasTag reports whether the entry carries the tag, case-insensitively.
func (e ExpressionEnv) HasTag(tag string) bool {
	tag = strings.ToLower(tag)
	for _, t := range e.Tags {
		if strings.ToLower(t) == tag {
			return true
		}
	}
	return false
}

func envFor(entry Entry) ExpressionEnv {
	return ExpressionEnv{
		ID:        entry.ID,
		Downloads: int(entry.Downloads),
		Likes:     int(entry.Likes),
		License:   entry.License,
		Verified:  entry.Verified,
		Private:   entry.Private,
		Archived:  entry.Disabled,
		Pipeline:  entry.PipelineTag,
		Tags:      entry.Tags,
	}
}

// Expression is a compiled filter condition.
type Expression struct {
	source  string
	program *vm.Program
}

// CompileExpression compiles an expression once for reuse across a scan.
// A compile failure is a configuration error the scan must surface.
func CompileExpression(source string) (*Expression, error) {
	program, err := expr.Compile(source, expr.Env(ExpressionEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter expression %q: %w", source, err)
	}
	return &Expression{source: source, program: program}, nil
}

// Match evaluates the compiled expression against one entry.
func (x *Expression) Match(entry Entry) (bool, error) {
	output, err := expr.Run(x.program, envFor(entry))
	if err != nil {
		return false, fmt.Errorf("failed to run filter expression %q: %w", x.source, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("filter expression %q did not return a boolean", x.source)
	}
	return result, nil
}
