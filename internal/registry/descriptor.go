// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry provides the persisted catalog of installed models.
// It defines the normalized model descriptor, a JSON-backed store with
// atomic whole-file persistence, and a watcher that reloads the store
// when the backing file changes externally.
package registry

import (
	"regexp"
	"strings"

	"github.com/deanable/tagsense/internal/util"
)

// ModelFormat identifies the on-disk format of a model artifact.
type ModelFormat string

const (
	// FormatONNX is the runtime's directly-loadable format.
	FormatONNX ModelFormat = "onnx"
	// FormatPyTorch is a foreign checkpoint format requiring conversion.
	FormatPyTorch ModelFormat = "pytorch"
)

// NeedsConversion reports whether artifacts in this format must be
// converted before the inference runtime can load them.
func (f ModelFormat) NeedsConversion() bool {
	return f != FormatONNX
}

// ConversionStatus tracks a descriptor's position in the conversion
// state machine: NotConverted -> Converting -> {Converted | Failed}.
type ConversionStatus string

const (
	// ConversionNotStarted means no conversion has been attempted.
	ConversionNotStarted ConversionStatus = "not_converted"
	// ConversionRunning means a conversion subprocess is in flight.
	ConversionRunning ConversionStatus = "converting"
	// ConversionDone means the native artifact pair was produced and validated.
	ConversionDone ConversionStatus = "converted"
	// ConversionFailed means the conversion or its post-validation failed.
	// Terminal; retries are an explicit user action, never automatic.
	ConversionFailed ConversionStatus = "failed"
)

// ModelDescriptor represents one known model, whether a remote-catalog
// candidate or a locally installed artifact pair.
type ModelDescriptor struct {
	// Name is the unique registry key, derived from the catalog id with
	// path separators normalized (see NormalizeName).
	Name string `json:"name"`
	// DisplayName is the human-readable name shown to users.
	DisplayName string `json:"displayName,omitempty"`
	// ModelPath is the filesystem path of the model file. Empty until
	// the artifact has been downloaded or converted.
	ModelPath string `json:"modelPath,omitempty"`
	// LabelsPath is the filesystem path of the label file (one label per line).
	LabelsPath string `json:"labelsPath,omitempty"`
	// ImageWidth is the input width expected by the model.
	ImageWidth int `json:"imageWidth"`
	// ImageHeight is the input height expected by the model.
	ImageHeight int `json:"imageHeight"`
	// ConfidenceThreshold drops predictions scoring below it (0.0 - 1.0).
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	// MaxTags caps the number of predictions returned per image.
	MaxTags int `json:"maxTags"`
	// IsEnabled marks the model as selectable for tagging.
	IsEnabled bool `json:"isEnabled"`
	// Priority orders models for presentation; higher is preferred.
	Priority int `json:"priority"`
	// ModelFormat is the artifact format (onnx or pytorch).
	ModelFormat ModelFormat `json:"modelFormat"`
	// ConversionStatus tracks the conversion state machine.
	ConversionStatus ConversionStatus `json:"conversionStatus"`
	// Source names the catalog the descriptor came from.
	Source string `json:"source,omitempty"`
	// License is the catalog-reported license identifier.
	License string `json:"license,omitempty"`
	// ExtraMetadata carries open catalog-specific facts (downloads, likes,
	// verified flag, raw file list) as strings.
	ExtraMetadata map[string]string `json:"extraMetadata,omitempty"`
}

// NewModelDescriptor returns a descriptor for name with inference defaults.
func NewModelDescriptor(name string) *ModelDescriptor {
	return &ModelDescriptor{
		Name:                name,
		DisplayName:         name,
		ImageWidth:          224,
		ImageHeight:         224,
		ConfidenceThreshold: 0.35,
		MaxTags:             10,
		ModelFormat:         FormatONNX,
		ConversionStatus:    ConversionNotStarted,
	}
}

// NormalizeName derives a registry key from a catalog identifier by
// replacing path separators, so "owner/repo" and a filesystem path never
// collide with directory structure.
func NormalizeName(catalogID string) string {
	name := strings.TrimSpace(catalogID)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.Trim(name, "/")
	return strings.ReplaceAll(name, "/", "_")
}

// Usable reports whether the descriptor can back an inference session:
// both artifact paths must resolve to existing, non-empty files. Synthetic
// labels do not make a model unusable, only lower-confidence (see
// HasSyntheticLabels).
func (d *ModelDescriptor) Usable() bool {
	if d == nil || d.ModelPath == "" || d.LabelsPath == "" {
		return false
	}
	return util.NonEmptyFile(d.ModelPath) && util.NonEmptyFile(d.LabelsPath)
}

// HasSyntheticLabels reports whether the descriptor's label file was
// synthesized (class_0000 style placeholders) rather than shipped by the
// model author. Recorded at install/conversion time in ExtraMetadata.
func (d *ModelDescriptor) HasSyntheticLabels() bool {
	if d == nil {
		return false
	}
	return d.ExtraMetadata["labels"] == "synthetic"
}

// SetExtra records a provenance fact, allocating the map on first use.
func (d *ModelDescriptor) SetExtra(key, value string) {
	if d.ExtraMetadata == nil {
		d.ExtraMetadata = make(map[string]string)
	}
	d.ExtraMetadata[key] = value
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's backing slice.
func (d *ModelDescriptor) Clone() *ModelDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.ExtraMetadata != nil {
		out.ExtraMetadata = make(map[string]string, len(d.ExtraMetadata))
		for k, v := range d.ExtraMetadata {
			out.ExtraMetadata[k] = v
		}
	}
	return &out
}

// syntheticLabelPattern matches generated placeholder labels such as
// "class_0000" or "Unknown_17".
var syntheticLabelPattern = regexp.MustCompile(`^(class_\d{1,6}|Unknown_\d+)$`)

// IsSyntheticLabelSet reports whether every label in the set matches the
// recognized placeholder pattern. An empty set is not synthetic, it is empty.
func IsSyntheticLabelSet(labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	for _, label := range labels {
		if !syntheticLabelPattern.MatchString(strings.TrimSpace(label)) {
			return false
		}
	}
	return true
}
