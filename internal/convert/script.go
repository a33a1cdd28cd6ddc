// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package convert

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/sjson"

	"github.com/deanable/tagsense/internal/util"
)

// Artifact names the conversion script writes into the output directory.
// The rest of the system finds converted models by these fixed names.
const (
	ModelFileName  = "model.onnx"
	LabelsFileName = "labels.txt"
)

//go:embed templates/convert_model.py
var conversionScript string

// materializeScript writes the embedded conversion script into dir and
// returns its path. The script is rewritten on every run so upgrades of
// the binary never execute a stale copy left in the scratch directory.
func materializeScript(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	path := filepath.Join(dir, "convert_model.py")
	if err := os.WriteFile(path, []byte(conversionScript), 0o600); err != nil {
		return "", fmt.Errorf("writing conversion script: %w", err)
	}
	return path, nil
}

// writeParams builds the JSON parameter document the script receives as
// its single argument and writes it atomically next to the script.
func writeParams(path string, job Job) error {
	doc := []byte(`{}`)
	fields := []struct {
		key   string
		value interface{}
	}{
		{"model_id", job.ModelID},
		{"source_model", job.SourcePath},
		{"output_dir", job.OutputDir},
		{"image_size", job.ImageSize},
		{"model_filename", ModelFileName},
		{"labels_filename", LabelsFileName},
	}

	var err error
	for _, field := range fields {
		if doc, err = sjson.SetBytes(doc, field.key, field.value); err != nil {
			return fmt.Errorf("building params document: %w", err)
		}
	}

	return util.SecureWrite(path, doc, &util.SecureWriteOptions{Permissions: 0o600})
}
