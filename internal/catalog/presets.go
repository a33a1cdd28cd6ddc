// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/errdefs"
	"github.com/deanable/tagsense/internal/util"
)

// Preset is a named, reusable filter specification stored as a YAML file
// in the presets directory. Scans can start from a preset instead of
// spelling out every option.
type Preset struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Filter      FilterOptions `yaml:"filter"`
}

// LoadPresets reads every *.yaml/*.yml preset in dir, sorted by name.
// Unparseable files are logged and skipped; a missing directory yields an
// empty list.
func LoadPresets(dir string) ([]Preset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var presets []Preset
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("Failed to read scan preset, skipping")
			continue
		}
		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			log.WithField("path", path).WithError(err).Warn("Malformed scan preset, skipping")
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(e.Name(), ext)
		}
		presets = append(presets, p)
	}

	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets, nil
}

// LoadPreset returns the named preset from dir.
func LoadPreset(dir, name string) (*Preset, error) {
	presets, err := LoadPresets(dir)
	if err != nil {
		return nil, err
	}
	for i := range presets {
		if presets[i].Name == name {
			return &presets[i], nil
		}
	}
	return nil, errdefs.NotFound("scan preset", name)
}

// SavePreset writes the preset as <name>.yaml in dir, atomically.
func SavePreset(dir string, p Preset) error {
	if strings.TrimSpace(p.Name) == "" {
		return errdefs.Validation("scan preset", "name is required")
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return util.SecureWrite(filepath.Join(dir, p.Name+".yaml"), data, nil)
}
