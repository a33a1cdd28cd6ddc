// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"os"
	"sync"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/errdefs"
	"github.com/deanable/tagsense/internal/util"
)

// document is the persisted registry file layout.
type document struct {
	Models           []*ModelDescriptor `json:"models"`
	DefaultModelName string             `json:"defaultModelName"`
}

// Store is the in-memory registry backed by a JSON file. Every mutation is
// persisted atomically before it is visible to other callers; on persist
// failure the prior state is kept. Reads return clones so callers can never
// alias the backing slice.
type Store struct {
	mu               sync.RWMutex
	path             string
	models           []*ModelDescriptor
	defaultModelName string
}

// Load reads the registry file at path. A missing or malformed file is
// logged and yields an empty registry; load never fails, so application
// startup is never blocked on registry state.
func Load(path string) *Store {
	s := &Store{path: path}
	models, defaultName := readDocument(path)
	s.models = models
	s.defaultModelName = defaultName
	return s
}

func readDocument(path string) ([]*ModelDescriptor, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Debug("Registry file absent, starting with empty registry")
		} else {
			log.WithField("path", path).WithError(err).Warn("Failed to read registry file, starting with empty registry")
		}
		return nil, ""
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.WithField("path", path).WithError(err).Warn("Malformed registry file, starting with empty registry")
		return nil, ""
	}

	models := make([]*ModelDescriptor, 0, len(doc.Models))
	for _, m := range doc.Models {
		if m == nil || m.Name == "" {
			continue
		}
		models = append(models, m)
	}
	return models, doc.DefaultModelName
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Reload replaces the in-memory state with the current file contents.
// Used by the watcher when the file changes externally; a reload triggered
// by our own save re-reads identical content and is harmless.
func (s *Store) Reload() {
	models, defaultName := readDocument(s.path)
	s.mu.Lock()
	s.models = models
	s.defaultModelName = defaultName
	s.mu.Unlock()
}

// Save persists the current state. Mutating methods call this themselves;
// it is exported so first-run setup can materialize an empty registry file.
func (s *Store) Save() error {
	s.mu.RLock()
	models := s.models
	defaultName := s.defaultModelName
	s.mu.RUnlock()
	return persist(s.path, models, defaultName)
}

func persist(path string, models []*ModelDescriptor, defaultName string) error {
	doc := document{Models: models, DefaultModelName: defaultName}
	if doc.Models == nil {
		doc.Models = []*ModelDescriptor{}
	}
	return util.SecureWriteJSON(path, doc, nil)
}

// AddOrUpdate inserts the descriptor, or replaces the existing descriptor
// with the same name preserving its position, and persists.
func (s *Store) AddOrUpdate(desc *ModelDescriptor) error {
	if desc == nil || desc.Name == "" {
		return errdefs.Validation("descriptor", "name is required")
	}
	clone := desc.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*ModelDescriptor, len(s.models))
	copy(next, s.models)
	replaced := false
	for i, m := range next {
		if m.Name == clone.Name {
			next[i] = clone
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, clone)
	}

	if err := persist(s.path, next, s.defaultModelName); err != nil {
		return err
	}
	s.models = next
	log.WithField("model", clone.Name).Debug("Registry updated")
	return nil
}

// Remove deletes the named descriptor and persists. Removing the current
// default clears the default selection.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, m := range s.models {
		if m.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errdefs.NotFound("model", name)
	}

	next := make([]*ModelDescriptor, 0, len(s.models)-1)
	next = append(next, s.models[:idx]...)
	next = append(next, s.models[idx+1:]...)
	nextDefault := s.defaultModelName
	if nextDefault == name {
		nextDefault = ""
	}

	if err := persist(s.path, next, nextDefault); err != nil {
		return err
	}
	s.models = next
	s.defaultModelName = nextDefault
	log.WithField("model", name).Debug("Registry entry removed")
	return nil
}

// SetEnabled flips the named descriptor's enablement and persists.
func (s *Store) SetEnabled(name string, enabled bool) error {
	return s.update(name, func(m *ModelDescriptor) {
		m.IsEnabled = enabled
	})
}

// SetConversionStatus records a conversion state transition and persists.
func (s *Store) SetConversionStatus(name string, status ConversionStatus) error {
	return s.update(name, func(m *ModelDescriptor) {
		m.ConversionStatus = status
	})
}

// update applies fn to a clone of the named descriptor and persists the
// result, keeping prior state when the write fails.
func (s *Store) update(name string, fn func(*ModelDescriptor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, m := range s.models {
		if m.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errdefs.NotFound("model", name)
	}

	next := make([]*ModelDescriptor, len(s.models))
	copy(next, s.models)
	clone := next[idx].Clone()
	fn(clone)
	next[idx] = clone

	if err := persist(s.path, next, s.defaultModelName); err != nil {
		return err
	}
	s.models = next
	return nil
}

// SetDefault selects the named descriptor as the default model and persists.
// Returns a NotFoundError when the name is not registered.
func (s *Store) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, m := range s.models {
		if m.Name == name {
			found = true
			break
		}
	}
	if !found {
		return errdefs.NotFound("model", name)
	}

	if err := persist(s.path, s.models, name); err != nil {
		return err
	}
	s.defaultModelName = name
	log.WithField("model", name).Debug("Default model set")
	return nil
}

// Get returns a clone of the named descriptor.
func (s *Store) Get(name string) (*ModelDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		if m.Name == name {
			return m.Clone(), true
		}
	}
	return nil, false
}

// List returns clones of all descriptors in insertion order.
func (s *Store) List() []*ModelDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ModelDescriptor, len(s.models))
	for i, m := range s.models {
		out[i] = m.Clone()
	}
	return out
}

// Default returns a clone of the default descriptor, if one is selected
// and still present.
func (s *Store) Default() (*ModelDescriptor, bool) {
	s.mu.RLock()
	name := s.defaultModelName
	s.mu.RUnlock()
	if name == "" {
		return nil, false
	}
	return s.Get(name)
}

// DefaultName returns the configured default model name, possibly empty.
func (s *Store) DefaultName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultModelName
}

// Count returns the number of registered models.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}
