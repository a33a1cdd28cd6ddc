// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Load(filepath.Join(t.TempDir(), "registry.json"))
}

func TestLoad_AbsentFileYieldsEmptyRegistry(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "registry.json"))
	require.Equal(t, 0, s.Count())
	require.Empty(t, s.DefaultName())
}

func TestLoad_MalformedFileYieldsEmptyRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := Load(path)
	require.Equal(t, 0, s.Count())

	// The store must still be writable afterwards.
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("a")))
	require.Equal(t, 1, s.Count())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	s := Load(path)

	first := NewModelDescriptor("author_model-a")
	first.ModelPath = "/models/a.onnx"
	first.LabelsPath = "/models/a.txt"
	first.SetExtra("downloads", "12000")
	require.NoError(t, s.AddOrUpdate(first))

	second := NewModelDescriptor("author_model-b")
	second.ModelFormat = FormatPyTorch
	second.ConversionStatus = ConversionFailed
	require.NoError(t, s.AddOrUpdate(second))
	require.NoError(t, s.SetDefault("author_model-b"))

	reloaded := Load(path)
	require.Equal(t, 2, reloaded.Count())
	require.Equal(t, "author_model-b", reloaded.DefaultName())

	got, ok := reloaded.Get("author_model-a")
	require.True(t, ok)
	require.Equal(t, "/models/a.onnx", got.ModelPath)
	require.Equal(t, "/models/a.txt", got.LabelsPath)
	require.Equal(t, "12000", got.ExtraMetadata["downloads"])

	got, ok = reloaded.Get("author_model-b")
	require.True(t, ok)
	require.Equal(t, FormatPyTorch, got.ModelFormat)
	require.Equal(t, ConversionFailed, got.ConversionStatus)
}

func TestStore_AddOrUpdateReplacesInPlace(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("a")))
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("b")))
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("c")))

	updated := NewModelDescriptor("b")
	updated.Priority = 99
	require.NoError(t, s.AddOrUpdate(updated))

	list := s.List()
	require.Len(t, list, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{list[0].Name, list[1].Name, list[2].Name})
	require.Equal(t, 99, list[1].Priority)
}

func TestStore_AddOrUpdateRejectsUnnamed(t *testing.T) {
	s := newTestStore(t)
	require.Error(t, s.AddOrUpdate(nil))
	require.Error(t, s.AddOrUpdate(&ModelDescriptor{}))
}

func TestStore_SetDefaultUnknownModel(t *testing.T) {
	s := newTestStore(t)
	err := s.SetDefault("ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
	require.Contains(t, err.Error(), "not found")
}

func TestStore_RemoveClearsDefault(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("a")))
	require.NoError(t, s.SetDefault("a"))
	require.NoError(t, s.Remove("a"))
	require.Empty(t, s.DefaultName())
	_, ok := s.Default()
	require.False(t, ok)

	require.Error(t, s.Remove("a"))
}

func TestStore_SetEnabledPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	s := Load(path)
	desc := NewModelDescriptor("a")
	desc.IsEnabled = true
	require.NoError(t, s.AddOrUpdate(desc))
	require.NoError(t, s.SetEnabled("a", false))

	got, ok := Load(path).Get("a")
	require.True(t, ok)
	require.False(t, got.IsEnabled)
}

func TestStore_ListReturnsClones(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("a")))

	list := s.List()
	list[0].Priority = 1234
	list[0].SetExtra("tampered", "yes")

	got, _ := s.Get("a")
	require.Zero(t, got.Priority)
	require.Empty(t, got.ExtraMetadata["tampered"])
}

func TestStore_PersistLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := Load(filepath.Join(dir, "registry.json"))
	require.NoError(t, s.AddOrUpdate(NewModelDescriptor("a")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.Contains(e.Name(), ".tmp."), "temp file left behind: %s", e.Name())
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"owner/repo":        "owner_repo",
		"owner/repo/extra":  "owner_repo_extra",
		"  owner/repo  ":    "owner_repo",
		"/leading/slashes/": "leading_slashes",
		"plain":             "plain",
		"win\\style":        "win_style",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeName(in), "input %q", in)
	}
}

func TestModelDescriptor_Usable(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "m.onnx")
	labelsPath := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(modelPath, []byte("onnx-bytes"), 0644))
	require.NoError(t, os.WriteFile(labelsPath, []byte("cat\ndog\n"), 0644))

	d := NewModelDescriptor("m")
	require.False(t, d.Usable(), "paths unset")

	d.ModelPath = modelPath
	d.LabelsPath = labelsPath
	require.True(t, d.Usable())

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	d.LabelsPath = empty
	require.False(t, d.Usable(), "empty label file")

	d.LabelsPath = filepath.Join(dir, "missing.txt")
	require.False(t, d.Usable(), "missing label file")
}

func TestIsSyntheticLabelSet(t *testing.T) {
	require.True(t, IsSyntheticLabelSet([]string{"class_0000", "class_0001", "class_0999"}))
	require.True(t, IsSyntheticLabelSet([]string{"Unknown_3"}))
	require.False(t, IsSyntheticLabelSet([]string{"class_0000", "tabby cat"}))
	require.False(t, IsSyntheticLabelSet([]string{"cat", "dog"}))
	require.False(t, IsSyntheticLabelSet(nil))
}

func TestWatcher_ReloadsOnExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	s := Load(path)
	require.NoError(t, s.Save())

	reloaded := make(chan struct{}, 8)
	w := NewWatcher(s, func() { reloaded <- struct{}{} })
	require.NoError(t, w.Start())
	defer w.Stop()

	// Simulate another process rewriting the registry.
	other := Load(path)
	require.NoError(t, other.AddOrUpdate(NewModelDescriptor("external")))

	deadline := time.After(3 * time.Second)
	for s.Count() == 0 {
		select {
		case <-reloaded:
		case <-deadline:
			t.Fatal("watcher did not reload after external change")
		case <-time.After(50 * time.Millisecond):
		}
	}
	_, ok := s.Get("external")
	require.True(t, ok)
}
