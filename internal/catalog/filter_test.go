// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func visionEntry(id string, downloads, likes int64, license string) Entry {
	return Entry{
		ID:        id,
		Downloads: downloads,
		Likes:     likes,
		License:   license,
		Tags:      []string{"image-classification"},
	}
}

func TestShouldInclude_LicenseAndDownloadsScenario(t *testing.T) {
	opts := DefaultFilterOptions()
	opts.MinDownloads = 1000
	opts.Licenses = []string{"mit"}

	entries := []Entry{
		visionEntry("a/resnet-small", 500, 0, "mit"),
		visionEntry("b/resnet-base", 5000, 0, "mit"),
		visionEntry("c/resnet-large", 5000, 0, "gpl-3.0"),
	}

	var included []string
	for _, e := range entries {
		if ShouldInclude(e, opts) {
			included = append(included, e.ID)
		}
	}
	require.Equal(t, []string{"b/resnet-base"}, included)
}

func TestShouldInclude_ArchitectureAllowList(t *testing.T) {
	opts := FilterOptions{}

	noise := Entry{ID: "someone/awesome-llm-7b", Tags: []string{"text-generation"}}
	require.False(t, ShouldInclude(noise, opts), "non-vision entry must be rejected")

	byID := Entry{ID: "google/vit-base-patch16-224"}
	require.True(t, ShouldInclude(byID, opts))

	byTag := Entry{ID: "someone/classifier", Tags: []string{"ResNet"}}
	require.True(t, ShouldInclude(byTag, opts), "tag match is case-insensitive")
}

func TestShouldInclude_Gates(t *testing.T) {
	base := visionEntry("a/mobilenet", 10_000, 50, "apache-2.0")

	opts := FilterOptions{ExcludeArchived: true}
	archived := base
	archived.Disabled = true
	require.False(t, ShouldInclude(archived, opts))
	require.True(t, ShouldInclude(archived, FilterOptions{}), "archived passes when not excluded")

	opts = FilterOptions{ExcludePrivate: true}
	private := base
	private.Private = true
	require.False(t, ShouldInclude(private, opts))

	opts = FilterOptions{OnlyVerified: true}
	require.False(t, ShouldInclude(base, opts))
	verified := base
	verified.Verified = true
	require.True(t, ShouldInclude(verified, opts))

	opts = FilterOptions{MinLikes: 100}
	require.False(t, ShouldInclude(base, opts))
	opts = FilterOptions{MinLikes: 50}
	require.True(t, ShouldInclude(base, opts))
}

func TestShouldInclude_IsPure(t *testing.T) {
	opts := DefaultFilterOptions()
	entry := visionEntry("a/vit", 5000, 20, "mit")
	first := ShouldInclude(entry, opts)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, ShouldInclude(entry, opts))
	}
}

func TestSelectArtifacts(t *testing.T) {
	opts := DefaultFilterOptions()

	files := []EntryFile{
		{Path: "README.md", Type: "file", Size: 10},
		{Path: "weights/model.pt", Type: "file", Size: 90 << 20},
		{Path: "model.onnx", Type: "file", Size: 40 << 20},
		{Path: "labels.txt", Type: "file", Size: 2000},
		{Path: "assets", Type: "directory"},
	}

	sel, ok := SelectArtifacts(files, opts)
	require.True(t, ok)
	require.Equal(t, "model.onnx", sel.ModelFile.Path, "native format preferred over foreign")
	require.True(t, sel.NativeFormat)
	require.True(t, sel.HasLabels)
	require.Equal(t, "labels.txt", sel.LabelFile.Path)
}

func TestSelectArtifacts_ForeignOnlyAndNoLabels(t *testing.T) {
	opts := DefaultFilterOptions()
	files := []EntryFile{
		{Path: "pytorch_model.pt", Type: "file", Size: 1 << 20},
		{Path: "config.json", Type: "file", Size: 500},
	}
	sel, ok := SelectArtifacts(files, opts)
	require.True(t, ok, "missing label file must not exclude the entry")
	require.False(t, sel.NativeFormat)
	require.False(t, sel.HasLabels)
	require.Equal(t, "pytorch_model.pt", sel.ModelFile.Path)
}

func TestSelectArtifacts_SizeCapAndUnsupported(t *testing.T) {
	opts := DefaultFilterOptions()
	opts.MaxModelSizeMB = 10

	tooBig := []EntryFile{{Path: "model.onnx", Type: "file", Size: 11 << 20}}
	_, ok := SelectArtifacts(tooBig, opts)
	require.False(t, ok)

	unsupported := []EntryFile{{Path: "model.safetensors", Type: "file", Size: 1 << 20}}
	_, ok = SelectArtifacts(unsupported, opts)
	require.False(t, ok)
}

func TestPriority_Tiers(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		entry Entry
		files []EntryFile
		want  int
	}{
		{"base", Entry{}, nil, 50},
		{"downloads >100", Entry{Downloads: 101}, nil, 60},
		{"downloads >1000", Entry{Downloads: 1001}, nil, 70},
		{"downloads >10000", Entry{Downloads: 10001}, nil, 80},
		{"tiers exclusive", Entry{Downloads: 50_000}, nil, 80},
		{"likes >10", Entry{Likes: 11}, nil, 60},
		{"likes >100", Entry{Likes: 101}, nil, 65},
		{"verified", Entry{Verified: true}, nil, 70},
		{"fresh 30d", Entry{LastModified: now.Add(-10 * 24 * time.Hour)}, nil, 60},
		{"fresh 90d", Entry{LastModified: now.Add(-60 * 24 * time.Hour)}, nil, 55},
		{"stale", Entry{LastModified: now.Add(-365 * 24 * time.Hour)}, nil, 50},
		{"taxonomy hint", Entry{}, []EntryFile{{Path: "imagenet_classes.txt", Type: "file"}}, 65},
		{
			"everything",
			Entry{Downloads: 20_000, Likes: 500, Verified: true, LastModified: now.Add(-24 * time.Hour)},
			[]EntryFile{{Path: "imagenet_labels.txt", Type: "file"}},
			50 + 30 + 15 + 20 + 10 + 15,
		},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, priorityAt(tc.entry, tc.files, now), tc.name)
	}
}

func TestNativePreferenceBonus(t *testing.T) {
	sel := ArtifactSelection{NativeFormat: true, HasLabels: true}
	require.Equal(t, 0, NativePreferenceBonus(sel, FilterOptions{}))
	require.Equal(t, 25, NativePreferenceBonus(sel, FilterOptions{PreferNativeLabels: true}))
	require.Equal(t, 0, NativePreferenceBonus(ArtifactSelection{NativeFormat: true}, FilterOptions{PreferNativeLabels: true}))
}

func TestCompileExpression(t *testing.T) {
	x, err := CompileExpression(`Downloads > 1000 && HasTag("resnet")`)
	require.NoError(t, err)

	hit := Entry{ID: "a/resnet", Downloads: 5000, Tags: []string{"ResNet"}}
	ok, err := x.Match(hit)
	require.NoError(t, err)
	require.True(t, ok)

	miss := Entry{ID: "a/resnet", Downloads: 10, Tags: []string{"resnet"}}
	ok, err = x.Match(miss)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = CompileExpression("Downloads >")
	require.Error(t, err)

	_, err = CompileExpression("NoSuchField > 1")
	require.Error(t, err)
}
