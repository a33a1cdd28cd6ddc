// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package catalog talks to the remote model catalog: a HuggingFace-style
// HTTP API with a paged listing endpoint, a per-id detail endpoint, a
// per-id file tree, and raw file downloads. It also houses the pure
// filter/priority scoring applied to catalog entries and the paged
// scanner that walks the listing with loop-prevention guards.
package catalog

import (
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Entry is one model record as returned by the catalog listing or detail
// endpoint, prior to any local filtering.
type Entry struct {
	// ID is the catalog identifier, typically "owner/repo".
	ID string `json:"id"`
	// Author is the publishing account, when the catalog reports it.
	Author string `json:"author,omitempty"`
	// Downloads is the all-time download counter.
	Downloads int64 `json:"downloads"`
	// Likes is the user-favorite counter.
	Likes int64 `json:"likes"`
	// Tags carries free-form catalog tags (architecture, license:..., task).
	Tags []string `json:"tags,omitempty"`
	// PipelineTag is the catalog's task classification.
	PipelineTag string `json:"pipeline_tag,omitempty"`
	// Private marks entries not publicly downloadable.
	Private bool `json:"private"`
	// Disabled marks archived or withdrawn entries.
	Disabled bool `json:"disabled"`
	// Verified marks entries from a catalog-verified publisher.
	Verified bool `json:"verified,omitempty"`
	// License is the declared license identifier, possibly empty.
	License string `json:"license,omitempty"`
	// LastModified is the most recent update timestamp.
	LastModified time.Time `json:"lastModified,omitempty"`
	// Siblings lists repository files on detail responses.
	Siblings []Sibling `json:"siblings,omitempty"`
}

// Sibling is one repository file reference on a detail response.
type Sibling struct {
	RFileName string `json:"rfilename"`
}

// enrich fills fields the strict decode cannot see: catalogs report the
// license and publisher verification in several shapes, so they are pulled
// tolerantly from the raw JSON and from license: tags.
func (e *Entry) enrich(raw gjson.Result) {
	if e.License == "" {
		e.License = raw.Get("cardData.license").String()
	}
	if e.License == "" {
		for _, tag := range e.Tags {
			if rest, ok := strings.CutPrefix(strings.ToLower(tag), "license:"); ok {
				e.License = rest
				break
			}
		}
	}
	if !e.Verified {
		e.Verified = raw.Get("authorData.isVerified").Bool()
	}
	if !e.Disabled {
		e.Disabled = raw.Get("archived").Bool()
	}
}

// EntryFile is one node of a catalog file-tree response.
type EntryFile struct {
	// Path is the file path relative to the repository root.
	Path string `json:"path"`
	// Type is "file" or "directory".
	Type string `json:"type"`
	// Size is the byte size for files.
	Size int64 `json:"size"`
}

// IsFile reports whether the node is a regular file.
func (f EntryFile) IsFile() bool {
	return f.Type == "" || f.Type == "file"
}

// Ext returns the lowercased file extension including the dot.
func (f EntryFile) Ext() string {
	return strings.ToLower(path.Ext(f.Path))
}

// IsLabelFile reports whether the file looks like a label list: a name
// containing "labels" or "classes", or a plain .txt file.
func (f EntryFile) IsLabelFile() bool {
	if !f.IsFile() {
		return false
	}
	name := strings.ToLower(path.Base(f.Path))
	if strings.Contains(name, "labels") || strings.Contains(name, "classes") {
		return true
	}
	return strings.HasSuffix(name, ".txt")
}
