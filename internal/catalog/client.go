// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/deanable/tagsense/internal/errdefs"
)

// ListQuery carries the server-side query parameters of one listing page.
type ListQuery struct {
	Search    string
	Limit     int
	Skip      int
	SortBy    string
	Direction string // "asc" or "desc"
}

// Client accesses the remote catalog API. All requests advertise gzip and
// brotli and decode the response transparently; payloads are returned raw
// alongside decoded entries so the scanner can compare page bytes.
type Client struct {
	baseURL   string
	userAgent string
	hc        *http.Client
}

// NewClient creates a catalog client for baseURL. An empty userAgent gets
// a sensible default; timeout bounds each request end to end.
func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	if userAgent == "" {
		userAgent = "tagsense/1.0"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		hc:        &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured catalog root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListModels fetches one listing page. The raw (decompressed) payload is
// returned next to the decoded entries.
func (c *Client) ListModels(ctx context.Context, q ListQuery) ([]Entry, []byte, error) {
	params := url.Values{}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		params.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.SortBy != "" {
		params.Set("sort", q.SortBy)
		if q.Direction == "asc" {
			params.Set("direction", "1")
		} else {
			params.Set("direction", "-1")
		}
	}

	u := c.baseURL + "/api/models"
	if enc := params.Encode(); enc != "" {
		u += "?" + enc
	}
	data, err := c.get(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, &errdefs.NetworkError{URL: u, Err: fmt.Errorf("malformed listing payload: %w", err)}
	}
	raws := gjson.ParseBytes(data).Array()
	for i := range entries {
		if i < len(raws) {
			entries[i].enrich(raws[i])
		}
	}
	return entries, data, nil
}

// GetModel fetches the detail record for one catalog id.
func (c *Client) GetModel(ctx context.Context, id string) (*Entry, error) {
	u := c.baseURL + "/api/models/" + id
	data, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, &errdefs.NetworkError{URL: u, Err: fmt.Errorf("malformed detail payload: %w", err)}
	}
	entry.enrich(gjson.ParseBytes(data))
	return &entry, nil
}

// ListFiles fetches the file tree of one catalog id.
func (c *Client) ListFiles(ctx context.Context, id string) ([]EntryFile, error) {
	u := c.baseURL + "/api/models/" + id + "/tree/main"
	data, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var files []EntryFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, &errdefs.NetworkError{URL: u, Err: fmt.Errorf("malformed file tree payload: %w", err)}
	}
	return files, nil
}

// ResolveURL returns the raw download URL of one repository file.
func (c *Client) ResolveURL(id, filePath string) string {
	return c.baseURL + "/" + id + "/resolve/main/" + filePath
}

// get performs one GET request and returns the decompressed body.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	// Setting Accept-Encoding ourselves disables the transport's automatic
	// gzip handling, so both encodings are decoded here.
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &errdefs.NetworkError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &errdefs.NetworkError{URL: u, Status: resp.StatusCode}
	}

	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &errdefs.NetworkError{URL: u, Err: fmt.Errorf("bad gzip body: %w", err)}
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &errdefs.NetworkError{URL: u, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	return data, nil
}
