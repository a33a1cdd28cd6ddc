// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gin "github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/deanable/tagsense/internal/catalog"
	"github.com/deanable/tagsense/internal/config"
	"github.com/deanable/tagsense/internal/convert"
	"github.com/deanable/tagsense/internal/download"
	"github.com/deanable/tagsense/internal/engine"
	"github.com/deanable/tagsense/internal/inference"
	"github.com/deanable/tagsense/internal/registry"
)

type stubCatalog struct {
	entries []catalog.Entry
}

func (s *stubCatalog) ListModels(_ context.Context, q catalog.ListQuery) ([]catalog.Entry, []byte, error) {
	if q.Skip > 0 {
		return nil, []byte("[]"), nil
	}
	payload, err := json.Marshal(s.entries)
	if err != nil {
		return nil, nil, err
	}
	out := make([]catalog.Entry, len(s.entries))
	copy(out, s.entries)
	return out, payload, nil
}

func (s *stubCatalog) GetModel(_ context.Context, id string) (*catalog.Entry, error) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, context.Canceled
}

func (s *stubCatalog) ListFiles(_ context.Context, _ string) ([]catalog.EntryFile, error) {
	return []catalog.EntryFile{
		{Path: "model.onnx", Type: "file", Size: 4096},
		{Path: "labels.txt", Type: "file", Size: 64},
	}, nil
}

func (s *stubCatalog) ResolveURL(id, filePath string) string {
	return "https://catalog.invalid/" + id + "/resolve/main/" + filePath
}

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, url, dest string, progress download.ProgressFunc) error {
	data := []byte("artifact-bytes")
	if strings.HasSuffix(url, ".txt") {
		data = []byte("cat\ndog\nbird\n")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	if progress != nil {
		progress(download.Progress{URL: url, Received: int64(len(data)), Total: int64(len(data)), Done: true})
	}
	return nil
}

type stubConverter struct{}

func (stubConverter) Convert(_ context.Context, job convert.Job) convert.Result {
	modelPath := filepath.Join(job.OutputDir, convert.ModelFileName)
	labelsPath := filepath.Join(job.OutputDir, convert.LabelsFileName)
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return convert.Result{Status: registry.ConversionFailed, Err: err}
	}
	if err := os.WriteFile(modelPath, []byte("converted"), 0o644); err != nil {
		return convert.Result{Status: registry.ConversionFailed, Err: err}
	}
	if err := os.WriteFile(labelsPath, []byte("cat\ndog\n"), 0o644); err != nil {
		return convert.Result{Status: registry.ConversionFailed, Err: err}
	}
	return convert.Result{Status: registry.ConversionDone, ModelPath: modelPath, LabelsPath: labelsPath}
}

type stubSession struct{ scores []float32 }

func (s *stubSession) Run(ctx context.Context, _ image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, len(s.scores))
	copy(out, s.scores)
	return out, nil
}

func (s *stubSession) Inputs() int  { return 1 }
func (s *stubSession) Outputs() int { return 1 }
func (s *stubSession) Close() error { return nil }

type stubRuntime struct{ scores []float32 }

func (r *stubRuntime) Open(string, int, int) (inference.Session, error) {
	return &stubSession{scores: r.scores}, nil
}
func (r *stubRuntime) Probe(string) (int, int, error) { return 1, 1, nil }
func (r *stubRuntime) Close() error                   { return nil }

func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.Scan.PageDelayMs = 0
	if secret != "" {
		hashed, hashErr := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
		if hashErr != nil {
			t.Fatalf("hashing secret: %v", hashErr)
		}
		cfg.Serve.SecretKey = string(hashed)
	}

	eng, err := engine.New(cfg, engine.Dependencies{
		Catalog: &stubCatalog{entries: []catalog.Entry{
			{ID: "acme/resnet-15", Downloads: 5000, Likes: 40, LastModified: time.Now()},
		}},
		Downloader: stubFetcher{},
		Converter:  stubConverter{},
		Runtime:    &stubRuntime{scores: []float32{0.10, 0.90, 0.55}},
	})
	if err != nil {
		t.Fatalf("building engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	return NewServer(cfg, eng)
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.router.ServeHTTP(rr, req)
	return rr
}

func installTestModel(t *testing.T, server *Server) {
	t.Helper()
	cand := registry.NewModelDescriptor("acme_resnet-15")
	cand.DisplayName = "acme/resnet-15"
	cand.SetExtra("catalogId", "acme/resnet-15")
	cand.SetExtra("modelFile", "model.onnx")
	cand.SetExtra("labelFile", "labels.txt")

	rr := doJSON(t, server, http.MethodPost, "/api/models/install", cand)
	if rr.Code != http.StatusCreated {
		t.Fatalf("install returned %d: %s", rr.Code, rr.Body.String())
	}
}

func writePNG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating image: %v", err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encoding image: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing image: %v", err)
	}
	return path
}

func TestHealthzAndVersion(t *testing.T) {
	server := newTestServer(t, "")

	rr := doJSON(t, server, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/version", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("version returned %d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, `"version"`) {
		t.Fatalf("version body missing version field: %s", body)
	}
}

func TestSecretAuthGatesAPIRoutes(t *testing.T) {
	server := newTestServer(t, "hunter2")

	// Health stays open.
	rr := doJSON(t, server, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz returned %d with secret configured", rr.Code)
	}

	// API routes reject missing and wrong tokens.
	rr = doJSON(t, server, http.MethodGet, "/api/models", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request returned %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	server.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token returned %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/models", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	rr = httptest.NewRecorder()
	server.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token returned %d, want 200; body=%s", rr.Code, rr.Body.String())
	}
}

func TestModelLifecycleRoutes(t *testing.T) {
	server := newTestServer(t, "")
	installTestModel(t, server)

	rr := doJSON(t, server, http.MethodGet, "/api/models", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", rr.Code, rr.Body.String())
	}
	if body := rr.Body.String(); !strings.Contains(body, `"acme_resnet-15"`) {
		t.Fatalf("list body missing installed model: %s", body)
	}
	if body := rr.Body.String(); !strings.Contains(body, `"defaultModelName":"acme_resnet-15"`) {
		t.Fatalf("first install did not become default: %s", body)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/models/acme_resnet-15", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get returned %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/models/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get unknown returned %d, want 404", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/models/acme_resnet-15/disable", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("disable returned %d: %s", rr.Code, rr.Body.String())
	}

	// Tagging against a disabled model conflicts.
	rr = doJSON(t, server, http.MethodPost, "/api/tag", tagRequest{Path: writePNG(t), Model: "acme_resnet-15"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("tag on disabled model returned %d, want 409: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/models/acme_resnet-15/enable", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("enable returned %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/models/default", map[string]string{"name": "acme_resnet-15"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set default returned %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/models/default", map[string]string{"name": "ghost"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("set unknown default returned %d, want 404", rr.Code)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/models/acme_resnet-15", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete returned %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/models/acme_resnet-15", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete returned %d, want 404", rr.Code)
	}
}

func TestTagRouteJSON(t *testing.T) {
	server := newTestServer(t, "")
	installTestModel(t, server)

	rr := doJSON(t, server, http.MethodPost, "/api/tag", tagRequest{Path: writePNG(t)})
	if rr.Code != http.StatusOK {
		t.Fatalf("tag returned %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"model":"acme_resnet-15"`) {
		t.Fatalf("tag body missing model: %s", body)
	}
	if !strings.Contains(body, `"dog"`) {
		t.Fatalf("tag body missing expected label: %s", body)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/tag", tagRequest{Path: writePNG(t), Model: "ghost"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("tag with unknown model returned %d, want 404", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/tag", tagRequest{Model: "acme_resnet-15"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("tag without path returned %d, want 400", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/tag", tagRequest{Path: filepath.Join(t.TempDir(), "missing.png")})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("tag with missing file returned %d, want 404: %s", rr.Code, rr.Body.String())
	}
}

func TestTagRouteMultipart(t *testing.T) {
	server := newTestServer(t, "")
	installTestModel(t, server)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if err := png.Encode(fw, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encoding upload: %v", err)
	}
	if err := mw.WriteField("maxTags", "1"); err != nil {
		t.Fatalf("writing field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tag", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	server.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("multipart tag returned %d: %s", rr.Code, rr.Body.String())
	}
	var result struct {
		Tags []inference.Tag `json:"tags"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding tag response: %v", err)
	}
	if len(result.Tags) != 1 || result.Tags[0].Label != "dog" {
		t.Fatalf("unexpected tags: %+v", result.Tags)
	}

	// A multipart body without the image field is rejected.
	var empty bytes.Buffer
	mw = multipart.NewWriter(&empty)
	if err := mw.WriteField("model", "acme_resnet-15"); err != nil {
		t.Fatalf("writing field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/tag", &empty)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr = httptest.NewRecorder()
	server.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("multipart without image returned %d, want 400", rr.Code)
	}
}

func TestScanRoutes(t *testing.T) {
	server := newTestServer(t, "")

	rr := doJSON(t, server, http.MethodPost, "/api/scan", catalog.FilterOptions{MinDownloads: 100, SearchTerms: []string{"resnet"}})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start scan returned %d: %s", rr.Code, rr.Body.String())
	}
	var started struct {
		ScanID string `json:"scanId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &started); err != nil {
		t.Fatalf("decoding scan response: %v", err)
	}
	if started.ScanID == "" {
		t.Fatal("start scan returned no id")
	}

	deadline := time.Now().Add(5 * time.Second)
	var status struct {
		Done    bool   `json:"done"`
		Error   string `json:"error"`
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}
	for {
		rr = doJSON(t, server, http.MethodGet, "/api/scan/"+started.ScanID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("scan status returned %d: %s", rr.Code, rr.Body.String())
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
			t.Fatalf("decoding scan status: %v", err)
		}
		if status.Done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan did not finish in time: %s", rr.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Error != "" {
		t.Fatalf("scan finished with error: %s", status.Error)
	}
	if len(status.Results) != 1 || status.Results[0].Name != "acme_resnet-15" {
		t.Fatalf("unexpected scan results: %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/scan/no-such-id", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown scan id returned %d, want 404", rr.Code)
	}
	rr = doJSON(t, server, http.MethodDelete, "/api/scan/no-such-id", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cancel of unknown scan returned %d, want 404", rr.Code)
	}
}

func TestProgressWebsocketStreamsEvents(t *testing.T) {
	server := newTestServer(t, "")

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing progress socket: %v", err)
	}
	defer conn.Close()

	// Give the handler a beat to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	server.engine.Events().Publish(engine.Event{Type: engine.EventRegistry, Name: "acme_resnet-15"})

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading progress event: %v", err)
	}

	var ev struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decoding progress event: %v", err)
	}
	if ev.Type != "registry" || ev.Name != "acme_resnet-15" {
		t.Fatalf("unexpected event: %s", string(payload))
	}
}
