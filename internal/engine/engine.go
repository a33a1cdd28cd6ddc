// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine composes the lifecycle components behind one facade:
// scanning the catalog, installing and converting models, maintaining
// the registry and serving tag requests. An Engine is constructed and
// closed explicitly; nothing in here is process-global.
package engine

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/catalog"
	"github.com/deanable/tagsense/internal/config"
	"github.com/deanable/tagsense/internal/convert"
	"github.com/deanable/tagsense/internal/download"
	"github.com/deanable/tagsense/internal/errdefs"
	"github.com/deanable/tagsense/internal/inference"
	"github.com/deanable/tagsense/internal/registry"
	"github.com/deanable/tagsense/internal/util"
)

// CatalogService is the slice of the catalog client the engine uses.
type CatalogService interface {
	catalog.CatalogAPI
	ResolveURL(id, filePath string) string
}

// Fetcher downloads one URL to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, progress download.ProgressFunc) error
}

// Converter runs one conversion job to completion.
type Converter interface {
	Convert(ctx context.Context, job convert.Job) convert.Result
}

// Dependencies lets callers substitute components; nil fields are
// filled with the production implementations built from the config.
type Dependencies struct {
	Catalog    CatalogService
	Downloader Fetcher
	Converter  Converter
	Runtime    inference.Runtime
}

// TagResult is the outcome of one tagging request.
type TagResult struct {
	Model string `json:"model"`
	// SyntheticLabels marks results produced against placeholder
	// class names rather than a real taxonomy.
	SyntheticLabels bool            `json:"syntheticLabels,omitempty"`
	Tags            []inference.Tag `json:"tags"`
}

// Engine owns the lifecycle components and their teardown order.
type Engine struct {
	cfg       *config.Config
	client    CatalogService
	scanner   *catalog.Scanner
	store     *registry.Store
	watcher   *registry.Watcher
	converter Converter
	runtime   inference.Runtime
	cache     *inference.Cache
	dl        Fetcher
	events    *Hub
	scans     *scanBoard

	// convertMu serializes conversions; the orchestrator is stateless
	// but the registry status transitions are not.
	convertMu sync.Mutex
	closeOnce sync.Once
}

// New builds an engine from cfg, substituting any non-nil dependency.
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("preparing data directories: %w", err)
	}
	if err := util.HardenPermissions(cfg.ResolvedDataDir()); err != nil {
		log.WithError(err).Warn("Permission hardening incomplete")
	}

	if deps.Catalog == nil {
		deps.Catalog = catalog.NewClient(cfg.Catalog.BaseURL, cfg.CatalogTimeout(), cfg.Catalog.UserAgent)
	}
	if deps.Runtime == nil {
		deps.Runtime = inference.NewONNXRuntime(cfg.Inference.RuntimeLibraryPath)
	}
	if deps.Downloader == nil {
		deps.Downloader = download.New(cfg.Catalog.UserAgent)
	}
	if deps.Converter == nil {
		deps.Converter = convert.New(convert.Options{
			PythonCandidates:    cfg.Convert.PythonCandidates,
			ProbeTimeout:        cfg.ProbeTimeout(),
			RunTimeout:          cfg.ConvertTimeout(),
			InstallDependencies: cfg.Convert.InstallDependencies,
			ScratchDir:          cfg.ScratchDir(),
		}, deps.Runtime)
	}

	store := registry.Load(cfg.RegistryPath())
	e := &Engine{
		cfg:       cfg,
		client:    deps.Catalog,
		store:     store,
		converter: deps.Converter,
		runtime:   deps.Runtime,
		cache:     inference.NewCache(deps.Runtime, store),
		dl:        deps.Downloader,
		events:    NewHub(),
		scans:     newScanBoard(),
	}
	e.scanner = catalog.NewScanner(deps.Catalog, catalog.ScannerConfig{
		PageSize:         cfg.Scan.PageSize,
		MaxPages:         cfg.Scan.MaxPages,
		OverlapThreshold: cfg.Scan.OverlapThreshold,
		PageDelay:        cfg.PageDelay(),
	})

	e.watcher = registry.NewWatcher(store, e.onRegistryReload)
	if err := e.watcher.Start(); err != nil {
		// Not fatal: the engine works without external-edit pickup.
		log.WithError(err).Warn("Registry watcher unavailable")
		e.watcher = nil
	}

	log.WithField("dataDir", cfg.ResolvedDataDir()).
		Debugf("Engine ready with %d registered models", store.Count())
	return e, nil
}

// Events exposes the progress feed.
func (e *Engine) Events() *Hub { return e.events }

// Models lists all registered models.
func (e *Engine) Models() []*registry.ModelDescriptor { return e.store.List() }

// Model returns one registered model.
func (e *Engine) Model(name string) (*registry.ModelDescriptor, error) {
	desc, ok := e.store.Get(name)
	if !ok {
		return nil, errdefs.NotFound("model", name)
	}
	return desc, nil
}

// DefaultModelName returns the configured default, or "".
func (e *Engine) DefaultModelName() string { return e.store.DefaultName() }

// SetDefault marks the named model as the tagging default.
func (e *Engine) SetDefault(name string) error {
	if err := e.store.SetDefault(name); err != nil {
		return err
	}
	e.events.Publish(Event{Type: EventRegistry, Name: name})
	return nil
}

// SetEnabled flips a model's enabled flag. Disabling also drops any
// cached session so the model stops serving immediately.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	if err := e.store.SetEnabled(name, enabled); err != nil {
		return err
	}
	if !enabled {
		e.cache.Evict(name)
	}
	e.events.Publish(Event{Type: EventRegistry, Name: name})
	return nil
}

// Uninstall removes a model from the registry and deletes its artifact
// directory.
func (e *Engine) Uninstall(name string) error {
	if _, ok := e.store.Get(name); !ok {
		return errdefs.NotFound("model", name)
	}
	e.cache.Evict(name)
	if err := e.store.Remove(name); err != nil {
		return err
	}

	// Artifacts of models registered by hand may live elsewhere; only
	// the engine-owned directory is deleted.
	dir := e.modelDir(name)
	if err := os.RemoveAll(dir); err != nil {
		log.WithField("model", name).WithError(err).Warn("Removing model artifacts")
	}
	e.events.Publish(Event{Type: EventRegistry, Name: name})
	log.WithField("model", name).Info("Model uninstalled")
	return nil
}

// Scan walks the catalog synchronously and returns ranked candidates.
func (e *Engine) Scan(ctx context.Context, opts catalog.FilterOptions, progress catalog.ProgressFunc) ([]*registry.ModelDescriptor, error) {
	return e.scanner.Scan(ctx, opts, func(p catalog.ScanProgress) {
		e.events.Publish(Event{Type: EventScan, Data: p})
		if progress != nil {
			progress(p)
		}
	})
}

// StartScan launches a scan in the background and returns its job
// handle immediately. Progress is available through ScanStatus and the
// event feed.
func (e *Engine) StartScan(opts catalog.FilterOptions) *ScanJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &ScanJob{ID: uuid.NewString(), StartedAt: time.Now(), cancel: cancel}
	e.scans.add(job)

	go func() {
		defer cancel()
		results, err := e.scanner.Scan(ctx, opts, func(p catalog.ScanProgress) {
			// Surface the job id, not the scanner's internal one.
			p.ScanID = job.ID
			job.observe(p)
			e.events.Publish(Event{Type: EventScan, Data: p})
		})
		job.finish(results, err)
	}()
	return job
}

// ScanStatus reports the state of a background scan.
func (e *Engine) ScanStatus(id string) (ScanStatus, bool) {
	job, ok := e.scans.get(id)
	if !ok {
		return ScanStatus{}, false
	}
	return job.Status(), true
}

// CancelScan stops a background scan; its partial result remains
// queryable.
func (e *Engine) CancelScan(id string) bool {
	job, ok := e.scans.get(id)
	if ok {
		job.Cancel()
	}
	return ok
}

// Install downloads a scanned candidate's artifacts, converts foreign
// formats, and registers the model. The first installed model becomes
// the default.
func (e *Engine) Install(ctx context.Context, desc *registry.ModelDescriptor) error {
	if desc == nil || desc.Name == "" {
		return errdefs.Validation("model descriptor", "missing name")
	}
	catalogID := desc.ExtraMetadata["catalogId"]
	modelFile := desc.ExtraMetadata["modelFile"]
	if catalogID == "" || modelFile == "" {
		return errdefs.InvalidState(desc.Name, "descriptor carries no catalog origin")
	}

	d := desc.Clone()
	dir := e.modelDir(d.Name)
	fetch := func(url, dest string) error {
		return e.dl.Fetch(ctx, url, dest, func(p download.Progress) {
			e.events.Publish(Event{Type: EventDownload, Name: d.Name, Data: p})
		})
	}

	log.WithField("model", d.Name).Info("Installing model")
	if d.ModelFormat.NeedsConversion() {
		// The conversion step produces both artifacts, including the
		// label file, so only the source checkpoint is fetched here.
		source := filepath.Join(dir, "source", filepath.Base(modelFile))
		if err := fetch(e.client.ResolveURL(catalogID, modelFile), source); err != nil {
			return fmt.Errorf("downloading %s: %w", modelFile, err)
		}
		d.ModelPath = source
		d.SetExtra("sourceFile", source)
		d.ConversionStatus = registry.ConversionNotStarted
	} else {
		dest := filepath.Join(dir, convert.ModelFileName)
		if err := fetch(e.client.ResolveURL(catalogID, modelFile), dest); err != nil {
			return fmt.Errorf("downloading %s: %w", modelFile, err)
		}
		d.ModelPath = dest
		if labelFile := d.ExtraMetadata["labelFile"]; labelFile != "" {
			lDest := filepath.Join(dir, convert.LabelsFileName)
			if err := fetch(e.client.ResolveURL(catalogID, labelFile), lDest); err != nil {
				return fmt.Errorf("downloading %s: %w", labelFile, err)
			}
			d.LabelsPath = lDest
		}
	}

	d.IsEnabled = true
	if err := e.store.AddOrUpdate(d); err != nil {
		return err
	}
	e.events.Publish(Event{Type: EventRegistry, Name: d.Name})

	if d.ModelFormat.NeedsConversion() {
		if err := e.EnsureConverted(ctx, d.Name); err != nil {
			return err
		}
	} else if d.LabelsPath == "" {
		if err := e.synthesizeLabels(ctx, d, dir); err != nil {
			return err
		}
	}

	if e.store.DefaultName() == "" {
		if err := e.store.SetDefault(d.Name); err != nil {
			log.WithField("model", d.Name).WithError(err).Warn("Setting initial default model")
		}
	}
	log.WithField("model", d.Name).Info("Model installed")
	return nil
}

// InstallByID inspects one catalog entry directly and installs it,
// skipping the full scan. The filter options gate artifact selection the
// same way a scan would.
func (e *Engine) InstallByID(ctx context.Context, catalogID string, opts catalog.FilterOptions) error {
	entry, err := e.client.GetModel(ctx, catalogID)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", catalogID, err)
	}
	files, err := e.client.ListFiles(ctx, catalogID)
	if err != nil {
		return fmt.Errorf("listing files of %s: %w", catalogID, err)
	}
	sel, ok := catalog.SelectArtifacts(files, opts)
	if !ok {
		return errdefs.InvalidState(catalogID, "repository has no compatible model file")
	}
	score := catalog.Priority(*entry, files) + catalog.NativePreferenceBonus(sel, opts)
	return e.Install(ctx, catalog.Describe(*entry, sel, score, "huggingface"))
}

// EnsureConverted brings a foreign-format model to its converted state.
// Native models are a no-op; a previously failed conversion is retried.
func (e *Engine) EnsureConverted(ctx context.Context, name string) error {
	e.convertMu.Lock()
	defer e.convertMu.Unlock()

	desc, ok := e.store.Get(name)
	if !ok {
		return errdefs.NotFound("model", name)
	}
	if !desc.ModelFormat.NeedsConversion() {
		return nil
	}
	if desc.ConversionStatus == registry.ConversionDone && desc.Usable() {
		return nil
	}

	source := desc.ExtraMetadata["sourceFile"]
	if source == "" {
		source = desc.ModelPath
	}
	job := convert.Job{
		ModelID:    desc.DisplayName,
		SourcePath: source,
		OutputDir:  e.modelDir(name),
		ImageSize:  desc.ImageWidth,
	}

	if err := e.store.SetConversionStatus(name, registry.ConversionRunning); err != nil {
		return err
	}
	e.publishConversion(name, registry.ConversionRunning)

	result := e.converter.Convert(ctx, job)
	if result.Status != registry.ConversionDone {
		if err := e.store.SetConversionStatus(name, registry.ConversionFailed); err != nil {
			log.WithField("model", name).WithError(err).Warn("Recording conversion failure")
		}
		e.publishConversion(name, registry.ConversionFailed)
		if result.Err != nil {
			return result.Err
		}
		return errdefs.InvalidState(name, "conversion failed")
	}

	desc.ModelPath = result.ModelPath
	desc.LabelsPath = result.LabelsPath
	desc.ConversionStatus = registry.ConversionDone
	if labels, err := inference.LoadLabels(result.LabelsPath); err == nil && registry.IsSyntheticLabelSet(labels) {
		desc.SetExtra("labels", "synthetic")
	}
	if err := e.store.AddOrUpdate(desc); err != nil {
		return err
	}
	e.cache.Evict(name)
	e.publishConversion(name, registry.ConversionDone)
	return nil
}

// Tag classifies the image file with the named model, or the default
// model when name is empty.
func (e *Engine) Tag(ctx context.Context, imagePath, modelName string, opts inference.InferOptions) (*TagResult, error) {
	name, desc, err := e.resolveModel(modelName)
	if err != nil {
		return nil, err
	}
	tags, err := e.cache.InferFile(ctx, name, imagePath, opts)
	if err != nil {
		return nil, err
	}
	return &TagResult{Model: name, SyntheticLabels: desc.HasSyntheticLabels(), Tags: tags}, nil
}

// TagImage classifies an already decoded image.
func (e *Engine) TagImage(ctx context.Context, img image.Image, modelName string, opts inference.InferOptions) (*TagResult, error) {
	name, desc, err := e.resolveModel(modelName)
	if err != nil {
		return nil, err
	}
	tags, err := e.cache.Infer(ctx, name, img, opts)
	if err != nil {
		return nil, err
	}
	return &TagResult{Model: name, SyntheticLabels: desc.HasSyntheticLabels(), Tags: tags}, nil
}

// Preload warms the session for the named model.
func (e *Engine) Preload(ctx context.Context, name string) error {
	resolved, _, err := e.resolveModel(name)
	if err != nil {
		return err
	}
	return e.cache.EnsureLoaded(ctx, resolved)
}

// Close tears the engine down: scans are cancelled, the watcher
// stopped, sessions released, the runtime destroyed.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.scans.cancelAll()
		if e.watcher != nil {
			e.watcher.Stop()
		}
		err = e.cache.Close()
		if rErr := e.runtime.Close(); rErr != nil && err == nil {
			err = rErr
		}
		e.events.Close()
		log.Debug("Engine closed")
	})
	return err
}

func (e *Engine) resolveModel(name string) (string, *registry.ModelDescriptor, error) {
	if name == "" {
		name = e.store.DefaultName()
		if name == "" {
			return "", nil, errdefs.InvalidState("tagging", "no model named and no default model configured")
		}
	}
	desc, ok := e.store.Get(name)
	if !ok {
		return "", nil, errdefs.NotFound("model", name)
	}
	if !desc.IsEnabled {
		return "", nil, errdefs.InvalidState(name, "model is disabled")
	}
	if desc.ModelFormat.NeedsConversion() && desc.ConversionStatus != registry.ConversionDone {
		return "", nil, errdefs.InvalidState(name, "model requires conversion before use")
	}
	return name, desc, nil
}

// synthesizeLabels writes placeholder class names for a native model
// that shipped without a label file. The class count comes from running
// the model once on a blank input.
func (e *Engine) synthesizeLabels(ctx context.Context, d *registry.ModelDescriptor, dir string) error {
	session, err := e.runtime.Open(d.ModelPath, d.ImageWidth, d.ImageHeight)
	if err != nil {
		return fmt.Errorf("probing %s for label synthesis: %w", d.Name, err)
	}
	defer session.Close()

	scores, err := session.Run(ctx, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	if err != nil {
		return fmt.Errorf("probing %s for label synthesis: %w", d.Name, err)
	}
	if len(scores) == 0 {
		return errdefs.InvalidState(d.Name, "model produced no outputs to derive labels from")
	}

	var b strings.Builder
	for i := range scores {
		fmt.Fprintf(&b, "class_%04d\n", i)
	}
	dest := filepath.Join(dir, convert.LabelsFileName)
	if err := util.SecureWrite(dest, []byte(b.String()), nil); err != nil {
		return err
	}

	d.LabelsPath = dest
	d.SetExtra("labels", "synthetic")
	log.WithField("model", d.Name).Infof("Synthesized %d placeholder labels", len(scores))
	return e.store.AddOrUpdate(d)
}

func (e *Engine) publishConversion(name string, status registry.ConversionStatus) {
	e.events.Publish(Event{Type: EventConvert, Name: name, Data: string(status)})
}

// onRegistryReload drops sessions whose models vanished or were
// disabled by an external registry edit.
func (e *Engine) onRegistryReload() {
	for _, name := range e.cache.Loaded() {
		desc, ok := e.store.Get(name)
		if !ok || !desc.IsEnabled {
			e.cache.Evict(name)
		}
	}
	e.events.Publish(Event{Type: EventRegistry})
}

func (e *Engine) modelDir(name string) string {
	return filepath.Join(e.cfg.ModelsDir(), registry.NormalizeName(name))
}
