// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package convert

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/errdefs"
	"github.com/deanable/tagsense/internal/registry"
	"github.com/deanable/tagsense/internal/util"
)

// Job describes one conversion run: a foreign checkpoint on disk and
// the directory that should receive the native artifacts.
type Job struct {
	// ModelID identifies the model in logs and script output.
	ModelID string
	// SourcePath is the foreign checkpoint to convert.
	SourcePath string
	// OutputDir receives ModelFileName and LabelsFileName.
	OutputDir string
	// ImageSize is the square input resolution hint for the exporter.
	// Zero means the script default.
	ImageSize int
}

// Result is the terminal outcome of a conversion run. Status is always
// ConversionDone or ConversionFailed; Err carries the reason when
// Failed. Stdout and Stderr hold the captured script output either way.
type Result struct {
	Status     registry.ConversionStatus
	ModelPath  string
	LabelsPath string
	Stdout     string
	Stderr     string
	Err        error
}

// ModelProber opens a produced model just far enough to count its
// declared inputs and outputs. The inference runtime satisfies this.
type ModelProber interface {
	Probe(modelPath string) (inputs, outputs int, err error)
}

// Options configures the orchestrator. Zero values fall back to
// defaults matching the configuration package.
type Options struct {
	// PythonCandidates are interpreter names or paths tried in order.
	PythonCandidates []string
	// ProbeTimeout bounds each interpreter version probe.
	ProbeTimeout time.Duration
	// RunTimeout bounds the conversion script itself. Zero disables
	// the bound; the caller's context still applies.
	RunTimeout time.Duration
	// InstallDependencies enables best-effort pip installs for
	// missing conversion packages.
	InstallDependencies bool
	// ScratchDir hosts per-run script and parameter files.
	ScratchDir string
}

// Orchestrator runs conversions. It holds no state across calls beyond
// its options, so a single instance serves concurrent runs.
type Orchestrator struct {
	opts   Options
	prober ModelProber
}

// New returns an orchestrator. prober may be nil, in which case the
// loadability check is skipped and only artifact presence is validated.
func New(opts Options, prober ModelProber) *Orchestrator {
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(os.TempDir(), "tagsense-convert")
	}
	return &Orchestrator{opts: opts, prober: prober}
}

// Convert runs the full pipeline for one job: resolve an interpreter,
// ensure the export packages, run the embedded script and validate its
// artifacts. The returned Result is terminal; callers persist the
// status transition around this call. Cancelling ctx terminates the
// script and yields a Failed result.
func (o *Orchestrator) Convert(ctx context.Context, job Job) (result Result) {
	result.Status = registry.ConversionFailed
	logger := log.WithField("model", job.ModelID)

	if job.SourcePath == "" || job.OutputDir == "" {
		result.Err = errdefs.InvalidState("conversion job", "source path and output dir are required")
		return result
	}
	if !util.NonEmptyFile(job.SourcePath) {
		result.Err = errdefs.NotFound("model checkpoint", job.SourcePath)
		return result
	}

	py, err := ResolvePython(ctx, o.opts.PythonCandidates, o.opts.ProbeTimeout)
	if err != nil {
		result.Err = err
		return result
	}
	logger.Infof("Converting with %s (%s)", py.Path, py.Version)

	if missing := EnsureDependencies(ctx, py, o.opts.InstallDependencies); len(missing) > 0 {
		logger.Warnf("Proceeding without packages %v; the script reports the precise failure", missing)
	}

	scratch := filepath.Join(o.opts.ScratchDir, "job-"+uuid.NewString())
	defer func() {
		if result.Status == registry.ConversionDone {
			os.RemoveAll(scratch)
		} else {
			logger.Debugf("Keeping conversion scratch for inspection: %s", scratch)
		}
	}()

	scriptPath, err := materializeScript(scratch)
	if err != nil {
		result.Err = err
		return result
	}
	paramsPath := filepath.Join(scratch, "params.json")
	if err := writeParams(paramsPath, job); err != nil {
		result.Err = err
		return result
	}
	if err := os.MkdirAll(job.OutputDir, 0o700); err != nil {
		result.Err = fmt.Errorf("creating output dir: %w", err)
		return result
	}

	stdout, stderr, runErr := o.runScript(ctx, py, scriptPath, paramsPath)
	result.Stdout = stdout
	result.Stderr = stderr
	if runErr != nil {
		result.Err = runErr
		logger.WithError(runErr).Error("Conversion script failed")
		return result
	}

	if err := o.validateArtifacts(job); err != nil {
		result.Err = err
		logger.WithError(err).Error("Conversion produced invalid artifacts")
		return result
	}

	result.Status = registry.ConversionDone
	result.ModelPath = filepath.Join(job.OutputDir, ModelFileName)
	result.LabelsPath = filepath.Join(job.OutputDir, LabelsFileName)
	logger.Info("Conversion complete")
	return result
}

// runScript executes `<python> <script> <params.json>` with captured
// output, bounded by RunTimeout when set.
func (o *Orchestrator) runScript(ctx context.Context, py *Interpreter, scriptPath, paramsPath string) (string, string, error) {
	runCtx := ctx
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, py.Path, scriptPath, paramsPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// The script may spawn workers that inherit the output pipes; once
	// the context kills the interpreter, stop waiting on them.
	cmd.WaitDelay = 5 * time.Second

	log.Debugf("Executing conversion: %s %s %s", py.Path, scriptPath, paramsPath)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	log.Debugf("Conversion script finished in %s", elapsed.Round(time.Millisecond))

	if runErr == nil {
		return stdout.String(), stderr.String(), nil
	}

	// Context termination masks the exit code, so report it first.
	switch {
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return stdout.String(), stderr.String(),
			fmt.Errorf("conversion timed out after %s: %w", o.opts.RunTimeout, errdefs.ErrExternalProcess)
	case ctx.Err() != nil:
		return stdout.String(), stderr.String(),
			fmt.Errorf("conversion canceled: %w", ctx.Err())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), &errdefs.ExternalProcessError{
		Command:  "convert_model.py",
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr.String()),
	}
}

// validateArtifacts checks what a clean script exit actually produced:
// the model must exist and open in the runtime with at least one input
// and output, and the label file must name at least one class. A failure
// here flips an exit-zero run to Failed.
func (o *Orchestrator) validateArtifacts(job Job) error {
	modelPath := filepath.Join(job.OutputDir, ModelFileName)
	labelsPath := filepath.Join(job.OutputDir, LabelsFileName)

	if !util.NonEmptyFile(modelPath) {
		return errdefs.Validation(ModelFileName, "script exited cleanly but wrote no model file")
	}
	if o.prober != nil {
		inputs, outputs, err := o.prober.Probe(modelPath)
		if err != nil {
			return errdefs.Validation(ModelFileName, fmt.Sprintf("produced model does not load: %v", err))
		}
		if inputs < 1 || outputs < 1 {
			return errdefs.Validation(ModelFileName,
				fmt.Sprintf("model declares %d inputs and %d outputs", inputs, outputs))
		}
	}

	lines, err := countLabelLines(labelsPath)
	if err != nil {
		return errdefs.Validation(LabelsFileName, fmt.Sprintf("cannot read labels: %v", err))
	}
	if lines < 1 {
		return errdefs.Validation(LabelsFileName, "label file has no non-empty lines")
	}
	return nil
}

// countLabelLines counts non-empty lines in a label file.
func countLabelLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, scanner.Err()
}
