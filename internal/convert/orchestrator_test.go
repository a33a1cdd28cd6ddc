// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/deanable/tagsense/internal/errdefs"
	"github.com/deanable/tagsense/internal/registry"
)

// fakePreamble makes a shell script answer the interpreter and package
// probes the orchestrator issues before the conversion invocation.
const fakePreamble = `#!/bin/sh
case "$1" in
  --version) echo "Python 3.12.0"; exit 0 ;;
  -c|-m) exit 0 ;;
esac
`

func writeFakePython(t *testing.T, behavior string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "python3")
	require.NoError(t, os.WriteFile(path, []byte(fakePreamble+behavior), 0o755))
	return path
}

type fakeProber struct {
	inputs  int
	outputs int
	err     error
	calls   int
}

func (p *fakeProber) Probe(string) (int, int, error) {
	p.calls++
	return p.inputs, p.outputs, p.err
}

func newTestJob(t *testing.T) Job {
	t.Helper()
	work := t.TempDir()
	src := filepath.Join(work, "pytorch_model.bin")
	require.NoError(t, os.WriteFile(src, []byte("checkpoint-bytes"), 0o600))
	return Job{
		ModelID:    "acme/resnet-15",
		SourcePath: src,
		OutputDir:  filepath.Join(work, "out"),
		ImageSize:  224,
	}
}

func newTestOrchestrator(t *testing.T, fake string, prober ModelProber) *Orchestrator {
	t.Helper()
	return New(Options{
		PythonCandidates: []string{fake},
		ProbeTimeout:     2 * time.Second,
		RunTimeout:       30 * time.Second,
		ScratchDir:       filepath.Join(t.TempDir(), "scratch"),
	}, prober)
}

func TestConvertSuccess(t *testing.T) {
	fake := writeFakePython(t, `out=$(sed -n 's/.*"output_dir":"\([^"]*\)".*/\1/p' "$2")
echo "loading model"
printf 'onnx-bytes' > "$out/model.onnx"
printf 'tabby cat\ntiger cat\n' > "$out/labels.txt"
echo "conversion complete"
exit 0
`)
	prober := &fakeProber{inputs: 1, outputs: 1}
	o := newTestOrchestrator(t, fake, prober)
	job := newTestJob(t)

	result := o.Convert(context.Background(), job)
	require.NoError(t, result.Err)
	require.Equal(t, registry.ConversionDone, result.Status)
	require.Equal(t, filepath.Join(job.OutputDir, ModelFileName), result.ModelPath)
	require.Equal(t, filepath.Join(job.OutputDir, LabelsFileName), result.LabelsPath)
	require.Contains(t, result.Stdout, "conversion complete")
	require.Equal(t, 1, prober.calls)

	labels, err := os.ReadFile(result.LabelsPath)
	require.NoError(t, err)
	require.Contains(t, string(labels), "tabby cat")
}

func TestConvertScriptFailure(t *testing.T) {
	fake := writeFakePython(t, `echo "unsupported architecture: gluon" >&2
exit 3
`)
	o := newTestOrchestrator(t, fake, &fakeProber{inputs: 1, outputs: 1})

	result := o.Convert(context.Background(), newTestJob(t))
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, errdefs.ErrExternalProcess)

	var procErr *errdefs.ExternalProcessError
	require.ErrorAs(t, result.Err, &procErr)
	require.Equal(t, 3, procErr.ExitCode)
	require.Contains(t, procErr.Stderr, "unsupported architecture")
	require.Contains(t, result.Stderr, "unsupported architecture")
}

func TestConvertCleanExitWithoutArtifactsFails(t *testing.T) {
	fake := writeFakePython(t, `echo "pretending to convert"
exit 0
`)
	o := newTestOrchestrator(t, fake, &fakeProber{inputs: 1, outputs: 1})

	result := o.Convert(context.Background(), newTestJob(t))
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, errdefs.ErrValidation)
	require.Contains(t, result.Err.Error(), ModelFileName)
}

func TestConvertEmptyLabelsFails(t *testing.T) {
	fake := writeFakePython(t, `out=$(sed -n 's/.*"output_dir":"\([^"]*\)".*/\1/p' "$2")
printf 'onnx-bytes' > "$out/model.onnx"
printf '\n\n  \n' > "$out/labels.txt"
exit 0
`)
	o := newTestOrchestrator(t, fake, &fakeProber{inputs: 1, outputs: 1})

	result := o.Convert(context.Background(), newTestJob(t))
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, errdefs.ErrValidation)
	require.Contains(t, result.Err.Error(), LabelsFileName)
}

func TestConvertProberRejectsModel(t *testing.T) {
	fake := writeFakePython(t, `out=$(sed -n 's/.*"output_dir":"\([^"]*\)".*/\1/p' "$2")
printf 'onnx-bytes' > "$out/model.onnx"
printf 'cat\n' > "$out/labels.txt"
exit 0
`)
	o := newTestOrchestrator(t, fake, &fakeProber{inputs: 0, outputs: 1})

	result := o.Convert(context.Background(), newTestJob(t))
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, errdefs.ErrValidation)
	require.Contains(t, result.Err.Error(), "0 inputs")
}

func TestConvertMissingCheckpoint(t *testing.T) {
	// The checkpoint check runs before any interpreter work, so a fake
	// is not needed.
	o := New(Options{ScratchDir: t.TempDir()}, nil)
	job := Job{
		ModelID:    "acme/ghost",
		SourcePath: filepath.Join(t.TempDir(), "missing.bin"),
		OutputDir:  t.TempDir(),
	}

	result := o.Convert(context.Background(), job)
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, errdefs.ErrNotFound)
}

func TestConvertTimeout(t *testing.T) {
	fake := writeFakePython(t, `exec sleep 30
`)
	o := New(Options{
		PythonCandidates: []string{fake},
		ProbeTimeout:     2 * time.Second,
		RunTimeout:       100 * time.Millisecond,
		ScratchDir:       filepath.Join(t.TempDir(), "scratch"),
	}, nil)

	start := time.Now()
	result := o.Convert(context.Background(), newTestJob(t))
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, errdefs.ErrExternalProcess)
	require.Contains(t, result.Err.Error(), "timed out")
}

func TestConvertCancel(t *testing.T) {
	fake := writeFakePython(t, `exec sleep 30
`)
	o := newTestOrchestrator(t, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	result := o.Convert(ctx, newTestJob(t))
	require.Equal(t, registry.ConversionFailed, result.Status)
	require.ErrorIs(t, result.Err, context.Canceled)
}

func TestResolvePythonPrefersFirstWorkingCandidate(t *testing.T) {
	fake := writeFakePython(t, `exit 0
`)
	py, err := ResolvePython(context.Background(),
		[]string{"definitely-not-a-real-interpreter-4f1a", fake}, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, fake, py.Path)
	require.Equal(t, "Python 3.12.0", py.Version)
}

func TestResolvePythonNoneAvailable(t *testing.T) {
	_, err := ResolvePython(context.Background(),
		[]string{"definitely-not-a-real-interpreter-4f1a"}, time.Second)
	require.Error(t, err)
	require.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestWriteParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	job := Job{
		ModelID:    "acme/vit-base",
		SourcePath: "/models/weights.bin",
		OutputDir:  "/models/out",
		ImageSize:  384,
	}
	require.NoError(t, writeParams(path, job))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "acme/vit-base", gjson.GetBytes(raw, "model_id").String())
	require.Equal(t, "/models/weights.bin", gjson.GetBytes(raw, "source_model").String())
	require.Equal(t, int64(384), gjson.GetBytes(raw, "image_size").Int())
	require.Equal(t, ModelFileName, gjson.GetBytes(raw, "model_filename").String())
	require.Equal(t, LabelsFileName, gjson.GetBytes(raw, "labels_filename").String())
}

func TestCountLabelLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("cat\n\n  \ndog\n"), 0o600))

	n, err := countLabelLines(path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
