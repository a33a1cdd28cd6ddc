// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/deanable/tagsense/internal/errdefs"
)

// DefaultImageSize is used when neither the model file nor its
// descriptor declares an input resolution.
const DefaultImageSize = 224

// ONNXRuntime implements Runtime on the onnxruntime shared library.
// The process-wide environment is initialized lazily on first use.
type ONNXRuntime struct {
	libraryPath string

	initOnce    sync.Once
	initErr     error
	initialized bool
}

// NewONNXRuntime returns a runtime that loads the shared library from
// libraryPath. An empty path falls back to LocateRuntimeLibrary.
func NewONNXRuntime(libraryPath string) *ONNXRuntime {
	return &ONNXRuntime{libraryPath: libraryPath}
}

func (r *ONNXRuntime) ensureInit() error {
	r.initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if path := LocateRuntimeLibrary(r.libraryPath); path != "" {
			log.Debugf("Using onnxruntime library at %s", path)
			ort.SetSharedLibraryPath(path)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			r.initErr = fmt.Errorf("initializing onnxruntime: %w", err)
			return
		}
		r.initialized = true
		log.Debug("ONNX runtime environment initialized")
	})
	return r.initErr
}

// Probe reports the declared input and output counts of the model at
// modelPath without creating a session.
func (r *ONNXRuntime) Probe(modelPath string) (int, int, error) {
	if err := r.ensureInit(); err != nil {
		return 0, 0, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return 0, 0, fmt.Errorf("reading model metadata: %w", err)
	}
	return len(inputs), len(outputs), nil
}

// Open loads the model at modelPath. width and height come from the
// descriptor; static dimensions in the model file take precedence.
func (r *ONNXRuntime) Open(modelPath string, width, height int) (Session, error) {
	if err := r.ensureInit(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model metadata: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errdefs.InvalidState(modelPath,
			fmt.Sprintf("model declares %d inputs and %d outputs", len(inputs), len(outputs)))
	}

	if width <= 0 {
		width = DefaultImageSize
	}
	if height <= 0 {
		height = DefaultImageSize
	}
	// NCHW models with static spatial dimensions override the
	// descriptor; feeding the wrong shape would fail every run.
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 && dims[3] > 0 {
		if int(dims[3]) != width || int(dims[2]) != height {
			log.Debugf("Model %s declares %dx%d input, overriding configured %dx%d",
				modelPath, dims[3], dims[2], width, height)
		}
		height = int(dims[2])
		width = int(dims[3])
	}

	outShape, classes, err := outputLayout(outputs[0].Dimensions)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", modelPath, err)
	}

	log.WithField("model", modelPath).
		Debugf("Session opened: %dx%d input, %d classes", width, height, classes)
	return &onnxSession{
		session:     session,
		width:       width,
		height:      height,
		outShape:    outShape,
		classes:     classes,
		inputCount:  len(inputs),
		outputCount: len(outputs),
	}, nil
}

// Close tears down the environment if this runtime initialized it.
func (r *ONNXRuntime) Close() error {
	if !r.initialized {
		return nil
	}
	r.initialized = false
	return ort.DestroyEnvironment()
}

// outputLayout derives the allocation shape for the output tensor. The
// batch dimension is forced to 1; all remaining dimensions must be
// static so the class count is known up front.
func outputLayout(dims ort.Shape) (ort.Shape, int, error) {
	if len(dims) == 0 {
		return nil, 0, errdefs.InvalidState("model output", "no dimensions declared")
	}
	shape := make(ort.Shape, len(dims))
	copy(shape, dims)
	shape[0] = 1

	classes := 1
	for _, d := range shape[1:] {
		if d <= 0 {
			return nil, 0, errdefs.InvalidState("model output",
				fmt.Sprintf("dynamic dimension in output shape %v", dims))
		}
		classes *= int(d)
	}
	if classes < 1 {
		return nil, 0, errdefs.InvalidState("model output", "empty output shape")
	}
	return shape, classes, nil
}

type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	width       int
	height      int
	outShape    ort.Shape
	classes     int
	inputCount  int
	outputCount int

	closeOnce sync.Once
}

func (s *onnxSession) Inputs() int  { return s.inputCount }
func (s *onnxSession) Outputs() int { return s.outputCount }

// Run classifies one image. The underlying C call cannot be
// interrupted, so ctx is only honored up to the point of submission.
func (s *onnxSession) Run(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := imageToTensor(img, s.width, s.height)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(s.height), int64(s.width)), data)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](s.outShape)
	if err != nil {
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}
	defer output.Destroy()

	if err := s.session.Run(
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
	); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}

	scores := make([]float32, s.classes)
	copy(scores, output.GetData())
	return normalizeScores(scores), nil
}

func (s *onnxSession) Close() error {
	s.closeOnce.Do(func() {
		s.session.Destroy()
	})
	return nil
}

// normalizeScores maps raw model output to comparable confidences.
// Outputs already in [0, 1] pass through untouched, which covers both
// softmax and sigmoid heads; anything else is treated as logits and
// run through a stable softmax.
func normalizeScores(scores []float32) []float32 {
	if len(scores) == 0 {
		return scores
	}
	inRange := true
	for _, s := range scores {
		if s < 0 || s > 1 {
			inRange = false
			break
		}
	}
	if inRange {
		return scores
	}

	maxv := scores[0]
	for _, s := range scores[1:] {
		if s > maxv {
			maxv = s
		}
	}
	var total float64
	exp := make([]float32, len(scores))
	for i, s := range scores {
		e := math.Exp(float64(s - maxv))
		exp[i] = float32(e)
		total += e
	}
	if total == 0 {
		return scores
	}
	for i := range exp {
		exp[i] = float32(float64(exp[i]) / total)
	}
	return exp
}
