// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package inference loads converted models and turns images into scored
// tags. The session cache guarantees each model is loaded at most once
// no matter how many requests arrive while the load is in flight.
package inference

import (
	"context"
	"image"
)

// Runtime opens model files and produces runnable sessions. The ONNX
// implementation backs production use; tests substitute their own.
type Runtime interface {
	// Open loads the model at modelPath into a session. width and
	// height are the preprocessing target taken from the model's
	// descriptor; static dimensions declared by the model file win
	// when the two disagree.
	Open(modelPath string, width, height int) (Session, error)

	// Probe reports the declared input and output counts without
	// keeping a session around.
	Probe(modelPath string) (inputs, outputs int, err error)

	// Close releases runtime-wide resources. Sessions opened earlier
	// must be closed first.
	Close() error
}

// Session is a loaded model ready to classify images.
type Session interface {
	// Run classifies one image and returns a score per class, index
	// aligned with the model's label file.
	Run(ctx context.Context, img image.Image) ([]float32, error)

	// Inputs and Outputs report the model's declared tensor counts.
	Inputs() int
	Outputs() int

	// Close releases the session.
	Close() error
}
