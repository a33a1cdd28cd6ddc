// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImageToTensorNormalization(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	tensor := imageToTensor(img, 1, 1)
	require.Len(t, tensor, 3)
	require.InDelta(t, (1.0-0.485)/0.229, tensor[0], 1e-3)
	require.InDelta(t, (0.0-0.456)/0.224, tensor[1], 1e-3)
	require.InDelta(t, (0.0-0.406)/0.225, tensor[2], 1e-3)
}

func TestImageToTensorPlanarLayout(t *testing.T) {
	// Left pixel red, right pixel blue; same-size output keeps both.
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{B: 255, A: 255})

	tensor := imageToTensor(img, 2, 1)
	require.Len(t, tensor, 6)

	// Red plane.
	require.InDelta(t, (1.0-0.485)/0.229, tensor[0], 1e-3)
	require.InDelta(t, (0.0-0.485)/0.229, tensor[1], 1e-3)
	// Blue plane.
	require.InDelta(t, (0.0-0.406)/0.225, tensor[4], 1e-3)
	require.InDelta(t, (1.0-0.406)/0.225, tensor[5], 1e-3)
}

func TestImageToTensorResizeSolidColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	// Interpolating a solid color must yield the same color everywhere.
	tensor := imageToTensor(img, 4, 4)
	require.Len(t, tensor, 3*4*4)
	for i := 0; i < 16; i++ {
		require.InDelta(t, (1.0-0.485)/0.229, tensor[i], 1e-3)
	}
}

func TestImageToTensorNonRGBASource(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.SetGray(0, 0, color.Gray{Y: 255})
	img.SetGray(1, 0, color.Gray{Y: 255})
	img.SetGray(0, 1, color.Gray{Y: 255})
	img.SetGray(1, 1, color.Gray{Y: 255})

	tensor := imageToTensor(img, 2, 2)
	require.InDelta(t, (1.0-0.485)/0.229, tensor[0], 1e-3)
	require.InDelta(t, (1.0-0.456)/0.224, tensor[4], 1e-3)
	require.InDelta(t, (1.0-0.406)/0.225, tensor[8], 1e-3)
}

func TestNormalizeScoresPassesProbabilitiesThrough(t *testing.T) {
	probs := []float32{0.7, 0.2, 0.1}
	require.Equal(t, probs, normalizeScores(probs))

	// Sigmoid heads do not sum to one and must not be rescaled.
	sigmoid := []float32{0.9, 0.8, 0.4}
	require.Equal(t, sigmoid, normalizeScores(sigmoid))
}

func TestNormalizeScoresSoftmaxesLogits(t *testing.T) {
	out := normalizeScores([]float32{2, 1, 0})

	var sum float32
	for _, v := range out {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-4)
	require.Greater(t, out[0], out[1])
	require.Greater(t, out[1], out[2])
}

func TestNormalizeScoresEmpty(t *testing.T) {
	require.Empty(t, normalizeScores(nil))
}
