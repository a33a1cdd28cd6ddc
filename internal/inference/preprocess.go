// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"image"
	"image/draw"
)

// Channel statistics the torchvision model zoo trains against. Models
// converted from that ecosystem expect inputs normalized with these.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// imageToTensor resizes img to width x height with bilinear sampling
// and returns a normalized NCHW float32 tensor (batch omitted): plane 0
// is red, 1 green, 2 blue.
func imageToTensor(img image.Image, width, height int) []float32 {
	src := toRGBA(img)
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	plane := width * height
	out := make([]float32, 3*plane)
	if srcW == 0 || srcH == 0 {
		return out
	}

	scaleX := float64(srcW) / float64(width)
	scaleY := float64(srcH) / float64(height)

	for y := 0; y < height; y++ {
		// Sample at pixel centers so a same-size copy is exact.
		sy := (float64(y)+0.5)*scaleY - 0.5
		for x := 0; x < width; x++ {
			sx := (float64(x)+0.5)*scaleX - 0.5
			r, g, b := bilinearSample(src, sx, sy)

			idx := y*width + x
			out[idx] = (r/255.0 - channelMean[0]) / channelStd[0]
			out[plane+idx] = (g/255.0 - channelMean[1]) / channelStd[1]
			out[2*plane+idx] = (b/255.0 - channelMean[2]) / channelStd[2]
		}
	}
	return out
}

// bilinearSample interpolates the four pixels around (sx, sy),
// clamping at the borders.
func bilinearSample(src *image.RGBA, sx, sy float64) (r, g, b float32) {
	maxX := src.Bounds().Dx() - 1
	maxY := src.Bounds().Dy() - 1

	x0 := clampInt(int(sx), 0, maxX)
	y0 := clampInt(int(sy), 0, maxY)
	x1 := clampInt(x0+1, 0, maxX)
	y1 := clampInt(y0+1, 0, maxY)

	fx := float32(sx - float64(x0))
	fy := float32(sy - float64(y0))
	if fx < 0 {
		fx = 0
	}
	if fy < 0 {
		fy = 0
	}

	w00 := (1 - fx) * (1 - fy)
	w10 := fx * (1 - fy)
	w01 := (1 - fx) * fy
	w11 := fx * fy

	p00 := pixelAt(src, x0, y0)
	p10 := pixelAt(src, x1, y0)
	p01 := pixelAt(src, x0, y1)
	p11 := pixelAt(src, x1, y1)

	r = w00*p00[0] + w10*p10[0] + w01*p01[0] + w11*p11[0]
	g = w00*p00[1] + w10*p10[1] + w01*p01[1] + w11*p11[1]
	b = w00*p00[2] + w10*p10[2] + w01*p01[2] + w11*p11[2]
	return r, g, b
}

func pixelAt(src *image.RGBA, x, y int) [3]float32 {
	offset := src.PixOffset(src.Bounds().Min.X+x, src.Bounds().Min.Y+y)
	return [3]float32{
		float32(src.Pix[offset]),
		float32(src.Pix[offset+1]),
		float32(src.Pix[offset+2]),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toRGBA returns img as *image.RGBA, copying only when the underlying
// type differs.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}
