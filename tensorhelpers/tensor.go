// Package tensorhelpers implements the pure image/tensor conversions the
// engine and provider need: RGBA<->tensor packing, coordinate rescaling,
// and the two mask resize paths described by the segmentation pipeline.
package tensorhelpers

import (
	"image"

	"github.com/up-zero/gotool/imageutil"
)

// InputSize is the fixed square edge (S) the encoder expects, per the
// model's tensor contract.
const InputSize = 1024

// LogitsSize is the fixed edge of the decoder's low-resolution mask
// output.
const LogitsSize = 256

// Point is a single foreground/background prompt in captured-image pixel
// space.
type Point struct {
	X, Y float32
	Fg   bool
}

// RGBAToImage wraps a raw row-major RGBA byte buffer as an image.Image
// without copying pixel data.
func RGBAToImage(rgba []byte, w, h int) *image.RGBA {
	return &image.RGBA{
		Pix:    rgba,
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// PreprocessImage resizes rgba (w x h) to InputSize x InputSize and packs
// it into a channel-first [1,3,S,S] float32 tensor scaled to [0,1]. No
// mean/std normalization is applied; per the model contract that is baked
// into the exported encoder weights.
func PreprocessImage(rgba []byte, w, h int) []float32 {
	src := RGBAToImage(rgba, w, h)
	resized := imageutil.Resize(src, InputSize, InputSize)

	data := make([]float32, 3*InputSize*InputSize)
	plane := InputSize * InputSize

	bounds := resized.Bounds()
	for y := 0; y < InputSize; y++ {
		for x := 0; x < InputSize; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*InputSize + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}
	return data
}

// ScalePoint rescales a pixel coordinate from the captured image's (w, h)
// space into the encoder's (InputSize, InputSize) space.
func ScalePoint(x, y float32, w, h int) (float32, float32) {
	return x * float32(InputSize) / float32(w), y * float32(InputSize) / float32(h)
}

// PointCoordsTensor packs prompt points into the decoder's point_coords
// layout: 1xNx2 float32, coordinates already rescaled to InputSize space.
func PointCoordsTensor(points []Point, w, h int) []float32 {
	coords := make([]float32, 0, len(points)*2)
	for _, p := range points {
		sx, sy := ScalePoint(p.X, p.Y, w, h)
		coords = append(coords, sx, sy)
	}
	return coords
}

// PointLabelsTensor packs prompt point labels into the decoder's
// point_labels layout: 1xN float32, 1.0 for foreground and 0.0 for
// background.
func PointLabelsTensor(points []Point) []float32 {
	labels := make([]float32, len(points))
	for i, p := range points {
		if p.Fg {
			labels[i] = 1.0
		}
	}
	return labels
}

// MaskInputTensor packs the previous decode's selected logits (or zeros,
// if nil) into the decoder's mask_input layout: 1x1x256x256 float32.
func MaskInputTensor(previous []float32) []float32 {
	if previous != nil {
		out := make([]float32, LogitsSize*LogitsSize)
		copy(out, previous)
		return out
	}
	return make([]float32, LogitsSize*LogitsSize)
}

// HasMaskTensor packs the has_mask_input flag: 1.0 if a previous mask is
// being supplied, else 0.0.
func HasMaskTensor(hasPrevious bool) []float32 {
	if hasPrevious {
		return []float32{1.0}
	}
	return []float32{0.0}
}

// grayAt reads a single-channel value out of a packed HxW uint8 buffer,
// clamping coordinates to the buffer edge — used by both resize paths so
// out-of-range sampling never panics.
func grayAt(buf []byte, w, h, x, y int) byte {
	if x < 0 {
		x = 0
	}
	if x >= w {
		x = w - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= h {
		y = h - 1
	}
	return buf[y*w+x]
}
