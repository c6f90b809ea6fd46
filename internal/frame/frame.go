// Package frame provides the in-memory floating-point image buffer consumed
// and produced by the registration engine.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// Image is a dense single-channel image with float32 samples stored in
// row-major order. The sample slice is owned by the caller; the engine never
// mutates an input image in place.
type Image struct {
	Width   int
	Height  int
	Samples []float32
}

// New creates a zero-filled image of the given dimensions.
func New(width, height int) *Image {
	return &Image{
		Width:   width,
		Height:  height,
		Samples: make([]float32, width*height),
	}
}

// FromSamples wraps an existing sample slice. The slice length must be
// width*height.
func FromSamples(width, height int, samples []float32) (*Image, error) {
	if len(samples) != width*height {
		return nil, fmt.Errorf("sample count %d does not match %dx%d", len(samples), width, height)
	}
	return &Image{Width: width, Height: height, Samples: samples}, nil
}

// At returns the sample at (x, y). Coordinates must be in bounds.
func (im *Image) At(x, y int) float32 {
	return im.Samples[y*im.Width+x]
}

// Set stores a sample at (x, y). Coordinates must be in bounds.
func (im *Image) Set(x, y int, v float32) {
	im.Samples[y*im.Width+x] = v
}

// AtClamped returns the sample at (x, y), clamping coordinates to the
// nearest edge pixel.
func (im *Image) AtClamped(x, y int) float32 {
	if x < 0 {
		x = 0
	} else if x >= im.Width {
		x = im.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= im.Height {
		y = im.Height - 1
	}
	return im.Samples[y*im.Width+x]
}

// Clone returns a deep copy of the image.
func (im *Image) Clone() *Image {
	out := New(im.Width, im.Height)
	copy(out.Samples, im.Samples)
	return out
}

// SameSize reports whether the other image has identical dimensions.
func (im *Image) SameSize(other *Image) bool {
	return other != nil && im.Width == other.Width && im.Height == other.Height
}

// ExtractTile copies a size×size tile with origin (x, y) into dst, which
// must hold size*size samples. Regions outside the image remain zero, so
// callers get zero-padded tiles at the right and bottom edges.
func (im *Image) ExtractTile(dst []float32, x, y, size int) {
	for i := range dst[:size*size] {
		dst[i] = 0
	}
	dstX, dstY := 0, 0
	if x < 0 {
		dstX, x = -x, 0
	}
	if y < 0 {
		dstY, y = -y, 0
	}
	copyW := min(size-dstX, im.Width-x)
	copyH := min(size-dstY, im.Height-y)
	if copyW <= 0 || copyH <= 0 {
		return
	}
	for yy := 0; yy < copyH; yy++ {
		src := (y+yy)*im.Width + x
		row := (dstY + yy) * size
		copy(dst[row+dstX:row+dstX+copyW], im.Samples[src:src+copyW])
	}
}

// FromGray converts a grayscale image to a float32 frame with samples in
// [0, 65535], matching the 16-bit range the upstream pipeline produces.
func FromGray(src *image.Gray16) *Image {
	bounds := src.Bounds()
	out := New(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			out.Set(x, y, float32(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
		}
	}
	return out
}

// ToGray converts the frame to an 8-bit grayscale image, linearly mapping
// the sample range [lo, hi] onto [0, 255]. If lo >= hi the actual sample
// range is used.
func (im *Image) ToGray(lo, hi float32) *image.Gray {
	if lo >= hi {
		lo, hi = im.sampleRange()
		if lo >= hi {
			hi = lo + 1
		}
	}
	scale := 255.0 / float64(hi-lo)
	out := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			v := math.Round(float64(im.At(x, y)-lo) * scale)
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return out
}

func (im *Image) sampleRange() (lo, hi float32) {
	if len(im.Samples) == 0 {
		return 0, 0
	}
	lo, hi = im.Samples[0], im.Samples[0]
	for _, v := range im.Samples[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
