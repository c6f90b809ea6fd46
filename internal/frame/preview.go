package frame

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Preview renders the frame as an 8-bit grayscale image scaled to fit
// within maxDim on its longer side, preserving aspect ratio. Used by the
// debug tooling to emit inspection images without dumping full frames.
func (im *Image) Preview(maxDim int) *image.Gray {
	full := im.ToGray(0, 0)
	if maxDim <= 0 || (im.Width <= maxDim && im.Height <= maxDim) {
		return full
	}
	w, h := im.Width, im.Height
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Bounds(), full, full.Bounds(), xdraw.Over, nil)
	return out
}
