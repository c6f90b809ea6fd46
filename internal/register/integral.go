package register

import "frame-align/internal/frame"

// IntegralImage is a summed-area table over a frame. Rectangle sums and
// averages are O(1), which keeps per-tile signal checks cheap during grid
// construction. Sums accumulate in float64 to avoid drift on large frames.
type IntegralImage struct {
	width  int
	height int
	sums   []float64
}

// NewIntegralImage builds the summed-area table for im.
func NewIntegralImage(im *frame.Image) *IntegralImage {
	w, h := im.Width, im.Height
	sums := make([]float64, w*h)
	sums[0] = float64(im.Samples[0])
	for x := 1; x < w; x++ {
		sums[x] = sums[x-1] + float64(im.Samples[x])
	}
	for y := 1; y < h; y++ {
		row := y * w
		sums[row] = sums[row-w] + float64(im.Samples[row])
	}
	for y := 1; y < h; y++ {
		row := y * w
		for x := 1; x < w; x++ {
			i := row + x
			sums[i] = float64(im.Samples[i]) + sums[i-1] + sums[i-w] - sums[i-w-1]
		}
	}
	return &IntegralImage{width: w, height: h, sums: sums}
}

func (ii *IntegralImage) at(x, y int) float64 {
	if x < 0 || y < 0 {
		return 0
	}
	return ii.sums[y*ii.width+x]
}

// AreaSum returns the sum of samples in the rectangle with origin (x, y)
// and the given size, clamped to the image bounds.
func (ii *IntegralImage) AreaSum(x, y, width, height int) float64 {
	x0 := min(x, ii.width) - 1
	y0 := min(y, ii.height) - 1
	x1 := min(x+width, ii.width) - 1
	y1 := min(y+height, ii.height) - 1
	sum := ii.at(x1, y1) - ii.at(x1, y0) - ii.at(x0, y1) + ii.at(x0, y0)
	if sum < 0 {
		return 0
	}
	return sum
}

// AreaAverage returns the mean sample value in the rectangle. The divisor
// is the requested area, so tiles hanging off the image edge are averaged
// as if the outside were zero.
func (ii *IntegralImage) AreaAverage(x, y, width, height int) float64 {
	return ii.AreaSum(x, y, width, height) / float64(width*height)
}
