package register

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"frame-align/internal/frame"
)

// RenderDisplacementHeatmaps renders the horizontal and vertical
// components of a displacement field as side-by-side heatmaps. In each
// panel, negative displacements shade toward red and positive toward
// blue, scaled by the largest component magnitude in the field.
func RenderDisplacementHeatmaps(grid *DistortionGrid) *image.RGBA {
	width, height := grid.Bounds()

	maxAmplitude := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := grid.DisplacementAt(float64(x), float64(y))
			maxAmplitude = math.Max(maxAmplitude, math.Abs(d.DX))
			maxAmplitude = math.Max(maxAmplitude, math.Abs(d.DY))
		}
	}
	if maxAmplitude == 0 {
		maxAmplitude = 1
	}

	const separator = 8
	out := image.NewRGBA(image.Rect(0, 0, 2*width+separator, height))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := grid.DisplacementAt(float64(x), float64(y))
			out.SetRGBA(x, y, heatColor(d.DX, maxAmplitude))
			out.SetRGBA(width+separator+x, y, heatColor(d.DY, maxAmplitude))
		}
	}
	return out
}

func heatColor(v, maxAmplitude float64) color.RGBA {
	const half = 128
	amp := uint8(math.Abs(v) / maxAmplitude * (half - 1))
	switch {
	case v < 0:
		return color.RGBA{R: half + amp, G: half, B: half, A: 255}
	case v > 0:
		return color.RGBA{R: half, G: half, B: half + amp, A: 255}
	default:
		return color.RGBA{R: half, G: half, B: half, A: 255}
	}
}

// RenderDebugPanel lays out the reference, the corrected frame, their
// difference, and the displacement heatmaps in one inspection image,
// scaled to fit maxDim on the longer side.
func RenderDebugPanel(reference, corrected *frame.Image, grid *DistortionGrid, maxDim int) *image.RGBA {
	diff := frame.New(reference.Width, reference.Height)
	for i := range diff.Samples {
		diff.Samples[i] = reference.Samples[i] - corrected.Samples[i]
	}

	refGray := reference.ToGray(0, 0)
	corrGray := corrected.ToGray(0, 0)
	diffGray := diff.ToGray(0, 0)
	heat := RenderDisplacementHeatmaps(grid)

	const separator = 8
	w, h := reference.Width, reference.Height
	panel := image.NewRGBA(image.Rect(0, 0, 3*w+heat.Bounds().Dx()+3*separator, h))
	draw.Draw(panel, panel.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	offset := 0
	for _, im := range []image.Image{refGray, corrGray, diffGray, heat} {
		r := im.Bounds().Sub(im.Bounds().Min).Add(image.Pt(offset, 0))
		draw.Draw(panel, r, im, im.Bounds().Min, draw.Src)
		offset += im.Bounds().Dx() + separator
	}

	if maxDim <= 0 || (panel.Bounds().Dx() <= maxDim && panel.Bounds().Dy() <= maxDim) {
		return panel
	}
	pw, ph := panel.Bounds().Dx(), panel.Bounds().Dy()
	if pw >= ph {
		ph = ph * maxDim / pw
		pw = maxDim
	} else {
		pw = pw * maxDim / ph
		ph = maxDim
	}
	scaled := image.NewRGBA(image.Rect(0, 0, pw, ph))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), panel, panel.Bounds(), xdraw.Over, nil)
	return scaled
}
