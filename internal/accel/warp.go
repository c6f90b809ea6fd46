package accel

import (
	"fmt"
	"image/color"

	"gocv.io/x/gocv"

	"frame-align/internal/frame"
	"frame-align/internal/register"
)

// Warp resamples a frame through a displacement field with the native
// remap routine, using Lanczos interpolation. Results differ from the
// pure Go warper only by interpolation kernel, within a fraction of the
// sample range.
func (b *Backend) Warp(src *frame.Image, grid *register.DistortionGrid) (*frame.Image, error) {
	gw, gh := grid.Bounds()
	if src.Width != gw || src.Height != gh {
		return nil, fmt.Errorf("image %dx%d does not match grid coverage %dx%d", src.Width, src.Height, gw, gh)
	}

	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.dev.closed {
		return nil, fmt.Errorf("device is closed")
	}

	srcMat := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32F)
	defer srcMat.Close()
	mapX := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32F)
	defer mapX.Close()
	mapY := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32F)
	defer mapY.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	srcData, err := srcMat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mapping source buffer: %w", err)
	}
	copy(srcData, src.Samples)

	mapXData, err := mapX.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mapping coordinate buffer: %w", err)
	}
	mapYData, err := mapY.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mapping coordinate buffer: %w", err)
	}
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			d := grid.DisplacementAt(float64(x), float64(y))
			i := y*src.Width + x
			mapXData[i] = float32(float64(x) + d.DX)
			mapYData[i] = float32(float64(y) + d.DY)
		}
	}

	err = safeCall(func() error {
		gocv.Remap(srcMat, &dst, &mapX, &mapY, gocv.InterpolationLanczos4, gocv.BorderReplicate, color.RGBA{})
		return nil
	})
	if err != nil {
		return nil, err
	}

	dstData, err := dst.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mapping result buffer: %w", err)
	}
	// The Mat memory dies with dst, so the samples are copied out.
	samples := make([]float32, len(dstData))
	copy(samples, dstData)
	return frame.FromSamples(src.Width, src.Height, samples)
}
