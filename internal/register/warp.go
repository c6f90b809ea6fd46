package register

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"frame-align/internal/frame"
)

// Warp resamples the source image through a displacement field: each output
// pixel (x, y) is read from the source at (x, y) plus the field's bicubic
// displacement at that position. Rows are processed in parallel stripes.
func Warp(ctx context.Context, src *frame.Image, grid *DistortionGrid, workers int) (*frame.Image, error) {
	return warpWith(ctx, src, grid, workers, bicubicSample)
}

// warpFast is Warp with bilinear resampling, for intermediate images that
// only feed the next correlation level.
func warpFast(ctx context.Context, src *frame.Image, grid *DistortionGrid, workers int) (*frame.Image, error) {
	return warpWith(ctx, src, grid, workers, bilinearSample)
}

func warpWith(ctx context.Context, src *frame.Image, grid *DistortionGrid, workers int, sample func(*frame.Image, float64, float64) float32) (*frame.Image, error) {
	gw, gh := grid.Bounds()
	if src.Width != gw || src.Height != gh {
		return nil, fmt.Errorf("image %dx%d does not match grid coverage %dx%d", src.Width, src.Height, gw, gh)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > src.Height {
		workers = src.Height
	}

	out := frame.New(src.Width, src.Height)
	rowsPerWorker := (src.Height + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		y0 := w * rowsPerWorker
		y1 := min(y0+rowsPerWorker, src.Height)
		if y0 >= y1 {
			break
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				if ctx.Err() != nil {
					return
				}
				for x := 0; x < src.Width; x++ {
					d := grid.DisplacementAt(float64(x), float64(y))
					out.Set(x, y, sample(src, float64(x)+d.DX, float64(y)+d.DY))
				}
			}
		}(y0, y1)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// bicubicSample evaluates the image at a fractional position with
// Catmull-Rom interpolation, clamping support taps to the image edges.
func bicubicSample(im *frame.Image, x, y float64) float32 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	var wx, wy [4]float64
	for i := 0; i < 4; i++ {
		wx[i] = cubicWeight(math.Abs(fx - float64(i-1)))
		wy[i] = cubicWeight(math.Abs(fy - float64(i-1)))
	}

	var sum, weightSum float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			w := wx[j] * wy[i]
			sum += float64(im.AtClamped(x0-1+j, y0-1+i)) * w
			weightSum += w
		}
	}
	if weightSum == 0 {
		return im.AtClamped(x0, y0)
	}
	return float32(sum / weightSum)
}

// bilinearSample evaluates the image at a fractional position with
// bilinear interpolation.
func bilinearSample(im *frame.Image, x, y float64) float32 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	i00 := im.AtClamped(x0, y0)
	i10 := im.AtClamped(x0+1, y0)
	i01 := im.AtClamped(x0, y0+1)
	i11 := im.AtClamped(x0+1, y0+1)

	top := i00 + fx*(i10-i00)
	bottom := i01 + fx*(i11-i01)
	return top + fy*(bottom-top)
}
