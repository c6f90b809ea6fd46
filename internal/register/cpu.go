package register

import (
	"context"
	"runtime"
	"sync"

	"frame-align/internal/frame"
	"frame-align/pkg/geometry"
)

// cpuBackend builds distortion grids with per-worker phase correlators.
// Grid rows are split into disjoint stripes so workers never contend.
type cpuBackend struct {
	workers int
}

func newCPUBackend(workers int) *cpuBackend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &cpuBackend{workers: workers}
}

func (b *cpuBackend) Name() string { return "cpu" }

func (b *cpuBackend) BuildGrid(ctx context.Context, ref, target *frame.Image, tileSize, step int, signal float64, eval *SignalEvaluator) (*DistortionGrid, error) {
	width, height := ref.Width, ref.Height
	grid := NewDistortionGrid(width, height, tileSize, step)
	tileOffset := tileSize / 2

	maxY := height - tileSize
	maxX := width - tileSize
	if maxY < 0 || maxX < 0 {
		return grid, nil
	}
	rows := maxY/step + 1

	workers := b.workers
	if workers > rows {
		workers = rows
	}
	rowsPerWorker := (rows + workers - 1) / workers

	// Each stripe maps to a disjoint range of grid rows, so workers write
	// to the grid without locking.
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		r0 := w * rowsPerWorker
		r1 := min(r0+rowsPerWorker, rows)
		if r0 >= r1 {
			break
		}
		wg.Add(1)
		go func(r0, r1 int) {
			defer wg.Done()
			pc := NewPhaseCorrelator(tileSize)
			refTile := make([]float32, tileSize*tileSize)
			targetTile := make([]float32, tileSize*tileSize)
			for r := r0; r < r1; r++ {
				if ctx.Err() != nil {
					return
				}
				y := r * step
				for x := 0; x <= maxX; x += step {
					var d geometry.Vec2D
					if eval.PassesThreshold(x, y, tileSize, tileSize, signal) {
						ref.ExtractTile(refTile, x, y, tileSize)
						target.ExtractTile(targetTile, x, y, tileSize)
						d = pc.Correlate(refTile, targetTile)
					}
					grid.RecordDisplacement(x+tileOffset, y+tileOffset, d)
				}
			}
		}(r0, r1)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return grid, nil
}
