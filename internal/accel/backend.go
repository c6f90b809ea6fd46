package accel

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"

	"frame-align/internal/frame"
	"frame-align/internal/register"
	"frame-align/pkg/geometry"
)

// Backend builds distortion grids through the native phase correlator.
// It implements register.GridBackend; the engine falls back to the CPU
// path whenever BuildGrid returns an error.
type Backend struct {
	dev *Device
}

// NewBackend wraps an open device.
func NewBackend(dev *Device) *Backend {
	return &Backend{dev: dev}
}

func (b *Backend) Name() string { return "opencv" }

type tilePos struct{ x, y int }

// BuildGrid measures tile displacements batch by batch under the device
// lock. Tiles that hang off the frame or fail the signal check record a
// zero displacement, like the CPU backend at the same positions.
func (b *Backend) BuildGrid(ctx context.Context, ref, target *frame.Image, tileSize, step int, signal float64, eval *register.SignalEvaluator) (*register.DistortionGrid, error) {
	width, height := ref.Width, ref.Height
	grid := register.NewDistortionGrid(width, height, tileSize, step)
	tileOffset := tileSize / 2

	maxY := height - tileSize
	maxX := width - tileSize
	if maxY < 0 || maxX < 0 {
		return grid, nil
	}

	var pending []tilePos
	batchSize := b.dev.BatchSize(tileSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		displacements, err := b.correlateBatch(ref, target, tileSize, pending)
		if err != nil {
			return err
		}
		for i, p := range pending {
			grid.RecordDisplacement(p.x+tileOffset, p.y+tileOffset, displacements[i])
		}
		pending = pending[:0]
		return nil
	}

	for y := 0; y <= maxY; y += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x <= maxX; x += step {
			if !eval.PassesThreshold(x, y, tileSize, tileSize, signal) {
				grid.RecordDisplacement(x+tileOffset, y+tileOffset, geometry.Vec2D{})
				continue
			}
			pending = append(pending, tilePos{x: x, y: y})
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return grid, nil
}

// correlateBatch runs one batch of tile correlations while holding the
// device lock once, instead of per tile.
func (b *Backend) correlateBatch(ref, target *frame.Image, tileSize int, positions []tilePos) ([]geometry.Vec2D, error) {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.dev.closed {
		return nil, fmt.Errorf("device is closed")
	}

	window, err := b.dev.hannWindow(tileSize)
	if err != nil {
		return nil, err
	}

	refMat := gocv.NewMatWithSize(tileSize, tileSize, gocv.MatTypeCV32F)
	defer refMat.Close()
	targetMat := gocv.NewMatWithSize(tileSize, tileSize, gocv.MatTypeCV32F)
	defer targetMat.Close()

	refData, err := refMat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mapping tile buffer: %w", err)
	}
	targetData, err := targetMat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("mapping tile buffer: %w", err)
	}

	out := make([]geometry.Vec2D, len(positions))
	err = safeCall(func() error {
		for i, p := range positions {
			ref.ExtractTile(refData, p.x, p.y, tileSize)
			target.ExtractTile(targetData, p.x, p.y, tileSize)
			shift, _ := gocv.PhaseCorrelate(refMat, targetMat, window)
			out[i] = geometry.NewVec2D(float64(shift.X), float64(shift.Y))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
