package register

import (
	"context"
	"fmt"
	"math"
	"sort"

	"frame-align/internal/frame"
	"frame-align/pkg/geometry"
)

// SamplePositions lists where displacement measurements should be taken.
// Positions are tile centers; TileSize may vary per position when a
// multi-scale strategy is in use.
type SamplePositions struct {
	X        []int
	Y        []int
	TileSize []int
}

// Count returns the number of positions.
func (s SamplePositions) Count() int { return len(s.X) }

// SamplingStrategy selects measurement positions on a reference frame.
type SamplingStrategy interface {
	Name() string
	SelectPositions(ref *frame.Image, tileSize int, signalThreshold float64) SamplePositions
}

// GridSampling places positions on a regular lattice, the default
// coverage strategy.
type GridSampling struct {
	Sampling float64
}

func (s GridSampling) Name() string { return "grid" }

func (s GridSampling) SelectPositions(ref *frame.Image, tileSize int, signalThreshold float64) SamplePositions {
	step := int(float64(tileSize) * s.Sampling)
	if step < MinStep {
		step = MinStep
	}
	offset := tileSize / 2
	eval := NewSignalEvaluator(ref, nil)

	var out SamplePositions
	for y := 0; y+tileSize <= ref.Height; y += step {
		for x := 0; x+tileSize <= ref.Width; x += step {
			if !eval.PassesThreshold(x, y, tileSize, tileSize, signalThreshold) {
				continue
			}
			out.X = append(out.X, x+offset)
			out.Y = append(out.Y, y+offset)
			out.TileSize = append(out.TileSize, tileSize)
		}
	}
	return out
}

const (
	minSampleSpacingRatio = 0.5
	maxGradientRatio      = 0.15
	maxInterestSamples    = 8192
)

// InterestPointSampling places positions at local maxima of the gradient
// magnitude, concentrating measurements where the frame actually has
// structure. With Multiscale set, three layers of tile sizes are used so
// detailed regions get finer measurements on top of coarse coverage.
type InterestPointSampling struct {
	Multiscale bool
}

func (s InterestPointSampling) Name() string {
	return fmt.Sprintf("interest-point (multiscale=%v)", s.Multiscale)
}

func (s InterestPointSampling) SelectPositions(ref *frame.Image, tileSize int, signalThreshold float64) SamplePositions {
	eval := NewSignalEvaluator(ref, nil)
	gradient := gradientMagnitude(ref)

	type candidate struct {
		x, y     int
		tileSize int
		score    float32
	}
	var selected []candidate

	addLayer := func(size int) {
		halfTile := size / 2
		minSpacing := int(float64(size) * minSampleSpacingRatio)
		minSpacingSq := minSpacing * minSpacing

		var maxGradient float32
		for y := halfTile; y < ref.Height-halfTile; y++ {
			for x := halfTile; x < ref.Width-halfTile; x++ {
				if v := gradient.At(x, y); v > maxGradient {
					maxGradient = v
				}
			}
		}
		threshold := maxGradient * maxGradientRatio

		var candidates []candidate
		for y := halfTile; y < ref.Height-halfTile; y++ {
			for x := halfTile; x < ref.Width-halfTile; x++ {
				v := gradient.At(x, y)
				if v < threshold || !isLocalMaximum(gradient, x, y, v) {
					continue
				}
				if eval.RefSignal(x-halfTile, y-halfTile, size, size) < signalThreshold {
					continue
				}
				candidates = append(candidates, candidate{x: x, y: y, tileSize: size, score: v})
			}
		}
		sort.Slice(candidates, func(a, b int) bool {
			return candidates[a].score > candidates[b].score
		})

		// Non-maximum suppression against this layer and earlier ones.
		for _, c := range candidates {
			tooClose := false
			for _, e := range selected {
				dx := c.x - e.x
				dy := c.y - e.y
				if dx*dx+dy*dy < minSpacingSq {
					tooClose = true
					break
				}
			}
			if !tooClose {
				selected = append(selected, c)
			}
		}
	}

	if s.Multiscale {
		addLayer(tileSize * 2)
		addLayer(tileSize)
		if small := max(MinTileSize, tileSize/2); small < tileSize {
			addLayer(small)
		}
	} else {
		addLayer(tileSize)
	}

	if len(selected) > maxInterestSamples {
		sort.Slice(selected, func(a, b int) bool {
			return selected[a].score > selected[b].score
		})
		selected = selected[:maxInterestSamples]
	}

	out := SamplePositions{
		X:        make([]int, len(selected)),
		Y:        make([]int, len(selected)),
		TileSize: make([]int, len(selected)),
	}
	for i, c := range selected {
		out.X[i] = c.x
		out.Y[i] = c.y
		out.TileSize[i] = c.tileSize
	}
	return out
}

func isLocalMaximum(gradient *frame.Image, x, y int, v float32) bool {
	return v > gradient.At(x-1, y-1) && v > gradient.At(x, y-1) && v > gradient.At(x+1, y-1) &&
		v > gradient.At(x-1, y) && v > gradient.At(x+1, y) &&
		v > gradient.At(x-1, y+1) && v > gradient.At(x, y+1) && v > gradient.At(x+1, y+1)
}

// gradientMagnitude computes the Sobel gradient magnitude with edge
// pixels clamped.
func gradientMagnitude(im *frame.Image) *frame.Image {
	out := frame.New(im.Width, im.Height)
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			p := func(dx, dy int) float64 {
				return float64(im.AtClamped(x+dx, y+dy))
			}
			gx := -p(-1, -1) - 2*p(-1, 0) - p(-1, 1) + p(1, -1) + 2*p(1, 0) + p(1, 1)
			gy := -p(-1, -1) - 2*p(0, -1) - p(1, -1) + p(-1, 1) + 2*p(0, 1) + p(1, 1)
			out.Set(x, y, float32(math.Hypot(gx, gy)))
		}
	}
	return out
}

// BuildSparseField measures displacements at strategy-selected positions
// and assembles them into a sparse field. Positions whose tiles hang off
// the frame are zero-padded like regular grid tiles.
func (e *Engine) BuildSparseField(ctx context.Context, reference, target *frame.Image, strategy SamplingStrategy, fieldOpts SparseFieldOptions) (*SparseDistortionField, error) {
	if !reference.SameSize(target) {
		return nil, fmt.Errorf("reference %dx%d and target %dx%d differ in size",
			reference.Width, reference.Height, target.Width, target.Height)
	}
	positions := strategy.SelectPositions(reference, e.opts.TileSize, e.opts.SignalFloor())
	e.log.Debug().Str("strategy", strategy.Name()).Int("positions", positions.Count()).
		Msg("selected sample positions")

	correlators := map[int]*PhaseCorrelator{}
	tiles := map[int][2][]float32{}

	xs := make([]float64, positions.Count())
	ys := make([]float64, positions.Count())
	ds := make([]geometry.Vec2D, positions.Count())
	for i := 0; i < positions.Count(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		size := positions.TileSize[i]
		pc, ok := correlators[size]
		if !ok {
			pc = NewPhaseCorrelator(size)
			correlators[size] = pc
			tiles[size] = [2][]float32{
				make([]float32, size*size),
				make([]float32, size*size),
			}
		}
		pair := tiles[size]
		half := size / 2
		x0, y0 := positions.X[i]-half, positions.Y[i]-half
		reference.ExtractTile(pair[0], x0, y0, size)
		target.ExtractTile(pair[1], x0, y0, size)

		xs[i] = float64(positions.X[i])
		ys[i] = float64(positions.Y[i])
		ds[i] = pc.Correlate(pair[0], pair[1])
	}

	if fieldOpts.BaseTileSize == 0 {
		fieldOpts.BaseTileSize = e.opts.TileSize
	}
	return NewSparseDistortionField(reference.Width, reference.Height, xs, ys, ds, positions.TileSize, fieldOpts)
}
