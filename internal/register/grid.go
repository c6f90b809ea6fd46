package register

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"frame-align/pkg/geometry"
)

const (
	cubicLUTSize = 256

	// madThreshold flags a node when it deviates from the local median by
	// more than this many scaled MADs.
	madThreshold = 3.0

	// madScale converts a raw MAD into a robust standard deviation
	// estimate for normally distributed residuals.
	madScale = 1.4826

	// madFloor keeps near-constant neighborhoods from flagging every node
	// over sub-pixel noise.
	madFloor = 0.1

	// gapFillRadius is the neighbor search radius, in grid nodes, used
	// when reconstructing rejected or unsampled nodes.
	gapFillRadius = 3

	// smoothReferenceStep is the grid step at which BaseSigma applies
	// directly. Finer grids get proportionally more node-space smoothing
	// so the smoothing footprint in pixels stays constant.
	smoothReferenceStep = 64
)

// cubicWeightLUT holds Catmull-Rom weights for the four support nodes at
// cubicLUTSize quantized fractional positions.
var cubicWeightLUT = precomputeCubicWeights()

func precomputeCubicWeights() []float64 {
	lut := make([]float64, cubicLUTSize*4)
	for i := 0; i < cubicLUTSize; i++ {
		t := float64(i) / (cubicLUTSize - 1)
		for offset := 0; offset < 4; offset++ {
			lut[i*4+offset] = cubicWeight(math.Abs(t - float64(offset-1)))
		}
	}
	return lut
}

func cubicWeight(t float64) float64 {
	const a = -0.5
	switch {
	case t <= 1:
		return (a+2)*t*t*t - (a+3)*t*t + 1
	case t < 2:
		return a*t*t*t - 5*a*t*t + 8*a*t - 4*a
	default:
		return 0
	}
}

// FilterStats summarizes what FilterAndSmooth did to a grid.
type FilterStats struct {
	GlobalOutliers int // nodes rejected by the global magnitude filter
	LocalOutliers  int // nodes rejected by the windowed component filter
	Filled         int // rejected or unsampled nodes reconstructed by gap fill
	Unfilled       int // nodes with no sampled neighbor in range, forced to zero
}

// DistortionGrid is a regular grid of displacement vectors over a frame,
// one node every step pixels, with continuous bicubic evaluation between
// nodes. Nodes carry a sampled flag so robust filtering can reject
// measurements and gap filling can reconstruct them.
type DistortionGrid struct {
	width    int
	height   int
	tileSize int
	step     int
	gridW    int
	gridH    int
	dx       []float32
	dy       []float32
	sampled  []bool
}

// NewDistortionGrid creates an all-zero, all-unsampled grid covering a
// width×height frame with the given tile size and node spacing.
func NewDistortionGrid(width, height, tileSize, step int) *DistortionGrid {
	gridW := (width+step-1)/step + 1
	gridH := (height+step-1)/step + 1
	return &DistortionGrid{
		width:    width,
		height:   height,
		tileSize: tileSize,
		step:     step,
		gridW:    gridW,
		gridH:    gridH,
		dx:       make([]float32, gridW*gridH),
		dy:       make([]float32, gridW*gridH),
		sampled:  make([]bool, gridW*gridH),
	}
}

// Step returns the node spacing in pixels.
func (g *DistortionGrid) Step() int { return g.step }

// TileSize returns the correlation tile size the grid was built with.
func (g *DistortionGrid) TileSize() int { return g.tileSize }

// GridSize returns the node grid dimensions.
func (g *DistortionGrid) GridSize() (int, int) { return g.gridW, g.gridH }

// Bounds returns the pixel dimensions of the covered frame.
func (g *DistortionGrid) Bounds() (int, int) { return g.width, g.height }

// RecordDisplacement stores a measured displacement at the grid node
// nearest to the tile center (x, y), in pixels, and marks it sampled.
func (g *DistortionGrid) RecordDisplacement(x, y int, d geometry.Vec2D) {
	offset := g.tileSize / 2
	gx := int(math.Round(float64(x-offset) / float64(g.step)))
	gy := int(math.Round(float64(y-offset) / float64(g.step)))
	if gx < 0 || gx >= g.gridW || gy < 0 || gy >= g.gridH {
		return
	}
	i := gy*g.gridW + gx
	g.dx[i] = float32(d.DX)
	g.dy[i] = float32(d.DY)
	g.sampled[i] = true
}

// NodeDisplacement returns the raw displacement stored at a grid node.
func (g *DistortionGrid) NodeDisplacement(gx, gy int) geometry.Vec2D {
	i := gy*g.gridW + gx
	return geometry.NewVec2D(float64(g.dx[i]), float64(g.dy[i]))
}

// DisplacementAt evaluates the field at an arbitrary pixel position using
// bicubic interpolation over the 4×4 surrounding nodes. Positions outside
// the node lattice resolve to the zero displacement.
func (g *DistortionGrid) DisplacementAt(x, y float64) geometry.Vec2D {
	ax := x / float64(g.step)
	ay := y / float64(g.step)
	if ax < 0 || ax >= float64(g.gridW-1) || ay < 0 || ay >= float64(g.gridH-1) {
		return geometry.Vec2D{}
	}
	x0 := int(math.Floor(ax))
	y0 := int(math.Floor(ay))
	fxIdx := int((ax - float64(x0)) * (cubicLUTSize - 1))
	fyIdx := int((ay - float64(y0)) * (cubicLUTSize - 1))

	var sumX, sumY float64
	for i := 0; i < 4; i++ {
		yi := clampInt(y0-1+i, 0, g.gridH-1)
		wy := cubicWeightLUT[fyIdx*4+i]
		row := yi * g.gridW
		for j := 0; j < 4; j++ {
			xi := clampInt(x0-1+j, 0, g.gridW-1)
			w := cubicWeightLUT[fxIdx*4+j] * wy
			sumX += float64(g.dx[row+xi]) * w
			sumY += float64(g.dy[row+xi]) * w
		}
	}
	return geometry.NewVec2D(sumX, sumY)
}

// TotalDistortion returns the sum of displacement magnitudes over all
// nodes, the scalar the refinement loop uses to compare candidate fields.
func (g *DistortionGrid) TotalDistortion() float64 {
	var total float64
	for i := range g.dx {
		total += math.Hypot(float64(g.dx[i]), float64(g.dy[i]))
	}
	return total
}

// Negate flips every displacement in place.
func (g *DistortionGrid) Negate() {
	for i := range g.dx {
		g.dx[i] = -g.dx[i]
		g.dy[i] = -g.dy[i]
	}
}

// FilterAndSmooth runs the robust cleanup pipeline in place: a global
// magnitude filter and a windowed per-component filter both reject nodes
// as unsampled, gap filling reconstructs every unsampled node from its
// neighbors, and a Gaussian pass smooths the result. baseSigma is the
// smoothing sigma at a step of 64 pixels.
func (g *DistortionGrid) FilterAndSmooth(baseSigma float64) FilterStats {
	var stats FilterStats
	stats.GlobalOutliers = g.globalMADFilter()
	stats.LocalOutliers = g.localMADFilter()
	stats.Filled, stats.Unfilled = g.fillGaps()
	g.gaussianSmooth(baseSigma * float64(g.step) / smoothReferenceStep)
	return stats
}

// globalMADFilter unsamples nodes whose displacement magnitude is a
// global outlier across the whole grid.
func (g *DistortionGrid) globalMADFilter() int {
	mags := make([]float64, 0, len(g.dx))
	for i := range g.dx {
		if g.sampled[i] {
			mags = append(mags, math.Hypot(float64(g.dx[i]), float64(g.dy[i])))
		}
	}
	if len(mags) < 3 {
		return 0
	}
	med := median(mags)
	devs := make([]float64, len(mags))
	for i, m := range mags {
		devs[i] = math.Abs(m - med)
	}
	mad := math.Max(median(devs)*madScale, madFloor)

	rejected := 0
	for i := range g.dx {
		if !g.sampled[i] {
			continue
		}
		m := math.Hypot(float64(g.dx[i]), float64(g.dy[i]))
		if math.Abs(m-med) > madThreshold*mad {
			g.sampled[i] = false
			rejected++
		}
	}
	return rejected
}

// localMADFilter unsamples nodes that deviate from the median of their
// 5×5 neighborhood in either component. All decisions are made against a
// snapshot of the sampled flags so rejection order does not matter.
func (g *DistortionGrid) localMADFilter() int {
	const halfWindow = 2
	wasSampled := make([]bool, len(g.sampled))
	copy(wasSampled, g.sampled)

	maxNeighbors := (2*halfWindow + 1) * (2*halfWindow + 1)
	nx := make([]float64, 0, maxNeighbors)
	ny := make([]float64, 0, maxNeighbors)
	devs := make([]float64, 0, maxNeighbors)

	rejected := 0
	for gy := 0; gy < g.gridH; gy++ {
		for gx := 0; gx < g.gridW; gx++ {
			i := gy*g.gridW + gx
			if !wasSampled[i] {
				continue
			}
			nx = nx[:0]
			ny = ny[:0]
			for wy := gy - halfWindow; wy <= gy+halfWindow; wy++ {
				if wy < 0 || wy >= g.gridH {
					continue
				}
				for wx := gx - halfWindow; wx <= gx+halfWindow; wx++ {
					if wx < 0 || wx >= g.gridW || (wx == gx && wy == gy) {
						continue
					}
					j := wy*g.gridW + wx
					if !wasSampled[j] {
						continue
					}
					nx = append(nx, float64(g.dx[j]))
					ny = append(ny, float64(g.dy[j]))
				}
			}
			if len(nx) < 3 {
				continue
			}
			if isComponentOutlier(float64(g.dx[i]), nx, &devs) ||
				isComponentOutlier(float64(g.dy[i]), ny, &devs) {
				g.sampled[i] = false
				rejected++
			}
		}
	}
	return rejected
}

func isComponentOutlier(value float64, neighbors []float64, scratch *[]float64) bool {
	med := median(neighbors)
	devs := (*scratch)[:0]
	for _, v := range neighbors {
		devs = append(devs, math.Abs(v-med))
	}
	*scratch = devs
	mad := math.Max(median(devs)*madScale, madFloor)
	return math.Abs(value-med) > madThreshold*mad
}

// fillGaps reconstructs every unsampled node by inverse-distance-squared
// weighting over sampled neighbors within gapFillRadius. Nodes with no
// sampled neighbor in range are forced to zero and reported as unfilled.
func (g *DistortionGrid) fillGaps() (filled, unfilled int) {
	wasSampled := make([]bool, len(g.sampled))
	copy(wasSampled, g.sampled)

	for gy := 0; gy < g.gridH; gy++ {
		for gx := 0; gx < g.gridW; gx++ {
			i := gy*g.gridW + gx
			if wasSampled[i] {
				continue
			}
			var sumX, sumY, weightSum float64
			for dy := -gapFillRadius; dy <= gapFillRadius; dy++ {
				wy := gy + dy
				if wy < 0 || wy >= g.gridH {
					continue
				}
				for dx := -gapFillRadius; dx <= gapFillRadius; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					wx := gx + dx
					if wx < 0 || wx >= g.gridW {
						continue
					}
					j := wy*g.gridW + wx
					if !wasSampled[j] {
						continue
					}
					w := 1.0 / float64(dx*dx+dy*dy)
					sumX += float64(g.dx[j]) * w
					sumY += float64(g.dy[j]) * w
					weightSum += w
				}
			}
			if weightSum > 0 {
				g.dx[i] = float32(sumX / weightSum)
				g.dy[i] = float32(sumY / weightSum)
				g.sampled[i] = true
				filled++
			} else {
				g.dx[i] = 0
				g.dy[i] = 0
				unfilled++
			}
		}
	}
	return filled, unfilled
}

// gaussianSmooth applies separable Gaussian smoothing in node space, with
// kernels renormalized at the grid edges.
func (g *DistortionGrid) gaussianSmooth(sigma float64) {
	if sigma <= 0 {
		return
	}
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	twoSigmaSq := 2 * sigma * sigma
	for k := -radius; k <= radius; k++ {
		kernel[k+radius] = math.Exp(-float64(k*k) / twoSigmaSq)
	}

	tmpX := make([]float32, len(g.dx))
	tmpY := make([]float32, len(g.dy))
	for gy := 0; gy < g.gridH; gy++ {
		row := gy * g.gridW
		for gx := 0; gx < g.gridW; gx++ {
			var sumX, sumY, weightSum float64
			for k := -radius; k <= radius; k++ {
				nx := gx + k
				if nx < 0 || nx >= g.gridW {
					continue
				}
				w := kernel[k+radius]
				sumX += float64(g.dx[row+nx]) * w
				sumY += float64(g.dy[row+nx]) * w
				weightSum += w
			}
			tmpX[row+gx] = float32(sumX / weightSum)
			tmpY[row+gx] = float32(sumY / weightSum)
		}
	}
	for gy := 0; gy < g.gridH; gy++ {
		for gx := 0; gx < g.gridW; gx++ {
			var sumX, sumY, weightSum float64
			for k := -radius; k <= radius; k++ {
				ny := gy + k
				if ny < 0 || ny >= g.gridH {
					continue
				}
				w := kernel[k+radius]
				sumX += float64(tmpX[ny*g.gridW+gx]) * w
				sumY += float64(tmpY[ny*g.gridW+gx]) * w
				weightSum += w
			}
			i := gy*g.gridW + gx
			g.dx[i] = float32(sumX / weightSum)
			g.dy[i] = float32(sumY / weightSum)
		}
	}
}

// AverageGrids returns the node-wise mean of grids sharing one geometry.
func AverageGrids(grids []*DistortionGrid) (*DistortionGrid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("no grids to average")
	}
	first := grids[0]
	out := NewDistortionGrid(first.width, first.height, first.tileSize, first.step)
	for _, g := range grids {
		if g.gridW != first.gridW || g.gridH != first.gridH || g.step != first.step {
			return nil, fmt.Errorf("grid geometry mismatch: %dx%d step %d vs %dx%d step %d",
				g.gridW, g.gridH, g.step, first.gridW, first.gridH, first.step)
		}
	}
	n := float32(len(grids))
	for i := range out.dx {
		var sumX, sumY float32
		for _, g := range grids {
			sumX += g.dx[i]
			sumY += g.dy[i]
		}
		out.dx[i] = sumX / n
		out.dy[i] = sumY / n
		out.sampled[i] = true
	}
	return out, nil
}

// SynthesizeGrids combines several displacement fields over the same frame
// into a single grid by summing their bicubic evaluations at each node of
// the finest input lattice. Used to collapse per-level and per-iteration
// fields into one map.
func SynthesizeGrids(grids []*DistortionGrid, width, height int) (*DistortionGrid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("no grids to synthesize")
	}
	step := grids[0].step
	tileSize := grids[0].tileSize
	for _, g := range grids[1:] {
		if g.step < step {
			step = g.step
		}
		if g.tileSize < tileSize {
			tileSize = g.tileSize
		}
	}
	out := NewDistortionGrid(width, height, tileSize, step)
	for gy := 0; gy < out.gridH; gy++ {
		py := float64(gy * step)
		for gx := 0; gx < out.gridW; gx++ {
			px := float64(gx * step)
			var sum geometry.Vec2D
			for _, g := range grids {
				sum = sum.Add(g.DisplacementAt(px, py))
			}
			i := gy*out.gridW + gx
			out.dx[i] = float32(sum.DX)
			out.dy[i] = float32(sum.DY)
			out.sampled[i] = true
		}
	}
	return out, nil
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
