package register

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"frame-align/pkg/geometry"
)

// InterpolationMethod selects how a sparse field blends its neighbor
// samples when queried between sample positions.
type InterpolationMethod int

const (
	// InterpIDW weights neighbors by inverse distance to a power.
	InterpIDW InterpolationMethod = iota
	// InterpGaussianRBF weights neighbors with a Gaussian radial basis
	// function, optionally widened for samples measured on larger tiles.
	InterpGaussianRBF
	// InterpThinPlate weights neighbors with the thin-plate kernel
	// r²·log(r), which stays C¹ continuous across the field.
	InterpThinPlate
)

const (
	defaultNeighborsK = 8
	defaultRBFEpsilon = 0.01
	defaultIDWPower   = 2.0
)

// fieldSample is a displacement measurement at an arbitrary pixel
// position, tagged with the tile size it was measured on.
type fieldSample struct {
	x, y     float64
	d        geometry.Vec2D
	tileSize int
}

// fieldPoint adapts a sample index into gonum's kd-tree Comparable.
type fieldPoint struct {
	x, y float64
	idx  int
}

func (p fieldPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(fieldPoint)
	if d == 0 {
		return p.x - q.x
	}
	return p.y - q.y
}

func (p fieldPoint) Dims() int { return 2 }

func (p fieldPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(fieldPoint)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

type fieldPoints []fieldPoint

func (p fieldPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p fieldPoints) Len() int                      { return len(p) }
func (p fieldPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p fieldPoints) Pivot(d kdtree.Dim) int {
	return fieldPlane{Dim: d, fieldPoints: p}.Pivot()
}

type fieldPlane struct {
	kdtree.Dim
	fieldPoints
}

func (p fieldPlane) Less(i, j int) bool {
	if p.Dim == 0 {
		return p.fieldPoints[i].x < p.fieldPoints[j].x
	}
	return p.fieldPoints[i].y < p.fieldPoints[j].y
}
func (p fieldPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p fieldPlane) Slice(start, end int) kdtree.SortSlicer {
	return fieldPlane{Dim: p.Dim, fieldPoints: p.fieldPoints[start:end]}
}
func (p fieldPlane) Swap(i, j int) {
	p.fieldPoints[i], p.fieldPoints[j] = p.fieldPoints[j], p.fieldPoints[i]
}

// SparseDistortionField stores displacement samples at arbitrary
// positions and interpolates between them with k-nearest-neighbor radial
// basis weighting. It complements DistortionGrid for interest-point
// sampling, where measurements cluster in detailed regions instead of
// covering a regular lattice.
type SparseDistortionField struct {
	samples      []fieldSample
	tree         *kdtree.Tree
	width        int
	height       int
	neighborsK   int
	rbfEpsilon   float64
	idwPower     float64
	method       InterpolationMethod
	baseTileSize int
	tileWeighted bool
}

// SparseFieldOptions configures sparse field interpolation. The zero
// value selects Gaussian RBF with the package defaults.
type SparseFieldOptions struct {
	Method       InterpolationMethod
	NeighborsK   int     // neighbors per query; 0 means 8
	RBFEpsilon   float64 // Gaussian shape parameter; 0 means 0.01
	IDWPower     float64 // IDW exponent; 0 means 2
	BaseTileSize int     // reference tile size for tile weighting
	TileWeighted bool    // widen influence of samples from larger tiles
}

// NewSparseDistortionField builds a field over a width×height frame from
// per-position measurements. The three slices must have equal length;
// tileSizes may be nil when all samples share the base tile size.
func NewSparseDistortionField(width, height int, xs, ys []float64, ds []geometry.Vec2D, tileSizes []int, opts SparseFieldOptions) (*SparseDistortionField, error) {
	if len(xs) != len(ys) || len(xs) != len(ds) {
		return nil, fmt.Errorf("sample slice lengths differ: %d/%d/%d", len(xs), len(ys), len(ds))
	}
	if tileSizes != nil && len(tileSizes) != len(xs) {
		return nil, fmt.Errorf("tile size count %d does not match %d samples", len(tileSizes), len(xs))
	}
	if opts.NeighborsK <= 0 {
		opts.NeighborsK = defaultNeighborsK
	}
	if opts.RBFEpsilon <= 0 {
		opts.RBFEpsilon = defaultRBFEpsilon
	}
	if opts.IDWPower <= 0 {
		opts.IDWPower = defaultIDWPower
	}
	if opts.BaseTileSize <= 0 {
		opts.BaseTileSize = MinTileSize
	}

	samples := make([]fieldSample, len(xs))
	points := make(fieldPoints, len(xs))
	for i := range xs {
		ts := opts.BaseTileSize
		if tileSizes != nil {
			ts = tileSizes[i]
		}
		samples[i] = fieldSample{x: xs[i], y: ys[i], d: ds[i], tileSize: ts}
		points[i] = fieldPoint{x: xs[i], y: ys[i], idx: i}
	}
	var tree *kdtree.Tree
	if len(points) > 0 {
		tree = kdtree.New(points, false)
	}
	return &SparseDistortionField{
		samples:      samples,
		tree:         tree,
		width:        width,
		height:       height,
		neighborsK:   opts.NeighborsK,
		rbfEpsilon:   opts.RBFEpsilon,
		idwPower:     opts.IDWPower,
		method:       opts.Method,
		baseTileSize: opts.BaseTileSize,
		tileWeighted: opts.TileWeighted,
	}, nil
}

// SampleCount returns the number of stored measurements.
func (f *SparseDistortionField) SampleCount() int { return len(f.samples) }

// TotalDistortion returns the sum of sample displacement magnitudes.
func (f *SparseDistortionField) TotalDistortion() float64 {
	var total float64
	for _, s := range f.samples {
		total += s.d.Magnitude()
	}
	return total
}

// Bounds returns the pixel dimensions of the covered frame.
func (f *SparseDistortionField) Bounds() (int, int) { return f.width, f.height }

// DisplacementAt interpolates the field at an arbitrary pixel position
// from its k nearest samples. An empty field resolves to zero.
func (f *SparseDistortionField) DisplacementAt(x, y float64) geometry.Vec2D {
	if len(f.samples) == 0 {
		return geometry.Vec2D{}
	}
	keep := kdtree.NewNKeeper(f.neighborsK)
	f.tree.NearestSet(keep, fieldPoint{x: x, y: y, idx: -1})

	var sumX, sumY, weightSum float64
	for _, cd := range keep.Heap {
		fp, ok := cd.Comparable.(fieldPoint)
		if !ok {
			continue
		}
		s := f.samples[fp.idx]
		distSq := cd.Dist
		if distSq < 1e-10 {
			return s.d
		}
		var w float64
		switch f.method {
		case InterpIDW:
			w = 1.0 / math.Pow(math.Sqrt(distSq), f.idwPower)
		case InterpGaussianRBF:
			eps := f.rbfEpsilon
			if f.tileWeighted {
				eps /= float64(s.tileSize) / float64(f.baseTileSize)
			}
			w = math.Exp(-eps * eps * distSq)
		case InterpThinPlate:
			r := math.Sqrt(distSq)
			w = distSq * math.Log(r)
			if w < 0 {
				w = -w
			}
		}
		sumX += w * s.d.DX
		sumY += w * s.d.DY
		weightSum += w
	}
	if weightSum < 1e-10 {
		return geometry.Vec2D{}
	}
	return geometry.NewVec2D(sumX/weightSum, sumY/weightSum)
}

// ToGrid resamples the sparse field onto a regular lattice so it can be
// fed through the same filtering and warping paths as grid-based fields.
func (f *SparseDistortionField) ToGrid(tileSize, step int) *DistortionGrid {
	grid := NewDistortionGrid(f.width, f.height, tileSize, step)
	for gy := 0; gy < grid.gridH; gy++ {
		for gx := 0; gx < grid.gridW; gx++ {
			d := f.DisplacementAt(float64(gx*step), float64(gy*step))
			i := gy*grid.gridW + gx
			grid.dx[i] = float32(d.DX)
			grid.dy[i] = float32(d.DY)
			grid.sampled[i] = true
		}
	}
	return grid
}
