package register

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"frame-align/pkg/geometry"
)

// TrendFit is the global affine component of a displacement field, with
// the residual left after removing it. A large affine trend indicates the
// frames disagree on more than local distortion (drift, rotation, scale),
// which callers may want to correct separately or report.
type TrendFit struct {
	Transform    geometry.AffineTransform
	ResidualRMS  float64 // RMS of node displacements after removing the trend
	NodesSampled int
}

// FitAffineTrend fits an affine transform to the grid's node
// displacements by least squares: each node at pixel position p with
// displacement d contributes the correspondence p -> p+d. At least three
// non-collinear nodes are required.
func FitAffineTrend(grid *DistortionGrid) (TrendFit, error) {
	gridW, gridH := grid.GridSize()
	var src, dst []geometry.Point2D
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			if !grid.sampled[gy*gridW+gx] {
				continue
			}
			p := geometry.NewPoint2D(float64(gx*grid.step), float64(gy*grid.step))
			d := grid.NodeDisplacement(gx, gy)
			src = append(src, p)
			dst = append(dst, p.Add(d))
		}
	}
	n := len(src)
	if n < 3 {
		return TrendFit{}, fmt.Errorf("need at least 3 sampled nodes, got %d", n)
	}

	a := mat.NewDense(n*2, 6, nil)
	b := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		a.Set(i*2, 0, x)
		a.Set(i*2, 1, y)
		a.Set(i*2, 2, 1)
		b.SetVec(i*2, dst[i].X)

		a.Set(i*2+1, 3, x)
		a.Set(i*2+1, 4, y)
		a.Set(i*2+1, 5, 1)
		b.SetVec(i*2+1, dst[i].Y)
	}

	var qr mat.QR
	qr.Factorize(a)
	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, b); err != nil {
		return TrendFit{}, fmt.Errorf("solving affine trend: %w", err)
	}

	t := geometry.AffineTransform{
		A: params.AtVec(0), B: params.AtVec(1), TX: params.AtVec(2),
		C: params.AtVec(3), D: params.AtVec(4), TY: params.AtVec(5),
	}

	var residualSq float64
	for i := 0; i < n; i++ {
		mapped := t.Apply(src[i])
		dx := dst[i].X - mapped.X
		dy := dst[i].Y - mapped.Y
		residualSq += dx*dx + dy*dy
	}

	return TrendFit{
		Transform:    t,
		ResidualRMS:  math.Sqrt(residualSq / float64(n)),
		NodesSampled: n,
	}, nil
}
