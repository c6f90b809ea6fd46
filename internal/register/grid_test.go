package register

import (
	"testing"

	"github.com/stretchr/testify/require"

	"frame-align/pkg/geometry"
)

// fillConstant samples every node of the grid with the same displacement.
func fillConstant(g *DistortionGrid, dx, dy float64) {
	for i := range g.dx {
		g.dx[i] = float32(dx)
		g.dy[i] = float32(dy)
		g.sampled[i] = true
	}
}

func TestRecordDisplacementAddressesNearestNode(t *testing.T) {
	g := NewDistortionGrid(128, 128, 32, 16)
	g.RecordDisplacement(16+2*16, 16+3*16, geometry.NewVec2D(1.5, -0.5))
	d := g.NodeDisplacement(2, 3)
	require.InDelta(t, 1.5, d.DX, 1e-6)
	require.InDelta(t, -0.5, d.DY, 1e-6)
	require.True(t, g.sampled[3*g.gridW+2])
}

func TestDisplacementAtReproducesInteriorNodes(t *testing.T) {
	g := NewDistortionGrid(128, 128, 32, 16)
	fillConstant(g, 0, 0)
	g.dx[3*g.gridW+3] = 2
	g.dy[3*g.gridW+3] = -1

	d := g.DisplacementAt(3*16, 3*16)
	require.InDelta(t, 2, d.DX, 1e-9)
	require.InDelta(t, -1, d.DY, 1e-9)
}

func TestDisplacementAtOutsideLatticeIsZero(t *testing.T) {
	g := NewDistortionGrid(64, 64, 32, 16)
	fillConstant(g, 5, 5)
	require.Equal(t, geometry.Vec2D{}, g.DisplacementAt(-1, 10))
	require.Equal(t, geometry.Vec2D{}, g.DisplacementAt(10, 1e6))
}

func TestTotalDistortionAndNegate(t *testing.T) {
	g := NewDistortionGrid(64, 64, 32, 32)
	fillConstant(g, 3, 4)
	nodes := g.gridW * g.gridH
	require.InDelta(t, float64(nodes)*5, g.TotalDistortion(), 1e-6)
	g.Negate()
	require.InDelta(t, float64(nodes)*5, g.TotalDistortion(), 1e-6)
	d := g.NodeDisplacement(1, 1)
	require.InDelta(t, -3, d.DX, 1e-6)
}

func TestGlobalMADFilterRejectsMagnitudeOutlier(t *testing.T) {
	g := NewDistortionGrid(256, 256, 32, 16)
	fillConstant(g, 1, 0)
	g.dx[5*g.gridW+5] = 30

	rejected := g.globalMADFilter()
	require.Equal(t, 1, rejected)
	require.False(t, g.sampled[5*g.gridW+5])
}

func TestLocalMADFilterRejectsNeighborhoodOutlier(t *testing.T) {
	g := NewDistortionGrid(256, 256, 32, 16)
	fillConstant(g, 0.5, 0.5)
	g.dy[4*g.gridW+4] = 20

	rejected := g.localMADFilter()
	require.Equal(t, 1, rejected)
	require.False(t, g.sampled[4*g.gridW+4])
}

func TestFillGapsInterpolatesAndReportsUnreachable(t *testing.T) {
	g := NewDistortionGrid(256, 256, 32, 16)
	// Sample only the top-left 4x4 block; one hole inside it, and the
	// far corner has no sampled node within the search radius.
	for gy := 0; gy < 4; gy++ {
		for gx := 0; gx < 4; gx++ {
			i := gy*g.gridW + gx
			g.dx[i] = 2
			g.dy[i] = -1
			g.sampled[i] = true
		}
	}
	hole := 1*g.gridW + 1
	g.sampled[hole] = false
	g.dx[hole] = 0
	g.dy[hole] = 0

	filled, unfilled := g.fillGaps()
	require.Greater(t, filled, 0)
	require.Greater(t, unfilled, 0)
	require.InDelta(t, 2, float64(g.dx[hole]), 1e-5)
	require.InDelta(t, -1, float64(g.dy[hole]), 1e-5)

	far := (g.gridH-1)*g.gridW + (g.gridW - 1)
	require.Equal(t, float32(0), g.dx[far])
	require.False(t, g.sampled[far])
}

func TestFilterAndSmoothPreservesConstantField(t *testing.T) {
	g := NewDistortionGrid(256, 256, 32, 16)
	fillConstant(g, 1.5, -0.75)
	stats := g.FilterAndSmooth(1.5)
	require.Equal(t, 0, stats.GlobalOutliers)
	require.Equal(t, 0, stats.LocalOutliers)
	require.Equal(t, 0, stats.Unfilled)

	d := g.DisplacementAt(100, 100)
	require.InDelta(t, 1.5, d.DX, 1e-4)
	require.InDelta(t, -0.75, d.DY, 1e-4)
}

func TestAverageGrids(t *testing.T) {
	a := NewDistortionGrid(64, 64, 32, 16)
	b := NewDistortionGrid(64, 64, 32, 16)
	fillConstant(a, 2, 4)
	fillConstant(b, 4, -2)

	avg, err := AverageGrids([]*DistortionGrid{a, b})
	require.NoError(t, err)
	d := avg.NodeDisplacement(1, 1)
	require.InDelta(t, 3, d.DX, 1e-6)
	require.InDelta(t, 1, d.DY, 1e-6)

	c := NewDistortionGrid(64, 64, 32, 8)
	_, err = AverageGrids([]*DistortionGrid{a, c})
	require.Error(t, err)
}

func TestSynthesizeGridsSumsFields(t *testing.T) {
	a := NewDistortionGrid(128, 128, 64, 32)
	b := NewDistortionGrid(128, 128, 32, 16)
	fillConstant(a, 1, 0)
	fillConstant(b, 0.5, 0.25)

	sum, err := SynthesizeGrids([]*DistortionGrid{a, b}, 128, 128)
	require.NoError(t, err)
	require.Equal(t, 16, sum.Step())

	// Interior node well inside both lattices.
	d := sum.DisplacementAt(64, 64)
	require.InDelta(t, 1.5, d.DX, 1e-3)
	require.InDelta(t, 0.25, d.DY, 1e-3)

	_, err = SynthesizeGrids(nil, 128, 128)
	require.Error(t, err)
}
