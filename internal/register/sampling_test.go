package register

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"frame-align/internal/frame"
)

func TestGridSamplingCoversFrame(t *testing.T) {
	ref := patternFrame(128, 96)
	pos := GridSampling{Sampling: 0.5}.SelectPositions(ref, 32, 0)

	require.Greater(t, pos.Count(), 0)
	for i := 0; i < pos.Count(); i++ {
		require.GreaterOrEqual(t, pos.X[i], 16)
		require.LessOrEqual(t, pos.X[i], 128-16)
		require.GreaterOrEqual(t, pos.Y[i], 16)
		require.LessOrEqual(t, pos.Y[i], 96-16)
		require.Equal(t, 32, pos.TileSize[i])
	}
	// Lattice spacing is tileSize*sampling = 16.
	require.Equal(t, 16, pos.X[1]-pos.X[0])
}

func TestGridSamplingSignalGate(t *testing.T) {
	dark := frame.New(128, 128)
	pos := GridSampling{Sampling: 0.5}.SelectPositions(dark, 32, 0.5)
	require.Equal(t, 0, pos.Count())
}

func TestInterestPointSamplingFindsStructure(t *testing.T) {
	ref := frame.New(128, 128)
	// Bright blobs at known spots; everything else flat.
	blobs := [][2]int{{40, 40}, {90, 60}, {60, 100}}
	for _, b := range blobs {
		for dy := -3; dy <= 3; dy++ {
			for dx := -3; dx <= 3; dx++ {
				v := 50000 * math.Exp(-float64(dx*dx+dy*dy)/4)
				ref.Set(b[0]+dx, b[1]+dy, float32(v))
			}
		}
	}

	pos := InterestPointSampling{}.SelectPositions(ref, 32, 0)
	require.Greater(t, pos.Count(), 0)

	// All positions keep the tile inside the frame and respect spacing.
	minSpacingSq := 16 * 16
	for i := 0; i < pos.Count(); i++ {
		require.GreaterOrEqual(t, pos.X[i], 16)
		require.Less(t, pos.X[i], 128-16)
		require.GreaterOrEqual(t, pos.Y[i], 16)
		require.Less(t, pos.Y[i], 128-16)
		for j := 0; j < i; j++ {
			dx := pos.X[i] - pos.X[j]
			dy := pos.Y[i] - pos.Y[j]
			require.GreaterOrEqual(t, dx*dx+dy*dy, minSpacingSq)
		}
	}

	// Every selected position sits near one of the blobs.
	for i := 0; i < pos.Count(); i++ {
		near := false
		for _, b := range blobs {
			dx := pos.X[i] - b[0]
			dy := pos.Y[i] - b[1]
			if dx*dx+dy*dy <= 8*8 {
				near = true
				break
			}
		}
		require.True(t, near, "position (%d,%d) far from any blob", pos.X[i], pos.Y[i])
	}
}

func TestInterestPointSamplingMultiscaleTileSizes(t *testing.T) {
	ref := patternFrame(256, 256)
	pos := InterestPointSampling{Multiscale: true}.SelectPositions(ref, 64, 0)
	require.Greater(t, pos.Count(), 0)
	for i := 0; i < pos.Count(); i++ {
		require.Contains(t, []int{128, 64, 32}, pos.TileSize[i])
	}
}

func TestGradientMagnitudeFlatIsZero(t *testing.T) {
	flat := frame.New(32, 32)
	for i := range flat.Samples {
		flat.Samples[i] = 1000
	}
	g := gradientMagnitude(flat)
	for _, v := range g.Samples {
		require.Zero(t, v)
	}
}

func TestBuildSparseFieldRecoversShift(t *testing.T) {
	ref := patternFrame(128, 128)
	g := NewDistortionGrid(128, 128, 32, 16)
	fillConstant(g, 2, -1)
	shifted, err := Warp(context.Background(), ref, g, 0)
	require.NoError(t, err)

	engine := testEngine(t, DefaultOptions(), nil)
	field, err := engine.BuildSparseField(context.Background(), ref, shifted,
		GridSampling{Sampling: 0.5}, SparseFieldOptions{Method: InterpIDW})
	require.NoError(t, err)
	require.Greater(t, field.SampleCount(), 0)

	// The field holds the correction, the negated shift.
	d := field.DisplacementAt(64, 64)
	require.InDelta(t, -2, d.DX, 0.3)
	require.InDelta(t, 1, d.DY, 0.3)
}

func TestBuildSparseFieldSizeMismatch(t *testing.T) {
	engine := testEngine(t, DefaultOptions(), nil)
	_, err := engine.BuildSparseField(context.Background(), patternFrame(64, 64), patternFrame(32, 64),
		GridSampling{Sampling: 0.5}, SparseFieldOptions{})
	require.Error(t, err)
}
