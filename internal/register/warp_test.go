package register

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"frame-align/internal/frame"
)

func patternFrame(width, height int) *frame.Image {
	im := frame.New(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			im.Set(x, y, testPattern(float64(x), float64(y)))
		}
	}
	return im
}

func TestWarpZeroFieldIsIdentity(t *testing.T) {
	src := patternFrame(64, 64)
	g := NewDistortionGrid(64, 64, 32, 16)
	fillConstant(g, 0, 0)

	out, err := Warp(context.Background(), src, g, 2)
	require.NoError(t, err)
	for i := range src.Samples {
		require.InDelta(t, float64(src.Samples[i]), float64(out.Samples[i]), 1e-3)
	}
}

func TestWarpConstantShiftTranslatesContent(t *testing.T) {
	src := patternFrame(64, 64)
	g := NewDistortionGrid(64, 64, 32, 8)
	fillConstant(g, 3, 2)

	out, err := Warp(context.Background(), src, g, 0)
	require.NoError(t, err)
	// Away from edges, out(x, y) = src(x+3, y+2) exactly at integer shifts.
	for y := 8; y < 48; y++ {
		for x := 8; x < 48; x++ {
			require.InDelta(t, float64(src.At(x+3, y+2)), float64(out.At(x, y)), 1e-2,
				"pixel (%d,%d)", x, y)
		}
	}
}

func TestWarpFastMatchesWarpAtIntegerShifts(t *testing.T) {
	src := patternFrame(64, 64)
	g := NewDistortionGrid(64, 64, 32, 8)
	fillConstant(g, 3, 2)

	fast, err := warpFast(context.Background(), src, g, 0)
	require.NoError(t, err)
	for y := 8; y < 48; y++ {
		for x := 8; x < 48; x++ {
			require.InDelta(t, float64(src.At(x+3, y+2)), float64(fast.At(x, y)), 1e-2,
				"pixel (%d,%d)", x, y)
		}
	}
}

func TestWarpSizeMismatch(t *testing.T) {
	src := patternFrame(64, 32)
	g := NewDistortionGrid(64, 64, 32, 16)
	_, err := Warp(context.Background(), src, g, 1)
	require.Error(t, err)
}

func TestWarpHonorsCancellation(t *testing.T) {
	src := patternFrame(64, 64)
	g := NewDistortionGrid(64, 64, 32, 16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Warp(ctx, src, g, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBicubicSampleAtIntegerPositions(t *testing.T) {
	im := patternFrame(16, 16)
	require.InDelta(t, float64(im.At(7, 9)), float64(bicubicSample(im, 7, 9)), 1e-4)
}

func TestBilinearSampleMidpoint(t *testing.T) {
	im := frame.New(2, 1)
	im.Set(0, 0, 10)
	im.Set(1, 0, 20)
	require.InDelta(t, 15, float64(bilinearSample(im, 0.5, 0)), 1e-6)
}
