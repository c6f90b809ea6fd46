package register

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"frame-align/internal/frame"
)

func naiveAreaSum(im *frame.Image, x, y, w, h int) float64 {
	var sum float64
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			if xx >= 0 && xx < im.Width && yy >= 0 && yy < im.Height {
				sum += float64(im.At(xx, yy))
			}
		}
	}
	return sum
}

func TestIntegralImageMatchesNaiveSums(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	im := frame.New(37, 23)
	for i := range im.Samples {
		im.Samples[i] = rng.Float32() * 1000
	}
	ii := NewIntegralImage(im)

	cases := []struct{ x, y, w, h int }{
		{0, 0, 37, 23},
		{0, 0, 1, 1},
		{5, 7, 10, 9},
		{30, 18, 7, 5},   // clipped at right and bottom
		{36, 22, 10, 10}, // almost entirely outside
	}
	for _, c := range cases {
		want := naiveAreaSum(im, c.x, c.y, c.w, c.h)
		got := ii.AreaSum(c.x, c.y, c.w, c.h)
		require.InDelta(t, want, got, 1e-4, "area (%d,%d)+%dx%d", c.x, c.y, c.w, c.h)
	}
}

func TestAreaAverageDividesByRequestedArea(t *testing.T) {
	im := frame.New(8, 8)
	for i := range im.Samples {
		im.Samples[i] = 2
	}
	ii := NewIntegralImage(im)
	require.InDelta(t, 2.0, ii.AreaAverage(0, 0, 4, 4), 1e-9)
	// Half the 4x4 tile hangs off the edge, so the average halves.
	require.InDelta(t, 1.0, ii.AreaAverage(6, 0, 4, 4), 1e-9)
}

func TestSignalEvaluatorThreshold(t *testing.T) {
	ref := frame.New(16, 16)
	for i := range ref.Samples {
		ref.Samples[i] = 10
	}
	dark := frame.New(16, 16)

	ev := NewSignalEvaluator(ref, nil)
	require.True(t, ev.PassesThreshold(0, 0, 8, 8, 5))
	require.False(t, ev.PassesThreshold(0, 0, 8, 8, 10))

	// A dark target vetoes tiles even when the reference is bright.
	both := NewSignalEvaluator(ref, dark)
	require.False(t, both.PassesThreshold(0, 0, 8, 8, 5))
}
