package register

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// testPattern evaluates a broadband textured surface at continuous
// coordinates, so shifted tiles can be generated without resampling.
// The spectrum spans 0.2 to 2.6 rad/px; a tile needs energy across many
// bins before the correlation peak localizes to sub-pixel precision.
func testPattern(x, y float64) float32 {
	v := 0.0
	for _, c := range patternComponents {
		v += c[2] * math.Sin(c[0]*x+c[1]*y+c[3])
	}
	return float32(v * 1000)
}

// patternComponents holds {kx, ky, amplitude, phase} rows generated from
// golden-ratio sequences, so directions and frequencies cover the
// spectrum evenly without clustering.
var patternComponents = func() [][4]float64 {
	frac := func(v float64) float64 { return v - math.Floor(v) }
	comps := make([][4]float64, 96)
	for i := range comps {
		fi := float64(i)
		ang := 2 * math.Pi * frac(fi*0.6180339887498949)
		freq := 0.2 + 2.4*frac(fi*0.7548776662466927)
		comps[i] = [4]float64{
			freq * math.Cos(ang),
			freq * math.Sin(ang),
			0.3 + 0.7*frac(fi*0.5698402909980532),
			2 * math.Pi * frac(fi*0.4142135623730951),
		}
	}
	return comps
}()

func patternTile(size int, offsetX, offsetY float64) []float32 {
	tile := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			tile[y*size+x] = testPattern(float64(x)+offsetX, float64(y)+offsetY)
		}
	}
	return tile
}

func TestCorrelateIdenticalTiles(t *testing.T) {
	pc := NewPhaseCorrelator(64)
	tile := patternTile(64, 0, 0)
	d := pc.Correlate(tile, tile)
	require.InDelta(t, 0, d.DX, 1e-6)
	require.InDelta(t, 0, d.DY, 1e-6)
}

func TestCorrelateIntegerShift(t *testing.T) {
	pc := NewPhaseCorrelator(64)
	ref := patternTile(64, 0, 0)
	// target(x, y) = ref(x+3, y-2): sampling the target at the returned
	// displacement must retrieve the reference content.
	target := patternTile(64, 3, -2)
	d := pc.Correlate(ref, target)
	require.InDelta(t, -3, d.DX, 0.05)
	require.InDelta(t, 2, d.DY, 0.05)
}

func TestCorrelateSubPixelShift(t *testing.T) {
	pc := NewPhaseCorrelator(64)
	ref := patternTile(64, 0, 0)
	target := patternTile(64, 1.5, -0.5)
	d := pc.Correlate(ref, target)
	require.InDelta(t, -1.5, d.DX, 0.2)
	require.InDelta(t, 0.5, d.DY, 0.2)
}

// A tile whose energy sits in a handful of spectral lobes must still
// resolve a multi-pixel shift: the magnitude floor keeps the empty bins
// from outvoting the occupied ones and dragging the peak to zero lag.
func TestCorrelateSparseSpectrumTile(t *testing.T) {
	sparse := func(x, y float64) float32 {
		v := math.Sin(0.9*x+0.4*y) + 0.8*math.Cos(1.3*x-0.7*y) +
			0.6*math.Sin(0.6*x+1.5*y)
		return float32(v * 1000)
	}
	tile := func(offsetX, offsetY float64) []float32 {
		out := make([]float32, 64*64)
		for y := 0; y < 64; y++ {
			for x := 0; x < 64; x++ {
				out[y*64+x] = sparse(float64(x)+offsetX, float64(y)+offsetY)
			}
		}
		return out
	}

	pc := NewPhaseCorrelator(64)
	d := pc.Correlate(tile(0, 0), tile(2, -1))
	require.InDelta(t, -2, d.DX, 0.2)
	require.InDelta(t, 1, d.DY, 0.2)

	d = pc.Correlate(tile(0, 0), tile(1.5, -0.5))
	require.InDelta(t, -1.5, d.DX, 0.2)
	require.InDelta(t, 0.5, d.DY, 0.2)
}

func TestCorrelatorIsReusable(t *testing.T) {
	pc := NewPhaseCorrelator(32)
	ref := patternTile(32, 0, 0)
	shifted := patternTile(32, 2, 1)
	first := pc.Correlate(ref, shifted)
	second := pc.Correlate(ref, shifted)
	require.Equal(t, first, second)
}

func TestHannWindowShape(t *testing.T) {
	w := hannWindow(32)
	require.InDelta(t, 0, w[0], 1e-12)
	require.InDelta(t, 0, w[31], 1e-12)
	// Cached windows are shared.
	require.Equal(t, &w[0], &hannWindow(32)[0])
}

func TestFFT2RoundTrip(t *testing.T) {
	f := newFFT2(16)
	data := make([]complex128, 16*16)
	orig := make([]complex128, len(data))
	for i := range data {
		data[i] = complex(float64(i%13)-6, 0)
	}
	copy(orig, data)
	f.forward(data)
	f.inverse(data)
	for i := range data {
		require.InDelta(t, real(orig[i]), real(data[i]), 1e-9)
		require.InDelta(t, imag(orig[i]), imag(data[i]), 1e-9)
	}
}
