package register

import (
	"math"

	"frame-align/pkg/geometry"
)

// magnitudeFloorRel sets the cross-power magnitude cutoff relative to the
// strongest spectral bin. Bins below the cutoff are treated as leakage.
const magnitudeFloorRel = 1e-6

// PhaseCorrelator measures the sub-pixel displacement between two tiles of
// equal size using Hann-windowed phase correlation. Not safe for concurrent
// use; workers allocate one each so FFT plans and scratch buffers are never
// shared.
type PhaseCorrelator struct {
	size    int
	fft     *fft2
	window  []float64
	bufRef  []complex128
	bufTar  []complex128
	surface []float64
}

// NewPhaseCorrelator creates a correlator for size×size tiles.
func NewPhaseCorrelator(size int) *PhaseCorrelator {
	return &PhaseCorrelator{
		size:    size,
		fft:     newFFT2(size),
		window:  hannWindow(size),
		bufRef:  make([]complex128, size*size),
		bufTar:  make([]complex128, size*size),
		surface: make([]float64, size*size),
	}
}

// Size returns the tile size this correlator operates on.
func (pc *PhaseCorrelator) Size() int { return pc.size }

// Correlate returns the displacement that maps the reference tile onto the
// target tile: sampling the target at pixel+displacement retrieves the
// corresponding reference content. Both tiles must hold size*size samples.
func (pc *PhaseCorrelator) Correlate(ref, target []float32) geometry.Vec2D {
	n := pc.size
	for i := 0; i < n*n; i++ {
		w := pc.window[i]
		pc.bufRef[i] = complex(float64(ref[i])*w, 0)
		pc.bufTar[i] = complex(float64(target[i])*w, 0)
	}
	pc.fft.forward(pc.bufRef)
	pc.fft.forward(pc.bufTar)

	// Cross-power spectrum conj(ref)*target, normalized to unit magnitude.
	// Bins far below the strongest bin carry only spectral leakage; whitening
	// them to unit magnitude would drown the signal bins, so they are zeroed.
	maxMagSq := 0.0
	for i := range pc.bufRef {
		r := pc.bufRef[i]
		t := pc.bufTar[i]
		crossR := real(r)*real(t) + imag(r)*imag(t)
		crossI := imag(r)*real(t) - real(r)*imag(t)
		pc.bufRef[i] = complex(crossR, crossI)
		if magSq := crossR*crossR + crossI*crossI; magSq > maxMagSq {
			maxMagSq = magSq
		}
	}
	floor := math.Max(maxMagSq*magnitudeFloorRel, 1e-20)
	for i := range pc.bufRef {
		crossR := real(pc.bufRef[i])
		crossI := imag(pc.bufRef[i])
		magSq := crossR*crossR + crossI*crossI
		if magSq > floor {
			mag := math.Sqrt(magSq)
			pc.bufRef[i] = complex(crossR/mag, crossI/mag)
		} else {
			pc.bufRef[i] = 0
		}
	}
	pc.fft.inverse(pc.bufRef)

	// Shift the zero-lag bin to the surface center before peak search.
	half := n / 2
	for y := 0; y < n; y++ {
		sy := (y + half) % n
		for x := 0; x < n; x++ {
			sx := (x + half) % n
			pc.surface[sy*n+sx] = real(pc.bufRef[y*n+x])
		}
	}

	peakX, peakY := pc.findPeak()
	shiftX := float64(peakX - half)
	shiftY := float64(peakY - half)
	subX, subY := pc.fitPeak(peakX, peakY)
	return geometry.NewVec2D(-(shiftX + subX), -(shiftY + subY))
}

// findPeak locates the maximum of the correlation surface. Ties resolve
// toward the surface center, which favors the smallest displacement when a
// periodic pattern produces multiple equal peaks.
func (pc *PhaseCorrelator) findPeak() (int, int) {
	n := pc.size
	center := n / 2
	maxX, maxY := 0, 0
	maxValue := math.Inf(-1)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := pc.surface[y*n+x]
			if v > maxValue {
				maxValue = v
				maxX, maxY = x, y
			} else if v == maxValue {
				dy, dx := y-center, x-center
				bestDy, bestDx := maxY-center, maxX-center
				if dy*dy+dx*dx < bestDy*bestDy+bestDx*bestDx {
					maxX, maxY = x, y
				}
			}
		}
	}
	return maxX, maxY
}

// fitPeak refines the integer peak with a 1D log-Gaussian fit per axis
// over the 3×3 neighborhood. Border peaks get no refinement.
func (pc *PhaseCorrelator) fitPeak(peakX, peakY int) (float64, float64) {
	n := pc.size
	if peakX == 0 || peakX >= n-1 || peakY == 0 || peakY >= n-1 {
		return 0, 0
	}
	logAt := func(x, y int) float64 {
		return math.Log(math.Max(1e-10, pc.surface[y*n+x]))
	}
	c := logAt(peakX, peakY)
	north := logAt(peakX, peakY-1)
	south := logAt(peakX, peakY+1)
	west := logAt(peakX-1, peakY)
	east := logAt(peakX+1, peakY)

	var dx, dy float64
	if denom := 2 * (west + east - 2*c); math.Abs(denom) > 1e-10 {
		dx = (west - east) / denom
		dx = math.Max(-1, math.Min(1, dx))
	}
	if denom := 2 * (north + south - 2*c); math.Abs(denom) > 1e-10 {
		dy = (north - south) / denom
		dy = math.Max(-1, math.Min(1, dy))
	}
	return dx, dy
}
