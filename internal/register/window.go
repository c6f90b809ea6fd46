package register

import (
	"math"
	"sync"
)

var (
	hannMu    sync.Mutex
	hannCache = map[int][]float64{}
)

// hannWindow returns the separable 2D Hann window for a size×size tile,
// stored row-major. Windows are cached per size since tile sizes repeat
// across the whole run.
func hannWindow(size int) []float64 {
	hannMu.Lock()
	defer hannMu.Unlock()
	if w, ok := hannCache[size]; ok {
		return w
	}
	w1 := make([]float64, size)
	scale := 2 * math.Pi / float64(size-1)
	for i := range w1 {
		w1[i] = 0.5 * (1 - math.Cos(scale*float64(i)))
	}
	w := make([]float64, size*size)
	for y := 0; y < size; y++ {
		wy := w1[y]
		for x := 0; x < size; x++ {
			w[y*size+x] = w1[x] * wy
		}
	}
	hannCache[size] = w
	return w
}
