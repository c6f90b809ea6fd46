// Package accel provides an OpenCV-backed acceleration path for grid
// construction and warping. All entry points return errors instead of
// panicking, so callers can fall back to the pure Go implementations when
// the native library misbehaves or is unavailable.
package accel

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// bytesPerTileElement approximates the native working set per tile
// element during batched correlation: two real input buffers, two complex
// spectra, one complex scratch buffer and one real output.
const bytesPerTileElement = 36

// minBatchSize keeps batches large enough to amortize per-call overhead
// even under tight memory budgets.
const minBatchSize = 100

// Device serializes access to the native library and owns cached
// resources. OpenCV contexts are not safe for concurrent use from
// multiple goroutines, so all work funnels through the device mutex.
type Device struct {
	mu           sync.Mutex
	memoryBudget int64
	hann         map[int]gocv.Mat
	closed       bool
}

// Open probes the native library with a tiny correlation and returns a
// device on success. memoryBudget bounds the per-batch working set; a
// non-positive budget selects 1 GiB.
func Open(memoryBudget int64) (*Device, error) {
	if memoryBudget <= 0 {
		memoryBudget = 1 << 30
	}
	d := &Device{
		memoryBudget: memoryBudget,
		hann:         map[int]gocv.Mat{},
	}
	if err := d.probe(); err != nil {
		return nil, fmt.Errorf("accelerated backend unavailable: %w", err)
	}
	return d, nil
}

func (d *Device) probe() error {
	return safeCall(func() error {
		a := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32F)
		defer a.Close()
		b := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32F)
		defer b.Close()
		window := gocv.NewMat()
		defer window.Close()
		gocv.CreateHanningWindow(&window, image.Pt(8, 8), gocv.MatTypeCV32F)
		gocv.PhaseCorrelate(a, b, window)
		return nil
	})
}

// Close releases cached native resources. The device must not be used
// afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, w := range d.hann {
		w.Close()
	}
	d.hann = nil
	return nil
}

// BatchSize returns how many tile pairs of the given size fit in half the
// memory budget, never less than minBatchSize.
func (d *Device) BatchSize(tileSize int) int {
	perTile := int64(tileSize) * int64(tileSize) * bytesPerTileElement
	n := int(d.memoryBudget / 2 / perTile)
	if n < minBatchSize {
		n = minBatchSize
	}
	return n
}

// hannWindow returns the cached native Hann window for a tile size.
// Callers must hold the device mutex.
func (d *Device) hannWindow(size int) (gocv.Mat, error) {
	if w, ok := d.hann[size]; ok {
		return w, nil
	}
	window := gocv.NewMat()
	err := safeCall(func() error {
		gocv.CreateHanningWindow(&window, image.Pt(size, size), gocv.MatTypeCV32F)
		return nil
	})
	if err != nil {
		window.Close()
		return gocv.Mat{}, err
	}
	d.hann[size] = window
	return window, nil
}

// safeCall invokes fn and converts any native panic into an error, which
// is the package boundary contract for fallback.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("native call panicked: %v", r)
		}
	}()
	return fn()
}
