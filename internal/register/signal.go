package register

import (
	"math"

	"frame-align/internal/frame"
)

// SignalEvaluator answers whether a tile carries enough signal to be worth
// correlating. It precomputes integral images for the reference and,
// optionally, the target, so each check is a constant-time lookup rather
// than a full tile scan.
type SignalEvaluator struct {
	ref    *IntegralImage
	target *IntegralImage
}

// NewSignalEvaluator builds an evaluator for the reference image. Target
// may be nil, in which case only the reference side is checked.
func NewSignalEvaluator(reference, target *frame.Image) *SignalEvaluator {
	ev := &SignalEvaluator{ref: NewIntegralImage(reference)}
	if target != nil {
		ev.target = NewIntegralImage(target)
	}
	return ev
}

// RefSignal returns the average reference signal in the tile.
func (ev *SignalEvaluator) RefSignal(x, y, tileWidth, tileHeight int) float64 {
	return ev.ref.AreaAverage(x, y, tileWidth, tileHeight)
}

// TargetSignal returns the average target signal in the tile, or +Inf if
// no target image was provided.
func (ev *SignalEvaluator) TargetSignal(x, y, tileWidth, tileHeight int) float64 {
	if ev.target == nil {
		return math.Inf(1)
	}
	return ev.target.AreaAverage(x, y, tileWidth, tileHeight)
}

// PassesThreshold reports whether both sides of the tile exceed the
// minimum average signal.
func (ev *SignalEvaluator) PassesThreshold(x, y, tileWidth, tileHeight int, threshold float64) bool {
	return ev.RefSignal(x, y, tileWidth, tileHeight) > threshold &&
		ev.TargetSignal(x, y, tileWidth, tileHeight) > threshold
}
