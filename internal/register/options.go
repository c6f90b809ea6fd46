// Package register implements local-distortion registration: tiled phase
// correlation between a reference and a target frame, displacement grid
// estimation with robust filtering, bicubic warping, multi-resolution
// refinement, and consensus reference building across frame sets.
package register

import "fmt"

const (
	// MinTileSize is the smallest correlation tile used by the multi-level
	// refinement loop. Below this, tiles no longer carry enough signal for
	// a stable phase-correlation peak.
	MinTileSize = 32

	// MinStep is the floor on the grid node spacing in pixels.
	MinStep = 8

	// maxConsensusComparisons caps the pairwise work per frame when
	// building a consensus reference from large frame sets.
	maxConsensusComparisons = 30

	// fullScale is the maximum sample value of a frame.
	fullScale = 65535.0
)

// Options configures the registration engine.
type Options struct {
	TileSize          int     // Correlation tile size (power of two, >= MinTileSize)
	Sampling          float64 // Grid spacing as a fraction of tile size, in (0, 1]
	Iterations        int     // Maximum refinement iterations per tile level
	Refine            bool    // Enable multi-level tile refinement
	Threshold         float64 // Signal threshold in [0, 1] for tile admission
	BaseSigma         float64 // Gaussian smoothing sigma at a 64-pixel grid step
	UseGPU            bool    // Try the accelerated backend before the CPU path
	DeviceMemoryBytes int64   // Device memory budget for batch sizing
	Workers           int     // Worker goroutines; 0 means runtime.NumCPU()
	Debug             bool    // Emit debug images and verbose logs
}

// DefaultOptions returns the registration defaults used by the pipeline.
func DefaultOptions() Options {
	return Options{
		TileSize:          32,
		Sampling:          0.5,
		Iterations:        3,
		Refine:            true,
		Threshold:         0,
		BaseSigma:         1.5,
		UseGPU:            false,
		DeviceMemoryBytes: 1 << 30,
	}
}

// Validate reports the first invalid option, or nil.
func (o Options) Validate() error {
	if o.TileSize < MinTileSize {
		return fmt.Errorf("tile size %d below minimum %d", o.TileSize, MinTileSize)
	}
	if o.TileSize&(o.TileSize-1) != 0 {
		return fmt.Errorf("tile size %d is not a power of two", o.TileSize)
	}
	if o.Sampling <= 0 || o.Sampling > 1 {
		return fmt.Errorf("sampling %g outside (0, 1]", o.Sampling)
	}
	if o.Iterations < 1 {
		return fmt.Errorf("iterations %d below 1", o.Iterations)
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("signal threshold %g outside [0, 1]", o.Threshold)
	}
	if o.BaseSigma <= 0 {
		return fmt.Errorf("base sigma %g must be positive", o.BaseSigma)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers %d must not be negative", o.Workers)
	}
	return nil
}

// SignalFloor converts the fractional threshold into the raw sample
// units the signal evaluator works in.
func (o Options) SignalFloor() float64 {
	return o.Threshold * fullScale
}

// GridStep returns the node spacing in pixels for a given tile size,
// clamped to MinStep.
func (o Options) GridStep(tileSize int) int {
	step := int(float64(tileSize) * o.Sampling)
	if step < MinStep {
		step = MinStep
	}
	return step
}
