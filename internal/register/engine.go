package register

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"frame-align/internal/frame"
)

// Engine runs local-distortion registration between frames. A single
// engine can be shared across goroutines as long as each call gets its
// own frames; all mutable state lives in the call.
type Engine struct {
	opts    Options
	log     zerolog.Logger
	backend *backendCoordinator
}

// NewEngine validates the options and builds an engine. accel may be nil,
// in which case every grid is computed on the CPU; when set, it is tried
// first for supported tile sizes and any failure falls back transparently.
func NewEngine(opts Options, accel GridBackend, log zerolog.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if !opts.UseGPU {
		accel = nil
	}
	return &Engine{
		opts: opts,
		log:  log,
		backend: &backendCoordinator{
			cpu:   newCPUBackend(opts.Workers),
			accel: accel,
			log:   log,
		},
	}, nil
}

// Diagnostics returns backend selection counters accumulated so far.
func (e *Engine) Diagnostics() Diagnostics {
	return e.backend.diagnostics()
}

// Result is the outcome of registering one target against a reference.
type Result struct {
	// Image is the corrected target, resampled through Map.
	Image *frame.Image
	// Map is the displacement field that was applied, the synthesis of
	// all accepted refinement iterations.
	Map *DistortionGrid
	// Trace records per-iteration statistics in execution order.
	Trace []IterationStats
}

// IterationStats describes one refinement iteration.
type IterationStats struct {
	Iteration        int
	LevelDistortions []float64 // total distortion per tile level, coarse first
	TotalDistortion  float64   // distortion of the synthesized iteration map
	Accepted         bool      // false when the iteration diverged and was discarded
}

// countRefinementLevels returns how many times the tile halves before
// reaching the minimum.
func countRefinementLevels(tileSize int) int {
	levels := 0
	for tileSize > MinTileSize {
		levels++
		tileSize /= 2
	}
	return levels
}

// Register estimates the displacement field mapping the target onto the
// reference and returns the corrected target. Both frames must share
// dimensions.
func (e *Engine) Register(ctx context.Context, reference, target *frame.Image) (*Result, error) {
	if !reference.SameSize(target) {
		return nil, fmt.Errorf("reference %dx%d and target %dx%d differ in size",
			reference.Width, reference.Height, target.Width, target.Height)
	}
	eval := NewSignalEvaluator(reference, nil)
	return e.register(ctx, reference, target, eval)
}

func (e *Engine) register(ctx context.Context, reference, target *frame.Image, eval *SignalEvaluator) (*Result, error) {
	opts := e.opts
	e.log.Debug().
		Int("width", reference.Width).Int("height", reference.Height).
		Int("tileSize", opts.TileSize).Float64("sampling", opts.Sampling).
		Int("iterations", opts.Iterations).Bool("refine", opts.Refine).
		Int("refinementLevels", countRefinementLevels(opts.TileSize)).
		Str("backend", e.backend.Name()).
		Msg("registering frame")

	var (
		acceptedMaps       []*DistortionGrid
		trace              []IterationStats
		currentImage       = target
		previousDistortion = float64(0)
		havePrevious       = false
		session            = e.backend.session()
	)

	for iteration := 0; iteration < opts.Iterations; iteration++ {
		iterationInput := currentImage
		levelMaps, levelDistortions, err := e.runLevels(ctx, session, reference, currentImage, eval)
		if err != nil {
			return nil, err
		}

		iterationMap := levelMaps[0]
		if len(levelMaps) > 1 {
			iterationMap, err = SynthesizeGrids(levelMaps, reference.Width, reference.Height)
			if err != nil {
				return nil, err
			}
		}

		stats := IterationStats{
			Iteration:        iteration + 1,
			LevelDistortions: levelDistortions,
			TotalDistortion:  iterationMap.TotalDistortion(),
		}

		// A distortion increase means the new field is fighting the
		// previous ones; discard it and keep the best result so far.
		if havePrevious && stats.TotalDistortion > previousDistortion {
			trace = append(trace, stats)
			e.log.Warn().Int("iteration", iteration+1).
				Float64("distortion", stats.TotalDistortion).
				Float64("previous", previousDistortion).
				Msg("distortion increased, discarding iteration")
			break
		}

		stats.Accepted = true
		trace = append(trace, stats)
		acceptedMaps = append(acceptedMaps, iterationMap)
		currentImage, err = Warp(ctx, iterationInput, iterationMap, opts.Workers)
		if err != nil {
			return nil, err
		}

		e.log.Debug().Int("iteration", iteration+1).
			Floats64("levelDistortions", levelDistortions).
			Float64("synthesized", stats.TotalDistortion).
			Msg("iteration complete")

		// Stop early once the field stops improving meaningfully.
		if havePrevious && previousDistortion > 0 &&
			(previousDistortion-stats.TotalDistortion)/previousDistortion < 0.01 {
			previousDistortion = stats.TotalDistortion
			e.log.Debug().Int("iteration", iteration+1).Msg("converged")
			break
		}
		previousDistortion = stats.TotalDistortion
		havePrevious = true
	}

	if len(acceptedMaps) == 0 {
		return nil, fmt.Errorf("no refinement iteration produced a usable displacement field")
	}

	finalMap := acceptedMaps[0]
	if len(acceptedMaps) > 1 {
		var err error
		finalMap, err = SynthesizeGrids(acceptedMaps, reference.Width, reference.Height)
		if err != nil {
			return nil, err
		}
	}

	finalImage, err := Warp(ctx, target, finalMap, opts.Workers)
	if err != nil {
		return nil, err
	}

	e.log.Debug().Float64("finalDistortion", finalMap.TotalDistortion()).Msg("registration complete")
	return &Result{Image: finalImage, Map: finalMap, Trace: trace}, nil
}

// runLevels computes the coarse-to-fine displacement fields of one
// iteration: measure at the current tile size, warp, halve the tile and
// repeat until tiles reach the minimum size.
func (e *Engine) runLevels(ctx context.Context, session *backendSession, reference, current *frame.Image, eval *SignalEvaluator) ([]*DistortionGrid, []float64, error) {
	opts := e.opts
	tileSize := opts.TileSize
	var maps []*DistortionGrid
	var distortions []float64
	for level := 1; ; level++ {
		step := opts.GridStep(tileSize)
		grid, err := session.BuildGrid(ctx, reference, current, tileSize, step, opts.SignalFloor(), eval)
		if err != nil {
			return nil, nil, fmt.Errorf("level %d (tile=%d): %w", level, tileSize, err)
		}
		stats := grid.FilterAndSmooth(opts.BaseSigma)
		e.log.Debug().
			Int("level", level).Int("tileSize", tileSize).Int("step", step).
			Int("globalOutliers", stats.GlobalOutliers).
			Int("localOutliers", stats.LocalOutliers).
			Int("filled", stats.Filled).Int("unfilled", stats.Unfilled).
			Float64("totalDistortion", grid.TotalDistortion()).
			Msg("level complete")
		maps = append(maps, grid)
		distortions = append(distortions, grid.TotalDistortion())

		if !opts.Refine || tileSize <= MinTileSize {
			return maps, distortions, nil
		}
		// Bilinear is enough here: the warped image only feeds the next
		// correlation level, never the output.
		current, err = warpFast(ctx, current, grid, opts.Workers)
		if err != nil {
			return nil, nil, err
		}
		tileSize /= 2
	}
}

// ApplyMaps warps an image through a sequence of displacement fields in
// order, reproducing a correction recorded by a previous registration.
func (e *Engine) ApplyMaps(ctx context.Context, image *frame.Image, maps []*DistortionGrid) (*frame.Image, error) {
	current := image
	for i, m := range maps {
		var err error
		current, err = Warp(ctx, current, m, e.opts.Workers)
		if err != nil {
			return nil, fmt.Errorf("applying map %d: %w", i, err)
		}
	}
	return current, nil
}
