package register

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"frame-align/internal/frame"
)

// GridBackend measures raw tile displacements between a reference and a
// target frame and records them into a distortion grid. Implementations
// return the grid before filtering; the engine runs FilterAndSmooth.
type GridBackend interface {
	Name() string
	BuildGrid(ctx context.Context, ref, target *frame.Image, tileSize, step int, signal float64, eval *SignalEvaluator) (*DistortionGrid, error)
}

// accelTileSizes are the tile sizes the accelerated path supports. Other
// sizes go straight to the CPU backend.
var accelTileSizes = map[int]bool{32: true, 64: true, 128: true}

// Diagnostics counts backend selection outcomes over an engine's lifetime.
type Diagnostics struct {
	AccelGrids    int // grids built by the accelerated backend
	CPUGrids      int // grids built by the CPU backend
	AccelFailures int // accelerated attempts that fell back to CPU
}

// backendCoordinator routes grid construction to the accelerated backend
// when one is configured and the tile size is supported, falling back to
// the CPU backend on any error. Fallback is transparent to callers. The
// counters are atomic; registration calls may run concurrently.
type backendCoordinator struct {
	cpu   GridBackend
	accel GridBackend
	log   zerolog.Logger

	accelGrids    atomic.Int64
	cpuGrids      atomic.Int64
	accelFailures atomic.Int64
}

func (c *backendCoordinator) Name() string {
	if c.accel != nil {
		return c.accel.Name() + "+" + c.cpu.Name()
	}
	return c.cpu.Name()
}

// diagnostics snapshots the counters.
func (c *backendCoordinator) diagnostics() Diagnostics {
	return Diagnostics{
		AccelGrids:    int(c.accelGrids.Load()),
		CPUGrids:      int(c.cpuGrids.Load()),
		AccelFailures: int(c.accelFailures.Load()),
	}
}

// session starts a per-call view of the coordinator. A session that sees
// the accelerated backend fail stops trying it for the rest of the call;
// the next call starts fresh.
func (c *backendCoordinator) session() *backendSession {
	return &backendSession{coord: c}
}

// backendSession routes one registration call's grid construction. Not
// safe for concurrent use; every call owns its own session.
type backendSession struct {
	coord     *backendCoordinator
	accelDown bool
}

func (s *backendSession) BuildGrid(ctx context.Context, ref, target *frame.Image, tileSize, step int, signal float64, eval *SignalEvaluator) (*DistortionGrid, error) {
	c := s.coord
	if c.accel != nil && !s.accelDown && accelTileSizes[tileSize] {
		grid, err := c.accel.BuildGrid(ctx, ref, target, tileSize, step, signal, eval)
		if err == nil {
			c.accelGrids.Add(1)
			return grid, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.accelDown = true
		c.accelFailures.Add(1)
		c.log.Warn().Err(err).Str("backend", c.accel.Name()).
			Msg("accelerated grid computation failed, using CPU for the rest of this call")
	}
	grid, err := c.cpu.BuildGrid(ctx, ref, target, tileSize, step, signal, eval)
	if err == nil {
		c.cpuGrids.Add(1)
	}
	return grid, err
}
