package register

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"frame-align/internal/frame"
)

// ConsensusResult holds the outcome of consensus registration: every frame
// corrected toward the estimated true geometry, plus the per-frame
// correction fields accumulated across iterations.
type ConsensusResult struct {
	Images []*frame.Image
	Maps   [][]*DistortionGrid
}

// RegisterConsensus corrects a set of frames without a designated
// reference. Pairwise displacement fields are computed between frames and
// averaged: since the field from frame i to frame j is approximately the
// difference of their individual distortions, the average over many j
// estimates the negated distortion of frame i, and negating that gives
// the correction toward the shared true geometry.
//
// Only unique pairs are measured; the reverse direction is derived by
// negation, halving the correlation work. Sets larger than the comparison
// budget are deterministically subsampled per frame.
func (e *Engine) RegisterConsensus(ctx context.Context, images []*frame.Image) (*ConsensusResult, error) {
	n := len(images)
	if n == 0 {
		return nil, fmt.Errorf("no frames to register")
	}
	if n == 1 {
		return &ConsensusResult{Images: images, Maps: make([][]*DistortionGrid, 1)}, nil
	}
	if n < 5 {
		e.log.Warn().Int("frames", n).Msg("consensus registration with few frames may be unreliable")
	}
	width, height := images[0].Width, images[0].Height
	for i, im := range images {
		if im.Width != width || im.Height != height {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, im.Width, im.Height, width, height)
		}
	}

	opts := e.opts
	current := make([]*frame.Image, n)
	copy(current, images)
	accumulated := make([][]*DistortionGrid, n)
	previousAvg := float64(0)
	havePrevious := false
	session := e.backend.session()

	for iteration := 0; iteration < opts.Iterations; iteration++ {
		targets := e.pickComparisons(n, iteration)

		pairs := map[[2]int]bool{}
		for i, list := range targets {
			for _, j := range list {
				a, b := i, j
				if a > b {
					a, b = b, a
				}
				pairs[[2]int{a, b}] = true
			}
		}
		ordered := make([][2]int, 0, len(pairs))
		for p := range pairs {
			ordered = append(ordered, p)
		}
		sort.Slice(ordered, func(a, b int) bool {
			if ordered[a][0] != ordered[b][0] {
				return ordered[a][0] < ordered[b][0]
			}
			return ordered[a][1] < ordered[b][1]
		})
		e.log.Debug().Int("iteration", iteration+1).Int("pairs", len(ordered)).
			Msg("computing pairwise displacement fields")

		computed := make(map[[2]int]*DistortionGrid, len(ordered))
		for _, p := range ordered {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			grid, err := e.pairGrid(ctx, session, current[p[0]], current[p[1]])
			if err != nil {
				return nil, fmt.Errorf("pair %d->%d: %w", p[0], p[1], err)
			}
			computed[p] = grid
		}

		iterationMaps := make([]*DistortionGrid, n)
		var distortionSum float64
		for i := 0; i < n; i++ {
			mapsToOthers := make([]*DistortionGrid, 0, len(targets[i]))
			for _, j := range targets[i] {
				a, b := i, j
				if a > b {
					a, b = b, a
				}
				m := computed[[2]int{a, b}]
				if i > j {
					m = cloneNegated(m)
				}
				mapsToOthers = append(mapsToOthers, m)
			}
			avg, err := AverageGrids(mapsToOthers)
			if err != nil {
				return nil, err
			}
			avg.Negate()
			iterationMaps[i] = avg
			distortionSum += avg.TotalDistortion()
		}
		avgDistortion := distortionSum / float64(n)

		if havePrevious && avgDistortion > previousAvg {
			e.log.Warn().Int("iteration", iteration+1).
				Float64("distortion", avgDistortion).Float64("previous", previousAvg).
				Msg("consensus distortion increased, discarding iteration")
			break
		}
		previousAvg = avgDistortion
		havePrevious = true
		e.log.Debug().Int("iteration", iteration+1).
			Float64("averageDistortion", avgDistortion).Msg("consensus iteration accepted")

		for i := 0; i < n; i++ {
			warped, err := Warp(ctx, current[i], iterationMaps[i], opts.Workers)
			if err != nil {
				return nil, err
			}
			current[i] = warped
			accumulated[i] = append(accumulated[i], iterationMaps[i])
		}
	}

	return &ConsensusResult{Images: current, Maps: accumulated}, nil
}

// pickComparisons chooses, for every frame, which other frames it is
// compared against this iteration. Selection is seeded so repeated runs
// measure the same pairs.
func (e *Engine) pickComparisons(n, iteration int) [][]int {
	perImage := n - 1
	if perImage > maxConsensusComparisons {
		perImage = maxConsensusComparisons
	}
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		candidates := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				candidates = append(candidates, j)
			}
		}
		if perImage < len(candidates) {
			rng := rand.New(rand.NewSource(42 + int64(i) + int64(iteration)*int64(n)))
			rng.Shuffle(len(candidates), func(a, b int) {
				candidates[a], candidates[b] = candidates[b], candidates[a]
			})
			candidates = candidates[:perImage]
		}
		out[i] = candidates
	}
	return out
}

// pairGrid measures a single filtered displacement field between two
// frames, with the signal check applied symmetrically so both frames
// agree on which tiles carry usable content.
func (e *Engine) pairGrid(ctx context.Context, session *backendSession, from, to *frame.Image) (*DistortionGrid, error) {
	eval := NewSignalEvaluator(from, to)
	step := e.opts.GridStep(e.opts.TileSize)
	grid, err := session.BuildGrid(ctx, from, to, e.opts.TileSize, step, e.opts.SignalFloor(), eval)
	if err != nil {
		return nil, err
	}
	grid.FilterAndSmooth(e.opts.BaseSigma)
	return grid, nil
}

func cloneNegated(g *DistortionGrid) *DistortionGrid {
	out := NewDistortionGrid(g.width, g.height, g.tileSize, g.step)
	for i := range g.dx {
		out.dx[i] = -g.dx[i]
		out.dy[i] = -g.dy[i]
		out.sampled[i] = g.sampled[i]
	}
	return out
}
