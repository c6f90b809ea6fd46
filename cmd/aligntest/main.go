// Command aligntest registers target frames against a reference and
// writes corrected output, with an optional synthetic self-test mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	_ "golang.org/x/image/tiff"

	"frame-align/internal/accel"
	"frame-align/internal/frame"
	"frame-align/internal/register"
	"frame-align/internal/version"
	"frame-align/pkg/geometry"
)

func main() {
	refPath := flag.String("ref", "", "Path to reference frame")
	outDir := flag.String("out", ".", "Output directory")
	tileSize := flag.Int("ts", 32, "Correlation tile size (power of two, >= 32)")
	sampling := flag.Float64("sampling", 0.5, "Grid spacing as a fraction of tile size")
	iterations := flag.Int("iterations", 3, "Maximum refinement iterations")
	refine := flag.Bool("refine", true, "Enable multi-level tile refinement")
	threshold := flag.Float64("threshold", 0, "Signal threshold in [0, 1]")
	useGPU := flag.Bool("gpu", false, "Try the accelerated backend")
	consensus := flag.Bool("consensus", false, "Register all frames against their consensus geometry")
	sparse := flag.Bool("sparse", false, "Use interest-point sampling and report a sparse field")
	demo := flag.Bool("demo", false, "Run a synthetic distortion round-trip instead of loading frames")
	debug := flag.Bool("debug", false, "Verbose logging and debug images")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("aligntest %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
		return
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	opts := register.DefaultOptions()
	opts.TileSize = *tileSize
	opts.Sampling = *sampling
	opts.Iterations = *iterations
	opts.Refine = *refine
	opts.Threshold = *threshold
	opts.UseGPU = *useGPU
	opts.Debug = *debug

	var accelBackend *accel.Backend
	if *useGPU {
		dev, err := accel.Open(opts.DeviceMemoryBytes)
		if err != nil {
			log.Warn().Err(err).Msg("accelerated backend unavailable, using CPU only")
		} else {
			defer dev.Close()
			accelBackend = accel.NewBackend(dev)
		}
	}

	var gridBackend register.GridBackend
	if accelBackend != nil {
		gridBackend = accelBackend
	}
	engine, err := register.NewEngine(opts, gridBackend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid options")
	}
	ctx := context.Background()

	switch {
	case *demo:
		runDemo(ctx, engine, accelBackend, log, *outDir, *debug)
	case *consensus:
		runConsensus(ctx, engine, log, flag.Args(), *outDir)
	default:
		if *refPath == "" || flag.NArg() == 0 {
			fmt.Println("Usage: aligntest -ref <reference> [options] <target>...")
			fmt.Println("       aligntest -consensus [options] <frame>...")
			fmt.Println("       aligntest -demo [options]")
			os.Exit(1)
		}
		runRegister(ctx, engine, log, *refPath, flag.Args(), *outDir, *sparse, *debug)
	}
}

func runRegister(ctx context.Context, engine *register.Engine, log zerolog.Logger, refPath string, targets []string, outDir string, sparse, debug bool) {
	reference, err := loadFrame(refPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", refPath).Msg("loading reference")
	}
	if debug {
		previewPath := filepath.Join(outDir, "reference_preview.png")
		if err := savePNG(previewPath, reference.Preview(1024)); err != nil {
			log.Warn().Err(err).Msg("writing reference preview")
		}
	}
	for _, path := range targets {
		target, err := loadFrame(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("loading target")
		}

		if sparse {
			field, err := engine.BuildSparseField(ctx, reference, target,
				register.InterestPointSampling{Multiscale: true}, register.SparseFieldOptions{Method: register.InterpGaussianRBF})
			if err != nil {
				log.Fatal().Err(err).Msg("sparse field estimation failed")
			}
			log.Info().Str("target", path).Int("samples", field.SampleCount()).Msg("sparse field built")
		}

		result, err := engine.Register(ctx, reference, target)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("registration failed")
		}
		if trend, err := register.FitAffineTrend(result.Map); err == nil {
			shift := trend.Transform.Shift()
			log.Info().Float64("dx", shift.DX).Float64("dy", shift.DY).
				Float64("rotation", trend.Transform.Rotation()).
				Float64("residualRMS", trend.ResidualRMS).
				Msg("affine trend of displacement field")
		}

		outPath := filepath.Join(outDir, "registered_"+baseName(path)+".png")
		if err := savePNG(outPath, result.Image.ToGray(0, 0)); err != nil {
			log.Fatal().Err(err).Msg("writing output")
		}
		log.Info().Str("output", outPath).
			Float64("distortion", result.Map.TotalDistortion()).
			Int("iterations", len(result.Trace)).
			Msg("frame registered")

		if debug {
			panelPath := filepath.Join(outDir, "debug_"+baseName(path)+".png")
			panel := register.RenderDebugPanel(reference, result.Image, result.Map, 2160)
			if err := savePNG(panelPath, panel); err != nil {
				log.Warn().Err(err).Msg("writing debug panel")
			}
		}
	}
	diag := engine.Diagnostics()
	log.Debug().Int("accelGrids", diag.AccelGrids).Int("cpuGrids", diag.CPUGrids).
		Int("accelFailures", diag.AccelFailures).Msg("backend usage")
}

func runConsensus(ctx context.Context, engine *register.Engine, log zerolog.Logger, paths []string, outDir string) {
	if len(paths) < 2 {
		fmt.Println("Usage: aligntest -consensus [options] <frame>...")
		os.Exit(1)
	}
	frames := make([]*frame.Image, len(paths))
	for i, path := range paths {
		im, err := loadFrame(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("loading frame")
		}
		frames[i] = im
	}
	result, err := engine.RegisterConsensus(ctx, frames)
	if err != nil {
		log.Fatal().Err(err).Msg("consensus registration failed")
	}
	for i, im := range result.Images {
		outPath := filepath.Join(outDir, "consensus_"+baseName(paths[i])+".png")
		if err := savePNG(outPath, im.ToGray(0, 0)); err != nil {
			log.Fatal().Err(err).Msg("writing output")
		}
		log.Info().Str("output", outPath).Int("maps", len(result.Maps[i])).Msg("frame corrected")
	}
}

// runDemo distorts a synthetic frame with a smooth random field, then
// registers the distorted copy back and reports the residual error.
func runDemo(ctx context.Context, engine *register.Engine, accelWarp *accel.Backend, log zerolog.Logger, outDir string, debug bool) {
	const size = 256
	reference := syntheticFrame(size)

	truth := register.NewDistortionGrid(size, size, 32, 32)
	rng := rand.New(rand.NewSource(7))
	for gy := 0; gy < (size+31)/32+1; gy++ {
		for gx := 0; gx < (size+31)/32+1; gx++ {
			truth.RecordDisplacement(gx*32+16, gy*32+16, randomDisplacement(rng, 2.5))
		}
	}
	truth.FilterAndSmooth(1.5)
	var distorted *frame.Image
	var err error
	if accelWarp != nil {
		distorted, err = accelWarp.Warp(reference, truth)
		if err != nil {
			log.Warn().Err(err).Msg("accelerated warp failed, using CPU warp")
		}
	}
	if distorted == nil {
		distorted, err = register.Warp(ctx, reference, truth, 0)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("synthesizing distorted frame")
	}

	result, err := engine.Register(ctx, reference, distorted)
	if err != nil {
		log.Fatal().Err(err).Msg("demo registration failed")
	}

	var sumSq float64
	for i := range reference.Samples {
		d := float64(reference.Samples[i] - result.Image.Samples[i])
		sumSq += d * d
	}
	rms := math.Sqrt(sumSq / float64(len(reference.Samples)))
	log.Info().Float64("residualRMS", rms).
		Float64("appliedDistortion", result.Map.TotalDistortion()).
		Msg("synthetic round-trip complete")

	if debug {
		panel := register.RenderDebugPanel(reference, result.Image, result.Map, 2160)
		if err := savePNG(filepath.Join(outDir, "demo_debug.png"), panel); err != nil {
			log.Warn().Err(err).Msg("writing debug panel")
		}
	}
}

func syntheticFrame(size int) *frame.Image {
	im := frame.New(size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := 0.5 + 0.25*math.Sin(float64(x)/9)*math.Cos(float64(y)/7) +
				0.25*math.Sin(float64(x+y)/13)
			im.Set(x, y, float32(v*60000))
		}
	}
	return im
}

func randomDisplacement(rng *rand.Rand, amplitude float64) geometry.Vec2D {
	return geometry.NewVec2D(
		(rng.Float64()*2-1)*amplitude,
		(rng.Float64()*2-1)*amplitude,
	)
}

func loadFrame(path string) (*frame.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	bounds := src.Bounds()
	gray := image.NewGray16(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.Gray16Model.Convert(src.At(x, y)))
		}
	}
	return frame.FromGray(gray), nil
}

func savePNG(path string, im image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, im)
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
