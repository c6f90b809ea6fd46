package register

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsValid(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"tile too small", func(o *Options) { o.TileSize = 16 }},
		{"tile not power of two", func(o *Options) { o.TileSize = 48 }},
		{"sampling zero", func(o *Options) { o.Sampling = 0 }},
		{"sampling above one", func(o *Options) { o.Sampling = 1.5 }},
		{"no iterations", func(o *Options) { o.Iterations = 0 }},
		{"threshold above one", func(o *Options) { o.Threshold = 1.1 }},
		{"negative threshold", func(o *Options) { o.Threshold = -0.1 }},
		{"zero sigma", func(o *Options) { o.BaseSigma = 0 }},
		{"negative workers", func(o *Options) { o.Workers = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(&opts)
			require.Error(t, opts.Validate())
		})
	}
}

func TestSignalFloor(t *testing.T) {
	opts := DefaultOptions()
	require.Zero(t, opts.SignalFloor())
	opts.Threshold = 0.5
	require.InDelta(t, 32767.5, opts.SignalFloor(), 1e-9)
}

func TestGridStep(t *testing.T) {
	opts := DefaultOptions()
	require.Equal(t, 16, opts.GridStep(32))
	require.Equal(t, 32, opts.GridStep(64))

	// Small tiles clamp to the minimum spacing.
	fine := DefaultOptions()
	fine.Sampling = 0.1
	require.Equal(t, MinStep, fine.GridStep(32))
}
