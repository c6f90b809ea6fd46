package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVec2DArithmetic(t *testing.T) {
	v := NewVec2D(3, -4)
	require.InDelta(t, 5, v.Magnitude(), 1e-12)
	require.Equal(t, NewVec2D(-3, 4), v.Neg())
	require.Equal(t, NewVec2D(4, -2), v.Add(NewVec2D(1, 2)))
	require.Equal(t, NewVec2D(1.5, -2), v.Scale(0.5))
}

func TestPoint2D(t *testing.T) {
	p := NewPoint2D(1, 2)
	require.InDelta(t, 5, p.Distance(NewPoint2D(4, 6)), 1e-12)
	require.Equal(t, NewPoint2D(4, 0), p.Add(NewVec2D(3, -2)))
}

func TestRectIntContains(t *testing.T) {
	r := RectInt{X: 10, Y: 20, Width: 5, Height: 4}
	require.True(t, r.Contains(10, 20))
	require.True(t, r.Contains(14, 23))
	require.False(t, r.Contains(15, 23))
	require.False(t, r.Contains(14, 24))
	require.False(t, r.Contains(9, 20))
}

func TestAffineTransform(t *testing.T) {
	require.Equal(t, NewPoint2D(3, 7), Identity().Apply(NewPoint2D(3, 7)))

	tr := Translation(2, -1)
	require.Equal(t, NewVec2D(2, -1), tr.Shift())
	require.Equal(t, NewPoint2D(5, 6), tr.Apply(NewPoint2D(3, 7)))

	angle := math.Pi / 6
	rot := AffineTransform{
		A: math.Cos(angle), B: -math.Sin(angle),
		C: math.Sin(angle), D: math.Cos(angle),
	}
	require.InDelta(t, angle, rot.Rotation(), 1e-12)
	require.InDelta(t, 1, rot.ScaleFactor(), 1e-12)

	// Composing with the inverse lands back on the identity.
	combined := tr.Compose(rot)
	inv, ok := combined.Inverse()
	require.True(t, ok)
	p := NewPoint2D(11, -3)
	back := inv.Apply(combined.Apply(p))
	require.InDelta(t, p.X, back.X, 1e-9)
	require.InDelta(t, p.Y, back.Y, 1e-9)

	degenerate := AffineTransform{A: 1, B: 2, C: 2, D: 4}
	_, ok = degenerate.Inverse()
	require.False(t, ok)
}
