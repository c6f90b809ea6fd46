// Package geometry provides basic geometric types used throughout the engine.
package geometry

import (
	"math"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Add returns the point translated by a displacement.
func (p Point2D) Add(v Vec2D) Point2D {
	return Point2D{X: p.X + v.DX, Y: p.Y + v.DY}
}

// Vec2D represents a 2D displacement with sub-pixel precision.
type Vec2D struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// NewVec2D creates a displacement from its components.
func NewVec2D(dx, dy float64) Vec2D {
	return Vec2D{DX: dx, DY: dy}
}

// Magnitude returns the Euclidean length of the displacement.
func (v Vec2D) Magnitude() float64 {
	return math.Hypot(v.DX, v.DY)
}

// Neg returns the opposite displacement.
func (v Vec2D) Neg() Vec2D {
	return Vec2D{DX: -v.DX, DY: -v.DY}
}

// Add returns the sum of two displacements.
func (v Vec2D) Add(other Vec2D) Vec2D {
	return Vec2D{DX: v.DX + other.DX, DY: v.DY + other.DY}
}

// Scale returns the displacement scaled by a factor.
func (v Vec2D) Scale(factor float64) Vec2D {
	return Vec2D{DX: v.DX * factor, DY: v.DY * factor}
}

// RectInt represents a rectangle with integer pixel coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains returns true if the pixel is inside the rectangle.
func (r RectInt) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// AffineTransform represents a 2x3 affine transformation matrix.
// [a b tx]
// [c d ty]
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Identity returns the identity transform.
func Identity() AffineTransform {
	return AffineTransform{A: 1, D: 1}
}

// Translation returns a translation transform.
func Translation(tx, ty float64) AffineTransform {
	return AffineTransform{A: 1, D: 1, TX: tx, TY: ty}
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A*p.X + t.B*p.Y + t.TX,
		Y: t.C*p.X + t.D*p.Y + t.TY,
	}
}

// Shift returns the translational part of the transform.
func (t AffineTransform) Shift() Vec2D {
	return Vec2D{DX: t.TX, DY: t.TY}
}

// Rotation returns the rotation angle of the transform in radians,
// assuming a similarity transform (uniform scale, no shear).
func (t AffineTransform) Rotation() float64 {
	return math.Atan2(t.C, t.A)
}

// ScaleFactor returns the uniform scale of the transform, assuming a
// similarity transform.
func (t AffineTransform) ScaleFactor() float64 {
	return math.Sqrt(t.A*t.A + t.C*t.C)
}

// Compose returns this transform composed with another (this * other).
func (t AffineTransform) Compose(other AffineTransform) AffineTransform {
	return AffineTransform{
		A:  t.A*other.A + t.B*other.C,
		B:  t.A*other.B + t.B*other.D,
		TX: t.A*other.TX + t.B*other.TY + t.TX,
		C:  t.C*other.A + t.D*other.C,
		D:  t.C*other.B + t.D*other.D,
		TY: t.C*other.TX + t.D*other.TY + t.TY,
	}
}

// Inverse returns the inverse transform, if it exists.
func (t AffineTransform) Inverse() (AffineTransform, bool) {
	det := t.A*t.D - t.B*t.C
	if math.Abs(det) < 1e-10 {
		return AffineTransform{}, false
	}

	invDet := 1.0 / det
	return AffineTransform{
		A:  t.D * invDet,
		B:  -t.B * invDet,
		TX: (t.B*t.TY - t.D*t.TX) * invDet,
		C:  -t.C * invDet,
		D:  t.A * invDet,
		TY: (t.C*t.TX - t.A*t.TY) * invDet,
	}, true
}
