// Package geometry maps coordinates between device camera frames and model
// input tensors.
//
// All coordinates are continuous pixel coordinates: pixel (i, j) covers the
// square [i, i+1) x [j, j+1), so a W x H frame spans [0, W] x [0, H].
package geometry

import (
	"errors"
	"math"
)

// Point is a location in continuous pixel coordinates.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle; Min is inclusive, Max exclusive.
type Rect struct {
	Min, Max Point
}

// R builds a Rect from its corner coordinates.
func R(x0, y0, x1, y1 float64) Rect {
	return Rect{Min: Point{X: x0, Y: y0}, Max: Point{X: x1, Y: y1}}
}

func (r Rect) Dx() float64 {
	return r.Max.X - r.Min.X
}

func (r Rect) Dy() float64 {
	return r.Max.Y - r.Min.Y
}

func (r Rect) Empty() bool {
	return r.Dx() <= 0 || r.Dy() <= 0
}

func (r Rect) Center() Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// Intersect returns the largest rectangle contained by both r and s. The
// result may be empty.
func (r Rect) Intersect(s Rect) Rect {
	out := Rect{
		Min: Point{X: math.Max(r.Min.X, s.Min.X), Y: math.Max(r.Min.Y, s.Min.Y)},
		Max: Point{X: math.Min(r.Max.X, s.Max.X), Y: math.Min(r.Max.Y, s.Max.Y)},
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// IoU is the intersection-over-union overlap ratio of two rectangles.
func (r Rect) IoU(s Rect) float64 {
	inter := r.Intersect(s)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := r.Dx()*r.Dy() + s.Dx()*s.Dy() - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

// Affine maps (x, y) to (A*x + B*y + C, D*x + E*y + F).
type Affine struct {
	A, B, C float64
	D, E, F float64
}

var ErrSingular = errors.New("geometry: affine transform is not invertible")

func Identity() Affine {
	return Affine{A: 1, E: 1}
}

func Translate(tx, ty float64) Affine {
	return Affine{A: 1, C: tx, E: 1, F: ty}
}

func Scale(sx, sy float64) Affine {
	return Affine{A: sx, E: sy}
}

func (m Affine) Apply(p Point) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.C,
		Y: m.D*p.X + m.E*p.Y + m.F,
	}
}

// Then returns the transform that applies m first and n second.
func (m Affine) Then(n Affine) Affine {
	return Affine{
		A: n.A*m.A + n.B*m.D,
		B: n.A*m.B + n.B*m.E,
		C: n.A*m.C + n.B*m.F + n.C,
		D: n.D*m.A + n.E*m.D,
		E: n.D*m.B + n.E*m.E,
		F: n.D*m.C + n.E*m.F + n.F,
	}
}

func (m Affine) Det() float64 {
	return m.A*m.E - m.B*m.D
}

func (m Affine) Invert() (Affine, error) {
	det := m.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, ErrSingular
	}
	a := m.E / det
	b := -m.B / det
	d := -m.D / det
	e := m.A / det
	return Affine{
		A: a, B: b, C: -(a*m.C + b*m.F),
		D: d, E: e, F: -(d*m.C + e*m.F),
	}, nil
}

// MapRect maps the four corners of r and returns their bounding box. For the
// rotations and axis-aligned scales produced by this package the result is exact.
func (m Affine) MapRect(r Rect) Rect {
	corners := [4]Point{
		m.Apply(r.Min),
		m.Apply(Point{X: r.Max.X, Y: r.Min.Y}),
		m.Apply(r.Max),
		m.Apply(Point{X: r.Min.X, Y: r.Max.Y}),
	}
	out := Rect{Min: corners[0], Max: corners[0]}
	for _, c := range corners[1:] {
		out.Min.X = math.Min(out.Min.X, c.X)
		out.Min.Y = math.Min(out.Min.Y, c.Y)
		out.Max.X = math.Max(out.Max.X, c.X)
		out.Max.Y = math.Max(out.Max.Y, c.Y)
	}
	return out
}

// PixelCenters converts m into the pixel-index convention used by image warping
// routines, where pixel (i, j) is sampled at its centre (i+0.5, j+0.5).
func (m Affine) PixelCenters() Affine {
	return Translate(0.5, 0.5).Then(m).Then(Translate(-0.5, -0.5))
}

// Matrix returns m as a row-major 2x3 matrix.
func (m Affine) Matrix() [2][3]float64 {
	return [2][3]float64{
		{m.A, m.B, m.C},
		{m.D, m.E, m.F},
	}
}
