package geometry

import (
	"errors"
	"fmt"
	"math"
)

// Orientation is the clockwise rotation, in degrees, that turns the sensor
// image upright.
type Orientation int

const (
	Rotate0   Orientation = 0
	Rotate90  Orientation = 90
	Rotate180 Orientation = 180
	Rotate270 Orientation = 270
)

func (o Orientation) Valid() bool {
	switch o {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

var (
	ErrOrientation = errors.New("geometry: orientation must be one of 0, 90, 180, 270")
	ErrFrameSize   = errors.New("geometry: frame dimensions must be positive")
	ErrModelSize   = errors.New("geometry: model input dimensions must be positive")
	ErrScale       = errors.New("geometry: scale must be positive")
	ErrRegion      = errors.New("geometry: source region is empty")
)

// Rotation returns the transform from device-frame coordinates to the upright
// frame together with the upright frame size.
func Rotation(o Orientation, width, height int) (Affine, int, int, error) {
	if width <= 0 || height <= 0 {
		return Affine{}, 0, 0, ErrFrameSize
	}
	w, h := float64(width), float64(height)
	switch o {
	case Rotate0:
		return Identity(), width, height, nil
	case Rotate90:
		// (x, y) -> (h - y, x)
		return Affine{A: 0, B: -1, C: h, D: 1, E: 0, F: 0}, height, width, nil
	case Rotate180:
		return Affine{A: -1, C: w, E: -1, F: h}, width, height, nil
	case Rotate270:
		// (x, y) -> (y, w - x)
		return Affine{A: 0, B: 1, C: 0, D: -1, E: 0, F: w}, height, width, nil
	}
	return Affine{}, 0, 0, ErrOrientation
}

// Params parameterizes the device-frame to model-input mapping.
type Params struct {
	FrameWidth, FrameHeight int
	Orientation             Orientation

	ModelWidth, ModelHeight int
	// OrgResize keeps the region aspect ratio and letterboxes; otherwise the
	// region is stretched to the model input.
	OrgResize bool

	// Scale zooms the model view out (>1) or in (<1) around its centre. ShiftX
	// and ShiftY move the view centre in units of the region size.
	Scale, ShiftX, ShiftY float64

	// Region is the source region in device-frame coordinates. The zero Rect
	// selects the whole frame.
	Region Rect
}

// Transform is a forward/inverse pair between device-frame and model-input
// coordinates. It is immutable and safe to share.
type Transform struct {
	params  Params
	scale   float64
	forward Affine
	inverse Affine
}

// New composes rotation, region crop, fit and the scale/shift adjustment into
// a single affine transform.
func New(p Params) (*Transform, error) {
	if !p.Orientation.Valid() {
		return nil, ErrOrientation
	}
	rot, uw, uh, err := Rotation(p.Orientation, p.FrameWidth, p.FrameHeight)
	if err != nil {
		return nil, err
	}
	if p.ModelWidth <= 0 || p.ModelHeight <= 0 {
		return nil, ErrModelSize
	}
	if !(p.Scale > 0) || math.IsInf(p.Scale, 0) {
		return nil, ErrScale
	}

	region := R(0, 0, float64(uw), float64(uh))
	if p.Region != (Rect{}) {
		region = rot.MapRect(p.Region)
	}
	if region.Empty() {
		return nil, ErrRegion
	}
	rw, rh := region.Dx(), region.Dy()
	mw, mh := float64(p.ModelWidth), float64(p.ModelHeight)

	crop := Translate(-region.Min.X, -region.Min.Y)

	var fit Affine
	fx, fy := mw/rw, mh/rh
	if p.OrgResize {
		s := math.Min(fx, fy)
		fx, fy = s, s
		fit = Scale(s, s).Then(Translate((mw-s*rw)/2, (mh-s*rh)/2))
	} else {
		fit = Scale(fx, fy)
	}

	// The zoomed view may never cover more than the upright frame.
	scale := math.Min(p.Scale, math.Min(float64(uw)/rw, float64(uh)/rh))
	cx, cy := mw/2, mh/2
	adjust := Translate(-cx-p.ShiftX*rw*fx, -cy-p.ShiftY*rh*fy).
		Then(Scale(1/scale, 1/scale)).
		Then(Translate(cx, cy))

	forward := rot.Then(crop).Then(fit).Then(adjust)
	inverse, err := forward.Invert()
	if err != nil {
		return nil, fmt.Errorf("invert transform: %w", err)
	}
	return &Transform{
		params:  p,
		scale:   scale,
		forward: forward,
		inverse: inverse,
	}, nil
}

func (t *Transform) Params() Params {
	return t.params
}

// EffectiveScale is the configured scale after clamping to the frame.
func (t *Transform) EffectiveScale() float64 {
	return t.scale
}

func (t *Transform) Forward() Affine {
	return t.forward
}

func (t *Transform) Inverse() Affine {
	return t.inverse
}

func (t *Transform) ToModel(p Point) Point {
	return t.forward.Apply(p)
}

func (t *Transform) ToFrame(p Point) Point {
	return t.inverse.Apply(p)
}

func (t *Transform) RectToModel(r Rect) Rect {
	return t.forward.MapRect(r)
}

func (t *Transform) RectToFrame(r Rect) Rect {
	return t.inverse.MapRect(r)
}

// FrameBounds is the device frame extent.
func (t *Transform) FrameBounds() Rect {
	return R(0, 0, float64(t.params.FrameWidth), float64(t.params.FrameHeight))
}
