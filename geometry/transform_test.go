package geometry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-3

func assertPoint(t *testing.T, want, got Point) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, eps, "x")
	assert.InDelta(t, want.Y, got.Y, eps, "y")
}

func assertRect(t *testing.T, want, got Rect) {
	t.Helper()
	assertPoint(t, want.Min, got.Min)
	assertPoint(t, want.Max, got.Max)
}

func TestRotation(t *testing.T) {
	cases := []struct {
		o        Orientation
		in, want Point
		w, h     int
	}{
		{Rotate0, Point{10, 20}, Point{10, 20}, 640, 480},
		{Rotate90, Point{0, 0}, Point{480, 0}, 480, 640},
		{Rotate90, Point{640, 480}, Point{0, 640}, 480, 640},
		{Rotate180, Point{0, 0}, Point{640, 480}, 640, 480},
		{Rotate270, Point{0, 0}, Point{0, 640}, 480, 640},
		{Rotate270, Point{640, 0}, Point{0, 0}, 480, 640},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("%d_%v", c.o, c.in), func(t *testing.T) {
			m, w, h, err := Rotation(c.o, 640, 480)
			require.NoError(t, err)
			assert.Equal(t, c.w, w)
			assert.Equal(t, c.h, h)
			assertPoint(t, c.want, m.Apply(c.in))
		})
	}

	_, _, _, err := Rotation(45, 640, 480)
	assert.ErrorIs(t, err, ErrOrientation)
	_, _, _, err = Rotation(Rotate0, 0, 480)
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestLetterboxRecoversDetectorBox(t *testing.T) {
	tr, err := New(Params{
		FrameWidth: 640, FrameHeight: 480,
		ModelWidth: 320, ModelHeight: 320,
		OrgResize: true,
		Scale:     1,
	})
	require.NoError(t, err)

	box := R(100, 100, 300, 300)
	inModel := tr.RectToModel(box)
	// 0.5x uniform scale with 40px of vertical padding.
	assertRect(t, R(50, 90, 150, 190), inModel)
	assertRect(t, box, tr.RectToFrame(inModel))
}

func TestStretchMapsRegionOntoModelInput(t *testing.T) {
	region := R(200, 150, 300, 250)
	tr, err := New(Params{
		FrameWidth: 640, FrameHeight: 480,
		ModelWidth: 80, ModelHeight: 60,
		Scale:  1,
		Region: region,
	})
	require.NoError(t, err)
	assertPoint(t, Point{0, 0}, tr.ToModel(region.Min))
	assertPoint(t, Point{80, 60}, tr.ToModel(region.Max))
	assert.Equal(t, 1.0, tr.EffectiveScale())
}

func TestScaleAndShift(t *testing.T) {
	region := R(200, 150, 300, 250)

	t.Run("zoom keeps the face centred", func(t *testing.T) {
		tr, err := New(Params{
			FrameWidth: 640, FrameHeight: 480,
			ModelWidth: 80, ModelHeight: 80,
			Scale:  2.7,
			Region: region,
		})
		require.NoError(t, err)
		assertPoint(t, Point{40, 40}, tr.ToModel(region.Center()))
		assertPoint(t, Point{40 - 40/2.7, 40 - 40/2.7}, tr.ToModel(region.Min))
	})

	t.Run("scale clamps to the frame", func(t *testing.T) {
		tr, err := New(Params{
			FrameWidth: 640, FrameHeight: 480,
			ModelWidth: 80, ModelHeight: 80,
			Scale:  10,
			Region: region,
		})
		require.NoError(t, err)
		assert.InDelta(t, 4.8, tr.EffectiveScale(), 1e-9)
	})

	t.Run("shift moves the view centre", func(t *testing.T) {
		tr, err := New(Params{
			FrameWidth: 640, FrameHeight: 480,
			ModelWidth: 80, ModelHeight: 80,
			Scale:  1,
			ShiftX: 0.1,
			Region: region,
		})
		require.NoError(t, err)
		assertPoint(t, Point{40, 40}, tr.ToModel(Point{260, 200}))
	})

	t.Run("letterbox shift follows the region size", func(t *testing.T) {
		tall := R(200, 100, 250, 300)
		tr, err := New(Params{
			FrameWidth: 640, FrameHeight: 480,
			ModelWidth: 80, ModelHeight: 80,
			OrgResize: true,
			Scale:     1,
			ShiftX:    0.1,
			ShiftY:    -0.1,
			Region:    tall,
		})
		require.NoError(t, err)
		assertPoint(t, Point{40, 40}, tr.ToModel(Point{230, 180}))
	})
}

func TestRoundTrip(t *testing.T) {
	orientations := []Orientation{Rotate0, Rotate90, Rotate180, Rotate270}
	configs := []Params{
		{ModelWidth: 320, ModelHeight: 240, Scale: 1},
		{ModelWidth: 80, ModelHeight: 80, Scale: 2.7, OrgResize: true},
		{ModelWidth: 128, ModelHeight: 128, Scale: 4, ShiftX: 0.2, ShiftY: -0.1},
		{ModelWidth: 80, ModelHeight: 80, Scale: 0.5, ShiftY: 0.3, OrgResize: true},
	}
	regions := []Rect{{}, R(120, 60, 260, 230)}
	points := []Point{{0, 0}, {639, 479}, {320, 240}, {17.5, 411.25}}

	for _, o := range orientations {
		for ci, cfg := range configs {
			for ri, region := range regions {
				p := cfg
				p.FrameWidth, p.FrameHeight = 640, 480
				p.Orientation = o
				p.Region = region
				t.Run(fmt.Sprintf("o%d_c%d_r%d", o, ci, ri), func(t *testing.T) {
					tr, err := New(p)
					require.NoError(t, err)
					for _, pt := range points {
						assertPoint(t, pt, tr.ToFrame(tr.ToModel(pt)))
					}
				})
			}
		}
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	base := Params{FrameWidth: 640, FrameHeight: 480, ModelWidth: 80, ModelHeight: 80, Scale: 1}

	p := base
	p.Scale = 0
	_, err := New(p)
	assert.ErrorIs(t, err, ErrScale)

	p = base
	p.Scale = -2
	_, err = New(p)
	assert.ErrorIs(t, err, ErrScale)

	p = base
	p.Orientation = 45
	_, err = New(p)
	assert.ErrorIs(t, err, ErrOrientation)

	p = base
	p.ModelWidth = 0
	_, err = New(p)
	assert.ErrorIs(t, err, ErrModelSize)

	p = base
	p.Region = R(10, 10, 10, 40)
	_, err = New(p)
	assert.ErrorIs(t, err, ErrRegion)
}

func TestIoU(t *testing.T) {
	a := R(0, 0, 10, 10)
	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 0.0, a.IoU(R(20, 20, 30, 30)), 1e-9)
	assert.InDelta(t, 25.0/175.0, a.IoU(R(5, 5, 15, 15)), 1e-9)
}

func TestPixelCenters(t *testing.T) {
	m := Scale(0.5, 0.5).PixelCenters()
	// Pixel 1 covers [1,2); its centre 1.5 maps to 0.75, which is index 0.25.
	assertPoint(t, Point{0.25, 0.25}, m.Apply(Point{1, 1}))
}
