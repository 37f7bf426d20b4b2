package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gray(width, height int, format PixelFormat) View {
	v := View{Width: width, Height: height, Format: format}
	v.Data = bytes.Repeat([]byte{128}, v.Size())
	return v
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		view View
		ok   bool
	}{
		{"nv21", gray(640, 480, NV21), true},
		{"i420", gray(64, 48, I420), true},
		{"bgr odd", gray(3, 5, BGR), true},
		{"zero width", View{Width: 0, Height: 480, Format: NV21}, false},
		{"odd yuv", gray(5, 4, NV21), false},
		{"short buffer", View{Data: make([]byte, 10), Width: 4, Height: 4, Format: NV21}, false},
		{"bad orientation", View{Data: make([]byte, 24), Width: 4, Height: 4, Format: NV21, Orientation: 45}, false},
		{"unknown format", View{Data: make([]byte, 64), Width: 4, Height: 4, Format: PixelFormat(42)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.view.Validate()
			if c.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, iface.ErrInvalidFrame)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("nv12")
	require.NoError(t, err)
	assert.Equal(t, NV12, f)
	assert.Equal(t, "nv12", f.String())

	_, err = ParseFormat("yuyv")
	assert.ErrorIs(t, err, iface.ErrInvalidFrame)
}

func TestNV12ToNV21(t *testing.T) {
	// 2x2 luma followed by one interleaved UV pair.
	nv12 := []byte{1, 2, 3, 4, 10, 20}
	nv21, err := NV12ToNV21(nv12, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 20, 10}, nv21)
	assert.Equal(t, []byte{1, 2, 3, 4, 10, 20}, nv12, "input must not be modified")

	_, err = NV12ToNV21(nv12[:4], 2, 2)
	assert.ErrorIs(t, err, iface.ErrInvalidFrame)
}

func TestToBGR(t *testing.T) {
	t.Run("rgba swaps channels", func(t *testing.T) {
		v := View{Data: []byte{10, 20, 30, 255, 40, 50, 60, 255}, Width: 2, Height: 1, Format: RGBA}
		mat, err := ToBGR(v)
		require.NoError(t, err)
		defer mat.Close()
		assert.Equal(t, 2, mat.Cols())
		assert.Equal(t, 1, mat.Rows())
		assert.Equal(t, []byte{30, 20, 10, 60, 50, 40}, mat.ToBytes())
	})

	t.Run("neutral nv21 is gray", func(t *testing.T) {
		mat, err := ToBGR(gray(16, 8, NV21))
		require.NoError(t, err)
		defer mat.Close()
		assert.Equal(t, 16, mat.Cols())
		assert.Equal(t, 8, mat.Rows())
		assert.Equal(t, 3, mat.Channels())
		for _, px := range mat.ToBytes() {
			assert.InDelta(t, 129, int(px), 4)
		}
	})

	t.Run("invalid frame", func(t *testing.T) {
		mat, err := ToBGR(View{Width: 3, Height: 3, Format: NV21})
		defer mat.Close()
		assert.ErrorIs(t, err, iface.ErrInvalidFrame)
	})
}

func TestDecode(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	v, err := DecodeBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 3, v.Width)
	assert.Equal(t, 2, v.Height)
	assert.Equal(t, RGBA, v.Format)
	assert.Equal(t, geometry.Rotate0, v.Orientation)
	assert.Equal(t, []byte{200, 100, 50, 255}, v.Data[:4])
	assert.NoError(t, v.Validate())

	_, err = DecodeBytes([]byte("not an image"))
	assert.ErrorIs(t, err, iface.ErrInvalidFrame)
}
