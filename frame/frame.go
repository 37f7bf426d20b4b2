// Package frame describes camera buffers handed to the engine and converts
// them to packed BGR for preprocessing.
package frame

import (
	"fmt"

	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"

	"gocv.io/x/gocv"
)

type PixelFormat int

const (
	NV21 PixelFormat = iota // Android camera default
	NV12                    // iOS bi-planar
	I420
	BGR
	BGRA
	RGBA
)

var formatNames = map[PixelFormat]string{
	NV21: "nv21",
	NV12: "nv12",
	I420: "i420",
	BGR:  "bgr",
	BGRA: "bgra",
	RGBA: "rgba",
}

func (f PixelFormat) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParseFormat maps a format name (as used on the wire) onto a PixelFormat.
func ParseFormat(name string) (PixelFormat, error) {
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pixel format %q", iface.ErrInvalidFrame, name)
}

func (f PixelFormat) yuv() bool {
	return f == NV21 || f == NV12 || f == I420
}

// View is a read-only view of one camera frame. Width and Height are the
// sensor dimensions; Orientation is the clockwise rotation that makes the
// image upright. The engine never retains Data past the call it is passed to.
type View struct {
	Data        []byte
	Width       int
	Height      int
	Format      PixelFormat
	Orientation geometry.Orientation
}

// Size returns the number of bytes a frame of this geometry occupies.
func (v View) Size() int {
	switch v.Format {
	case NV21, NV12, I420:
		return v.Width * v.Height * 3 / 2
	case BGR:
		return v.Width * v.Height * 3
	case BGRA, RGBA:
		return v.Width * v.Height * 4
	}
	return 0
}

// Validate reports ErrInvalidFrame for any buffer that cannot be decoded.
func (v View) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", iface.ErrInvalidFrame, v.Width, v.Height)
	}
	if _, ok := formatNames[v.Format]; !ok {
		return fmt.Errorf("%w: unknown pixel format %d", iface.ErrInvalidFrame, int(v.Format))
	}
	if v.Format.yuv() && (v.Width%2 != 0 || v.Height%2 != 0) {
		return fmt.Errorf("%w: %s needs even dimensions, got %dx%d", iface.ErrInvalidFrame, v.Format, v.Width, v.Height)
	}
	if !v.Orientation.Valid() {
		return fmt.Errorf("%w: orientation %d", iface.ErrInvalidFrame, int(v.Orientation))
	}
	if need := v.Size(); len(v.Data) < need {
		return fmt.Errorf("%w: buffer has %d bytes, %s %dx%d needs %d",
			iface.ErrInvalidFrame, len(v.Data), v.Format, v.Width, v.Height, need)
	}
	return nil
}

// Bounds is the sensor frame extent in continuous pixel coordinates.
func (v View) Bounds() geometry.Rect {
	return geometry.R(0, 0, float64(v.Width), float64(v.Height))
}

// ToBGR converts the frame into a newly allocated 8UC3 BGR Mat of Width x
// Height. The caller must Close it.
func ToBGR(v View) (gocv.Mat, error) {
	if err := v.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	data := v.Data[:v.Size()]

	rows, typ := v.Height, gocv.MatTypeCV8UC3
	var code gocv.ColorConversionCode
	switch v.Format {
	case NV21:
		rows, typ, code = v.Height*3/2, gocv.MatTypeCV8UC1, gocv.ColorYUVToBGRNV21
	case NV12:
		rows, typ, code = v.Height*3/2, gocv.MatTypeCV8UC1, gocv.ColorYUVToBGRNV12
	case I420:
		rows, typ, code = v.Height*3/2, gocv.MatTypeCV8UC1, gocv.ColorYUVToBGRIYUV
	case BGRA:
		typ, code = gocv.MatTypeCV8UC4, gocv.ColorBGRAToBGR
	case RGBA:
		typ, code = gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR
	}

	src, err := gocv.NewMatFromBytes(rows, v.Width, typ, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", iface.ErrInvalidFrame, err)
	}
	defer src.Close()

	if v.Format == BGR {
		return src.Clone(), nil
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	if dst.Empty() {
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("%w: %s conversion produced no pixels", iface.ErrInvalidFrame, v.Format)
	}
	return dst, nil
}

// NV12ToNV21 returns a copy of an NV12 buffer with the interleaved chroma
// pairs swapped, which is the NV21 layout.
func NV12ToNV21(data []byte, width, height int) ([]byte, error) {
	v := View{Data: data, Width: width, Height: height, Format: NV12}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, v.Size())
	luma := width * height
	copy(out[:luma], data[:luma])
	for i := luma; i+1 < len(out); i += 2 {
		out[i], out[i+1] = data[i+1], data[i]
	}
	return out, nil
}
