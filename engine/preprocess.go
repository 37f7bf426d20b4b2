package engine

import (
	"fmt"
	"image"
	"image/color"

	"SpoofDetServer/frame"
	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"

	"gocv.io/x/gocv"
)

// source is one frame converted to BGR, shared by every model that runs on
// it within a single call.
type source struct {
	view frame.View
	bgr  gocv.Mat
}

func newSource(v frame.View) (*source, error) {
	bgr, err := frame.ToBGR(v)
	if err != nil {
		return nil, err
	}
	v.Data = nil
	return &source{view: v, bgr: bgr}, nil
}

func (s *source) Close() {
	_ = s.bgr.Close()
}

// params returns transform parameters for the source frame with the given
// model input geometry and a unit scale.
func (s *source) params(width, height int) geometry.Params {
	return geometry.Params{
		FrameWidth:  s.view.Width,
		FrameHeight: s.view.Height,
		Orientation: s.view.Orientation,
		ModelWidth:  width,
		ModelHeight: height,
		Scale:       1,
	}
}

// blobSpec describes how warped pixels become a tensor: out = (px - Mean) * Norm.
type blobSpec struct {
	Width, Height int
	Mean          [3]float64
	Norm          float64
	SwapRB        bool
}

// tensor warps src through t into a Width x Height BGR image and packs it as
// a 1x3xHxW float tensor. The tensor data reuses buf when it is large enough.
func (b blobSpec) tensor(src *source, t *geometry.Transform, buf []float32) (iface.Tensor, error) {
	m := t.Forward().PixelCenters().Matrix()
	affine := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer affine.Close()
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			affine.SetDoubleAt(r, c, m[r][c])
		}
	}

	size := image.Pt(b.Width, b.Height)
	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpAffineWithParams(src.bgr, &warped, affine, size,
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	if warped.Empty() {
		return iface.Tensor{}, fmt.Errorf("%w: warp produced no pixels", iface.ErrBackend)
	}

	norm := b.Norm
	if norm == 0 {
		norm = 1
	}
	blob := gocv.BlobFromImage(warped, norm, size,
		gocv.NewScalar(b.Mean[0], b.Mean[1], b.Mean[2], 0), b.SwapRB, false)
	defer blob.Close()
	data, err := blob.DataPtrFloat32()
	if err != nil {
		return iface.Tensor{}, fmt.Errorf("%w: read blob: %v", iface.ErrBackend, err)
	}
	return iface.Tensor{
		Shape: []int64{1, 3, int64(b.Height), int64(b.Width)},
		Data:  append(buf[:0], data...),
	}, nil
}
