package frame

import (
	"bytes"
	"fmt"
	"image"
	"io"

	iface "SpoofDetServer/interface"

	"github.com/disintegration/imaging"
)

// Decode reads a compressed image (JPEG, PNG, ...) into an upright RGBA View.
// EXIF orientation is applied while decoding, so the View orientation is 0.
func Decode(r io.Reader) (View, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return View{}, fmt.Errorf("%w: %v", iface.ErrInvalidFrame, err)
	}
	return FromImage(img)
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(b []byte) (View, error) {
	return Decode(bytes.NewReader(b))
}

// FromImage copies img into a tightly packed RGBA View.
func FromImage(img image.Image) (View, error) {
	if img == nil {
		return View{}, fmt.Errorf("%w: nil image", iface.ErrInvalidFrame)
	}
	b := img.Bounds()
	if b.Empty() {
		return View{}, fmt.Errorf("%w: empty image", iface.ErrInvalidFrame)
	}
	nrgba := imaging.Clone(img)
	return View{
		Data:   nrgba.Pix,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: RGBA,
	}, nil
}
