package engine

import (
	"fmt"
	"sort"

	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"
)

// candidate is a decoded box in model-input pixels.
type candidate struct {
	box   geometry.Rect
	score float32
}

type decoder func(outs []iface.Tensor, width, height int) ([]candidate, error)

var decoders = map[string]decoder{
	DecoderSSD:    decodeSSD,
	DecoderNative: decodeNative,
}

// decodeSSD reads DetectionOutput rows. Rows are 6 wide, or 7 wide when the
// runtime prefixes a batch index.
func decodeSSD(outs []iface.Tensor, width, height int) ([]candidate, error) {
	if len(outs) == 0 {
		return nil, fmt.Errorf("%w: ssd decoder needs one output", iface.ErrBackend)
	}
	data := outs[0].Data
	stride := 6
	if shape := outs[0].Shape; len(shape) > 0 && shape[len(shape)-1] == 7 {
		stride = 7
	}
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: ssd output of %d values is not a multiple of %d", iface.ErrBackend, len(data), stride)
	}
	off := stride - 6
	w, h := float64(width), float64(height)
	out := make([]candidate, 0, len(data)/stride)
	for i := 0; i+stride <= len(data); i += stride {
		row := data[i+off : i+stride]
		if row[0] < 0 {
			// padding rows carry label -1
			continue
		}
		out = append(out, candidate{
			box:   geometry.R(float64(row[2])*w, float64(row[3])*h, float64(row[4])*w, float64(row[5])*h),
			score: row[1],
		})
	}
	return out, nil
}

func decodeNative(outs []iface.Tensor, _, _ int) ([]candidate, error) {
	if len(outs) < 2 {
		return nil, fmt.Errorf("%w: native decoder needs boxes and scores outputs, got %d", iface.ErrBackend, len(outs))
	}
	boxes, scores := outs[0].Data, outs[1].Data
	if len(boxes)%4 != 0 {
		return nil, fmt.Errorf("%w: boxes output of %d values is not N x 4", iface.ErrBackend, len(boxes))
	}
	n := len(boxes) / 4
	// Two-class heads emit (background, face) per box.
	perBox := 1
	switch len(scores) {
	case n:
	case 2 * n:
		perBox = 2
	default:
		return nil, fmt.Errorf("%w: %d boxes but %d scores", iface.ErrBackend, n, len(scores))
	}
	out := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		b := boxes[i*4 : i*4+4]
		out = append(out, candidate{
			box:   geometry.R(float64(b[0]), float64(b[1]), float64(b[2]), float64(b[3])),
			score: scores[i*perBox+perBox-1],
		})
	}
	return out, nil
}

// nms keeps the highest scoring boxes, dropping any box whose IoU with an
// already kept box exceeds iou. The result is sorted by descending score.
func nms(cands []candidate, iou float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		overlap := false
		for _, k := range kept {
			if c.box.IoU(k.box) > float64(iou) {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, c)
		}
	}
	return kept
}
