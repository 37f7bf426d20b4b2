package engine

import (
	"errors"
	"fmt"
	"math"

	"SpoofDetServer/frame"
	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"
)

var errAlreadyLoaded = errors.New("already loaded, reload is not supported")

// FaceDetector owns one detection model. It is not safe for concurrent use;
// Engine serializes access.
type FaceDetector struct {
	backend iface.Backend
	cfg     iface.DetectorConfig
	blob    blobSpec
	decode  decoder
	loaded  bool
	buf     []float32
}

func NewFaceDetector(b iface.Backend) *FaceDetector {
	return &FaceDetector{backend: b}
}

func withDetectorDefaults(cfg iface.DetectorConfig) iface.DetectorConfig {
	if cfg.InputWidth == 0 {
		cfg.InputWidth = DefaultInputSize
	}
	if cfg.InputHeight == 0 {
		cfg.InputHeight = DefaultInputSize
	}
	if cfg.ConfThreshold == 0 {
		cfg.ConfThreshold = DefaultConfThreshold
	}
	if cfg.NMSThreshold == 0 {
		cfg.NMSThreshold = DefaultNMSThreshold
	}
	if cfg.Decoder == "" {
		cfg.Decoder = DefaultDecoder
	}
	if cfg.Norm == 0 {
		cfg.Norm = 1
	}
	return cfg
}

// Load initializes the detector. Failures are reported as *iface.ModelLoadError.
func (d *FaceDetector) Load(cfg iface.DetectorConfig) error {
	cfg = withDetectorDefaults(cfg)
	fail := func(err error) error {
		return &iface.ModelLoadError{Index: iface.DetectorIndex, Name: cfg.ModelPath, Err: err}
	}
	if d.loaded {
		return fail(errAlreadyLoaded)
	}
	if cfg.ModelPath == "" {
		return fail(errors.New("empty model path"))
	}
	if cfg.InputWidth < 0 || cfg.InputHeight < 0 {
		return fail(fmt.Errorf("input size %dx%d", cfg.InputWidth, cfg.InputHeight))
	}
	if cfg.ConfThreshold < 0 || cfg.ConfThreshold > 1 || cfg.NMSThreshold < 0 || cfg.NMSThreshold > 1 {
		return fail(fmt.Errorf("thresholds must be within [0, 1], got conf=%v nms=%v", cfg.ConfThreshold, cfg.NMSThreshold))
	}
	dec, ok := decoders[cfg.Decoder]
	if !ok {
		return fail(fmt.Errorf("unknown decoder %q", cfg.Decoder))
	}
	if err := d.backend.Load(cfg.ModelPath); err != nil {
		return fail(err)
	}
	d.cfg = cfg
	d.decode = dec
	d.blob = blobSpec{
		Width:  cfg.InputWidth,
		Height: cfg.InputHeight,
		Mean:   cfg.Mean,
		Norm:   cfg.Norm,
		SwapRB: cfg.SwapRB,
	}
	d.loaded = true
	return nil
}

func (d *FaceDetector) Loaded() bool {
	return d.loaded
}

func (d *FaceDetector) Config() iface.DetectorConfig {
	return d.cfg
}

// Detect returns the faces in v, highest confidence first. No faces is an
// empty slice and a nil error.
func (d *FaceDetector) Detect(v frame.View) ([]iface.FaceBox, error) {
	if !d.loaded {
		return nil, iface.ErrNotLoaded
	}
	src, err := newSource(v)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return d.detect(src)
}

func (d *FaceDetector) detect(src *source) ([]iface.FaceBox, error) {
	p := src.params(d.cfg.InputWidth, d.cfg.InputHeight)
	p.OrgResize = d.cfg.Letterbox
	t, err := geometry.New(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", iface.ErrInvalidFrame, err)
	}
	in, err := d.blob.tensor(src, t, d.buf)
	if err != nil {
		return nil, err
	}
	d.buf = in.Data

	outs, err := d.backend.Run(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", iface.ErrBackend, err)
	}
	cands, err := d.decode(outs, d.cfg.InputWidth, d.cfg.InputHeight)
	if err != nil {
		return nil, err
	}
	return d.postprocess(cands, t, src.view.Bounds()), nil
}

// postprocess thresholds, suppresses overlaps and maps survivors back into
// device-frame pixels.
func (d *FaceDetector) postprocess(cands []candidate, t *geometry.Transform, bounds geometry.Rect) []iface.FaceBox {
	mapped := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.score < d.cfg.ConfThreshold || math.IsNaN(float64(c.score)) {
			continue
		}
		box := t.RectToFrame(c.box).Intersect(bounds)
		if box.Empty() {
			continue
		}
		mapped = append(mapped, candidate{box: box, score: c.score})
	}

	faces := make([]iface.FaceBox, 0, len(mapped))
	for _, c := range nms(mapped, d.cfg.NMSThreshold) {
		fb := iface.FaceBox{
			Left:       int(math.Round(c.box.Min.X)),
			Top:        int(math.Round(c.box.Min.Y)),
			Right:      int(math.Round(c.box.Max.X)),
			Bottom:     int(math.Round(c.box.Max.Y)),
			Confidence: clamp01(c.score),
		}
		if fb.Valid() {
			faces = append(faces, fb)
		}
	}
	return faces
}

func (d *FaceDetector) Close() error {
	d.loaded = false
	d.buf = nil
	return d.backend.Close()
}

func clamp01(v float32) float32 {
	return float32(math.Min(1, math.Max(0, float64(v))))
}
