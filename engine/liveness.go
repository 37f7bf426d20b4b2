package engine

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"SpoofDetServer/frame"
	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"
)

// LivenessModel owns one liveness sub-model and its crop policy.
type LivenessModel struct {
	backend iface.Backend
	cfg     iface.ModelConfig
	path    string
	blob    blobSpec
	loaded  bool
	buf     []float32
}

func NewLivenessModel(b iface.Backend) *LivenessModel {
	return &LivenessModel{backend: b}
}

// ResolvePath returns cfg.Path, or <modelDir>/<Name><ext> when it is empty.
func ResolvePath(cfg iface.ModelConfig, modelDir, ext string) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	if filepath.Ext(cfg.Name) == ext {
		return filepath.Join(modelDir, cfg.Name)
	}
	return filepath.Join(modelDir, cfg.Name+ext)
}

func validateModelConfig(cfg iface.ModelConfig) error {
	switch {
	case cfg.Width <= 0 || cfg.Height <= 0:
		return fmt.Errorf("input size %dx%d must be positive", cfg.Width, cfg.Height)
	case !(cfg.Scale > 0):
		return fmt.Errorf("scale %v must be positive", cfg.Scale)
	case cfg.LiveIndex < 0:
		return fmt.Errorf("live index %d", cfg.LiveIndex)
	case cfg.Name == "" && cfg.Path == "":
		return errors.New("model needs a name or a path")
	}
	return nil
}

// Load validates cfg and loads the model file resolved under modelDir. Errors
// are plain; the ensemble attaches the config index.
func (l *LivenessModel) Load(cfg iface.ModelConfig, modelDir string) error {
	if l.loaded {
		return errAlreadyLoaded
	}
	if err := validateModelConfig(cfg); err != nil {
		return err
	}
	if cfg.LiveIndex == 0 {
		cfg.LiveIndex = DefaultLiveIndex
	}
	path := ResolvePath(cfg, modelDir, l.backend.Ext())
	if err := l.backend.Load(path); err != nil {
		return err
	}
	l.cfg = cfg
	l.path = path
	l.blob = blobSpec{
		Width:  cfg.Width,
		Height: cfg.Height,
		Mean:   cfg.Mean,
		Norm:   cfg.Norm,
		SwapRB: cfg.SwapRB,
	}
	l.loaded = true
	return nil
}

func (l *LivenessModel) Config() iface.ModelConfig {
	return l.cfg
}

// Score returns the probability in [0, 1] that face in v is live.
func (l *LivenessModel) Score(v frame.View, face iface.FaceBox) (float32, error) {
	if !l.loaded {
		return iface.SentinelScore, iface.ErrNotLoaded
	}
	src, err := newSource(v)
	if err != nil {
		return iface.SentinelScore, err
	}
	defer src.Close()
	region, err := clampBox(face, src.view.Bounds())
	if err != nil {
		return iface.SentinelScore, err
	}
	return l.score(src, region)
}

// clampBox clips a partially visible face to the frame. A box with no area
// or no overlap with the frame is rejected.
func clampBox(face iface.FaceBox, bounds geometry.Rect) (geometry.Rect, error) {
	if !face.Valid() {
		return geometry.Rect{}, fmt.Errorf("%w: (%d,%d)-(%d,%d) has no area",
			iface.ErrInvalidBox, face.Left, face.Top, face.Right, face.Bottom)
	}
	r := geometry.R(float64(face.Left), float64(face.Top), float64(face.Right), float64(face.Bottom)).Intersect(bounds)
	if r.Empty() {
		return geometry.Rect{}, fmt.Errorf("%w: (%d,%d)-(%d,%d) lies outside the %vx%v frame",
			iface.ErrInvalidBox, face.Left, face.Top, face.Right, face.Bottom, bounds.Dx(), bounds.Dy())
	}
	return r, nil
}

func (l *LivenessModel) transform(src *source, region geometry.Rect) (*geometry.Transform, error) {
	p := src.params(l.cfg.Width, l.cfg.Height)
	p.OrgResize = l.cfg.OrgResize
	p.Scale = float64(l.cfg.Scale)
	p.ShiftX = float64(l.cfg.ShiftX)
	p.ShiftY = float64(l.cfg.ShiftY)
	p.Region = region
	return geometry.New(p)
}

func (l *LivenessModel) score(src *source, region geometry.Rect) (float32, error) {
	t, err := l.transform(src, region)
	if err != nil {
		return iface.SentinelScore, fmt.Errorf("%w: %v", iface.ErrInvalidBox, err)
	}
	in, err := l.blob.tensor(src, t, l.buf)
	if err != nil {
		return iface.SentinelScore, err
	}
	l.buf = in.Data

	outs, err := l.backend.Run(in)
	if err != nil {
		return iface.SentinelScore, fmt.Errorf("%w: %v", iface.ErrBackend, err)
	}
	if len(outs) == 0 || len(outs[0].Data) == 0 {
		return iface.SentinelScore, fmt.Errorf("%w: %s produced no output", iface.ErrBackend, l.cfg.Name)
	}
	return liveProbability(outs[0].Data, l.cfg.LiveIndex)
}

// liveProbability maps raw logits to a live probability: softmax over
// classes, or a sigmoid for single-logit heads.
func liveProbability(logits []float32, liveIndex int) (float32, error) {
	for _, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return iface.SentinelScore, fmt.Errorf("%w: non-finite model output", iface.ErrBackend)
		}
	}
	if len(logits) == 1 {
		return float32(1 / (1 + math.Exp(-float64(logits[0])))), nil
	}
	if liveIndex >= len(logits) {
		return iface.SentinelScore, fmt.Errorf("%w: live index %d but only %d classes", iface.ErrBackend, liveIndex, len(logits))
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxLogit)
	}
	p := math.Exp(float64(logits[liveIndex])-maxLogit) / sum
	if math.IsNaN(p) {
		return iface.SentinelScore, fmt.Errorf("%w: non-finite model output", iface.ErrBackend)
	}
	return float32(p), nil
}

func (l *LivenessModel) Close() error {
	l.loaded = false
	l.buf = nil
	return l.backend.Close()
}
