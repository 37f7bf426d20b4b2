package engine

import (
	"errors"
	"fmt"

	"SpoofDetServer/backend"
	"SpoofDetServer/frame"
	"SpoofDetServer/geometry"
	iface "SpoofDetServer/interface"
)

// Ensemble runs an ordered list of liveness sub-models against one face and
// aggregates their scores. A failing sub-model fails the whole call.
type Ensemble struct {
	newBackend  backend.Factory
	modelDir    string
	aggregation Aggregation
	models      []*LivenessModel
	attempted   bool
	ready       bool
	scores      []float32
}

func NewEnsemble(newBackend backend.Factory, modelDir string, aggregation Aggregation) *Ensemble {
	if aggregation == "" {
		aggregation = AggregateMean
	}
	return &Ensemble{newBackend: newBackend, modelDir: modelDir, aggregation: aggregation}
}

// LoadAll loads configs in order and stops at the first failure, returning a
// *iface.ModelLoadError with its index. Models loaded before the failure stay
// loaded until Close.
func (e *Ensemble) LoadAll(configs []iface.ModelConfig) error {
	if e.attempted {
		return &iface.ModelLoadError{Index: iface.EnsembleIndex, Name: "ensemble", Err: errAlreadyLoaded}
	}
	if len(configs) == 0 {
		return &iface.ModelLoadError{Index: iface.EnsembleIndex, Name: "ensemble", Err: errors.New("no liveness models configured")}
	}
	e.attempted = true
	for i, cfg := range configs {
		m := NewLivenessModel(e.newBackend())
		if err := m.Load(cfg, e.modelDir); err != nil {
			_ = m.Close()
			return &iface.ModelLoadError{Index: i, Name: cfg.Name, Err: err}
		}
		e.models = append(e.models, m)
	}
	e.ready = true
	return nil
}

// Ready reports whether every configured sub-model loaded.
func (e *Ensemble) Ready() bool {
	return e.ready
}

// Len is the number of loaded sub-models.
func (e *Ensemble) Len() int {
	return len(e.models)
}

func (e *Ensemble) Names() []string {
	names := make([]string, len(e.models))
	for i, m := range e.models {
		names[i] = m.cfg.Name
	}
	return names
}

func (e *Ensemble) Aggregation() Aggregation {
	return e.aggregation
}

func (e *Ensemble) Score(v frame.View, face iface.FaceBox) (float32, error) {
	if !e.ready {
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
	return e.score(src, region)
}

func (e *Ensemble) score(src *source, region geometry.Rect) (float32, error) {
	e.scores = e.scores[:0]
	for i, m := range e.models {
		s, err := m.score(src, region)
		if err != nil {
			return iface.SentinelScore, fmt.Errorf("liveness model %d (%s): %w", i, m.cfg.Name, err)
		}
		e.scores = append(e.scores, s)
	}
	return e.aggregation.apply(e.scores), nil
}

// Close releases every loaded sub-model and returns the first error.
func (e *Ensemble) Close() error {
	var first error
	for _, m := range e.models {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.models = nil
	e.ready = false
	return first
}
