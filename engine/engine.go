// Package engine implements face detection and liveness scoring over camera
// frames. An Engine bundles one FaceDetector and one liveness Ensemble behind
// a single mutex; every exported Engine method is safe for concurrent use and
// runs at most one inference at a time.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"SpoofDetServer/backend"
	"SpoofDetServer/frame"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"

	"go.uber.org/zap"
)

type Engine struct {
	mu          sync.Mutex
	state       int
	id          string
	description string
	modelDir    string
	aggregation Aggregation
	thresholds  Thresholds

	newBackend backend.Factory
	detector   *FaceDetector
	ensemble   *Ensemble
	log        *zap.Logger
}

type Option func(*Engine)

// WithModelDir sets the directory liveness model names are resolved against.
func WithModelDir(dir string) Option {
	return func(e *Engine) { e.modelDir = dir }
}

func WithAggregation(a Aggregation) Option {
	return func(e *Engine) { e.aggregation = a }
}

func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithDescription(d string) Option {
	return func(e *Engine) { e.description = d }
}

func withID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// New creates an engine with no models loaded. Every model the engine loads
// gets its own backend from newBackend.
func New(newBackend backend.Factory, opts ...Option) (*Engine, error) {
	if newBackend == nil {
		return nil, errors.New("engine: nil backend factory")
	}
	e := &Engine{
		state:       UNINITIALIZED,
		aggregation: AggregateMean,
		thresholds:  DefaultThresholds,
		newBackend:  newBackend,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Log()
	}
	if e.id != "" {
		e.log = e.log.With(zap.String("engine", e.id))
	}
	return e, nil
}

// recoverBackend turns a panic raised inside a backend into ErrBackend so the
// engine stays usable.
func (e *Engine) recoverBackend(op string, err *error) {
	if r := recover(); r != nil {
		e.log.Error("backend panic recovered", zap.String("op", op), zap.Any("panic", r), zap.Stack("stack"))
		*err = fmt.Errorf("%w: panic in %s: %v", iface.ErrBackend, op, r)
	}
}

// LoadFaceModel loads the detector. Zero-valued config fields take the
// package defaults. The detector cannot be reloaded.
func (e *Engine) LoadFaceModel(cfg iface.DetectorConfig) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverBackend("LoadFaceModel", &err)

	if e.state == DESTROYED {
		return iface.ErrInvalidHandle
	}
	if e.detector != nil {
		return &iface.ModelLoadError{Index: iface.DetectorIndex, Name: cfg.ModelPath, Err: errAlreadyLoaded}
	}
	d := NewFaceDetector(e.newBackend())
	if err := d.Load(cfg); err != nil {
		_ = d.Close()
		e.log.Warn("face model load failed", zap.String("path", cfg.ModelPath), zap.Error(err))
		return err
	}
	e.detector = d
	e.state = READY
	e.log.Info("face model loaded", zap.String("path", cfg.ModelPath), zap.String("decoder", d.Config().Decoder))
	return nil
}

// LoadLivenessModels loads the ensemble in config order. On failure the
// returned *iface.ModelLoadError names the failing index; models before it
// stay loaded until Destroy.
func (e *Engine) LoadLivenessModels(configs []iface.ModelConfig) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverBackend("LoadLivenessModels", &err)

	if e.state == DESTROYED {
		return iface.ErrInvalidHandle
	}
	if e.ensemble != nil {
		return &iface.ModelLoadError{Index: iface.EnsembleIndex, Name: "ensemble", Err: errAlreadyLoaded}
	}
	e.ensemble = NewEnsemble(e.newBackend, e.modelDir, e.aggregation)
	if err := e.ensemble.LoadAll(configs); err != nil {
		e.log.Warn("liveness models load failed", zap.Int("loaded", e.ensemble.Len()), zap.Error(err))
		return err
	}
	e.state = READY
	e.log.Info("liveness models loaded", zap.Strings("models", e.ensemble.Names()),
		zap.String("aggregation", string(e.aggregation)))
	return nil
}

// ready reports ErrInvalidHandle unless the engine has loaded at least one
// component and has not been destroyed.
func (e *Engine) ready() error {
	if e.state != READY {
		return fmt.Errorf("%w: engine is %s", iface.ErrInvalidHandle, stateName(e.state))
	}
	return nil
}

// DetectFaces returns the faces in v, highest confidence first.
func (e *Engine) DetectFaces(v frame.View) (faces []iface.FaceBox, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if err != nil {
			faces = []iface.FaceBox{}
		}
	}()
	defer e.recoverBackend("DetectFaces", &err)

	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.detector == nil {
		return nil, iface.ErrNotLoaded
	}
	return e.detector.Detect(v)
}

// ScoreLiveness returns the aggregated live probability of face in v. On
// failure the score is iface.SentinelScore.
func (e *Engine) ScoreLiveness(v frame.View, face iface.FaceBox) (score float32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if err != nil {
			score = iface.SentinelScore
		}
	}()
	defer e.recoverBackend("ScoreLiveness", &err)

	if err := e.ready(); err != nil {
		return iface.SentinelScore, err
	}
	if e.ensemble == nil || !e.ensemble.Ready() {
		return iface.SentinelScore, iface.ErrNotLoaded
	}
	return e.ensemble.Score(v, face)
}

// FaceResult is one detected face with its liveness reading.
type FaceResult struct {
	Face    iface.FaceBox `json:"face"`
	Score   float32       `json:"score"`
	Verdict Verdict       `json:"verdict"`
	Status  iface.Status  `json:"status"`
}

// Analyze detects every face in v and scores each one, converting the frame
// once. A face that cannot be scored carries the sentinel score and its status
// instead of failing the call.
func (e *Engine) Analyze(v frame.View) (results []FaceResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverBackend("Analyze", &err)

	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.detector == nil || e.ensemble == nil || !e.ensemble.Ready() {
		return nil, iface.ErrNotLoaded
	}
	src, err := newSource(v)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	faces, err := e.detector.detect(src)
	if err != nil {
		return nil, err
	}
	results = make([]FaceResult, 0, len(faces))
	for _, f := range faces {
		res := FaceResult{Face: f, Score: iface.SentinelScore}
		region, err := clampBox(f, src.view.Bounds())
		if err == nil {
			res.Score, err = e.ensemble.score(src, region)
		}
		res.Status = iface.StatusOf(err)
		res.Verdict = e.thresholds.Classify(res.Score)
		results = append(results, res)
	}
	return results, nil
}

// Destroy releases every backend. The engine is unusable afterwards; a second
// Destroy returns ErrInvalidHandle.
func (e *Engine) Destroy() (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.recoverBackend("Destroy", &err)

	if e.state == DESTROYED {
		return iface.ErrInvalidHandle
	}
	e.state = DESTROYED
	var errs []error
	if e.detector != nil {
		errs = append(errs, e.detector.Close())
		e.detector = nil
	}
	if e.ensemble != nil {
		errs = append(errs, e.ensemble.Close())
		e.ensemble = nil
	}
	e.log.Info("engine destroyed")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: release: %v", iface.ErrBackend, err)
	}
	return nil
}

func (e *Engine) State() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) ID() string {
	return e.id
}

// Classify reads score against the engine's verdict thresholds.
func (e *Engine) Classify(score float32) Verdict {
	return e.thresholds.Classify(score)
}

func (e *Engine) Info() iface.EngineInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := iface.EngineInfo{
		ID:             e.id,
		Description:    e.description,
		State:          stateName(e.state),
		LivenessModels: []string{},
	}
	if e.detector != nil {
		info.DetectorModel = e.detector.Config().ModelPath
	}
	if e.ensemble != nil {
		info.LivenessModels = e.ensemble.Names()
	}
	return info
}
