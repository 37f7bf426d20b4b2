package iface

import (
	"errors"
	"fmt"
)

// Status is the numeric result code reported at call boundaries.
type Status int32

const (
	StatusOK            Status = 0
	StatusInvalidHandle Status = -1
	StatusModelLoad     Status = -2
	StatusInvalidFrame  Status = -3
	StatusInvalidBox    Status = -4
	StatusBackend       Status = -5
	StatusNotLoaded     Status = -6
)

// SentinelScore is returned by liveness scoring when no score could be computed.
const SentinelScore float32 = -1

var (
	ErrInvalidHandle = errors.New("invalid engine handle")
	ErrModelLoad     = errors.New("model load failed")
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidBox    = errors.New("invalid face box")
	ErrBackend       = errors.New("inference backend failed")
	ErrNotLoaded     = errors.New("model not loaded")
)

const (
	// DetectorIndex marks a ModelLoadError raised by the face detector.
	DetectorIndex = -1
	// EnsembleIndex marks a ModelLoadError about the liveness model set as a
	// whole rather than one of its configs.
	EnsembleIndex = -2
)

// ModelLoadError reports which model failed to load.
type ModelLoadError struct {
	// Index is the 0-based liveness config index, DetectorIndex or
	// EnsembleIndex.
	Index int
	Name  string
	Err   error
}

func (e *ModelLoadError) Error() string {
	switch e.Index {
	case DetectorIndex:
		return fmt.Sprintf("load face detector %q: %v", e.Name, e.Err)
	case EnsembleIndex:
		return fmt.Sprintf("load liveness models: %v", e.Err)
	}
	return fmt.Sprintf("load liveness model %d (%q): %v", e.Index, e.Name, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

func (e *ModelLoadError) Is(target error) bool {
	return target == ErrModelLoad
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidHandle:
		return "InvalidHandle"
	case StatusModelLoad:
		return "ModelLoadError"
	case StatusInvalidFrame:
		return "InvalidFrame"
	case StatusInvalidBox:
		return "InvalidBox"
	case StatusBackend:
		return "BackendInferenceError"
	case StatusNotLoaded:
		return "NotLoaded"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// StatusOf maps an error onto its Status. Unknown errors are reported as backend failures.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidHandle):
		return StatusInvalidHandle
	case errors.Is(err, ErrModelLoad):
		return StatusModelLoad
	case errors.Is(err, ErrInvalidFrame):
		return StatusInvalidFrame
	case errors.Is(err, ErrInvalidBox):
		return StatusInvalidBox
	case errors.Is(err, ErrNotLoaded):
		return StatusNotLoaded
	}
	return StatusBackend
}

// Err is the sentinel error for s, or nil for StatusOK. Clients use it to turn
// a status received over the wire back into a matchable error.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusInvalidHandle:
		return ErrInvalidHandle
	case StatusModelLoad:
		return ErrModelLoad
	case StatusInvalidFrame:
		return ErrInvalidFrame
	case StatusInvalidBox:
		return ErrInvalidBox
	case StatusNotLoaded:
		return ErrNotLoaded
	}
	return ErrBackend
}
