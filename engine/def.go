package engine

import (
	"fmt"
	"strings"
)

const UNINITIALIZED = 0x0001
const READY = 0x0003
const DESTROYED = 0x0006

func stateName(state int) string {
	switch state {
	case UNINITIALIZED:
		return "uninitialized"
	case READY:
		return "ready"
	case DESTROYED:
		return "destroyed"
	}
	return fmt.Sprintf("state(%#04x)", state)
}

// Detector defaults applied to zero-valued DetectorConfig fields.
const (
	DefaultConfThreshold float32 = 0.6
	DefaultNMSThreshold  float32 = 0.4
	DefaultInputSize             = 320
	DefaultDecoder               = DecoderSSD
)

const (
	// DecoderSSD reads DetectionOutput rows of [label, score, x1, y1, x2, y2]
	// with coordinates normalized to the model input.
	DecoderSSD = "ssd"
	// DecoderNative reads a boxes tensor (N x 4, xyxy in model pixels)
	// followed by a scores tensor (N).
	DecoderNative = "native"
)

// DefaultLiveIndex is the softmax class that means "live" in two-class
// liveness heads.
const DefaultLiveIndex = 1

// Aggregation combines the ordered sub-model scores of an ensemble.
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	// AggregateMin is the strict mode: every sub-model must agree the face is live.
	AggregateMin Aggregation = "min"
)

func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AggregateMean, nil
	case AggregateMean, AggregateMin:
		return a, nil
	}
	return "", fmt.Errorf("unknown aggregation %q (want mean or min)", s)
}

// apply folds scores in index order so the result is bit-for-bit reproducible.
func (a Aggregation) apply(scores []float32) float32 {
	if len(scores) == 0 {
		return 0
	}
	switch a {
	case AggregateMin:
		m := scores[0]
		for _, s := range scores[1:] {
			if s < m {
				m = s
			}
		}
		return m
	default:
		var sum float64
		for _, s := range scores {
			sum += float64(s)
		}
		return float32(sum / float64(len(scores)))
	}
}
