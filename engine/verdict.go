package engine

// Verdict is the user-facing reading of a liveness score.
type Verdict string

const (
	VerdictUnknown      Verdict = "unknown"
	VerdictLive         Verdict = "live"
	VerdictProbablyLive Verdict = "probably-live"
	VerdictSpoof        Verdict = "spoof"
)

const (
	LiveThreshold     float32 = 0.9
	ProbableThreshold float32 = 0.5
)

// Thresholds are the score cut-offs for Classify.
type Thresholds struct {
	Live     float32 `yaml:"live"`
	Probable float32 `yaml:"probable"`
}

var DefaultThresholds = Thresholds{Live: LiveThreshold, Probable: ProbableThreshold}

// Classify maps a score onto a verdict. Negative scores are the sentinel for
// "could not evaluate".
func (t Thresholds) Classify(score float32) Verdict {
	switch {
	case score < 0:
		return VerdictUnknown
	case score >= t.Live:
		return VerdictLive
	case score >= t.Probable:
		return VerdictProbablyLive
	}
	return VerdictSpoof
}

func Classify(score float32) Verdict {
	return DefaultThresholds.Classify(score)
}
