package negotiation

import "math"

// =============================================================================
// CONVERGENCE DETECTION
// =============================================================================

// Trend classifies how average similarity is moving across rounds.
type Trend string

const (
	TrendImproving   Trend = "improving"
	TrendPlateau     Trend = "plateau"
	TrendDeclining   Trend = "declining"
	TrendOscillating Trend = "oscillating"
	TrendUnknown     Trend = "unknown" // not enough history
)

// plateauEpsilon is the per-round delta below which movement counts as noise.
const plateauEpsilon = 0.01

// Detector turns a similarity-history sequence into a trend classification
// and a deadlock signal. It is stateless; the full history is passed on each
// call.
type Detector struct {
	// Window is how many recent rounds are examined. Zero means 3.
	Window int
}

func (d Detector) window() int {
	if d.Window <= 0 {
		return 3
	}
	return d.Window
}

// Classify returns the trend over the most recent window of history.
func (d Detector) Classify(history []float64) Trend {
	if len(history) < 2 {
		return TrendUnknown
	}

	recent := history
	if len(recent) > d.window() {
		recent = recent[len(recent)-d.window():]
	}

	var ups, downs, flats int
	for i := 1; i < len(recent); i++ {
		delta := recent[i] - recent[i-1]
		switch {
		case delta > plateauEpsilon:
			ups++
		case delta < -plateauEpsilon:
			downs++
		default:
			flats++
		}
	}

	switch {
	case ups > 0 && downs > 0:
		return TrendOscillating
	case ups > 0:
		return TrendImproving
	case downs > 0:
		return TrendDeclining
	default:
		return TrendPlateau
	}
}

// Deadlocked reports whether negotiation has stopped making progress: at
// least three rounds of history, the latest average still below the
// threshold, and no meaningful net improvement across the recent window.
func (d Detector) Deadlocked(history []float64, threshold float64) bool {
	if len(history) < 3 {
		return false
	}
	latest := history[len(history)-1]
	if latest >= threshold {
		return false
	}

	recent := history
	if len(recent) > d.window() {
		recent = recent[len(recent)-d.window():]
	}
	netGain := recent[len(recent)-1] - recent[0]
	return netGain < plateauEpsilon || math.IsNaN(netGain)
}
