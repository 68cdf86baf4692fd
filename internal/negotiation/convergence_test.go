package negotiation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	d := Detector{}

	tests := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{name: "no history", history: nil, want: TrendUnknown},
		{name: "one round", history: []float64{0.5}, want: TrendUnknown},
		{name: "improving", history: []float64{0.4, 0.55, 0.7}, want: TrendImproving},
		{name: "declining", history: []float64{0.7, 0.55, 0.4}, want: TrendDeclining},
		{name: "plateau", history: []float64{0.6, 0.605, 0.602}, want: TrendPlateau},
		{name: "oscillating", history: []float64{0.4, 0.7, 0.45}, want: TrendOscillating},
		{name: "window ignores old decline", history: []float64{0.9, 0.3, 0.4, 0.5, 0.6}, want: TrendImproving},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Classify(tt.history))
		})
	}
}

func TestDeadlocked(t *testing.T) {
	d := Detector{}

	tests := []struct {
		name      string
		history   []float64
		threshold float64
		want      bool
	}{
		{name: "too little history", history: []float64{0.5, 0.5}, threshold: 0.85, want: false},
		{name: "stuck below threshold", history: []float64{0.5, 0.505, 0.5}, threshold: 0.85, want: true},
		{name: "still improving", history: []float64{0.4, 0.55, 0.7}, threshold: 0.85, want: false},
		{name: "above threshold is never deadlock", history: []float64{0.9, 0.9, 0.9}, threshold: 0.85, want: false},
		{name: "declining counts as no progress", history: []float64{0.6, 0.5, 0.45}, threshold: 0.85, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Deadlocked(tt.history, tt.threshold))
		})
	}
}

func TestDetectorCustomWindow(t *testing.T) {
	d := Detector{Window: 2}
	// Only the last two entries are examined.
	assert.Equal(t, TrendDeclining, d.Classify([]float64{0.1, 0.5, 0.4}))
}
