package council

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp01(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  float64
	}{
		{name: "in range", input: 0.5, want: 0.5},
		{name: "zero", input: 0, want: 0},
		{name: "one", input: 1, want: 1},
		{name: "negative", input: -0.3, want: 0},
		{name: "above one", input: 1.7, want: 1},
		{name: "NaN", input: math.NaN(), want: 0},
		{name: "positive infinity", input: math.Inf(1), want: 1},
		{name: "negative infinity", input: math.Inf(-1), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clamp01(tt.input))
		})
	}
}

func TestConfidenceForAgreement(t *testing.T) {
	tests := []struct {
		name      string
		agreement float64
		want      Confidence
	}{
		{name: "well above high bar", agreement: 0.95, want: ConfidenceHigh},
		{name: "exactly high bar is medium", agreement: 0.8, want: ConfidenceMedium},
		{name: "just above high bar", agreement: 0.81, want: ConfidenceHigh},
		{name: "middle", agreement: 0.6, want: ConfidenceMedium},
		{name: "exactly medium bar is low", agreement: 0.5, want: ConfidenceLow},
		{name: "low", agreement: 0.2, want: ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfidenceForAgreement(tt.agreement))
		})
	}
}

func TestAllPairsMeet(t *testing.T) {
	// Three members: one pair drags the minimum below the threshold while
	// the average stays above it. Consensus must look at every pair.
	r := SimilarityResult{
		MemberIDs: []string{"a", "b", "c"},
		Matrix: [][]float64{
			{1.0, 0.95, 0.90},
			{0.95, 1.0, 0.60},
			{0.90, 0.60, 1.0},
		},
		Average: 0.8166,
		Min:     0.60,
		Max:     0.95,
	}

	assert.False(t, r.AllPairsMeet(0.8), "average above threshold must not imply consensus")
	assert.True(t, r.AllPairsMeet(0.6))
	assert.True(t, r.AllPairsMeet(0.5))
}

func TestActiveMembers(t *testing.T) {
	members := []Member{
		{ID: "a"},
		{ID: "b", Disabled: true},
		{ID: "c"},
	}
	active := ActiveMembers(members)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
}

func TestMemberTimeout(t *testing.T) {
	m := Member{TimeoutSeconds: 1.5}
	assert.Equal(t, int64(1500), m.Timeout().Milliseconds())
}
