// Package council defines the core data model for multi-model deliberation:
// council members, per-round exchanges, deliberation threads, similarity
// results, and the final consensus decision.
package council

import (
	"math"
	"time"
)

// =============================================================================
// COUNCIL MEMBERS
// =============================================================================

// Member is one independent responder participating in a request.
// Members are immutable for the lifetime of a request.
type Member struct {
	ID             string  `yaml:"id" json:"id"`
	Name           string  `yaml:"name" json:"name"`
	Model          string  `yaml:"model" json:"model"`
	TimeoutSeconds float64 `yaml:"timeout_seconds" json:"timeout_seconds"`
	Weight         float64 `yaml:"weight" json:"weight"`
	MaxRetries     int     `yaml:"max_retries" json:"max_retries"`
	Disabled       bool    `yaml:"disabled" json:"disabled"`
}

// Timeout returns the member's per-call timeout as a duration.
func (m Member) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds * float64(time.Second))
}

// ActiveMembers filters out disabled members.
func ActiveMembers(members []Member) []Member {
	active := make([]Member, 0, len(members))
	for _, m := range members {
		if !m.Disabled {
			active = append(active, m)
		}
	}
	return active
}

// =============================================================================
// EXCHANGES AND THREADS
// =============================================================================

// Exchange is one member's response within a given round. Created once per
// member per round; never mutated, only superseded the following round.
type Exchange struct {
	MemberID  string
	Content   string // always normalized plain text
	TokensIn  int
	TokensOut int
	Latency   time.Duration
	Round     int
	Timestamp time.Time
	Failed    bool
	Err       string
}

// Round is one synchronized wave of exchanges, with optional cross-references
// to the peer exchanges each member saw when responding.
type Round struct {
	Number    int
	Exchanges []Exchange
	PeerRefs  []string // member IDs whose answers were visible this round
}

// =============================================================================
// SIMILARITY
// =============================================================================

// PairSimilarity identifies one below-threshold pair in a similarity matrix.
type PairSimilarity struct {
	A, B  string
	Score float64
}

// SimilarityResult is a symmetric pairwise similarity matrix with aggregate
// statistics. Recomputed fresh every round; never cached across rounds.
type SimilarityResult struct {
	MemberIDs      []string
	Matrix         [][]float64
	Average        float64
	Min            float64
	Max            float64
	BelowThreshold []PairSimilarity
}

// AllPairsMeet reports whether every off-diagonal pair meets the threshold.
// An average above threshold with one low pair must NOT count as consensus.
func (r SimilarityResult) AllPairsMeet(threshold float64) bool {
	for i := range r.Matrix {
		for j := i + 1; j < len(r.Matrix[i]); j++ {
			if r.Matrix[i][j] < threshold {
				return false
			}
		}
	}
	return true
}

// Clamp01 clamps a similarity or agreement value into [0,1].
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// DECISIONS
// =============================================================================

// Confidence is the calibrated confidence tier of a decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Strategy names the synthesis strategy that produced a decision.
type Strategy string

const (
	StrategyConsensus Strategy = "consensus"
	StrategyWeighted  Strategy = "weighted"
	StrategyMeta      Strategy = "meta"
	StrategyAdaptive  Strategy = "adaptive" // iterative negotiation
)

// NegotiationMeta carries the extra metadata produced only by the iterative
// strategy.
type NegotiationMeta struct {
	RoundsUsed            int
	SimilarityProgression []float64
	ConsensusReached      bool
	EarlyTerminated       bool
	FallbackUsed          bool
	DeadlockDetected      bool
	EscalationAdvised     bool
	QualityScore          float64
	EstimatedCostSavings  float64
}

// Decision is the single collapsed answer for a request.
type Decision struct {
	Content        string
	Confidence     Confidence
	Agreement      float64 // always clamped to [0,1]
	Strategy       Strategy
	Contributing   []string // member IDs that contributed
	Negotiation    *NegotiationMeta
	GlobalDeadline bool // produced by harvesting a deadline-expired distribution
}

// ConfidenceForAgreement maps an agreement score onto the standard tiers used
// by consensus extraction and meta-synthesis.
func ConfidenceForAgreement(agreement float64) Confidence {
	switch {
	case agreement > 0.8:
		return ConfidenceHigh
	case agreement > 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
