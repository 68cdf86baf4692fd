// Package synthesis collapses a set of exchanges into a single decision using
// one of three stateless strategies: consensus extraction, weighted fusion,
// or meta-synthesis through a selected moderator.
package synthesis

import (
	"context"
	"errors"
	"fmt"

	"conclave/internal/council"
	"conclave/internal/logging"
	"conclave/internal/moderator"
	"conclave/internal/provider"
	"conclave/internal/similarity"
)

// ErrNoExchanges is returned when there is nothing to synthesize. An empty
// exchange list is an error, not a placeholder decision.
var ErrNoExchanges = errors.New("no exchanges to synthesize")

// clusterJoinThreshold is the single-link similarity above which an exchange
// joins an existing cluster during consensus extraction.
const clusterJoinThreshold = 0.6

// Options tunes a single synthesis call.
type Options struct {
	// Weights maps member ID to caller-supplied weight for weighted fusion.
	// Missing members default to 1.0.
	Weights map[string]float64

	// ModeratorPolicy and DesignatedModerator control meta-synthesis
	// moderator selection.
	ModeratorPolicy     moderator.Policy
	DesignatedModerator string

	// Members is the council the exchanges came from; required for
	// meta-synthesis moderator selection.
	Members []council.Member
}

// Engine implements the static synthesis strategies.
type Engine struct {
	pool     provider.Pool
	selector *moderator.Selector
	oracle   similarity.Oracle
}

// NewEngine creates a synthesis engine. The pool is used only for
// meta-synthesis moderator dispatch; a nil oracle disables code-aware biasing.
func NewEngine(pool provider.Pool, selector *moderator.Selector, oracle similarity.Oracle) *Engine {
	if selector == nil {
		selector = moderator.NewSelector(nil)
	}
	return &Engine{pool: pool, selector: selector, oracle: oracle}
}

// Synthesize collapses exchanges into a decision with the given strategy.
func (e *Engine) Synthesize(ctx context.Context, exchanges []council.Exchange, strategy council.Strategy, opts Options) (*council.Decision, error) {
	if len(exchanges) == 0 {
		return nil, ErrNoExchanges
	}

	timer := logging.StartTimer(logging.CategorySynthesis, fmt.Sprintf("synthesize(%s)", strategy))
	defer timer.Stop()

	switch strategy {
	case council.StrategyConsensus:
		return e.consensusExtraction(exchanges)
	case council.StrategyWeighted:
		return e.weightedFusion(exchanges, opts.Weights)
	case council.StrategyMeta:
		return e.metaSynthesis(ctx, exchanges, opts)
	default:
		return nil, fmt.Errorf("unknown synthesis strategy %q", strategy)
	}
}

// contributingIDs returns the distinct member IDs in exchange order.
func contributingIDs(exchanges []council.Exchange) []string {
	seen := make(map[string]struct{}, len(exchanges))
	var ids []string
	for _, ex := range exchanges {
		if _, ok := seen[ex.MemberID]; !ok {
			seen[ex.MemberID] = struct{}{}
			ids = append(ids, ex.MemberID)
		}
	}
	return ids
}

// pairSimilarity scores one exchange pair for clustering. When both sides
// contain code, the code oracle's structural score replaces the TF-IDF
// cosine.
func (e *Engine) pairSimilarity(vectors []map[string]float64, exchanges []council.Exchange, i, j int) float64 {
	if e.oracle != nil && e.oracle.DetectCode(exchanges[i].Content) && e.oracle.DetectCode(exchanges[j].Content) {
		return council.Clamp01(e.oracle.Calculate(exchanges[i].Content, exchanges[j].Content))
	}
	return pairwiseSimilarity(vectors, i, j)
}
