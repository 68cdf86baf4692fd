package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"conclave/internal/council"
	"conclave/internal/logging"
)

// =============================================================================
// WEIGHTED FUSION
// =============================================================================

// memberGroup collects one member's exchanges and effective weight.
type memberGroup struct {
	memberID string
	weight   float64
	contents []string
	order    int // first-seen position, stabilizes equal-weight ordering
}

// weightedFusion concatenates each member's content in descending weight
// order, labelled with the formatted weight. Missing weights default to 1.0;
// code-bearing content is additionally weighted by the validation oracle.
func (e *Engine) weightedFusion(exchanges []council.Exchange, weights map[string]float64) (*council.Decision, error) {
	agreement := AgreementScore(exchanges)

	groupsByID := make(map[string]*memberGroup)
	var groups []*memberGroup
	for _, ex := range exchanges {
		g, ok := groupsByID[ex.MemberID]
		if !ok {
			w := 1.0
			if weights != nil {
				if custom, exists := weights[ex.MemberID]; exists {
					w = custom
				}
			}
			g = &memberGroup{memberID: ex.MemberID, weight: w, order: len(groups)}
			groupsByID[ex.MemberID] = g
			groups = append(groups, g)
		}
		g.contents = append(g.contents, ex.Content)
	}

	// Bias weights by code quality when an exchange carries code.
	if e.oracle != nil {
		for _, g := range groups {
			for _, content := range g.contents {
				if e.oracle.DetectCode(content) {
					g.weight *= e.oracle.ValidateCode(content)
					break
				}
			}
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].weight != groups[j].weight {
			return groups[i].weight > groups[j].weight
		}
		return groups[i].order < groups[j].order
	})

	var sb strings.Builder
	minW, maxW := groups[0].weight, groups[0].weight
	for i, g := range groups {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("[%s] Weight: %.2f\n%s", g.memberID, g.weight, strings.Join(g.contents, "\n")))
		if g.weight < minW {
			minW = g.weight
		}
		if g.weight > maxW {
			maxW = g.weight
		}
	}

	spread := maxW - minW
	var confidence council.Confidence
	switch {
	case spread < 0.5 && agreement > 0.7:
		confidence = council.ConfidenceHigh
	case agreement > 0.5:
		confidence = council.ConfidenceMedium
	default:
		confidence = council.ConfidenceLow
	}

	logging.SynthesisDebug("weighted fusion: %d members, spread=%.2f, agreement=%.3f -> %s",
		len(groups), spread, agreement, confidence)

	return &council.Decision{
		Content:      sb.String(),
		Confidence:   confidence,
		Agreement:    agreement,
		Strategy:     council.StrategyWeighted,
		Contributing: contributingIDs(exchanges),
	}, nil
}
