package synthesis

import (
	"fmt"
	"strings"

	"conclave/internal/council"
	"conclave/internal/logging"
)

// =============================================================================
// CONSENSUS EXTRACTION
// =============================================================================

// cluster groups exchanges whose representatives are mutually similar. The
// representative is the first exchange placed in the cluster.
type cluster struct {
	representative int // index into the exchange slice
	members        []int
}

// consensusExtraction partitions exchanges into similarity clusters, takes
// the largest as the majority answer, and appends minority representatives as
// alternative perspectives.
func (e *Engine) consensusExtraction(exchanges []council.Exchange) (*council.Decision, error) {
	agreement := AgreementScore(exchanges)

	docs := make([]string, len(exchanges))
	for i, ex := range exchanges {
		docs[i] = ex.Content
	}
	vectors := tfidfVectors(docs)

	// Greedy single-link: each exchange joins the first cluster whose
	// representative clears the join threshold, else starts a new one.
	var clusters []*cluster
	for i := range exchanges {
		placed := false
		for _, c := range clusters {
			if e.pairSimilarity(vectors, exchanges, c.representative, i) > clusterJoinThreshold {
				c.members = append(c.members, i)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, &cluster{representative: i, members: []int{i}})
		}
	}

	// Largest cluster wins; earlier clusters win ties.
	majority := clusters[0]
	for _, c := range clusters[1:] {
		if len(c.members) > len(majority.members) {
			majority = c
		}
	}

	logging.SynthesisDebug("consensus extraction: %d exchanges -> %d clusters (majority=%d members, agreement=%.3f)",
		len(exchanges), len(clusters), len(majority.members), agreement)

	var sb strings.Builder
	sb.WriteString(exchanges[majority.representative].Content)
	if len(clusters) > 1 {
		sb.WriteString("\n\n---\nAlternative perspectives:\n")
		for _, c := range clusters {
			if c == majority {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n[%s] %s\n", exchanges[c.representative].MemberID, exchanges[c.representative].Content))
		}
	}

	return &council.Decision{
		Content:      sb.String(),
		Confidence:   council.ConfidenceForAgreement(agreement),
		Agreement:    agreement,
		Strategy:     council.StrategyConsensus,
		Contributing: contributingIDs(exchanges),
	}, nil
}
