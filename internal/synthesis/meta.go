package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"conclave/internal/council"
	"conclave/internal/logging"
	"conclave/internal/moderator"
)

// =============================================================================
// META-SYNTHESIS
// =============================================================================

// metaSynthesis selects a moderator, asks it to integrate every exchange into
// one answer, and falls back to a structured summary when the dispatch fails.
// Confidence is computed from the pre-dispatch agreement score either way: a
// moderator's fluency does not raise the panel's measured agreement.
func (e *Engine) metaSynthesis(ctx context.Context, exchanges []council.Exchange, opts Options) (*council.Decision, error) {
	agreement := AgreementScore(exchanges)

	policy := opts.ModeratorPolicy
	if policy == "" {
		policy = moderator.PolicyStrongest
	}
	mod, err := e.selector.Select(policy, opts.Members, opts.DesignatedModerator)
	if err != nil {
		return nil, fmt.Errorf("moderator selection failed: %w", err)
	}

	decision := &council.Decision{
		Confidence:   council.ConfidenceForAgreement(agreement),
		Agreement:    agreement,
		Strategy:     council.StrategyMeta,
		Contributing: contributingIDs(exchanges),
	}

	prompt := buildModeratorPrompt(exchanges)
	if e.pool != nil {
		resp, err := e.pool.SendRequest(ctx, mod, prompt)
		if err == nil && resp != nil && resp.Success && strings.TrimSpace(resp.Content) != "" {
			logging.Synthesis("meta-synthesis via moderator %s succeeded (%d chars)", mod.ID, len(resp.Content))
			decision.Content = resp.Content
			return decision, nil
		}
		if err != nil {
			logging.Get(logging.CategorySynthesis).Warn("moderator %s dispatch failed, using structured fallback: %v", mod.ID, err)
		} else {
			logging.Get(logging.CategorySynthesis).Warn("moderator %s returned failure, using structured fallback", mod.ID)
		}
	}

	// Moderator-call failure is recovered locally, never surfaced.
	decision.Content = structuredSummary(exchanges)
	return decision, nil
}

// buildModeratorPrompt enumerates every exchange and asks the moderator to
// integrate rather than list them.
func buildModeratorPrompt(exchanges []council.Exchange) string {
	var sb strings.Builder
	sb.WriteString("You are moderating a panel of independent responses to the same question.\n")
	sb.WriteString("Synthesize them into a single coherent answer. Integrate the perspectives;\n")
	sb.WriteString("do not enumerate or attribute them. Resolve contradictions explicitly.\n\n")
	for i, ex := range exchanges {
		sb.WriteString(fmt.Sprintf("--- Response %d (from %s, round %d) ---\n%s\n\n", i+1, ex.MemberID, ex.Round, ex.Content))
	}
	sb.WriteString("Integrated answer:")
	return sb.String()
}

// structuredSummary is the local fallback when the moderator cannot be
// reached: a per-member summary plus an extracted common-themes line.
func structuredSummary(exchanges []council.Exchange) string {
	var sb strings.Builder
	sb.WriteString("Synthesis of panel responses:\n")
	for _, ex := range exchanges {
		sb.WriteString(fmt.Sprintf("\n[%s]\n%s\n", ex.MemberID, ex.Content))
	}
	if themes := commonThemes(exchanges, 10); len(themes) > 0 {
		sb.WriteString(fmt.Sprintf("\nCommon themes: %s\n", strings.Join(themes, ", ")))
	}
	return sb.String()
}

// commonThemes returns the top-k most frequent words of length >= 3 that
// occur in more than one exchange.
func commonThemes(exchanges []council.Exchange, k int) []string {
	freq := make(map[string]int)
	docCount := make(map[string]int)

	for _, ex := range exchanges {
		seen := make(map[string]struct{})
		for _, w := range tokenize(ex.Content) {
			if len(w) <= 2 {
				continue
			}
			freq[w]++
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				docCount[w]++
			}
		}
	}

	var shared []string
	for w, dc := range docCount {
		if dc > 1 {
			shared = append(shared, w)
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if freq[shared[i]] != freq[shared[j]] {
			return freq[shared[i]] > freq[shared[j]]
		}
		return shared[i] < shared[j]
	})
	if len(shared) > k {
		shared = shared[:k]
	}
	return shared
}
