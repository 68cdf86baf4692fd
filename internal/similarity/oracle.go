// Package similarity provides the code-aware content analysis consumed by the
// synthesis engine: code detection, structural similarity scoring, and code
// validation weighting. Inputs are size-bounded so pathological exchanges
// cannot dominate a round.
package similarity

import (
	"regexp"
	"strings"
)

// Size bounds on analyzed content.
const (
	MaxBlockBytes     = 100 << 10 // 100KB per code block
	MaxAggregateBytes = 1 << 20   // 1MB across all blocks in one call
)

// Oracle scores textual and code content. The deliberation core consumes this
// interface; Heuristic is the default implementation.
type Oracle interface {
	// DetectCode reports whether text contains code.
	DetectCode(text string) bool

	// Calculate returns a similarity in [0,1] between two texts. For code the
	// weighting is 70% signature match, 20% control-flow structure, 10%
	// identifier overlap.
	Calculate(a, b string) float64

	// ValidateCode returns a quality weight in [0.1, 2.0]; 0.0 is reserved
	// for critically malformed or empty input.
	ValidateCode(text string) float64
}

// =============================================================================
// HEURISTIC ORACLE
// =============================================================================

// Heuristic is a regex/token based Oracle. It trades parser fidelity for
// bounded cost and zero toolchain assumptions about the languages appearing
// in responses.
type Heuristic struct{}

// Compile-time assertion that Heuristic implements Oracle
var _ Oracle = Heuristic{}

var (
	codeFenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\n.*?```")
	signatureRe  = regexp.MustCompile(`(?m)^\s*(func|def|function|fn|public|private|protected|static|class|interface|struct|impl)\b.*[({:]`)
	controlRe    = regexp.MustCompile(`\b(if|else|for|while|switch|case|match|return|try|catch|except|defer|go|select)\b`)
	identifierRe = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]{2,}\b`)
)

// DetectCode reports whether text looks like it contains code: a fenced
// block, or a signature line plus control-flow keywords.
func (Heuristic) DetectCode(text string) bool {
	text = truncate(text, MaxAggregateBytes)
	if codeFenceRe.MatchString(text) {
		return true
	}
	return signatureRe.MatchString(text) && len(controlRe.FindAllString(text, 3)) >= 2
}

// Calculate scores two texts in [0,1]. Code-bearing pairs use the documented
// 70/20/10 signature/control-flow/identifier weighting; plain text falls back
// to token overlap.
func (h Heuristic) Calculate(a, b string) float64 {
	a = truncate(a, MaxAggregateBytes)
	b = truncate(b, MaxAggregateBytes)

	if !h.DetectCode(a) || !h.DetectCode(b) {
		return jaccard(tokenSet(identifierRe.FindAllString(a, -1)), tokenSet(identifierRe.FindAllString(b, -1)))
	}

	sigScore := jaccard(tokenSet(signatureLines(a)), tokenSet(signatureLines(b)))
	flowScore := sequenceOverlap(controlRe.FindAllString(a, -1), controlRe.FindAllString(b, -1))
	identScore := jaccard(tokenSet(identifierRe.FindAllString(a, -1)), tokenSet(identifierRe.FindAllString(b, -1)))

	return 0.7*sigScore + 0.2*flowScore + 0.1*identScore
}

// ValidateCode weighs code quality in [0.1, 2.0]. Empty or critically
// malformed input scores 0.0.
func (Heuristic) ValidateCode(text string) float64 {
	text = strings.TrimSpace(truncate(text, MaxBlockBytes))
	if text == "" {
		return 0.0
	}
	if unbalancedDelimiters(text) {
		return 0.0
	}

	weight := 1.0
	if signatureRe.MatchString(text) {
		weight += 0.4
	}
	if len(controlRe.FindAllString(text, -1)) >= 3 {
		weight += 0.3
	}
	// Single-line "code" is usually a fragment.
	if !strings.Contains(text, "\n") {
		weight -= 0.5
	}
	if strings.Contains(text, "TODO") || strings.Contains(text, "FIXME") {
		weight -= 0.2
	}

	if weight < 0.1 {
		return 0.1
	}
	if weight > 2.0 {
		return 2.0
	}
	return weight
}

// =============================================================================
// HELPERS
// =============================================================================

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func signatureLines(text string) []string {
	matches := signatureRe.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.Join(strings.Fields(m), " "))
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(t)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// sequenceOverlap compares two keyword sequences by the ratio of the longest
// common prefix-free match count to the longer length. Order matters: it
// approximates control-flow structure, not keyword frequency.
func sequenceOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	// Longest common subsequence over small keyword alphabets.
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	return float64(dp[len(a)][len(b)]) / float64(longer)
}
