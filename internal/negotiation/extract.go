package negotiation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"conclave/internal/council"
)

// =============================================================================
// CORE ANSWER EXTRACTION
// =============================================================================

// maxCoreAnswerLen caps an extracted core answer before embedding.
const maxCoreAnswerLen = 800

var (
	answerMarkerRe = regexp.MustCompile(`(?ms)^\s*(?:FINAL )?ANSWER:\s*(.+)`)
	agreeRe        = regexp.MustCompile(`(?i)\bagrees?\s+with\s+(?:member\s+)?([\w-]+)`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+[.!?]`)
)

// metaPhrases mark sentences that discuss the negotiation process or
// formatting rather than the answer itself.
var metaPhrases = []string{
	"as an ai",
	"as a language model",
	"in this round",
	"in the previous round",
	"my previous response",
	"the other responses",
	"the other members",
	"regarding the format",
	"formatting",
	"as requested",
	"i will structure",
	"let me reconsider",
}

// ExtractCoreAnswer pulls the comparable core out of a negotiation response.
// Priority: an explicit ANSWER: marker; else an explicit "agrees with member
// X" reference, which is treated as near-identical to that member's answer;
// else the first few substantive sentences with meta-commentary stripped.
// The result is capped at 800 characters.
//
// The returned agreesWith is the referenced member ID, or "" when the answer
// stands on its own.
func ExtractCoreAnswer(content string) (answer string, agreesWith string) {
	if m := answerMarkerRe.FindStringSubmatch(content); m != nil {
		return cap800(strings.TrimSpace(m[1])), ""
	}

	if m := agreeRe.FindStringSubmatch(content); m != nil {
		return cap800(substantiveSentences(content)), m[1]
	}

	return cap800(substantiveSentences(content)), ""
}

// ResolveCoreAnswers extracts a core answer per exchange, resolving "agrees
// with" references to the referenced member's extracted answer so the two
// embed as near-identical.
func ResolveCoreAnswers(exchanges []council.Exchange) []string {
	answers := make([]string, len(exchanges))
	agrees := make([]string, len(exchanges))
	byMember := make(map[string]int, len(exchanges))

	for i, ex := range exchanges {
		answers[i], agrees[i] = ExtractCoreAnswer(ex.Content)
		byMember[ex.MemberID] = i
	}

	for i, ref := range agrees {
		if ref == "" {
			continue
		}
		if j, ok := byMember[ref]; ok && j != i && agrees[j] == "" {
			answers[i] = answers[j]
		}
	}
	return answers
}

// substantiveSentences returns the first few sentences that are not
// meta-commentary about process or formatting.
func substantiveSentences(content string) string {
	sentences := sentenceRe.FindAllString(content, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(content)
	}

	var kept []string
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" || isMetaCommentary(trimmed) {
			continue
		}
		kept = append(kept, trimmed)
		if len(kept) >= 3 {
			break
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(content)
	}
	return strings.Join(kept, " ")
}

func isMetaCommentary(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, phrase := range metaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// cap800 truncates on rune boundaries; a byte slice could split a multi-byte
// rune and hand invalid UTF-8 to the embedder.
func cap800(s string) string {
	if utf8.RuneCountInString(s) <= maxCoreAnswerLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxCoreAnswerLen])
}

// lengthScore prefers answers whose length sits in [100, 2000] characters:
// shorter answers score len/100, longer ones 2000/len, in-range answers 1.0.
func lengthScore(content string) float64 {
	n := utf8.RuneCountInString(content)
	switch {
	case n == 0:
		return 0
	case n < 100:
		return float64(n) / 100.0
	case n > 2000:
		return 2000.0 / float64(n)
	default:
		return 1.0
	}
}

// selectFinalAnswer picks the converged answer with the best length score.
// Earlier exchanges win ties.
func selectFinalAnswer(exchanges []council.Exchange) council.Exchange {
	best := exchanges[0]
	bestScore := lengthScore(best.Content)
	for _, ex := range exchanges[1:] {
		if score := lengthScore(ex.Content); score > bestScore {
			best, bestScore = ex, score
		}
	}
	return best
}
