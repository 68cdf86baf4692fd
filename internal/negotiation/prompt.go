package negotiation

import (
	"fmt"
	"sort"
	"strings"

	"conclave/internal/council"
)

// =============================================================================
// NEGOTIATION PROMPTS
// =============================================================================

// PromptBuilder constructs the per-round prompts that carry peer context into
// the next wave of responses.
type PromptBuilder interface {
	// BuildRoundPrompt builds the prompt for one member in one round. peers
	// holds the other members' previous answers; sameRound holds answers
	// already given earlier in the current round (sequential mode only).
	BuildRoundPrompt(question string, member council.Member, own council.Exchange, peers []council.Exchange, sameRound []council.Exchange, round int) string

	// IdentifyDisagreements summarizes where the exchanges diverge.
	IdentifyDisagreements(exchanges []council.Exchange) []string

	// ExtractAgreements summarizes what the exchanges already share.
	ExtractAgreements(exchanges []council.Exchange) []string
}

// TextPromptBuilder is the default PromptBuilder.
type TextPromptBuilder struct{}

// Compile-time assertion that TextPromptBuilder implements PromptBuilder
var _ PromptBuilder = TextPromptBuilder{}

// BuildRoundPrompt enumerates peer positions and asks the member to either
// defend or revise its answer, ending with an explicit ANSWER: marker so the
// next extraction pass stays cheap.
func (TextPromptBuilder) BuildRoundPrompt(question string, member council.Member, own council.Exchange, peers []council.Exchange, sameRound []council.Exchange, round int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Original question:\n%s\n\n", question))
	sb.WriteString(fmt.Sprintf("This is negotiation round %d. Your previous answer:\n%s\n\n", round, own.Content))

	if len(peers) > 0 {
		sb.WriteString("The other panel members answered:\n")
		for _, p := range peers {
			sb.WriteString(fmt.Sprintf("\n[%s]\n%s\n", p.MemberID, p.Content))
		}
		sb.WriteString("\n")
	}
	if len(sameRound) > 0 {
		sb.WriteString("Members who already responded this round said:\n")
		for _, p := range sameRound {
			sb.WriteString(fmt.Sprintf("\n[%s]\n%s\n", p.MemberID, p.Content))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Consider the other answers. If a peer's position is better reasoned, adopt it ")
	sb.WriteString("and say \"agrees with member <id>\". Otherwise defend or refine your own answer.\n")
	sb.WriteString("End with a line of the form:\nANSWER: <your final answer>")
	return sb.String()
}

// IdentifyDisagreements lists member pairs whose answers share almost no
// vocabulary. Cheap by design: the authoritative similarity signal is the
// embedding matrix; this summary only feeds prompt text.
func (TextPromptBuilder) IdentifyDisagreements(exchanges []council.Exchange) []string {
	var out []string
	for i := 0; i < len(exchanges); i++ {
		for j := i + 1; j < len(exchanges); j++ {
			if wordOverlap(exchanges[i].Content, exchanges[j].Content) < 0.2 {
				out = append(out, fmt.Sprintf("%s and %s take different positions", exchanges[i].MemberID, exchanges[j].MemberID))
			}
		}
	}
	return out
}

// ExtractAgreements lists terms shared across every exchange.
func (TextPromptBuilder) ExtractAgreements(exchanges []council.Exchange) []string {
	if len(exchanges) < 2 {
		return nil
	}
	shared := wordSet(exchanges[0].Content)
	for _, ex := range exchanges[1:] {
		next := wordSet(ex.Content)
		for w := range shared {
			if _, ok := next[w]; !ok {
				delete(shared, w)
			}
		}
	}
	var out []string
	for w := range shared {
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,!?;:()[]\"'")] = struct{}{}
	}
	return set
}

func wordOverlap(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}
