package negotiation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"conclave/internal/council"
)

func TestExtractCoreAnswerMarker(t *testing.T) {
	answer, agrees := ExtractCoreAnswer("Some reasoning first.\nANSWER: 42")
	assert.Equal(t, "42", answer)
	assert.Empty(t, agrees)

	answer, _ = ExtractCoreAnswer("deliberation...\nFINAL ANSWER: use a mutex")
	assert.Equal(t, "use a mutex", answer)
}

func TestExtractCoreAnswerAgreesWith(t *testing.T) {
	_, agrees := ExtractCoreAnswer("Having read the rebuttals, I now agree with member m2. Their framing is correct.")
	assert.Equal(t, "m2", agrees)

	_, agrees = ExtractCoreAnswer("This agrees with m3.")
	assert.Equal(t, "m3", agrees)
}

func TestExtractCoreAnswerSubstantiveSentences(t *testing.T) {
	content := "As an AI, I should note my limitations. The capital of France is Paris. " +
		"It has been the capital since 987. In this round I revised nothing. " +
		"The city sits on the Seine. A fifth sentence would be dropped."
	answer, agrees := ExtractCoreAnswer(content)
	assert.Empty(t, agrees)
	assert.Contains(t, answer, "capital of France is Paris")
	assert.Contains(t, answer, "Seine")
	assert.NotContains(t, answer, "As an AI", "meta-commentary is stripped")
	assert.NotContains(t, answer, "In this round")
	assert.NotContains(t, answer, "fifth sentence", "at most three sentences are kept")
}

func TestExtractCoreAnswerCap(t *testing.T) {
	long := "ANSWER: " + strings.Repeat("x", 2000)
	answer, _ := ExtractCoreAnswer(long)
	assert.Len(t, answer, 800)
}

func TestExtractCoreAnswerCapKeepsRunesIntact(t *testing.T) {
	// Multi-byte runes: a byte-indexed cut would split one and produce
	// invalid UTF-8.
	long := "ANSWER: " + strings.Repeat("世界", 1000)
	answer, _ := ExtractCoreAnswer(long)
	assert.Equal(t, 800, utf8.RuneCountInString(answer))
	assert.True(t, utf8.ValidString(answer))
}

func TestExtractCoreAnswerNoSentences(t *testing.T) {
	answer, _ := ExtractCoreAnswer("just a fragment without punctuation")
	assert.Equal(t, "just a fragment without punctuation", answer)
}

func TestResolveCoreAnswers(t *testing.T) {
	exchanges := []council.Exchange{
		{MemberID: "m1", Content: "ANSWER: the mitochondria is the powerhouse of the cell"},
		{MemberID: "m2", Content: "On reflection I agree with member m1. Nothing to add."},
		{MemberID: "m3", Content: "ANSWER: something else entirely"},
	}
	answers := ResolveCoreAnswers(exchanges)

	assert.Equal(t, answers[0], answers[1], "an agreeing member embeds as its reference's answer")
	assert.NotEqual(t, answers[0], answers[2])
}

func TestResolveCoreAnswersUnknownReference(t *testing.T) {
	exchanges := []council.Exchange{
		{MemberID: "m1", Content: "I agree with member ghost. Standing by that position here."},
	}
	answers := ResolveCoreAnswers(exchanges)
	assert.Contains(t, answers[0], "Standing by", "unresolvable references keep the member's own text")
}

func TestLengthScore(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want float64
	}{
		{name: "empty", n: 0, want: 0},
		{name: "short", n: 50, want: 0.5},
		{name: "lower bound", n: 100, want: 1.0},
		{name: "in range", n: 1000, want: 1.0},
		{name: "upper bound", n: 2000, want: 1.0},
		{name: "too long", n: 4000, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, lengthScore(strings.Repeat("a", tt.n)), 1e-9)
		})
	}

	// The limits count characters, not bytes.
	assert.InDelta(t, 1.0, lengthScore(strings.Repeat("界", 1000)), 1e-9)
}

func TestSelectFinalAnswer(t *testing.T) {
	exchanges := []council.Exchange{
		{MemberID: "terse", Content: strings.Repeat("a", 40)},
		{MemberID: "right", Content: strings.Repeat("b", 500)},
		{MemberID: "rambling", Content: strings.Repeat("c", 6000)},
	}
	assert.Equal(t, "right", selectFinalAnswer(exchanges).MemberID)

	// Equal scores: the earlier exchange wins.
	tie := []council.Exchange{
		{MemberID: "first", Content: strings.Repeat("a", 200)},
		{MemberID: "second", Content: strings.Repeat("b", 300)},
	}
	assert.Equal(t, "first", selectFinalAnswer(tie).MemberID)
}
