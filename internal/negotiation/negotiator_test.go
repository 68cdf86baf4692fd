package negotiation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/dedup"
	"conclave/internal/health"
	"conclave/internal/moderator"
	"conclave/internal/provider"
	"conclave/internal/similarity"
	"conclave/internal/synthesis"
)

// scriptedPool answers per member ID.
type scriptedPool struct {
	responses map[string]string
	calls     atomic.Int32
}

func (p *scriptedPool) SendRequest(ctx context.Context, m council.Member, prompt string) (*provider.Response, error) {
	p.calls.Add(1)
	content, ok := p.responses[m.ID]
	if !ok {
		return &provider.Response{Success: false, Err: "no script"}, nil
	}
	return &provider.Response{Success: true, Content: content, Usage: provider.TokenUsage{Prompt: 10, Completion: 20}}, nil
}

func (p *scriptedPool) Health(providerID string) health.Status { return health.Status{} }
func (p *scriptedPool) MarkDisabled(providerID, reason string) {}

var _ provider.Pool = (*scriptedPool)(nil)

// stubEmbedder maps core-answer text to fixed vectors; unmapped texts share
// a default vector.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 2 }
func (s *stubEmbedder) Name() string    { return "stub" }

func testCfg() config.IterativeConfig {
	return config.IterativeConfig{
		MaxRounds:              3,
		PerRoundTimeoutSeconds: 5,
		AgreementThreshold:     0.85,
		Mode:                   "parallel",
		FallbackStrategy:       "consensus",
		TokenPricePer1K:        1.0,
		AvgTokensPerRound:      100,
	}
}

func testMembers(ids ...string) []council.Member {
	out := make([]council.Member, len(ids))
	for i, id := range ids {
		out[i] = council.Member{ID: id, Model: id, TimeoutSeconds: 5}
	}
	return out
}

func seededThread(t *testing.T, contents map[string]string) *council.Thread {
	t.Helper()
	th := council.NewThread("req", "the question")
	var exchanges []council.Exchange
	for id, c := range contents {
		exchanges = append(exchanges, council.Exchange{MemberID: id, Content: c, Round: 0})
	}
	require.NoError(t, th.AppendRound(council.Round{Exchanges: exchanges}))
	return th
}

func newTestNegotiator(pool provider.Pool, emb *stubEmbedder, cfg config.IterativeConfig) *Negotiator {
	synth := synthesis.NewEngine(pool, moderator.NewSelector(nil), similarity.Heuristic{})
	return NewNegotiator(pool, dedup.New(), emb, synth, nil, cfg)
}

func TestNegotiateEmptyThread(t *testing.T) {
	n := newTestNegotiator(&scriptedPool{}, &stubEmbedder{}, testCfg())
	_, err := n.Negotiate(context.Background(), council.NewThread("req", "q"), testMembers("a"))
	assert.ErrorIs(t, err, ErrEmptyThread)
}

func TestNegotiateIdenticalRoundZero(t *testing.T) {
	pool := &scriptedPool{}
	n := newTestNegotiator(pool, &stubEmbedder{}, testCfg())

	th := seededThread(t, map[string]string{
		"m1": "The answer is 42",
		"m2": "The answer is 42",
		"m3": "The answer is 42",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2", "m3"))
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42", d.Content)
	assert.Equal(t, 1.0, d.Agreement)
	assert.True(t, d.Negotiation.ConsensusReached)
	assert.Equal(t, 0, d.Negotiation.RoundsUsed, "identical answers need zero negotiation rounds")
	assert.Equal(t, int32(0), pool.calls.Load(), "no further member calls are made")
	assert.Equal(t, council.StrategyAdaptive, d.Strategy)
}

func TestNegotiateSingleMemberFallsBack(t *testing.T) {
	pool := &scriptedPool{}
	n := newTestNegotiator(pool, &stubEmbedder{}, testCfg())

	th := seededThread(t, map[string]string{"m1": "only opinion standing"})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1"))
	require.NoError(t, err)

	assert.True(t, d.Negotiation.FallbackUsed)
	assert.Contains(t, d.Content, "only opinion standing")
	assert.Equal(t, council.ConfidenceLow, d.Confidence, "no similarity was ever observed")
}

func TestNegotiateConvergesInOneRound(t *testing.T) {
	pool := &scriptedPool{responses: map[string]string{
		"m1": "ANSWER: converged position",
		"m2": "ANSWER: converged position",
	}}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"converged position": {1, 0},
	}}
	n := newTestNegotiator(pool, emb, testCfg())

	th := seededThread(t, map[string]string{
		"m1": "initial take alpha",
		"m2": "initial take omega",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2"))
	require.NoError(t, err)

	assert.True(t, d.Negotiation.ConsensusReached)
	assert.Equal(t, 1, d.Negotiation.RoundsUsed)
	assert.Equal(t, []float64{1.0}, d.Negotiation.SimilarityProgression)
	assert.Equal(t, council.ConfidenceHigh, d.Confidence)
	assert.Equal(t, 2, th.RoundCount(), "negotiation rounds are appended to the thread")
	assert.Equal(t, int32(2), pool.calls.Load())
}

func TestNegotiateEarlyTermination(t *testing.T) {
	pool := &scriptedPool{responses: map[string]string{
		"m1": "ANSWER: close position",
		"m2": "ANSWER: close position",
		"m3": "ANSWER: outlier position",
	}}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"close position":   {1, 0},
		"outlier position": {0.7, 0.71414284},
	}}
	cfg := testCfg()
	cfg.EarlyTermination = config.EarlyTerminationConfig{Enabled: true, Threshold: 0.75}
	n := newTestNegotiator(pool, emb, cfg)

	th := seededThread(t, map[string]string{
		"m1": "view one", "m2": "view two", "m3": "view three",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2", "m3"))
	require.NoError(t, err)

	// Average ~0.8 clears the early-exit bar while the m3 pairs stay below
	// the 0.85 consensus threshold.
	require.NotNil(t, d.Negotiation)
	assert.True(t, d.Negotiation.EarlyTerminated)
	assert.False(t, d.Negotiation.ConsensusReached)
	assert.Equal(t, 1, d.Negotiation.RoundsUsed)

	// Two skipped rounds, three members, 100 tokens/round at $1 per 1K.
	assert.InDelta(t, 0.6, d.Negotiation.EstimatedCostSavings, 1e-9)
}

func TestNegotiateExhaustsRoundsAndFallsBack(t *testing.T) {
	pool := &scriptedPool{responses: map[string]string{
		"m1": "ANSWER: position north",
		"m2": "ANSWER: position south",
	}}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"position north": {1, 0},
		"position south": {0, 1},
	}}
	cfg := testCfg()
	cfg.MaxRounds = 2
	n := newTestNegotiator(pool, emb, cfg)

	th := seededThread(t, map[string]string{
		"m1": "north view", "m2": "south view",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2"))
	require.NoError(t, err)

	assert.True(t, d.Negotiation.FallbackUsed)
	assert.False(t, d.Negotiation.ConsensusReached)
	assert.Equal(t, 2, d.Negotiation.RoundsUsed)
	assert.Len(t, d.Negotiation.SimilarityProgression, 2)
	assert.Equal(t, council.ConfidenceLow, d.Confidence)
	assert.Equal(t, int32(4), pool.calls.Load(), "two members times two rounds")
}

func TestNegotiateDeadlockAdvisory(t *testing.T) {
	pool := &scriptedPool{responses: map[string]string{
		"m1": "ANSWER: position north",
		"m2": "ANSWER: position south",
	}}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"position north": {1, 0},
		"position south": {0.5, 0.8660254},
	}}
	cfg := testCfg()
	cfg.MaxRounds = 3
	cfg.HumanEscalation = true
	n := newTestNegotiator(pool, emb, cfg)

	th := seededThread(t, map[string]string{
		"m1": "north view", "m2": "south view",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2"))
	require.NoError(t, err)

	// Similarity is pinned at 0.5 for all three rounds: a plateau below
	// threshold detected from round 3 onward.
	assert.True(t, d.Negotiation.DeadlockDetected)
	assert.True(t, d.Negotiation.EscalationAdvised)
	assert.True(t, d.Negotiation.FallbackUsed, "deadlock is advisory; the round cap still drives fallback")
}

func TestNegotiateMemberDropoutDuringRound(t *testing.T) {
	// m2 never answers after round 0; the round leaves one active member.
	pool := &scriptedPool{responses: map[string]string{
		"m1": "ANSWER: still here",
	}}
	n := newTestNegotiator(pool, &stubEmbedder{}, testCfg())

	th := seededThread(t, map[string]string{
		"m1": "view one", "m2": "view two",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2"))
	require.NoError(t, err)

	assert.True(t, d.Negotiation.FallbackUsed)
	assert.Equal(t, 1, d.Negotiation.RoundsUsed)
}

func TestNegotiateSequentialMode(t *testing.T) {
	pool := &scriptedPool{responses: map[string]string{
		"m1": "ANSWER: same ground",
		"m2": "ANSWER: same ground",
	}}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"same ground": {1, 0},
	}}
	cfg := testCfg()
	cfg.Mode = "sequential"
	cfg.RandomizationSeed = 7 // deterministic ordering
	n := newTestNegotiator(pool, emb, cfg)

	th := seededThread(t, map[string]string{
		"m1": "divergent a", "m2": "divergent b",
	})
	d, err := n.Negotiate(context.Background(), th, testMembers("m1", "m2"))
	require.NoError(t, err)
	assert.True(t, d.Negotiation.ConsensusReached)
	assert.Equal(t, 1, d.Negotiation.RoundsUsed)
}

func TestFinalConfidenceThresholds(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float64
		similarity float64
		want       council.Confidence
	}{
		{name: "high floor is 0.95", threshold: 0.7, similarity: 0.94, want: council.ConfidenceMedium},
		{name: "at high floor", threshold: 0.7, similarity: 0.95, want: council.ConfidenceHigh},
		{name: "high bar tracks threshold", threshold: 0.9, similarity: 0.97, want: council.ConfidenceMedium},
		{name: "above threshold plus margin", threshold: 0.9, similarity: 1.0, want: council.ConfidenceHigh},
		{name: "medium floor is 0.75", threshold: 0.5, similarity: 0.74, want: council.ConfidenceLow},
		{name: "at medium floor", threshold: 0.5, similarity: 0.75, want: council.ConfidenceMedium},
		{name: "low", threshold: 0.85, similarity: 0.3, want: council.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Negotiator{cfg: config.IterativeConfig{AgreementThreshold: tt.threshold}}
			assert.Equal(t, tt.want, n.finalConfidence(tt.similarity))
		})
	}
}

func TestAdjustedThreshold(t *testing.T) {
	n := &Negotiator{cfg: config.IterativeConfig{AgreementThreshold: 0.9}}

	assert.InDelta(t, 0.9, n.adjustedThreshold(4, 4), 1e-9)
	assert.InDelta(t, 0.675, n.adjustedThreshold(3, 4), 1e-9)
	assert.InDelta(t, 0.45, n.adjustedThreshold(2, 4), 1e-9)
	assert.InDelta(t, 0.9, n.adjustedThreshold(5, 0), 1e-9, "zero original count keeps the base threshold")
}

func TestEstimatedSavings(t *testing.T) {
	n := &Negotiator{cfg: config.IterativeConfig{TokenPricePer1K: 2.0, AvgTokensPerRound: 500}}

	assert.InDelta(t, 3.0, n.estimatedSavings(3, 1), 1e-9)
	assert.Equal(t, 0.0, n.estimatedSavings(-1, 4), "negative remainder never produces negative savings")
}

func ExampleExtractCoreAnswer() {
	answer, _ := ExtractCoreAnswer("Considering the rebuttals...\nANSWER: 42")
	fmt.Println(answer)
	// Output: 42
}
