// Package negotiation implements the iterative consensus protocol: council
// members are re-polled with peer context round after round until every
// pairwise similarity clears the agreement threshold, time or rounds run out,
// or too few members remain, at which point a static synthesis strategy takes
// over as fallback.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/dedup"
	"conclave/internal/embedding"
	"conclave/internal/logging"
	"conclave/internal/moderator"
	"conclave/internal/provider"
	"conclave/internal/synthesis"
)

// ErrEmptyThread is returned when negotiation starts without a round 0.
var ErrEmptyThread = errors.New("deliberation thread has no initial round")

// budgetSlack scales the nominal per-round budget into the total wall-time
// estimate for a run.
const budgetSlack = 1.5

// Negotiator drives the multi-round consensus protocol for one request at a
// time. It is safe to share across requests because all per-request state
// lives on the stack of Negotiate.
type Negotiator struct {
	pool     provider.Pool
	dedup    *dedup.Deduplicator
	embedder embedding.Engine
	synth    *synthesis.Engine
	prompts  PromptBuilder
	detector Detector
	cfg      config.IterativeConfig
}

// NewNegotiator wires a negotiator. A nil prompts falls back to the default
// text builder.
func NewNegotiator(pool provider.Pool, dd *dedup.Deduplicator, embedder embedding.Engine, synth *synthesis.Engine, prompts PromptBuilder, cfg config.IterativeConfig) *Negotiator {
	if dd == nil {
		dd = dedup.New()
	}
	if prompts == nil {
		prompts = TextPromptBuilder{}
	}
	return &Negotiator{
		pool:     pool,
		dedup:    dd,
		embedder: embedder,
		synth:    synth,
		prompts:  prompts,
		cfg:      cfg,
	}
}

// Negotiate runs the protocol over a thread whose round 0 has already been
// collected, returning the final decision. The thread gains one appended
// round per negotiation wave; the caller owns and eventually closes it.
func (n *Negotiator) Negotiate(ctx context.Context, thread *council.Thread, members []council.Member) (*council.Decision, error) {
	round0, ok := thread.LastRound()
	if !ok || len(round0.Exchanges) == 0 {
		return nil, ErrEmptyThread
	}

	rlog := logging.WithRequestID(logging.CategoryNegotiation, thread.RequestID)
	originalCount := len(council.ActiveMembers(members))
	if originalCount == 0 {
		originalCount = len(round0.Exchanges)
	}

	meta := &council.NegotiationMeta{}

	current := successesOf(round0.Exchanges)
	if len(current) < 2 {
		rlog.Warn("fewer than two usable round-0 responses; falling back immediately")
		return n.fallback(ctx, thread, members, meta, lastOf(meta.SimilarityProgression))
	}

	// Round 0 unanimity: textually identical answers need no negotiation.
	if allIdentical(current) {
		rlog.Info("round 0 responses are identical; immediate consensus")
		meta.ConsensusReached = true
		meta.QualityScore = qualityScore(current[0].Content, 1.0)
		return n.decision(selectFinalAnswer(current).Content, 1.0, current, meta), nil
	}

	rng := n.newRNG()
	totalBudget := time.Duration(float64(n.cfg.PerRoundTimeout()) * float64(n.cfg.MaxRounds) * budgetSlack)
	start := time.Now()
	var roundDurations []time.Duration
	effectiveMax := n.cfg.MaxRounds

	for round := 1; round <= effectiveMax; round++ {
		// Shrink the round cap when the remaining wall-time budget cannot
		// cover two more rounds of average duration.
		if len(roundDurations) > 0 {
			avg := averageDuration(roundDurations)
			remaining := totalBudget - time.Since(start)
			if remaining < 2*avg && effectiveMax > round {
				rlog.Warn("time budget low (%v left, avg round %v); capping at round %d", remaining, avg, round)
				effectiveMax = round
			}
		}

		roundStart := time.Now()
		var exchanges []council.Exchange
		if n.cfg.Mode == "sequential" {
			exchanges = n.runSequentialRound(ctx, thread, members, current, round, rng)
		} else {
			exchanges = n.runParallelRound(ctx, thread, members, current, round)
		}
		roundDurations = append(roundDurations, time.Since(roundStart))

		successes := successesOf(exchanges)
		if err := thread.AppendRound(council.Round{Exchanges: successes, PeerRefs: memberIDs(current)}); err != nil {
			return nil, err
		}
		meta.RoundsUsed = round

		if len(successes) < 2 {
			rlog.Warn("round %d left %d active members; invoking fallback", round, len(successes))
			return n.fallback(ctx, thread, members, meta, lastOf(meta.SimilarityProgression))
		}
		current = successes

		adjusted := n.adjustedThreshold(len(successes), originalCount)
		answers := ResolveCoreAnswers(successes)
		matrix, err := embedding.PairwiseMatrix(ctx, n.embedder, memberIDs(successes), answers, adjusted)
		if err != nil {
			// A failed similarity pass is a round failure, not a process
			// failure: log it and keep negotiating.
			rlog.Warn("round %d similarity pass failed: %v", round, err)
			continue
		}

		avg := council.Clamp01(matrix.Average)
		meta.SimilarityProgression = append(meta.SimilarityProgression, avg)
		rlog.Info("round %d: avg=%.4f min=%.4f adjusted threshold=%.4f (%d members)",
			round, avg, matrix.Min, adjusted, len(successes))

		// Consensus requires EVERY pair to clear the adjusted threshold, not
		// merely the average.
		if matrix.AllPairsMeet(adjusted) {
			winner := selectFinalAnswer(successes)
			meta.ConsensusReached = true
			meta.QualityScore = qualityScore(winner.Content, avg)
			rlog.Info("consensus reached in round %d (winner=%s)", round, winner.MemberID)
			return n.decision(winner.Content, avg, successes, meta), nil
		}

		if n.cfg.EarlyTermination.Enabled && avg >= n.cfg.EarlyTermination.Threshold {
			winner := selectFinalAnswer(successes)
			meta.EarlyTerminated = true
			meta.EstimatedCostSavings = n.estimatedSavings(effectiveMax-round, len(successes))
			meta.QualityScore = qualityScore(winner.Content, avg)
			rlog.Info("early termination in round %d (avg %.4f >= %.4f, est. savings $%.4f)",
				round, avg, n.cfg.EarlyTermination.Threshold, meta.EstimatedCostSavings)
			return n.decision(winner.Content, avg, successes, meta), nil
		}

		if round >= 3 && n.detector.Deadlocked(meta.SimilarityProgression, n.cfg.AgreementThreshold) {
			meta.DeadlockDetected = true
			if n.cfg.HumanEscalation {
				meta.EscalationAdvised = true
			}
			// Advisory only; the loop keeps running.
			rlog.Warn("deadlock detected at round %d (trend=%s)", round, n.detector.Classify(meta.SimilarityProgression))
		}
	}

	rlog.Info("round cap reached without consensus; invoking fallback")
	return n.fallback(ctx, thread, members, meta, lastOf(meta.SimilarityProgression))
}

// =============================================================================
// ROUND EXECUTION
// =============================================================================

// runParallelRound prompts every active member concurrently with the same
// deduplication discipline as the round-0 fan-out and awaits all responses
// before proceeding. An early-termination opportunity spotted mid-round is
// logged but never acted on until the wave finishes, to keep results
// independent of response ordering.
func (n *Negotiator) runParallelRound(ctx context.Context, thread *council.Thread, members []council.Member, previous []council.Exchange, round int) []council.Exchange {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		exchanges []council.Exchange
		arrived   int
	)

	for _, prev := range previous {
		member, ok := findMember(members, prev.MemberID)
		if !ok {
			continue
		}
		prompt := n.prompts.BuildRoundPrompt(thread.Prompt, member, prev, peersOf(previous, prev.MemberID), nil, round)

		wg.Add(1)
		go func() {
			defer wg.Done()
			ex := n.callMember(ctx, thread.RequestID, member, prompt, round)
			mu.Lock()
			exchanges = append(exchanges, ex)
			arrived++
			count := arrived
			mu.Unlock()
			logging.NegotiationDebug("round %d: %d/%d responses in", round, count, len(previous))
		}()
	}
	wg.Wait()
	return exchanges
}

// runSequentialRound prompts members one at a time in randomized order; each
// member's prompt is rebuilt to include answers already given earlier in the
// same round, deliberately creating asymmetric information within the round.
func (n *Negotiator) runSequentialRound(ctx context.Context, thread *council.Thread, members []council.Member, previous []council.Exchange, round int, rng *rand.Rand) []council.Exchange {
	order := make([]council.Exchange, len(previous))
	copy(order, previous)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var exchanges []council.Exchange
	var sameRound []council.Exchange
	for _, prev := range order {
		member, ok := findMember(members, prev.MemberID)
		if !ok {
			continue
		}
		prompt := n.prompts.BuildRoundPrompt(thread.Prompt, member, prev, peersOf(previous, prev.MemberID), sameRound, round)
		ex := n.callMember(ctx, thread.RequestID, member, prompt, round)
		exchanges = append(exchanges, ex)
		if !ex.Failed {
			sameRound = append(sameRound, ex)
		}
	}
	return exchanges
}

// callMember executes one deduplicated call raced against the per-round
// timeout. The underlying call is never aborted when the timer wins; it is
// drained in the background and its result discarded.
func (n *Negotiator) callMember(ctx context.Context, requestID string, m council.Member, prompt string, round int) council.Exchange {
	start := time.Now()

	type callResult struct {
		resp *provider.Response
		err  error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		v, err := n.dedup.Do(requestID, m.ID, prompt, func() (any, error) {
			return n.pool.SendRequest(ctx, m, prompt)
		})
		resp, _ := v.(*provider.Response)
		resultCh <- callResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(n.cfg.PerRoundTimeout())

	select {
	case r := <-resultCh:
		timer.Stop()
		ex := council.Exchange{
			MemberID:  m.ID,
			Round:     round,
			Timestamp: time.Now(),
			Latency:   time.Since(start),
		}
		switch {
		case r.err != nil:
			ex.Failed = true
			ex.Err = r.err.Error()
		case r.resp == nil || !r.resp.Success:
			ex.Failed = true
			if r.resp != nil {
				ex.Err = r.resp.Err
			} else {
				ex.Err = "provider returned no response"
			}
		default:
			ex.Content = r.resp.Content
			ex.TokensIn = r.resp.Usage.Prompt
			ex.TokensOut = r.resp.Usage.Completion
		}
		return ex

	case <-timer.C:
		logging.NegotiationWarn("member %s timed out in round %d after %v", m.ID, round, n.cfg.PerRoundTimeout())
		go func() { <-resultCh }()
		return council.Exchange{
			MemberID:  m.ID,
			Round:     round,
			Timestamp: time.Now(),
			Latency:   time.Since(start),
			Failed:    true,
			Err:       fmt.Sprintf("timed out after %v", n.cfg.PerRoundTimeout()),
		}
	}
}

// =============================================================================
// TERMINAL STATES
// =============================================================================

// decision assembles the iterative strategy's final decision. Confidence is
// graded against the configured agreement threshold, not the generic tiers.
func (n *Negotiator) decision(content string, lastSimilarity float64, contributors []council.Exchange, meta *council.NegotiationMeta) *council.Decision {
	return &council.Decision{
		Content:      content,
		Confidence:   n.finalConfidence(lastSimilarity),
		Agreement:    council.Clamp01(lastSimilarity),
		Strategy:     council.StrategyAdaptive,
		Contributing: memberIDs(contributors),
		Negotiation:  meta,
	}
}

// fallback maps the configured fallback strategy onto a static synthesis
// strategy and re-invokes the synthesis engine over the extended thread.
func (n *Negotiator) fallback(ctx context.Context, thread *council.Thread, members []council.Member, meta *council.NegotiationMeta, lastSimilarity float64) (*council.Decision, error) {
	meta.FallbackUsed = true

	strategy := council.StrategyConsensus
	opts := synthesis.Options{Members: members}
	switch n.cfg.FallbackStrategy {
	case "weighted", "weighted_fusion":
		strategy = council.StrategyWeighted
		opts.Weights = defaultWeights(members)
	case "meta", "meta_synthesis":
		strategy = council.StrategyMeta
		opts.ModeratorPolicy = moderator.PolicyStrongest
	}

	synthesized, err := n.synth.Synthesize(ctx, thread.AllExchanges(), strategy, opts)
	if err != nil {
		return nil, fmt.Errorf("fallback synthesis failed: %w", err)
	}

	meta.QualityScore = qualityScore(synthesized.Content, lastSimilarity)
	decision := n.decision(synthesized.Content, lastSimilarity, thread.AllExchanges(), meta)
	logging.Negotiation("fallback via %s strategy produced %s-confidence decision", strategy, decision.Confidence)
	return decision, nil
}

// finalConfidence grades the last observed similarity against thresholds
// derived from the configured agreement threshold.
func (n *Negotiator) finalConfidence(similarity float64) council.Confidence {
	highBar := n.cfg.AgreementThreshold + 0.1
	if highBar < 0.95 {
		highBar = 0.95
	}
	mediumBar := n.cfg.AgreementThreshold
	if mediumBar < 0.75 {
		mediumBar = 0.75
	}
	switch {
	case similarity >= highBar:
		return council.ConfidenceHigh
	case similarity >= mediumBar:
		return council.ConfidenceMedium
	default:
		return council.ConfidenceLow
	}
}

// adjustedThreshold scales the base agreement threshold proportionally when
// members have dropped out.
func (n *Negotiator) adjustedThreshold(active, original int) float64 {
	if original <= 0 {
		return n.cfg.AgreementThreshold
	}
	return n.cfg.AgreementThreshold * float64(active) / float64(original)
}

// estimatedSavings prices the rounds that early termination avoided.
func (n *Negotiator) estimatedSavings(remainingRounds, activeMembers int) float64 {
	if remainingRounds < 0 {
		remainingRounds = 0
	}
	perToken := n.cfg.TokenPricePer1K / 1000.0
	return float64(remainingRounds) * float64(activeMembers) * float64(n.cfg.AvgTokensPerRound) * perToken
}

func (n *Negotiator) newRNG() *rand.Rand {
	if n.cfg.RandomizationSeed != 0 {
		return rand.New(rand.NewSource(n.cfg.RandomizationSeed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// =============================================================================
// HELPERS
// =============================================================================

func allIdentical(exchanges []council.Exchange) bool {
	for _, ex := range exchanges[1:] {
		if ex.Content != exchanges[0].Content {
			return false
		}
	}
	return true
}

func successesOf(exchanges []council.Exchange) []council.Exchange {
	var out []council.Exchange
	for _, ex := range exchanges {
		if !ex.Failed && ex.Content != "" {
			out = append(out, ex)
		}
	}
	return out
}

func memberIDs(exchanges []council.Exchange) []string {
	ids := make([]string, len(exchanges))
	for i, ex := range exchanges {
		ids[i] = ex.MemberID
	}
	return ids
}

func peersOf(exchanges []council.Exchange, memberID string) []council.Exchange {
	var peers []council.Exchange
	for _, ex := range exchanges {
		if ex.MemberID != memberID {
			peers = append(peers, ex)
		}
	}
	return peers
}

func findMember(members []council.Member, id string) (council.Member, bool) {
	for _, m := range members {
		if m.ID == id {
			return m, true
		}
	}
	return council.Member{}, false
}

func defaultWeights(members []council.Member) map[string]float64 {
	weights := make(map[string]float64, len(members))
	for _, m := range members {
		weights[m.ID] = 1.0
	}
	return weights
}

func lastOf(progression []float64) float64 {
	if len(progression) == 0 {
		return 0
	}
	return progression[len(progression)-1]
}

func averageDuration(durations []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

// qualityScore blends observed agreement with the length preference used for
// winner selection.
func qualityScore(content string, similarity float64) float64 {
	return council.Clamp01(0.5*council.Clamp01(similarity) + 0.5*lengthScore(content))
}
