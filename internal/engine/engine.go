// Package engine ties the deliberation pipeline together: it resolves a
// preset, fans the prompt out through the distributor, and routes the
// collected exchanges into either a static synthesis strategy or the
// iterative negotiator.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/dedup"
	"conclave/internal/dispatch"
	"conclave/internal/embedding"
	"conclave/internal/health"
	"conclave/internal/logging"
	"conclave/internal/moderator"
	"conclave/internal/negotiation"
	"conclave/internal/provider"
	"conclave/internal/similarity"
	"conclave/internal/synthesis"
)

// Request is one deliberation request.
type Request struct {
	// Preset names the configuration preset; empty means "default".
	Preset string

	// Prompt is the question put to the council.
	Prompt string

	// Strategy overrides the preset's synthesis strategy when non-empty.
	Strategy string

	// Moderator designates a specific member as meta-synthesis moderator.
	Moderator string
}

// Engine is the top-level deliberation orchestrator. One engine serves many
// concurrent requests; all members share its health tracker and dedup layer.
type Engine struct {
	cfg      *config.Config
	pool     provider.Pool
	tracker  *health.Tracker
	dedup    *dedup.Deduplicator
	embedder embedding.Engine
	synth    *synthesis.Engine
	selector *moderator.Selector
}

// New wires an engine from configuration. The health tracker's disable
// threshold comes from the default preset so every preset shares the same
// provider health view.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	def, err := cfg.Preset("")
	if err != nil {
		return nil, err
	}

	tracker := health.NewTracker(def.Performance.DisableThreshold)
	pool, err := provider.NewHTTPPool(cfg.Provider.Endpoint, cfg.Provider.APIKey, tracker)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider pool: %w", err)
	}

	embedder, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}

	selector := moderator.NewSelector(nil)
	return &Engine{
		cfg:      cfg,
		pool:     pool,
		tracker:  tracker,
		dedup:    dedup.New(),
		embedder: embedder,
		synth:    synthesis.NewEngine(pool, selector, similarity.Heuristic{}),
		selector: selector,
	}, nil
}

// NewWithPool wires an engine around a caller-supplied pool and embedder.
// Used by tests and by embedders that need out-of-band credentials.
func NewWithPool(cfg *config.Config, pool provider.Pool, tracker *health.Tracker, embedder embedding.Engine) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("provider pool is required")
	}
	if tracker == nil {
		tracker = health.NewTracker(0)
	}
	selector := moderator.NewSelector(nil)
	return &Engine{
		cfg:      cfg,
		pool:     pool,
		tracker:  tracker,
		dedup:    dedup.New(),
		embedder: embedder,
		synth:    synthesis.NewEngine(pool, selector, similarity.Heuristic{}),
		selector: selector,
	}, nil
}

// Tracker exposes the shared health tracker for status reporting.
func (e *Engine) Tracker() *health.Tracker { return e.tracker }

// Deliberate runs one full deliberation: fan out, then collapse via the
// selected strategy. Partial fan-out results (global deadline fired) always
// produce a low-confidence decision, whatever the strategy computed.
func (e *Engine) Deliberate(ctx context.Context, req Request) (*council.Decision, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is empty")
	}

	preset, err := e.cfg.Preset(req.Preset)
	if err != nil {
		return nil, err
	}

	strategy := council.Strategy(preset.Deliberation.Strategy)
	if req.Strategy != "" {
		strategy = council.Strategy(req.Strategy)
	}

	requestID := uuid.NewString()
	rlog := logging.WithRequestID(logging.CategoryAPI, requestID)
	rlog.Info("deliberation start: preset=%s strategy=%s members=%d", req.Preset, strategy, len(preset.Council))

	dist := dispatch.NewDistributor(e.pool, e.tracker, e.dedup, preset.Performance.MaxConcurrentCalls)
	result, err := dist.Distribute(ctx, requestID, req.Prompt, preset.Council, 0, preset.Performance.GlobalTimeout())
	if err != nil {
		return nil, err
	}
	if len(result.Exchanges) == 0 {
		return nil, fmt.Errorf("global deadline fired before any member responded")
	}

	var decision *council.Decision
	switch strategy {
	case council.StrategyAdaptive:
		if result.Partial {
			// Out of time: the harvest goes straight to static synthesis.
			// Entering the negotiator would re-poll members after the
			// global deadline already expired.
			decision, err = e.synth.Synthesize(ctx, result.Exchanges, council.StrategyConsensus, synthesis.Options{
				Weights: memberWeights(preset.Council),
				Members: preset.Council,
			})
			break
		}
		decision, err = e.negotiate(ctx, requestID, req.Prompt, preset, result)
	case council.StrategyConsensus, council.StrategyWeighted, council.StrategyMeta:
		decision, err = e.synth.Synthesize(ctx, result.Exchanges, strategy, synthesis.Options{
			Weights:             memberWeights(preset.Council),
			ModeratorPolicy:     moderatorPolicy(req.Moderator),
			DesignatedModerator: req.Moderator,
			Members:             preset.Council,
		})
	default:
		return nil, fmt.Errorf("unknown synthesis strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	if result.Partial {
		// A harvested wave is incomplete evidence no matter how well the
		// survivors agree.
		decision.Confidence = council.ConfidenceLow
		decision.GlobalDeadline = true
		rlog.Warn("partial fan-out: confidence forced low")
	}

	rlog.Info("deliberation complete: strategy=%s confidence=%s agreement=%.4f contributors=%d",
		decision.Strategy, decision.Confidence, decision.Agreement, len(decision.Contributing))
	return decision, nil
}

// negotiate runs the iterative consensus protocol seeded with the round-0
// exchanges.
func (e *Engine) negotiate(ctx context.Context, requestID, prompt string, preset config.Preset, result *dispatch.Result) (*council.Decision, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("adaptive strategy requires an embedding engine")
	}
	thread := council.NewThread(requestID, prompt)
	defer thread.Close()

	if err := thread.AppendRound(council.Round{Exchanges: result.Exchanges}); err != nil {
		return nil, err
	}

	neg := negotiation.NewNegotiator(e.pool, e.dedup, e.embedder, e.synth, nil, preset.Iterative)
	return neg.Negotiate(ctx, thread, preset.Council)
}

// memberWeights lifts per-member configured weights into the map weighted
// fusion consumes. Unset weights stay at the fusion default of 1.0.
func memberWeights(members []council.Member) map[string]float64 {
	weights := make(map[string]float64, len(members))
	for _, m := range members {
		if m.Weight > 0 {
			weights[m.ID] = m.Weight
		}
	}
	return weights
}

func moderatorPolicy(designated string) moderator.Policy {
	if designated != "" {
		return moderator.PolicyDesignated
	}
	return moderator.PolicyRotating
}
