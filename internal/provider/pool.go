// Package provider defines the pool interface the deliberation engine uses
// to reach responders, plus a generic OpenAI-compatible HTTP adapter.
package provider

import (
	"context"
	"time"

	"conclave/internal/council"
	"conclave/internal/health"
)

// TokenUsage counts prompt and completion tokens for one call.
type TokenUsage struct {
	Prompt     int
	Completion int
}

// Response is the outcome of one provider call. Content has already been
// passed through the normalization fallback chain.
type Response struct {
	Success bool
	Content string
	Usage   TokenUsage
	Latency time.Duration
	Err     string
}

// Pool sends prompts to council members and reports provider health. The
// deliberation engine consumes this interface; transport details live behind
// it.
type Pool interface {
	// SendRequest sends one prompt to one member and returns its response.
	SendRequest(ctx context.Context, member council.Member, prompt string) (*Response, error)

	// Health returns the provider's current health status.
	Health(providerID string) health.Status

	// MarkDisabled disables a provider with a reason.
	MarkDisabled(providerID, reason string)
}
