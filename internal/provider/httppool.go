package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"conclave/internal/council"
	"conclave/internal/health"
	"conclave/internal/logging"
)

// =============================================================================
// OPENAI-COMPATIBLE HTTP POOL
// =============================================================================

// HTTPPool is a provider pool backed by an OpenAI-compatible chat completions
// endpoint. Member.Model selects the model per call; the endpoint and API key
// are shared across the council. Failures and successes are reported to the
// shared health tracker so dispatch-side and pool-side counts never diverge.
type HTTPPool struct {
	endpoint string
	apiKey   string
	client   *http.Client
	tracker  *health.Tracker
}

// Compile-time assertion that HTTPPool implements Pool
var _ Pool = (*HTTPPool)(nil)

// NewHTTPPool creates a pool for an OpenAI-compatible endpoint.
func NewHTTPPool(endpoint, apiKey string, tracker *health.Tracker) (*HTTPPool, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("provider endpoint is required")
	}
	if tracker == nil {
		tracker = health.NewTracker(0)
	}
	return &HTTPPool{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			// Per-call deadlines come from the caller's context; this is a
			// hard upper bound against wedged connections.
			Timeout: 5 * time.Minute,
		},
		tracker: tracker,
	}, nil
}

// SendRequest sends one chat completion request for a member.
func (p *HTTPPool) SendRequest(ctx context.Context, member council.Member, prompt string) (*Response, error) {
	start := time.Now()

	if p.tracker.IsDisabled(member.ID) {
		reason, _ := p.tracker.DisabledReason(member.ID)
		return &Response{Success: false, Err: fmt.Sprintf("provider disabled: %s", reason)}, nil
	}

	reqBody := chatRequest{
		Model: member.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	logging.APIDebug("sending request to %s (model=%s, prompt=%d chars)", member.ID, member.Model, len(prompt))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.tracker.RecordFailure(member.ID)
		return &Response{
			Success: false,
			Latency: time.Since(start),
			Err:     err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		p.tracker.RecordFailure(member.ID)
		return &Response{
			Success: false,
			Latency: time.Since(start),
			Err:     fmt.Sprintf("provider returned status %d: %s", resp.StatusCode, string(bodyBytes)),
		}, nil
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		p.tracker.RecordFailure(member.ID)
		return &Response{
			Success: false,
			Latency: time.Since(start),
			Err:     fmt.Sprintf("failed to decode response: %v", err),
		}, nil
	}

	var content any
	if len(result.Choices) > 0 {
		content = result.Choices[0].Message.Content
	}

	p.tracker.ResetFailureCount(member.ID)
	return &Response{
		Success: true,
		Content: council.NormalizeContent(content),
		Usage: TokenUsage{
			Prompt:     result.Usage.PromptTokens,
			Completion: result.Usage.CompletionTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Health returns the shared tracker's view of a provider.
func (p *HTTPPool) Health(providerID string) health.Status {
	return p.tracker.StatusOf(providerID)
}

// MarkDisabled disables a provider with a reason.
func (p *HTTPPool) MarkDisabled(providerID, reason string) {
	p.tracker.MarkDisabled(providerID, reason)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			// Content is decoded loosely; some providers return structured
			// payloads here instead of a plain string.
			Content any `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
