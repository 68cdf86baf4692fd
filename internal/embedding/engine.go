// Package embedding provides vector embeddings for negotiation similarity
// scoring. Supports two backends: Ollama (local) and Google GenAI (cloud).
package embedding

import (
	"context"
	"fmt"
	"math"

	"conclave/internal/council"
	"conclave/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "embeddinggemma"

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
	}
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	logging.Embedding("creating embedding engine with provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// =============================================================================
// COSINE SIMILARITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		aMag += float64(a[i] * a[i])
		bMag += float64(b[i] * b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// =============================================================================
// PAIRWISE SIMILARITY MATRIX
// =============================================================================

// PairwiseMatrix embeds one text per member and returns the full symmetric
// similarity matrix with aggregate statistics. Results are computed fresh on
// every call; embeddings are never cached across negotiation rounds.
func PairwiseMatrix(ctx context.Context, eng Engine, memberIDs []string, texts []string, threshold float64) (council.SimilarityResult, error) {
	if len(memberIDs) != len(texts) {
		return council.SimilarityResult{}, fmt.Errorf("member/text count mismatch: %d != %d", len(memberIDs), len(texts))
	}

	result := council.SimilarityResult{
		MemberIDs: memberIDs,
		Matrix:    make([][]float64, len(texts)),
		Min:       1.0,
	}
	for i := range result.Matrix {
		result.Matrix[i] = make([]float64, len(texts))
		result.Matrix[i][i] = 1.0
	}

	if len(texts) < 2 {
		// A single answer has nothing to disagree with.
		result.Average, result.Max = 1.0, 1.0
		return result, nil
	}

	if eng == nil {
		return council.SimilarityResult{}, fmt.Errorf("no embedding engine configured")
	}
	vectors, err := eng.EmbedBatch(ctx, texts)
	if err != nil {
		return council.SimilarityResult{}, fmt.Errorf("batch embed failed: %w", err)
	}

	var sum float64
	var pairs int
	result.Max = 0.0
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sim, err := CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				return council.SimilarityResult{}, err
			}
			sim = council.Clamp01(sim)
			result.Matrix[i][j] = sim
			result.Matrix[j][i] = sim
			sum += sim
			pairs++
			if sim < result.Min {
				result.Min = sim
			}
			if sim > result.Max {
				result.Max = sim
			}
			if sim < threshold {
				result.BelowThreshold = append(result.BelowThreshold, council.PairSimilarity{
					A: memberIDs[i], B: memberIDs[j], Score: sim,
				})
			}
		}
	}
	result.Average = sum / float64(pairs)

	logging.EmbeddingDebug("pairwise matrix: n=%d avg=%.4f min=%.4f max=%.4f below=%d",
		len(texts), result.Average, result.Min, result.Max, len(result.BelowThreshold))
	return result, nil
}
