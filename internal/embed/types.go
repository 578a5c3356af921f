// Package embed generates vector embeddings for chunk text through a small
// set of pluggable providers: an OpenAI-compatible HTTP API (also used for
// user-supplied custom endpoints), Ollama's local embedding API, and an
// in-memory mock for tests and offline use.
package embed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

const (
	// DefaultBatchSize is the number of texts sent to a provider per request
	// when embedding more texts than fit in one call.
	DefaultBatchSize = 100

	// DefaultTimeout bounds a single embedding HTTP request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retry attempts after an embedding
	// request's initial failure, before the call is given up as failed.
	DefaultMaxRetries = 3

	// DefaultRetryInitialDelay is the delay before the first retry; it
	// doubles on each subsequent retry (1s, 2s, 4s for the default 3
	// retries).
	DefaultRetryInitialDelay = 1 * time.Second

	// DefaultRetryMultiplier is the exponential backoff factor applied
	// between retries.
	DefaultRetryMultiplier = 2.0
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text. How whitespace-only
	// text is handled is provider-specific: Mock hashes the literal string,
	// OpenAI-compatible providers substitute a single space (the wire API
	// rejects an empty input), and Ollama sends it unchanged.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, batching
	// requests to the provider's configured batch size.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector length.
	Dimensions() int

	// ModelName returns the model identifier in use.
	ModelName() string

	// Available reports whether the provider is reachable.
	Available(ctx context.Context) bool

	// Close releases any held resources (HTTP connections, etc).
	Close() error
}

// classifyEmbedStatus turns a non-200 HTTP response from an
// OpenAI-compatible embeddings endpoint into an error carrying the right
// retry classification: 401 is an authentication failure and never
// retried, 429 and 5xx are transient and retried with backoff, anything
// else is treated as a fatal, non-retryable provider error.
func classifyEmbedStatus(statusCode int, body string) error {
	switch {
	case statusCode == http.StatusUnauthorized:
		return mdvdberrors.New(mdvdberrors.ErrCodeEmbeddingAuth,
			fmt.Sprintf("embedding provider rejected credentials (401): %s", body), nil)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return mdvdberrors.New(mdvdberrors.ErrCodeEmbeddingProvider,
			fmt.Sprintf("embedding request failed with status %d: %s", statusCode, body), nil)
	default:
		return fmt.Errorf("embedding request failed with status %d: %s", statusCode, body)
	}
}

// normalizeVector returns v scaled to unit length. A zero vector is
// returned unchanged since it has no direction to normalize to.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
