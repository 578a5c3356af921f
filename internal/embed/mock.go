package embed

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// MockEmbedder produces deterministic pseudo-random embeddings derived from
// a hash of the input text, for tests and for running without a networked
// provider (provider "mock"). Equal text always yields an equal vector
// within one process.
type MockEmbedder struct {
	dims  int
	model string

	mu        sync.Mutex
	closed    bool
	failCalls int // when > 0, the next N Embed/EmbedBatch calls return an error
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder producing vectors of the given
// dimension.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 768
	}
	return &MockEmbedder{dims: dims, model: "mock"}
}

// FailNextCalls makes the next n Embed/EmbedBatch calls return an error,
// useful for exercising retry and failure-handling paths in callers.
func (e *MockEmbedder) FailNextCalls(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCalls = n
}

func (e *MockEmbedder) consumeFailure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCalls > 0 {
		e.failCalls--
		return true
	}
	return false
}

func (e *MockEmbedder) vectorFor(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	r := rand.New(rand.NewSource(int64(seed)))

	vec := make([]float32, e.dims)
	for i := range vec {
		vec[i] = float32(r.NormFloat64())
	}
	return normalizeVector(vec)
}

// Embed returns a deterministic vector derived from text, hashing the
// literal string as given (an empty or whitespace-only string hashes like
// any other text rather than short-circuiting to a zero vector).
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.consumeFailure() {
		return nil, mdvdberrors.EmbeddingProviderErr("mock embedder forced failure", nil)
	}
	return e.vectorFor(text), nil
}

// EmbedBatch returns deterministic vectors for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.consumeFailure() {
		return nil, mdvdberrors.EmbeddingProviderErr("mock embedder forced failure", nil)
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = e.vectorFor(text)
	}
	return results, nil
}

// Dimensions returns the embedding vector length.
func (e *MockEmbedder) Dimensions() int { return e.dims }

// ModelName returns "mock".
func (e *MockEmbedder) ModelName() string { return e.model }

// Available always reports true unless the embedder has been closed.
func (e *MockEmbedder) Available(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// Close marks the embedder closed. It holds no external resources.
func (e *MockEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
