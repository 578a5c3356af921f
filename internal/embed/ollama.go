package embed

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// DefaultOllamaHost is Ollama's default local API address.
const DefaultOllamaHost = "http://localhost:11434"

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 auto-detects from the first embedding
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOllamaConfig returns config with every zero field set to its
// default.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:       DefaultOllamaHost,
		Model:      DefaultOllamaModel,
		BatchSize:  DefaultBatchSize,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

type ollamaModelListResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

// OllamaEmbedder generates embeddings using Ollama's local HTTP API.
type OllamaEmbedder struct {
	client  *http.Client
	config  OllamaConfig
	dims    int
	circuit *mdvdberrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder bound to cfg, auto-detecting
// dimensions from a probe embedding when cfg.Dimensions is 0.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	e := &OllamaEmbedder{
		client: &http.Client{},
		config: cfg,
		dims:   cfg.Dimensions,
		circuit: mdvdberrors.NewCircuitBreaker("embed:"+cfg.Host,
			mdvdberrors.WithMaxFailures(5),
			mdvdberrors.WithResetTimeout(30*time.Second)),
	}

	if e.dims == 0 {
		dims, err := e.detectDimensions(ctx)
		if err != nil {
			return nil, mdvdberrors.EmbeddingProviderErr("failed to detect embedding dimensions", err)
		}
		e.dims = dims
	}

	return e, nil
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	embeddings, err := e.doEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned during dimension detection")
	}
	return len(embeddings[0]), nil
}

// embedGuarded runs a retrying embedding request through the circuit
// breaker. A fatal error (connection failure, malformed response) cancels
// the retry loop immediately instead of burning through the full backoff
// schedule.
func (e *OllamaEmbedder) embedGuarded(ctx context.Context, texts []string) ([][]float32, error) {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result [][]float32
	var fatalErr error
	err := e.circuit.Execute(func() error {
		r, err := mdvdberrors.RetryWithResult(retryCtx, e.retryConfig(), func() ([][]float32, error) {
			r, err := e.doEmbed(ctx, texts)
			if err != nil && !mdvdberrors.IsRetryable(err) {
				fatalErr = err
				cancel()
			}
			return r, err
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if fatalErr != nil {
		return nil, fatalErr
	}
	if stderrors.Is(err, mdvdberrors.ErrCircuitOpen) {
		return nil, mdvdberrors.EmbeddingProviderErr("embedding provider unavailable, circuit open", err)
	}
	return result, err
}

func (e *OllamaEmbedder) retryConfig() mdvdberrors.RetryConfig {
	return mdvdberrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: DefaultRetryInitialDelay,
		MaxDelay:     DefaultRetryInitialDelay * time.Duration(1<<uint(e.config.MaxRetries)),
		Multiplier:   DefaultRetryMultiplier,
		Jitter:       false,
	}
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, mdvdberrors.EmbeddingProviderErr("embedder is closed", nil)
	}
	e.mu.RUnlock()

	embeddings, err := e.embedGuarded(ctx, []string{text})
	if err != nil {
		return nil, mdvdberrors.EmbeddingProviderErr("embedding request failed", err)
	}
	if len(embeddings) == 0 {
		return nil, mdvdberrors.EmbeddingProviderErr("no embedding returned", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunked to the
// configured batch size. Whitespace-only texts are sent to Ollama as-is;
// unlike OpenAI-compatible endpoints, it tolerates an empty input string.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, mdvdberrors.EmbeddingProviderErr("embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		embeddings, err := e.embedGuarded(ctx, batch)
		if err != nil {
			return nil, mdvdberrors.EmbeddingProviderErr("batch embedding request failed", err)
		}
		if len(embeddings) != len(batch) {
			return nil, mdvdberrors.EmbeddingProviderErr("provider returned a different number of embeddings than texts sent", nil)
		}
		copy(results[start:end], embeddings)
	}

	return results, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}

	reqBody := ollamaEmbedRequest{Model: e.config.Model, Input: input}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(e.config.Host, "/") + "/api/embed"
	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ollama at %s: %w", e.config.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyEmbedStatus(resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		converted := make([]float32, len(emb))
		for j, v := range emb {
			converted[j] = float32(v)
		}
		embeddings[i] = normalizeVector(converted)
	}
	return embeddings, nil
}

// Dimensions returns the embedding vector length.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the configured model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available checks that Ollama is reachable and the configured model is
// installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	url := strings.TrimRight(e.config.Host, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result ollamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	modelLower := strings.ToLower(e.config.Model)
	for _, m := range result.Models {
		name := strings.ToLower(m.Name)
		if name == modelLower || strings.Split(name, ":")[0] == strings.Split(modelLower, ":")[0] {
			return true
		}
	}
	return false
}

// Close releases the embedder's HTTP connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if transport, ok := e.client.Transport.(*http.Transport); ok && transport != nil {
		transport.CloseIdleConnections()
	}
	return nil
}
