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

// DefaultOpenAIBaseURL is api.openai.com's embeddings endpoint base. A
// custom provider configuration overrides this with any OpenAI-compatible
// server (Azure OpenAI, vLLM, LiteLLM, etc.) since they all speak the same
// /embeddings wire format.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// DefaultOpenAIDimensions is text-embedding-3-small's native vector length.
const DefaultOpenAIDimensions = 1536

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	BaseURL    string // e.g. https://api.openai.com/v1, or any compatible server
	APIKey     string
	Model      string
	Dimensions int // 0 lets the server pick the model's native dimension
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOpenAIConfig returns config with every zero field set to its
// default.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    DefaultOpenAIBaseURL,
		Model:      DefaultOpenAIModel,
		Dimensions: DefaultOpenAIDimensions,
		BatchSize:  DefaultBatchSize,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponseItem struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type openAIEmbedResponse struct {
	Data  []openAIEmbedResponseItem `json:"data"`
	Model string                    `json:"model"`
}

// OpenAIEmbedder generates embeddings through an OpenAI-compatible HTTP
// embeddings endpoint.
type OpenAIEmbedder struct {
	client  *http.Client
	config  OpenAIConfig
	dims    int
	circuit *mdvdberrors.CircuitBreaker

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder bound to cfg. Dimensions, if left
// at 0, are detected from the first embedding returned by the server.
func NewOpenAIEmbedder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
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

	e := &OpenAIEmbedder{
		client: &http.Client{},
		config: cfg,
		dims:   cfg.Dimensions,
		circuit: mdvdberrors.NewCircuitBreaker("embed:"+cfg.BaseURL,
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

func (e *OpenAIEmbedder) detectDimensions(ctx context.Context) (int, error) {
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
// breaker, so a provider that is down does not get hammered with retries
// on every subsequent call until it has had time to recover. A fatal
// error (auth failure, malformed response) cancels the retry loop
// immediately instead of burning through the full backoff schedule.
func (e *OpenAIEmbedder) embedGuarded(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *OpenAIEmbedder) retryConfig() mdvdberrors.RetryConfig {
	return mdvdberrors.RetryConfig{
		MaxRetries:   e.config.MaxRetries,
		InitialDelay: DefaultRetryInitialDelay,
		MaxDelay:     DefaultRetryInitialDelay * time.Duration(1<<uint(e.config.MaxRetries)),
		Multiplier:   DefaultRetryMultiplier,
		Jitter:       false,
	}
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, mdvdberrors.EmbeddingProviderErr("embedder is closed", nil)
	}
	e.mu.RUnlock()

	embeddings, err := e.embedGuarded(ctx, []string{withNonEmptyPlaceholder(text)})
	if err != nil {
		return nil, mdvdberrors.EmbeddingProviderErr("embedding request failed", err)
	}
	if len(embeddings) == 0 {
		return nil, mdvdberrors.EmbeddingProviderErr("no embedding returned", nil)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, chunked to the
// configured batch size. Whitespace-only texts are sent as a single space,
// since the upstream API rejects empty strings outright.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, mdvdberrors.EmbeddingProviderErr("embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	sendTexts := make([]string, len(texts))
	for i, text := range texts {
		sendTexts[i] = withNonEmptyPlaceholder(text)
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(sendTexts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(sendTexts) {
			end = len(sendTexts)
		}
		batch := sendTexts[start:end]

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

// withNonEmptyPlaceholder replaces whitespace-only text with a single space.
// OpenAI-compatible embeddings endpoints reject an empty input string.
func withNonEmptyPlaceholder(text string) string {
	if strings.TrimSpace(text) == "" {
		return " "
	}
	return text
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	reqBody := openAIEmbedRequest{
		Input:      texts,
		Model:      e.config.Model,
		Dimensions: e.config.Dimensions,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(e.config.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach embedding server at %s: %w", e.config.BaseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, classifyEmbedStatus(resp.StatusCode, string(respBody))
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	embeddings := make([][]float32, len(result.Data))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		embeddings[item.Index] = normalizeVector(item.Embedding)
	}
	return embeddings, nil
}

// Dimensions returns the embedding vector length.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the configured model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available performs a lightweight probe embedding call to check
// reachability.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	_, err := e.doEmbed(ctx, []string{"health check"})
	return err == nil
}

// Close releases the embedder's HTTP connections.
func (e *OpenAIEmbedder) Close() error {
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
