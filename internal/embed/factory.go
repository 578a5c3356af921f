package embed

import (
	"context"
	"strconv"
	"strings"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// ProviderType identifies which embedding provider to construct.
type ProviderType string

const (
	// ProviderOpenAI uses an OpenAI-compatible /embeddings HTTP endpoint.
	ProviderOpenAI ProviderType = "openai"

	// ProviderOllama uses Ollama's local /api/embed endpoint.
	ProviderOllama ProviderType = "ollama"

	// ProviderCustom is wire-compatible with ProviderOpenAI; it exists as
	// a distinct selector so configuration can express "an OpenAI-shaped
	// endpoint that is not OpenAI itself" (Azure OpenAI, vLLM, LiteLLM,
	// and similar) without implying api.openai.com as a fallback host.
	ProviderCustom ProviderType = "custom"

	// ProviderMock returns deterministic, non-networked embeddings. Used
	// in tests; it is chosen only when selected by name, since an empty
	// provider string selects ProviderOpenAI.
	ProviderMock ProviderType = "mock"
)

// ParseProvider converts a string to a ProviderType, defaulting to
// ProviderOpenAI for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "custom":
		return ProviderCustom
	case "mock":
		return ProviderMock
	case "openai", "":
		return ProviderOpenAI
	default:
		return ProviderOpenAI
	}
}

// Config is the provider-agnostic configuration accepted by NewEmbedder.
// Fields not relevant to the selected provider are ignored.
type Config struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	BatchSize  int
	APIKey     string
	Endpoint   string // OpenAI-compatible / Custom base URL override
	OllamaHost string
}

// NewEmbedder constructs the Embedder selected by cfg.Provider.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama:
		ocfg := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			ocfg.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		if cfg.Dimensions > 0 {
			ocfg.Dimensions = cfg.Dimensions
		}
		if cfg.BatchSize > 0 {
			ocfg.BatchSize = cfg.BatchSize
		}
		return NewOllamaEmbedder(ctx, ocfg)

	case ProviderCustom:
		ccfg := DefaultOpenAIConfig()
		if cfg.Endpoint != "" {
			ccfg.BaseURL = cfg.Endpoint
		}
		if cfg.Model != "" {
			ccfg.Model = cfg.Model
		}
		if cfg.Dimensions > 0 {
			ccfg.Dimensions = cfg.Dimensions
		}
		if cfg.BatchSize > 0 {
			ccfg.BatchSize = cfg.BatchSize
		}
		ccfg.APIKey = cfg.APIKey
		return NewOpenAIEmbedder(ctx, ccfg)

	case ProviderMock:
		dims := cfg.Dimensions
		if dims <= 0 {
			dims = DefaultOpenAIDimensions
		}
		return NewMockEmbedder(dims), nil

	case ProviderOpenAI:
		fallthrough
	default:
		ocfg := DefaultOpenAIConfig()
		if cfg.Endpoint != "" {
			ocfg.BaseURL = cfg.Endpoint
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		if cfg.Dimensions > 0 {
			ocfg.Dimensions = cfg.Dimensions
		}
		if cfg.BatchSize > 0 {
			ocfg.BatchSize = cfg.BatchSize
		}
		ocfg.APIKey = cfg.APIKey
		return NewOpenAIEmbedder(ctx, ocfg)
	}
}

// ValidProviders returns every recognized provider name.
func ValidProviders() []string {
	return []string{string(ProviderOpenAI), string(ProviderOllama), string(ProviderCustom), string(ProviderMock)}
}

// IsValidProvider reports whether s names a recognized provider.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// CheckModelMatch returns an error if an index's stored model/dimensions
// disagree with the embedder currently configured. A mismatch is a hard
// error rather than a silent re-embed: mixing vectors from two models in
// one HNSW graph produces meaningless distances.
func CheckModelMatch(indexModel string, indexDimensions int, e Embedder) error {
	if indexModel != "" && indexModel != e.ModelName() {
		return mdvdberrors.ConfigErr(
			"embedding model mismatch: index was built with a different model than is currently configured",
			nil,
		).WithDetail("index_model", indexModel).WithDetail("configured_model", e.ModelName())
	}
	if indexDimensions > 0 && indexDimensions != e.Dimensions() {
		return mdvdberrors.ConfigErr(
			"embedding dimension mismatch: index was built with a different vector length than the configured embedder produces",
			nil,
		).WithDetail("index_dimensions", strconv.Itoa(indexDimensions)).WithDetail("configured_dimensions", strconv.Itoa(e.Dimensions()))
	}
	return nil
}
