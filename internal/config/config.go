// Package config loads mdvdb's configuration from layered sources: built-in
// defaults, a fallback user config file, a per-project config file, and
// environment variable overrides, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mdvdb/mdvdb/internal/chunk"
	"github.com/mdvdb/mdvdb/internal/embed"
	"github.com/mdvdb/mdvdb/internal/store"
)

// SearchMode selects which retrieval strategy a query uses.
type SearchMode string

const (
	SearchModeHybrid   SearchMode = "hybrid"
	SearchModeVector   SearchMode = "vector"
	SearchModeLexical  SearchMode = "lexical"
)

// Config is the complete runtime configuration for mdvdb.
type Config struct {
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// PathsConfig configures where the vault's content and index files live.
type PathsConfig struct {
	// SourceDirs are the directories scanned for Markdown content.
	SourceDirs []string `yaml:"source_dirs" json:"source_dirs"`

	// IndexFile is the path to the single-file vector+metadata index.
	IndexFile string `yaml:"index_file" json:"index_file"`

	// FTSIndexDir is the directory holding the lexical (BM25) index.
	FTSIndexDir string `yaml:"fts_index_dir" json:"fts_index_dir"`

	// IgnorePatterns are additional gitignore-syntax patterns to exclude.
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns"`
}

// EmbeddingsConfig configures the embedding provider used to vectorize chunks.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	APIKey     string `yaml:"api_key" json:"api_key"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// ChunkingConfig configures how Markdown bodies are split into chunks.
type ChunkingConfig struct {
	MaxTokens     int `yaml:"max_tokens" json:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// SearchConfig configures default query behavior.
type SearchConfig struct {
	DefaultLimit int        `yaml:"default_limit" json:"default_limit"`
	MinScore     float64    `yaml:"min_score" json:"min_score"`
	Mode         SearchMode `yaml:"mode" json:"mode"`
	RRFK         float64    `yaml:"rrf_k" json:"rrf_k"`
}

// WatchConfig configures the filesystem watcher used for incremental ingest.
type WatchConfig struct {
	DebounceMS int `yaml:"debounce_ms" json:"debounce_ms"`
}

// LogConfig configures logging verbosity.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig returns a Config populated with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			SourceDirs:     []string{"."},
			IndexFile:      ".markdownvdb.index",
			FTSIndexDir:    ".markdownvdb.fts",
			IgnorePatterns: nil,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  100,
			APIKey:     "",
			Endpoint:   "",
			OllamaHost: "http://localhost:11434",
		},
		Chunking: ChunkingConfig{
			MaxTokens:     512,
			OverlapTokens: 50,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MinScore:     0.0,
			Mode:         SearchModeHybrid,
			RRFK:         60.0,
		},
		Watch: WatchConfig{
			DebounceMS: 300,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the fallback user configuration
// file, following the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/markdownvdb/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/markdownvdb/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "markdownvdb", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "markdownvdb", "config.yaml")
	}
	return filepath.Join(home, ".config", "markdownvdb", "config.yaml")
}

// GetUserConfigDir returns the directory containing the fallback user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the fallback user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the fallback user configuration file if present.
// Returns a nil config and nil error if the file does not exist.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load assembles configuration for the vault rooted at dir, applying sources
// in order of increasing precedence:
//  1. Built-in defaults
//  2. Fallback user config ($XDG_CONFIG_HOME/markdownvdb/config.yaml)
//  3. Project config (.markdownvdb.yaml in dir)
//  4. Environment variables (MDVDB_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .markdownvdb.yaml or
// .markdownvdb.yml in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".markdownvdb.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".markdownvdb.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if len(other.Paths.SourceDirs) > 0 {
		c.Paths.SourceDirs = other.Paths.SourceDirs
	}
	if other.Paths.IndexFile != "" {
		c.Paths.IndexFile = other.Paths.IndexFile
	}
	if other.Paths.FTSIndexDir != "" {
		c.Paths.FTSIndexDir = other.Paths.FTSIndexDir
	}
	if len(other.Paths.IgnorePatterns) > 0 {
		c.Paths.IgnorePatterns = append(c.Paths.IgnorePatterns, other.Paths.IgnorePatterns...)
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.APIKey != "" {
		c.Embeddings.APIKey = other.Embeddings.APIKey
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.Chunking.MaxTokens != 0 {
		c.Chunking.MaxTokens = other.Chunking.MaxTokens
	}
	if other.Chunking.OverlapTokens != 0 {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}

	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MinScore != 0 {
		c.Search.MinScore = other.Search.MinScore
	}
	if other.Search.Mode != "" {
		c.Search.Mode = other.Search.Mode
	}
	if other.Search.RRFK != 0 {
		c.Search.RRFK = other.Search.RRFK
	}

	if other.Watch.DebounceMS != 0 {
		c.Watch.DebounceMS = other.Watch.DebounceMS
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// applyEnvOverrides applies MDVDB_* environment variable overrides, the
// highest-precedence configuration source.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MDVDB_SOURCE_DIRS"); v != "" {
		c.Paths.SourceDirs = splitList(v)
	}
	if v := os.Getenv("MDVDB_INDEX_FILE"); v != "" {
		c.Paths.IndexFile = v
	}
	if v := os.Getenv("MDVDB_FTS_INDEX_DIR"); v != "" {
		c.Paths.FTSIndexDir = v
	}
	if v := os.Getenv("MDVDB_IGNORE_PATTERNS"); v != "" {
		c.Paths.IgnorePatterns = append(c.Paths.IgnorePatterns, splitList(v)...)
	}

	if v := os.Getenv("MDVDB_EMBEDDING_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MDVDB_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MDVDB_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("MDVDB_EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("MDVDB_EMBEDDING_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("MDVDB_EMBEDDING_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("MDVDB_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("MDVDB_CHUNK_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.MaxTokens = n
		}
	}
	if v := os.Getenv("MDVDB_CHUNK_OVERLAP_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Chunking.OverlapTokens = n
		}
	}

	if v := os.Getenv("MDVDB_WATCH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Watch.DebounceMS = n
		}
	}

	if v := os.Getenv("MDVDB_SEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("MDVDB_SEARCH_MIN_SCORE"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Search.MinScore = f
		}
	}
	if v := os.Getenv("MDVDB_SEARCH_MODE"); v != "" {
		c.Search.Mode = SearchMode(strings.ToLower(v))
	}
	if v := os.Getenv("MDVDB_SEARCH_RRF_K"); v != "" {
		if f, err := parseFloat64(v); err == nil && f > 0 {
			c.Search.RRFK = f
		}
	}

	if v := os.Getenv("MDVDB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// splitList splits a comma-separated environment value into trimmed,
// non-empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if !embed.IsValidProvider(c.Embeddings.Provider) {
		return fmt.Errorf("embeddings.provider must be one of %v, got %q", embed.ValidProviders(), c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens must be non-negative and less than max_tokens, got %d", c.Chunking.OverlapTokens)
	}

	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	switch c.Search.Mode {
	case SearchModeHybrid, SearchModeVector, SearchModeLexical:
	default:
		return fmt.Errorf("search.mode must be 'hybrid', 'vector', or 'lexical', got %q", c.Search.Mode)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %f", c.Search.RRFK)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search.min_score must be between 0 and 1, got %f", c.Search.MinScore)
	}

	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms must be non-negative, got %d", c.Watch.DebounceMS)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Log.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the fallback user configuration file.
// Returns a nil config and nil error if the file does not exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// EmbedderConfig builds the embed.Config this configuration describes, ready
// to be passed to embed.NewEmbedder.
func (c *Config) EmbedderConfig() embed.Config {
	return embed.Config{
		Provider:   embed.ParseProvider(c.Embeddings.Provider),
		Model:      c.Embeddings.Model,
		Dimensions: c.Embeddings.Dimensions,
		BatchSize:  c.Embeddings.BatchSize,
		APIKey:     c.Embeddings.APIKey,
		Endpoint:   c.Embeddings.Endpoint,
		OllamaHost: c.Embeddings.OllamaHost,
	}
}

// ChunkerOptions builds the chunk.Options this configuration describes.
func (c *Config) ChunkerOptions() chunk.Options {
	return chunk.Options{
		MaxTokens:     c.Chunking.MaxTokens,
		OverlapTokens: c.Chunking.OverlapTokens,
	}
}

// StoreEmbeddingConfig builds the store.EmbeddingConfig this configuration
// describes, for index compatibility checks.
func (c *Config) StoreEmbeddingConfig() store.EmbeddingConfig {
	return store.EmbeddingConfig{
		Provider:   string(embed.ParseProvider(c.Embeddings.Provider)),
		Model:      c.Embeddings.Model,
		Dimensions: c.Embeddings.Dimensions,
	}
}
