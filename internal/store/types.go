// Package store provides the on-disk persistence layer for mdvdb: a dense
// HNSW vector index, a co-resident BM25 lexical index, and the chunk/file
// metadata that ties both back to source Markdown.
package store

import (
	"context"
	"time"
)

// StoredChunk is a persisted, retrievable unit of Markdown content.
type StoredChunk struct {
	ID               string   // "<source_path>#<chunk_index>"
	SourcePath       string   // relative to the vault root
	HeadingHierarchy []string // e.g. ["Intro", "Background"]
	Content          string
	StartLine        int // 1-indexed, inclusive
	EndLine          int // 1-indexed, inclusive
	ChunkIndex       int // position among sibling chunks of the same file
	IsSubSplit       bool
}

// StoredFile is a persisted record of a tracked Markdown file.
type StoredFile struct {
	RelativePath string
	ContentHash  string // sha256 hex of the full file content
	Frontmatter  map[string]interface{}
	FileSize     int64
	ChunkIDs     []string
	IndexedAt    time.Time
}

// EmbeddingConfig records the embedding provider an index was built with.
// A mismatch between the configured provider/model and this record is a
// hard error: vectors produced by different models are not comparable.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimensions int
}

// CurrentSchemaVersion is the metadata schema version written to new indexes.
const CurrentSchemaVersion = 1

// IndexMetadata is the full metadata region of an index file: every chunk
// and file record, plus the embedding configuration and bookkeeping needed
// to validate and report on the index.
type IndexMetadata struct {
	Chunks          map[string]*StoredChunk
	Files           map[string]*StoredFile
	EmbeddingConfig EmbeddingConfig
	LastUpdated     time.Time
	Schema          int
}

// IndexStatus summarizes an index for the `mdvdb status` command.
type IndexStatus struct {
	DocumentCount   int
	ChunkCount      int
	VectorCount     int
	LastUpdated     time.Time
	FileSizeBytes   int64
	EmbeddingConfig EmbeddingConfig
}

// VectorResult is a single nearest-neighbor hit from the vector store.
type VectorResult struct {
	ID    string  // chunk ID
	Score float32 // cosine: 1.0 - distance; euclidean: 1.0 / (1.0 + distance)
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding vector dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is the HNSW max connections per layer (default: 16).
	M int

	// EfSearch is the HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// VectorStore provides semantic search over chunk embeddings via HNSW.
type VectorStore interface {
	// Add inserts vectors keyed by chunk ID. Re-adding an existing ID
	// replaces its vector.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by chunk ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns every live chunk ID held by the store.
	AllIDs() []string

	// Contains reports whether a chunk ID has a vector.
	Contains(id string) bool

	// Count returns the number of live vectors.
	Count() int

	// Close releases any resources held by the store.
	Close() error
}

// LexicalDocument is a single document submitted to the lexical (BM25) store.
type LexicalDocument struct {
	ChunkID          string
	SourcePath       string
	Content          string
	HeadingHierarchy []string
}

// LexicalResult is a single BM25 hit.
type LexicalResult struct {
	ChunkID string
	Score   float64
}

// LexicalStats reports basic lexical-index statistics.
type LexicalStats struct {
	DocumentCount int
}

// LexicalStore provides keyword search scored by BM25, with the heading
// hierarchy boosted relative to body content.
type LexicalStore interface {
	// Upsert indexes or reindexes documents.
	Upsert(ctx context.Context, docs []*LexicalDocument) error

	// RemoveBySourcePath deletes every document belonging to a file.
	RemoveBySourcePath(ctx context.Context, sourcePath string) error

	// Search returns documents matching query, scored by BM25.
	Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error)

	// Commit makes pending writes visible to subsequent searches.
	Commit() error

	// Stats reports index statistics.
	Stats() LexicalStats

	// Close releases any resources held by the store.
	Close() error
}
