package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// headingBoost is the relative weight given to a chunk's heading hierarchy
// over its body content when scoring a lexical match, matching the
// field-boost used by the original Tantivy-based full-text index.
const headingBoost = 1.5

// bleveChunkDoc is the document shape indexed into Bleve. Content is
// indexed with English stemming but not stored (the original text lives in
// the metadata region); the heading path is stored so hits can be
// presented without a metadata round trip.
type bleveChunkDoc struct {
	SourcePath string `json:"source_path"`
	Content    string `json:"content"`
	Heading    string `json:"heading"`
}

// BleveLexicalStore is a LexicalStore backed by github.com/blevesearch/bleve/v2.
type BleveLexicalStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

func buildChunkMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	englishText := bleve.NewTextFieldMapping()
	englishText.Analyzer = en.AnalyzerName
	englishText.Store = false
	englishText.IncludeTermVectors = true

	headingText := bleve.NewTextFieldMapping()
	headingText.Analyzer = en.AnalyzerName
	headingText.Store = true
	headingText.IncludeTermVectors = true

	sourcePath := bleve.NewTextFieldMapping()
	sourcePath.Analyzer = "keyword"
	sourcePath.Store = true
	sourcePath.Index = true

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("content", englishText)
	chunkMapping.AddFieldMappingsAt("heading", headingText)
	chunkMapping.AddFieldMappingsAt("source_path", sourcePath)

	im.DefaultMapping = chunkMapping
	return im
}

// NewBleveLexicalStore creates an in-memory lexical store with no
// persistence, used in tests and wherever a throwaway index is wanted.
func NewBleveLexicalStore() (*BleveLexicalStore, error) {
	idx, err := bleve.NewMemOnly(buildChunkMapping())
	if err != nil {
		return nil, mdvdberrors.FtsErr("failed to create lexical index", err)
	}
	return &BleveLexicalStore{index: idx}, nil
}

// OpenBleveLexicalStore opens the on-disk lexical index directory at dir,
// creating it with the chunk mapping if it does not yet exist. Unlike the
// vector store, this directory is not embedded in the single index file:
// it is owned and managed entirely by bleve.
func OpenBleveLexicalStore(dir string) (*BleveLexicalStore, error) {
	if _, err := os.Stat(dir); err == nil {
		idx, openErr := bleve.Open(dir)
		if openErr != nil {
			return nil, mdvdberrors.FtsErr("failed to open lexical index", openErr)
		}
		return &BleveLexicalStore{index: idx}, nil
	}

	idx, err := bleve.New(dir, buildChunkMapping())
	if err != nil {
		return nil, mdvdberrors.FtsErr("failed to create lexical index", err)
	}
	return &BleveLexicalStore{index: idx}, nil
}

// Upsert indexes or reindexes documents. Bleve has no update-by-ID
// semantics beyond replace, so indexing with an existing ID overwrites it.
func (s *BleveLexicalStore) Upsert(ctx context.Context, docs []*LexicalDocument) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mdvdberrors.FtsErr("lexical index is closed", nil)
	}

	batch := s.index.NewBatch()
	for _, d := range docs {
		doc := bleveChunkDoc{
			SourcePath: d.SourcePath,
			Content:    d.Content,
			Heading:    strings.Join(d.HeadingHierarchy, " "),
		}
		if err := batch.Index(d.ChunkID, doc); err != nil {
			return mdvdberrors.FtsErr(fmt.Sprintf("failed to index chunk %s", d.ChunkID), err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return mdvdberrors.FtsErr("failed to execute index batch", err)
	}
	return nil
}

// RemoveBySourcePath deletes every document belonging to a file, mirroring
// upsert_chunks's delete-then-add pattern in the original full-text index.
func (s *BleveLexicalStore) RemoveBySourcePath(ctx context.Context, sourcePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mdvdberrors.FtsErr("lexical index is closed", nil)
	}

	query := bleve.NewTermQuery(sourcePath)
	query.SetField("source_path")
	req := bleve.NewSearchRequest(query)
	req.Size = 1_000_000
	req.Fields = nil

	result, err := s.index.Search(req)
	if err != nil {
		return mdvdberrors.FtsErr("failed to find chunks for removal", err)
	}
	if len(result.Hits) == 0 {
		return nil
	}

	batch := s.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := s.index.Batch(batch); err != nil {
		return mdvdberrors.FtsErr("failed to delete chunks", err)
	}
	return nil
}

// Search performs lenient, BM25-scored keyword search with the heading
// hierarchy boosted relative to body content.
func (s *BleveLexicalStore) Search(ctx context.Context, query string, limit int) ([]*LexicalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, mdvdberrors.FtsErr("lexical index is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return []*LexicalResult{}, nil
	}

	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")

	headingQuery := bleve.NewMatchQuery(query)
	headingQuery.SetField("heading")
	headingQuery.SetBoost(headingBoost)

	disjunction := bleve.NewDisjunctionQuery(contentQuery, headingQuery)

	req := bleve.NewSearchRequestOptions(disjunction, limit, 0, false)
	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, mdvdberrors.FtsErr("search failed", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{ChunkID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Commit is a no-op for the in-memory index: Bleve's batches are visible to
// search as soon as Batch() returns. It exists to mirror the commit-to-reload
// lifecycle of the original Tantivy-backed store for callers coordinating
// multiple stores.
func (s *BleveLexicalStore) Commit() error {
	return nil
}

// Stats reports basic lexical-index statistics.
func (s *BleveLexicalStore) Stats() LexicalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return LexicalStats{}
	}
	count, _ := s.index.DocCount()
	return LexicalStats{DocumentCount: int(count)}
}

// Close releases the underlying Bleve index.
func (s *BleveLexicalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

var _ LexicalStore = (*BleveLexicalStore)(nil)
