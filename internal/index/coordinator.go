// Package index drives ingestion: discovering Markdown files, parsing and
// chunking them, obtaining embeddings, and keeping the vector and lexical
// stores in sync, both for one-shot full ingests and for the incremental
// updates the watcher triggers.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mdvdb/mdvdb/internal/chunk"
	"github.com/mdvdb/mdvdb/internal/embed"
	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
	"github.com/mdvdb/mdvdb/internal/parser"
	"github.com/mdvdb/mdvdb/internal/scanner"
	"github.com/mdvdb/mdvdb/internal/store"
	"github.com/mdvdb/mdvdb/internal/watcher"
)

// embedConcurrency bounds how many embedding batches may be in flight at
// once, overlapping provider latency without unbounded memory growth.
const embedConcurrency = 4

// Config configures a Coordinator.
type Config struct {
	// RootPath is the absolute path of the vault root.
	RootPath string

	// SourceDirs are scan roots, relative to RootPath. Defaults to {"."}.
	SourceDirs []string

	// IgnorePatterns are additional user-supplied exclude globs.
	IgnorePatterns []string

	// Chunking configures how document bodies are split.
	Chunking chunk.Options

	// EmbedBatchSize caps how many chunk texts go into one provider call.
	// Defaults to embed.DefaultBatchSize.
	EmbedBatchSize int
}

// IngestResult reports the outcome of a full or single-file ingest.
type IngestResult struct {
	FilesIngested int
	FilesSkipped  int
	FilesRemoved  int
	FilesFailed   int
	APICalls      int
}

// Coordinator drives ingestion over a vault: discovery, parsing, chunking,
// embedding, and persistence into a vector store and a co-managed lexical
// store. All mutating operations are serialized by an internal mutex, since
// the underlying stores assume a single in-process writer at a time.
type Coordinator struct {
	mu sync.Mutex

	cfg      Config
	index    *store.Index
	lexical  store.LexicalStore
	embedder embed.Embedder
	chunker  *chunk.MarkdownChunker
	scanner  *scanner.Scanner
}

// NewCoordinator creates a Coordinator wired to the given stores and
// provider.
func NewCoordinator(cfg Config, idx *store.Index, lexical store.LexicalStore, embedder embed.Embedder, sc *scanner.Scanner) *Coordinator {
	if len(cfg.SourceDirs) == 0 {
		cfg.SourceDirs = []string{"."}
	}
	return &Coordinator{
		cfg:      cfg,
		index:    idx,
		lexical:  lexical,
		embedder: embedder,
		chunker:  chunk.New(cfg.Chunking),
		scanner:  sc,
	}
}

// IngestFile runs the single-file ingest algorithm for one path and
// persists both stores before returning.
func (c *Coordinator) IngestFile(ctx context.Context, relPath string) (*IngestResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &IngestResult{}
	_, skipped, err := c.ingestFile(ctx, relPath, &result.APICalls)
	if err != nil {
		return nil, err
	}
	if skipped {
		result.FilesSkipped = 1
	} else {
		result.FilesIngested = 1
	}

	if err := c.persist(); err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveFile removes a path from both stores and persists.
func (c *Coordinator) RemoveFile(ctx context.Context, relPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.removeFileLocked(ctx, relPath); err != nil {
		return err
	}
	return c.persist()
}

func (c *Coordinator) removeFileLocked(ctx context.Context, relPath string) error {
	if err := c.index.Remove(ctx, relPath); err != nil {
		return err
	}
	return c.lexical.RemoveBySourcePath(ctx, relPath)
}

// FullIngest discovers every Markdown file under the configured source
// directories, ingests each (hash-gated), reaps stale entries no longer
// discoverable, rebuilds the link graph, and persists once at the end.
func (c *Coordinator) FullIngest(ctx context.Context) (*IngestResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	tracked := make(map[string]bool, len(paths))
	for _, p := range paths {
		tracked[p] = true
	}

	result := &IngestResult{}
	var mutated bool
	var links []store.Link

	for _, p := range paths {
		doc, skipped, err := c.ingestFile(ctx, p, &result.APICalls)
		if err != nil {
			slog.Warn("failed to ingest file", slog.String("path", p), slog.String("error", err.Error()))
			result.FilesFailed++
			continue
		}
		mutated = true
		if skipped {
			result.FilesSkipped++
		} else {
			result.FilesIngested++
		}
		if doc != nil {
			links = append(links, resolveLinks(p, doc.Links, tracked)...)
		}
	}

	for _, trackedPath := range c.index.TrackedPaths() {
		if tracked[trackedPath] {
			continue
		}
		if err := c.removeFileLocked(ctx, trackedPath); err != nil {
			slog.Warn("failed to reap stale entry", slog.String("path", trackedPath), slog.String("error", err.Error()))
			continue
		}
		result.FilesRemoved++
		mutated = true
	}

	c.index.SetLinks(links)
	mutated = true

	if mutated {
		if err := c.persist(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// HandleEvents processes a batch of watcher events sequentially, logging
// and continuing past per-event failures.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) {
	for _, event := range events {
		if err := c.handleEvent(ctx, event); err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	if event.IsDir {
		return nil
	}

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return c.ingestOrRemove(ctx, event.Path)
	case watcher.OpDelete:
		return c.RemoveFile(ctx, event.Path)
	case watcher.OpRename:
		if event.OldPath != "" {
			if err := c.RemoveFile(ctx, event.OldPath); err != nil {
				slog.Warn("failed to remove old path during rename",
					slog.String("path", event.OldPath), slog.String("error", err.Error()))
			}
		}
		return c.ingestOrRemove(ctx, event.Path)
	default:
		return nil
	}
}

// ingestOrRemove ingests path, degrading to a removal if the file has
// disappeared by the time it is read (a Created/Modified event that lost
// the race against a fast subsequent delete).
func (c *Coordinator) ingestOrRemove(ctx context.Context, relPath string) error {
	absPath := filepath.Join(c.cfg.RootPath, relPath)
	if _, err := os.Lstat(absPath); err != nil {
		if os.IsNotExist(err) {
			return c.RemoveFile(ctx, relPath)
		}
		return err
	}
	_, err := c.IngestFile(ctx, relPath)
	return err
}

// ingestFile implements the single-file ingest algorithm. It returns the
// parsed document (nil only on a hard error before parsing completes),
// whether the file was skipped due to an unchanged content hash, and any
// error. It does not persist; callers batch persistence.
func (c *Coordinator) ingestFile(ctx context.Context, relPath string, apiCalls *int) (*parser.MarkdownFile, bool, error) {
	absPath := filepath.Join(c.cfg.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("stat %s: %w", relPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, false, nil
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", relPath, err)
	}

	doc, err := parser.Parse(relPath, raw, info.Size(), info.ModTime().Unix())
	if err != nil {
		return nil, false, err
	}

	if existing := c.index.ContentHash(relPath); existing != "" && existing == doc.ContentHash {
		return doc, true, nil
	}

	chunks, err := c.chunker.Chunk(relPath, doc.Body)
	if err != nil {
		return doc, false, fmt.Errorf("chunk %s: %w", relPath, err)
	}

	file := &store.StoredFile{
		RelativePath: relPath,
		ContentHash:  doc.ContentHash,
		Frontmatter:  doc.Frontmatter,
		FileSize:     doc.FileSize,
		IndexedAt:    time.Now(),
	}

	if len(chunks) == 0 {
		if err := c.index.Upsert(ctx, file, nil, nil); err != nil {
			return doc, false, err
		}
		if err := c.lexical.RemoveBySourcePath(ctx, relPath); err != nil {
			return doc, false, err
		}
		return doc, false, nil
	}

	storedChunks := make([]*store.StoredChunk, len(chunks))
	for i, ch := range chunks {
		storedChunks[i] = &store.StoredChunk{
			ID:               ch.ID,
			SourcePath:       relPath,
			HeadingHierarchy: ch.HeadingHierarchy,
			Content:          ch.Content,
			StartLine:        ch.StartLine,
			EndLine:          ch.EndLine,
			ChunkIndex:       ch.ChunkIndex,
			IsSubSplit:       ch.IsSubSplit,
		}
	}

	embeddings, err := c.embedChunks(ctx, storedChunks, apiCalls)
	if err != nil {
		return doc, false, fmt.Errorf("embed %s: %w", relPath, err)
	}

	if err := c.index.Upsert(ctx, file, storedChunks, embeddings); err != nil {
		return doc, false, err
	}

	lexDocs := make([]*store.LexicalDocument, len(storedChunks))
	for i, ch := range storedChunks {
		lexDocs[i] = &store.LexicalDocument{
			ChunkID:          ch.ID,
			SourcePath:       relPath,
			Content:          ch.Content,
			HeadingHierarchy: ch.HeadingHierarchy,
		}
	}
	if err := c.lexical.RemoveBySourcePath(ctx, relPath); err != nil {
		return doc, false, err
	}
	if err := c.lexical.Upsert(ctx, lexDocs); err != nil {
		return doc, false, err
	}

	return doc, false, nil
}

// embedChunks embeds chunk content in batches of at most
// cfg.EmbedBatchSize, with up to embedConcurrency batches in flight at
// once, and reassembles the vectors in input order.
func (c *Coordinator) embedChunks(ctx context.Context, chunks []*store.StoredChunk, apiCalls *int) ([][]float32, error) {
	batchSize := c.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	n := len(chunks)
	numBatches := (n + batchSize - 1) / batchSize
	batches := make([][][]float32, numBatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	var mu sync.Mutex
	for b := 0; b < numBatches; b++ {
		b := b
		start := b * batchSize
		end := start + batchSize
		if end > n {
			end = n
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Content
		}

		g.Go(func() error {
			vecs, err := c.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return mdvdberrors.EmbeddingProviderErr("embedding provider returned a different vector count than requested", nil)
			}
			mu.Lock()
			batches[b] = vecs
			*apiCalls++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, n)
	for _, batch := range batches {
		out = append(out, batch...)
	}
	return out, nil
}

// discover scans every configured source directory and returns the sorted,
// deduplicated set of discovered Markdown paths, relative to RootPath.
func (c *Coordinator) discover(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, dir := range c.cfg.SourceDirs {
		absDir := filepath.Join(c.cfg.RootPath, dir)
		results, err := c.scanner.Scan(ctx, &scanner.ScanOptions{
			RootDir:          absDir,
			ExcludePatterns:  c.cfg.IgnorePatterns,
			RespectGitignore: true,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}

		for res := range results {
			if res.Error != nil {
				slog.Warn("scan error", slog.String("dir", dir), slog.String("error", res.Error.Error()))
				continue
			}
			rel := res.File.Path
			if dir != "." {
				rel = filepath.Join(dir, rel)
			}
			rel = filepath.ToSlash(rel)
			if !seen[rel] {
				seen[rel] = true
				paths = append(paths, rel)
			}
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// persist commits the lexical store and saves the vector store. Both are
// attempted even if one fails, and the first error encountered is
// returned, so a failed save never silently discards the lexical commit
// (or vice versa).
func (c *Coordinator) persist() error {
	var firstErr error
	if err := c.lexical.Commit(); err != nil {
		firstErr = fmt.Errorf("commit lexical store: %w", err)
	}
	if err := c.index.Save(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("save index: %w", err)
	}
	return firstErr
}
