package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// Link is a directed edge between two Markdown files, extracted from
// wikilink or standard-link syntax in a chunk's source content.
type Link struct {
	SourcePath string
	Target     string
	Text       string
	LineNumber int
	IsWikilink bool
}

// metaRecord is the gob-encoded shape of the metadata region. Fields are
// appended, never reordered or removed, so older index files keep decoding
// under gob's forward-compatible struct encoding.
type metaRecord struct {
	Chunks          map[string]*StoredChunk
	Files           map[string]*StoredFile
	EmbeddingConfig EmbeddingConfig
	LastUpdated     time.Time
	Schema          int
	Links           []Link // optional; nil until the first full ingest builds it
	LinksBuilt      bool
}

// Index is the single on-disk unit combining the HNSW vector store with its
// metadata (chunk/file records, embedding config, link graph). It holds no
// lexical store; callers keep that alongside it. Mutating operations take
// the write lock; Save serializes the current state and writes it
// atomically via WriteIndexFile.
type Index struct {
	mu   sync.RWMutex
	path string

	vector VectorStore
	meta   metaRecord

	dirty bool
}

// Create initializes a brand-new, empty Index at path with the given vector
// store configuration. It does not write anything to disk until Save is
// called.
func Create(path string, cfg VectorStoreConfig, embedding EmbeddingConfig) *Index {
	return &Index{
		path:   path,
		vector: NewHNSWStore(cfg),
		meta: metaRecord{
			Chunks:          make(map[string]*StoredChunk),
			Files:           make(map[string]*StoredFile),
			EmbeddingConfig: embedding,
			Schema:          CurrentSchemaVersion,
		},
	}
}

// Open loads an existing index file. Chunk IDs are reassigned HNSW keys in
// sorted order on import, matching what a subsequent compacting Save would
// produce, so open-then-save is idempotent.
func Open(path string) (*Index, error) {
	metaBytes, hnswBytes, err := ReadIndexFile(path)
	if err != nil {
		return nil, err
	}

	var meta metaRecord
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
		return nil, mdvdberrors.IndexCorruptedErr("metadata region decode failed: " + err.Error())
	}
	if meta.Chunks == nil {
		meta.Chunks = make(map[string]*StoredChunk)
	}
	if meta.Files == nil {
		meta.Files = make(map[string]*StoredFile)
	}

	vs, err := ImportHNSWBytes(hnswBytes)
	if err != nil {
		return nil, err
	}

	return &Index{path: path, vector: vs, meta: meta}, nil
}

// OpenOrCreate opens path if it exists, otherwise creates a fresh index
// using cfg and embedding.
func OpenOrCreate(path string, cfg VectorStoreConfig, embedding EmbeddingConfig) (*Index, error) {
	idx, err := Open(path)
	if err == nil {
		return idx, nil
	}
	if mdvdberrors.GetCode(err) == mdvdberrors.ErrCodeIndexNotFound {
		return Create(path, cfg, embedding), nil
	}
	return nil, err
}

// CheckCompatibility returns an error if cfg disagrees with the embedding
// configuration this index was built with. A zero-value EmbeddingConfig
// model/dimensions field is treated as "no opinion" and always matches.
func (idx *Index) CheckCompatibility(cfg EmbeddingConfig) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stored := idx.meta.EmbeddingConfig
	if stored.Model != "" && cfg.Model != "" && stored.Model != cfg.Model {
		return mdvdberrors.ConfigErr("index embedding model does not match configured provider", nil).
			WithDetail("index_model", stored.Model).WithDetail("configured_model", cfg.Model)
	}
	if stored.Dimensions > 0 && cfg.Dimensions > 0 && stored.Dimensions != cfg.Dimensions {
		return mdvdberrors.ConfigErr("index embedding dimensions do not match configured provider", nil).
			WithDetail("index_dimensions", strconv.Itoa(stored.Dimensions)).WithDetail("configured_dimensions", strconv.Itoa(cfg.Dimensions))
	}
	return nil
}

// GetFile returns the file record at relativePath, or nil if untracked.
func (idx *Index) GetFile(relativePath string) *StoredFile {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.Files[relativePath]
}

// GetChunk returns the chunk record for id, or nil if unknown.
func (idx *Index) GetChunk(id string) *StoredChunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.Chunks[id]
}

// VectorStore exposes the underlying vector store for search.
func (idx *Index) VectorStore() VectorStore {
	return idx.vector
}

// EmbeddingConfig returns the embedding configuration this index was built
// with.
func (idx *Index) EmbeddingConfig() EmbeddingConfig {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.meta.EmbeddingConfig
}

// Upsert replaces a file's chunk set: any chunks it previously owned are
// fully removed before the new chunks and embeddings are added, so no
// partial state is observable to a concurrent reader (the write lock is
// held throughout).
func (idx *Index) Upsert(ctx context.Context, file *StoredFile, chunks []*StoredChunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return mdvdberrors.InternalErr("chunk/embedding count mismatch", nil)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.meta.Files[file.RelativePath]; ok {
		if err := idx.removeOwnedChunksLocked(ctx, existing); err != nil {
			return err
		}
	}

	ids := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		idx.meta.Chunks[ch.ID] = ch
		ids[i] = ch.ID
		vectors[i] = embeddings[i]
		chunkIDs[i] = ch.ID
	}
	if len(ids) > 0 {
		if err := idx.vector.Add(ctx, ids, vectors); err != nil {
			return err
		}
	}

	file.ChunkIDs = chunkIDs
	idx.meta.Files[file.RelativePath] = file
	idx.dirty = true
	return nil
}

// Remove deletes a file and every chunk it owns. A no-op on an untracked
// path.
func (idx *Index) Remove(ctx context.Context, relativePath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	file, ok := idx.meta.Files[relativePath]
	if !ok {
		return nil
	}
	if err := idx.removeOwnedChunksLocked(ctx, file); err != nil {
		return err
	}
	delete(idx.meta.Files, relativePath)
	idx.dirty = true
	return nil
}

func (idx *Index) removeOwnedChunksLocked(ctx context.Context, file *StoredFile) error {
	if len(file.ChunkIDs) == 0 {
		return nil
	}
	if err := idx.vector.Delete(ctx, file.ChunkIDs); err != nil {
		return err
	}
	for _, id := range file.ChunkIDs {
		delete(idx.meta.Chunks, id)
	}
	return nil
}

// ContentHash returns the tracked content hash for relativePath, used to
// hash-gate re-ingestion. Returns "" if the path is untracked.
func (idx *Index) ContentHash(relativePath string) string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if f, ok := idx.meta.Files[relativePath]; ok {
		return f.ContentHash
	}
	return ""
}

// TrackedPaths returns every file path currently tracked by the index.
func (idx *Index) TrackedPaths() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	paths := make([]string, 0, len(idx.meta.Files))
	for p := range idx.meta.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SetLinks replaces the link graph, built fresh from a full ingest's final
// chunk set.
func (idx *Index) SetLinks(links []Link) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.meta.Links = links
	idx.meta.LinksBuilt = true
	idx.dirty = true
}

// Links returns the persisted link graph. Returns LinkGraphNotBuiltErr if a
// full ingest has never run.
func (idx *Index) Links() ([]Link, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.meta.LinksBuilt {
		return nil, mdvdberrors.LinkGraphNotBuiltErr()
	}
	return idx.meta.Links, nil
}

// Status reports index statistics for the `mdvdb status` command.
func (idx *Index) Status() IndexStatus {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return IndexStatus{
		DocumentCount:   len(idx.meta.Files),
		ChunkCount:      len(idx.meta.Chunks),
		VectorCount:     idx.vector.Count(),
		LastUpdated:     idx.meta.LastUpdated,
		EmbeddingConfig: idx.meta.EmbeddingConfig,
	}
}

// Dirty reports whether the index has unsaved mutations.
func (idx *Index) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}

// Save compacts the vector store and atomically persists both regions to
// disk. An advisory exclusive file lock guards against a second process
// writing to the same path concurrently; it supplements, rather than
// replaces, the in-process RWMutex.
func (idx *Index) Save() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	lock := flock.New(idx.path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return mdvdberrors.IoErr(err)
	}
	if !locked {
		return mdvdberrors.LockTimeoutErr()
	}
	defer lock.Unlock()

	hnsw, ok := idx.vector.(*HNSWStore)
	if !ok {
		return mdvdberrors.InternalErr("vector store does not support compacting export", nil)
	}
	hnswBytes, err := hnsw.ExportCompact()
	if err != nil {
		return err
	}

	idx.meta.LastUpdated = timeNow()
	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(idx.meta); err != nil {
		return mdvdberrors.SerializationErr("metadata encode failed", err)
	}

	if err := WriteIndexFile(idx.path, metaBuf.Bytes(), hnswBytes); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

// Close releases the underlying vector store's resources.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.vector.Close()
}

// timeNow is a seam so tests can avoid depending on wall-clock time; it is
// never stubbed in production code paths.
var timeNow = time.Now
