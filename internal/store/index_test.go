package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

func testEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{Provider: "mock", Model: "mock-embed", Dimensions: 8}
}

func testVector(seed float32) []float32 {
	v := make([]float32, 8)
	for i := range v {
		v[i] = seed + float32(i)*0.01
	}
	return v
}

func TestCreate_StartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	assert.Empty(t, idx.TrackedPaths())
	assert.False(t, idx.Dirty())
	assert.Equal(t, testEmbeddingConfig(), idx.EmbeddingConfig())
}

func TestOpenOrCreate_CreatesWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx, err := OpenOrCreate(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	require.NoError(t, err)
	defer idx.Close()

	assert.Empty(t, idx.TrackedPaths())
}

func TestSaveThenOpen_RoundTripsFilesAndChunks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")

	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	file := &StoredFile{RelativePath: "notes/a.md", ContentHash: "hash-a", FileSize: 42}
	chunks := []*StoredChunk{
		{ID: "chunk-1", SourcePath: "notes/a.md", Content: "hello world", ChunkIndex: 0},
	}
	require.NoError(t, idx.Upsert(ctx, file, chunks, [][]float32{testVector(1)}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"notes/a.md"}, reopened.TrackedPaths())
	assert.Equal(t, "hash-a", reopened.ContentHash("notes/a.md"))
	assert.NotNil(t, reopened.GetChunk("chunk-1"))
	assert.True(t, reopened.VectorStore().Contains("chunk-1"))
	assert.False(t, reopened.Dirty())
}

func TestSaveThenOpen_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")

	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	file := &StoredFile{RelativePath: "a.md", ContentHash: "h1"}
	chunks := []*StoredChunk{{ID: "c1", SourcePath: "a.md", Content: "x"}}
	require.NoError(t, idx.Upsert(ctx, file, chunks, [][]float32{testVector(1)}))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Save())
	require.NoError(t, reopened.Close())

	twiceReopened, err := Open(path)
	require.NoError(t, err)
	defer twiceReopened.Close()
	assert.Equal(t, []string{"a.md"}, twiceReopened.TrackedPaths())
	assert.True(t, twiceReopened.VectorStore().Contains("c1"))
}

func TestUpsert_ReplacingAFileDropsItsOldChunks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	file := &StoredFile{RelativePath: "a.md", ContentHash: "h1"}
	oldChunks := []*StoredChunk{
		{ID: "c1", SourcePath: "a.md"},
		{ID: "c2", SourcePath: "a.md"},
	}
	require.NoError(t, idx.Upsert(ctx, file, oldChunks, [][]float32{testVector(1), testVector(2)}))
	assert.NotNil(t, idx.GetChunk("c1"))
	assert.NotNil(t, idx.GetChunk("c2"))

	newFile := &StoredFile{RelativePath: "a.md", ContentHash: "h2"}
	newChunks := []*StoredChunk{{ID: "c3", SourcePath: "a.md"}}
	require.NoError(t, idx.Upsert(ctx, newFile, newChunks, [][]float32{testVector(3)}))

	assert.Nil(t, idx.GetChunk("c1"))
	assert.Nil(t, idx.GetChunk("c2"))
	assert.NotNil(t, idx.GetChunk("c3"))
	assert.False(t, idx.VectorStore().Contains("c1"))
	assert.True(t, idx.VectorStore().Contains("c3"))
}

func TestUpsert_MismatchedChunkAndEmbeddingCountsFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	file := &StoredFile{RelativePath: "a.md"}
	chunks := []*StoredChunk{{ID: "c1"}, {ID: "c2"}}
	err := idx.Upsert(ctx, file, chunks, [][]float32{testVector(1)})
	require.Error(t, err)
}

func TestRemove_DeletesFileAndOwnedChunks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	file := &StoredFile{RelativePath: "a.md", ContentHash: "h1"}
	chunks := []*StoredChunk{{ID: "c1", SourcePath: "a.md"}}
	require.NoError(t, idx.Upsert(ctx, file, chunks, [][]float32{testVector(1)}))

	require.NoError(t, idx.Remove(ctx, "a.md"))
	assert.Nil(t, idx.GetFile("a.md"))
	assert.Nil(t, idx.GetChunk("c1"))
	assert.False(t, idx.VectorStore().Contains("c1"))
}

func TestRemove_UntrackedPathIsNoOp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	assert.NoError(t, idx.Remove(ctx, "never-tracked.md"))
}

func TestCheckCompatibility_ModelMismatchIsHardErrorEvenWithMatchingDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), EmbeddingConfig{Provider: "mock", Model: "model-a", Dimensions: 8})
	defer idx.Close()

	err := idx.CheckCompatibility(EmbeddingConfig{Provider: "mock", Model: "model-b", Dimensions: 8})
	require.Error(t, err)
}

func TestCheckCompatibility_DimensionMismatchFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), EmbeddingConfig{Provider: "mock", Model: "model-a", Dimensions: 8})
	defer idx.Close()

	err := idx.CheckCompatibility(EmbeddingConfig{Provider: "mock", Model: "model-a", Dimensions: 16})
	require.Error(t, err)
}

func TestCheckCompatibility_MatchingConfigSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	cfg := EmbeddingConfig{Provider: "mock", Model: "model-a", Dimensions: 8}
	idx := Create(path, DefaultVectorStoreConfig(8), cfg)
	defer idx.Close()

	assert.NoError(t, idx.CheckCompatibility(cfg))
}

func TestLinks_UnbuiltGraphReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	_, err := idx.Links()
	require.Error(t, err)
	assert.Equal(t, mdvdberrors.ErrCodeLinkGraphNotBuilt, mdvdberrors.GetCode(err))
}

func TestSetLinksThenLinks_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	links := []Link{{SourcePath: "a.md", Target: "b.md", Text: "b", IsWikilink: true}}
	idx.SetLinks(links)

	got, err := idx.Links()
	require.NoError(t, err)
	assert.Equal(t, links, got)
	assert.True(t, idx.Dirty())
}

func TestStatus_ReflectsTrackedCounts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.mdvdb")
	idx := Create(path, DefaultVectorStoreConfig(8), testEmbeddingConfig())
	defer idx.Close()

	file := &StoredFile{RelativePath: "a.md"}
	chunks := []*StoredChunk{{ID: "c1"}, {ID: "c2"}}
	require.NoError(t, idx.Upsert(ctx, file, chunks, [][]float32{testVector(1), testVector(2)}))

	status := idx.Status()
	assert.Equal(t, 1, status.DocumentCount)
	assert.Equal(t, 2, status.ChunkCount)
	assert.Equal(t, 2, status.VectorCount)
}
