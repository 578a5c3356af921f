package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// HNSWStore is a VectorStore backed by github.com/coder/hnsw. Unlike a bare
// graph, it keeps a parallel id->vector map so the index can be rebuilt from
// scratch at save time: coder/hnsw exposes no key->vector lookup, and a
// compacting save (dropping orphaned keys left behind by deletes) needs the
// original vectors to re-insert.
type HNSWStore struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	config  VectorStoreConfig
	idMap   map[string]uint64 // chunk ID -> hnsw key
	keyMap  map[uint64]string // hnsw key -> chunk ID
	vectors map[string][]float32
	nextKey uint64
}

// hnswMetaGob is the gob-serializable side-car persisted alongside the
// exported graph bytes.
type hnswMetaGob struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
	Vectors map[string][]float32
}

// NewHNSWStore creates an empty vector store.
func NewHNSWStore(cfg VectorStoreConfig) *HNSWStore {
	graph := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		graph.Distance = hnsw.EuclideanDistance
	} else {
		graph.Distance = hnsw.CosineDistance
	}
	if cfg.M > 0 {
		graph.M = cfg.M
	}
	if cfg.EfSearch > 0 {
		graph.EfSearch = cfg.EfSearch
	}

	return &HNSWStore{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		vectors: make(map[string][]float32),
		nextKey: 1,
	}
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Add inserts vectors keyed by chunk ID. Re-adding an existing ID orphans
// its old graph key rather than deleting it in place: coder/hnsw has a
// known issue deleting the last remaining node in a layer, and orphaned
// keys are reaped for free on the next compacting Save.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return mdvdberrors.InternalErr("id/vector count mismatch", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, id := range ids {
		vec := vectors[i]
		if s.config.Dimensions > 0 && len(vec) != s.config.Dimensions {
			return mdvdberrors.EmbeddingProviderErr("dimension mismatch", nil).
				WithDetail("expected", strconv.Itoa(s.config.Dimensions)).
				WithDetail("got", strconv.Itoa(len(vec)))
		}

		stored := vec
		if s.config.Metric != "l2" {
			stored = normalize(vec)
		}

		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
		}

		key := s.nextKey
		s.nextKey++

		node := hnsw.MakeNode(key, stored)
		s.graph.Add(node)

		s.idMap[id] = key
		s.keyMap[key] = id
		s.vectors[id] = stored
	}

	return nil
}

// distanceToScore converts an hnsw distance into the spec's similarity
// score. Cosine uses score = 1.0 - distance directly (not the halved form
// some HNSW wrappers use for a [0,1] cosine-similarity distance convention).
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance
}

// Search finds the k nearest neighbors to the query vector.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := query
	if s.config.Metric != "l2" {
		q = normalize(query)
	}

	nodes := s.graph.Search(q, k)
	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue // orphaned key from a prior Add, not a live chunk
		}
		dist := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:    id,
			Score: distanceToScore(dist, s.config.Metric),
		})
	}
	return results, nil
}

// Delete removes vectors by chunk ID. Like Add, this is lazy: it drops the
// bookkeeping entries and leaves the orphaned graph node to be reaped by
// the next compacting Save.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.vectors, id)
		}
	}
	return nil
}

// AllIDs returns every live chunk ID.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether a chunk ID has a vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Close is a no-op; the store holds no external resources.
func (s *HNSWStore) Close() error {
	return nil
}

// ExportCompact serializes the store to bytes, rebuilding a fresh graph from
// only the live vectors in sorted chunk-ID order. This reclaims the space
// orphaned keys would otherwise hold onto forever and gives the export a
// deterministic key assignment independent of edit history.
func (s *HNSWStore) ExportCompact() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fresh := hnsw.NewGraph[uint64]()
	fresh.Distance = s.graph.Distance
	if s.config.M > 0 {
		fresh.M = s.config.M
	}
	if s.config.EfSearch > 0 {
		fresh.EfSearch = s.config.EfSearch
	}

	newIDMap := make(map[string]uint64, len(ids))
	newKeyMap := make(map[uint64]string, len(ids))
	var key uint64 = 1
	for _, id := range ids {
		fresh.Add(hnsw.MakeNode(key, s.vectors[id]))
		newIDMap[id] = key
		newKeyMap[key] = id
		key++
	}

	var graphBuf bytes.Buffer
	if err := fresh.Export(&graphBuf); err != nil {
		return nil, mdvdberrors.SerializationErr("hnsw export failed", err)
	}

	meta := hnswMetaGob{
		IDMap:   newIDMap,
		NextKey: key,
		Config:  s.config,
		Vectors: s.vectors,
	}
	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return nil, mdvdberrors.SerializationErr("hnsw metadata encode failed", err)
	}

	// Commit the compacted state back into this store so subsequent Adds
	// build on the same key space as what was just persisted.
	s.graph = fresh
	s.idMap = newIDMap
	s.keyMap = newKeyMap
	s.nextKey = key

	var out bytes.Buffer
	var lenBuf [8]byte
	putUint64(lenBuf[:], uint64(metaBuf.Len()))
	out.Write(lenBuf[:])
	out.Write(metaBuf.Bytes())
	out.Write(graphBuf.Bytes())
	return out.Bytes(), nil
}

// ImportHNSWBytes reconstructs an HNSWStore from bytes produced by
// ExportCompact.
func ImportHNSWBytes(data []byte) (*HNSWStore, error) {
	if len(data) < 8 {
		return nil, mdvdberrors.IndexCorruptedErr("hnsw region too small")
	}
	metaLen := getUint64(data[:8])
	if uint64(len(data)) < 8+metaLen {
		return nil, mdvdberrors.IndexCorruptedErr("hnsw metadata region truncated")
	}
	metaBytes := data[8 : 8+metaLen]
	graphBytes := data[8+metaLen:]

	var meta hnswMetaGob
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
		return nil, mdvdberrors.IndexCorruptedErr("hnsw metadata decode failed: " + err.Error())
	}

	graph := hnsw.NewGraph[uint64]()
	if meta.Config.Metric == "l2" {
		graph.Distance = hnsw.EuclideanDistance
	} else {
		graph.Distance = hnsw.CosineDistance
	}
	if meta.Config.M > 0 {
		graph.M = meta.Config.M
	}
	if meta.Config.EfSearch > 0 {
		graph.EfSearch = meta.Config.EfSearch
	}

	if len(graphBytes) > 0 {
		reader := bufio.NewReader(bytes.NewReader(graphBytes))
		if err := graph.Import(reader); err != nil {
			return nil, mdvdberrors.IndexCorruptedErr("hnsw graph import failed: " + err.Error())
		}
	}

	keyMap := make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		keyMap[key] = id
	}

	return &HNSWStore{
		graph:   graph,
		config:  meta.Config,
		idMap:   meta.IDMap,
		keyMap:  keyMap,
		vectors: meta.Vectors,
		nextKey: meta.NextKey,
	}, nil
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint64(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v
}

var _ VectorStore = (*HNSWStore)(nil)
