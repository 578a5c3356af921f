package search

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mdvdb/mdvdb/internal/embed"
	"github.com/mdvdb/mdvdb/internal/store"
)

// overFetchFactor controls how many candidates are pulled from each
// underlying store before fusion and filtering trim the list down to the
// requested limit. Filtering can drop candidates, so fusion works with
// more than the caller asked for.
const overFetchFactor = 3

// Engine runs queries against an index's vector store and its paired
// lexical store.
type Engine struct {
	index    *store.Index
	lexical  store.LexicalStore
	embedder embed.Embedder
	rrfK     float64
}

// NewEngine creates a search Engine. lexical may be nil, in which case
// Hybrid and Lexical queries degrade to Semantic.
func NewEngine(idx *store.Index, lexical store.LexicalStore, embedder embed.Embedder, rrfK float64) *Engine {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	return &Engine{index: idx, lexical: lexical, embedder: embedder, rrfK: rrfK}
}

// Search executes q and returns up to q.Limit results, most relevant
// first.
func (e *Engine) Search(ctx context.Context, q Query) ([]*Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []*Result{}, nil
	}

	limit := q.Limit
	if limit < 1 {
		limit = 1
	}
	overFetch := limit * overFetchFactor

	mode := q.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if e.lexical == nil && (mode == ModeHybrid || mode == ModeLexical) {
		mode = ModeSemantic
	}

	var fused []FusedItem
	switch mode {
	case ModeSemantic:
		items, err := e.semanticSearch(ctx, q.Text, overFetch)
		if err != nil {
			return nil, err
		}
		fused = toFusedItems(items)

	case ModeLexical:
		items, err := e.lexicalSearch(ctx, q.Text, overFetch)
		if err != nil {
			return nil, err
		}
		fused = toFusedItems(items)

	default: // ModeHybrid
		var semantic, lexical []RankedItem
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			items, err := e.semanticSearch(gctx, q.Text, overFetch)
			if err != nil {
				return err
			}
			semantic = items
			return nil
		})
		g.Go(func() error {
			items, err := e.lexicalSearch(gctx, q.Text, overFetch)
			if err != nil {
				return err
			}
			lexical = items
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		fused = Fuse(e.rrfK, semantic, lexical)
	}

	return e.assemble(fused, q, limit), nil
}

func toFusedItems(items []RankedItem) []FusedItem {
	out := make([]FusedItem, len(items))
	for i, it := range items {
		out[i] = FusedItem{ID: it.ID, Score: it.Score}
	}
	return out
}

func (e *Engine) semanticSearch(ctx context.Context, query string, k int) ([]RankedItem, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := e.index.VectorStore().Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	items := make([]RankedItem, len(results))
	for i, r := range results {
		items[i] = RankedItem{ID: r.ID, Score: float64(r.Score)}
	}
	return items, nil
}

func (e *Engine) lexicalSearch(ctx context.Context, query string, k int) ([]RankedItem, error) {
	results, err := e.lexical.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	items := make([]RankedItem, len(results))
	for i, r := range results {
		items[i] = RankedItem{ID: r.ChunkID, Score: r.Score}
	}
	return items, nil
}

// assemble applies the min-score threshold, joins each candidate against
// its chunk and file, runs filters, and stops once limit results have
// been collected.
func (e *Engine) assemble(fused []FusedItem, q Query, limit int) []*Result {
	results := make([]*Result, 0, limit)

	for _, item := range fused {
		if len(results) >= limit {
			break
		}
		if item.Score < q.MinScore {
			continue
		}

		chunk := e.index.GetChunk(item.ID)
		if chunk == nil {
			continue
		}
		file := e.index.GetFile(chunk.SourcePath)
		if file == nil {
			continue
		}

		if !matchAll(file.Frontmatter, q.Filters) {
			continue
		}
		if q.PathPrefix != "" && !strings.HasPrefix(file.RelativePath, q.PathPrefix) {
			continue
		}

		results = append(results, &Result{
			ChunkID:          chunk.ID,
			Score:            item.Score,
			SourcePath:       chunk.SourcePath,
			Content:          chunk.Content,
			HeadingHierarchy: chunk.HeadingHierarchy,
			Frontmatter:      file.Frontmatter,
		})
	}

	return results
}
