// Package search implements hybrid retrieval over an index: dense vector
// search, BM25 lexical search, and Reciprocal Rank Fusion between the two,
// with metadata filtering over frontmatter fields.
package search

// Mode selects which retrieval path a query takes.
type Mode string

const (
	// ModeHybrid runs semantic and lexical search concurrently and fuses
	// the two ranked lists with Reciprocal Rank Fusion. This is the
	// default.
	ModeHybrid Mode = "hybrid"

	// ModeSemantic runs only dense vector search.
	ModeSemantic Mode = "semantic"

	// ModeLexical runs only BM25 lexical search.
	ModeLexical Mode = "lexical"
)

// ParseMode converts a string to a Mode, defaulting to ModeHybrid for
// unrecognized input. "vector", the configuration file's name for semantic
// search, maps to ModeSemantic.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeSemantic, ModeLexical, ModeHybrid:
		return Mode(s)
	case "vector":
		return ModeSemantic
	default:
		return ModeHybrid
	}
}

// Query describes a single search request.
type Query struct {
	// Text is the search query. A blank (empty or whitespace-only) query
	// always yields zero results.
	Text string

	// Limit caps the number of returned results. Must be >= 1.
	Limit int

	// MinScore drops results whose score falls below this threshold. In
	// Hybrid mode this is the fused RRF score, not either underlying
	// score, so it is not comparable across modes.
	MinScore float64

	// Filters are combined with logical AND over each result's
	// frontmatter.
	Filters []Filter

	// Mode selects the retrieval path. Zero value behaves as ModeHybrid.
	Mode Mode

	// PathPrefix, if non-empty, restricts results to files whose path
	// starts with this prefix.
	PathPrefix string
}

// Result is a single ranked hit, joined against its owning chunk and file.
type Result struct {
	ChunkID          string
	Score            float64
	SourcePath       string
	Content          string
	HeadingHierarchy []string
	Frontmatter      map[string]interface{}
}
