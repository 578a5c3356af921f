package index

import (
	"path/filepath"
	"strings"

	"github.com/mdvdb/mdvdb/internal/parser"
	"github.com/mdvdb/mdvdb/internal/store"
)

// resolveLinks converts a file's raw extracted links into persisted Link
// edges, resolving wikilink and relative targets against the set of
// currently tracked Markdown paths. A target that cannot be resolved to a
// tracked path is dropped: an edge to nowhere is not queryable for
// backlinks.
func resolveLinks(sourcePath string, raw []parser.RawLink, tracked map[string]bool) []store.Link {
	var links []store.Link
	for _, rl := range raw {
		target, ok := resolveTarget(sourcePath, rl.Target, rl.IsWikilink, tracked)
		if !ok {
			continue
		}
		links = append(links, store.Link{
			SourcePath: sourcePath,
			Target:     target,
			Text:       rl.Text,
			LineNumber: rl.LineNumber,
			IsWikilink: rl.IsWikilink,
		})
	}
	return links
}

// resolveTarget tries a small set of candidate paths for target, relative
// both to the corpus root and to the linking file's own directory, and
// returns the first candidate that names a tracked file.
func resolveTarget(sourcePath, target string, isWikilink bool, tracked map[string]bool) (string, bool) {
	target = strings.TrimSpace(target)
	target = strings.TrimPrefix(target, "./")
	if target == "" {
		return "", false
	}
	dir := filepath.Dir(sourcePath)

	bases := []string{target}
	if isWikilink {
		bases = append(bases, target+".md", target+".markdown")
	}

	for _, base := range bases {
		if resolved, ok := normalizeAndCheck(base, tracked); ok {
			return resolved, true
		}
		if dir != "." {
			if resolved, ok := normalizeAndCheck(filepath.Join(dir, base), tracked); ok {
				return resolved, true
			}
		}
	}
	return "", false
}

func normalizeAndCheck(candidate string, tracked map[string]bool) (string, bool) {
	normalized := filepath.ToSlash(filepath.Clean(candidate))
	if tracked[normalized] {
		return normalized, true
	}
	return "", false
}
