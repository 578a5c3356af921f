// Package parser turns raw Markdown file content into the structured
// MarkdownFile representation used for chunking, indexing, and link-graph
// construction: frontmatter, headings, links, and a content hash.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	mdvdberrors "github.com/mdvdb/mdvdb/internal/errors"
)

// Heading is a single heading extracted from a document.
type Heading struct {
	Level      int // 1-6
	Text       string
	LineNumber int // 1-based
}

// RawLink is a single internal link extracted from a document body.
type RawLink struct {
	Target     string
	Text       string
	LineNumber int // 1-based
	IsWikilink bool
}

// MarkdownFile is a parsed Markdown document with its extracted metadata.
type MarkdownFile struct {
	Path        string
	Frontmatter map[string]interface{} // nil if absent or malformed
	Headings    []Heading
	Body        string // content after any frontmatter block
	ContentHash string // sha256 hex of the full original content
	FileSize    int64
	Links       []RawLink
	ModifiedAt  int64 // unix seconds
}

// Parse extracts frontmatter, headings, links, and a content hash from raw
// Markdown bytes. relativePath becomes the result's Path and appears in
// error messages.
func Parse(relativePath string, raw []byte, fileSize int64, modifiedAt int64) (*MarkdownFile, error) {
	if !isValidUTF8(raw) {
		return nil, mdvdberrors.MarkdownParseErr(relativePath, "file is not valid UTF-8")
	}
	content := string(raw)

	contentHash := ComputeContentHash(content)
	frontmatter, body := ExtractFrontmatter(content)
	headings := ExtractHeadings(body)
	links := ExtractLinks(body)

	return &MarkdownFile{
		Path:        relativePath,
		Frontmatter: frontmatter,
		Headings:    headings,
		Body:        body,
		ContentHash: contentHash,
		FileSize:    fileSize,
		Links:       links,
		ModifiedAt:  modifiedAt,
	}, nil
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

// ComputeContentHash returns the sha256 hex digest of content.
func ComputeContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ExtractFrontmatter extracts a YAML frontmatter block delimited by `---`
// lines at the very start of the document (after stripping a UTF-8 BOM).
// Any malformation degrades to (nil, original content) rather than erroring,
// matching the permissive behavior a Markdown vault is expected to tolerate.
func ExtractFrontmatter(content string) (map[string]interface{}, string) {
	trimmed := strings.TrimPrefix(content, "﻿")
	if !strings.HasPrefix(trimmed, "---") {
		return nil, content
	}

	afterOpenIdx := strings.IndexByte(trimmed[3:], '\n')
	if afterOpenIdx == -1 {
		return nil, content
	}
	afterOpen := 3 + afterOpenIdx + 1

	if strings.TrimSpace(trimmed[3:afterOpen]) != "" {
		return nil, content
	}

	rest := trimmed[afterOpen:]
	closingPos := strings.Index(rest, "\n---")
	if closingPos == -1 {
		if strings.HasPrefix(rest, "---") {
			closingPos = 0
		} else {
			return nil, content
		}
	}

	var yamlStr string
	if closingPos == 0 && strings.HasPrefix(rest, "---") {
		yamlStr = ""
	} else {
		yamlStr = rest[:closingPos]
	}

	afterClosingStart := afterOpen + closingPos
	if !(closingPos == 0 && strings.HasPrefix(rest, "---")) {
		afterClosingStart++
	}
	afterClosing := trimmed[afterClosingStart:]
	bodyStart := len(trimmed)
	if idx := strings.IndexByte(afterClosing, '\n'); idx != -1 {
		bodyStart = afterClosingStart + idx + 1
	}
	body := trimmed[bodyStart:]

	yamlTrimmed := strings.TrimSpace(yamlStr)
	if yamlTrimmed == "" {
		return nil, body
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(yamlTrimmed), &node); err != nil {
		return nil, body
	}
	val, ok := yamlToJSON(&node)
	if !ok {
		return nil, body
	}
	asMap, ok := val.(map[string]interface{})
	if !ok {
		return nil, body
	}
	return asMap, body
}

// yamlToJSON converts a decoded yaml.Node tree into plain
// map[string]interface{}/[]interface{}/scalar values, mirroring the
// original implementation's yaml-Value-to-json-Value conversion.
func yamlToJSON(node *yaml.Node) (interface{}, bool) {
	if node == nil {
		return nil, false
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, false
		}
		return yamlToJSON(node.Content[0])
	case yaml.MappingNode:
		obj := make(map[string]interface{}, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			val, ok := yamlToJSON(node.Content[i+1])
			if ok {
				obj[key] = val
			} else {
				obj[key] = nil
			}
		}
		return obj, true
	case yaml.SequenceNode:
		arr := make([]interface{}, 0, len(node.Content))
		for _, c := range node.Content {
			val, _ := yamlToJSON(c)
			arr = append(arr, val)
		}
		return arr, true
	case yaml.ScalarNode:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return node.Value, true
		}
		return v, true
	case yaml.AliasNode:
		return yamlToJSON(node.Alias)
	default:
		return nil, false
	}
}

// ExtractHeadings walks the Markdown AST and returns every heading with its
// text and 1-based line number.
func ExtractHeadings(content string) []Heading {
	src := []byte(content)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var headings []Heading
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			sb.Write(extractText(c, src))
		}
		lines := h.Lines()
		lineNumber := 1
		if lines.Len() > 0 {
			seg := lines.At(0)
			lineNumber = countNewlines(src[:seg.Start]) + 1
		}
		headings = append(headings, Heading{
			Level:      h.Level,
			Text:       strings.TrimSpace(sb.String()),
			LineNumber: lineNumber,
		})
		return ast.WalkContinue, nil
	})
	return headings
}

func extractText(n ast.Node, src []byte) []byte {
	switch v := n.(type) {
	case *ast.Text:
		return v.Segment.Value(src)
	case *ast.CodeSpan:
		var buf []byte
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			buf = append(buf, extractText(c, src)...)
		}
		return buf
	default:
		var buf []byte
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			buf = append(buf, extractText(c, src)...)
		}
		return buf
	}
}

func countNewlines(b []byte) int {
	count := 0
	for _, c := range b {
		if c == '\n' {
			count++
		}
	}
	return count
}

var wikilinkPattern = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

// ExtractLinks returns every internal link in content: wikilinks
// (`[[target]]` / `[[target|text]]`) pre-scanned via regex ahead of
// standard Markdown links parsed from the AST, filtering out external URLs
// and anchor-only targets. Wikilinks are collected before standard links,
// matching the original scan order.
func ExtractLinks(content string) []RawLink {
	var links []RawLink

	for _, loc := range wikilinkPattern.FindAllStringSubmatchIndex(content, -1) {
		start, end := loc[0], loc[1]
		inner := content[loc[2]:loc[3]]
		lineNumber := countNewlines([]byte(content[:start])) + 1

		var target, text string
		if pipe := strings.IndexByte(inner, '|'); pipe != -1 {
			target, text = inner[:pipe], inner[pipe+1:]
		} else {
			target, text = inner, inner
		}
		target = strings.TrimSpace(target)
		text = strings.TrimSpace(text)
		if target == "" || isExternalOrAnchor(target) {
			continue
		}
		links = append(links, RawLink{
			Target:     target,
			Text:       text,
			LineNumber: lineNumber,
			IsWikilink: true,
		})
		_ = end
	}

	src := []byte(content)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		link, ok := n.(*ast.Link)
		if !ok {
			return ast.WalkContinue, nil
		}
		target := string(link.Destination)
		if isExternalOrAnchor(target) {
			return ast.WalkContinue, nil
		}
		var sb strings.Builder
		for c := link.FirstChild(); c != nil; c = c.NextSibling() {
			sb.Write(extractText(c, src))
		}
		lineNumber := 1
		if link.FirstChild() != nil {
			if t, ok := firstTextSegment(link); ok {
				lineNumber = countNewlines(src[:t.Start]) + 1
			}
		}
		links = append(links, RawLink{
			Target:     target,
			Text:       strings.TrimSpace(sb.String()),
			LineNumber: lineNumber,
			IsWikilink: false,
		})
		return ast.WalkContinue, nil
	})

	return links
}

func firstTextSegment(n ast.Node) (text.Segment, bool) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			return t.Segment, true
		}
		if seg, ok := firstTextSegment(c); ok {
			return seg, true
		}
	}
	return text.Segment{}, false
}

func isExternalOrAnchor(url string) bool {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
		return true
	}
	if strings.HasPrefix(url, "#") && !strings.Contains(url, "/") {
		return true
	}
	return false
}
