package chunk

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mdvdb/mdvdb/internal/tokenizer"
)

const (
	// DefaultMaxTokens is the token budget a section must fit under before
	// it gets sub-split.
	DefaultMaxTokens = 512
	// DefaultOverlapTokens is how many trailing tokens of a sub-split
	// window reappear as the leading tokens of the next window.
	DefaultOverlapTokens = 50
)

// Options configures a MarkdownChunker.
type Options struct {
	MaxTokens     int
	OverlapTokens int
}

// MarkdownChunker splits a Markdown body into heading-bounded,
// token-budgeted chunks.
type MarkdownChunker struct {
	opts Options
	tok  *tokenizer.Tokenizer
}

// New creates a MarkdownChunker, filling in zero-valued options with
// defaults.
func New(opts Options) *MarkdownChunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.OverlapTokens <= 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{opts: opts, tok: tokenizer.New()}
}

var atxHeadingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// Chunk splits body (a Markdown document's content, with any frontmatter
// already stripped) into chunks. sourcePath is used to build deterministic
// chunk IDs and is not otherwise interpreted.
func (c *MarkdownChunker) Chunk(sourcePath string, body string) ([]*Chunk, error) {
	lines := strings.Split(body, "\n")
	sections := buildSections(lines)
	if len(sections) == 0 {
		sections = []section{{lines: lines, startLine: 1, endLine: len(lines)}}
	}

	var chunks []*Chunk
	chunkIndex := 0
	for _, sec := range sections {
		content := strings.TrimRight(strings.Join(sec.lines, "\n"), "\n")

		tokenCount, err := c.tok.CountTokens(content)
		if err != nil {
			return nil, err
		}

		if tokenCount <= c.opts.MaxTokens {
			chunks = append(chunks, &Chunk{
				ID:               chunkID(sourcePath, chunkIndex),
				SourcePath:       sourcePath,
				HeadingHierarchy: sec.headingHierarchy,
				Content:          content,
				StartLine:        sec.startLine,
				EndLine:          sec.endLine,
				ChunkIndex:       chunkIndex,
				IsSubSplit:       false,
			})
			chunkIndex++
			continue
		}

		subChunks, err := c.subSplitSection(sourcePath, sec, content, chunkIndex)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, subChunks...)
		chunkIndex += len(subChunks)
	}

	return chunks, nil
}

// buildSections walks lines maintaining a heading stack: a heading pops
// every stack entry at its level or deeper before pushing itself, so a
// sibling or higher-level heading resets the hierarchy below it rather than
// appending to it. The span accumulated before each heading (the preamble,
// or the body of the previous heading) is emitted as its own section,
// skipped if it is empty after trimming.
func buildSections(lines []string) []section {
	type headingEntry struct {
		level int
		text  string
	}

	var sections []section
	var headingStack []headingEntry
	var current *section

	flush := func(endLine int) {
		if current == nil {
			return
		}
		current.endLine = endLine
		if strings.TrimSpace(strings.Join(current.lines, "\n")) != "" {
			sections = append(sections, *current)
		}
		current = nil
	}

	startSection := func(startLine int, hierarchy []headingEntry) {
		texts := make([]string, len(hierarchy))
		for i, h := range hierarchy {
			texts[i] = h.text
		}
		current = &section{headingHierarchy: texts, startLine: startLine}
	}

	for i, line := range lines {
		lineNum := i + 1
		if m := atxHeadingPattern.FindStringSubmatch(line); m != nil {
			flush(lineNum - 1)

			level := len(m[1])
			text := strings.TrimSpace(m[2])
			for len(headingStack) > 0 && headingStack[len(headingStack)-1].level >= level {
				headingStack = headingStack[:len(headingStack)-1]
			}
			headingStack = append(headingStack, headingEntry{level: level, text: text})

			startSection(lineNum, headingStack)
			current.lines = append(current.lines, line)
			continue
		}

		if current == nil {
			startSection(lineNum, headingStack)
		}
		current.lines = append(current.lines, line)
	}
	flush(len(lines))

	return sections
}

// subSplitSection splits an oversized section into overlapping, token-sized
// windows. Each window is produced by decoding a token slice back to text,
// so chunk boundaries always fall on valid BPE token edges. Start/end line
// numbers are approximated by interpolating the window's character offset
// against the section's total character-to-line ratio.
func (c *MarkdownChunker) subSplitSection(sourcePath string, sec section, content string, startIndex int) ([]*Chunk, error) {
	tokens, err := c.tok.Encode(content)
	if err != nil {
		return nil, err
	}

	stride := c.opts.MaxTokens - c.opts.OverlapTokens
	if stride < 1 {
		stride = 1
	}

	totalChars := len([]rune(content))
	totalLines := sec.endLine - sec.startLine + 1

	var chunks []*Chunk
	idx := startIndex

	for start := 0; start < len(tokens); start += stride {
		end := start + c.opts.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		windowText, err := c.tok.Decode(tokens[start:end])
		if err != nil {
			return nil, err
		}

		var startChars int
		if start > 0 {
			prefix, err := c.tok.Decode(tokens[:start])
			if err != nil {
				return nil, err
			}
			startChars = len([]rune(prefix))
		}

		var endChars int
		if end >= len(tokens) {
			endChars = totalChars
		} else {
			prefix, err := c.tok.Decode(tokens[:end])
			if err != nil {
				return nil, err
			}
			endChars = len([]rune(prefix))
		}

		startLine := lineForCharOffset(startChars, totalChars, totalLines, sec.startLine, false)
		endLine := lineForCharOffset(endChars, totalChars, totalLines, sec.startLine, true)
		if endLine < startLine {
			endLine = startLine
		}

		chunks = append(chunks, &Chunk{
			ID:               chunkID(sourcePath, idx),
			SourcePath:       sourcePath,
			HeadingHierarchy: sec.headingHierarchy,
			Content:          windowText,
			StartLine:        startLine,
			EndLine:          endLine,
			ChunkIndex:       idx,
			IsSubSplit:       true,
		})
		idx++

		if end >= len(tokens) {
			break
		}
	}

	return chunks, nil
}

func lineForCharOffset(charOffset, totalChars, totalLines, startLine int, useCeil bool) int {
	if totalChars == 0 || totalLines == 0 {
		return startLine
	}
	ratio := float64(charOffset) / float64(totalChars)

	var line int
	if useCeil {
		line = startLine + int(math.Ceil(ratio*float64(totalLines))) - 1
	} else {
		line = startLine + int(math.Floor(ratio*float64(totalLines)))
	}

	maxLine := startLine + totalLines - 1
	if line < startLine {
		line = startLine
	}
	if line > maxLine {
		line = maxLine
	}
	return line
}

func chunkID(sourcePath string, chunkIndex int) string {
	return sourcePath + "#" + strconv.Itoa(chunkIndex)
}
