package chunk

import (
	"strings"
)

// TextChunker chunks free text outside the normal session tree,
// respecting paragraph and fenced-code-block boundaries. Per spec
// §4.2 it is used only for documents outside normal sessions.
type TextChunker struct {
	maxTokens int // allowed up to ~3*M to honour atomic boundaries
}

// NewTextChunker builds a text chunker bounded by maxTokens (spec's M).
func NewTextChunker(maxTokens int) *TextChunker {
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	return &TextChunker{maxTokens: maxTokens}
}

// Chunk splits text into ordered segments, never splitting inside a
// fenced code block, preferring paragraph boundaries, and allowing
// chunks up to 3x maxTokens to honour those boundaries.
func (c *TextChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	hardLimit := c.maxTokens * 3
	paragraphs := c.splitPreservingBlocks(text)

	var chunks []string
	var b strings.Builder

	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(b.String()))
			b.Reset()
		}
	}

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(b.String())

		if b.Len() > 0 && currentTokens+paraTokens > hardLimit {
			flush()
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para)
	}
	flush()

	return chunks
}

// splitPreservingBlocks splits on blank lines, re-merging any
// paragraph fragments that fall inside a fenced code block so a code
// fence is never torn in two.
func (c *TextChunker) splitPreservingBlocks(text string) []string {
	parts := strings.Split(text, "\n\n")

	var paragraphs []string
	var codeBuilder strings.Builder
	inCode := false

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		if inCode {
			codeBuilder.WriteString("\n\n")
			codeBuilder.WriteString(part)
			if strings.Count(part, "```")%2 == 1 {
				paragraphs = append(paragraphs, codeBuilder.String())
				codeBuilder.Reset()
				inCode = false
			}
			continue
		}

		fences := strings.Count(part, "```")
		if fences%2 == 1 {
			inCode = true
			codeBuilder.WriteString(part)
			continue
		}

		paragraphs = append(paragraphs, part)
	}

	if inCode {
		paragraphs = append(paragraphs, codeBuilder.String())
	}

	return paragraphs
}
