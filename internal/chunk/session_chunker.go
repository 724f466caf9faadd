package chunk

import (
	"strings"

	"github.com/recursive-vibe/smart-fork/internal/parser"
)

// SessionChunkerOptions bounds the token budget of produced chunks.
type SessionChunkerOptions struct {
	TargetTokens  int
	OverlapTokens int
	MaxTokens     int
}

// SessionChunker groups a session's messages into overlapping
// token-bounded windows with forward progress and salience tagging.
type SessionChunker struct {
	opts SessionChunkerOptions
}

// NewSessionChunker builds a chunker, filling in spec defaults for any
// zero-valued option.
func NewSessionChunker(opts SessionChunkerOptions) *SessionChunker {
	if opts.TargetTokens == 0 {
		opts.TargetTokens = DefaultTargetTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &SessionChunker{opts: opts}
}

// isTurnEnd reports whether a message ends a conversational turn
// (anything other than the user speaking).
func isTurnEnd(role string) bool {
	return !strings.EqualFold(role, "user")
}

// renderMessage formats one message with its role prefix, the
// representation chunk content concatenates, per spec §3.
func renderMessage(m parser.Message) string {
	return m.Role + ": " + m.Content
}

// Chunk groups session into chunks covering [0, len(session)-1] with
// forward progress, per spec §4.2.
func (c *SessionChunker) Chunk(sessionID string, messages []parser.Message) []Chunk {
	if len(messages) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0

	for start < len(messages) {
		end, content, tokens := c.accumulate(messages, start)

		chunks = append(chunks, Chunk{
			SessionID:     sessionID,
			Content:       content,
			StartIndex:    start,
			EndIndex:      end,
			TokenEstimate: tokens,
			Markers:       DetectMarkers(content),
		})

		if end == len(messages)-1 {
			break
		}

		// Begin the next chunk by replaying a tail of prior messages
		// whose token count sums to <= overlap.
		nextStart := c.overlapStart(messages, end)
		if nextStart <= start {
			nextStart = start + 1
		}
		start = nextStart
	}

	return chunks
}

// accumulate implements the greedy-accumulation / turn-boundary
// preference / forced-single-message rules of spec §4.2.
func (c *SessionChunker) accumulate(messages []parser.Message, start int) (end int, content string, tokens int) {
	var b strings.Builder
	runningTokens := 0
	lastGoodEnd := -1

	for i := start; i < len(messages); i++ {
		rendered := renderMessage(messages[i])
		renderedTokens := estimateTokens(rendered)

		// A single message exceeding M is emitted as its own forced
		// chunk, no subdivision.
		if i == start && renderedTokens > c.opts.MaxTokens {
			return i, rendered, renderedTokens
		}

		candidateTokens := runningTokens
		if b.Len() > 0 {
			candidateTokens += estimateTokens("\n")
		}
		candidateTokens += renderedTokens

		if candidateTokens > c.opts.MaxTokens {
			// Must stop before this message; emit what we have.
			if b.Len() == 0 {
				return i, rendered, renderedTokens
			}
			return i - 1, b.String(), runningTokens
		}

		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(rendered)
		runningTokens = candidateTokens

		if runningTokens >= c.opts.TargetTokens {
			if isTurnEnd(messages[i].Role) {
				return i, b.String(), runningTokens
			}
			lastGoodEnd = i
			// Keep accumulating up to M looking for a turn boundary.
			if runningTokens >= c.opts.MaxTokens {
				return i, b.String(), runningTokens
			}
			continue
		}

		if i == len(messages)-1 {
			return i, b.String(), runningTokens
		}
	}

	if lastGoodEnd >= 0 {
		return lastGoodEnd, b.String(), runningTokens
	}
	return len(messages) - 1, b.String(), runningTokens
}

// overlapStart finds the earliest index after which the tail of
// messages up to `end` sums to <= the overlap token budget.
func (c *SessionChunker) overlapStart(messages []parser.Message, end int) int {
	tokens := 0
	i := end
	for i > 0 {
		rendered := renderMessage(messages[i])
		t := estimateTokens(rendered)
		if tokens+t > c.opts.OverlapTokens {
			break
		}
		tokens += t
		i--
	}
	return i + 1
}
