package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docland/docland/pkg/domain"
)

// FixedChunker splits text on whitespace and slides a window of maxTokens
// words with step maxTokens-overlap. Each chunk records its word span and
// the markdown heading in effect at its first word.
type FixedChunker struct {
	maxTokens int
	overlap   int
	counter   *TokenCounter
}

// NewFixed validates the window parameters: maxTokens >= 1 and
// 0 <= overlap < maxTokens.
func NewFixed(maxTokens, overlap int) (*FixedChunker, error) {
	if maxTokens < 1 {
		return nil, fmt.Errorf("%w: max_tokens must be at least 1, got %d", domain.ErrConfigurationError, maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("%w: overlap_tokens must be in [0, max_tokens), got %d with max_tokens %d",
			domain.ErrConfigurationError, overlap, maxTokens)
	}
	return &FixedChunker{
		maxTokens: maxTokens,
		overlap:   overlap,
		counter:   NewTokenCounter(),
	}, nil
}

func (c *FixedChunker) Chunk(ctx context.Context, text string, metadata map[string]any) ([]domain.Chunk, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []domain.Chunk{}, nil
	}

	labels := headingsByWord(text)
	step := c.maxTokens - c.overlap

	chunks := make([]domain.Chunk, 0, (len(words)+step-1)/step)
	for start, index := 0, 0; start < len(words); start, index = start+step, index+1 {
		end := min(start+c.maxTokens, len(words))
		content := strings.Join(words[start:end], " ")

		md := copyMetadata(metadata)
		md["chunk_index"] = index
		md["word_start"] = start
		md["word_end"] = end
		md["num_tokens"] = c.counter.Count(content)
		if h := labels[start]; h != "" {
			md["heading_context"] = h
		}

		chunks = append(chunks, domain.Chunk{
			Content:  content,
			Index:    index,
			Metadata: md,
		})
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// headingsByWord labels every word position with the most recent markdown
// heading. A heading is any line whose first non-whitespace character is
// '#'; its text is the line with leading '#' runs and whitespace removed.
// Word positions align with strings.Fields over the whole text because both
// split on the same whitespace classes.
func headingsByWord(text string) []string {
	labels := make([]string, 0, 64)
	current := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			current = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		for range strings.Fields(line) {
			labels = append(labels, current)
		}
	}
	return labels
}

func copyMetadata(metadata map[string]any) map[string]any {
	md := make(map[string]any, len(metadata)+5)
	for k, v := range metadata {
		md[k] = v
	}
	return md
}
