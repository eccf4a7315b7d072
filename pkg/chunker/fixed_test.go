package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/docland/docland/pkg/domain"
)

func TestNewFixedValidation(t *testing.T) {
	tests := []struct {
		name      string
		maxTokens int
		overlap   int
		wantErr   bool
	}{
		{"valid", 100, 20, false},
		{"zero overlap", 100, 0, false},
		{"max one", 1, 0, false},
		{"zero max", 0, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals max", 100, 100, true},
		{"overlap above max", 100, 150, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFixed(tt.maxTokens, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFixed(%d, %d) err = %v, wantErr %v", tt.maxTokens, tt.overlap, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrConfigurationError) {
				t.Errorf("err = %v, want ErrConfigurationError", err)
			}
		})
	}
}

func TestFixedChunkEmptyInput(t *testing.T) {
	c, err := NewFixed(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"", "   ", "\n\t \n"} {
		chunks, err := c.Chunk(context.Background(), text, nil)
		if err != nil {
			t.Fatalf("Chunk(%q): %v", text, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Chunk(%q) = %d chunks, want 0", text, len(chunks))
		}
	}
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestFixedChunkOverlapLaw(t *testing.T) {
	tests := []struct {
		maxTokens int
		overlap   int
		nWords    int
	}{
		{10, 0, 35},
		{10, 3, 35},
		{10, 9, 25},
		{5, 2, 5},
		{5, 2, 4},
		{8, 4, 100},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("M%d_O%d_N%d", tt.maxTokens, tt.overlap, tt.nWords)
		t.Run(name, func(t *testing.T) {
			c, err := NewFixed(tt.maxTokens, tt.overlap)
			if err != nil {
				t.Fatal(err)
			}
			chunks, err := c.Chunk(context.Background(), words(tt.nWords), nil)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}

			for i, ch := range chunks {
				cw := strings.Fields(ch.Content)
				if len(cw) > tt.maxTokens {
					t.Errorf("chunk %d has %d words, max %d", i, len(cw), tt.maxTokens)
				}
				if ch.Index != i {
					t.Errorf("chunk %d has index %d", i, ch.Index)
				}
				if ch.Metadata["chunk_index"] != i {
					t.Errorf("chunk %d metadata chunk_index = %v", i, ch.Metadata["chunk_index"])
				}
				start := ch.Metadata["word_start"].(int)
				end := ch.Metadata["word_end"].(int)
				if end-start != len(cw) {
					t.Errorf("chunk %d span [%d,%d) disagrees with %d words", i, start, end, len(cw))
				}
				if nt, ok := ch.Metadata["num_tokens"].(int); !ok || nt <= 0 {
					t.Errorf("chunk %d num_tokens = %v", i, ch.Metadata["num_tokens"])
				}
			}

			// consecutive chunks overlap by exactly O words where both are
			// long enough
			for i := 1; i < len(chunks); i++ {
				prev := strings.Fields(chunks[i-1].Content)
				cur := strings.Fields(chunks[i].Content)
				if len(prev) < tt.overlap || len(cur) < tt.overlap {
					continue
				}
				tail := prev[len(prev)-tt.overlap:]
				head := cur[:tt.overlap]
				if strings.Join(tail, " ") != strings.Join(head, " ") {
					t.Errorf("chunks %d/%d overlap mismatch: %v vs %v", i-1, i, tail, head)
				}
			}

			// every word is covered
			last := chunks[len(chunks)-1]
			if got := last.Metadata["word_end"].(int); got != tt.nWords {
				t.Errorf("last chunk ends at %d, want %d", got, tt.nWords)
			}
		})
	}
}

func TestFixedChunkHeadingContext(t *testing.T) {
	text := `# Budget Report

Intro paragraph words here.

## Revenue Section

Revenue numbers went up substantially this quarter.

## Expense Section

Expenses held steady.`

	c, err := NewFixed(8, 0)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Chunk(context.Background(), text, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	if got := chunks[0].Metadata["heading_context"]; got != "Budget Report" {
		t.Errorf("first chunk heading = %v, want Budget Report", got)
	}
	last := chunks[len(chunks)-1]
	if got := last.Metadata["heading_context"]; got != "Expense Section" {
		t.Errorf("last chunk heading = %v, want Expense Section", got)
	}
}

func TestFixedChunkNoHeading(t *testing.T) {
	c, err := NewFixed(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Chunk(context.Background(), "plain text with no headings at all", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := chunks[0].Metadata["heading_context"]; ok {
		t.Error("heading_context should be absent when no heading precedes the chunk")
	}
}

func TestFixedChunkCopiesCallerMetadata(t *testing.T) {
	c, err := NewFixed(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	docMeta := map[string]any{"source": "council", "title": "T"}
	chunks, err := c.Chunk(context.Background(), words(10), docMeta)
	if err != nil {
		t.Fatal(err)
	}
	for i, ch := range chunks {
		if ch.Metadata["source"] != "council" || ch.Metadata["title"] != "T" {
			t.Errorf("chunk %d missing caller metadata: %v", i, ch.Metadata)
		}
	}
	// chunk metadata maps must be independent of the caller's map
	chunks[0].Metadata["source"] = "mutated"
	if docMeta["source"] != "council" {
		t.Error("chunk metadata shares the caller's map")
	}
	if chunks[1].Metadata["source"] != "council" {
		t.Error("chunk metadata maps are shared between chunks")
	}
}

func TestHeadingsByWordLabels(t *testing.T) {
	text := "before\n# Alpha\nunder alpha\n##   Beta Head  \ntail words"
	labels := headingsByWord(text)
	want := []string{
		"",           // before
		"Alpha",      // #
		"Alpha",      // Alpha
		"Alpha",      // under
		"Alpha",      // alpha
		"Beta Head",  // ##
		"Beta Head",  // Beta
		"Beta Head",  // Head
		"Beta Head",  // tail
		"Beta Head",  // words
	}
	if len(labels) != len(want) {
		t.Fatalf("labels = %d entries, want %d", len(labels), len(want))
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("labels[%d] = %q, want %q", i, labels[i], want[i])
		}
	}
}
