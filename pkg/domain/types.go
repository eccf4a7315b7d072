package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DocumentType classifies an input artifact by file extension. Routing in
// the pipeline (which extractor runs, what gets archived) keys off this.
type DocumentType string

const (
	DocTypePDF      DocumentType = "pdf"
	DocTypeMarkdown DocumentType = "markdown"
	DocTypeHTML     DocumentType = "html"
	DocTypeOffice   DocumentType = "office"
	DocTypeOther    DocumentType = "other"
)

var officeExtensions = map[string]bool{
	".doc": true, ".docx": true,
	".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true,
	".odt": true, ".ods": true, ".odp": true,
	".rtf": true,
}

// ClassifyPath maps a file path to its DocumentType by extension.
func ClassifyPath(path string) DocumentType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return DocTypePDF
	case ext == ".md" || ext == ".markdown":
		return DocTypeMarkdown
	case ext == ".html" || ext == ".htm":
		return DocTypeHTML
	case officeExtensions[ext]:
		return DocTypeOffice
	default:
		return DocTypeOther
	}
}

// DocumentMetadata travels with one scraped artifact through the pipeline.
// URL and Filename are populated by the scraper before ingestion; everything
// else may be empty and gets filled by parser, enricher, and merge steps.
type DocumentMetadata struct {
	URL          string         `json:"url"`
	Title        string         `json:"title,omitempty"`
	Filename     string         `json:"filename"`
	Published    string         `json:"published,omitempty"` // ISO-8601
	Organization string         `json:"organization,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	DocumentType string         `json:"document_type,omitempty"`
	Author       string         `json:"author,omitempty"`
	PageCount    int            `json:"page_count,omitempty"`
	Language     string         `json:"language,omitempty"`
	Description  string         `json:"description,omitempty"`
	Keywords     []string       `json:"keywords,omitempty"`
	ImageURL     string         `json:"image_url,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Validate checks the pre-ingestion invariant: url and filename set.
func (m *DocumentMetadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil document metadata", ErrInvalidInput)
	}
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("%w: document metadata missing url", ErrInvalidInput)
	}
	if strings.TrimSpace(m.Filename) == "" {
		return fmt.Errorf("%w: document metadata missing filename", ErrInvalidInput)
	}
	return nil
}

// Clone returns a copy safe to mutate; Tags/Keywords slices and the Extra
// map are copied one level deep.
func (m *DocumentMetadata) Clone() *DocumentMetadata {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.Keywords = append([]string(nil), m.Keywords...)
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// ToMap flattens the metadata into the string-keyed form handed to RAG
// ingestion and the vector store. Empty fields are omitted.
func (m *DocumentMetadata) ToMap() map[string]any {
	out := make(map[string]any)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("url", m.URL)
	put("title", m.Title)
	put("filename", m.Filename)
	put("published", m.Published)
	put("organization", m.Organization)
	put("document_type", m.DocumentType)
	put("author", m.Author)
	put("language", m.Language)
	put("description", m.Description)
	put("image_url", m.ImageURL)
	if m.PageCount > 0 {
		out["page_count"] = m.PageCount
	}
	if len(m.Tags) > 0 {
		out["tags"] = append([]string(nil), m.Tags...)
	}
	if len(m.Keywords) > 0 {
		out["keywords"] = append([]string(nil), m.Keywords...)
	}
	for k, v := range m.Extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

// Chunk is one indexed subrange of a document's text. Metadata always
// carries "chunk_index" equal to Index and may carry "heading_context",
// "word_start", "word_end", "num_tokens" plus document-level keys copied in
// by the caller.
type Chunk struct {
	Content  string         `json:"content"`
	Index    int            `json:"index"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EmbeddedChunk is a chunk paired with its vector, ready for storage.
type EmbeddedChunk struct {
	Content   string         `json:"content"`
	Index     int            `json:"index"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MergeStrategy selects how scraper-provided and parser-extracted metadata
// are reconciled.
type MergeStrategy string

const (
	MergeSmart         MergeStrategy = "smart"
	MergePreferScraper MergeStrategy = "prefer_scraper"
	MergePreferParser  MergeStrategy = "prefer_parser"
)

// ParseMergeStrategy validates a strategy name; empty selects smart.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(s) {
	case "", MergeSmart:
		return MergeSmart, nil
	case MergePreferScraper:
		return MergePreferScraper, nil
	case MergePreferParser:
		return MergePreferParser, nil
	default:
		return "", fmt.Errorf("%w: unknown merge strategy %q", ErrInvalidInput, s)
	}
}

// RunStatus is the terminal state of one pipeline run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
)

// PipelineResult aggregates one run. Counters increment only after the
// corresponding stage fully succeeds for a document.
type PipelineResult struct {
	Status      RunStatus                `json:"status"`
	Scraped     int                      `json:"scraped"`
	Downloaded  int                      `json:"downloaded"`
	Parsed      int                      `json:"parsed"`
	Archived    int                      `json:"archived"`
	Verified    int                      `json:"verified"`
	RAGIndexed  int                      `json:"rag_indexed"`
	Failed      int                      `json:"failed"`
	Errors      []string                 `json:"errors,omitempty"`
	Duration    time.Duration            `json:"duration"`
	StepTimings map[string]time.Duration `json:"step_timings,omitempty"`
}

// AddStepTiming accumulates wall-clock time spent in a named step.
func (r *PipelineResult) AddStepTiming(step string, d time.Duration) {
	if r.StepTimings == nil {
		r.StepTimings = make(map[string]time.Duration)
	}
	r.StepTimings[step] += d
}

// ScraperSummary is the terminal return value of a scraper's sequence.
type ScraperSummary struct {
	Scraped int      `json:"scraped"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// EmbeddingResult is the batched output of one Embedder call.
type EmbeddingResult struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
}

// ChatMessage is one turn of an LLM conversation.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatOptions tune a single LLM call.
type ChatOptions struct {
	JSONFormat bool `json:"json_format,omitempty"`
	MaxTokens  int  `json:"max_tokens,omitempty"`
}

// ChatResponse is the LLM's reply.
type ChatResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// SearchHit is one row returned from vector search, best match first.
// Score is 1 - cosine distance.
type SearchHit struct {
	Source     string         `json:"source"`
	Filename   string         `json:"filename"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      float64        `json:"score"`
}

// SearchOptions narrow a vector search.
type SearchOptions struct {
	Sources        []string       `json:"sources,omitempty"`
	MetadataFilter map[string]any `json:"metadata_filter,omitempty"`
	Limit          int            `json:"limit"`
}

// StoredChunk is a persisted row read back from the vector store.
type StoredChunk struct {
	Source     string         `json:"source"`
	Filename   string         `json:"filename"`
	ChunkIndex int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StoreStats summarizes vector store contents per source partition.
type StoreStats struct {
	TotalRows int64            `json:"total_rows"`
	Sources   map[string]int64 `json:"sources"`
}

// EnrichmentDocumentTypes is the closed set the document-level enrichment
// prompt allows for document_type.
var EnrichmentDocumentTypes = []string{
	"report", "article", "guide", "policy", "press_release",
	"legal", "financial", "technical", "other",
}

// DocumentEnrichment is the strict-JSON document-level metadata produced by
// the LLM. A nil value means "no enrichment"; callers fill gaps only.
type DocumentEnrichment struct {
	Title         string   `json:"title"`
	Summary       string   `json:"summary"`
	Keywords      []string `json:"keywords"`
	Entities      []string `json:"entities"`
	SuggestedTags []string `json:"suggested_tags"`
	DocumentType  string   `json:"document_type"`
	KeyTopics     []string `json:"key_topics"`
}
