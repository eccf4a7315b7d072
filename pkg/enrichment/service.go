package enrichment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

const (
	// outlineMaxLines caps the heading outline in tier-2 context blocks.
	outlineMaxLines = 50
	// neighborExcerptChars truncates neighboring chunks in tier-2 context.
	neighborExcerptChars = 200
	// cacheCap bounds the tier-1 result cache.
	cacheCap = 128
)

// Service runs the two LLM enrichment tiers: document-level JSON metadata
// and per-chunk situating text. Both tiers degrade to "no enrichment"
// rather than failing the pipeline.
type Service struct {
	llm       domain.LLM
	maxTokens int
	window    int
	logger    *slog.Logger

	mu         sync.Mutex
	cache      map[string]*domain.DocumentEnrichment
	cacheOrder []string
}

func NewService(llm domain.LLM, maxTokens, window int) *Service {
	return &Service{
		llm:       llm,
		maxTokens: maxTokens,
		window:    window,
		logger:    log.WithModule("enrichment"),
		cache:     make(map[string]*domain.DocumentEnrichment),
	}
}

var tier1SystemPrompt = fmt.Sprintf(`You are a document analyst. Reply with exactly one JSON object and nothing else. The object must have these keys:
"title": string, the document's title.
"summary": string, 2-4 sentences.
"keywords": array of strings.
"entities": array of strings, the people and organizations named.
"suggested_tags": array of short lowercase strings.
"document_type": one of %s.
"key_topics": array of strings.`, strings.Join(quoteAll(domain.EnrichmentDocumentTypes), ", "))

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("%q", v)
	}
	return out
}

// ExtractDocumentMetadata is tier 1. It returns nil on every failure mode
// (empty file, LLM error, malformed reply); callers fill gaps only.
func (s *Service) ExtractDocumentMetadata(ctx context.Context, path string) *domain.DocumentEnrichment {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("enrichment skipped, unreadable file", "path", path, "error", err)
		return nil
	}

	content := strings.TrimSpace(string(raw))
	if content == "" {
		return nil
	}

	// Roughly four characters per token.
	budget := s.maxTokens * 4
	if budget > 0 && len(content) > budget {
		content = content[:budget]
	}

	key := cacheKey(content)
	if cached, ok := s.cached(key); ok {
		return cached
	}

	resp, err := s.llm.Chat(ctx, []domain.ChatMessage{
		{Role: "system", Content: tier1SystemPrompt},
		{Role: "user", Content: content},
	}, &domain.ChatOptions{JSONFormat: true})
	if err != nil {
		s.logger.Warn("document enrichment failed", "path", path, "error", err)
		return nil
	}

	enrichment := parseEnrichment(resp.Content)
	if enrichment == nil {
		s.logger.Warn("document enrichment returned malformed json", "path", path)
		return nil
	}

	s.store(key, enrichment)
	return enrichment
}

// parseEnrichment decodes the LLM reply, tolerating nothing but a JSON
// object. A non-object (or unparseable) reply yields nil.
func parseEnrichment(reply string) *domain.DocumentEnrichment {
	reply = strings.TrimSpace(reply)
	// Some models wrap JSON in a code fence despite instructions.
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	if !strings.HasPrefix(reply, "{") {
		return nil
	}

	var enrichment domain.DocumentEnrichment
	if err := json.Unmarshal([]byte(reply), &enrichment); err != nil {
		return nil
	}
	return &enrichment
}

func cacheKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *Service) cached(key string) (*domain.DocumentEnrichment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enrichment, ok := s.cache[key]
	return enrichment, ok
}

func (s *Service) store(key string, enrichment *domain.DocumentEnrichment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cache[key]; exists {
		return
	}
	if len(s.cacheOrder) >= cacheCap {
		oldest := s.cacheOrder[0]
		s.cacheOrder = s.cacheOrder[1:]
		delete(s.cache, oldest)
	}
	s.cache[key] = enrichment
	s.cacheOrder = append(s.cacheOrder, key)
}

// SituateChunks is tier 2: one situating paragraph per chunk, prepended to
// the raw content. The output is used for embedding only; storage keeps the
// raw chunk text. The returned slice always matches len(chunks); any
// per-chunk failure falls back to that chunk's raw content.
func (s *Service) SituateChunks(ctx context.Context, docText string, chunks []domain.Chunk) []string {
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		out[i] = chunk.Content
	}
	if len(chunks) == 0 || s.llm == nil {
		return out
	}

	fullDocFits := len(strings.Fields(docText)) <= s.maxTokens
	outline := headingOutline(docText)

	for i, chunk := range chunks {
		contextBlock := s.buildContext(docText, outline, chunks, i, fullDocFits)
		situated, err := s.situateOne(ctx, contextBlock, chunk.Content)
		if err != nil {
			s.logger.Warn("chunk situating failed, using raw content",
				"chunk_index", chunk.Index, "error", err)
			continue
		}
		out[i] = situated + "\n\n" + chunk.Content
	}
	return out
}

func (s *Service) buildContext(docText, outline string, chunks []domain.Chunk, i int, fullDocFits bool) string {
	var sb strings.Builder
	if fullDocFits {
		sb.WriteString("Full document:\n")
		sb.WriteString(docText)
		return sb.String()
	}

	if outline != "" {
		sb.WriteString("Document outline:\n")
		sb.WriteString(outline)
		sb.WriteString("\n\n")
	}
	for off := s.window; off >= 1; off-- {
		if j := i - off; j >= 0 {
			sb.WriteString("Preceding chunk:\n")
			sb.WriteString(truncate(chunks[j].Content, neighborExcerptChars))
			sb.WriteString("\n\n")
		}
	}
	for off := 1; off <= s.window; off++ {
		if j := i + off; j < len(chunks) {
			sb.WriteString("Following chunk:\n")
			sb.WriteString(truncate(chunks[j].Content, neighborExcerptChars))
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func (s *Service) situateOne(ctx context.Context, contextBlock, chunkContent string) (string, error) {
	prompt := contextBlock +
		"\n\nCurrent chunk:\n" + chunkContent +
		"\n\nWrite a 2-3 sentence paragraph situating the current chunk within the document. Reply with the paragraph only."

	resp, err := s.llm.Chat(ctx, []domain.ChatMessage{
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}
	situated := strings.TrimSpace(resp.Content)
	if situated == "" {
		return "", fmt.Errorf("empty situating paragraph")
	}
	return situated, nil
}

// headingOutline collects up to outlineMaxLines markdown heading lines.
func headingOutline(docText string) string {
	var lines []string
	for _, line := range strings.Split(docText, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			lines = append(lines, strings.TrimSpace(line))
			if len(lines) >= outlineMaxLines {
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
