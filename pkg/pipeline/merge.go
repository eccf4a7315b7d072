package pipeline

import (
	"strings"

	"github.com/docland/docland/pkg/domain"
)

// MergeMetadata reconciles scraper-provided and parser-extracted metadata
// into one record. URL and Filename always come from the scraper; they are
// the document's identity.
func MergeMetadata(scraperMeta, parserMeta *domain.DocumentMetadata, strategy domain.MergeStrategy) *domain.DocumentMetadata {
	if parserMeta == nil {
		return scraperMeta.Clone()
	}
	out := scraperMeta.Clone()

	pick := func(scraperVal, parserVal string) string {
		switch strategy {
		case domain.MergePreferScraper:
			if scraperVal != "" {
				return scraperVal
			}
			return parserVal
		case domain.MergePreferParser:
			if parserVal != "" {
				return parserVal
			}
			return scraperVal
		default: // smart: non-empty, more informative
			if len(parserVal) > len(scraperVal) {
				return parserVal
			}
			return scraperVal
		}
	}
	pickInt := func(scraperVal, parserVal int) int {
		switch strategy {
		case domain.MergePreferScraper:
			if scraperVal > 0 {
				return scraperVal
			}
			return parserVal
		default:
			if parserVal > 0 {
				return parserVal
			}
			return scraperVal
		}
	}

	out.Title = pick(scraperMeta.Title, parserMeta.Title)
	out.Published = pick(scraperMeta.Published, parserMeta.Published)
	out.Organization = pick(scraperMeta.Organization, parserMeta.Organization)
	out.DocumentType = pick(scraperMeta.DocumentType, parserMeta.DocumentType)
	out.Author = pick(scraperMeta.Author, parserMeta.Author)
	out.Language = pick(scraperMeta.Language, parserMeta.Language)
	out.Description = pick(scraperMeta.Description, parserMeta.Description)
	out.ImageURL = pick(scraperMeta.ImageURL, parserMeta.ImageURL)
	out.PageCount = pickInt(scraperMeta.PageCount, parserMeta.PageCount)

	out.Tags = unionFold(scraperMeta.Tags, parserMeta.Tags)
	out.Keywords = unionFold(scraperMeta.Keywords, parserMeta.Keywords)
	out.Extra = mergeExtras(scraperMeta.Extra, parserMeta.Extra, strategy)
	return out
}

// unionFold unions two string sets with case-insensitive deduplication,
// keeping the first-seen casing and order.
func unionFold(a, b []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, values := range [][]string{a, b} {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			key := strings.ToLower(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// mergeExtras deep-merges the two extras maps. Nested maps merge
// recursively; on a scalar conflict the merge strategy decides, with smart
// siding with the scraper (it named the document).
func mergeExtras(scraperExtra, parserExtra map[string]any, strategy domain.MergeStrategy) map[string]any {
	if len(scraperExtra) == 0 && len(parserExtra) == 0 {
		return nil
	}
	base, overlay := scraperExtra, parserExtra
	if strategy == domain.MergePreferParser {
		base, overlay = parserExtra, scraperExtra
	}
	return deepMerge(base, overlay)
}

// deepMerge returns base with overlay's keys filled in; base wins scalar
// conflicts, nested maps recurse.
func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		existingMap, eOK := existing.(map[string]any)
		overlayMap, oOK := v.(map[string]any)
		if eOK && oOK {
			out[k] = deepMerge(existingMap, overlayMap)
		}
	}
	return out
}

// metadataFromMap lifts a parser's extracted key/value map into a metadata
// record. Known keys land in typed fields; the rest go to Extra.
func metadataFromMap(extracted map[string]any) *domain.DocumentMetadata {
	if len(extracted) == 0 {
		return nil
	}
	meta := &domain.DocumentMetadata{}
	for key, value := range extracted {
		switch key {
		case "title":
			meta.Title = stringOf(value)
		case "author":
			meta.Author = stringOf(value)
		case "creation_date", "published", "date":
			if meta.Published == "" {
				meta.Published = stringOf(value)
			}
		case "organization":
			meta.Organization = stringOf(value)
		case "document_type":
			meta.DocumentType = stringOf(value)
		case "language":
			meta.Language = stringOf(value)
		case "description":
			meta.Description = stringOf(value)
		case "image_url":
			meta.ImageURL = stringOf(value)
		case "page_count":
			if n, ok := intOf(value); ok {
				meta.PageCount = n
			}
		case "keywords":
			meta.Keywords = stringsOf(value)
		case "tags":
			meta.Tags = stringsOf(value)
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]any)
			}
			meta.Extra[key] = value
		}
	}
	return meta
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringsOf(v any) []string {
	switch values := v.(type) {
	case []string:
		return append([]string(nil), values...)
	case []any:
		out := make([]string, 0, len(values))
		for _, item := range values {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(values) == "" {
			return nil
		}
		parts := strings.Split(values, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// applyEnrichment folds document-level LLM output into parser metadata,
// filling gaps only. Summary and topic fields land under an llm_* namespace
// in Extra so they never collide with scraped values.
func applyEnrichment(meta *domain.DocumentMetadata, e *domain.DocumentEnrichment) *domain.DocumentMetadata {
	if e == nil {
		return meta
	}
	if meta == nil {
		meta = &domain.DocumentMetadata{}
	}
	if meta.Title == "" {
		meta.Title = e.Title
	}
	if meta.DocumentType == "" {
		meta.DocumentType = e.DocumentType
	}
	meta.Tags = unionFold(meta.Tags, e.SuggestedTags)
	if meta.Extra == nil {
		meta.Extra = make(map[string]any)
	}
	if e.Summary != "" {
		meta.Extra["llm_summary"] = e.Summary
	}
	if len(e.Keywords) > 0 {
		meta.Extra["llm_keywords"] = e.Keywords
	}
	if len(e.Entities) > 0 {
		meta.Extra["llm_entities"] = e.Entities
	}
	if len(e.KeyTopics) > 0 {
		meta.Extra["llm_key_topics"] = e.KeyTopics
	}
	return meta
}
