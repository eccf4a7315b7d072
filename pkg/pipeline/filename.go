package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docland/docland/pkg/domain"
)

// DefaultFilenameTemplate is used when settings and config are silent.
const DefaultFilenameTemplate = "{date} - {org} - {title}"

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

var knownPlaceholders = map[string]bool{
	"date": true, "org": true, "title": true, "ext": true,
}

// invalid filename characters across the filesystems we archive to
var unsafeFilenameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// FilenameTemplate renders the canonical archive filename from merged
// document metadata. Unknown placeholders are a configuration error caught
// at construction, before any document is processed.
type FilenameTemplate struct {
	raw    string
	hasExt bool
}

func NewFilenameTemplate(tmpl string) (*FilenameTemplate, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultFilenameTemplate
	}
	for _, match := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !knownPlaceholders[match[1]] {
			return nil, fmt.Errorf("%w: unknown filename template placeholder {%s}",
				domain.ErrConfigurationError, match[1])
		}
	}
	if !strings.Contains(tmpl, "{title}") {
		return nil, fmt.Errorf("%w: filename template must contain {title}",
			domain.ErrConfigurationError)
	}
	return &FilenameTemplate{raw: tmpl, hasExt: strings.Contains(tmpl, "{ext}")}, nil
}

// Render substitutes metadata into the template. ext carries the leading
// dot (".pdf"); it is appended when the template has no {ext} placeholder.
// Empty placeholder values collapse along with their " - " separators.
func (t *FilenameTemplate) Render(meta *domain.DocumentMetadata, ext string) string {
	title := meta.Title
	if title == "" {
		title = strings.TrimSuffix(meta.Filename, ext)
	}
	values := map[string]string{
		"date":  datePart(meta.Published),
		"org":   meta.Organization,
		"title": title,
		"ext":   strings.TrimPrefix(ext, "."),
	}
	name := placeholderPattern.ReplaceAllStringFunc(t.raw, func(ph string) string {
		return values[ph[1:len(ph)-1]]
	})
	name = collapseSeparators(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "-")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = strings.TrimSuffix(meta.Filename, ext)
	}
	if !t.hasExt && ext != "" {
		name += ext
	}
	return name
}

func datePart(published string) string {
	if len(published) >= 10 {
		return published[:10]
	}
	return published
}

// collapseSeparators removes the " - " runs left behind by empty values.
func collapseSeparators(name string) string {
	parts := strings.Split(name, " - ")
	kept := parts[:0]
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	return strings.TrimSpace(strings.Join(kept, " - "))
}
