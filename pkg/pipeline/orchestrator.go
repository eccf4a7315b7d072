package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
	"github.com/docland/docland/pkg/tika"
)

// TextExtractor is the Tika-style text-extraction server surface the
// orchestrator needs: office content extraction and metadata enrichment.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
	ExtractMetadata(ctx context.Context, path string) (map[string]any, error)
}

// Renderer converts archive artifacts to PDF. Any error falls back to
// archiving the original file.
type Renderer interface {
	RenderMarkdown(ctx context.Context, path, outputPath string) error
	RenderHTML(ctx context.Context, path, outputPath string) error
	RenderOffice(ctx context.Context, path, outputPath string) error
}

// Enricher produces document-level LLM metadata; nil result means no
// enrichment.
type Enricher interface {
	ExtractDocumentMetadata(ctx context.Context, path string) *domain.DocumentEnrichment
}

// Options fix one run's behavior at orchestrator construction.
type Options struct {
	// Source partitions vectors and names the run; usually the scraper name.
	Source string
	// DatasetID overrides the RAG collection when non-empty.
	DatasetID        string
	MergeStrategy    domain.MergeStrategy
	FilenameTemplate string
	ArchiveEnabled   bool
	RAGEnabled       bool
	// TikaEnrichment fills missing parser metadata from the text-extraction
	// server. Office documents skip it; their metadata already came from
	// there.
	TikaEnrichment bool
	LLMEnrichment  bool
	VerifyTimeout  time.Duration
}

// Orchestrator runs the per-document state machine: parse, enrich, merge,
// archive, verify, RAG-ingest, clean up — in that order, once per document.
type Orchestrator struct {
	parser    domain.Parser
	archive   domain.Archive
	rag       domain.RAG
	extractor TextExtractor
	renderer  Renderer
	enricher  Enricher
	tmpl      *FilenameTemplate
	opts      Options
	logger    *slog.Logger
}

// NewOrchestrator validates options eagerly: bad templates or merge
// strategies crash the run before any document is touched.
func NewOrchestrator(parser domain.Parser, archive domain.Archive, rag domain.RAG,
	extractor TextExtractor, renderer Renderer, enricher Enricher, opts Options) (*Orchestrator, error) {

	if parser == nil {
		return nil, fmt.Errorf("%w: orchestrator requires a parser", domain.ErrConfigurationError)
	}
	if opts.ArchiveEnabled && archive == nil {
		return nil, fmt.Errorf("%w: archive enabled but no archive backend", domain.ErrConfigurationError)
	}
	if opts.RAGEnabled && rag == nil {
		return nil, fmt.Errorf("%w: rag enabled but no rag backend", domain.ErrConfigurationError)
	}
	strategy, err := domain.ParseMergeStrategy(string(opts.MergeStrategy))
	if err != nil {
		return nil, err
	}
	opts.MergeStrategy = strategy
	tmpl, err := NewFilenameTemplate(opts.FilenameTemplate)
	if err != nil {
		return nil, err
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 60 * time.Second
	}
	if opts.Source == "" {
		opts.Source = "default"
	}
	return &Orchestrator{
		parser:    parser,
		archive:   archive,
		rag:       rag,
		extractor: extractor,
		renderer:  renderer,
		enricher:  enricher,
		tmpl:      tmpl,
		opts:      opts,
		logger:    log.WithModule("pipeline"),
	}, nil
}

// ProcessDocument runs steps 1-10 for one document and folds the outcome
// into result. Parser and archive failures are fatal for the document;
// everything downstream of archive is recoverable. Never returns: all
// failures are counted.
func (o *Orchestrator) ProcessDocument(ctx context.Context, path string, meta *domain.DocumentMetadata, result *domain.PipelineResult) {
	label := meta.Title
	if label == "" {
		label = meta.Filename
	}
	fail := func(message string) {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", label, message))
		o.logger.Warn("document failed", "title", label, "error", message)
	}

	docType := domain.ClassifyPath(path)
	o.logger.Info("processing document", "title", label, "path", path, "type", docType)

	// step 1: content extraction
	start := time.Now()
	contentPath, extracted, parseErr := o.extractContent(ctx, path, docType, meta)
	result.AddStepTiming("parse", time.Since(start))
	if parseErr != "" {
		fail(parseErr)
		return
	}

	// step 2: fill missing parser metadata from the text-extraction server
	if o.opts.TikaEnrichment && o.extractor != nil && docType != domain.DocTypeOffice {
		start = time.Now()
		extracted = o.fillFromTika(ctx, path, extracted)
		result.AddStepTiming("tika_enrich", time.Since(start))
	}

	parserMeta := metadataFromMap(extracted)

	// step 3: document-level LLM enrichment, gaps only
	if o.opts.LLMEnrichment && o.enricher != nil {
		start = time.Now()
		parserMeta = applyEnrichment(parserMeta, o.enricher.ExtractDocumentMetadata(ctx, contentPath))
		result.AddStepTiming("llm_enrich", time.Since(start))
	}

	// steps 4-5: merge and canonical filename
	merged := MergeMetadata(meta, parserMeta, o.opts.MergeStrategy)
	merged.Filename = o.tmpl.Render(merged, strings.ToLower(filepath.Ext(path)))

	// step 6: archive artifact per format routing
	start = time.Now()
	artifact, generated := o.prepareArtifact(ctx, path, docType)
	result.AddStepTiming("prepare", time.Since(start))

	// steps 7-8: archive and verify
	var taskID string
	verified := false
	if o.opts.ArchiveEnabled {
		start = time.Now()
		archived := o.archive.Archive(ctx, domain.ArchiveRequest{
			Path:          artifact,
			Title:         coalesce(merged.Title, merged.Filename),
			Created:       merged.Published,
			Correspondent: merged.Organization,
			Tags:          merged.Tags,
			Metadata:      merged.ToMap(),
		})
		result.AddStepTiming("archive", time.Since(start))
		if !archived.Success {
			fail(archived.Error)
			return
		}
		taskID = archived.DocumentID
		result.Parsed++
		result.Archived++

		start = time.Now()
		verified = o.archive.Verify(ctx, taskID, o.opts.VerifyTimeout)
		result.AddStepTiming("verify", time.Since(start))
		if verified {
			result.Verified++
		} else {
			o.logger.Warn("archive verification did not complete", "title", label, "task_id", taskID)
		}
	} else {
		result.Parsed++
	}

	// step 9: RAG ingest, non-fatal
	ragOK := false
	if o.opts.RAGEnabled {
		start = time.Now()
		metaMap := merged.ToMap()
		metaMap["source"] = o.opts.Source
		if taskID != "" {
			metaMap["document_id"] = taskID
		}
		collection := o.opts.DatasetID
		if collection == "" {
			collection = o.opts.Source
		}
		ragResult := o.rag.Ingest(ctx, contentPath, metaMap, collection)
		result.AddStepTiming("rag", time.Since(start))
		if ragResult.Success {
			ragOK = true
			result.RAGIndexed++
		} else {
			o.logger.Warn("rag ingest failed", "title", label, "error", ragResult.Error)
		}
	}

	// step 10: cleanup
	start = time.Now()
	if verified || (!o.opts.ArchiveEnabled && ragOK) {
		o.cleanup(path, contentPath, artifact, generated)
	}
	result.AddStepTiming("cleanup", time.Since(start))
}

// extractContent routes the document to its extraction path and returns the
// markdown content path plus the parser's extracted metadata. A non-empty
// third return is a fatal error message.
func (o *Orchestrator) extractContent(ctx context.Context, path string, docType domain.DocumentType, meta *domain.DocumentMetadata) (string, map[string]any, string) {
	switch docType {
	case domain.DocTypeMarkdown:
		// already canonical, the parser backend is never called
		return path, nil, ""
	case domain.DocTypeOffice:
		if o.extractor == nil {
			return "", nil, "office document requires a text-extraction server"
		}
		text, err := o.extractor.ExtractText(ctx, path)
		if err != nil {
			return "", nil, fmt.Sprintf("text extraction failed: %v", err)
		}
		contentPath := sidecarPath(path, ".md")
		if err := os.WriteFile(contentPath, []byte(text), 0644); err != nil {
			return "", nil, fmt.Sprintf("write extracted text: %v", err)
		}
		var extracted map[string]any
		if raw, err := o.extractor.ExtractMetadata(ctx, path); err == nil {
			extracted = tika.NormalizeMetadata(raw)
		}
		return contentPath, extracted, ""
	default: // pdf, html, other
		parsed := o.parser.Parse(ctx, path, meta)
		if !parsed.Success {
			return "", nil, parsed.Error
		}
		return parsed.ContentPath, parsed.Metadata, ""
	}
}

// fillFromTika fills only missing keys; the parser's own values win.
func (o *Orchestrator) fillFromTika(ctx context.Context, path string, extracted map[string]any) map[string]any {
	raw, err := o.extractor.ExtractMetadata(ctx, path)
	if err != nil {
		o.logger.Debug("tika metadata enrichment failed", "path", path, "error", err)
		return extracted
	}
	if extracted == nil {
		extracted = make(map[string]any)
	}
	for key, value := range tika.NormalizeMetadata(raw) {
		if _, exists := extracted[key]; !exists {
			extracted[key] = value
		}
	}
	return extracted
}

// prepareArtifact applies the format routing table: what file goes to the
// archive. Returns the artifact path and whether it was generated (and so
// must be cleaned up). Renderer failures fall back to the original file.
func (o *Orchestrator) prepareArtifact(ctx context.Context, path string, docType domain.DocumentType) (string, bool) {
	if o.renderer == nil || docType == domain.DocTypePDF || docType == domain.DocTypeOther {
		return path, false
	}
	outputPath := sidecarPath(path, ".archive.pdf")
	var err error
	switch docType {
	case domain.DocTypeMarkdown:
		err = o.renderer.RenderMarkdown(ctx, path, outputPath)
	case domain.DocTypeHTML:
		err = o.renderer.RenderHTML(ctx, path, outputPath)
	case domain.DocTypeOffice:
		err = o.renderer.RenderOffice(ctx, path, outputPath)
	}
	if err != nil {
		o.logger.Warn("pdf render failed, archiving original", "path", path, "error", err)
		return path, false
	}
	return outputPath, true
}

// cleanup deletes the local files for a fully landed document. Failures are
// logged and ignored.
func (o *Orchestrator) cleanup(path, contentPath, artifact string, generated bool) {
	targets := []string{path}
	if contentPath != "" && contentPath != path {
		targets = append(targets, contentPath)
	}
	if generated {
		targets = append(targets, artifact)
	}
	// sidecar metadata some scrapers drop next to the download
	targets = append(targets, sidecarPath(path, ".json"))
	for _, target := range targets {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("cleanup failed", "path", target, "error", err)
		}
	}
}

func sidecarPath(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
