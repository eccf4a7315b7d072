package docland

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docland/docland/pkg/container"
	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
	"github.com/docland/docland/pkg/pipeline"
	"github.com/docland/docland/pkg/scraper"
)

var (
	runDatasetID string
	runMaxPages  int
	runDir       string
	runArchive   bool
	runRAG       bool
)

var runCmd = &cobra.Command{
	Use:   "run <scraper_name>",
	Short: "Run the ingestion pipeline for a scraper",
	Long: `Runs the full pipeline for one scraper: every document it yields is
parsed, enriched, archived and indexed. Exit status is 0 when the run
completes (fully or partially) and 1 when the scraper itself fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScraper(cmd.Context(), args[0])
	},
}

func runScraper(ctx context.Context, name string) error {
	c, err := container.Get()
	if err != nil {
		return err
	}

	src, err := buildScraper(c, name)
	if err != nil {
		return err
	}
	orch, err := buildOrchestrator(ctx, c, name)
	if err != nil {
		return err
	}

	started := time.Now()
	result := pipeline.Run(ctx, src, orch)
	recordRun(ctx, c, name, started, result)
	printResult(name, result)

	if result.Status == domain.StatusFailed {
		return fmt.Errorf("run failed: %s", name)
	}
	return nil
}

// buildScraper resolves a scraper by name. Every name maps to a directory
// scraper over a local folder; site-specific crawlers live outside this
// binary and drop their downloads there.
func buildScraper(c *container.Container, name string) (scraper.Scraper, error) {
	root := runDir
	if root == "" {
		root = filepath.Join(c.Cfg().DataDir(), "incoming", name)
	}
	var s scraper.Scraper = scraper.NewDirectory(name, root, "", "")
	if runMaxPages > 0 {
		s = &limitedScraper{Scraper: s, max: runMaxPages}
	}
	return s, nil
}

func buildOrchestrator(ctx context.Context, c *container.Container, name string) (*pipeline.Orchestrator, error) {
	cfg := c.Cfg()
	logger := log.WithModule("cli")

	parserBackend, err := c.Parser(ctx)
	if err != nil {
		return nil, err
	}

	var archiveBackend domain.Archive
	if runArchive {
		archiveBackend, err = c.Archive(ctx)
		if err != nil {
			return nil, fmt.Errorf("archive backend: %w", err)
		}
	}
	var ragBackend domain.RAG
	if runRAG {
		ragBackend, err = c.RAG(ctx)
		if err != nil {
			return nil, fmt.Errorf("rag backend: %w", err)
		}
	}

	var extractor pipeline.TextExtractor
	if client, err := c.Tika(); err == nil {
		extractor = client
	} else if cfg.Pipeline.TikaEnrichmentEnabled {
		logger.Warn("tika enrichment enabled but no tika url configured")
	}
	var pdfRenderer pipeline.Renderer
	if client, err := c.Renderer(); err == nil {
		pdfRenderer = client
	}
	var enricher pipeline.Enricher
	if cfg.Pipeline.LLMEnrichmentEnabled {
		service, err := c.Enricher(ctx)
		if err != nil {
			logger.Warn("llm enrichment unavailable, continuing without it", "error", err)
		} else {
			enricher = service
		}
	}

	datasetID := runDatasetID
	if datasetID == "" {
		datasetID = c.Settings().Scraper(name).DatasetID
	}

	return pipeline.NewOrchestrator(parserBackend, archiveBackend, ragBackend,
		extractor, pdfRenderer, enricher, pipeline.Options{
			Source:           name,
			DatasetID:        datasetID,
			MergeStrategy:    domain.MergeStrategy(c.EffectiveMergeStrategy()),
			FilenameTemplate: c.EffectiveFilenameTemplate(),
			ArchiveEnabled:   runArchive,
			RAGEnabled:       runRAG,
			TikaEnrichment:   cfg.Pipeline.TikaEnrichmentEnabled && extractor != nil,
			LLMEnrichment:    enricher != nil,
		})
}

func recordRun(ctx context.Context, c *container.Container, name string, started time.Time, result *domain.PipelineResult) {
	store, err := c.State()
	if err != nil {
		log.Warnf("state store unavailable, run not recorded: %v", err)
		return
	}
	if err := store.RecordRun(ctx, name, started, time.Now(), result); err != nil {
		log.Warnf("failed to record run: %v", err)
	}
}

func printResult(name string, result *domain.PipelineResult) {
	icon := "✅"
	switch result.Status {
	case domain.StatusPartial:
		icon = "⚠️"
	case domain.StatusFailed:
		icon = "❌"
	}
	fmt.Printf("%s %s: %s in %s\n", icon, name, result.Status, result.Duration.Round(time.Millisecond))
	fmt.Printf("   • scraped:     %d\n", result.Scraped)
	fmt.Printf("   • downloaded:  %d\n", result.Downloaded)
	fmt.Printf("   • parsed:      %d\n", result.Parsed)
	fmt.Printf("   • archived:    %d\n", result.Archived)
	fmt.Printf("   • verified:    %d\n", result.Verified)
	fmt.Printf("   • rag indexed: %d\n", result.RAGIndexed)
	fmt.Printf("   • failed:      %d\n", result.Failed)
	for _, message := range result.Errors {
		fmt.Printf("   ✗ %s\n", message)
	}
}

// limitedScraper stops the underlying sequence after max documents.
type limitedScraper struct {
	scraper.Scraper
	max int
}

func (l *limitedScraper) Documents(ctx context.Context) iter.Seq[map[string]any] {
	return func(yield func(map[string]any) bool) {
		count := 0
		for item := range l.Scraper.Documents(ctx) {
			if count >= l.max {
				return
			}
			count++
			if !yield(item) {
				return
			}
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runDatasetID, "dataset-id", "", "RAG collection override (default: scraper settings, then scraper name)")
	runCmd.Flags().IntVar(&runMaxPages, "max-pages", 0, "stop after N documents (0 = no limit)")
	runCmd.Flags().StringVar(&runDir, "dir", "", "local folder to ingest (default: <home>/data/incoming/<scraper>)")
	runCmd.Flags().BoolVar(&runArchive, "archive", true, "upload documents to the archive")
	runCmd.Flags().BoolVar(&runRAG, "rag", true, "index documents in the RAG store")

	RootCmd.AddCommand(runCmd)
}
