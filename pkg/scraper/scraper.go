package scraper

import (
	"context"
	"iter"

	"github.com/docland/docland/pkg/domain"
)

// Scraper produces documents one at a time. The pipeline driver consumes the
// sequence lazily and strictly serially; each yielded item is a loose field
// map the driver filters down to the known document fields.
//
// Summary and Err are only meaningful after the sequence has been drained
// (or abandoned). Err reports a failure of the scrape itself, before or
// between yields; per-document problems belong in Summary.Errors.
type Scraper interface {
	Name() string
	Documents(ctx context.Context) iter.Seq[map[string]any]
	Summary() domain.ScraperSummary
	Err() error
}
