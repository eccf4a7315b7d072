package scraper

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docland/docland/pkg/domain"
	"github.com/docland/docland/pkg/log"
)

// ingestibleExtensions limits the directory walk to formats the pipeline can
// route.
var ingestibleExtensions = map[string]bool{
	".pdf": true, ".md": true, ".markdown": true,
	".html": true, ".htm": true, ".txt": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".odt": true, ".ods": true, ".odp": true,
	".rtf": true,
}

// Directory walks a local folder and yields one document per ingestible
// file. It exists so the pipeline has a real producer without any
// site-specific crawling: point it at a folder of already-downloaded
// artifacts.
type Directory struct {
	name    string
	root    string
	baseURL string
	org     string

	mu      sync.Mutex
	summary domain.ScraperSummary
	err     error
}

// NewDirectory builds a scraper named name over root. baseURL, when set, is
// used to synthesize per-file source URLs; otherwise file:// URLs are
// emitted. org is attached to every document.
func NewDirectory(name, root, baseURL, org string) *Directory {
	return &Directory{name: name, root: root, baseURL: strings.TrimRight(baseURL, "/"), org: org}
}

func (d *Directory) Name() string { return d.name }

func (d *Directory) Documents(ctx context.Context) iter.Seq[map[string]any] {
	logger := log.WithModule("scraper")
	return func(yield func(map[string]any) bool) {
		d.mu.Lock()
		d.summary = domain.ScraperSummary{}
		d.err = nil
		d.mu.Unlock()

		entries, err := collectFiles(d.root)
		if err != nil {
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			return
		}

		for _, path := range entries {
			if ctx.Err() != nil {
				return
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !ingestibleExtensions[ext] {
				d.mu.Lock()
				d.summary.Skipped++
				d.mu.Unlock()
				logger.Debug("skipping non-ingestible file", "path", path)
				continue
			}

			d.mu.Lock()
			d.summary.Scraped++
			d.mu.Unlock()

			if !yield(d.document(path)) {
				return
			}
		}
	}
}

func (d *Directory) document(path string) map[string]any {
	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	url := "file://" + path
	if d.baseURL != "" {
		if rel, err := filepath.Rel(d.root, path); err == nil {
			url = d.baseURL + "/" + filepath.ToSlash(rel)
		}
	}
	doc := map[string]any{
		"title":      title,
		"url":        url,
		"filename":   filename,
		"local_path": path,
	}
	if d.org != "" {
		doc["organization"] = d.org
	}
	return doc
}

func (d *Directory) Summary() domain.ScraperSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.summary
	out.Errors = append([]string(nil), d.summary.Errors...)
	return out
}

func (d *Directory) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
