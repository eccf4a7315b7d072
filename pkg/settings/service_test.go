package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseValidDocument(t *testing.T) {
	doc := `{
  "pipeline": {
    "metadata_merge_strategy": "prefer_parser",
    "parser_backend": "native",
    "contextual_enrichment_enabled": true
  },
  "services": {
    "parser_url": "http://docling:5001",
    "parser_timeout": 90
  },
  "scrapers": {
    "city-council": {
      "dataset_id": "council-docs",
      "chunk_method": "hybrid",
      "schedule": "0 4 * * *"
    }
  }
}`
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Pipeline.MetadataMergeStrategy != "prefer_parser" {
		t.Errorf("merge strategy = %q", s.Pipeline.MetadataMergeStrategy)
	}
	if s.Pipeline.ContextualEnrichmentEnabled == nil || !*s.Pipeline.ContextualEnrichmentEnabled {
		t.Error("contextual enrichment should be explicitly true")
	}
	if got := s.Services.URLFor("parser"); got != "http://docling:5001" {
		t.Errorf("parser url = %q", got)
	}
	if got := s.Services.TimeoutFor("parser"); got != 90*time.Second {
		t.Errorf("parser timeout = %v", got)
	}
	if got := s.Services.TimeoutFor("tika"); got != 0 {
		t.Errorf("unset timeout should be zero, got %v", got)
	}
	if s.Scrapers["city-council"].DatasetID != "council-docs" {
		t.Errorf("scraper settings = %+v", s.Scrapers["city-council"])
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown top-level key", `{"pipelines": {}}`},
		{"unknown merge strategy", `{"pipeline": {"metadata_merge_strategy": "coinflip"}}`},
		{"negative timeout", `{"services": {"tika_timeout": -5}}`},
		{"bad chunk method", `{"scrapers": {"x": {"chunk_method": "semantic"}}}`},
		{"bad ingestion mode", `{"scrapers": {"x": {"ingestion_mode": "carrier-pigeon"}}}`},
		{"not json", `pipeline = "smart"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestNewServiceFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte(`{"pipeline": {"metadata_merge_strategy": "bogus"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	svc := NewService(path)
	cur := svc.Current()
	if cur.Pipeline.MetadataMergeStrategy != "" {
		t.Errorf("invalid file should load defaults, got %q", cur.Pipeline.MetadataMergeStrategy)
	}
}

func TestSaveRejectsInvalidWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	svc := NewService(path)

	good := Default()
	good.Pipeline.ParserBackend = "native"
	if err := svc.Save(good); err != nil {
		t.Fatalf("Save valid: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	bad := Default()
	bad.Pipeline.MetadataMergeStrategy = "bogus"
	if err := svc.Save(bad); err == nil {
		t.Fatal("expected save error for invalid settings")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("failed save must not modify the file")
	}
	if !strings.Contains(string(after), "native") {
		t.Error("previous valid save lost")
	}
}

func TestCurrentReturnsIndependentCopy(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "settings.json"))
	a := svc.Current()
	a.Pipeline.ParserBackend = "native"
	a.Scrapers["x"] = ScraperSettings{DatasetID: "d"}

	b := svc.Current()
	if b.Pipeline.ParserBackend != "" {
		t.Error("snapshot mutation leaked into service")
	}
	if _, ok := b.Scrapers["x"]; ok {
		t.Error("scraper map shared between snapshots")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	svc := NewService(path)
	err := svc.Update(func(s *Settings) {
		s.Scrapers["planning-board"] = ScraperSettings{
			DatasetID: "planning",
			Schedule:  "@daily",
		}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	again := NewService(path)
	if again.Scraper("planning-board").DatasetID != "planning" {
		t.Errorf("persisted scraper settings missing: %+v", again.Current())
	}
}
