package domain

import "testing"

func TestClassifyPath(t *testing.T) {
	tests := []struct {
		path string
		want DocumentType
	}{
		{"/tmp/report.pdf", DocTypePDF},
		{"/tmp/REPORT.PDF", DocTypePDF},
		{"/tmp/article.md", DocTypeMarkdown},
		{"/tmp/article.markdown", DocTypeMarkdown},
		{"/tmp/page.html", DocTypeHTML},
		{"/tmp/page.htm", DocTypeHTML},
		{"/tmp/minutes.docx", DocTypeOffice},
		{"/tmp/sheet.xlsx", DocTypeOffice},
		{"/tmp/slides.odp", DocTypeOffice},
		{"/tmp/data.csv", DocTypeOther},
		{"/tmp/noext", DocTypeOther},
	}

	for _, tt := range tests {
		if got := ClassifyPath(tt.path); got != tt.want {
			t.Errorf("ClassifyPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestParseMergeStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    MergeStrategy
		wantErr bool
	}{
		{"", MergeSmart, false},
		{"smart", MergeSmart, false},
		{"prefer_scraper", MergePreferScraper, false},
		{"prefer_parser", MergePreferParser, false},
		{"newest_wins", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMergeStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMergeStrategy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMergeStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMetadataValidate(t *testing.T) {
	m := &DocumentMetadata{URL: "http://x/doc", Filename: "doc.pdf"}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (&DocumentMetadata{Filename: "doc.pdf"}).Validate(); err == nil {
		t.Error("expected error for missing url")
	}
	if err := (&DocumentMetadata{URL: "http://x"}).Validate(); err == nil {
		t.Error("expected error for missing filename")
	}
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	orig := &DocumentMetadata{
		URL:      "http://x/doc",
		Filename: "doc.pdf",
		Tags:     []string{"budget"},
		Extra:    map[string]any{"k": "v"},
	}
	cp := orig.Clone()
	cp.Tags[0] = "changed"
	cp.Extra["k"] = "changed"
	if orig.Tags[0] != "budget" {
		t.Error("clone shares tag slice with original")
	}
	if orig.Extra["k"] != "v" {
		t.Error("clone shares extra map with original")
	}
}

func TestMetadataToMap(t *testing.T) {
	m := &DocumentMetadata{
		URL:       "http://x/doc",
		Title:     "T",
		Filename:  "doc.pdf",
		PageCount: 3,
		Tags:      []string{"a"},
		Extra:     map[string]any{"source": "myscraper", "title": "should not clobber"},
	}
	got := m.ToMap()
	if got["title"] != "T" {
		t.Errorf("extra key overwrote field: title = %v", got["title"])
	}
	if got["source"] != "myscraper" {
		t.Errorf("extra passthrough missing: %v", got["source"])
	}
	if got["page_count"] != 3 {
		t.Errorf("page_count = %v", got["page_count"])
	}
	if _, ok := got["author"]; ok {
		t.Error("empty field should be omitted")
	}
}
