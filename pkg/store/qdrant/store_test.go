package qdrant

import (
	"testing"

	"github.com/docland/docland/pkg/domain"
)

func TestPointIDDeterministic(t *testing.T) {
	a := pointID("eur-lex", "doc.md", 0)
	b := pointID("eur-lex", "doc.md", 0)
	if a != b {
		t.Errorf("pointID not deterministic: %s vs %s", a, b)
	}
	if a == pointID("eur-lex", "doc.md", 1) {
		t.Error("pointID must differ per chunk index")
	}
	if a == pointID("other", "doc.md", 0) {
		t.Error("pointID must differ per source")
	}
}

func TestDocumentFilter(t *testing.T) {
	filter := documentFilter("src", "f.md")
	if len(filter.Must) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(filter.Must))
	}
	first := filter.Must[0].GetField()
	if first.Key != "source" || first.Match.GetKeyword() != "src" {
		t.Errorf("first condition wrong: %v", first)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	for _, v := range []any{"text", 42, int64(7), 3.5, true} {
		pv := payloadValue(v)
		got := goValue(pv)
		switch want := v.(type) {
		case int:
			if got != int64(want) {
				t.Errorf("payload round trip %v: got %v", v, got)
			}
		default:
			if got != v {
				t.Errorf("payload round trip %v: got %v", v, got)
			}
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "c", 768, 0); err == nil {
		t.Error("missing url must fail")
	}
	if _, err := New("localhost:6334", "c", 0, 0); err == nil {
		t.Error("zero dimensions must fail")
	}
}

func TestStoreValidation(t *testing.T) {
	s := &Store{collection: "c"}
	ctx := t.Context()

	if _, err := s.Store(ctx, "src", "f", nil, ""); err == nil {
		t.Error("empty chunks must fail")
	}
	if _, err := s.Store(ctx, "src", "", []domain.EmbeddedChunk{{Content: "x", Embedding: []float32{1}}}, ""); err == nil {
		t.Error("empty filename must fail")
	}
	if _, err := s.Search(ctx, []float32{1}, domain.SearchOptions{Limit: 0}); err == nil {
		t.Error("limit 0 must fail")
	}
}
