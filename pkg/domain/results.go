package domain

import (
	"fmt"
	"strings"
)

// The three result records share one invariant: success holds an identifier
// and no error text, failure holds error text and no identifier. The
// constructors are the only way the pipeline builds them, so a violating
// record cannot reach the counters.

// ParserResult is the outcome of one parse call.
type ParserResult struct {
	Success     bool           `json:"success"`
	ContentPath string         `json:"content_path,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	ParserName  string         `json:"parser_name"`
}

// NewParserSuccess builds a success result; the content path must be set.
func NewParserSuccess(contentPath string, metadata map[string]any, parserName string) (ParserResult, error) {
	if strings.TrimSpace(contentPath) == "" {
		return ParserResult{}, fmt.Errorf("%w: parser success requires content_path", ErrInvalidInput)
	}
	return ParserResult{
		Success:     true,
		ContentPath: contentPath,
		Metadata:    metadata,
		ParserName:  parserName,
	}, nil
}

// NewParserFailure builds a failure result; the message must be set.
func NewParserFailure(message, parserName string) (ParserResult, error) {
	if strings.TrimSpace(message) == "" {
		return ParserResult{}, fmt.Errorf("%w: parser failure requires an error message", ErrInvalidInput)
	}
	return ParserResult{
		Success:    false,
		Error:      message,
		ParserName: parserName,
	}, nil
}

// ArchiveResult is the outcome of one archive upload.
type ArchiveResult struct {
	Success     bool   `json:"success"`
	DocumentID  string `json:"document_id,omitempty"`
	URL         string `json:"url,omitempty"`
	Error       string `json:"error,omitempty"`
	ArchiveName string `json:"archive_name"`
}

func NewArchiveSuccess(documentID, url, archiveName string) (ArchiveResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return ArchiveResult{}, fmt.Errorf("%w: archive success requires document_id", ErrInvalidInput)
	}
	return ArchiveResult{
		Success:     true,
		DocumentID:  documentID,
		URL:         url,
		ArchiveName: archiveName,
	}, nil
}

func NewArchiveFailure(message, archiveName string) (ArchiveResult, error) {
	if strings.TrimSpace(message) == "" {
		return ArchiveResult{}, fmt.Errorf("%w: archive failure requires an error message", ErrInvalidInput)
	}
	return ArchiveResult{
		Success:     false,
		Error:       message,
		ArchiveName: archiveName,
	}, nil
}

// RAGResult is the outcome of one RAG ingestion. RAGName is required on
// both variants so failures stay attributable.
type RAGResult struct {
	Success      bool   `json:"success"`
	DocumentID   string `json:"document_id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	Error        string `json:"error,omitempty"`
	RAGName      string `json:"rag_name"`
}

func NewRAGSuccess(documentID, collectionID, ragName string) (RAGResult, error) {
	if strings.TrimSpace(ragName) == "" {
		return RAGResult{}, fmt.Errorf("%w: rag result requires rag_name", ErrInvalidInput)
	}
	if strings.TrimSpace(documentID) == "" {
		return RAGResult{}, fmt.Errorf("%w: rag success requires document_id", ErrInvalidInput)
	}
	return RAGResult{
		Success:      true,
		DocumentID:   documentID,
		CollectionID: collectionID,
		RAGName:      ragName,
	}, nil
}

func NewRAGFailure(message, ragName string) (RAGResult, error) {
	if strings.TrimSpace(ragName) == "" {
		return RAGResult{}, fmt.Errorf("%w: rag result requires rag_name", ErrInvalidInput)
	}
	if strings.TrimSpace(message) == "" {
		return RAGResult{}, fmt.Errorf("%w: rag failure requires an error message", ErrInvalidInput)
	}
	return RAGResult{
		Success: false,
		Error:   message,
		RAGName: ragName,
	}, nil
}
