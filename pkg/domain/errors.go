package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrConfigurationError = errors.New("configuration error")
	ErrParserFailed       = errors.New("parser backend failed")
	ErrArchiveFailed      = errors.New("archive backend failed")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
	ErrGenerationFailed   = errors.New("text generation failed")
	ErrChunkingFailed     = errors.New("text chunking failed")
	ErrVectorStoreFailed  = errors.New("vector store operation failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrBackendUnknown     = errors.New("unknown backend")
	ErrNotImplemented     = errors.New("not yet implemented")
	ErrDocumentNotFound   = errors.New("document not found")
)
