// Package domain holds the types and error taxonomy shared by the ingestion and
// question-answering pipeline.
package domain

import (
	"mime"
	"strings"
)

// MediaTypePDF is the only document format accepted for ingestion.
const MediaTypePDF = "application/pdf"

// DefaultNamespace is used when a caller does not name a tenant.
const DefaultNamespace = "default"

// Document is an uploaded blob handed to ingestion. It lives only until its chunks are
// committed to the index.
type Document struct {
	ID        string
	Name      string
	Content   []byte
	MediaType string
}

// Chunk is a bounded-length fragment of a document's extracted text.
type Chunk struct {
	DocumentID string
	Index      int    // Position in document (0, 1, 2...)
	Offset     int    // Rune offset of the first character in the extracted text
	Text       string
}

// ScoredChunk is one element of a query result.
type ScoredChunk struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Score      float64
}

// NormalizeMediaType lowercases a media type and strips parameters such as charset.
// Unparseable input is returned trimmed and lowercased.
func NormalizeMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mt
}

// NormalizeNamespace returns DefaultNamespace for a blank namespace.
func NormalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}
