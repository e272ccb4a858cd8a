// Package mcp exposes question answering and PDF ingestion as MCP tools.
package mcp

import "github.com/bull/pdfchat/internal/ingest"

// AskQuestionInput defines the input parameters for the ask_question tool.
type AskQuestionInput struct {
	// Question is the natural-language question.
	Question string `json:"question" jsonschema:"the question to answer from the ingested PDFs"`
	// Namespace selects the tenant whose documents are searched.
	Namespace string `json:"namespace,omitempty" jsonschema:"tenant namespace (default: default)"`
	// SessionID keys the conversation history.
	SessionID string `json:"session_id,omitempty" jsonschema:"conversation session id; reuse it for follow-up questions"`
}

// AskQuestionOutput contains the generated answer.
type AskQuestionOutput struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Source is one retrieved chunk the answer was grounded on.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// IngestPDFInput defines the input parameters for the ingest_pdf tool.
type IngestPDFInput struct {
	// Name is the file name, used for display only.
	Name string `json:"name" jsonschema:"file name of the PDF"`
	// ContentBase64 is the PDF file, base64 encoded.
	ContentBase64 string `json:"content_base64" jsonschema:"the PDF file contents, base64 encoded"`
	// Namespace is the tenant that will own the document.
	Namespace string `json:"namespace,omitempty" jsonschema:"tenant namespace (default: default)"`
	// DocumentID replaces an existing document when set.
	DocumentID string `json:"document_id,omitempty" jsonschema:"id of a document to replace; a new id is assigned when empty"`
	// Wait makes the call return only after the document is indexed.
	Wait bool `json:"wait,omitempty" jsonschema:"wait for indexing to finish instead of returning a pending status"`
}

// IngestPDFOutput reports the document status.
type IngestPDFOutput struct {
	Status ingest.Status `json:"status"`
}

// GetIngestStatusInput defines the input parameters for the get_ingest_status tool.
type GetIngestStatusInput struct {
	// Namespace is the tenant the documents were ingested into.
	Namespace string `json:"namespace,omitempty" jsonschema:"tenant namespace the documents were ingested into (default: default)"`
	// DocumentIDs lists the documents to report on.
	DocumentIDs []string `json:"document_ids" jsonschema:"ids returned by ingest_pdf"`
}

// GetIngestStatusOutput lists the known statuses. Unknown ids are reported separately.
type GetIngestStatusOutput struct {
	Statuses []ingest.Status `json:"statuses"`
	Unknown  []string        `json:"unknown,omitempty"`
}

// RemoveDocumentInput defines the input parameters for the remove_document tool.
type RemoveDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of the document to remove"`
	Namespace  string `json:"namespace,omitempty" jsonschema:"tenant namespace (default: default)"`
}

// RemoveDocumentOutput confirms the removal.
type RemoveDocumentOutput struct {
	Removed bool `json:"removed"`
}
