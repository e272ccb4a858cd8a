package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/chat"
	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/ingest"
)

// toolError prefixes err with its kind so clients can branch on it.
func toolError(err error) error {
	return fmt.Errorf("%s: %w", domain.KindOf(err), err)
}

// handleAskQuestion answers a question through the composer.
func (s *Server) handleAskQuestion(ctx context.Context, _ *mcp.CallToolRequest, input AskQuestionInput) (
	*mcp.CallToolResult, AskQuestionOutput, error,
) {
	answer, err := s.composer.AnswerWithSources(ctx, chat.Question{
		Namespace: input.Namespace,
		SessionID: input.SessionID,
		Text:      input.Question,
	})
	if err != nil {
		return nil, AskQuestionOutput{}, toolError(err)
	}

	sources := make([]Source, len(answer.Sources))
	for i, src := range answer.Sources {
		sources[i] = Source{
			DocumentID: src.DocumentID,
			ChunkIndex: src.ChunkIndex,
			Score:      src.Score,
			Text:       src.Text,
		}
	}
	return nil, AskQuestionOutput{Answer: answer.Text, Sources: sources}, nil
}

// handleIngestPDF decodes the upload and hands it to the pipeline.
func (s *Server) handleIngestPDF(ctx context.Context, _ *mcp.CallToolRequest, input IngestPDFInput) (
	*mcp.CallToolResult, IngestPDFOutput, error,
) {
	content, err := base64.StdEncoding.DecodeString(input.ContentBase64)
	if err != nil {
		return nil, IngestPDFOutput{}, toolError(fmt.Errorf("%w: content_base64: %v", domain.ErrInvalidArgument, err))
	}
	if len(content) == 0 {
		return nil, IngestPDFOutput{}, toolError(fmt.Errorf("%w: content_base64 is empty", domain.ErrInvalidArgument))
	}

	uploads := []ingest.Upload{{
		ID:        input.DocumentID,
		Name:      input.Name,
		Content:   content,
		MediaType: domain.MediaTypePDF,
	}}

	var statuses []ingest.Status
	if input.Wait {
		statuses = s.pipeline.Ingest(ctx, input.Namespace, uploads)
	} else {
		statuses, err = s.pipeline.Submit(ctx, input.Namespace, uploads)
		if err != nil {
			return nil, IngestPDFOutput{}, toolError(err)
		}
	}

	s.logger.Debug("ingest_pdf",
		zap.String("document_id", statuses[0].DocumentID),
		zap.String("state", string(statuses[0].State)))
	return nil, IngestPDFOutput{Status: statuses[0]}, nil
}

// handleGetIngestStatus reports the status of each requested document.
func (s *Server) handleGetIngestStatus(_ context.Context, _ *mcp.CallToolRequest, input GetIngestStatusInput) (
	*mcp.CallToolResult, GetIngestStatusOutput, error,
) {
	if len(input.DocumentIDs) == 0 {
		return nil, GetIngestStatusOutput{}, toolError(fmt.Errorf("%w: document_ids is empty", domain.ErrInvalidArgument))
	}

	out := GetIngestStatusOutput{Statuses: []ingest.Status{}}
	for _, id := range input.DocumentIDs {
		st, ok := s.pipeline.Status(input.Namespace, id)
		if !ok {
			out.Unknown = append(out.Unknown, id)
			continue
		}
		out.Statuses = append(out.Statuses, st)
	}
	return nil, out, nil
}

// handleRemoveDocument deletes a document from the index.
func (s *Server) handleRemoveDocument(ctx context.Context, _ *mcp.CallToolRequest, input RemoveDocumentInput) (
	*mcp.CallToolResult, RemoveDocumentOutput, error,
) {
	if err := s.index.Remove(ctx, input.Namespace, input.DocumentID); err != nil {
		return nil, RemoveDocumentOutput{}, toolError(err)
	}
	return nil, RemoveDocumentOutput{Removed: true}, nil
}
