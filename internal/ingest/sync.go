package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/github"
)

// SyncResult contains statistics about a sync run.
type SyncResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	FailedDocs     []FailedDoc
	CommitSHA      string
	Duration       time.Duration
}

// FailedDoc represents a document that failed to sync.
type FailedDoc struct {
	Path   string
	Reason string
}

// Source lists and downloads remote PDFs. *github.Fetcher implements it.
type Source interface {
	Source() string
	LatestCommitSHA(ctx context.Context) (string, error)
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, path string) (*github.FetchedDoc, error)
}

var _ Source = (*github.Fetcher)(nil)

// Sync ingests every PDF of src into namespace. Each path keeps a stable document id
// derived from the source and path, so a later sync replaces earlier versions.
func (p *Pipeline) Sync(ctx context.Context, namespace string, src Source) (*SyncResult, error) {
	namespace = domain.NormalizeNamespace(namespace)
	start := time.Now()
	result := &SyncResult{}

	commitSHA, err := src.LatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("get commit SHA: %w", err)
	}
	result.CommitSHA = commitSHA
	p.logger.Info("starting sync", zap.String("source", src.Source()), zap.String("commit", commitSHA))

	paths, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("found documents", zap.Int("count", len(paths)))

	for _, path := range paths {
		fetched, err := src.Fetch(ctx, path)
		if err != nil {
			p.logger.Warn("failed to fetch document", zap.String("path", path), zap.Error(err))
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: path, Reason: err.Error()})
			continue
		}

		status := p.Ingest(ctx, namespace, []Upload{{
			ID:        DocumentID(src.Source(), path),
			Name:      path,
			Content:   fetched.Content,
			MediaType: domain.MediaTypePDF,
		}})[0]
		if status.State == StateFailed {
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: path, Reason: status.Error})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += status.Chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("sync complete",
		zap.Int("successful", result.SuccessfulDocs),
		zap.Int("failed", len(result.FailedDocs)),
		zap.Int("chunks", result.TotalChunks),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// DocumentID returns the stable id of a synced path.
func DocumentID(source, path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"/"+path)).String()
}
