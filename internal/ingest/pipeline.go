// Package ingest turns uploaded PDFs into indexed chunks and tracks per-document status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bull/pdfchat/internal/chunker"
	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/extract"
	"github.com/bull/pdfchat/internal/index"
)

// DefaultWorkers bounds concurrent background ingestion.
const DefaultWorkers = 4

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("ingestion pipeline closed")

// State is the lifecycle position of one document.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Upload is a document handed to the pipeline. ID may be empty, in which case one is
// assigned; reusing an existing ID in the same namespace replaces that document.
type Upload = domain.Document

// Status reports the outcome of one upload.
type Status struct {
	DocumentID string      `json:"document_id"`
	Name       string      `json:"name,omitempty"`
	Namespace  string      `json:"namespace"`
	State      State       `json:"state"`
	Chunks     int         `json:"chunks"`
	ErrorKind  domain.Kind `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Done reports whether the status is final.
func (s Status) Done() bool {
	return s.State == StateSucceeded || s.State == StateFailed
}

// Indexer stores a document's chunks. *index.Index implements it.
type Indexer interface {
	Store(ctx context.Context, namespace, documentID string, chunks []domain.Chunk) (int, error)
}

var _ Indexer = (*index.Index)(nil)

// Options configures a Pipeline.
type Options struct {
	Workers int
	Logger  *zap.Logger
}

// Pipeline extracts, chunks and indexes documents, either synchronously (Ingest) or on
// background workers (Submit).
type Pipeline struct {
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	index     Indexer
	logger    *zap.Logger

	// Background work runs under ctx, which outlives requests and ends at Close.
	ctx     context.Context
	cancel  context.CancelFunc
	workers *errgroup.Group
	batches sync.WaitGroup

	mu       sync.RWMutex
	statuses map[statusKey]*Status
	closed   bool
}

// statusKey scopes a document id to its namespace; ids are only unique per tenant.
type statusKey struct {
	namespace string
	id        string
}

// NewPipeline creates a pipeline. Call Close to stop background work.
func NewPipeline(extractor *extract.Extractor, ch *chunker.Chunker, idx Indexer, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}
	g.SetLimit(opts.Workers)

	return &Pipeline{
		extractor: extractor,
		chunker:   ch,
		index:     idx,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		workers:   g,
		statuses:  make(map[statusKey]*Status),
	}
}

// Ingest processes uploads one after another and returns their final statuses in upload
// order. A failing document never stops the rest of the batch.
func (p *Pipeline) Ingest(ctx context.Context, namespace string, uploads []Upload) []Status {
	namespace = domain.NormalizeNamespace(namespace)
	uploads = slices.Clone(uploads)
	start := time.Now()

	out := make([]Status, len(uploads))
	accepted := p.accept(namespace, uploads, out)
	for _, i := range accepted {
		out[i] = p.process(ctx, namespace, uploads[i])
	}

	p.logBatch(namespace, out, time.Since(start))
	return out
}

// Submit validates uploads, records them as pending and returns at once. Accepted
// documents are processed by background workers; poll Status for the outcome. Uploads
// that fail validation are returned already failed.
func (p *Pipeline) Submit(_ context.Context, namespace string, uploads []Upload) ([]Status, error) {
	namespace = domain.NormalizeNamespace(namespace)

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	uploads = slices.Clone(uploads)
	out := make([]Status, len(uploads))
	accepted := p.accept(namespace, uploads, out)
	if len(accepted) == 0 {
		return out, nil
	}

	p.mu.RLock()
	closed = p.closed
	if !closed {
		p.batches.Add(1)
	}
	p.mu.RUnlock()
	if closed {
		for _, i := range accepted {
			out[i] = p.record(namespace, &uploads[i], StateFailed, 0, ErrClosed)
		}
		return out, ErrClosed
	}

	go func() {
		defer p.batches.Done()
		for _, i := range accepted {
			u := uploads[i]
			p.workers.Go(func() error {
				p.process(p.ctx, namespace, u)
				return nil
			})
		}
	}()
	return out, nil
}

// accept assigns ids and rejects unsupported media types before any side effect. It
// fills out for every upload and returns the positions of the accepted ones.
func (p *Pipeline) accept(namespace string, uploads []Upload, out []Status) []int {
	accepted := make([]int, 0, len(uploads))
	for i := range uploads {
		u := &uploads[i]
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		u.MediaType = domain.NormalizeMediaType(u.MediaType)

		if !p.extractor.Supports(u.MediaType) {
			err := fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, u.MediaType)
			out[i] = p.record(namespace, u, StateFailed, 0, err)
			continue
		}
		out[i] = p.record(namespace, u, StatePending, 0, nil)
		accepted = append(accepted, i)
	}
	return accepted
}

func (p *Pipeline) process(ctx context.Context, namespace string, u Upload) Status {
	start := time.Now()
	p.record(namespace, &u, StateProcessing, 0, nil)

	n, err := p.processDocument(ctx, namespace, u)
	if err != nil {
		p.logger.Warn("failed to ingest document",
			zap.String("namespace", namespace),
			zap.String("document_id", u.ID),
			zap.String("name", u.Name),
			zap.Error(err))
		return p.record(namespace, &u, StateFailed, 0, err)
	}

	p.logger.Info("ingested document",
		zap.String("namespace", namespace),
		zap.String("document_id", u.ID),
		zap.String("name", u.Name),
		zap.Int("chunks", n),
		zap.Duration("duration", time.Since(start)))
	return p.record(namespace, &u, StateSucceeded, n, nil)
}

func (p *Pipeline) processDocument(ctx context.Context, namespace string, u Upload) (int, error) {
	text, err := p.extractor.Extract(ctx, u.Content, u.MediaType)
	if err != nil {
		return 0, err
	}

	chunks := p.chunker.Split(u.ID, text)
	p.logger.Debug("chunked document",
		zap.String("document_id", u.ID),
		zap.Int("chunks", len(chunks)))

	return p.index.Store(ctx, namespace, u.ID, chunks)
}

func (p *Pipeline) record(namespace string, u *Upload, state State, chunks int, err error) Status {
	s := Status{
		DocumentID: u.ID,
		Name:       u.Name,
		Namespace:  namespace,
		State:      state,
		Chunks:     chunks,
		UpdatedAt:  time.Now(),
	}
	if err != nil {
		s.ErrorKind = domain.KindOf(err)
		s.Error = err.Error()
	}

	p.mu.Lock()
	p.statuses[statusKey{namespace: namespace, id: u.ID}] = &s
	p.mu.Unlock()
	return s
}

// Status returns the latest status of a document in namespace. A blank namespace is
// the default namespace.
func (p *Pipeline) Status(namespace, documentID string) (Status, bool) {
	key := statusKey{namespace: domain.NormalizeNamespace(namespace), id: documentID}

	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.statuses[key]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Statuses returns the known statuses of ids in namespace, skipping unknown ones.
func (p *Pipeline) Statuses(namespace string, ids []string) []Status {
	namespace = domain.NormalizeNamespace(namespace)

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if s, ok := p.statuses[statusKey{namespace: namespace, id: id}]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Close stops accepting work and waits for in-flight documents. If ctx ends first the
// remaining work is cancelled and ctx's error returned.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.batches.Wait()
		_ = p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pipeline) logBatch(namespace string, statuses []Status, d time.Duration) {
	failed := 0
	chunks := 0
	for _, s := range statuses {
		if s.State == StateFailed {
			failed++
		}
		chunks += s.Chunks
	}
	p.logger.Info("ingestion batch complete",
		zap.String("namespace", namespace),
		zap.Int("documents", len(statuses)),
		zap.Int("failed", failed),
		zap.Int("chunks", chunks),
		zap.Duration("duration", d))
}
