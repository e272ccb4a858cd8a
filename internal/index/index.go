// Package index embeds document chunks into a vector store and retrieves the chunks most
// similar to a query, per tenant namespace.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/embedding"
	"github.com/bull/pdfchat/internal/storage"
)

const (
	// DefaultEmbedTimeout bounds a single embedding call.
	DefaultEmbedTimeout = 30 * time.Second

	// overfetch multiplies topK when searching so stale entries can be filtered out.
	overfetch = 2
	// maxSearchRounds caps how often a search widens when too many hits were stale.
	maxSearchRounds = 4
)

// Options configures an Index.
type Options struct {
	EmbedTimeout time.Duration
	Logger       *zap.Logger
}

// Index is the embedding index. Documents are stored under a fresh generation id that is
// committed only after every entry is written; queries only see committed generations, so
// a replaced document never mixes old and new chunks.
type Index struct {
	embedder embedding.Embedder
	store    storage.VectorStore
	timeout  time.Duration
	logger   *zap.Logger

	locks keyLock
	seq   atomic.Int64

	mu sync.RWMutex
	// committed maps a document to its visible generation. An empty value hides every
	// entry of the document. Documents missing here (written before a restart) are
	// visible unless they have a pending generation.
	committed map[docKey]string
	pending   map[docKey]string
	populated map[string]bool
}

type docKey struct {
	namespace  string
	documentID string
}

// New creates an Index over embedder and store.
func New(embedder embedding.Embedder, store storage.VectorStore, opts Options) *Index {
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	x := &Index{
		embedder:  embedder,
		store:     store,
		timeout:   opts.EmbedTimeout,
		logger:    opts.Logger,
		committed: make(map[docKey]string),
		pending:   make(map[docKey]string),
		populated: make(map[string]bool),
	}
	// Seed from the clock so insertion order survives restarts.
	x.seq.Store(time.Now().UnixNano())
	return x
}

// Store embeds chunks and makes them the document's only visible entries. It returns the
// number of entries written. Stores of the same document are serialized.
func (x *Index) Store(ctx context.Context, namespace, documentID string, chunks []domain.Chunk) (int, error) {
	namespace = domain.NormalizeNamespace(namespace)
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", domain.ErrInvalidArgument)
	}
	key := docKey{namespace, documentID}

	unlock := x.locks.Lock(namespace + "\x00" + documentID)
	defer unlock()

	start := time.Now()
	generation := uuid.NewString()

	var entries []*storage.Entry
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err := x.embed(ctx, texts)
		if err != nil {
			return 0, err
		}

		entries = make([]*storage.Entry, len(chunks))
		for i, ch := range chunks {
			entries[i] = &storage.Entry{
				ID:         uuid.NewString(),
				Namespace:  namespace,
				DocumentID: documentID,
				Generation: generation,
				ChunkIndex: ch.Index,
				Seq:        x.seq.Add(1),
				Text:       ch.Text,
				Vector:     vectors[i],
			}
		}

		x.mu.Lock()
		x.pending[key] = generation
		x.mu.Unlock()

		if err := x.store.Upsert(ctx, entries); err != nil {
			x.discard(ctx, key, generation)
			return 0, unavailable("store entries", err)
		}
	}

	x.mu.Lock()
	x.committed[key] = generation
	delete(x.pending, key)
	if len(entries) > 0 {
		x.populated[namespace] = true
	} else {
		// The replaced version may have been the namespace's last document.
		delete(x.populated, namespace)
	}
	x.mu.Unlock()

	// The new generation is already the only visible one; a failed cleanup leaves hidden
	// entries behind but does not affect results.
	if err := x.store.DeleteDocument(context.WithoutCancel(ctx), namespace, documentID, generation); err != nil {
		x.logger.Warn("failed to delete replaced entries",
			zap.String("namespace", namespace),
			zap.String("document_id", documentID),
			zap.Error(err))
	}

	x.logger.Info("stored document",
		zap.String("namespace", namespace),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(entries)),
		zap.Duration("duration", time.Since(start)))

	return len(entries), nil
}

// discard removes a partially written generation. Best effort: if the delete fails the
// generation stays pending, which keeps its entries hidden.
func (x *Index) discard(ctx context.Context, key docKey, generation string) {
	err := x.store.DeleteGeneration(context.WithoutCancel(ctx), key.namespace, key.documentID, generation)
	if err != nil {
		x.logger.Warn("failed to discard partial generation",
			zap.String("namespace", key.namespace),
			zap.String("document_id", key.documentID),
			zap.Error(err))
		return
	}

	x.mu.Lock()
	if x.pending[key] == generation {
		delete(x.pending, key)
	}
	x.mu.Unlock()
}

// Query returns up to topK chunks of namespace most similar to text, by descending score
// with ties broken by insertion order. An empty namespace yields an empty result.
func (x *Index) Query(ctx context.Context, namespace, text string, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidArgument, topK)
	}
	namespace = domain.NormalizeNamespace(namespace)

	ready, err := x.Ready(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if !ready {
		return []domain.ScoredChunk{}, nil
	}

	vectors, err := x.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	var visible []*storage.ScoredEntry
	limit := topK * overfetch
	for round := 0; round < maxSearchRounds; round++ {
		hits, err := x.store.Search(ctx, namespace, vectors[0], limit)
		if err != nil {
			return nil, unavailable("search", err)
		}
		visible = x.filterVisible(namespace, hits)
		if len(visible) >= topK || len(hits) < limit {
			break
		}
		limit *= 2
	}

	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].Score != visible[j].Score {
			return visible[i].Score > visible[j].Score
		}
		return visible[i].Entry.Seq < visible[j].Entry.Seq
	})
	if len(visible) > topK {
		visible = visible[:topK]
	}

	out := make([]domain.ScoredChunk, len(visible))
	for i, h := range visible {
		out[i] = domain.ScoredChunk{
			DocumentID: h.Entry.DocumentID,
			ChunkIndex: h.Entry.ChunkIndex,
			Text:       h.Entry.Text,
			Score:      h.Score,
		}
	}
	return out, nil
}

func (x *Index) filterVisible(namespace string, hits []*storage.ScoredEntry) []*storage.ScoredEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*storage.ScoredEntry, 0, len(hits))
	for _, h := range hits {
		key := docKey{namespace, h.Entry.DocumentID}
		if gen, ok := x.committed[key]; ok {
			if h.Entry.Generation != gen {
				continue
			}
		} else if x.pending[key] == h.Entry.Generation {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Remove deletes every entry of a document.
func (x *Index) Remove(ctx context.Context, namespace, documentID string) error {
	namespace = domain.NormalizeNamespace(namespace)
	if documentID == "" {
		return fmt.Errorf("%w: document id is required", domain.ErrInvalidArgument)
	}
	key := docKey{namespace, documentID}

	unlock := x.locks.Lock(namespace + "\x00" + documentID)
	defer unlock()

	x.mu.Lock()
	x.committed[key] = ""
	// Readiness is re-derived from the store on the next check.
	delete(x.populated, namespace)
	x.mu.Unlock()

	if err := x.store.DeleteDocument(ctx, namespace, documentID, ""); err != nil {
		return unavailable("delete document", err)
	}

	x.logger.Info("removed document",
		zap.String("namespace", namespace),
		zap.String("document_id", documentID))
	return nil
}

// Ready reports whether namespace holds at least one stored entry. The answer comes from
// in-process state when known and from the store otherwise, so data written before a
// restart counts.
func (x *Index) Ready(ctx context.Context, namespace string) (bool, error) {
	namespace = domain.NormalizeNamespace(namespace)

	x.mu.RLock()
	ready := x.populated[namespace]
	x.mu.RUnlock()
	if ready {
		return true, nil
	}

	has, err := x.store.HasEntries(ctx, namespace)
	if err != nil {
		return false, unavailable("check namespace", err)
	}
	if has {
		x.mu.Lock()
		x.populated[namespace] = true
		x.mu.Unlock()
	}
	return has, nil
}

// Health checks the underlying store.
func (x *Index) Health(ctx context.Context) error {
	if err := x.store.Health(ctx); err != nil {
		return unavailable("health", err)
	}
	return nil
}

func (x *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	vectors, err := x.embedder.Embed(ectx, texts)
	if err != nil {
		return nil, unavailable("embed", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts",
			domain.ErrIndexUnavailable, len(vectors), len(texts))
	}
	return vectors, nil
}

// unavailable classifies a provider or store failure.
func unavailable(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", domain.ErrProviderTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrIndexUnavailable, op, err)
	}
}
