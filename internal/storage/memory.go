package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryStore is an in-process vector store using brute-force cosine similarity.
// It is the default backend and the one used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string][]*Entry // by namespace
	closed    bool
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidEntry, dimension)
	}
	return &MemoryStore{
		dimension: dimension,
		entries:   make(map[string][]*Entry),
	}, nil
}

// Upsert implements VectorStore. Entries with an existing id are overwritten in place.
func (s *MemoryStore) Upsert(ctx context.Context, entries []*Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntries(entries, s.dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreUnreachable
	}

	for _, e := range entries {
		cp := *e
		cp.Vector = append([]float32(nil), e.Vector...)

		list := s.entries[e.Namespace]
		replaced := false
		for i, existing := range list {
			if existing.ID == e.ID {
				list[i] = &cp
				replaced = true
				break
			}
		}
		if !replaced {
			s.entries[e.Namespace] = append(list, &cp)
		}
	}
	return nil
}

// Search implements VectorStore.
func (s *MemoryStore) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]*ScoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreUnreachable
	}

	list := s.entries[namespace]
	hits := make([]*ScoredEntry, 0, len(list))
	for _, e := range list {
		cp := *e
		hits = append(hits, &ScoredEntry{Entry: &cp, Score: cosine(vector, e.Vector)})
	}
	sortHits(hits)

	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteDocument implements VectorStore.
func (s *MemoryStore) DeleteDocument(ctx context.Context, namespace, documentID, keepGeneration string) error {
	return s.deleteWhere(ctx, namespace, func(e *Entry) bool {
		return e.DocumentID == documentID && (keepGeneration == "" || e.Generation != keepGeneration)
	})
}

func (s *MemoryStore) deleteWhere(ctx context.Context, namespace string, drop func(*Entry) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreUnreachable
	}

	list := s.entries[namespace]
	kept := list[:0]
	for _, e := range list {
		if drop(e) {
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped entries can be collected.
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	if len(kept) == 0 {
		delete(s.entries, namespace)
	} else {
		s.entries[namespace] = kept
	}
	return nil
}

// DeleteGeneration implements VectorStore.
func (s *MemoryStore) DeleteGeneration(ctx context.Context, namespace, documentID, generation string) error {
	return s.deleteWhere(ctx, namespace, func(e *Entry) bool {
		return e.DocumentID == documentID && e.Generation == generation
	})
}

// HasEntries implements VectorStore.
func (s *MemoryStore) HasEntries(ctx context.Context, namespace string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreUnreachable
	}
	return len(s.entries[namespace]) > 0, nil
}

// Health implements VectorStore.
func (s *MemoryStore) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreUnreachable
	}
	return ctx.Err()
}

// Close marks the store unusable. Subsequent calls fail with ErrStoreUnreachable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// Len returns the number of entries in namespace.
func (s *MemoryStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[namespace])
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
