// Package storage persists embedded chunks and answers nearest-neighbour queries.
package storage

import (
	"context"
	"fmt"
	"sort"
)

// VectorStore is the persistence contract behind the embedding index. Implementations must
// make an acknowledged Upsert visible to subsequent Search and HasEntries calls.
type VectorStore interface {
	// Upsert writes entries. All vectors must match the store's dimension.
	Upsert(ctx context.Context, entries []*Entry) error

	// Search returns up to limit entries of namespace ordered by descending similarity.
	// Entries of every generation are returned; callers filter stale ones.
	Search(ctx context.Context, namespace string, vector []float32, limit int) ([]*ScoredEntry, error)

	// DeleteDocument removes the document's entries in namespace. A non-empty keepGeneration
	// spares entries written by that generation.
	DeleteDocument(ctx context.Context, namespace, documentID, keepGeneration string) error

	// DeleteGeneration removes only the document's entries written by generation.
	DeleteGeneration(ctx context.Context, namespace, documentID, generation string) error

	// HasEntries reports whether namespace holds at least one entry.
	HasEntries(ctx context.Context, namespace string) (bool, error)

	// Health performs a single connectivity check.
	Health(ctx context.Context) error

	Close() error
}

var (
	_ VectorStore = (*MemoryStore)(nil)
	_ VectorStore = (*QdrantStorage)(nil)
	_ VectorStore = (*MilvusStorage)(nil)
	_ VectorStore = (*PostgresStorage)(nil)
)

// validateEntries checks entry identity fields and vector dimensions before a write.
func validateEntries(entries []*Entry, dimension int) error {
	for i, e := range entries {
		if e == nil || e.ID == "" || e.Namespace == "" || e.DocumentID == "" {
			return fmt.Errorf("%w: entry %d is missing id, namespace or document id", ErrInvalidEntry, i)
		}
		if len(e.Vector) != dimension {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), dimension)
		}
	}
	return nil
}

// sortHits orders hits by descending score, then by ascending insertion sequence.
func sortHits(hits []*ScoredEntry) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.Seq < hits[j].Entry.Seq
	})
}
