package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 4

func testEntry(ns, docID, gen string, idx int, seq int64, vec ...float32) *Entry {
	return &Entry{
		ID:         uuid.New().String(),
		Namespace:  ns,
		DocumentID: docID,
		Generation: gen,
		ChunkIndex: idx,
		Seq:        seq,
		Text:       docID + " chunk",
		Vector:     vec,
	}
}

// runStoreConformance exercises the VectorStore contract against any backend. newStore must
// return a store for testDimension-sized vectors.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) VectorStore) {
	t.Run("search ranks by similarity within namespace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := "ns-" + uuid.New().String()
		other := "ns-" + uuid.New().String()

		require.NoError(t, s.Upsert(ctx, []*Entry{
			testEntry(ns, "doc-a", "g1", 0, 1, 1, 0, 0, 0),
			testEntry(ns, "doc-a", "g1", 1, 2, 0, 1, 0, 0),
			testEntry(ns, "doc-b", "g2", 0, 3, 0.9, 0.1, 0, 0),
			testEntry(other, "doc-c", "g3", 0, 4, 1, 0, 0, 0),
		}))

		hits, err := s.Search(ctx, ns, []float32{1, 0, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "doc-a", hits[0].Entry.DocumentID)
		assert.Equal(t, 0, hits[0].Entry.ChunkIndex)
		assert.Equal(t, "doc-b", hits[1].Entry.DocumentID)
		assert.Equal(t, int64(3), hits[1].Entry.Seq)
		assert.Equal(t, "g2", hits[1].Entry.Generation)
		assert.Equal(t, "doc-b chunk", hits[1].Entry.Text)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}

		limited, err := s.Search(ctx, ns, []float32{1, 0, 0, 0}, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("delete document keeps other generations and documents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := "ns-" + uuid.New().String()

		require.NoError(t, s.Upsert(ctx, []*Entry{
			testEntry(ns, "doc-a", "old", 0, 1, 1, 0, 0, 0),
			testEntry(ns, "doc-a", "new", 0, 2, 0, 1, 0, 0),
			testEntry(ns, "doc-b", "b1", 0, 3, 0, 0, 1, 0),
		}))

		require.NoError(t, s.DeleteDocument(ctx, ns, "doc-a", "new"))
		hits, err := s.Search(ctx, ns, []float32{1, 1, 1, 1}, 10)
		require.NoError(t, err)
		gens := map[string]bool{}
		for _, h := range hits {
			gens[h.Entry.Generation] = true
		}
		assert.Equal(t, map[string]bool{"new": true, "b1": true}, gens)

		require.NoError(t, s.DeleteDocument(ctx, ns, "doc-a", ""))
		hits, err = s.Search(ctx, ns, []float32{1, 1, 1, 1}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "doc-b", hits[0].Entry.DocumentID)
	})

	t.Run("delete generation spares the rest of the document", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := "ns-" + uuid.New().String()

		require.NoError(t, s.Upsert(ctx, []*Entry{
			testEntry(ns, "doc-a", "old", 0, 1, 1, 0, 0, 0),
			testEntry(ns, "doc-a", "partial", 0, 2, 0, 1, 0, 0),
		}))

		require.NoError(t, s.DeleteGeneration(ctx, ns, "doc-a", "partial"))
		hits, err := s.Search(ctx, ns, []float32{1, 1, 1, 1}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "old", hits[0].Entry.Generation)
	})

	t.Run("has entries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := "ns-" + uuid.New().String()

		has, err := s.HasEntries(ctx, ns)
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, s.Upsert(ctx, []*Entry{testEntry(ns, "d", "g", 0, 1, 1, 1, 1, 1)}))
		has, err = s.HasEntries(ctx, ns)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("empty namespace search", func(t *testing.T) {
		s := newStore(t)
		hits, err := s.Search(context.Background(), "ns-"+uuid.New().String(), []float32{1, 0, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("dimension validation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.Upsert(ctx, []*Entry{testEntry("ns", "d", "g", 0, 1, 1, 2)})
		assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong embedding dimension")

		_, err = s.Search(ctx, "ns", []float32{1, 2}, 10)
		assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong query dimension")
	})

	t.Run("health", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Health(context.Background()))
	})
}
