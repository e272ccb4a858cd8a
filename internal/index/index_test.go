package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/storage"
	"github.com/bull/pdfchat/internal/testutil/fakes"
)

const dim = 64

// flakyStore wraps a MemoryStore and injects failures.
type flakyStore struct {
	*storage.MemoryStore

	mu           sync.Mutex
	failUpsert   bool
	partialWrite bool // write the first entry before failing
	failDeleteGn bool
}

func (s *flakyStore) Upsert(ctx context.Context, entries []*storage.Entry) error {
	s.mu.Lock()
	fail, partial := s.failUpsert, s.partialWrite
	s.mu.Unlock()
	if fail {
		if partial && len(entries) > 0 {
			_ = s.MemoryStore.Upsert(ctx, entries[:1])
		}
		return errors.New("disk full")
	}
	return s.MemoryStore.Upsert(ctx, entries)
}

func (s *flakyStore) DeleteGeneration(ctx context.Context, ns, docID, gen string) error {
	s.mu.Lock()
	fail := s.failDeleteGn
	s.mu.Unlock()
	if fail {
		return errors.New("delete failed")
	}
	return s.MemoryStore.DeleteGeneration(ctx, ns, docID, gen)
}

func newStore(t *testing.T) *flakyStore {
	t.Helper()
	m, err := storage.NewMemoryStore(dim)
	require.NoError(t, err)
	return &flakyStore{MemoryStore: m}
}

func chunks(docID string, texts ...string) []domain.Chunk {
	out := make([]domain.Chunk, len(texts))
	for i, t := range texts {
		out[i] = domain.Chunk{DocumentID: docID, Index: i, Text: t}
	}
	return out
}

func texts(results []domain.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Text
	}
	return out
}

func TestIndex_StoreAndQuery(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	n, err := x.Store(ctx, "team", "doc-1", chunks("doc-1",
		"The launch date is March 5.",
		"Lunch is served at noon in the cafeteria.",
		"Budget review happens quarterly.",
	))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := x.Query(ctx, "team", "When is the launch date?", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "The launch date is March 5.", results[0].Text)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestIndex_QueryEmptyNamespace(t *testing.T) {
	emb := fakes.NewEmbedder(dim)
	x := New(emb, newStore(t), Options{})

	results, err := x.Query(context.Background(), "nobody", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, emb.Calls(), "no embedding call for an empty namespace")
}

func TestIndex_QueryInvalidTopK(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})

	for _, k := range []int{0, -1} {
		_, err := x.Query(context.Background(), "", "q", k)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, "top_k=%d", k)
	}
}

func TestIndex_ResultLengthBoundedByTopK(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "doc", chunks("doc", "a one", "b two", "c three"))
	require.NoError(t, err)

	results, err := x.Query(ctx, "", "one", 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = x.Query(ctx, "", "one", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndex_ReplaceDocument(t *testing.T) {
	store := newStore(t)
	x := New(fakes.NewEmbedder(dim), store, Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "doc", chunks("doc", "old alpha", "old beta", "old gamma"))
	require.NoError(t, err)
	_, err = x.Store(ctx, "", "doc", chunks("doc", "new alpha", "new beta"))
	require.NoError(t, err)

	results, err := x.Query(ctx, "", "alpha beta gamma", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"new alpha", "new beta"}, texts(results))
	assert.Equal(t, 2, store.Len(domain.DefaultNamespace), "old entries deleted")
}

func TestIndex_TiesBreakByInsertionOrder(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		_, err := x.Store(ctx, "", id, chunks(id, "identical text"))
		require.NoError(t, err)
	}

	results, err := x.Query(ctx, "", "identical text", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].DocumentID)
	assert.Equal(t, "second", results[1].DocumentID)
	assert.Equal(t, "third", results[2].DocumentID)
}

func TestIndex_NamespacesAreIsolated(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "tenant-a", "doc", chunks("doc", "secret plans for tenant a"))
	require.NoError(t, err)

	results, err := x.Query(ctx, "tenant-b", "secret plans", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	ready, err := x.Ready(ctx, "tenant-b")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIndex_ReadyAfterStore(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	ready, err := x.Ready(ctx, "")
	require.NoError(t, err)
	assert.False(t, ready)

	// A document with no text stores nothing and leaves the namespace unready.
	n, err := x.Store(ctx, "", "blank", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	ready, err = x.Ready(ctx, "")
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = x.Store(ctx, "", "doc", chunks("doc", "content"))
	require.NoError(t, err)
	ready, err = x.Ready(ctx, "")
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestIndex_EmptyRestoreClearsReadiness(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "only", chunks("only", "the single document"))
	require.NoError(t, err)
	ready, err := x.Ready(ctx, "")
	require.NoError(t, err)
	require.True(t, ready)

	n, err := x.Store(ctx, "", "only", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	ready, err = x.Ready(ctx, "")
	require.NoError(t, err)
	assert.False(t, ready)
	results, err := x.Query(ctx, "", "document", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_EmptyRestoreKeepsOtherDocumentsReady(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "a", chunks("a", "first document"))
	require.NoError(t, err)
	_, err = x.Store(ctx, "", "b", chunks("b", "second document"))
	require.NoError(t, err)

	_, err = x.Store(ctx, "", "a", nil)
	require.NoError(t, err)

	ready, err := x.Ready(ctx, "")
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestIndex_SurvivesRestart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := New(fakes.NewEmbedder(dim), store, Options{})
	_, err := first.Store(ctx, "", "doc", chunks("doc", "persisted launch notes"))
	require.NoError(t, err)

	second := New(fakes.NewEmbedder(dim), store, Options{})
	ready, err := second.Ready(ctx, "")
	require.NoError(t, err)
	assert.True(t, ready)

	results, err := second.Query(ctx, "", "launch", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted launch notes"}, texts(results))

	// Stores after the restart still order after older entries.
	_, err = second.Store(ctx, "", "doc-2", chunks("doc-2", "persisted launch notes"))
	require.NoError(t, err)
	results, err = second.Query(ctx, "", "persisted launch notes", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc", results[0].DocumentID)
}

func TestIndex_EmbedFailureIsUnavailable(t *testing.T) {
	emb := fakes.NewEmbedder(dim)
	x := New(emb, newStore(t), Options{})
	emb.Fail(errors.New("connection refused"))

	_, err := x.Store(context.Background(), "", "doc", chunks("doc", "text"))
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.Equal(t, domain.KindIndexUnavailable, domain.KindOf(err))
}

func TestIndex_EmbedTimeout(t *testing.T) {
	emb := fakes.NewEmbedder(dim)
	x := New(emb, newStore(t), Options{EmbedTimeout: 20 * time.Millisecond})
	emb.Block(true)

	start := time.Now()
	_, err := x.Store(context.Background(), "", "doc", chunks("doc", "text"))
	assert.ErrorIs(t, err, domain.ErrProviderTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIndex_FailedReplaceKeepsOldVersion(t *testing.T) {
	store := newStore(t)
	x := New(fakes.NewEmbedder(dim), store, Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "doc", chunks("doc", "version one alpha"))
	require.NoError(t, err)

	store.failUpsert, store.partialWrite = true, true
	_, err = x.Store(ctx, "", "doc", chunks("doc", "version two alpha", "version two beta"))
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	results, err := x.Query(ctx, "", "alpha", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"version one alpha"}, texts(results))
	assert.Equal(t, 1, store.Len(domain.DefaultNamespace), "partial generation removed")
}

func TestIndex_FailedFirstStoreStaysHidden(t *testing.T) {
	store := newStore(t)
	x := New(fakes.NewEmbedder(dim), store, Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "other", chunks("other", "unrelated words"))
	require.NoError(t, err)

	store.failUpsert, store.partialWrite, store.failDeleteGn = true, true, true
	_, err = x.Store(ctx, "", "doc", chunks("doc", "half written alpha", "never written"))
	require.Error(t, err)

	// The partial entry could not be deleted but must not be visible.
	assert.Equal(t, 2, store.Len(domain.DefaultNamespace))
	results, err := x.Query(ctx, "", "alpha", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"unrelated words"}, texts(results))
}

func TestIndex_ConcurrentStoresOfSameDocument(t *testing.T) {
	store := newStore(t)
	x := New(fakes.NewEmbedder(dim), store, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			texts := make([]string, i+1)
			for j := range texts {
				texts[j] = fmt.Sprintf("version %d part %d", i, j)
			}
			_, err := x.Store(ctx, "", "doc", chunks("doc", texts...))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	results, err := x.Query(ctx, "", "version part", 20)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, len(results), store.Len(domain.DefaultNamespace), "only one generation remains")

	// Every visible chunk comes from the same version.
	var version int
	_, err = fmt.Sscanf(results[0].Text, "version %d", &version)
	require.NoError(t, err)
	assert.Len(t, results, version+1)
	for _, r := range results {
		assert.Contains(t, r.Text, fmt.Sprintf("version %d ", version))
	}
}

func TestIndex_ConcurrentStoresOfDifferentDocuments(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("doc-%d", i)
			_, err := x.Store(ctx, "", id, chunks(id, "shared words", fmt.Sprintf("unique %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	results, err := x.Query(ctx, "", "shared words", 100)
	require.NoError(t, err)
	assert.Len(t, results, 16)
}

func TestIndex_Remove(t *testing.T) {
	store := newStore(t)
	x := New(fakes.NewEmbedder(dim), store, Options{})
	ctx := context.Background()

	_, err := x.Store(ctx, "", "keep", chunks("keep", "kept text"))
	require.NoError(t, err)
	_, err = x.Store(ctx, "", "drop", chunks("drop", "dropped text"))
	require.NoError(t, err)

	require.NoError(t, x.Remove(ctx, "", "drop"))

	results, err := x.Query(ctx, "", "text", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept text"}, texts(results))

	require.NoError(t, x.Remove(ctx, "", "keep"))
	ready, err := x.Ready(ctx, "")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestIndex_RequiresDocumentID(t *testing.T) {
	x := New(fakes.NewEmbedder(dim), newStore(t), Options{})

	_, err := x.Store(context.Background(), "", "", chunks("", "x"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.ErrorIs(t, x.Remove(context.Background(), "", ""), domain.ErrInvalidArgument)
}

func TestIndex_Health(t *testing.T) {
	store := newStore(t)
	x := New(fakes.NewEmbedder(dim), store, Options{})
	require.NoError(t, x.Health(context.Background()))

	require.NoError(t, store.Close())
	assert.ErrorIs(t, x.Health(context.Background()), domain.ErrIndexUnavailable)
}

func TestKeyLock_SerializesSameKey(t *testing.T) {
	var k keyLock
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Empty(t, k.locks, "lock entries are released")
}
