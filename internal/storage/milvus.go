package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusOptions configures the Milvus client.
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Dimension  int
}

// MilvusStorage stores entries in a single Milvus collection with an HNSW cosine index.
type MilvusStorage struct {
	client     client.Client
	collection string
	dimension  int
}

var milvusOutputFields = []string{"namespace", "document_id", "generation", "chunk_index", "seq", "text"}

// NewMilvusStorage connects to Milvus, retrying the health check on startup.
func NewMilvusStorage(ctx context.Context, opts MilvusOptions) (*MilvusStorage, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:  opts.Address,
		DBName:   opts.Database,
		Username: opts.Username,
		Password: opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create milvus client: %v", ErrStoreUnreachable, err)
	}

	s := &MilvusStorage{
		client:     c,
		collection: opts.Collection,
		dimension:  opts.Dimension,
	}
	if err := healthCheckWithRetry(ctx, s.Health); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	return s, nil
}

// EnsureCollection creates and loads the collection if it does not exist yet.
func (s *MilvusStorage) EnsureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Description:    "pdfchat chunk embeddings",
			Fields: []*entity.Field{
				varcharField("id", 64).WithIsPrimaryKey(true),
				varcharField("namespace", 256),
				varcharField("document_id", 256),
				varcharField("generation", 64),
				{Name: "chunk_index", DataType: entity.FieldTypeInt64},
				{Name: "seq", DataType: entity.FieldTypeInt64},
				varcharField("text", 65535),
				{
					Name:     "vector",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						entity.TypeParamDim: strconv.Itoa(s.dimension),
					},
				},
			},
		}
		if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		index, err := entity.NewIndexHNSW(entity.COSINE, 8, 64)
		if err != nil {
			return fmt.Errorf("failed to build index: %w", err)
		}
		if err := s.client.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.client.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func varcharField(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			entity.TypeParamMaxLength: strconv.Itoa(maxLen),
		},
	}
}

// Upsert inserts entries column by column.
func (s *MilvusStorage) Upsert(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(entries, s.dimension); err != nil {
		return err
	}

	n := len(entries)
	ids := make([]string, n)
	namespaces := make([]string, n)
	docIDs := make([]string, n)
	gens := make([]string, n)
	indexes := make([]int64, n)
	seqs := make([]int64, n)
	texts := make([]string, n)
	vectors := make([][]float32, n)
	for i, e := range entries {
		ids[i] = e.ID
		namespaces[i] = e.Namespace
		docIDs[i] = e.DocumentID
		gens[i] = e.Generation
		indexes[i] = int64(e.ChunkIndex)
		seqs[i] = e.Seq
		texts[i] = e.Text
		vectors[i] = e.Vector
	}

	_, err := s.client.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("namespace", namespaces),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnVarChar("generation", gens),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnInt64("seq", seqs),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("vector", s.dimension, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}
	return nil
}

// Search runs an HNSW search restricted to the namespace with strong consistency, so
// acknowledged writes are visible.
func (s *MilvusStorage) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]*ScoredEntry, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if limit <= 0 {
		return []*ScoredEntry{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, limit))
	if err != nil {
		return nil, fmt.Errorf("milvus search params: %w", err)
	}

	results, err := s.client.Search(ctx, s.collection, nil,
		milvusEq("namespace", namespace),
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		limit,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return []*ScoredEntry{}, nil
	}
	result := results[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var ids []string
	if col, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = col.Data()
	}
	cols := milvusColumns(result.Fields)

	hits := make([]*ScoredEntry, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		e := cols.entry(i)
		if i < len(ids) {
			e.ID = ids[i]
		}
		score := 0.0
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		hits = append(hits, &ScoredEntry{Entry: e, Score: score})
	}
	sortHits(hits)
	return hits, nil
}

// DeleteDocument deletes by boolean expression.
func (s *MilvusStorage) DeleteDocument(ctx context.Context, namespace, documentID, keepGeneration string) error {
	expr := milvusEq("namespace", namespace) + " && " + milvusEq("document_id", documentID)
	if keepGeneration != "" {
		expr += " && generation != " + strconv.Quote(keepGeneration)
	}
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

// DeleteGeneration implements VectorStore.
func (s *MilvusStorage) DeleteGeneration(ctx context.Context, namespace, documentID, generation string) error {
	expr := milvusEq("namespace", namespace) + " && " + milvusEq("document_id", documentID) +
		" && " + milvusEq("generation", generation)
	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

// HasEntries queries for a single id in the namespace.
func (s *MilvusStorage) HasEntries(ctx context.Context, namespace string) (bool, error) {
	rs, err := s.client.Query(ctx, s.collection, nil, milvusEq("namespace", namespace), []string{"id"},
		client.WithLimit(1),
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return false, fmt.Errorf("milvus query failed: %w", err)
	}
	for _, col := range rs {
		if col.Len() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Health lists collections to confirm the server answers.
func (s *MilvusStorage) Health(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the Milvus connection.
func (s *MilvusStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func milvusEq(field, value string) string {
	return field + " == " + strconv.Quote(value)
}

// milvusResultColumns holds typed output columns of a search result.
type milvusResultColumns struct {
	strings map[string][]string
	ints    map[string][]int64
}

func milvusColumns(fields client.ResultSet) milvusResultColumns {
	cols := milvusResultColumns{strings: map[string][]string{}, ints: map[string][]int64{}}
	for _, f := range fields {
		switch c := f.(type) {
		case *entity.ColumnVarChar:
			cols.strings[c.Name()] = c.Data()
		case *entity.ColumnInt64:
			cols.ints[c.Name()] = c.Data()
		}
	}
	return cols
}

func (c milvusResultColumns) str(name string, i int) string {
	if v := c.strings[name]; i < len(v) {
		return v[i]
	}
	return ""
}

func (c milvusResultColumns) i64(name string, i int) int64 {
	if v := c.ints[name]; i < len(v) {
		return v[i]
	}
	return 0
}

func (c milvusResultColumns) entry(i int) *Entry {
	return &Entry{
		Namespace:  c.str("namespace", i),
		DocumentID: c.str("document_id", i),
		Generation: c.str("generation", i),
		ChunkIndex: int(c.i64("chunk_index", i)),
		Seq:        c.i64("seq", i),
		Text:       c.str("text", i),
	}
}
