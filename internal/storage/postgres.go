package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage stores entries in a pgvector table.
type PostgresStorage struct {
	pool      *pgxpool.Pool
	table     string // sanitized identifier
	dimension int
}

// NewPostgresStorage connects to PostgreSQL, retrying the ping on startup.
func NewPostgresStorage(ctx context.Context, connStr, table string, dimension int) (*PostgresStorage, error) {
	if table == "" {
		table = DefaultCollection
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStorage{
		pool:      pool,
		table:     pgx.Identifier{table}.Sanitize(),
		dimension: dimension,
	}
	if err := healthCheckWithRetry(ctx, s.Health); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	return s, nil
}

// EnsureSchema creates the vector extension, the table and its indexes.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				namespace TEXT NOT NULL,
				document_id TEXT NOT NULL,
				generation TEXT NOT NULL,
				chunk_index INTEGER NOT NULL,
				seq BIGINT NOT NULL,
				text TEXT NOT NULL,
				embedding vector(%d) NOT NULL
			)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (namespace, document_id)`,
			pgx.Identifier{strings.Trim(s.table, `"`) + "_doc_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
	}
	return nil
}

// Upsert writes all entries in one batch.
func (s *PostgresStorage) Upsert(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateEntries(entries, s.dimension); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, document_id, generation, chunk_index, seq, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
		ON CONFLICT (id) DO UPDATE SET
			generation = EXCLUDED.generation,
			chunk_index = EXCLUDED.chunk_index,
			seq = EXCLUDED.seq,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ID, e.Namespace, e.DocumentID, e.Generation, e.ChunkIndex, e.Seq, e.Text,
			vectorLiteral(e.Vector))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert entries: %w", err)
	}
	return nil
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (s *PostgresStorage) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]*ScoredEntry, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if limit <= 0 {
		return []*ScoredEntry{}, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, namespace, document_id, generation, chunk_index, seq, text,
		       1 - (embedding <=> $2::vector) AS score
		FROM %s
		WHERE namespace = $1
		ORDER BY embedding <=> $2::vector, seq
		LIMIT $3`, s.table), namespace, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	hits := []*ScoredEntry{}
	for rows.Next() {
		e := &Entry{}
		var score float64
		if err := rows.Scan(&e.ID, &e.Namespace, &e.DocumentID, &e.Generation, &e.ChunkIndex, &e.Seq, &e.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, &ScoredEntry{Entry: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	sortHits(hits)
	return hits, nil
}

// DeleteDocument implements VectorStore.
func (s *PostgresStorage) DeleteDocument(ctx context.Context, namespace, documentID, keepGeneration string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE namespace = $1 AND document_id = $2 AND ($3 = '' OR generation <> $3)`, s.table),
		namespace, documentID, keepGeneration)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// DeleteGeneration implements VectorStore.
func (s *PostgresStorage) DeleteGeneration(ctx context.Context, namespace, documentID, generation string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE namespace = $1 AND document_id = $2 AND generation = $3`, s.table),
		namespace, documentID, generation)
	if err != nil {
		return fmt.Errorf("failed to delete generation %s of %s: %w", generation, documentID, err)
	}
	return nil
}

// HasEntries implements VectorStore.
func (s *PostgresStorage) HasEntries(ctx context.Context, namespace string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE namespace = $1)`, s.table),
		namespace).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check namespace: %w", err)
	}
	return exists, nil
}

// Health pings the database.
func (s *PostgresStorage) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral formats v in pgvector's text representation, e.g. "[1,0.5,-2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
