package storage

// Entry is one embedded chunk in the vector store. Entries are insert-only; a document is
// replaced by writing a new generation and deleting the old one.
type Entry struct {
	ID         string    // UUID
	Namespace  string    // Tenant the entry belongs to
	DocumentID string    // Owning document
	Generation string    // Store operation that wrote the entry
	ChunkIndex int       // Position in document (0, 1, 2...)
	Seq        int64     // Global insertion order, breaks score ties
	Text       string    // Chunk text
	Vector     []float32 // Embedding
}

// ScoredEntry is a search hit. Higher scores are more similar.
type ScoredEntry struct {
	Entry *Entry
	Score float64
}

// DefaultCollection is the collection (or table) holding every namespace's entries.
const DefaultCollection = "pdfchat_chunks"
