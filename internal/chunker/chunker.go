// Package chunker splits extracted document text into overlapping fixed-size chunks.
package chunker

import (
	"fmt"

	"github.com/bull/pdfchat/internal/domain"
)

const (
	// DefaultSize is the maximum chunk length in runes.
	DefaultSize = 200
	// DefaultOverlap is the number of runes shared by consecutive chunks.
	DefaultOverlap = 50
	// DefaultSeparator is the preferred split point.
	DefaultSeparator = "\n"
)

// Options configures a Chunker. Sizes are measured in runes.
type Options struct {
	Size      int
	Overlap   int
	Separator string
}

// Chunker splits text at separator boundaries while keeping every chunk within Size runes.
type Chunker struct {
	size      int
	overlap   int
	separator []rune
}

// New validates opts and returns a Chunker. An empty Separator uses DefaultSeparator.
func New(opts Options) (*Chunker, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", domain.ErrInvalidChunkConfig, opts.Size)
	}
	if opts.Overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", domain.ErrInvalidChunkConfig, opts.Overlap)
	}
	if opts.Overlap >= opts.Size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than size %d",
			domain.ErrInvalidChunkConfig, opts.Overlap, opts.Size)
	}
	sep := opts.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	return &Chunker{
		size:      opts.Size,
		overlap:   opts.Overlap,
		separator: []rune(sep),
	}, nil
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap between consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into ordered chunks owned by docID.
//
// Each chunk ends right after the last separator that fits in the size budget; when no
// separator fits, the chunk is cut at exactly Size runes. The next chunk starts Overlap
// runes before the previous end, so dropping the first Overlap runes of every chunk but
// the first and concatenating gives back the original text.
func (c *Chunker) Split(docID, text string) []domain.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	boundaries := c.boundaries(runes)

	var chunks []domain.Chunk
	start := 0
	next := 0 // first boundary not yet behind start
	for {
		end := len(runes)
		if end-start > c.size {
			limit := start + c.size
			end = limit
			for next < len(boundaries) && boundaries[next] <= start+c.overlap {
				next++
			}
			// Latest boundary inside (start+overlap, limit].
			for i := next; i < len(boundaries) && boundaries[i] <= limit; i++ {
				end = boundaries[i]
			}
		}

		chunks = append(chunks, domain.Chunk{
			DocumentID: docID,
			Index:      len(chunks),
			Offset:     start,
			Text:       string(runes[start:end]),
		})

		if end == len(runes) {
			return chunks
		}
		start = end - c.overlap
	}
}

// boundaries returns the rune positions directly after each separator occurrence.
func (c *Chunker) boundaries(runes []rune) []int {
	var out []int
	n := len(c.separator)
	for i := 0; i+n <= len(runes); i++ {
		if runesEqual(runes[i:i+n], c.separator) {
			out = append(out, i+n)
			i += n - 1
		}
	}
	return out
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
