// Package extract converts raw document bytes into plain text.
package extract

import (
	"context"
	"fmt"

	"github.com/bull/pdfchat/internal/domain"
)

// Format extracts text from documents of a single media type.
type Format interface {
	MediaType() string
	Extract(ctx context.Context, data []byte) (string, error)
}

// Extractor routes documents to the Format registered for their declared media type.
type Extractor struct {
	formats map[string]Format
}

// New creates an Extractor for the given formats. With no formats, PDF is registered.
func New(formats ...Format) *Extractor {
	if len(formats) == 0 {
		formats = []Format{NewPDF()}
	}
	e := &Extractor{formats: make(map[string]Format, len(formats))}
	for _, f := range formats {
		e.formats[domain.NormalizeMediaType(f.MediaType())] = f
	}
	return e
}

// Supports reports whether mediaType has a registered format.
func (e *Extractor) Supports(mediaType string) bool {
	_, ok := e.formats[domain.NormalizeMediaType(mediaType)]
	return ok
}

// Extract returns the plain text of data. Unsupported media types fail with
// domain.ErrUnsupportedFormat before any parsing is attempted.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	f, ok := e.formats[domain.NormalizeMediaType(mediaType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, mediaType)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Extract(ctx, data)
}
