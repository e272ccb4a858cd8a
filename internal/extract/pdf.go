package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/bull/pdfchat/internal/domain"
)

// PDF extracts text page by page using ledongthuc/pdf.
type PDF struct{}

// NewPDF creates a PDF format extractor.
func NewPDF() *PDF { return &PDF{} }

// MediaType implements Format.
func (p *PDF) MediaType() string { return domain.MediaTypePDF }

// Extract concatenates the text of every page in page order. Pages without extractable
// text contribute an empty string. Content that is not a readable PDF fails with
// domain.ErrExtractionFailure.
func (p *PDF) Extract(ctx context.Context, data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", domain.ErrExtractionFailure)
	}
	if mt := mimetype.Detect(data); !mt.Is(domain.MediaTypePDF) {
		return "", fmt.Errorf("%w: content is %s, not a PDF", domain.ErrExtractionFailure, mt.String())
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: malformed PDF: %v", domain.ErrExtractionFailure, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open PDF: %v", domain.ErrExtractionFailure, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", domain.ErrExtractionFailure, i, err)
		}
		b.WriteString(pageText)
	}

	return b.String(), nil
}
