package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"unsupported", fmt.Errorf("%w: text/plain", ErrUnsupportedFormat), KindUnsupportedFormat},
		{"extraction", fmt.Errorf("%w: bad xref", ErrExtractionFailure), KindExtractionFailure},
		{"not ready", ErrIndexNotReady, KindIndexNotReady},
		{"unavailable", fmt.Errorf("%w: qdrant down", ErrIndexUnavailable), KindIndexUnavailable},
		{"timeout wins over generation", fmt.Errorf("%w: %w", ErrGenerationFailure, ErrProviderTimeout), KindProviderTimeout},
		{"generation", fmt.Errorf("%w: 500", ErrGenerationFailure), KindGenerationFailure},
		{"canceled", context.Canceled, KindCanceled},
		{"bare deadline", context.DeadlineExceeded, KindProviderTimeout},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestNormalizeMediaType(t *testing.T) {
	assert.Equal(t, MediaTypePDF, NormalizeMediaType("application/pdf"))
	assert.Equal(t, MediaTypePDF, NormalizeMediaType("Application/PDF; charset=binary"))
	assert.Equal(t, "text/plain", NormalizeMediaType(" text/plain "))
	assert.Equal(t, "", NormalizeMediaType(""))
}

func TestNormalizeNamespace(t *testing.T) {
	assert.Equal(t, DefaultNamespace, NormalizeNamespace(""))
	assert.Equal(t, DefaultNamespace, NormalizeNamespace("   "))
	assert.Equal(t, "acme", NormalizeNamespace(" acme "))
}
