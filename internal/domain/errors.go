package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by every component. Callers branch on these with errors.Is;
// components wrap them with fmt.Errorf("%w: ...") to attach the cause.
var (
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrExtractionFailure  = errors.New("text extraction failed")
	ErrInvalidChunkConfig = errors.New("invalid chunk configuration")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrIndexUnavailable   = errors.New("index unavailable")
	ErrIndexNotReady      = errors.New("index not ready: ingest documents first")
	ErrGenerationFailure  = errors.New("answer generation failed")
	ErrProviderTimeout    = errors.New("provider timeout")
)

// Kind is a stable, user-displayable name for an error in the taxonomy.
type Kind string

const (
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindExtractionFailure  Kind = "extraction_failure"
	KindInvalidChunkConfig Kind = "invalid_chunk_config"
	KindInvalidArgument    Kind = "invalid_argument"
	KindIndexUnavailable   Kind = "index_unavailable"
	KindIndexNotReady      Kind = "index_not_ready"
	KindGenerationFailure  Kind = "generation_failure"
	KindProviderTimeout    Kind = "provider_timeout"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// Ordered so the most specific cause wins: a timeout during generation reports
// provider_timeout, not generation_failure.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrProviderTimeout, KindProviderTimeout},
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrExtractionFailure, KindExtractionFailure},
	{ErrInvalidChunkConfig, KindInvalidChunkConfig},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrIndexNotReady, KindIndexNotReady},
	{ErrIndexUnavailable, KindIndexUnavailable},
	{ErrGenerationFailure, KindGenerationFailure},
}

// KindOf maps err onto the taxonomy. Unknown errors report KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderTimeout
	}
	return KindInternal
}
