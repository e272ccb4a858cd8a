package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/bull/pdfchat/internal/domain"
)

// statusClientClosedRequest is the nginx convention for a request the client abandoned.
const statusClientClosedRequest = 499

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
}

// StatusFor maps an error kind onto an HTTP status code.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidArgument, domain.KindInvalidChunkConfig:
		return http.StatusBadRequest
	case domain.KindIndexNotReady:
		return http.StatusConflict
	case domain.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case domain.KindExtractionFailure:
		return http.StatusUnprocessableEntity
	case domain.KindGenerationFailure:
		return http.StatusBadGateway
	case domain.KindIndexUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindProviderTimeout:
		return http.StatusGatewayTimeout
	case domain.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, StatusFor(kind), ErrorResponse{Kind: kind, Message: err.Error()})
}
