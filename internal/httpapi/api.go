// Package httpapi exposes ingestion and question answering as a JSON REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/bull/pdfchat/internal/chat"
	"github.com/bull/pdfchat/internal/domain"
	"github.com/bull/pdfchat/internal/index"
	"github.com/bull/pdfchat/internal/ingest"
)

// DefaultMaxUploadBytes caps a multipart upload request.
const DefaultMaxUploadBytes = 32 << 20

// maxMemoryBytes is how much of a multipart body is buffered before spilling to disk.
const maxMemoryBytes = 8 << 20

// Config holds API dependencies.
type Config struct {
	Composer       *chat.Composer
	Pipeline       *ingest.Pipeline
	Index          *index.Index
	Metrics        *Metrics
	Logger         *zap.Logger
	MaxUploadBytes int64
}

// API serves the /v1 routes.
type API struct {
	composer       *chat.Composer
	pipeline       *ingest.Pipeline
	index          *index.Index
	metrics        *Metrics
	logger         *zap.Logger
	validate       *validator.Validate
	maxUploadBytes int64
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question  string `json:"question" validate:"required,max=8000"`
	Namespace string `json:"namespace,omitempty" validate:"omitempty,max=128"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// AskResponse is the body of a successful POST /v1/ask.
type AskResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Source is one retrieved chunk an answer was grounded on.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// UploadResponse is the body of POST /v1/documents.
type UploadResponse struct {
	Documents []ingest.Status `json:"documents"`
}

// New creates the API. Metrics and Logger are optional.
func New(cfg *Config) *API {
	a := &API{
		composer:       cfg.Composer,
		pipeline:       cfg.Pipeline,
		index:          cfg.Index,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		validate:       validator.New(),
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if a.metrics == nil {
		a.metrics = NewMetrics()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = DefaultMaxUploadBytes
	}
	return a
}

// Register mounts the routes and /metrics on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/documents", a.metrics.instrument("upload", a.handleUpload))
	mux.HandleFunc("GET /v1/documents/{id}", a.metrics.instrument("status", a.handleStatus))
	mux.HandleFunc("DELETE /v1/documents/{id}", a.metrics.instrument("remove", a.handleRemove))
	mux.HandleFunc("POST /v1/ask", a.metrics.instrument("ask", a.handleAsk))
	mux.Handle("GET /metrics", a.metrics.Handler())
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: request body: %v", domain.ErrInvalidArgument, err))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}

	answer, err := a.composer.AnswerWithSources(r.Context(), chat.Question{
		Namespace: req.Namespace,
		SessionID: req.SessionID,
		Text:      req.Question,
	})
	if err != nil {
		a.logger.Warn("ask failed", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
		writeError(w, err)
		return
	}

	resp := AskResponse{Answer: answer.Text, Sources: make([]Source, len(answer.Sources))}
	for i, src := range answer.Sources {
		resp.Sources[i] = Source{
			DocumentID: src.DocumentID,
			ChunkIndex: src.ChunkIndex,
			Score:      src.Score,
			Text:       src.Text,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload accepts multipart field "files". Form values: namespace, id (single
// file only, replaces that document) and wait=true to ingest synchronously.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		writeError(w, fmt.Errorf("%w: multipart form: %v", domain.ErrInvalidArgument, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, fmt.Errorf("%w: no files in field \"files\"", domain.ErrInvalidArgument))
		return
	}
	id := r.FormValue("id")
	if id != "" && len(files) != 1 {
		writeError(w, fmt.Errorf("%w: id requires exactly one file", domain.ErrInvalidArgument))
		return
	}
	wait := false
	if v := r.FormValue("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: wait: %v", domain.ErrInvalidArgument, err))
			return
		}
		wait = b
	}

	uploads := make([]ingest.Upload, 0, len(files))
	for _, fh := range files {
		u, err := readUpload(fh)
		if err != nil {
			writeError(w, err)
			return
		}
		u.ID = id
		uploads = append(uploads, u)
	}

	namespace := r.FormValue("namespace")
	var statuses []ingest.Status
	if wait {
		statuses = a.pipeline.Ingest(r.Context(), namespace, uploads)
	} else {
		var err error
		statuses, err = a.pipeline.Submit(r.Context(), namespace, uploads)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	for _, st := range statuses {
		a.metrics.ingested.WithLabelValues(string(st.State)).Inc()
	}

	code := http.StatusAccepted
	if wait {
		code = http.StatusOK
	}
	writeJSON(w, code, UploadResponse{Documents: statuses})
}

// readUpload loads one file part. A missing or generic content type is sniffed.
func readUpload(fh *multipart.FileHeader) (ingest.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("%w: open %s: %v", domain.ErrInvalidArgument, fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return ingest.Upload{}, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, fh.Filename, err)
	}

	mediaType := domain.NormalizeMediaType(fh.Header.Get("Content-Type"))
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = domain.NormalizeMediaType(mimetype.Detect(content).String())
	}
	return ingest.Upload{Name: fh.Filename, Content: content, MediaType: mediaType}, nil
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := a.pipeline.Status(r.URL.Query().Get("namespace"), r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Kind: domain.KindInvalidArgument, Message: "unknown document id"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	err := a.index.Remove(r.Context(), r.URL.Query().Get("namespace"), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidArgument) {
			a.logger.Error("remove failed", zap.String("document_id", r.PathValue("id")), zap.Error(err))
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
