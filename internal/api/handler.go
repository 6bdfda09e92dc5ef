// Package api exposes scoring and selection over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zombar/newsranker/internal/database"
	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/provider"
	"github.com/zombar/newsranker/internal/queue"
	"github.com/zombar/newsranker/internal/scorer"
	"github.com/zombar/newsranker/internal/selection"
	"github.com/zombar/newsranker/internal/selector"
	"github.com/zombar/newsranker/internal/tracing"
	"github.com/zombar/newsranker/pkg/logging"
)

// maxBatchSize bounds POST /api/score/batch
const maxBatchSize = 100

// Scorer scores documents synchronously
type Scorer interface {
	Score(ctx context.Context, doc models.Document) (*scorer.Outcome, error)
	BatchScore(ctx context.Context, docs []models.Document, skipErrors bool, opts ...scorer.BatchOption) (*scorer.BatchResult, error)
}

// Store is the persistence used by the API
type Store interface {
	SaveDocument(ctx context.Context, doc models.Document) error
	SaveScoring(ctx context.Context, sd *models.ScoredDocument) (int, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetLatestScoring(ctx context.Context, documentID string) (*models.ScoredDocument, error)
	GetSelectionRun(ctx context.Context, id string) (*database.SelectionRun, error)
	Ping(ctx context.Context) error
}

// Enqueuer queues documents for asynchronous scoring
type Enqueuer interface {
	EnqueueScoreDocument(ctx context.Context, doc models.Document) (string, error)
}

// SelectionRunner runs and records a selection
type SelectionRunner interface {
	Run(ctx context.Context, req selection.Request) (*selection.Result, error)
}

// Config holds the handler's dependencies. Queue may be nil, in which case
// POST /api/documents answers 503.
type Config struct {
	Scorer        Scorer
	Store         Store
	Queue         Enqueuer
	Selection     SelectionRunner
	DefaultParams selector.Params
	DefaultWindow time.Duration
	CORSOrigins   []string
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// Handler handles HTTP requests
type Handler struct {
	cfg    Config
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates the API handler with CORS support and metrics
func NewHandler(cfg Config) http.Handler {
	h := newHandler(cfg)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(h.mux)
}

func newHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{cfg: cfg, logger: cfg.Logger, mux: http.NewServeMux()}
	h.setupRoutes()
	return h
}

// setupRoutes configures all API routes
func (h *Handler) setupRoutes() {
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("POST /api/score", h.handleScore)
	h.mux.HandleFunc("POST /api/score/batch", h.handleBatchScore)
	h.mux.HandleFunc("POST /api/documents", h.handleEnqueue)
	h.mux.HandleFunc("GET /api/documents/{id}", h.handleGetDocument)
	h.mux.HandleFunc("POST /api/select", h.handleSelect)
	h.mux.HandleFunc("GET /api/selections/{id}", h.handleGetSelection)
}

// handleHealth reports liveness and database reachability
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := h.cfg.Store.Ping(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}, code)
}

// documentRequest is the request body for a single document
type documentRequest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

func (d documentRequest) document() (models.Document, error) {
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Body) == "" {
		return models.Document{}, errors.New("title or body is required")
	}
	if strings.TrimSpace(d.Source) == "" {
		return models.Document{}, errors.New("source is required")
	}
	doc := models.Document{
		ID:          d.ID,
		Title:       d.Title,
		Body:        d.Body,
		Source:      d.Source,
		PublishedAt: d.PublishedAt,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.PublishedAt.IsZero() {
		doc.PublishedAt = time.Now().UTC()
	}
	return doc, nil
}

// handleScore scores one document synchronously and stores the result
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	doc, err := req.document()
	if err != nil {
		h.respondError(w, r, err.Error(), http.StatusBadRequest, err)
		return
	}

	tracing.SetSpanAttributes(r.Context(),
		attribute.String("document.id", doc.ID),
		attribute.Int("body.length", len(doc.Body)))

	outcome, err := h.cfg.Scorer.Score(r.Context(), doc)
	if err != nil {
		h.respondError(w, r, fmt.Sprintf("Scoring failed: %v", err), statusFor(err), err)
		return
	}

	sd, err := h.persist(r.Context(), outcome)
	if err != nil {
		h.respondError(w, r, "Failed to save scoring", http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, sd, http.StatusOK)
}

// handleBatchScore scores documents one at a time. Per-item failures are
// recorded and the batch continues unless ?skip_errors=false is given, in
// which case it stops at the first one.
func (h *Handler) handleBatchScore(w http.ResponseWriter, r *http.Request) {
	skipErrors := true
	if v := r.URL.Query().Get("skip_errors"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, r, "skip_errors must be a boolean", http.StatusBadRequest, err)
			return
		}
		skipErrors = b
	}

	var req struct {
		Documents []documentRequest `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if len(req.Documents) == 0 {
		h.respondError(w, r, "documents must not be empty", http.StatusBadRequest, errors.New("empty batch"))
		return
	}
	if len(req.Documents) > maxBatchSize {
		h.respondError(w, r, fmt.Sprintf("at most %d documents per batch", maxBatchSize), http.StatusRequestEntityTooLarge, errors.New("batch too large"))
		return
	}

	docs := make([]models.Document, len(req.Documents))
	for i, d := range req.Documents {
		doc, err := d.document()
		if err != nil {
			h.respondError(w, r, fmt.Sprintf("documents[%d]: %v", i, err), http.StatusBadRequest, err)
			return
		}
		docs[i] = doc
	}

	res, batchErr := h.cfg.Scorer.BatchScore(r.Context(), docs, skipErrors)
	if res == nil {
		res = &scorer.BatchResult{}
	}

	results := make([]*models.ScoredDocument, 0, len(res.Results))
	for _, outcome := range res.Results {
		sd, err := h.persist(r.Context(), outcome)
		if err != nil {
			h.respondError(w, r, "Failed to save scoring", http.StatusInternalServerError, err)
			return
		}
		results = append(results, sd)
	}

	body := map[string]any{
		"results":   results,
		"failures":  res.Failures,
		"succeeded": len(results),
		"failed":    len(res.Failures),
	}
	if batchErr != nil {
		body["error"] = batchErr.Error()
		h.logger.Warn("batch stopped early", "error", batchErr, "scored", len(results))
		respondJSON(w, body, statusFor(batchErr))
		return
	}
	respondJSON(w, body, http.StatusOK)
}

func (h *Handler) persist(ctx context.Context, outcome *scorer.Outcome) (*models.ScoredDocument, error) {
	sd := outcome.Scored()
	if _, err := h.cfg.Store.SaveScoring(ctx, sd); err != nil {
		return nil, err
	}
	return sd, nil
}

// handleEnqueue stores a document and queues it for scoring
func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Queue == nil {
		h.respondError(w, r, "Queue not configured", http.StatusServiceUnavailable, errors.New("no queue"))
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	doc, err := req.document()
	if err != nil {
		h.respondError(w, r, err.Error(), http.StatusBadRequest, err)
		return
	}

	if err := h.cfg.Store.SaveDocument(r.Context(), doc); err != nil {
		h.respondError(w, r, "Failed to save document", http.StatusInternalServerError, err)
		return
	}

	taskID, err := h.cfg.Queue.EnqueueScoreDocument(r.Context(), doc)
	if err != nil {
		h.respondError(w, r, fmt.Sprintf("Failed to enqueue document: %v", err), statusFor(err), err)
		return
	}

	respondJSON(w, map[string]any{
		"document_id": doc.ID,
		"task_id":     taskID,
		"status":      "queued",
	}, http.StatusAccepted)
}

// handleGetDocument returns the latest scoring of a document, or the bare
// document with status "pending" when it has not been scored yet
func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sd, err := h.cfg.Store.GetLatestScoring(r.Context(), id)
	if err == nil {
		respondJSON(w, map[string]any{"status": "scored", "scoring": sd}, http.StatusOK)
		return
	}
	if !errors.Is(err, database.ErrNotFound) {
		h.respondError(w, r, "Failed to load scoring", http.StatusInternalServerError, err)
		return
	}

	doc, err := h.cfg.Store.GetDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "Document not found", statusFor(err), err)
		return
	}
	respondJSON(w, map[string]any{"status": "pending", "document": doc}, http.StatusOK)
}

// selectRequest overrides the default selection parameters
type selectRequest struct {
	Limit          *int     `json:"limit"`
	MinRawScore    *float64 `json:"min_raw_score"`
	DiversityDecay *float64 `json:"diversity_decay"`
	SinceHours     *float64 `json:"since_hours"`
	Sources        []string `json:"sources"`
}

// handleSelect runs a selection over the persisted pool and records it
func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, r, "Invalid request body", http.StatusBadRequest, err)
		return
	}

	sel := selection.Request{
		Params:  h.cfg.DefaultParams,
		Window:  h.cfg.DefaultWindow,
		Sources: req.Sources,
	}
	if req.Limit != nil {
		sel.Params.Limit = *req.Limit
	}
	if req.MinRawScore != nil {
		sel.Params.MinRawScore = *req.MinRawScore
	}
	if req.DiversityDecay != nil {
		sel.Params.DiversityDecay = *req.DiversityDecay
	}
	if req.SinceHours != nil {
		sel.Window = time.Duration(*req.SinceHours * float64(time.Hour))
	}
	if err := sel.Params.Validate(); err != nil {
		h.respondError(w, r, err.Error(), http.StatusBadRequest, err)
		return
	}

	res, err := h.cfg.Selection.Run(r.Context(), sel)
	if err != nil {
		h.respondError(w, r, "Selection failed", http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, map[string]any{
		"run_id":   res.Run.ID,
		"selected": res.Selected,
		"report":   res.Run.Report,
	}, http.StatusOK)
}

// handleGetSelection returns a stored selection run
func (h *Handler) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	run, err := h.cfg.Store.GetSelectionRun(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, r, "Selection run not found", statusFor(err), err)
		return
	}
	respondJSON(w, run, http.StatusOK)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var (
		vErr     *models.ValidationError
		fErr     *scorer.ResponseFormatError
		pErr     *provider.ProviderError
		chainErr *provider.ChainError
		aggErr   *scorer.AggregateBatchError
	)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrAlreadyQueued):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &vErr) && vErr.Field == "document":
		return http.StatusBadRequest
	case errors.As(err, &vErr), errors.As(err, &fErr), errors.As(err, &aggErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &chainErr), errors.As(err, &pErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError logs err and sends an error response
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, message string, statusCode int, err error) {
	if statusCode >= http.StatusInternalServerError {
		logging.HTTPErrorLogger(h.logger, statusCode, err, r)
	}
	respondJSON(w, map[string]string{"error": message}, statusCode)
}
