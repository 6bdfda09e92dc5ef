package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/provider"
	"github.com/zombar/newsranker/internal/scorer"
)

// DocumentScorer scores one document
type DocumentScorer interface {
	Score(ctx context.Context, doc models.Document) (*scorer.Outcome, error)
}

// ScoringStore persists a scored document as a new version
type ScoringStore interface {
	SaveScoring(ctx context.Context, sd *models.ScoredDocument) (int, error)
}

// Handler processes scoring tasks
type Handler struct {
	scorer DocumentScorer
	store  ScoringStore
	logger *slog.Logger
}

// NewHandler creates a task handler
func NewHandler(sc DocumentScorer, store ScoringStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{scorer: sc, store: store, logger: logger}
}

// ProcessTask implements asynq.Handler for TypeScoreDocument
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ScoreDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("failed to unmarshal task payload", "error", err)
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}
	doc := payload.Document

	var queueWaitTime time.Duration
	if payload.EnqueuedAt > 0 {
		queueWaitTime = time.Since(time.Unix(0, payload.EnqueuedAt))
	}

	ctx, span := startTaskSpan(ctx, payload, queueWaitTime)
	defer span.End()

	h.logger.Info("scoring queued document",
		"document_id", doc.ID,
		"source", doc.Source,
		"queue_wait_seconds", queueWaitTime.Seconds(),
	)

	outcome, err := h.scorer.Score(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isPermanent(err) {
			h.logger.Warn("scoring failed permanently, not retrying", "document_id", doc.ID, "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	sd := outcome.Scored()
	version, err := h.store.SaveScoring(ctx, sd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save scoring: %w", err)
	}

	span.SetAttributes(
		attribute.Int("scoring.version", version),
		attribute.Int("scoring.score", outcome.Result.Score),
	)
	h.logger.Info("queued document scored",
		"document_id", doc.ID,
		"version", version,
		"score", outcome.Result.Score,
	)
	return nil
}

// startTaskSpan continues the enqueuer's trace when the payload carries one
func startTaskSpan(ctx context.Context, payload ScoreDocumentPayload, wait time.Duration) (context.Context, trace.Span) {
	if payload.TraceID != "" && payload.SpanID != "" {
		traceID, terr := trace.TraceIDFromHex(payload.TraceID)
		spanID, serr := trace.SpanIDFromHex(payload.SpanID)
		if terr == nil && serr == nil {
			ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			}))
		}
	}

	ctx, span := otel.Tracer("newsranker/queue").Start(ctx, "asynq.task.score_document",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.type", TypeScoreDocument),
			attribute.String("document.id", payload.Document.ID),
			attribute.Float64("queue.wait_time_seconds", wait.Seconds()),
		),
	)
	span.AddEvent("task_processing_started")
	return ctx, span
}

// isPermanent reports whether retrying err cannot help: the document or the
// model output was rejected, or a provider refused the credentials.
func isPermanent(err error) bool {
	var vErr *models.ValidationError
	var fErr *scorer.ResponseFormatError
	if errors.As(err, &vErr) || errors.As(err, &fErr) {
		return true
	}

	var pErr *provider.ProviderError
	if errors.As(err, &pErr) && pErr.Kind == provider.KindAuth {
		return true
	}
	return false
}
