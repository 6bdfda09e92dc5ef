package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/provider"
	"github.com/zombar/newsranker/internal/scorer"
)

type fakeScorer struct {
	err   error
	calls []models.Document
}

func (f *fakeScorer) Score(_ context.Context, doc models.Document) (*scorer.Outcome, error) {
	f.calls = append(f.calls, doc)
	if f.err != nil {
		return nil, f.err
	}
	return &scorer.Outcome{
		Document:     doc,
		Result:       models.ScoringResult{Score: 72, Category: models.CategoryData},
		QualityScore: 0.5,
	}, nil
}

type fakeStore struct {
	err   error
	saved []*models.ScoredDocument
}

func (f *fakeStore) SaveScoring(_ context.Context, sd *models.ScoredDocument) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, sd)
	sd.Version = len(f.saved)
	return sd.Version, nil
}

var queuedDoc = models.Document{ID: "doc-42", Title: "Title", Body: "Body", Source: "feed"}

func TestNewScoreDocumentTask(t *testing.T) {
	task, err := NewScoreDocumentTask(context.Background(), queuedDoc)
	require.NoError(t, err)
	assert.Equal(t, TypeScoreDocument, task.Type())

	var payload ScoreDocumentPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, queuedDoc, payload.Document)
	assert.Empty(t, payload.TraceID, "no active span, no trace context")
	assert.InDelta(t, time.Now().UnixNano(), payload.EnqueuedAt, float64(time.Minute))
}

func TestNewScoreDocumentTask_CarriesTraceContext(t *testing.T) {
	tp := tracesdk.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "enqueue")
	defer span.End()

	task, err := NewScoreDocumentTask(ctx, queuedDoc)
	require.NoError(t, err)

	var payload ScoreDocumentPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, span.SpanContext().TraceID().String(), payload.TraceID)
	assert.Equal(t, span.SpanContext().SpanID().String(), payload.SpanID)
}

func TestHandler_ProcessTask(t *testing.T) {
	sc := &fakeScorer{}
	store := &fakeStore{}
	h := NewHandler(sc, store, nil)

	task, err := NewScoreDocumentTask(context.Background(), queuedDoc)
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, sc.calls, 1)
	assert.Equal(t, queuedDoc, sc.calls[0])
	require.Len(t, store.saved, 1)
	assert.Equal(t, 72, store.saved[0].Result.Score)
	assert.Equal(t, 0.5, store.saved[0].QualityScore)
}

func TestHandler_ProcessTaskErrors(t *testing.T) {
	tests := []struct {
		name      string
		scoreErr  error
		storeErr  error
		skipRetry bool
	}{
		{
			name:      "validation error",
			scoreErr:  &models.ValidationError{Field: "score", Reason: "out of range"},
			skipRetry: true,
		},
		{
			name:      "malformed response",
			scoreErr:  fmt.Errorf("score document: %w", &scorer.ResponseFormatError{Operation: "scoring", Err: scorer.ErrEmptyResponse}),
			skipRetry: true,
		},
		{
			name:      "bad credentials",
			scoreErr:  &provider.ProviderError{Provider: "openai", Kind: provider.KindAuth, StatusCode: 401, Err: errors.New("invalid key")},
			skipRetry: true,
		},
		{
			name:      "rate limited",
			scoreErr:  &provider.ProviderError{Provider: "ollama", Kind: provider.KindRateLimit, StatusCode: 429, Err: errors.New("busy")},
			skipRetry: false,
		},
		{
			name:      "store unavailable",
			storeErr:  errors.New("database is locked"),
			skipRetry: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeScorer{err: tt.scoreErr}, &fakeStore{err: tt.storeErr}, nil)
			task, err := NewScoreDocumentTask(context.Background(), queuedDoc)
			require.NoError(t, err)

			err = h.ProcessTask(context.Background(), task)
			require.Error(t, err)
			assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry), "error: %v", err)
			if tt.scoreErr != nil {
				assert.ErrorIs(t, err, tt.scoreErr)
			}
		})
	}
}

func TestHandler_InvalidPayload(t *testing.T) {
	sc := &fakeScorer{}
	h := NewHandler(sc, &fakeStore{}, nil)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeScoreDocument, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, sc.calls)
}

func TestHandler_ContinuesEnqueueTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	enqueueCtx, enqueueSpan := tp.Tracer("test").Start(context.Background(), "http.request")
	task, err := NewScoreDocumentTask(enqueueCtx, queuedDoc)
	require.NoError(t, err)
	enqueueSpan.End()

	h := NewHandler(&fakeScorer{}, &fakeStore{}, nil)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	var taskSpan *tracetest.SpanStub
	spans := exporter.GetSpans()
	for i := range spans {
		if spans[i].Name == "asynq.task.score_document" {
			taskSpan = &spans[i]
		}
	}
	require.NotNil(t, taskSpan)
	assert.Equal(t, enqueueSpan.SpanContext().TraceID(), taskSpan.SpanContext.TraceID())
	assert.Equal(t, enqueueSpan.SpanContext().SpanID(), taskSpan.Parent.SpanID())
}

func TestRetryDelay(t *testing.T) {
	task := asynq.NewTask(TypeScoreDocument, []byte(`{}`))
	transient := errors.New("connection refused")
	limited := &provider.ProviderError{Kind: provider.KindRateLimit, Err: errors.New("429")}

	for i, expected := range retryDelays {
		assert.Equal(t, expected, retryDelay(i, transient, task), "retry %d", i)
	}
	for i, expected := range rateLimitDelays {
		assert.Equal(t, expected, retryDelay(i, fmt.Errorf("wrapped: %w", limited), task), "rate-limited retry %d", i)
	}

	// Past the table the last delay repeats
	assert.Equal(t, 10*time.Minute, retryDelay(50, transient, task))
	assert.Equal(t, time.Hour, retryDelay(50, limited, task))
}

func TestTaskTypeConstants(t *testing.T) {
	assert.Equal(t, "newsranker:score_document", TypeScoreDocument)
	assert.Equal(t, "scoring", QueueScoring)
}
