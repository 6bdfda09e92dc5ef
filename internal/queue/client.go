package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/newsranker/internal/models"
)

// Task type constants
const (
	TypeScoreDocument = "newsranker:score_document"
)

// QueueScoring is the queue scoring tasks are placed on
const QueueScoring = "scoring"

// ErrAlreadyQueued is returned when the document already has a pending task
var ErrAlreadyQueued = errors.New("document already queued for scoring")

// ScoreDocumentPayload represents the payload for asynchronous scoring
type ScoreDocumentPayload struct {
	Document models.Document `json:"document"`
	// Tracing and timing fields
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"` // Unix timestamp in nanoseconds
}

// Client wraps the Asynq client for enqueueing tasks
type Client struct {
	client *asynq.Client
}

// ClientConfig contains configuration for the queue client
type ClientConfig struct {
	RedisAddr string
}

// NewClient creates a new queue client
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}),
	}
}

// NewScoreDocumentTask builds the task for doc, carrying the trace context
// of ctx when one is active.
func NewScoreDocumentTask(ctx context.Context, doc models.Document) (*asynq.Task, error) {
	payload := ScoreDocumentPayload{
		Document:   doc,
		EnqueuedAt: time.Now().UnixNano(),
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		payload.TraceID = spanCtx.TraceID().String()
		payload.SpanID = spanCtx.SpanID().String()

		span.AddEvent("task_enqueued", trace.WithAttributes(
			attribute.String("task.type", TypeScoreDocument),
			attribute.String("document.id", doc.ID),
			attribute.Int64("enqueued_at", payload.EnqueuedAt),
		))
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	return asynq.NewTask(TypeScoreDocument, payloadBytes,
		asynq.TaskID(doc.ID),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueScoring),
		asynq.Retention(time.Hour),
	), nil
}

// EnqueueScoreDocument enqueues a scoring task and returns its ID
func (c *Client) EnqueueScoreDocument(ctx context.Context, doc models.Document) (string, error) {
	task, err := NewScoreDocumentTask(ctx, doc)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", fmt.Errorf("document %s: %w", doc.ID, ErrAlreadyQueued)
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue score document task: %w", err)
	}

	return info.ID, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.client.Close()
}
