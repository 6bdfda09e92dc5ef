package scorer

import (
	"context"
	"fmt"

	"github.com/zombar/newsranker/internal/models"
)

// BatchResult holds the successful outcomes and the failures of a batch
type BatchResult struct {
	Results  []*Outcome `json:"results"`
	Failures []Failure  `json:"failures"`
}

// Err returns an *AggregateBatchError when any document failed, nil otherwise
func (r *BatchResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	return &AggregateBatchError{Failures: r.Failures}
}

// BatchOption configures a batch run
type BatchOption func(*batchConfig)

type batchConfig struct {
	onProgress func(done, total int)
}

// WithProgress registers a callback invoked after each document
func WithProgress(fn func(done, total int)) BatchOption {
	return func(c *batchConfig) {
		c.onProgress = fn
	}
}

// BatchScore scores documents one at a time. With skipErrors a failing
// document is recorded and the batch continues; without it the first error
// is returned immediately alongside what was scored so far. Cancellation
// always stops the batch.
func (s *Scorer) BatchScore(ctx context.Context, docs []models.Document, skipErrors bool, opts ...BatchOption) (*BatchResult, error) {
	var cfg batchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	res := &BatchResult{
		Results:  make([]*Outcome, 0, len(docs)),
		Failures: []Failure{},
	}

	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		outcome, err := s.Score(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return res, err
			}
			if !skipErrors {
				return res, fmt.Errorf("batch item %d (%s): %w", i, doc.ID, err)
			}

			s.logger.Error("batch item failed",
				"document_id", doc.ID,
				"title", doc.Title,
				"error", err,
			)
			s.metrics.IncBatchFailure()
			res.Failures = append(res.Failures, Failure{
				DocumentID: doc.ID,
				Title:      doc.Title,
				Error:      err.Error(),
				Err:        err,
			})
		} else {
			res.Results = append(res.Results, outcome)
		}

		if cfg.onProgress != nil {
			cfg.onProgress(i+1, len(docs))
		}
	}

	s.logger.Info("batch scoring finished",
		"total", len(docs),
		"succeeded", len(res.Results),
		"failed", len(res.Failures),
	)
	return res, nil
}
