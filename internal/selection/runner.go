// Package selection runs diversity-aware selection over the persisted pool
// and records each run, on demand or on a cron schedule.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/zombar/newsranker/internal/database"
	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/selector"
)

// Store is the persistence the runner needs
type Store interface {
	ListScoredPool(ctx context.Context, f database.PoolFilter) ([]*models.ScoredDocument, error)
	SaveSelectionRun(ctx context.Context, run *database.SelectionRun) error
}

// Request describes one selection run
type Request struct {
	Params  selector.Params
	Window  time.Duration // Only documents published within Window; 0 means all
	Sources []string
}

// Result is a recorded run together with the selected candidates
type Result struct {
	Run      *database.SelectionRun
	Selected []selector.ArticleCandidate
}

// Runner loads the pool, selects and persists the report
type Runner struct {
	store    Store
	selector *selector.Selector
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates a runner
func NewRunner(store Store, sel *selector.Selector, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, selector: sel, logger: logger, now: time.Now}
}

// Run performs one selection and stores its report under a new ID
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selection params: %w", err)
	}

	now := r.now()
	filter := database.PoolFilter{Sources: req.Sources}
	if req.Window > 0 {
		filter.Since = now.Add(-req.Window)
	}

	pool, err := r.store.ListScoredPool(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load scored pool: %w", err)
	}

	candidates := make([]selector.ArticleCandidate, len(pool))
	for i, sd := range pool {
		candidates[i] = selector.NewCandidate(sd)
	}

	selected, report := r.selector.SelectTop(ctx, candidates, req.Params)

	run := &database.SelectionRun{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Report:    report,
	}
	if err := r.store.SaveSelectionRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save selection run: %w", err)
	}

	r.logger.Info("selection run recorded",
		"run_id", run.ID,
		"pool", len(pool),
		"selected", len(selected),
		"diversity_achieved", report.Summary.DiversityAchieved,
	)
	return &Result{Run: run, Selected: selected}, nil
}

// Schedule registers a cron job that runs req on spec (standard five-field
// syntax or descriptors such as @daily). The returned cron must be started
// by the caller.
func (r *Runner) Schedule(ctx context.Context, spec string, req Request) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(spec, func() {
		if _, err := r.Run(ctx, req); err != nil {
			r.logger.Error("scheduled selection failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid selection schedule %q: %w", spec, err)
	}

	r.logger.Info("selection scheduled", "schedule", spec, "window", req.Window.String())
	return c, nil
}
