package selection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zombar/newsranker/internal/database"
	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/selector"
)

type fakeStore struct {
	pool    []*models.ScoredDocument
	listErr error
	filters []database.PoolFilter
	runs    []*database.SelectionRun
}

func (f *fakeStore) ListScoredPool(_ context.Context, filter database.PoolFilter) ([]*models.ScoredDocument, error) {
	f.filters = append(f.filters, filter)
	return f.pool, f.listErr
}

func (f *fakeStore) SaveSelectionRun(_ context.Context, run *database.SelectionRun) error {
	f.runs = append(f.runs, run)
	return nil
}

func scored(id, source string, score int) *models.ScoredDocument {
	return &models.ScoredDocument{
		Document: models.Document{ID: id, Title: id, Source: source},
		Result:   models.ScoringResult{Score: score},
	}
}

func TestRunner_Run(t *testing.T) {
	store := &fakeStore{pool: []*models.ScoredDocument{
		scored("a1", "alpha", 90),
		scored("a2", "alpha", 70),
		scored("b1", "beta", 85),
		scored("c1", "gamma", 65),
		scored("low", "gamma", 20),
	}}
	fixed := time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)
	r := NewRunner(store, selector.New(), nil)
	r.now = func() time.Time { return fixed }

	res, err := r.Run(context.Background(), Request{Params: selector.DefaultParams(), Window: 24 * time.Hour})
	require.NoError(t, err)

	require.Len(t, store.filters, 1)
	assert.Equal(t, fixed.Add(-24*time.Hour), store.filters[0].Since)

	require.Len(t, store.runs, 1)
	assert.Same(t, res.Run, store.runs[0])
	assert.NotEmpty(t, res.Run.ID)
	assert.Equal(t, fixed, res.Run.CreatedAt)
	assert.Equal(t, 5, res.Run.Report.Summary.TotalCandidates)
	assert.Len(t, res.Selected, res.Run.Report.Summary.Selected)
	assert.True(t, res.Run.Report.Summary.DiversityAchieved)

	for _, c := range res.Selected {
		assert.NotEqual(t, "low", c.ID)
		assert.NotNil(t, c.Scored)
	}
}

func TestRunner_RunErrors(t *testing.T) {
	t.Run("invalid params", func(t *testing.T) {
		store := &fakeStore{}
		p := selector.DefaultParams()
		p.DiversityDecay = 0

		_, err := NewRunner(store, selector.New(), nil).Run(context.Background(), Request{Params: p})
		require.Error(t, err)
		assert.Empty(t, store.filters, "nothing is loaded for invalid params")
	})

	t.Run("store failure", func(t *testing.T) {
		store := &fakeStore{listErr: errors.New("disk full")}

		_, err := NewRunner(store, selector.New(), nil).Run(context.Background(), Request{Params: selector.DefaultParams()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Empty(t, store.runs)
	})

	t.Run("empty pool is recorded", func(t *testing.T) {
		store := &fakeStore{}

		res, err := NewRunner(store, selector.New(), nil).Run(context.Background(), Request{Params: selector.DefaultParams()})
		require.NoError(t, err)
		assert.Empty(t, res.Selected)
		assert.Len(t, store.runs, 1)
		assert.True(t, store.filters[0].Since.IsZero(), "no window means no cutoff")
	})
}

func TestRunner_Schedule(t *testing.T) {
	r := NewRunner(&fakeStore{}, selector.New(), nil)

	c, err := r.Schedule(context.Background(), "@every 1h", Request{Params: selector.DefaultParams()})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = r.Schedule(context.Background(), "whenever", Request{Params: selector.DefaultParams()})
	assert.Error(t, err)
}
