package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/selection"
	"github.com/zombar/newsranker/internal/selector"
)

type selectOptions struct {
	input   string
	output  string
	limit   int
	minRaw  float64
	decay   float64
	since   time.Duration
	sources []string
}

// selectOutput is the JSON written by the select command
type selectOutput struct {
	RunID    string                      `json:"run_id,omitempty"`
	Selected []selector.ArticleCandidate `json:"selected"`
	Report   *selector.Report            `json:"report"`
}

func newSelectCmd(a *app) *cobra.Command {
	opts := &selectOptions{}

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Select a source-diverse top list",
		Long: `Select ranks scored documents with per-source normalization and a
diversity penalty, then prints the selection report as JSON.

Without --input the pool is read from the database and the run is recorded.
With --input a JSON array of scored documents is used and nothing is stored.

Examples:
  ranker select                                # Defaults from config
  ranker select --limit 5 --decay 0.7          # Stronger diversity penalty
  ranker select --since 48h --source lwn       # Recent documents from one feed
  ranker select -i scored.json -o report.json  # Offline selection`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(cmd, a, opts)
		},
	}

	defaults := selector.DefaultParams()
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "scored documents JSON file instead of the database, - for stdin")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&opts.limit, "limit", defaults.Limit, "number of documents to select")
	cmd.Flags().Float64Var(&opts.minRaw, "min-raw", defaults.MinRawScore, "minimum raw score")
	cmd.Flags().Float64Var(&opts.decay, "decay", defaults.DiversityDecay, "diversity decay per repeated source, in (0, 1]")
	cmd.Flags().DurationVar(&opts.since, "since", 0, "only documents published within this window (default from config)")
	cmd.Flags().StringSliceVar(&opts.sources, "source", nil, "restrict the pool to these sources")

	return cmd
}

func runSelect(cmd *cobra.Command, a *app, opts *selectOptions) error {
	params := a.cfg.Selection.Params
	flags := cmd.Flags()
	if flags.Changed("limit") {
		params.Limit = opts.limit
	}
	if flags.Changed("min-raw") {
		params.MinRawScore = opts.minRaw
	}
	if flags.Changed("decay") {
		params.DiversityDecay = opts.decay
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid selection params: %w", err)
	}

	window := a.cfg.Selection.Window
	if flags.Changed("since") {
		window = opts.since
	}

	sel := selector.New(selector.WithLogger(a.logger))

	var out selectOutput
	if opts.input != "" {
		pool, err := readPool(cmd, opts.input)
		if err != nil {
			return err
		}
		candidates := filterPool(pool, window, opts.sources, time.Now())
		out.Selected, out.Report = sel.SelectTop(cmd.Context(), candidates, params)
	} else {
		db, err := a.openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := selection.NewRunner(db, sel, a.logger).Run(cmd.Context(), selection.Request{
			Params:  params,
			Window:  window,
			Sources: opts.sources,
		})
		if err != nil {
			return err
		}
		out.RunID = res.Run.ID
		out.Selected = res.Selected
		out.Report = res.Run.Report
	}

	w, closeOut, err := output(cmd, opts.output)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		closeOut()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return closeOut()
}

func readPool(cmd *cobra.Command, path string) ([]*models.ScoredDocument, error) {
	r, closeIn, err := input(cmd, path)
	if err != nil {
		return nil, err
	}
	defer closeIn()

	var pool []*models.ScoredDocument
	if err := json.NewDecoder(r).Decode(&pool); err != nil {
		return nil, fmt.Errorf("failed to parse scored documents: %w", err)
	}
	return pool, nil
}

// filterPool applies the window and source restrictions the database query
// would otherwise apply
func filterPool(pool []*models.ScoredDocument, window time.Duration, sources []string, now time.Time) []selector.ArticleCandidate {
	allowed := make(map[string]bool, len(sources))
	for _, s := range sources {
		allowed[s] = true
	}

	candidates := make([]selector.ArticleCandidate, 0, len(pool))
	for _, sd := range pool {
		if window > 0 && sd.Document.PublishedAt.Before(now.Add(-window)) {
			continue
		}
		if len(allowed) > 0 && !allowed[sd.Document.Source] {
			continue
		}
		candidates = append(candidates, selector.NewCandidate(sd))
	}
	return candidates
}
