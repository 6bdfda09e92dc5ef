package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/zombar/newsranker/internal/backends"
	"github.com/zombar/newsranker/internal/config"
	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/scorer"
)

type scoreOptions struct {
	input      string
	output     string
	skipErrors bool
	persist    bool
	dryRun     bool
	noProgress bool
}

// scoreOutput is the JSON written by the score command
type scoreOutput struct {
	Results  []*models.ScoredDocument `json:"results"`
	Failures []scorer.Failure         `json:"failures"`
}

func newScoreCmd(a *app) *cobra.Command {
	opts := &scoreOptions{}

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a JSON array of documents",
		Long: `Score reads a JSON array of documents, scores them one at a time through
the configured provider chain and writes the scored documents as JSON.

Examples:
  ranker score -i docs.json                      # Print results to stdout
  ranker score -i docs.json -o scored.json       # Write results to a file
  ranker score -i - --persist                    # Read stdin, store results
  ranker score -i docs.json --skip-errors=false  # Stop at the first failure
  ranker score -i docs.json --dry-run            # Use canned output, no model calls`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "documents JSON file, - for stdin (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&opts.skipErrors, "skip-errors", true, "record failing documents and continue; false stops at the first failure")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "store scorings in the database")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "use the canned offline provider")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "hide the progress bar")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runScore(cmd *cobra.Command, a *app, opts *scoreOptions) error {
	docs, err := readDocuments(cmd, opts.input)
	if err != nil {
		return err
	}

	providers := a.cfg.Providers
	if opts.dryRun {
		providers = []config.ProviderConfig{{Type: config.ProviderMock, Model: "dry-run"}}
	}
	chain, err := backends.Build(providers, a.logger, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}
	sc := scorer.New(chain, chain.Primary(), a.cfg.Scoring.ScorerConfig(), scorer.WithLogger(a.logger))

	var batchOpts []scorer.BatchOption
	if !opts.noProgress && len(docs) > 0 {
		bar := progressbar.NewOptions(len(docs),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("Scoring"),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(cmd.ErrOrStderr())
			}),
		)
		batchOpts = append(batchOpts, scorer.WithProgress(func(done, total int) {
			bar.Set(done)
		}))
	}

	res, batchErr := sc.BatchScore(cmd.Context(), docs, opts.skipErrors, batchOpts...)
	if res == nil {
		res = &scorer.BatchResult{}
	}

	out := scoreOutput{
		Results:  make([]*models.ScoredDocument, 0, len(res.Results)),
		Failures: res.Failures,
	}
	for _, outcome := range res.Results {
		out.Results = append(out.Results, outcome.Scored())
	}
	if out.Failures == nil {
		out.Failures = []scorer.Failure{}
	}

	if opts.persist {
		db, err := a.openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		for _, sd := range out.Results {
			if _, err := db.SaveScoring(cmd.Context(), sd); err != nil {
				return fmt.Errorf("failed to save scoring for %s: %w", sd.Document.ID, err)
			}
		}
		a.logger.Info("scorings stored", "count", len(out.Results), "database", a.cfg.Database.Path)
	}

	w, closeOut, err := output(cmd, opts.output)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		closeOut()
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := closeOut(); err != nil {
		return err
	}

	for _, f := range out.Failures {
		a.logger.Warn("document failed", "document_id", f.DocumentID, "title", f.Title, "error", f.Error)
	}
	if batchErr != nil {
		return fmt.Errorf("scoring stopped after %d of %d documents: %w", len(out.Results), len(docs), batchErr)
	}
	return nil
}

// readDocuments loads a JSON array of documents, assigning IDs where missing
func readDocuments(cmd *cobra.Command, path string) ([]models.Document, error) {
	r, closeIn, err := input(cmd, path)
	if err != nil {
		return nil, err
	}
	defer closeIn()

	var docs []models.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to parse documents: %w", err)
	}
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
	}
	return docs, nil
}
