package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/zombar/newsranker/internal/models"
	"github.com/zombar/newsranker/internal/selector"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// SaveDocument inserts a document or updates it in place
func (db *DB) SaveDocument(ctx context.Context, doc models.Document) error {
	return saveDocument(ctx, db.conn, doc, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveDocument(ctx context.Context, ex execer, doc models.Document, now time.Time) error {
	query, args, err := psql.Insert("documents").
		Columns("id", "title", "body", "source", "published_at", "created_at", "updated_at").
		Values(doc.ID, doc.Title, doc.Body, doc.Source, formatTime(doc.PublishedAt), formatTime(now), formatTime(now)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			source = excluded.source,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build document insert: %w", err)
	}

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument retrieves a document by ID
func (db *DB) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var (
		doc         models.Document
		publishedAt string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, title, body, source, published_at
		FROM documents
		WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Title, &doc.Body, &doc.Source, &publishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if doc.PublishedAt, err = parseTime(publishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse published_at: %w", err)
	}
	return &doc, nil
}

// SaveScoring stores sd as the next scoring version of its document, saving
// the document alongside it. The assigned version is returned and written to
// sd.Version.
func (db *DB) SaveScoring(ctx context.Context, sd *models.ScoredDocument) (int, error) {
	resultJSON, err := json.Marshal(sd.Result)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal result: %w", err)
	}
	summariesJSON, err := json.Marshal(sd.Summaries)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal summaries: %w", err)
	}
	metadataJSON, err := json.Marshal(sd.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveDocument(ctx, tx, sd.Document, time.Now()); err != nil {
		return 0, err
	}

	var version int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM scorings WHERE document_id = ?",
		sd.Document.ID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get next version: %w", err)
	}

	scoredAt := sd.Metadata.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = time.Now()
	}

	query, args, err := psql.Insert("scorings").
		Columns("document_id", "version", "score", "category", "quality_score",
			"result", "summaries", "metadata", "total_cost", "scored_at").
		Values(sd.Document.ID, version, sd.Result.Score, string(sd.Result.Category), sd.QualityScore,
			string(resultJSON), string(summariesJSON), string(metadataJSON), sd.Metadata.TotalCost, formatTime(scoredAt)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build scoring insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("failed to insert scoring: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	sd.Version = version
	return version, nil
}

// scoredColumns are read by scanScored in this order
var scoredColumns = []string{
	"d.id", "d.title", "d.body", "d.source", "d.published_at",
	"s.version", "s.result", "s.summaries", "s.metadata", "s.quality_score",
}

func latestScorings() sq.SelectBuilder {
	return psql.Select(scoredColumns...).
		From("scorings s").
		Join("documents d ON d.id = s.document_id").
		Where("s.version = (SELECT MAX(version) FROM scorings WHERE document_id = s.document_id)")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScored(row rowScanner) (*models.ScoredDocument, error) {
	var (
		sd                                  models.ScoredDocument
		publishedAt                         string
		resultJSON, summariesJSON, metaJSON string
	)
	if err := row.Scan(
		&sd.Document.ID, &sd.Document.Title, &sd.Document.Body, &sd.Document.Source, &publishedAt,
		&sd.Version, &resultJSON, &summariesJSON, &metaJSON, &sd.QualityScore,
	); err != nil {
		return nil, err
	}

	var err error
	if sd.Document.PublishedAt, err = parseTime(publishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse published_at: %w", err)
	}
	if err := json.Unmarshal([]byte(resultJSON), &sd.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if err := json.Unmarshal([]byte(summariesJSON), &sd.Summaries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summaries: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &sd.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &sd, nil
}

// GetLatestScoring retrieves the newest scoring version of a document
func (db *DB) GetLatestScoring(ctx context.Context, documentID string) (*models.ScoredDocument, error) {
	query, args, err := latestScorings().Where(sq.Eq{"d.id": documentID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	sd, err := scanScored(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scoring for %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scoring: %w", err)
	}
	return sd, nil
}

// PoolFilter narrows the scored pool handed to the selector. Zero values
// disable a condition.
type PoolFilter struct {
	Since    time.Time // Published at or after
	Sources  []string
	MinScore int
	Limit    int
}

// ListScoredPool returns the latest scoring of every matching document,
// ordered by document ID.
func (db *DB) ListScoredPool(ctx context.Context, f PoolFilter) ([]*models.ScoredDocument, error) {
	q := latestScorings()
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"d.published_at": formatTime(f.Since)})
	}
	if len(f.Sources) > 0 {
		q = q.Where(sq.Eq{"d.source": f.Sources})
	}
	if f.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"s.score": f.MinScore})
	}
	q = q.OrderBy("d.id")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scored pool: %w", err)
	}
	defer rows.Close()

	pool := []*models.ScoredDocument{}
	for rows.Next() {
		sd, err := scanScored(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		pool = append(pool, sd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return pool, nil
}

// SelectionRun is a persisted selection report
type SelectionRun struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Report    *selector.Report `json:"report"`
}

// SaveSelectionRun stores a selection run
func (db *DB) SaveSelectionRun(ctx context.Context, run *SelectionRun) error {
	reportJSON, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	diversity := 0
	if run.Report.Summary.DiversityAchieved {
		diversity = 1
	}

	query, args, err := psql.Insert("selection_runs").
		Columns("id", "selected", "diversity_achieved", "report", "created_at").
		Values(run.ID, run.Report.Summary.Selected, diversity, string(reportJSON), formatTime(run.CreatedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build selection insert: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert selection run: %w", err)
	}
	return nil
}

// GetSelectionRun retrieves a selection run by ID
func (db *DB) GetSelectionRun(ctx context.Context, id string) (*SelectionRun, error) {
	var reportJSON, createdAt string
	err := db.conn.QueryRowContext(ctx,
		"SELECT report, created_at FROM selection_runs WHERE id = ?", id,
	).Scan(&reportJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("selection run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selection run: %w", err)
	}

	run := &SelectionRun{ID: id}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(reportJSON), &run.Report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return run, nil
}
