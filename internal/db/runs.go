package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/stockreel/internal/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = fmt.Errorf("not found")

func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO runs (
			id, status, spec, segment_count, fallback_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.ExecContext(
		ctx, db.rebind(query),
		run.ID, run.Status, run.Spec, run.SegmentCount, run.FallbackCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	query := `
		SELECT
			id, status, spec, segment_count, fallback_count, stats,
			manifest_path, audio_path, duration_ms, error_message,
			created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	run := &models.Run{}
	err := db.QueryRowContext(ctx, db.rebind(query), id).Scan(
		&run.ID, &run.Status, &run.Spec, &run.SegmentCount, &run.FallbackCount,
		&run.Stats, &run.ManifestPath, &run.AudioPath, &run.DurationMs,
		&run.ErrorMessage, &run.CreatedAt, &run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns one page of runs, newest first, and the total count.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]models.RunSummary, int, error) {
	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `
		SELECT
			id, status, spec, segment_count, fallback_count, error_message,
			created_at, updated_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunSummary{}
	for rows.Next() {
		var (
			s    models.RunSummary
			spec models.RunSpec
		)
		err := rows.Scan(
			&s.ID, &s.Status, &spec, &s.SegmentCount, &s.FallbackCount,
			&s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		s.Title = spec.Title
		s.Style = spec.Style
		runs = append(runs, s)
	}

	return runs, total, rows.Err()
}

func (db *DB) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.RunStatus, errorMessage *string) error {
	query := `
		UPDATE runs
		SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1
	`

	return db.execOne(ctx, query, id, status, errorMessage, time.Now().UTC())
}

// UpdateRunSegments records the segment list once captions are parsed or
// transcribed.
func (db *DB) UpdateRunSegments(ctx context.Context, id uuid.UUID, spec models.RunSpec) error {
	query := `
		UPDATE runs
		SET spec = $2, segment_count = $3, updated_at = $4
		WHERE id = $1
	`

	return db.execOne(ctx, query, id, spec, len(spec.Segments), time.Now().UTC())
}

// CompleteRun stores the outputs of a finished run and marks it completed.
func (db *DB) CompleteRun(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE runs
		SET status = $2, segment_count = $3, fallback_count = $4, stats = $5,
			manifest_path = $6, audio_path = $7, duration_ms = $8,
			error_message = NULL, updated_at = $9
		WHERE id = $1
	`

	run.Status = models.RunStatusCompleted
	run.UpdatedAt = time.Now().UTC()
	return db.execOne(ctx, query,
		run.ID, run.Status, run.SegmentCount, run.FallbackCount, run.Stats,
		run.ManifestPath, run.AudioPath, run.DurationMs, run.UpdatedAt,
	)
}

func (db *DB) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("run %v: %w", args[0], ErrNotFound)
	}
	return nil
}
