package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/stockreel/internal/models"
)

// ReplaceRunClips stores a run's clips, replacing any from an earlier
// attempt.
func (db *DB) ReplaceRunClips(ctx context.Context, runID uuid.UUID, clips []models.RunClip) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM run_clips WHERE run_id = $1`), runID); err != nil {
		return fmt.Errorf("failed to clear clips: %w", err)
	}

	query := db.rebind(`
		INSERT INTO run_clips (
			id, run_id, segment_index, kind, text, query, source_url,
			provider, storage_path, color, duration_ms, fallback, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)

	now := time.Now().UTC()
	for i := range clips {
		c := &clips[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.RunID = runID
		c.CreatedAt = now

		_, err := tx.ExecContext(ctx, query,
			c.ID, c.RunID, c.SegmentIndex, c.Kind, c.Text, c.Query, c.SourceURL,
			c.Provider, c.StoragePath, c.Color, c.DurationMs, c.Fallback, c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert clip %d: %w", c.SegmentIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clips: %w", err)
	}
	return nil
}

func (db *DB) GetRunClips(ctx context.Context, runID uuid.UUID) ([]models.RunClip, error) {
	query := `
		SELECT
			id, run_id, segment_index, kind, text, query, source_url,
			provider, storage_path, color, duration_ms, fallback, created_at
		FROM run_clips
		WHERE run_id = $1
		ORDER BY segment_index
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.RunClip
	for rows.Next() {
		var c models.RunClip
		err := rows.Scan(
			&c.ID, &c.RunID, &c.SegmentIndex, &c.Kind, &c.Text, &c.Query,
			&c.SourceURL, &c.Provider, &c.StoragePath, &c.Color, &c.DurationMs,
			&c.Fallback, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, c)
	}

	return clips, rows.Err()
}
