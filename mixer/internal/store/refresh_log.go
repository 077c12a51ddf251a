package store

import (
	"context"
	"fmt"
)

// InsertRefreshLog records a refresh attempt.
func (s *Store) InsertRefreshLog(ctx context.Context, e *RefreshLogEntry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO refresh_log (id, status, stage, status_code, content_hash,
		records, skipped, error_message, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Status, e.Stage, e.StatusCode, e.ContentHash,
		e.Records, e.Skipped, e.ErrorMessage, e.DurationMs, e.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert refresh log: %w", err)
	}
	return nil
}

// RefreshHistory returns refresh attempts, newest first.
func (s *Store) RefreshHistory(ctx context.Context, limit int) ([]*RefreshLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, status, stage, status_code, content_hash,
		records, skipped, error_message, duration_ms, started_at
		FROM refresh_log ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: refresh history: %w", err)
	}
	defer rows.Close()

	var result []*RefreshLogEntry
	for rows.Next() {
		var e RefreshLogEntry
		if err := rows.Scan(&e.ID, &e.Status, &e.Stage, &e.StatusCode, &e.ContentHash,
			&e.Records, &e.Skipped, &e.ErrorMessage, &e.DurationMs, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("scan refresh log: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
