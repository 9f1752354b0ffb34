package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WindowMetrics are the raw counts for one analytics window.
type WindowMetrics struct {
	NewUsers     int   `json:"new_users"`
	NewTracks    int   `json:"new_tracks"`
	Sales        int   `json:"sales"`
	RevenueCents int64 `json:"revenue_cents"`
	Plays        int   `json:"plays"`
}

// MetricsForWindow counts users, content, sales and engagement created
// inside [start, end).
func (s *Store) MetricsForWindow(ctx context.Context, start, end time.Time) (*WindowMetrics, error) {
	var m WindowMetrics
	startStr, endStr := fmtTime(start), fmtTime(end)

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE created_at >= ? AND created_at < ?`, startStr, endStr)
	if err := row.Scan(&m.NewUsers); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracks WHERE created_at >= ? AND created_at < ?`, startStr, endStr)
	if err := row.Scan(&m.NewTracks); err != nil {
		return nil, fmt.Errorf("failed to count tracks: %w", err)
	}

	var revenue sql.NullInt64
	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM sales WHERE status = 'completed' AND created_at >= ? AND created_at < ?`, startStr, endStr)
	if err := row.Scan(&m.Sales, &revenue); err != nil {
		return nil, fmt.Errorf("failed to count sales: %w", err)
	}
	m.RevenueCents = revenue.Int64

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plays WHERE created_at >= ? AND created_at < ?`, startStr, endStr)
	if err := row.Scan(&m.Plays); err != nil {
		return nil, fmt.Errorf("failed to count plays: %w", err)
	}
	return &m, nil
}

// UpsertSnapshot writes one aggregate row per (period type, period
// start), replacing the metrics on rerun.
func (s *Store) UpsertSnapshot(ctx context.Context, periodType string, start, end time.Time, metrics map[string]any) error {
	ts := fmtTime(now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_snapshots (period_type, period_start, period_end, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(period_type, period_start) DO UPDATE SET
			metrics = excluded.metrics,
			period_end = excluded.period_end,
			updated_at = excluded.updated_at`,
		periodType, fmtTime(start), fmtTime(end), marshalMap(metrics), ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored metrics for one period, or ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, periodType string, start time.Time) (map[string]any, error) {
	var metrics string
	err := s.db.QueryRowContext(ctx, `
		SELECT metrics FROM analytics_snapshots WHERE period_type = ? AND period_start = ?`,
		periodType, fmtTime(start)).Scan(&metrics)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return unmarshalMap(metrics), nil
}
