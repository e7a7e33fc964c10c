package store

import (
	"context"
	"fmt"

	"opsboard/internal/models"
)

// BoardStats is the aggregate snapshot behind the dashboard's metrics
// panel. DONE items are excluded from the active counts; cycle time is
// measured completed_at - started_at over the trailing 30 days.
type BoardStats struct {
	ByStatus      map[string]int `json:"by_status"`
	Overdue       int            `json:"overdue"`
	Blocked       int            `json:"blocked"`
	Waiting       int            `json:"waiting"`
	DoneLast30d   int            `json:"done_last_30d"`
	AvgCycleHours float64        `json:"avg_cycle_hours"`
}

// ComputeStats aggregates board stats, optionally scoped to one owner.
func (s *Store) ComputeStats(ctx context.Context, ownerID string) (BoardStats, error) {
	stats := BoardStats{ByStatus: map[string]int{}}

	ownerCond := ""
	args := []any{}
	if ownerID != "" {
		args = append(args, ownerID)
		ownerCond = " AND owner_id = $1"
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM work_items
		WHERE status <> '`+models.StatusDone+`'`+ownerCond+`
		GROUP BY status
	`, args...)
	if err != nil {
		return BoardStats{}, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return BoardStats{}, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return BoardStats{}, err
	}
	stats.Blocked = stats.ByStatus[models.StatusBlocked]

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE due_at < NOW() AND status <> '`+models.StatusDone+`'),
			COUNT(*) FILTER (WHERE waiting_since IS NOT NULL AND status <> '`+models.StatusDone+`'),
			COUNT(*) FILTER (WHERE status = '`+models.StatusDone+`' AND completed_at > NOW() - INTERVAL '30 days'),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) / 3600.0)
				FILTER (WHERE status = '`+models.StatusDone+`'
					AND completed_at > NOW() - INTERVAL '30 days'
					AND started_at IS NOT NULL), 0)
		FROM work_items
		WHERE TRUE`+ownerCond+`
	`, args...).Scan(&stats.Overdue, &stats.Waiting, &stats.DoneLast30d, &stats.AvgCycleHours)
	if err != nil {
		return BoardStats{}, fmt.Errorf("aggregate stats: %w", err)
	}

	return stats, nil
}

// CountActive returns the number of non-done items, feeding the open-items
// gauge.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_items WHERE status <> $1
	`, models.StatusDone).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active items: %w", err)
	}
	return n, nil
}
