package db

import "time"

// CreateSyncStats inserts aggregated sync statistics for one period
func (db *DB) CreateSyncStats(stats *SyncStats) error {
	query := `
		INSERT INTO sync_stats (
			stats_period_id, start_time, end_time, passes, halted_passes, aborted_passes,
			attempted, synced, retried, failed, conflicts,
			avg_pass_duration_us, max_pass_duration_us
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		stats.StatsPeriodID,
		stats.StartTime.UnixNano(),
		stats.EndTime.UnixNano(),
		stats.Passes,
		stats.HaltedPasses,
		stats.AbortedPasses,
		stats.Attempted,
		stats.Synced,
		stats.Retried,
		stats.Failed,
		stats.Conflicts,
		stats.AvgPassDurationUs,
		stats.MaxPassDurationUs,
	)

	return err
}

// GetSyncStats retrieves sync stats periods that start within [startTime, endTime)
func (db *DB) GetSyncStats(startTime, endTime time.Time) ([]SyncStats, error) {
	query := `
		SELECT
			stats_period_id, start_time, end_time, passes, halted_passes, aborted_passes,
			attempted, synced, retried, failed, conflicts,
			avg_pass_duration_us, max_pass_duration_us
		FROM sync_stats
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time
	`

	rows, err := db.Query(query, startTime.UnixNano(), endTime.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []SyncStats{}
	for rows.Next() {
		var s SyncStats
		var start, end int64
		err := rows.Scan(
			&s.StatsPeriodID,
			&start,
			&end,
			&s.Passes,
			&s.HaltedPasses,
			&s.AbortedPasses,
			&s.Attempted,
			&s.Synced,
			&s.Retried,
			&s.Failed,
			&s.Conflicts,
			&s.AvgPassDurationUs,
			&s.MaxPassDurationUs,
		)
		if err != nil {
			return nil, err
		}
		s.StartTime = time.Unix(0, start).UTC()
		s.EndTime = time.Unix(0, end).UTC()
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}
