package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FrequencyInterval maps a SyncFrequency to its fixed millisecond interval
// daily is 86,400,000 ms, weekly is 604,800,000 ms.
func FrequencyInterval(f SyncFrequency) time.Duration {
	switch f {
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// GetSyncConfig returns the singleton sync schedule row.
func (s *Store) GetSyncConfig(ctx context.Context) (SyncConfigState, error) {
	var cfg SyncConfigState
	var enabled int
	var freq string
	var lastSync, nextSync sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, frequency, last_sync_at, next_sync_at, last_error FROM sync_config WHERE id = 1`,
	).Scan(&enabled, &freq, &lastSync, &nextSync, &cfg.LastError)
	if err != nil {
		return SyncConfigState{}, fmt.Errorf("catalog: get sync config: %w", err)
	}
	cfg.Enabled = enabled != 0
	cfg.Frequency = SyncFrequency(freq)
	cfg.LastSyncAt = lastSync.Time
	cfg.NextSyncAt = nextSync.Time
	return cfg, nil
}

// SetSyncFrequency updates the schedule frequency. If last_sync_at is
// already set, next_sync_at is recomputed immediately.
func (s *Store) SetSyncFrequency(ctx context.Context, freq SyncFrequency) error {
	cfg, err := s.GetSyncConfig(ctx)
	if err != nil {
		return err
	}
	next := cfg.NextSyncAt
	if !cfg.LastSyncAt.IsZero() {
		next = cfg.LastSyncAt.Add(FrequencyInterval(freq))
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sync_config SET frequency = ?, next_sync_at = ? WHERE id = 1`, string(freq), next)
	if err != nil {
		return fmt.Errorf("catalog: set sync frequency: %w", err)
	}
	return nil
}

// SetSyncEnabled toggles whether the sync schedule is active.
func (s *Store) SetSyncEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sync_config SET enabled = ? WHERE id = 1`, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("catalog: set sync enabled: %w", err)
	}
	return nil
}

// StartRun creates a new SyncRun in state running, refusing to start a
// second concurrent run (at most one running run at a time).
func (s *Store) StartRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs WHERE status = ?`, string(SyncRunning)).
		Scan(&count); err != nil {
		return fmt.Errorf("catalog: check running runs: %w", err)
	}
	if count > 0 {
		return ErrSyncInProgress
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs(id, started_at, status) VALUES (?,?,?)`,
		runID, time.Now(), string(SyncRunning))
	if err != nil {
		return fmt.Errorf("catalog: start run: %w", err)
	}
	return nil
}

// ErrSyncInProgress is returned by StartRun when a run is already active.
var ErrSyncInProgress = fmt.Errorf("catalog: SYNC_IN_PROGRESS")

// CompleteRun closes a run with a status derived from hadFailures: success
// when it is false, partial when it is true.
func (s *Store) CompleteRun(ctx context.Context, runID string, added, updated, unchanged int, hadFailures bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SyncSuccess
	if hadFailures {
		status = SyncPartial
	}

	now := time.Now()
	var startedAt time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT started_at FROM sync_runs WHERE id = ?`, runID).Scan(&startedAt); err != nil {
		return fmt.Errorf("catalog: complete run lookup: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET completed_at=?, status=?, added=?, updated=?, unchanged=?, duration_ms=?
		WHERE id = ?`,
		now, string(status), added, updated, unchanged, now.Sub(startedAt).Milliseconds(), runID)
	if err != nil {
		return fmt.Errorf("catalog: complete run: %w", err)
	}

	cfg, err := s.GetSyncConfig(ctx)
	if err != nil {
		return err
	}
	next := now.Add(FrequencyInterval(cfg.Frequency))
	_, err = s.db.ExecContext(ctx,
		`UPDATE sync_config SET last_sync_at=?, next_sync_at=?, last_error='' WHERE id = 1`, now, next)
	if err != nil {
		return fmt.Errorf("catalog: advance sync schedule: %w", err)
	}
	return nil
}

// FailRun closes a run as failed with the given error.
func (s *Store) FailRun(ctx context.Context, runID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET completed_at=?, status=?, error=? WHERE id = ?`,
		now, string(SyncFailed), errMsg, runID)
	if err != nil {
		return fmt.Errorf("catalog: fail run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sync_config SET last_error = ? WHERE id = 1`, errMsg)
	if err != nil {
		return fmt.Errorf("catalog: record last_error: %w", err)
	}
	return nil
}

// GetRun returns the SyncRun for runID.
func (s *Store) GetRun(ctx context.Context, runID string) (SyncRun, error) {
	var r SyncRun
	var completedAt sql.NullTime
	var durationMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, status, added, updated, unchanged, duration_ms, error
		FROM sync_runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.StartedAt, &completedAt, &r.Status, &r.Added, &r.Updated, &r.Unchanged, &durationMs, &r.Error)
	if err != nil {
		return SyncRun{}, err
	}
	r.CompletedAt = completedAt.Time
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}

// IsRunning reports whether any sync run is currently in progress.
func (s *Store) IsRunning(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs WHERE status = ?`, string(SyncRunning)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("catalog: check running: %w", err)
	}
	return count > 0, nil
}

// RecentRuns returns the most recent sync runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, status, added, updated, unchanged, duration_ms, error
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: recent runs: %w", err)
	}
	defer rows.Close()

	var out []SyncRun
	for rows.Next() {
		var r SyncRun
		var completedAt sql.NullTime
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.StartedAt, &completedAt, &r.Status, &r.Added, &r.Updated, &r.Unchanged, &durationMs, &r.Error); err != nil {
			return nil, err
		}
		r.CompletedAt = completedAt.Time
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
