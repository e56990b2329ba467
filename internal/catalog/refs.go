package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertAuthor inserts or updates an author by slug.
func (s *Store) UpsertAuthor(ctx context.Context, a Author) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authors(slug, name, reputation) VALUES (?,?,?)
		ON CONFLICT(slug) DO UPDATE SET name=excluded.name, reputation=excluded.reputation
	`, a.Slug, a.Name, a.Reputation)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: upsert author: %w", err)
	}
	return nil
}

// GetAuthor returns the author by slug. A soft reference with no row is
// reported via sql.ErrNoRows, which callers treat as "unknown author".
func (s *Store) GetAuthor(ctx context.Context, slug string) (Author, error) {
	var a Author
	err := s.db.QueryRowContext(ctx, `SELECT slug, name, reputation FROM authors WHERE slug = ?`, slug).
		Scan(&a.Slug, &a.Name, &a.Reputation)
	return a, err
}

// MarkSourceSuccess records a successful sync touch for a source.
func (s *Store) MarkSourceSuccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources(id, last_success, last_error, degraded) VALUES (?,?,'',0)
		ON CONFLICT(id) DO UPDATE SET last_success=excluded.last_success, last_error='', degraded=0
	`, id, time.Now())
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: mark source success: %w", err)
	}
	return nil
}

// MarkSourceDegraded records that a source failed and is now degraded.
func (s *Store) MarkSourceDegraded(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources(id, last_success, last_error, degraded) VALUES (?, NULL, ?, 1)
		ON CONFLICT(id) DO UPDATE SET last_error=excluded.last_error, degraded=1
	`, id, lastError)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: mark source degraded: %w", err)
	}
	return nil
}

// GetSourceHealth returns the health row for id. Missing rows/tables
// report a fresh, non-degraded Source.
func (s *Store) GetSourceHealth(ctx context.Context, id string) (Source, error) {
	var src Source
	var lastSuccess sql.NullTime
	var degraded int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, last_success, last_error, degraded FROM sources WHERE id = ?`, id,
	).Scan(&src.ID, &lastSuccess, &src.LastError, &degraded)
	switch {
	case err == sql.ErrNoRows || tableMissing(err):
		return Source{ID: id}, nil
	case err != nil:
		return Source{}, fmt.Errorf("catalog: source health: %w", err)
	}
	src.LastSuccess = lastSuccess.Time
	src.Degraded = degraded != 0
	return src, nil
}

// ListSourceHealth returns every recorded source's health row, used by
// get_source_health when no source_id narrows the request.
func (s *Store) ListSourceHealth(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, last_success, last_error, degraded FROM sources`)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: list source health: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		var lastSuccess sql.NullTime
		var degraded int
		if err := rows.Scan(&src.ID, &lastSuccess, &src.LastError, &degraded); err != nil {
			return nil, err
		}
		src.LastSuccess = lastSuccess.Time
		src.Degraded = degraded != 0
		out = append(out, src)
	}
	return out, rows.Err()
}

// AddBlocklistEntry blocks a skill from installation unconditionally.
func (s *Store) AddBlocklistEntry(ctx context.Context, e BlocklistEntry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocklist(skill_id, reason, added_at) VALUES (?,?,?)
		ON CONFLICT(skill_id) DO UPDATE SET reason=excluded.reason, added_at=excluded.added_at
	`, e.SkillID, e.Reason, e.AddedAt)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: add blocklist entry: %w", err)
	}
	return nil
}

// RemoveBlocklistEntry lifts a block.
func (s *Store) RemoveBlocklistEntry(ctx context.Context, skillID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocklist WHERE skill_id = ?`, skillID)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: remove blocklist entry: %w", err)
	}
	return nil
}

// ListBlocklist returns every blocklist entry, used by update_blocklist's
// read path.
func (s *Store) ListBlocklist(ctx context.Context) ([]BlocklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT skill_id, reason, added_at FROM blocklist`)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: list blocklist: %w", err)
	}
	defer rows.Close()

	var out []BlocklistEntry
	for rows.Next() {
		var e BlocklistEntry
		if err := rows.Scan(&e.SkillID, &e.Reason, &e.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsBlocklisted reports whether a skill is currently blocked.
func (s *Store) IsBlocklisted(ctx context.Context, skillID string) (bool, error) {
	var reason string
	err := s.db.QueryRowContext(ctx, `SELECT reason FROM blocklist WHERE skill_id = ?`, skillID).Scan(&reason)
	switch {
	case err == sql.ErrNoRows || tableMissing(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("catalog: check blocklist: %w", err)
	}
	return true, nil
}
