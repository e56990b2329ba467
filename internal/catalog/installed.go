package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RecordInstall writes an InstalledSkill row, enforcing "at most one
// active InstalledSkill per skill id" by upserting on the skill_id key and
// marking that single row active.
func (s *Store) RecordInstall(ctx context.Context, inst InstalledSkill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin install: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if inst.InstalledAt.IsZero() {
		inst.InstalledAt = time.Now()
	}
	inst.Active = true

	_, err = tx.ExecContext(ctx, `
		INSERT INTO installed_skills(
			skill_id, version, path, installed_at, activation_count, last_activated, char_budget, active,
			priority, priority_locked
		) VALUES (?,?,?,?,?,?,?,1,?,?)
		ON CONFLICT(skill_id) DO UPDATE SET
			version=excluded.version, path=excluded.path, installed_at=excluded.installed_at,
			activation_count=excluded.activation_count, last_activated=excluded.last_activated,
			char_budget=excluded.char_budget, active=1,
			priority=excluded.priority, priority_locked=excluded.priority_locked
	`, inst.SkillID, inst.Version, inst.Path, inst.InstalledAt, inst.ActivationCount, inst.LastActivated, inst.CharBudget,
		string(inst.Priority), boolToInt(inst.PriorityLocked))
	if err != nil {
		return fmt.Errorf("catalog: record install: %w", err)
	}

	return tx.Commit()
}

// UninstallSkill deactivates the InstalledSkill row for skillID. remove
// controls whether the row is dropped entirely (remove=true) or kept as
// an inactive historical record (remove=false).
func (s *Store) UninstallSkill(ctx context.Context, skillID string, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if remove {
		_, err = s.db.ExecContext(ctx, `DELETE FROM installed_skills WHERE skill_id = ?`, skillID)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE installed_skills SET active = 0 WHERE skill_id = ?`, skillID)
	}
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: uninstall: %w", err)
	}
	return nil
}

// GetInstalled returns the InstalledSkill row for skillID.
func (s *Store) GetInstalled(ctx context.Context, skillID string) (InstalledSkill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var inst InstalledSkill
	var lastActivated sql.NullTime
	var active, priorityLocked int
	var priority string
	err := s.db.QueryRowContext(ctx, `
		SELECT skill_id, version, path, installed_at, activation_count, last_activated, char_budget, active,
			priority, priority_locked
		FROM installed_skills WHERE skill_id = ?`, skillID,
	).Scan(&inst.SkillID, &inst.Version, &inst.Path, &inst.InstalledAt, &inst.ActivationCount,
		&lastActivated, &inst.CharBudget, &active, &priority, &priorityLocked)
	if err != nil {
		return InstalledSkill{}, err
	}
	inst.LastActivated = lastActivated.Time
	inst.Active = active != 0
	inst.Priority = Priority(priority)
	inst.PriorityLocked = priorityLocked != 0
	return inst, nil
}

// ListInstalled returns every active InstalledSkill. Missing table is an
// empty list, not an error.
func (s *Store) ListInstalled(ctx context.Context) ([]InstalledSkill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT skill_id, version, path, installed_at, activation_count, last_activated, char_budget, active,
			priority, priority_locked
		FROM installed_skills WHERE active = 1`)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: list installed: %w", err)
	}
	defer rows.Close()

	var out []InstalledSkill
	for rows.Next() {
		var inst InstalledSkill
		var lastActivated sql.NullTime
		var active, priorityLocked int
		var priority string
		if err := rows.Scan(&inst.SkillID, &inst.Version, &inst.Path, &inst.InstalledAt,
			&inst.ActivationCount, &lastActivated, &inst.CharBudget, &active, &priority, &priorityLocked); err != nil {
			return nil, err
		}
		inst.LastActivated = lastActivated.Time
		inst.Active = active != 0
		inst.Priority = Priority(priority)
		inst.PriorityLocked = priorityLocked != 0
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SetPriority pins skillID's activation priority. If the existing row is
// priority_locked and lock is false (a caller trying to change an
// operator-locked priority without re-asserting the lock), the update is
// rejected so an unprivileged caller can't silently override a pinned
// priority.
func (s *Store) SetPriority(ctx context.Context, skillID string, p Priority, lock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existingLocked int
	err := s.db.QueryRowContext(ctx,
		`SELECT priority_locked FROM installed_skills WHERE skill_id = ?`, skillID,
	).Scan(&existingLocked)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("catalog: set priority: skill %s not installed", skillID)
		}
		return fmt.Errorf("catalog: set priority: %w", err)
	}
	if existingLocked != 0 && !lock {
		return fmt.Errorf("catalog: set priority: %s priority is locked", skillID)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE installed_skills SET priority = ?, priority_locked = ? WHERE skill_id = ?`,
		string(p), boolToInt(lock), skillID,
	)
	if err != nil {
		return fmt.Errorf("catalog: set priority: %w", err)
	}
	return nil
}

// GetPriorities returns the priority for each of skillIDs that is
// currently installed. Skill ids with no installed_skills row are
// omitted rather than reported as PriorityDefault.
func (s *Store) GetPriorities(ctx context.Context, skillIDs []string) (map[string]Priority, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Priority, len(skillIDs))
	if len(skillIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(skillIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(skillIDs))
	for i, id := range skillIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT skill_id, priority FROM installed_skills WHERE skill_id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		if tableMissing(err) {
			return out, nil
		}
		return nil, fmt.Errorf("catalog: get priorities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, priority string
		if err := rows.Scan(&id, &priority); err != nil {
			return nil, err
		}
		out[id] = Priority(priority)
	}
	return out, rows.Err()
}

// RecordActivation increments activation_count and sets last_activated
// for an active InstalledSkill, backing the audit_activation operation.
func (s *Store) RecordActivation(ctx context.Context, skillID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE installed_skills SET activation_count = activation_count + 1, last_activated = ?
		 WHERE skill_id = ? AND active = 1`,
		time.Now(), skillID)
	if err != nil {
		return fmt.Errorf("catalog: record activation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: record activation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("catalog: record activation: %s is not installed", skillID)
	}
	return nil
}

// TotalCharBudget sums char_budget across every active install, used by
// the pre-install safety budget check.
func (s *Store) TotalCharBudget(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(char_budget) FROM installed_skills WHERE active = 1`).Scan(&total)
	if err != nil {
		if tableMissing(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("catalog: total char budget: %w", err)
	}
	return int(total.Int64), nil
}
