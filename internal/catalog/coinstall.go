package catalog

import (
	"context"
	"fmt"
)

// RecordCoInstall upserts both orderings of (a, b) with install_count
// incremented, in the same transaction. Self-pairs are a no-op.
func (s *Store) RecordCoInstall(ctx context.Context, a, b string) error {
	if a == b {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin co-install: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO co_install_edges(skill_a, skill_b, install_count) VALUES (?,?,1)
			ON CONFLICT(skill_a, skill_b) DO UPDATE SET install_count = install_count + 1
		`, pair[0], pair[1])
		if err != nil {
			if tableMissing(err) {
				return nil
			}
			return fmt.Errorf("catalog: upsert co-install edge: %w", err)
		}
	}

	return tx.Commit()
}

// RecordSession records every pairwise co-install once for a session's
// set of installed skill ids.
func (s *Store) RecordSession(ctx context.Context, skillIDs []string) error {
	for i := 0; i < len(skillIDs); i++ {
		for j := i + 1; j < len(skillIDs); j++ {
			if err := s.RecordCoInstall(ctx, skillIDs[i], skillIDs[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// CoInstallSummary is one entry in a top_co_installs result.
type CoInstallSummary struct {
	SkillID      string
	InstallCount int
}

// TopCoInstalls returns skills most frequently co-installed with id,
// surfaced only once install_count reaches minCount (default 5).
func (s *Store) TopCoInstalls(ctx context.Context, id string, limit, minCount int) ([]CoInstallSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	if minCount <= 0 {
		minCount = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.skill_b, e.install_count
		FROM co_install_edges e
		JOIN skills sk ON sk.id = e.skill_b
		WHERE e.skill_a = ? AND e.install_count >= ?
		ORDER BY e.install_count DESC, e.skill_b ASC
		LIMIT ?`, id, minCount, limit)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: top co-installs: %w", err)
	}
	defer rows.Close()

	var out []CoInstallSummary
	for rows.Next() {
		var c CoInstallSummary
		if err := rows.Scan(&c.SkillID, &c.InstallCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
