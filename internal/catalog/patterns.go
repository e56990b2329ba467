package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertPattern writes a new learning pattern row.
func (s *Store) InsertPattern(ctx context.Context, p Pattern) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastAccessedAt.IsZero() {
		p.LastAccessedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns(
			id, embedding, skill_id, skill_features, outcome_type, reward, original_score,
			source, importance, access_count, created_at, last_accessed_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, p.ID, EncodeEmbedding(p.Embedding), p.SkillID, p.SkillFeatures, string(p.OutcomeType), p.Reward,
		p.OriginalScore, string(p.Source), p.Importance, p.AccessCount, p.CreatedAt, p.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("catalog: insert pattern: %w", err)
	}
	return nil
}

// TouchPattern increments access_count and last_accessed_at for a pattern
// retrieved by a similarity query.
func (s *Store) TouchPattern(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		time.Now(), id)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: touch pattern: %w", err)
	}
	return nil
}

// UpdatePatternImportance writes a recomputed importance value.
func (s *Store) UpdatePatternImportance(ctx context.Context, id string, importance float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE patterns SET importance = ? WHERE id = ?`, importance, id)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: update importance: %w", err)
	}
	return nil
}

// AllPatterns returns every pattern row. Missing table yields an empty
// slice. Callers needing scale limits (top_by_confidence) pass a cap via
// the learning layer, not here.
func (s *Store) AllPatterns(ctx context.Context) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, skill_id, skill_features, outcome_type, reward, original_score,
			source, importance, access_count, created_at, last_accessed_at
		FROM patterns`)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: all patterns: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// PatternsForSkill returns every pattern recorded against skillID.
func (s *Store) PatternsForSkill(ctx context.Context, skillID string) ([]Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, skill_id, skill_features, outcome_type, reward, original_score,
			source, importance, access_count, created_at, last_accessed_at
		FROM patterns WHERE skill_id = ?`, skillID)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: patterns for skill: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func scanPatterns(rows *sql.Rows) ([]Pattern, error) {
	var out []Pattern
	for rows.Next() {
		var p Pattern
		var embBlob []byte
		if err := rows.Scan(&p.ID, &embBlob, &p.SkillID, &p.SkillFeatures, &p.OutcomeType, &p.Reward,
			&p.OriginalScore, &p.Source, &p.Importance, &p.AccessCount, &p.CreatedAt, &p.LastAccessedAt); err != nil {
			return nil, err
		}
		p.Embedding = DecodeEmbedding(embBlob)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePatterns removes patterns by id, used by consolidation pruning.
func (s *Store) DeletePatterns(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM patterns WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("catalog: prepare prune: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("catalog: prune pattern %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CountPatterns returns the total number of stored patterns.
func (s *Store) CountPatterns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n)
	if err != nil {
		if tableMissing(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("catalog: count patterns: %w", err)
	}
	return n, nil
}

// FisherState is the in-memory view of the fisher_info singleton row.
type FisherState struct {
	UpdateCount int
	Importance  []float32
	RunningSum  []float32
}

// GetFisherState reads the singleton fisher_info row.
func (s *Store) GetFisherState(ctx context.Context) (FisherState, error) {
	var fs FisherState
	var imp, sum []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT update_count, importance, running_sum FROM fisher_info WHERE id = 1`,
	).Scan(&fs.UpdateCount, &imp, &sum)
	if err != nil {
		return FisherState{}, fmt.Errorf("catalog: get fisher state: %w", err)
	}
	fs.Importance = DecodeEmbedding(imp)
	fs.RunningSum = DecodeEmbedding(sum)
	return fs, nil
}

// SaveFisherState persists the fisher_info singleton row atomically.
func (s *Store) SaveFisherState(ctx context.Context, fs FisherState) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fisher_info SET update_count = ?, importance = ?, running_sum = ? WHERE id = 1
	`, fs.UpdateCount, EncodeEmbedding(fs.Importance), EncodeEmbedding(fs.RunningSum))
	if err != nil {
		return fmt.Errorf("catalog: save fisher state: %w", err)
	}
	return nil
}

// RecordConsolidation writes a consolidation-history row.
func (s *Store) RecordConsolidation(ctx context.Context, id string, processed, preserved, pruned int, preservationRate float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consolidation_history(id, ran_at, processed, preserved, pruned, preservation_rate)
		VALUES (?,?,?,?,?,?)
	`, id, time.Now(), processed, preserved, pruned, preservationRate)
	if err != nil {
		return fmt.Errorf("catalog: record consolidation: %w", err)
	}
	return nil
}

// LastConsolidation returns the processed count recorded by the most
// recent consolidation run, and false if none has ever run.
func (s *Store) LastConsolidation(ctx context.Context) (processed int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT processed FROM consolidation_history ORDER BY ran_at DESC LIMIT 1`,
	).Scan(&processed)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		if tableMissing(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("catalog: last consolidation: %w", err)
	}
	return processed, true, nil
}

// InsertSignal durably records one user outcome event, ahead of any
// downstream trajectory/pattern conversion.
func (s *Store) InsertSignal(ctx context.Context, sig Signal) error {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals(id, type, skill_id, context, at, reason) VALUES (?,?,?,?,?,?)`,
		sig.ID, string(sig.Type), sig.SkillID, sig.Context, sig.At, sig.Reason)
	if err != nil {
		return fmt.Errorf("catalog: insert signal: %w", err)
	}
	return nil
}

// InsertAudit writes an audit log row.
func (s *Store) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(id, at, event, actor, result, metadata) VALUES (?,?,?,?,?,?)`,
		e.ID, e.At, e.Event, e.Actor, e.Result, e.Metadata)
	if err != nil && !tableMissing(err) {
		return fmt.Errorf("catalog: insert audit: %w", err)
	}
	return nil
}
