package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertSkill inserts or updates a skill by URL (the alternate unique key)
// in a single transaction, keeping the FTS index synchronous with the row.
func (s *Store) UpsertSkill(ctx context.Context, sk Skill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = now
	}
	sk.UpdatedAt = now

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM skills WHERE repo_url = ?`, sk.RepoURL).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		if sk.ID == "" {
			sk.ID = fmt.Sprintf("%s/%s/%s", sk.Source, sk.Author, sk.Name)
		}
	case err != nil:
		return fmt.Errorf("catalog: lookup by url: %w", err)
	default:
		sk.ID = existingID
	}

	var embBlob []byte
	if len(sk.Embedding) > 0 {
		embBlob = EncodeEmbedding(sk.Embedding)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skills (
			id, source, author, name, human_name, description, repo_url, default_branch,
			categories, technologies, trust_tier, quality_score, installable, current_version,
			char_budget, scan_status, stars, forks, trigger_phrases, output_patterns,
			has_tests, has_examples, embedding,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			source=excluded.source, author=excluded.author, name=excluded.name,
			human_name=excluded.human_name, description=excluded.description,
			repo_url=excluded.repo_url, default_branch=excluded.default_branch,
			categories=excluded.categories, technologies=excluded.technologies,
			trust_tier=excluded.trust_tier, quality_score=excluded.quality_score,
			installable=excluded.installable, current_version=excluded.current_version,
			char_budget=excluded.char_budget, scan_status=excluded.scan_status,
			stars=excluded.stars, forks=excluded.forks,
			trigger_phrases=excluded.trigger_phrases, output_patterns=excluded.output_patterns,
			has_tests=excluded.has_tests, has_examples=excluded.has_examples,
			embedding=excluded.embedding, updated_at=excluded.updated_at
	`,
		sk.ID, sk.Source, sk.Author, sk.Name, sk.HumanName, sk.Description, sk.RepoURL, sk.DefaultBranch,
		joinCSV(sk.Categories), joinCSV(sk.Technologies), string(sk.TrustTier), sk.QualityScore,
		boolToInt(sk.Installable), sk.CurrentVersion, sk.CharBudget, string(sk.ScanStatus),
		sk.Stars, sk.Forks, joinCSV(sk.TriggerPhrases), joinCSV(sk.OutputPatterns),
		boolToInt(sk.HasTests), boolToInt(sk.HasExamples), embBlob,
		sk.CreatedAt, sk.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert skill: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM skills_fts WHERE id = ?`, sk.ID); err != nil {
		return fmt.Errorf("catalog: clear fts row: %w", err)
	}
	tags := strings.Join(append(append([]string{}, sk.Categories...), sk.Technologies...), " ")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO skills_fts(id, name, description, tags) VALUES (?,?,?,?)`,
		sk.ID, sk.HumanName, sk.Description, tags,
	); err != nil {
		return fmt.Errorf("catalog: index fts row: %w", err)
	}

	return tx.Commit()
}

// GetSkill returns the skill with the given id, or sql.ErrNoRows.
func (s *Store) GetSkill(ctx context.Context, id string) (Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, author, name, human_name, description, repo_url, default_branch,
			categories, technologies, trust_tier, quality_score, installable, current_version,
			char_budget, scan_status, stars, forks, trigger_phrases, output_patterns,
			has_tests, has_examples, created_at, updated_at
		FROM skills WHERE id = ?`, id)
	return scanSkill(row)
}

// GetSkillByURL returns the skill with the given repo URL, or sql.ErrNoRows.
func (s *Store) GetSkillByURL(ctx context.Context, url string) (Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, author, name, human_name, description, repo_url, default_branch,
			categories, technologies, trust_tier, quality_score, installable, current_version,
			char_budget, scan_status, stars, forks, trigger_phrases, output_patterns,
			has_tests, has_examples, created_at, updated_at
		FROM skills WHERE repo_url = ?`, url)
	return scanSkill(row)
}

func scanSkill(row *sql.Row) (Skill, error) {
	var sk Skill
	var categories, technologies, triggers, patterns string
	var installable, hasTests, hasExamples int
	err := row.Scan(
		&sk.ID, &sk.Source, &sk.Author, &sk.Name, &sk.HumanName, &sk.Description, &sk.RepoURL, &sk.DefaultBranch,
		&categories, &technologies, &sk.TrustTier, &sk.QualityScore, &installable, &sk.CurrentVersion,
		&sk.CharBudget, &sk.ScanStatus, &sk.Stars, &sk.Forks, &triggers, &patterns,
		&hasTests, &hasExamples, &sk.CreatedAt, &sk.UpdatedAt,
	)
	if err != nil {
		return Skill{}, err
	}
	sk.Categories = splitCSV(categories)
	sk.Technologies = splitCSV(technologies)
	sk.TriggerPhrases = splitCSV(triggers)
	sk.OutputPatterns = splitCSV(patterns)
	sk.Installable = installable != 0
	sk.HasTests = hasTests != 0
	sk.HasExamples = hasExamples != 0
	return sk, nil
}

// FTSCandidate is one keyword-ranked search hit from SearchFTS.
type FTSCandidate struct {
	SkillID string
	Rank    float64 // higher is better; negated bm25
}

// SearchFTS runs the full-text query against the skills_fts index. A
// missing table (pre-migration) yields an empty result, never an error.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) ([]FTSCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bm25(skills_fts) AS rank
		FROM skills_fts WHERE skills_fts MATCH ?
		ORDER BY rank LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		if tableMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: fts search: %w", err)
	}
	defer rows.Close()

	var out []FTSCandidate
	for rows.Next() {
		var c FTSCandidate
		if err := rows.Scan(&c.SkillID, &c.Rank); err != nil {
			return nil, err
		}
		c.Rank = -c.Rank // bm25 is ascending-is-better; negate for descending
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllEmbeddings returns every skill id with a non-null embedding, for
// semantic candidate scanning. Missing table yields an empty result.
func (s *Store) AllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM skills WHERE embedding IS NOT NULL`)
	if err != nil {
		if tableMissing(err) {
			return map[string][]float32{}, nil
		}
		return nil, fmt.Errorf("catalog: scan embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		out[id] = DecodeEmbedding(blob)
	}
	return out, rows.Err()
}

// ftsQuery escapes a raw user query into an FTS5 MATCH expression by
// quoting it as a single phrase, avoiding FTS5 operator injection.
func ftsQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func joinCSV(xs []string) string { return strings.Join(xs, ",") }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
