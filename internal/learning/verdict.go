package learning

import (
	"context"
	"fmt"
	"sort"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

// topByConfidenceScanLimit bounds top_by_confidence's full scan.
const topByConfidenceScanLimit = 1000

// VerdictResult is one skill's aggregated learned confidence.
type VerdictResult struct {
	SkillID       string
	Confidence    float64 // in [-1, 1]
	PatternCount  int
	HasEnoughData bool
	Breakdown     map[catalog.SignalType]float64
}

// VerdictQuery answers "how has this skill performed" from the pattern
// store, and is the concrete type that satisfies recommend.VerdictProvider
// without internal/recommend ever importing this package.
type VerdictQuery struct {
	store *catalog.Store
	cfg   config.LearningConfig
}

// NewVerdictQuery builds a VerdictQuery with default tunables.
func NewVerdictQuery(store *catalog.Store, cfg config.LearningConfig) *VerdictQuery {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.6
	}
	if cfg.MinPatternsForVerdict == 0 {
		cfg.MinPatternsForVerdict = 3
	}
	return &VerdictQuery{store: store, cfg: cfg}
}

// Verdict implements recommend.VerdictProvider: aggregates confidence
// across a skill's patterns and reports whether enough data exists to
// trust it.
func (q *VerdictQuery) Verdict(ctx context.Context, skillID string) (float64, bool, error) {
	res, err := q.VerdictFor(ctx, skillID)
	if err != nil {
		return 0, false, err
	}
	return res.Confidence, res.HasEnoughData, nil
}

// VerdictFor computes the full verdict breakdown for one skill.
// Patterns are looked up by skill_id directly (they are already scoped
// to this skill by construction), capped at the top 50 most recently
// accessed related patterns.
func (q *VerdictQuery) VerdictFor(ctx context.Context, skillID string) (VerdictResult, error) {
	patterns, err := q.store.PatternsForSkill(ctx, skillID)
	if err != nil {
		return VerdictResult{}, fmt.Errorf("learning: patterns for skill: %w", err)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].LastAccessedAt.After(patterns[j].LastAccessedAt) })
	const maxRelated = 50
	if len(patterns) > maxRelated {
		patterns = patterns[:maxRelated]
	}
	return aggregateVerdict(skillID, patterns, q.cfg.MinPatternsForVerdict), nil
}

// aggregateVerdict implements confidence = (Σpositive_weight −
// Σnegative_weight) / total_weight, weight = similarity x
// verdict.confidence x |reward|. Patterns reached via a direct skill_id
// match carry an implicit similarity of 1.0.
func aggregateVerdict(skillID string, patterns []catalog.Pattern, minPatterns int) VerdictResult {
	breakdown := map[catalog.SignalType]float64{}
	var posWeight, negWeight, totalWeight float64
	for _, p := range patterns {
		reward := p.Reward
		confidence := minF(1, absF(reward))
		weight := 1.0 * confidence * absF(reward)
		totalWeight += weight
		if reward > 0 {
			posWeight += weight
		} else if reward < 0 {
			negWeight += weight
		}
		breakdown[p.OutcomeType] += reward
	}

	confidence := 0.0
	if totalWeight > 0 {
		confidence = (posWeight - negWeight) / totalWeight
	}
	return VerdictResult{
		SkillID:       skillID,
		Confidence:    clampF(confidence, -1, 1),
		PatternCount:  len(patterns),
		HasEnoughData: len(patterns) >= minPatterns,
		Breakdown:     breakdown,
	}
}

// BatchVerdict computes verdicts for many skills in one pattern-table
// scan, rather than one PatternsForSkill query per skill.
func (q *VerdictQuery) BatchVerdict(ctx context.Context, skillIDs []string) (map[string]VerdictResult, error) {
	all, err := q.store.AllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("learning: load patterns: %w", err)
	}
	wanted := make(map[string]bool, len(skillIDs))
	for _, id := range skillIDs {
		wanted[id] = true
	}
	bySkill := map[string][]catalog.Pattern{}
	for _, p := range all {
		if wanted[p.SkillID] {
			bySkill[p.SkillID] = append(bySkill[p.SkillID], p)
		}
	}
	out := make(map[string]VerdictResult, len(skillIDs))
	for _, id := range skillIDs {
		out[id] = aggregateVerdict(id, bySkill[id], q.cfg.MinPatternsForVerdict)
	}
	return out, nil
}

// TopByConfidence scans up to topByConfidenceScanLimit patterns, groups
// them by skill id, filters to skills with enough data, and returns the
// top n by confidence descending.
func (q *VerdictQuery) TopByConfidence(ctx context.Context, n int) ([]VerdictResult, error) {
	all, err := q.store.AllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("learning: load patterns: %w", err)
	}
	if len(all) > topByConfidenceScanLimit {
		all = all[:topByConfidenceScanLimit]
	}

	bySkill := map[string][]catalog.Pattern{}
	for _, p := range all {
		bySkill[p.SkillID] = append(bySkill[p.SkillID], p)
	}

	results := make([]VerdictResult, 0, len(bySkill))
	for id, patterns := range bySkill {
		res := aggregateVerdict(id, patterns, q.cfg.MinPatternsForVerdict)
		if res.HasEnoughData {
			results = append(results, res)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	if n > 0 && n < len(results) {
		results = results[:n]
	}
	return results, nil
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
