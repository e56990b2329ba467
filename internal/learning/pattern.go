package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

// PatternStore is the EWC++ pattern store: every write embeds the
// trajectory's context, derives a gradient against the most-similar
// existing pattern, folds that gradient into the singleton Fisher
// state, and persists the pattern with a retention-importance value.
// Shaped like a memory package's ScoreConfig/CalculateScore
// (importance x recency x reinforcement shape), generalized to a
// per-dimension Fisher-weighted formula.
type PatternStore struct {
	store    *catalog.Store
	embedder Embedder
	cfg      config.LearningConfig

	// mu serializes writes so Fisher-state read-modify-write is
	// effectively per-process atomic (§4.9 concurrency: signal record
	// operations must be serializable per-skill; a single mutex across
	// all skills is a conservative superset of that requirement).
	mu sync.Mutex
}

// NewPatternStore builds a PatternStore with default tunables
// filled in for any zero-valued field.
func NewPatternStore(store *catalog.Store, embedder Embedder, cfg config.LearningConfig) *PatternStore {
	if cfg.FisherDecay == 0 {
		cfg.FisherDecay = 0.95
	}
	if cfg.Lambda == 0 {
		cfg.Lambda = 5
	}
	if cfg.ConsolidationThreshold == 0 {
		cfg.ConsolidationThreshold = 0.1
	}
	if cfg.ImportanceThreshold == 0 {
		cfg.ImportanceThreshold = 0.01
	}
	if cfg.MaxPatterns == 0 {
		cfg.MaxPatterns = 10_000
	}
	if cfg.MinPatternsForVerdict == 0 {
		cfg.MinPatternsForVerdict = 3
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.6
	}
	return &PatternStore{store: store, embedder: embedder, cfg: cfg}
}

// Write embeds the trajectory's observation, updates the Fisher state
// from the gradient against the most-similar existing pattern, and
// persists the new pattern row.
func (p *PatternStore) Write(ctx context.Context, traj Trajectory, originalScore float64) (catalog.Pattern, error) {
	embedding, err := p.embed(ctx, traj.Observation)
	if err != nil {
		return catalog.Pattern{}, fmt.Errorf("learning: embed context: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.store.AllPatterns(ctx)
	if err != nil {
		return catalog.Pattern{}, fmt.Errorf("learning: load patterns: %w", err)
	}

	fs, err := p.store.GetFisherState(ctx)
	if err != nil {
		return catalog.Pattern{}, fmt.Errorf("learning: get fisher state: %w", err)
	}

	if mostSimilar, ok := mostSimilarPattern(embedding, existing, fs.Importance); ok {
		if g := gradient(embedding, mostSimilar.Embedding); g != nil {
			fs = updateFisher(fs, g, p.cfg.FisherDecay)
			if err := p.store.SaveFisherState(ctx, fs); err != nil {
				return catalog.Pattern{}, fmt.Errorf("learning: save fisher state: %w", err)
			}
		}
	}

	importance := retentionImportance(traj.Reward, 0, 0, fs.Importance, embedding, p.cfg.Lambda)

	pat := catalog.Pattern{
		ID:             patternID(traj.SkillID, traj.Observation, string(traj.Type)),
		Embedding:      embedding,
		SkillID:        traj.SkillID,
		SkillFeatures:  traj.Observation,
		OutcomeType:    traj.Type,
		Reward:         traj.Reward,
		OriginalScore:  originalScore,
		Source:         traj.Source,
		Importance:     importance,
		AccessCount:    0,
		CreatedAt:      traj.Timestamp,
		LastAccessedAt: traj.Timestamp,
	}
	if pat.CreatedAt.IsZero() {
		pat.CreatedAt = time.Now()
		pat.LastAccessedAt = pat.CreatedAt
	}
	if err := p.store.InsertPattern(ctx, pat); err != nil {
		return catalog.Pattern{}, fmt.Errorf("learning: insert pattern: %w", err)
	}
	return pat, nil
}

func (p *PatternStore) embed(ctx context.Context, text string) ([]float32, error) {
	if p.embedder == nil {
		return make([]float32, p.store.Dims()), nil
	}
	return p.embedder.Embed(ctx, text)
}

// mostSimilarPattern finds the existing pattern with the highest
// Fisher-weighted cosine similarity to embedding.
func mostSimilarPattern(embedding []float32, existing []catalog.Pattern, importance []float32) (catalog.Pattern, bool) {
	var best catalog.Pattern
	bestSim := -1.0
	found := false
	for _, pat := range existing {
		sim := weightedCosine(embedding, pat.Embedding, importance)
		if sim > bestSim {
			bestSim = sim
			best = pat
			found = true
		}
	}
	return best, found
}

// Query retrieves the top-n patterns ranked by Fisher-weighted cosine
// similarity to the embedding of context, touching each returned
// pattern's access bookkeeping.
func (p *PatternStore) Query(ctx context.Context, queryContext string, n int) ([]catalog.Pattern, error) {
	embedding, err := p.embed(ctx, queryContext)
	if err != nil {
		return nil, fmt.Errorf("learning: embed query: %w", err)
	}

	fs, err := p.store.GetFisherState(ctx)
	if err != nil {
		return nil, fmt.Errorf("learning: get fisher state: %w", err)
	}

	all, err := p.store.AllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("learning: load patterns: %w", err)
	}

	ranked := make([]scoredPattern, 0, len(all))
	for _, pat := range all {
		ranked = append(ranked, scoredPattern{pat: pat, sim: weightedCosine(embedding, pat.Embedding, fs.Importance)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}
	out := make([]catalog.Pattern, 0, n)
	for _, r := range ranked[:n] {
		_ = p.store.TouchPattern(ctx, r.pat.ID)
		out = append(out, r.pat)
	}
	return out, nil
}

type scoredPattern struct {
	pat catalog.Pattern
	sim float64
}
