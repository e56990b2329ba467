package learning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

// minPatternsBeforeTrigger guards against the ratio trigger firing on
// the first few writes, when patterns_since_last_consolidation/total is
// always 1 against an empty history.
const minPatternsBeforeTrigger = 10

// consolidationConcurrency bounds the fan-out used to compute each
// pattern's retention importance, shaped like a
// orchestrator.ToolLoop errgroup.WithContext + SetLimit pattern.
const consolidationConcurrency = 8

// Consolidator runs the periodic EWC++ pruning pass: compute per-pattern
// retention importance, sort ascending, and prune from the bottom until
// the remaining set clears both the importance floor and the max-size
// target. Shaped like a memory.Consolidator's
// periodic-task shape, generalized from time-ticker eviction to an
// on-demand, ratio-triggered pass.
type Consolidator struct {
	store *catalog.Store
	cfg   config.LearningConfig
}

// NewConsolidator builds a Consolidator with default tunables
// filled in, matching PatternStore's defaulting.
func NewConsolidator(store *catalog.Store, cfg config.LearningConfig) *Consolidator {
	if cfg.ConsolidationThreshold == 0 {
		cfg.ConsolidationThreshold = 0.1
	}
	if cfg.ImportanceThreshold == 0 {
		cfg.ImportanceThreshold = 0.01
	}
	if cfg.MaxPatterns == 0 {
		cfg.MaxPatterns = 10_000
	}
	if cfg.Lambda == 0 {
		cfg.Lambda = 5
	}
	return &Consolidator{store: store, cfg: cfg}
}

// ShouldRun reports whether the consolidation trigger condition holds:
// patterns_since_last_consolidation/total_patterns >= threshold, or
// total_patterns > max_patterns.
func (c *Consolidator) ShouldRun(ctx context.Context) (bool, error) {
	total, err := c.store.CountPatterns(ctx)
	if err != nil {
		return false, fmt.Errorf("learning: count patterns: %w", err)
	}
	if total == 0 {
		return false, nil
	}
	if total > c.cfg.MaxPatterns {
		return true, nil
	}
	if total < minPatternsBeforeTrigger {
		return false, nil
	}

	lastProcessed, ok, err := c.store.LastConsolidation(ctx)
	if err != nil {
		return false, fmt.Errorf("learning: last consolidation: %w", err)
	}
	sinceLast := total
	if ok {
		sinceLast = total - lastProcessed
		if sinceLast < 0 {
			sinceLast = 0
		}
	}
	return float64(sinceLast)/float64(total) >= c.cfg.ConsolidationThreshold, nil
}

// Result summarizes one consolidation pass.
type Result struct {
	Processed        int
	Preserved        int
	Pruned           int
	PreservationRate float64 // of patterns with reward>0 and access_count>0
}

// Run executes one consolidation pass unconditionally (callers gate on
// ShouldRun). Importance is recomputed for every pattern concurrently,
// bounded by consolidationConcurrency, then the bottom of the
// ascending-importance list is pruned until the count is at or below
// max_patterns*0.9 and the lowest remaining pattern clears
// importance_threshold.
func (c *Consolidator) Run(ctx context.Context) (Result, error) {
	all, err := c.store.AllPatterns(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("learning: load patterns: %w", err)
	}
	if len(all) == 0 {
		return Result{}, nil
	}

	fs, err := c.store.GetFisherState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("learning: get fisher state: %w", err)
	}

	scoredAll := make([]scoredImportance, len(all))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(consolidationConcurrency)
	now := time.Now()
	for i, pat := range all {
		i, pat := i, pat
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			ageDays := now.Sub(pat.CreatedAt).Hours() / 24
			imp := retentionImportance(pat.Reward, ageDays, pat.AccessCount, fs.Importance, pat.Embedding, c.cfg.Lambda)
			scoredAll[i] = scoredImportance{pat: pat, importance: imp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("learning: compute importances: %w", err)
	}

	sort.Slice(scoredAll, func(i, j int) bool { return scoredAll[i].importance < scoredAll[j].importance })

	// Prune from the bottom until both conditions clear: the count has
	// dropped to the 90%-of-max target AND the next candidate's importance
	// is no longer below the floor. Either alone is insufficient — a fresh
	// batch's importance floor (reward magnitude, never near zero) almost
	// always already clears importance_threshold, so an OR here would stop
	// at keepFrom=0 and never prune a genuinely oversized pattern set.
	targetMax := int(float64(c.cfg.MaxPatterns) * 0.9)
	keepFrom := 0
	for keepFrom < len(scoredAll) {
		remaining := len(scoredAll) - keepFrom
		underTarget := remaining <= targetMax
		aboveFloor := scoredAll[keepFrom].importance >= c.cfg.ImportanceThreshold
		if underTarget && aboveFloor {
			break
		}
		keepFrom++
	}

	var prunedIDs []string
	preservedPositive, totalPositive := 0, 0
	for i, s := range scoredAll {
		if s.pat.Reward > 0 && s.pat.AccessCount > 0 {
			totalPositive++
		}
		if i < keepFrom {
			prunedIDs = append(prunedIDs, s.pat.ID)
			continue
		}
		if s.pat.Reward > 0 && s.pat.AccessCount > 0 {
			preservedPositive++
		}
		if s.importance != s.pat.Importance {
			_ = c.store.UpdatePatternImportance(ctx, s.pat.ID, s.importance)
		}
	}

	if err := c.store.DeletePatterns(ctx, prunedIDs); err != nil {
		return Result{}, fmt.Errorf("learning: delete pruned patterns: %w", err)
	}

	rate := 1.0
	if totalPositive > 0 {
		rate = float64(preservedPositive) / float64(totalPositive)
	}

	result := Result{
		Processed:        len(scoredAll),
		Preserved:        len(scoredAll) - len(prunedIDs),
		Pruned:           len(prunedIDs),
		PreservationRate: rate,
	}
	if err := c.store.RecordConsolidation(ctx, uuid.NewString(), result.Processed, result.Preserved, result.Pruned, result.PreservationRate); err != nil {
		return result, fmt.Errorf("learning: record consolidation: %w", err)
	}
	return result, nil
}

type scoredImportance struct {
	pat        catalog.Pattern
	importance float64
}
