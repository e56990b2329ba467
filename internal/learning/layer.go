package learning

import (
	"context"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

// Layer composes the four learning sub-pieces into the one object cmd/skillsmithd
// wires up: signal collection, the EWC++ pattern store, consolidation,
// and verdict queries.
type Layer struct {
	*Collector
	Patterns     *PatternStore
	Consolidator *Consolidator
	Verdicts     *VerdictQuery
}

// New builds a fully wired Layer over store, using embedder for context
// embedding (nil disables semantic gradients and falls back to
// zero-vector embeddings of the configured dimension).
func New(store *catalog.Store, embedder Embedder, cfg config.LearningConfig) *Layer {
	patterns := NewPatternStore(store, embedder, cfg)
	return &Layer{
		Collector:    NewCollector(store, patterns),
		Patterns:     patterns,
		Consolidator: NewConsolidator(store, cfg),
		Verdicts:     NewVerdictQuery(store, cfg),
	}
}

// MaybeConsolidate runs one consolidation pass if the trigger condition
// holds, otherwise it is a no-op. Callers (e.g. a post-signal hook or a
// scheduled tick) can call this unconditionally.
func (l *Layer) MaybeConsolidate(ctx context.Context) (Result, bool, error) {
	should, err := l.Consolidator.ShouldRun(ctx)
	if err != nil || !should {
		return Result{}, false, err
	}
	res, err := l.Consolidator.Run(ctx)
	return res, err == nil, err
}
