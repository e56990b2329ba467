// Package coinstall implements co-install tracking as a thin façade over
// the catalog store's co_install_edges table, which the catalog package
// owns and migrates.
package coinstall

import (
	"context"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

// DefaultMinCount is the install count a co-install edge must reach
// before it is surfaced by TopCoInstalls.
const DefaultMinCount = 5

// DefaultLimit is the default number of co-installs returned.
const DefaultLimit = 5

// Graph is the co-install graph contract: record_co_install,
// record_session, top_co_installs.
type Graph struct {
	store *catalog.Store
}

// New builds a Graph backed by store.
func New(store *catalog.Store) *Graph {
	return &Graph{store: store}
}

// RecordCoInstall upserts both (a,b) and (b,a) with install_count
// incremented. Self-pairs are a no-op.
func (g *Graph) RecordCoInstall(ctx context.Context, a, b string) error {
	return g.store.RecordCoInstall(ctx, a, b)
}

// RecordSession records every pairwise co-install once for a session's
// set of installed skill ids.
func (g *Graph) RecordSession(ctx context.Context, skillIDs []string) error {
	return g.store.RecordSession(ctx, skillIDs)
}

// Summary is one co-installed skill and its install count.
type Summary = catalog.CoInstallSummary

// TopCoInstalls returns the skills most frequently co-installed with id,
// surfaced only once install_count reaches minCount.
func (g *Graph) TopCoInstalls(ctx context.Context, id string, limit, minCount int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if minCount <= 0 {
		minCount = DefaultMinCount
	}
	return g.store.TopCoInstalls(ctx, id, limit, minCount)
}
