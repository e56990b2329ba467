package search

import (
	"context"
	"testing"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

func newTestService(t *testing.T) (*Service, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(catalog.Config{Path: ":memory:", EmbeddingDims: 4})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, nil, DefaultWeights()), store
}

func putSkill(t *testing.T, store *catalog.Store, id, name, desc string, quality float64, tier catalog.TrustTier, updatedAt time.Time) {
	t.Helper()
	sk := catalog.Skill{
		ID: id, Source: "code-host", Author: "acme", Name: name, HumanName: name,
		Description: desc, RepoURL: "https://example.com/" + id,
		TrustTier: tier, QualityScore: quality, Installable: true,
		ScanStatus: catalog.ScanPassed, UpdatedAt: updatedAt,
	}
	if err := store.UpsertSkill(context.Background(), sk); err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
}

func TestSearch_RejectsEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Search(context.Background(), Query{Text: "   "})
	if err != ErrEmptyQuery {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSearch_FindsAndRanksByRelevance(t *testing.T) {
	svc, store := newTestService(t)
	putSkill(t, store, "s1", "react-helper", "Helpers for react testing", 0.9, catalog.TrustVerified, time.Now())
	putSkill(t, store, "s2", "vue-helper", "Helpers for vue testing", 0.9, catalog.TrustVerified, time.Now())

	resp, err := svc.Search(context.Background(), Query{Text: "react"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 1 || resp.Results[0].Skill.ID != "s1" {
		t.Fatalf("expected only s1 to match 'react', got %+v", resp.Results)
	}
}

func TestSearch_FiltersAppliedAfterRanking(t *testing.T) {
	svc, store := newTestService(t)
	putSkill(t, store, "s1", "react-helper", "react testing tool", 0.9, catalog.TrustVerified, time.Now())
	putSkill(t, store, "s2", "react-helper-community", "react testing tool community edition", 0.5, catalog.TrustCommunity, time.Now())

	resp, err := svc.Search(context.Background(), Query{
		Text:    "react testing",
		Filters: Filters{TrustTier: catalog.TrustVerified},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range resp.Results {
		if r.Skill.TrustTier != catalog.TrustVerified {
			t.Errorf("filter leaked non-verified skill %s", r.Skill.ID)
		}
	}
}

func TestSearch_PaginatesStably(t *testing.T) {
	svc, store := newTestService(t)
	for i := 0; i < 5; i++ {
		putSkill(t, store, idx(i), "toolkit", "shared toolkit description", 0.5, catalog.TrustVerified, time.Now())
	}

	first, err := svc.Search(context.Background(), Query{Text: "toolkit", Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("search page 1: %v", err)
	}
	second, err := svc.Search(context.Background(), Query{Text: "toolkit", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("search page 2: %v", err)
	}
	if len(first.Results) != 2 || len(second.Results) != 2 {
		t.Fatalf("expected 2 results per page, got %d and %d", len(first.Results), len(second.Results))
	}
	if first.Results[0].Skill.ID == second.Results[0].Skill.ID {
		t.Error("pages should not overlap")
	}
	if !first.HasMore {
		t.Error("expected HasMore=true on first page of 5 total with limit 2")
	}
}

func TestSearch_CacheServesRepeatQueryAndInvalidates(t *testing.T) {
	svc, store := newTestService(t)
	putSkill(t, store, "s1", "cache-test", "cache test description", 0.9, catalog.TrustVerified, time.Now())

	resp1, err := svc.Search(context.Background(), Query{Text: "cache"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp1.Total != 1 {
		t.Fatalf("expected 1 result, got %d", resp1.Total)
	}

	putSkill(t, store, "s2", "cache-test-two", "cache test description two", 0.9, catalog.TrustVerified, time.Now())
	resp2, err := svc.Search(context.Background(), Query{Text: "cache"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp2.Total != 1 {
		t.Errorf("expected cache to still serve stale result before invalidation, got total=%d", resp2.Total)
	}

	svc.InvalidateCache()
	resp3, err := svc.Search(context.Background(), Query{Text: "cache"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp3.Total != 2 {
		t.Errorf("expected fresh result after invalidation, got total=%d", resp3.Total)
	}
}

func TestRecencyDecay_NewerScoresHigher(t *testing.T) {
	now := recencyDecay(time.Now())
	old := recencyDecay(time.Now().Add(-60 * 24 * time.Hour))
	if now <= old {
		t.Errorf("expected recent skill to decay less: now=%f old=%f", now, old)
	}
}

func idx(i int) string {
	return string(rune('a'+i)) + "-toolkit"
}
