package recommend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
	"github.com/skillsmith/skillsmith/internal/search"
)

func TestDetectStack_ManifestFirstHighConfidence(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n\ngo 1.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stack, err := DetectStack(dir, 0)
	if err != nil {
		t.Fatalf("DetectStack: %v", err)
	}
	found := false
	for _, tech := range stack {
		if tech.ID == "go" {
			found = true
			if tech.Confidence < 0.9 {
				t.Errorf("expected high confidence for manifest detection, got %f", tech.Confidence)
			}
			if tech.Version != "1.25" {
				t.Errorf("expected version 1.25, got %q", tech.Version)
			}
		}
	}
	if !found {
		t.Fatal("expected go.mod to be detected")
	}
}

func TestDetectStack_FallsBackToExtensionFrequency(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stack, err := DetectStack(dir, 2)
	if err != nil {
		t.Fatalf("DetectStack: %v", err)
	}
	found := false
	for _, tech := range stack {
		if tech.ID == "python" {
			found = true
			if tech.Confidence >= 0.95 {
				t.Errorf("extension-inferred tech should have lower confidence than manifest, got %f", tech.Confidence)
			}
		}
	}
	if !found {
		t.Fatal("expected python to be inferred from .py files")
	}
}

func newTestEngine(t *testing.T) (*Engine, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(catalog.Config{Path: ":memory:", EmbeddingDims: 4})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := search.New(store, nil, search.DefaultWeights())
	eng := New(svc, store, nil, config.RecommendConfig{QualityWeight: 0.3, ReputationWeight: 0.2, LearnedBias: 0.3})
	return eng, store
}

func TestRecommend_RanksByMatchAndRespectsMaxResults(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	sk := catalog.Skill{
		ID: "s1", Source: "code-host", Author: "acme", Name: "go-helper",
		HumanName: "Go Helper", Description: "helper for go projects",
		RepoURL: "https://example.com/s1", Technologies: []string{"Go"},
		TrustTier: catalog.TrustVerified, QualityScore: 0.8, Installable: true,
		ScanStatus: catalog.ScanPassed,
	}
	if err := store.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n\ngo 1.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := eng.Recommend(ctx, dir, nil, Options{MaxResults: 5})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(out.Recommendations) == 0 {
		t.Fatal("expected at least one recommendation for a go codebase")
	}
	if out.Recommendations[0].Skill.ID != "s1" {
		t.Errorf("expected s1 to be recommended, got %+v", out.Recommendations)
	}
}

func TestRecommend_ExcludeInstalledOmitsInstalledSkills(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	sk := catalog.Skill{
		ID: "s1", Source: "code-host", Author: "acme", Name: "go-helper",
		HumanName: "Go Helper", Description: "helper for go projects",
		RepoURL: "https://example.com/s1", Technologies: []string{"Go"},
		TrustTier: catalog.TrustVerified, QualityScore: 0.8, Installable: true,
	}
	if err := store.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n\ngo 1.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := eng.Recommend(ctx, dir, []catalog.Skill{sk}, Options{ExcludeInstalled: true})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	for _, r := range out.Recommendations {
		if r.Skill.ID == "s1" {
			t.Error("installed skill should have been excluded")
		}
	}
}

func TestGapAnalysis_UncoveredTechBecomesGap(t *testing.T) {
	stack := []Tech{{ID: "go", Name: "Go", Type: TechLanguage, Confidence: 0.95}}
	gaps, coverage := gapAnalysis(stack, map[string]bool{}, nil)
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	if coverage != 0 {
		t.Errorf("expected 0 coverage, got %f", coverage)
	}
	if gaps[0].Severity != SeverityHigh {
		t.Errorf("expected high severity for uncovered language, got %s", gaps[0].Severity)
	}
}

func TestClamp(t *testing.T) {
	if clamp(2, -1, 1) != 1 {
		t.Error("expected clamp to cap at 1")
	}
	if clamp(-2, -1, 1) != -1 {
		t.Error("expected clamp to floor at -1")
	}
}
