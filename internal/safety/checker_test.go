package safety

import (
	"context"
	"testing"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

func newTestChecker(t *testing.T) (*Checker, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(catalog.Config{Path: ":memory:", EmbeddingDims: 4})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, config.SafetyConfig{BudgetLimit: 1000}), store
}

func putSkill(t *testing.T, store *catalog.Store, sk catalog.Skill) {
	t.Helper()
	if err := store.UpsertSkill(context.Background(), sk); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestEvaluate_SkillNotFound(t *testing.T) {
	checker, _ := newTestChecker(t)
	resp, err := checker.Evaluate(context.Background(), "missing", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Allowed {
		t.Fatal("expected disallowed for missing skill")
	}
	if resp.BlockedBy != ErrSkillNotFound {
		t.Errorf("expected SKILL_NOT_FOUND, got %s", resp.BlockedBy)
	}
}

func TestEvaluate_Blocklisted(t *testing.T) {
	checker, store := newTestChecker(t)
	ctx := context.Background()
	putSkill(t, store, catalog.Skill{ID: "s1", Source: "x", Author: "a", Name: "n", RepoURL: "u1", ScanStatus: catalog.ScanPassed})
	if err := store.AddBlocklistEntry(ctx, catalog.BlocklistEntry{SkillID: "s1", Reason: "bad"}); err != nil {
		t.Fatalf("blocklist: %v", err)
	}

	resp, err := checker.Evaluate(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Allowed || resp.BlockedBy != ErrSkillBlocked {
		t.Fatalf("expected SKILL_BLOCKED, got allowed=%v blockedBy=%s", resp.Allowed, resp.BlockedBy)
	}
}

func TestEvaluate_AlreadyInstalledBlocksUnlessForced(t *testing.T) {
	checker, store := newTestChecker(t)
	ctx := context.Background()
	putSkill(t, store, catalog.Skill{ID: "s1", Source: "x", Author: "a", Name: "n", RepoURL: "u1", ScanStatus: catalog.ScanPassed})
	if err := store.RecordInstall(ctx, catalog.InstalledSkill{SkillID: "s1"}); err != nil {
		t.Fatalf("record install: %v", err)
	}

	resp, err := checker.Evaluate(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Allowed || resp.BlockedBy != ErrSkillAlreadyInstalled {
		t.Fatalf("expected SKILL_ALREADY_INSTALLED, got allowed=%v blockedBy=%s", resp.Allowed, resp.BlockedBy)
	}

	forced, err := checker.Evaluate(ctx, "s1", true)
	if err != nil {
		t.Fatalf("Evaluate forced: %v", err)
	}
	if !forced.Allowed {
		t.Errorf("expected force=true to override already-installed block, got %+v", forced.Checks)
	}
}

func TestEvaluate_ConflictBlockingAboveThreshold(t *testing.T) {
	checker, store := newTestChecker(t)
	ctx := context.Background()

	installedSkill := catalog.Skill{
		ID: "existing", Source: "x", Author: "a", Name: "existing", RepoURL: "u-existing",
		ScanStatus: catalog.ScanPassed, TriggerPhrases: []string{"deploy", "build", "test"},
	}
	putSkill(t, store, installedSkill)
	if err := store.RecordInstall(ctx, catalog.InstalledSkill{SkillID: "existing"}); err != nil {
		t.Fatalf("record install: %v", err)
	}

	candidate := catalog.Skill{
		ID: "candidate", Source: "x", Author: "a", Name: "candidate", RepoURL: "u-candidate",
		ScanStatus: catalog.ScanPassed, TriggerPhrases: []string{"deploy", "build"},
	}
	putSkill(t, store, candidate)

	resp, err := checker.Evaluate(ctx, "candidate", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Allowed {
		t.Fatalf("expected blocking conflict (2/2 overlap), got %+v", resp.Conflicts)
	}
	if resp.BlockedBy != ErrConflictBlocking {
		t.Errorf("expected CONFLICT_BLOCKING, got %s", resp.BlockedBy)
	}
}

func TestEvaluate_SecurityScanFailedBlocksUnlessForced(t *testing.T) {
	checker, store := newTestChecker(t)
	ctx := context.Background()
	putSkill(t, store, catalog.Skill{ID: "s1", Source: "x", Author: "a", Name: "n", RepoURL: "u1", ScanStatus: catalog.ScanFailed})

	resp, err := checker.Evaluate(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Allowed || resp.BlockedBy != ErrSecurityScanFailed {
		t.Fatalf("expected SECURITY_SCAN_FAILED, got allowed=%v blockedBy=%s", resp.Allowed, resp.BlockedBy)
	}
}

func TestEvaluate_BudgetExceeded(t *testing.T) {
	checker, store := newTestChecker(t)
	ctx := context.Background()
	putSkill(t, store, catalog.Skill{ID: "s1", Source: "x", Author: "a", Name: "n", RepoURL: "u1", ScanStatus: catalog.ScanPassed, CharBudget: 5000})

	resp, err := checker.Evaluate(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Allowed || resp.BlockedBy != ErrBudgetExceeded {
		t.Fatalf("expected BUDGET_EXCEEDED, got allowed=%v blockedBy=%s", resp.Allowed, resp.BlockedBy)
	}
}

func TestEvaluate_CleanInstallAllowedWithAllChecksRecorded(t *testing.T) {
	checker, store := newTestChecker(t)
	ctx := context.Background()
	putSkill(t, store, catalog.Skill{ID: "s1", Source: "x", Author: "a", Name: "n", RepoURL: "u1", ScanStatus: catalog.ScanPassed, CharBudget: 10})

	resp, err := checker.Evaluate(ctx, "s1", false)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !resp.Allowed {
		t.Fatalf("expected allowed install, got %+v", resp.Checks)
	}
	if len(resp.Checks) != 6 {
		t.Errorf("expected all 6 checks recorded, got %d", len(resp.Checks))
	}
}
