package catalog

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: ":memory:", EmbeddingDims: 8})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSkill(url string) Skill {
	return Skill{
		Source:         "gh",
		Author:         "acme",
		Name:           "react-testing",
		HumanName:      "React Testing",
		Description:    "Testing utilities for React components with jest",
		RepoURL:        url,
		Categories:     []string{"testing"},
		Technologies:   []string{"react", "jest"},
		TrustTier:      TrustCommunity,
		QualityScore:   0.8,
		Installable:    true,
		Stars:          1500,
		TriggerPhrases: []string{"test", "unit test"},
	}
}

func TestUpsertAndGetSkill(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sk := sampleSkill("https://github.com/acme/react-testing")
	if err := s.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSkillByURL(ctx, sk.RepoURL)
	if err != nil {
		t.Fatalf("get by url: %v", err)
	}
	if got.HumanName != sk.HumanName || got.TrustTier != TrustCommunity {
		t.Errorf("got %+v", got)
	}
}

func TestUpsertSkill_UpdatesByURL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sk := sampleSkill("https://github.com/acme/react-testing")
	if err := s.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, _ := s.GetSkillByURL(ctx, sk.RepoURL)

	sk.Stars = 2000
	sk.QualityScore = 0.9
	if err := s.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	second, err := s.GetSkillByURL(ctx, sk.RepoURL)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert by URL should reuse the same id, got %q vs %q", second.ID, first.ID)
	}
	if second.Stars != 2000 || second.QualityScore != 0.9 {
		t.Errorf("update not applied: %+v", second)
	}
}

func TestSearchFTS_FindsIndexedSkill(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertSkill(ctx, sampleSkill("https://github.com/acme/react-testing")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := s.SearchFTS(ctx, "react testing", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
}

func TestSearchFTS_EmptyCatalogReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.SearchFTS(context.Background(), "react", 10)
	if err != nil {
		t.Fatalf("search on empty catalog: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestBlocklist_BlocksWithoutHidingFromSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sk := sampleSkill("https://github.com/suspicious/malware-skill")
	sk.ID = "gh/suspicious/malware-skill"
	sk.Name = "malware-skill"
	sk.HumanName = "Malware Skill"
	if err := s.UpsertSkill(ctx, sk); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.AddBlocklistEntry(ctx, BlocklistEntry{SkillID: sk.ID, Reason: "obfuscated code"}); err != nil {
		t.Fatalf("block: %v", err)
	}

	blocked, err := s.IsBlocklisted(ctx, sk.ID)
	if err != nil || !blocked {
		t.Fatalf("IsBlocklisted = %v, %v; want true, nil", blocked, err)
	}

	hits, err := s.SearchFTS(ctx, "malware", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("blocklisted skill should still be discoverable via search, got %d hits", len(hits))
	}
}

func TestRecordInstall_AtMostOneActivePerSkill(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.RecordInstall(ctx, InstalledSkill{SkillID: "gh/acme/react-testing", Version: "1.0.0"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := s.RecordInstall(ctx, InstalledSkill{SkillID: "gh/acme/react-testing", Version: "1.1.0"}); err != nil {
		t.Fatalf("reinstall: %v", err)
	}

	list, err := s.ListInstalled(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Version != "1.1.0" {
		t.Errorf("got %+v, want a single row at version 1.1.0", list)
	}
}

func TestCoInstall_SymmetricAndSelfPairNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"a", "b"} {
		sk := sampleSkill("https://example.com/" + id)
		sk.ID = id
		if err := s.UpsertSkill(ctx, sk); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	for i := 0; i < 5; i++ {
		if err := s.RecordCoInstall(ctx, "a", "b"); err != nil {
			t.Fatalf("record co-install: %v", err)
		}
	}
	if err := s.RecordCoInstall(ctx, "a", "a"); err != nil {
		t.Fatalf("self-pair should be a no-op, not an error: %v", err)
	}

	topA, err := s.TopCoInstalls(ctx, "a", 5, 5)
	if err != nil {
		t.Fatalf("top for a: %v", err)
	}
	topB, err := s.TopCoInstalls(ctx, "b", 5, 5)
	if err != nil {
		t.Fatalf("top for b: %v", err)
	}
	if len(topA) != 1 || len(topB) != 1 || topA[0].InstallCount != topB[0].InstallCount {
		t.Errorf("expected symmetric counts, got a=%+v b=%+v", topA, topB)
	}
}

func TestSyncRun_AtMostOneRunning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.StartRun(ctx, "run-1"); err != nil {
		t.Fatalf("start run-1: %v", err)
	}
	if err := s.StartRun(ctx, "run-2"); err != ErrSyncInProgress {
		t.Fatalf("got %v, want ErrSyncInProgress", err)
	}

	if err := s.CompleteRun(ctx, "run-1", 1, 0, 0, false); err != nil {
		t.Fatalf("complete run-1: %v", err)
	}
	if err := s.StartRun(ctx, "run-2"); err != nil {
		t.Fatalf("start run-2 after completion: %v", err)
	}
}

func TestCompleteRun_AdvancesNextSyncAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.StartRun(ctx, "run-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.CompleteRun(ctx, "run-1", 1, 0, 0, false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	cfg, err := s.GetSyncConfig(ctx)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	want := cfg.LastSyncAt.Add(24 * time.Hour)
	if cfg.NextSyncAt.Sub(want).Abs() > time.Second {
		t.Errorf("NextSyncAt = %v, want ~%v", cfg.NextSyncAt, want)
	}
}

func TestOpen_RejectsMismatchedEmbeddingDims(t *testing.T) {
	dir := t.TempDir() + "/skills.db"
	s1, err := Open(Config{Path: dir, EmbeddingDims: 8})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	_, err = Open(Config{Path: dir, EmbeddingDims: 16})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestPatterns_InsertAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := Pattern{
		ID:          "p1",
		Embedding:   make([]float32, s.Dims()),
		SkillID:     "gh/acme/react-testing",
		OutcomeType: SignalAccept,
		Reward:      1.0,
		Source:      PatternFromRecommend,
	}
	if err := s.InsertPattern(ctx, p); err != nil {
		t.Fatalf("insert pattern: %v", err)
	}

	n, err := s.CountPatterns(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}
