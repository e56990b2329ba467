package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

func descriptor(name string) string {
	return fmt.Sprintf(`---
name: %s
description: "A generated test skill descriptor with enough body text."
tags: [testing, automation]
---
# %s

This descriptor has enough body content to clear the minimum content
length threshold enforced by the quality gate, padded a little further
so it reliably passes in every test run regardless of filler length.`, name, name)
}

func newFakeHost(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(repoMeta{
			FullName: "acme/widgets", DefaultBranch: "main",
			Description: "Acme widgets", StargazersCnt: 120, ForksCount: 4,
		})
	})
	mux.HandleFunc("/repos/acme/widgets/contents/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/repos/acme/widgets/contents/")
		switch path {
		case "", "skills":
			_ = json.NewEncoder(w).Encode([]repoContentEntry{
				{Name: "widget-one", Type: "dir"},
				{Name: "node_modules", Type: "dir"},
			})
		case "widget-one/SKILL.md", "skills/widget-one/SKILL.md":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"content":  base64.StdEncoding.EncodeToString([]byte(descriptor("widget-one"))),
				"encoding": "base64",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page != "1" {
			_ = json.NewEncoder(w).Encode(searchResponse{})
			return
		}
		item := searchResultItem{
			FullName: "someone/cool-skill", Name: "cool-skill",
			DefaultBranch: "main", StargazersCount: 10, Description: "cool",
		}
		item.Owner.Login = "someone"
		_ = json.NewEncoder(w).Encode(searchResponse{Items: []searchResultItem{item}})
	})
	mux.HandleFunc("/repos/someone/cool-skill/contents/SKILL.md", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte(descriptor("cool-skill"))),
			"encoding": "base64",
		})
	})

	return httptest.NewServer(mux)
}

func newTestPipeline(t *testing.T, baseURL string) (*Pipeline, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open(catalog.Config{Path: ":memory:", EmbeddingDims: 8})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.IngestConfig{
		CodeHostBaseURL: baseURL,
		HighTrust: []config.HighTrustSource{
			{Owner: "acme", Repo: "widgets", License: "MIT", BaseQuality: 0.9},
		},
		Topics:            []string{"agent-skills"},
		MaxPagesPerTopic:  1,
		RequestTimeoutSec: 5,
	}
	p, err := New(cfg, nil, store, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, store
}

func TestRun_IngestsHighTrustAndTopicCandidates(t *testing.T) {
	srv := newFakeHost(t)
	defer srv.Close()

	p, store := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	runID := "run-1"
	if err := store.StartRun(ctx, runID); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := p.Run(ctx, runID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	candidates, err := store.SearchFTS(ctx, "widget", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("expected the high-trust widget-one skill to be indexed")
	}

	cool, err := store.SearchFTS(ctx, "cool-skill", 10)
	if err != nil {
		t.Fatalf("search cool-skill: %v", err)
	}
	if len(cool) == 0 {
		t.Fatal("expected the topic-phase cool-skill to be indexed")
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Added == 0 {
		t.Errorf("expected Added > 0, got %+v", run)
	}
}

func TestRun_DedupesAcrossPhasesByURL(t *testing.T) {
	srv := newFakeHost(t)
	defer srv.Close()

	p, store := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	seen := map[string]bool{}
	stats := &runStats{}
	if err := p.runHighTrustPhase(ctx, seen, stats); err != nil {
		t.Fatalf("high-trust phase: %v", err)
	}
	before := len(seen)
	if err := p.runHighTrustPhase(ctx, seen, stats); err != nil {
		t.Fatalf("second high-trust phase: %v", err)
	}
	if len(seen) != before {
		t.Errorf("expected no new URLs on repeat phase, had %d then %d", before, len(seen))
	}
	_ = store
}

func TestClassifyTrustTier_StarThresholds(t *testing.T) {
	mk := func(stars int) searchResultItem {
		var it searchResultItem
		it.StargazersCount = stars
		return it
	}
	if tier := classifyTrustTier(mk(100)); tier != catalog.TrustCommunity {
		t.Errorf("100 stars => %s, want community", tier)
	}
	if tier := classifyTrustTier(mk(6)); tier != catalog.TrustExperimental {
		t.Errorf("6 stars => %s, want experimental", tier)
	}
	if tier := classifyTrustTier(mk(0)); tier != catalog.TrustUnverified {
		t.Errorf("0 stars => %s, want unverified", tier)
	}
}

func TestAuthHeaderValue_AnonymousWhenUnconfigured(t *testing.T) {
	ts, err := newTokenSource("", nil, "")
	if err != nil {
		t.Fatalf("newTokenSource: %v", err)
	}
	v, err := ts.AuthHeaderValue()
	if err != nil {
		t.Fatalf("AuthHeaderValue: %v", err)
	}
	if v != "" {
		t.Errorf("expected anonymous empty header, got %q", v)
	}
}

func TestAuthHeaderValue_StaticTokenFallback(t *testing.T) {
	ts, err := newTokenSource("", nil, "tok-123")
	if err != nil {
		t.Fatalf("newTokenSource: %v", err)
	}
	v, err := ts.AuthHeaderValue()
	if err != nil {
		t.Fatalf("AuthHeaderValue: %v", err)
	}
	if v != "Bearer tok-123" {
		t.Errorf("got %q", v)
	}
}

func TestRateLimitedError_HaltsTopicNotRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, store := newTestPipeline(t, srv.URL)
	p.cfg.HighTrust = nil // isolate the topic phase

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runID := "run-2"
	if err := store.StartRun(ctx, runID); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := p.Run(ctx, runID); err != nil {
		t.Fatalf("Run should tolerate a rate-limited topic: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != catalog.SyncPartial && run.Status != catalog.SyncSuccess {
		t.Errorf("unexpected run status %s", run.Status)
	}
}
