// Package search implements the search service: a
// hybrid full-text + semantic ranking layer over the catalog store, with
// a bounded result cache invalidated on every sync commit. Score
// blending follows the same shape as a memory/hybrid
// MergeResults (normalize-then-weighted-sum, not simple multiplication).
package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

// SortField is the closed set of sortable fields.
type SortField string

const (
	SortRelevance SortField = "relevance"
	SortScore     SortField = "score"
	SortStars     SortField = "stars"
	SortUpdated   SortField = "updated"
)

// Weights tunes the relevance blend; zero-value Weights falls back to
// the documented defaults.
type Weights struct {
	FTS      float64
	Quality  float64
	Recency  float64
	Semantic float64 // alpha: weight on the semantic score in the hybrid blend
}

// DefaultWeights returns the documented weight defaults.
func DefaultWeights() Weights {
	return Weights{FTS: 0.6, Quality: 0.3, Recency: 0.1, Semantic: 0.6}
}

const semanticTopK = 100

// Filters narrows a result set after ranking, so totals reflect the
// filtered set rather than the unfiltered candidate pool.
type Filters struct {
	Categories   []string
	Technologies []string
	TrustTier    catalog.TrustTier
	MinScore     float64
	Source       string
	UpdatedAfter time.Time
	HasTests     *bool
	HasExamples  *bool
}

// Sort describes the requested ordering.
type Sort struct {
	Field     SortField
	Ascending bool
}

// Query is one search request.
type Query struct {
	Text    string
	Filters Filters
	Sort    Sort
	Limit   int
	Offset  int
}

// Result is one ranked, filtered hit.
type Result struct {
	Skill catalog.Skill
	Score float64
}

// Response is the full search-service output.
type Response struct {
	Results       []Result
	Total         int
	HasMore       bool
	QueryAnalysis string
}

// Embedder produces a query embedding for semantic candidate retrieval.
// Nil means semantic search is unavailable and only text ranking runs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyQuery is returned for a query that is empty after trimming.
var ErrEmptyQuery = fmt.Errorf("search: query must not be empty")

// Service answers search queries against a catalog store.
type Service struct {
	store    *catalog.Store
	embedder Embedder
	weights  Weights

	cache *resultCache
}

// New builds a Service. embedder may be nil.
func New(store *catalog.Store, embedder Embedder, weights Weights) *Service {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Service{store: store, embedder: embedder, weights: weights, cache: newResultCache(200, 5*time.Minute)}
}

// InvalidateCache drops every cached query result; called whenever a
// sync run commits new or updated skills.
func (s *Service) InvalidateCache() { s.cache.clear() }

// Search runs the full ranking algorithm: FTS ranking, optional semantic
// blend, post-rank filtering, stable sort, and pagination.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	trimmed := strings.TrimSpace(q.Text)
	if trimmed == "" {
		return Response{}, ErrEmptyQuery
	}
	if len(trimmed) > 500 {
		trimmed = trimmed[:500]
	}
	if q.Limit <= 0 || q.Limit > 50 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	cacheKey := normalizeCacheKey(trimmed, q)
	if cached, ok := s.cache.get(cacheKey); ok {
		return cached, nil
	}

	ftsHits, err := s.store.SearchFTS(ctx, trimmed, 500)
	if err != nil {
		return Response{}, fmt.Errorf("search: fts query: %w", err)
	}

	textScores := make(map[string]float64, len(ftsHits))
	maxRank := 0.0
	for _, h := range ftsHits {
		if h.Rank > maxRank {
			maxRank = h.Rank
		}
	}
	for _, h := range ftsHits {
		if maxRank > 0 {
			textScores[h.SkillID] = h.Rank / maxRank
		} else {
			textScores[h.SkillID] = 0
		}
	}

	semanticScores, err := s.semanticCandidates(ctx, trimmed)
	if err != nil {
		return Response{}, err
	}

	candidateIDs := make(map[string]bool, len(textScores)+len(semanticScores))
	for id := range textScores {
		candidateIDs[id] = true
	}
	for id := range semanticScores {
		candidateIDs[id] = true
	}

	var results []Result
	for id := range candidateIDs {
		sk, err := s.store.GetSkill(ctx, id)
		if err != nil {
			continue // deleted between index and fetch; skip rather than fail the whole query
		}

		textScore := textScores[id]
		relevance := s.weights.FTS*textScore + s.weights.Quality*sk.QualityScore + s.weights.Recency*recencyDecay(sk.UpdatedAt)

		score := relevance
		if semScore, ok := semanticScores[id]; ok {
			score = s.weights.Semantic*relevance + (1-s.weights.Semantic)*semScore
		}

		results = append(results, Result{Skill: sk, Score: score})
	}

	results = applyFilters(results, q.Filters)
	sortResults(results, q.Sort)

	total := len(results)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	resp := Response{
		Results:       append([]Result(nil), results[start:end]...),
		Total:         total,
		HasMore:       end < total,
		QueryAnalysis: fmt.Sprintf("matched %d candidates for %q", total, trimmed),
	}
	s.cache.put(cacheKey, resp)
	return resp, nil
}

func (s *Service) semanticCandidates(ctx context.Context, query string) (map[string]float64, error) {
	if s.embedder == nil {
		return nil, nil
	}
	qEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	all, err := s.store.AllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: load embeddings: %w", err)
	}

	type scored struct {
		id    string
		score float64
	}
	scoredAll := make([]scored, 0, len(all))
	for id, emb := range all {
		scoredAll = append(scoredAll, scored{id: id, score: catalog.CosineSimilarity(qEmb, emb)})
	}
	sort.Slice(scoredAll, func(i, j int) bool { return scoredAll[i].score > scoredAll[j].score })

	if len(scoredAll) > semanticTopK {
		scoredAll = scoredAll[:semanticTopK]
	}
	out := make(map[string]float64, len(scoredAll))
	for _, sc := range scoredAll {
		out[sc.id] = sc.score
	}
	return out, nil
}

// recencyDecay implements recency_decay(t) = exp(-age_days/30).
func recencyDecay(updatedAt time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	ageDays := time.Since(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / 30)
}

func applyFilters(results []Result, f Filters) []Result {
	out := results[:0:0]
	for _, r := range results {
		if len(f.Categories) > 0 && !anyMatch(f.Categories, r.Skill.Categories) {
			continue
		}
		if len(f.Technologies) > 0 && !anyMatch(f.Technologies, r.Skill.Technologies) {
			continue
		}
		if f.TrustTier != "" && r.Skill.TrustTier != f.TrustTier {
			continue
		}
		if f.MinScore > 0 && r.Score < f.MinScore {
			continue
		}
		if f.Source != "" && r.Skill.Source != f.Source {
			continue
		}
		if !f.UpdatedAfter.IsZero() && r.Skill.UpdatedAt.Before(f.UpdatedAfter) {
			continue
		}
		if f.HasTests != nil && r.Skill.HasTests != *f.HasTests {
			continue
		}
		if f.HasExamples != nil && r.Skill.HasExamples != *f.HasExamples {
			continue
		}
		out = append(out, r)
	}
	return out
}

func anyMatch(want, have []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, h := range have {
		haveSet[strings.ToLower(h)] = true
	}
	for _, w := range want {
		if haveSet[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

// sortResults orders by the requested field, tie-breaking by
// quality_score desc, then updated_at desc, then id asc for stability.
func sortResults(results []Result, s Sort) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		less := primaryLess(a, b, s.Field)
		if s.Ascending {
			less = primaryLess(b, a, s.Field)
		}
		if primaryEqual(a, b, s.Field) {
			return tieBreakLess(a, b)
		}
		return less
	})
}

func primaryLess(a, b Result, field SortField) bool {
	switch field {
	case SortStars:
		return a.Skill.Stars > b.Skill.Stars
	case SortUpdated:
		return a.Skill.UpdatedAt.After(b.Skill.UpdatedAt)
	case SortScore:
		return a.Skill.QualityScore > b.Skill.QualityScore
	default: // relevance
		return a.Score > b.Score
	}
}

func primaryEqual(a, b Result, field SortField) bool {
	switch field {
	case SortStars:
		return a.Skill.Stars == b.Skill.Stars
	case SortUpdated:
		return a.Skill.UpdatedAt.Equal(b.Skill.UpdatedAt)
	case SortScore:
		return a.Skill.QualityScore == b.Skill.QualityScore
	default:
		return a.Score == b.Score
	}
}

func tieBreakLess(a, b Result) bool {
	if a.Skill.QualityScore != b.Skill.QualityScore {
		return a.Skill.QualityScore > b.Skill.QualityScore
	}
	if !a.Skill.UpdatedAt.Equal(b.Skill.UpdatedAt) {
		return a.Skill.UpdatedAt.After(b.Skill.UpdatedAt)
	}
	return a.Skill.ID < b.Skill.ID
}

func normalizeCacheKey(text string, q Query) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(text))
	b.WriteByte('|')
	fmt.Fprintf(&b, "cats=%v|techs=%v|tier=%s|min=%f|src=%s|after=%d|tests=%v|examples=%v|sort=%s:%v|limit=%d|offset=%d",
		q.Filters.Categories, q.Filters.Technologies, q.Filters.TrustTier, q.Filters.MinScore,
		q.Filters.Source, q.Filters.UpdatedAfter.Unix(), q.Filters.HasTests, q.Filters.HasExamples,
		q.Sort.Field, q.Sort.Ascending, q.Limit, q.Offset)
	return b.String()
}

// resultCache is a count- and TTL-bounded cache, mirroring the
// ratelimit package's bucket-eviction approach at a much smaller scale.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	resp    Response
	expires time.Time
}

func newResultCache(maxSize int, ttl time.Duration) *resultCache {
	return &resultCache{entries: map[string]cacheEntry{}, maxSize: maxSize, ttl: ttl}
}

func (c *resultCache) get(key string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return Response{}, false
	}
	return e.resp, true
}

func (c *resultCache) put(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = cacheEntry{resp: resp, expires: time.Now().Add(c.ttl)}
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]cacheEntry{}
}
