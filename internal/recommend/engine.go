// Package recommend implements the recommendation engine:
// stack detection, candidate retrieval through the
// search service, personalized ranking, and gap analysis. Candidate
// scoring follows the shape of a skillbank/retriever.go
// TemplateRetriever (score candidates, sort descending, truncate to k),
// generalized from pure keyword overlap to a multi-factor match
// formula with EWC++ personalization.
package recommend

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
	"github.com/skillsmith/skillsmith/internal/search"
)

// Mode selects conservative (deterministic) vs exploratory (jittered,
// popularity-down-weighted) ranking.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeExploratory  Mode = "exploratory"
)

// Priority is the closed set of recommendation urgency labels.
type Priority string

const (
	PriorityEssential   Priority = "essential"
	PriorityRecommended Priority = "recommended"
	PriorityOptional    Priority = "optional"
)

// Severity is the closed set of gap severities.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 25
	tagMatchWeight    = 1.0
	exploratoryJitter = 0.1
)

// VerdictProvider supplies the learning layer's aggregated confidence for
// a skill, used to personalize ranking. Implemented
// structurally by internal/learning's verdict query — recommend never
// imports internal/learning directly, avoiding a dependency cycle with
// the signal-collection path that itself consults recommendations.
type VerdictProvider interface {
	Verdict(ctx context.Context, skillID string) (confidence float64, hasEnoughData bool, err error)
}

// Options tunes one recommendation request.
type Options struct {
	MaxResults       int
	Mode             Mode
	ExcludeInstalled bool
	Depth            int
}

// Recommendation is one ranked suggestion.
type Recommendation struct {
	Skill    catalog.Skill
	Match    float64
	Reasons  []string
	Impact   []string
	Priority Priority
}

// Gap is an uncovered important technology.
type Gap struct {
	Technology      Tech
	Severity        Severity
	SuggestedSkills []catalog.Skill
}

// Output is the full recommendation response.
type Output struct {
	Recommendations  []Recommendation
	DetectedStack    []Tech
	Gaps             []Gap
	CoverageFraction float64
}

// Engine answers recommendation requests for a codebase.
type Engine struct {
	search   *search.Service
	store    *catalog.Store
	verdicts VerdictProvider
	cfg      config.RecommendConfig
}

// New builds an Engine. verdicts may be nil if the learning layer isn't
// wired yet; personalization is then a no-op.
func New(searchSvc *search.Service, store *catalog.Store, verdicts VerdictProvider, cfg config.RecommendConfig) *Engine {
	if cfg.QualityWeight == 0 && cfg.ReputationWeight == 0 && cfg.LearnedBias == 0 {
		cfg = config.RecommendConfig{QualityWeight: 0.3, ReputationWeight: 0.2, LearnedBias: 0.3}
	}
	return &Engine{search: searchSvc, store: store, verdicts: verdicts, cfg: cfg}
}

// Recommend runs the full recommendation algorithm against a codebase path.
func (e *Engine) Recommend(ctx context.Context, codebasePath string, installed []catalog.Skill, opts Options) (Output, error) {
	if opts.MaxResults <= 0 || opts.MaxResults > maxMaxResults {
		opts.MaxResults = defaultMaxResults
	}

	stack, err := DetectStack(codebasePath, opts.Depth)
	if err != nil {
		return Output{}, fmt.Errorf("recommend: detect stack: %w", err)
	}

	candidates, err := e.retrieveCandidates(ctx, stack)
	if err != nil {
		return Output{}, err
	}

	installedIDs := map[string]bool{}
	installedTechs := map[string]bool{}
	for _, sk := range installed {
		installedIDs[sk.ID] = true
		for _, t := range sk.Technologies {
			installedTechs[strings.ToLower(t)] = true
		}
	}

	if opts.ExcludeInstalled {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if !installedIDs[c.ID] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	recs := make([]Recommendation, 0, len(candidates))
	for _, sk := range candidates {
		match := e.score(ctx, sk, stack)
		if opts.Mode == ModeExploratory {
			match += (rand.Float64()*2 - 1) * exploratoryJitter
			match -= popularityPenalty(sk)
		}
		recs = append(recs, Recommendation{
			Skill:    sk,
			Match:    match,
			Reasons:  matchReasons(sk, stack),
			Impact:   matchedTechNames(sk, stack),
			Priority: priorityFor(match),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Match > recs[j].Match })
	if len(recs) > opts.MaxResults {
		recs = recs[:opts.MaxResults]
	}

	gaps, coverage := gapAnalysis(stack, installedTechs, candidates)

	return Output{
		Recommendations:  recs,
		DetectedStack:    stack,
		Gaps:             gaps,
		CoverageFraction: coverage,
	}, nil
}

// retrieveCandidates unions the top search matches for each detected
// technology and deduplicates by skill id.
func (e *Engine) retrieveCandidates(ctx context.Context, stack []Tech) ([]catalog.Skill, error) {
	seen := map[string]catalog.Skill{}
	for _, t := range stack {
		resp, err := e.search.Search(ctx, search.Query{
			Text:    t.Name,
			Filters: search.Filters{Technologies: []string{t.Name, t.ID}},
			Limit:   20,
		})
		if err != nil && err != search.ErrEmptyQuery {
			return nil, fmt.Errorf("recommend: retrieve candidates for %s: %w", t.Name, err)
		}
		for _, r := range resp.Results {
			seen[r.Skill.ID] = r.Skill
		}
	}
	out := make([]catalog.Skill, 0, len(seen))
	for _, sk := range seen {
		out = append(out, sk)
	}
	return out, nil
}

// score implements: match = avg(confidence x tag_match_weight) +
// quality x w_q + author_reputation x w_a, plus learned_bias personalization.
func (e *Engine) score(ctx context.Context, sk catalog.Skill, stack []Tech) float64 {
	var sumConfidence float64
	var matches int
	for _, t := range stack {
		if techMatches(sk, t) {
			sumConfidence += t.Confidence * tagMatchWeight
			matches++
		}
	}
	avgMatch := 0.0
	if matches > 0 {
		avgMatch = sumConfidence / float64(matches)
	}

	reputation := 0.0
	if author, err := e.store.GetAuthor(ctx, sk.Author); err == nil {
		reputation = author.Reputation
	}

	match := avgMatch + sk.QualityScore*e.cfg.QualityWeight + reputation*e.cfg.ReputationWeight

	if e.verdicts != nil {
		if confidence, hasData, err := e.verdicts.Verdict(ctx, sk.ID); err == nil && hasData {
			learnedBias := clamp(confidence, -1, 1) * e.cfg.LearnedBias
			match += learnedBias
		}
	}
	return match
}

func techMatches(sk catalog.Skill, t Tech) bool {
	for _, tech := range sk.Technologies {
		if strings.EqualFold(tech, t.Name) || strings.EqualFold(tech, t.ID) {
			return true
		}
	}
	return false
}

func matchReasons(sk catalog.Skill, stack []Tech) []string {
	var reasons []string
	for _, t := range stack {
		if techMatches(sk, t) {
			reasons = append(reasons, fmt.Sprintf("matches detected technology %s", t.Name))
		}
	}
	return reasons
}

func matchedTechNames(sk catalog.Skill, stack []Tech) []string {
	var names []string
	for _, t := range stack {
		if techMatches(sk, t) {
			names = append(names, t.Name)
		}
	}
	return names
}

func priorityFor(match float64) Priority {
	switch {
	case match >= 0.8:
		return PriorityEssential
	case match >= 0.4:
		return PriorityRecommended
	default:
		return PriorityOptional
	}
}

// popularityPenalty down-weights already-popular items in exploratory
// mode so the mode actually surfaces less-obvious candidates.
func popularityPenalty(sk catalog.Skill) float64 {
	if sk.Stars <= 0 {
		return 0
	}
	penalty := float64(sk.Stars) / 10000
	if penalty > 0.2 {
		penalty = 0.2
	}
	return penalty
}

// gapAnalysis compares detected techs against installed coverage.
func gapAnalysis(stack []Tech, installedTechs map[string]bool, candidates []catalog.Skill) ([]Gap, float64) {
	if len(stack) == 0 {
		return nil, 1
	}
	var gaps []Gap
	covered := 0
	for _, t := range stack {
		if installedTechs[strings.ToLower(t.Name)] || installedTechs[strings.ToLower(t.ID)] {
			covered++
			continue
		}
		var suggestions []catalog.Skill
		for _, c := range candidates {
			if techMatches(c, t) {
				suggestions = append(suggestions, c)
			}
			if len(suggestions) >= 3 {
				break
			}
		}
		gaps = append(gaps, Gap{Technology: t, Severity: severityFor(t), SuggestedSkills: suggestions})
	}
	return gaps, float64(covered) / float64(len(stack))
}

func severityFor(t Tech) Severity {
	switch {
	case t.Type == TechLanguage || t.Type == TechPlatform:
		return SeverityHigh
	case t.Confidence >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
