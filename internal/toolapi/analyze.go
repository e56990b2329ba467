package toolapi

import (
	"context"
	"strings"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/pathsafe"
	"github.com/skillsmith/skillsmith/internal/recommend"
)

// TechDetection mirrors recommend.Tech for the tool surface.
type TechDetection struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// AnalyzeCodebaseRequest is analyze_codebase's parameters. Depth and
// QuickMode both bound the manifest walk; QuickMode forces Depth to 1
// regardless of the requested value.
type AnalyzeCodebaseRequest struct {
	Path                string
	Depth               int
	IncludeDependencies bool
	QuickMode           bool
	CallerKey           string
}

// AnalyzeCodebaseData is analyze_codebase's data payload.
type AnalyzeCodebaseData struct {
	DetectedStack []TechDetection `json:"detected_stack"`
}

// AnalyzeCodebase answers the analyze_codebase tool operation. Path is
// validated against the configured project roots before any filesystem
// walk, per the path safety invariant.
func (s *Service) AnalyzeCodebase(ctx context.Context, req AnalyzeCodebaseRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetAnalyze(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	root, err := pathsafe.Validate(req.Path, s.pathOpts)
	if err != nil {
		return failWith(CodeInvalidInput, "path is not a permitted project root", map[string]any{"path": req.Path})
	}

	depth := req.Depth
	if req.QuickMode {
		depth = 1
	}

	stack, err := recommend.DetectStack(root, depth)
	if err != nil {
		s.logger.Error("analyze_codebase: detect stack", "error", err, "path", root)
		return fail(CodeInternal, "stack detection failed")
	}

	out := make([]TechDetection, 0, len(stack))
	for _, t := range stack {
		if !req.IncludeDependencies && t.Type == recommend.TechLibrary {
			continue
		}
		out = append(out, TechDetection{ID: t.ID, Name: t.Name, Type: string(t.Type), Confidence: t.Confidence})
	}
	return withQueueMeta(ok(AnalyzeCodebaseData{DetectedStack: out}), rateResult)
}

// RecommendSkillsRequest is recommend_skills' parameters.
type RecommendSkillsRequest struct {
	Path             string
	MaxResults       int
	IncludeReasons   bool
	ExcludeInstalled bool
	DiscoveryMode    string // "conservative" | "exploratory"
	CallerKey        string
}

// Recommendation is one ranked suggestion on the tool surface.
type Recommendation struct {
	Skill    SkillSummary `json:"skill"`
	Match    float64      `json:"match"`
	Reasons  []string     `json:"reasons,omitempty"`
	Impact   []string     `json:"impact"`
	Priority string       `json:"priority"`
}

// Gap is one uncovered-technology gap.
type Gap struct {
	Technology      TechDetection  `json:"technology"`
	Severity        string         `json:"severity"`
	SuggestedSkills []SkillSummary `json:"suggested_skills,omitempty"`
}

// RecommendSkillsData is recommend_skills' data payload.
type RecommendSkillsData struct {
	Recommendations  []Recommendation `json:"recommendations"`
	DetectedStack    []TechDetection  `json:"detected_stack"`
	Gaps             []Gap            `json:"gaps"`
	CoverageFraction float64          `json:"coverage_fraction"`
}

// RecommendSkills answers the recommend_skills tool operation.
func (s *Service) RecommendSkills(ctx context.Context, req RecommendSkillsRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetRecommend(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	root, err := pathsafe.Validate(req.Path, s.pathOpts)
	if err != nil {
		return failWith(CodeInvalidInput, "path is not a permitted project root", map[string]any{"path": req.Path})
	}

	installed, err := s.installedSkills(ctx)
	if err != nil {
		return fail(CodeInternal, "failed to load installed skills")
	}

	mode := recommend.ModeConservative
	if strings.EqualFold(req.DiscoveryMode, string(recommend.ModeExploratory)) {
		mode = recommend.ModeExploratory
	}

	out, err := s.recommend.Recommend(ctx, root, installed, recommend.Options{
		MaxResults: req.MaxResults, Mode: mode, ExcludeInstalled: req.ExcludeInstalled,
	})
	if err != nil {
		s.logger.Error("recommend_skills failed", "error", err)
		return fail(CodeInternal, "recommendation failed")
	}

	recs := make([]Recommendation, 0, len(out.Recommendations))
	for _, r := range out.Recommendations {
		rec := Recommendation{Skill: summarize(r.Skill), Match: r.Match, Impact: r.Impact, Priority: string(r.Priority)}
		if req.IncludeReasons {
			rec.Reasons = r.Reasons
		}
		recs = append(recs, rec)
	}

	stack := make([]TechDetection, 0, len(out.DetectedStack))
	for _, t := range out.DetectedStack {
		stack = append(stack, TechDetection{ID: t.ID, Name: t.Name, Type: string(t.Type), Confidence: t.Confidence})
	}

	gaps := make([]Gap, 0, len(out.Gaps))
	for _, g := range out.Gaps {
		suggestions := make([]SkillSummary, 0, len(g.SuggestedSkills))
		for _, sk := range g.SuggestedSkills {
			suggestions = append(suggestions, summarize(sk))
		}
		gaps = append(gaps, Gap{
			Technology:      TechDetection{ID: g.Technology.ID, Name: g.Technology.Name, Type: string(g.Technology.Type), Confidence: g.Technology.Confidence},
			Severity:        string(g.Severity),
			SuggestedSkills: suggestions,
		})
	}

	return withQueueMeta(ok(RecommendSkillsData{Recommendations: recs, DetectedStack: stack, Gaps: gaps, CoverageFraction: out.CoverageFraction}), rateResult)
}

func (s *Service) installedSkills(ctx context.Context) ([]catalog.Skill, error) {
	insts, err := s.store.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Skill, 0, len(insts))
	for _, inst := range insts {
		sk, err := s.store.GetSkill(ctx, inst.SkillID)
		if err != nil {
			continue
		}
		out = append(out, sk)
	}
	return out, nil
}
