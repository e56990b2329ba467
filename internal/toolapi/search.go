package toolapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/search"
)

// SearchRequest is the search tool operation's parameters.
type SearchRequest struct {
	Query         string
	Categories    []string
	Technologies  []string
	TrustTier     string
	MinScore      float64
	Source        string
	UpdatedAfter  time.Time
	HasTests      *bool
	HasExamples   *bool
	SortField     string
	SortAscending bool
	Limit         int
	Offset        int
	CallerKey     string
}

// SkillSummary is the catalog.Skill projection returned by search and
// list operations; it omits the embedding vector, which is an internal
// ranking detail rather than something a caller needs to see.
type SkillSummary struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Author         string    `json:"author"`
	Name           string    `json:"name"`
	HumanName      string    `json:"human_name"`
	Description    string    `json:"description"`
	RepoURL        string    `json:"repo_url"`
	Categories     []string  `json:"categories"`
	Technologies   []string  `json:"technologies"`
	TrustTier      string    `json:"trust_tier"`
	QualityScore   float64   `json:"quality_score"`
	CurrentVersion string    `json:"current_version"`
	CharBudget     int       `json:"char_budget"`
	ScanStatus     string    `json:"scan_status"`
	Stars          int       `json:"stars"`
	HasTests       bool      `json:"has_tests"`
	HasExamples    bool      `json:"has_examples"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func summarize(sk catalog.Skill) SkillSummary {
	return SkillSummary{
		ID: sk.ID, Source: sk.Source, Author: sk.Author, Name: sk.Name, HumanName: sk.HumanName,
		Description: sk.Description, RepoURL: sk.RepoURL, Categories: sk.Categories,
		Technologies: sk.Technologies, TrustTier: string(sk.TrustTier), QualityScore: sk.QualityScore,
		CurrentVersion: sk.CurrentVersion, CharBudget: sk.CharBudget, ScanStatus: string(sk.ScanStatus),
		Stars: sk.Stars, HasTests: sk.HasTests, HasExamples: sk.HasExamples, UpdatedAt: sk.UpdatedAt,
	}
}

// SearchResultItem pairs a summary with its relevance score.
type SearchResultItem struct {
	Skill SkillSummary `json:"skill"`
	Score float64      `json:"score"`
}

// SearchResponseData is the search operation's data payload.
type SearchResponseData struct {
	Results       []SearchResultItem `json:"results"`
	Total         int                `json:"total"`
	HasMore       bool               `json:"has_more"`
	QueryAnalysis string             `json:"query_analysis"`
}

// Search answers the search tool operation.
func (s *Service) Search(ctx context.Context, req SearchRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetSearch(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if strings.TrimSpace(req.Query) == "" {
		return fail(CodeInvalidInput, "query must not be empty")
	}

	q := search.Query{
		Text: req.Query,
		Filters: search.Filters{
			Categories: req.Categories, Technologies: req.Technologies,
			TrustTier: catalog.TrustTier(req.TrustTier), MinScore: req.MinScore, Source: req.Source,
			UpdatedAfter: req.UpdatedAfter, HasTests: req.HasTests, HasExamples: req.HasExamples,
		},
		Sort:   search.Sort{Field: search.SortField(req.SortField), Ascending: req.SortAscending},
		Limit:  req.Limit,
		Offset: req.Offset,
	}

	resp, err := s.search.Search(ctx, q)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return fail(CodeInvalidInput, "query must not be empty")
		}
		s.logger.Error("search failed", "error", err)
		return fail(CodeInternal, "search failed")
	}

	items := make([]SearchResultItem, 0, len(resp.Results))
	for _, r := range resp.Results {
		items = append(items, SearchResultItem{Skill: summarize(r.Skill), Score: r.Score})
	}
	return withQueueMeta(ok(SearchResponseData{Results: items, Total: resp.Total, HasMore: resp.HasMore, QueryAnalysis: resp.QueryAnalysis}), rateResult)
}

// GetSkillRequest is get_skill's parameters. IncludeVersions is accepted
// but currently a no-op: the catalog keeps one row per skill with no
// version-history table, so there is nothing to include yet.
type GetSkillRequest struct {
	SkillID         string
	IncludeVersions bool
	IncludeSecurity bool
	CallerKey       string
}

// SkillDetail is get_skill's data payload: the full summary plus the
// optional sections the request asked for.
type SkillDetail struct {
	SkillSummary
	RepoDefaultBranch string            `json:"default_branch"`
	TriggerPhrases    []string          `json:"trigger_phrases"`
	OutputPatterns    []string          `json:"output_file_patterns"`
	Installed         *InstalledSummary `json:"installed,omitempty"`
	Security          *SecuritySummary  `json:"security,omitempty"`
}

// InstalledSummary reports install state for get_skill when the caller
// already has this skill installed.
type InstalledSummary struct {
	Version         string    `json:"version"`
	Path            string    `json:"path"`
	InstalledAt     time.Time `json:"installed_at"`
	ActivationCount int       `json:"activation_count"`
	Priority        string    `json:"priority"`
	PriorityLocked  bool      `json:"priority_locked"`
}

// SecuritySummary is the include_security=true section.
type SecuritySummary struct {
	ScanStatus  string         `json:"scan_status"`
	Blocklisted bool           `json:"blocklisted"`
	BlockReason string         `json:"block_reason,omitempty"`
	Conflicts   []ConflictInfo `json:"conflicts,omitempty"`
}

// GetSkill answers the get_skill tool operation.
func (s *Service) GetSkill(ctx context.Context, req GetSkillRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetGetSkill(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if strings.TrimSpace(req.SkillID) == "" {
		return fail(CodeInvalidInput, "skill_id must not be empty")
	}

	sk, err := s.store.GetSkill(ctx, req.SkillID)
	if err != nil {
		return fail(CodeSkillNotFound, "skill not found: "+req.SkillID)
	}

	detail := SkillDetail{
		SkillSummary:      summarize(sk),
		RepoDefaultBranch: sk.DefaultBranch,
		TriggerPhrases:    sk.TriggerPhrases,
		OutputPatterns:    sk.OutputPatterns,
	}

	if inst, err := s.store.GetInstalled(ctx, req.SkillID); err == nil && inst.Active {
		detail.Installed = &InstalledSummary{
			Version: inst.Version, Path: inst.Path, InstalledAt: inst.InstalledAt,
			ActivationCount: inst.ActivationCount, Priority: string(inst.Priority), PriorityLocked: inst.PriorityLocked,
		}
	}

	if req.IncludeSecurity {
		blocked, _ := s.store.IsBlocklisted(ctx, req.SkillID)
		var reason string
		if blocked {
			if list, err := s.store.ListBlocklist(ctx); err == nil {
				for _, e := range list {
					if e.SkillID == req.SkillID {
						reason = e.Reason
						break
					}
				}
			}
		}
		var conflicts []ConflictInfo
		if s.safety != nil {
			if cs, _, err := s.safety.CheckConflicts(ctx, req.SkillID, nil); err == nil {
				for _, c := range cs {
					conflicts = append(conflicts, ConflictInfo{WithSkillID: c.WithSkillID, Overlap: c.Overlap, Severity: string(c.Severity)})
				}
			}
		}
		detail.Security = &SecuritySummary{ScanStatus: string(sk.ScanStatus), Blocklisted: blocked, BlockReason: reason, Conflicts: conflicts}
	}

	return withQueueMeta(ok(detail), rateResult)
}
