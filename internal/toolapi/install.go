package toolapi

import (
	"context"
	"strings"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/pathsafe"
	"github.com/skillsmith/skillsmith/internal/safety"
)

// CheckOutcome mirrors one safety.CheckResult on the tool surface.
type CheckOutcome struct {
	ID       string `json:"id"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
	Code     string `json:"code,omitempty"`
}

// ConflictInfo mirrors one safety.Conflict on the tool surface.
type ConflictInfo struct {
	WithSkillID string  `json:"with_skill_id"`
	Overlap     float64 `json:"overlap"`
	Severity    string  `json:"severity"`
}

// InstallSkillRequest is install_skill's parameters. SkipConflictCheck
// and SkipSecurityScan are accepted for protocol compatibility but never
// skip a check: the safety pipeline runs its checks in order up to the
// first blocking one and records every check that ran; checks after a
// blocking one are not run. Only Force changes the outcome, by overriding
// a blocking already-installed, conflict, scan or budget check.
type InstallSkillRequest struct {
	SkillID           string
	SkipConflictCheck bool
	SkipSecurityScan  bool
	Force             bool
	TargetDirectory   string
	CallerKey         string
}

// InstallSkillData is install_skill's data payload, present whether or
// not the install was allowed.
type InstallSkillData struct {
	Installed bool           `json:"installed"`
	Checks    []CheckOutcome `json:"checks"`
	Conflicts []ConflictInfo `json:"conflicts,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
	Path      string         `json:"path,omitempty"`
}

// InstallSkill answers the install_skill tool operation.
func (s *Service) InstallSkill(ctx context.Context, req InstallSkillRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetInstall(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if strings.TrimSpace(req.SkillID) == "" {
		return fail(CodeInvalidInput, "skill_id must not be empty")
	}

	targetDir := req.TargetDirectory
	if targetDir != "" {
		validated, err := pathsafe.Validate(targetDir, s.pathOpts)
		if err != nil {
			return failWith(CodeInvalidInput, "target_directory is not a permitted install root", map[string]any{"target_directory": targetDir})
		}
		targetDir = validated
	}

	resp, err := s.safety.Evaluate(ctx, req.SkillID, req.Force)
	if err != nil {
		s.logger.Error("install_skill: evaluate", "error", err, "skill_id", req.SkillID)
		return fail(CodeInternal, "safety evaluation failed")
	}

	checks := toCheckOutcomes(resp.Checks)
	conflicts := toConflictInfos(resp.Conflicts)

	if !resp.Allowed {
		code := codeForBlock(resp.BlockedBy)
		return failWith(code, "install blocked: "+string(resp.BlockedBy),
			map[string]any{"checks": checks, "conflicts": conflicts})
	}

	sk, err := s.store.GetSkill(ctx, req.SkillID)
	if err != nil {
		return fail(CodeSkillNotFound, "skill not found: "+req.SkillID)
	}

	path := targetDir
	if path == "" {
		path = req.SkillID
	}
	if err := s.store.RecordInstall(ctx, catalog.InstalledSkill{
		SkillID: req.SkillID, Version: sk.CurrentVersion, Path: path, CharBudget: sk.CharBudget,
	}); err != nil {
		s.logger.Error("install_skill: record install", "error", err, "skill_id", req.SkillID)
		return fail(CodeInternal, "failed to record install")
	}
	if s.coinstall != nil {
		if installed, err := s.installedSkills(ctx); err == nil {
			ids := make([]string, 0, len(installed)+1)
			for _, sk := range installed {
				ids = append(ids, sk.ID)
			}
			ids = append(ids, req.SkillID)
			_ = s.coinstall.RecordSession(ctx, ids)
		}
	}
	if s.learning != nil {
		_, _ = s.learning.RecordAccept(ctx, req.SkillID, "", catalog.PatternFromInstall, sk.QualityScore)
	}

	return withQueueMeta(ok(InstallSkillData{Installed: true, Checks: checks, Conflicts: conflicts, Warnings: resp.Warnings, Path: path}), rateResult)
}

func toCheckOutcomes(checks []safety.CheckResult) []CheckOutcome {
	out := make([]CheckOutcome, 0, len(checks))
	for _, c := range checks {
		out = append(out, CheckOutcome{ID: string(c.ID), Passed: c.Passed, Severity: string(c.Severity), Message: c.Message, Code: string(c.Code)})
	}
	return out
}

func toConflictInfos(conflicts []safety.Conflict) []ConflictInfo {
	out := make([]ConflictInfo, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, ConflictInfo{WithSkillID: c.WithSkillID, Overlap: c.Overlap, Severity: string(c.Severity)})
	}
	return out
}

func codeForBlock(reason safety.ErrorCode) Code {
	switch reason {
	case safety.ErrSkillNotFound:
		return CodeSkillNotFound
	case safety.ErrSkillBlocked:
		return CodeBlocklisted
	case safety.ErrSkillAlreadyInstalled:
		return CodeSkillAlreadyInstalled
	case safety.ErrConflictBlocking:
		return CodeConflictBlocking
	case safety.ErrSecurityScanFailed:
		return CodeSecurityScanFailed
	case safety.ErrBudgetExceeded:
		return CodeBudgetExceeded
	default:
		return CodeInternal
	}
}

// UninstallSkillRequest is uninstall_skill's parameters.
type UninstallSkillRequest struct {
	SkillID    string
	RemoveData bool
	Force      bool
	CallerKey  string
}

// UninstallSkill answers the uninstall_skill tool operation.
func (s *Service) UninstallSkill(ctx context.Context, req UninstallSkillRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetUninstall(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if strings.TrimSpace(req.SkillID) == "" {
		return fail(CodeInvalidInput, "skill_id must not be empty")
	}

	inst, err := s.store.GetInstalled(ctx, req.SkillID)
	if err != nil || !inst.Active {
		return fail(CodeSkillNotInstalled, "skill is not installed: "+req.SkillID)
	}
	if inst.PriorityLocked && !req.Force {
		return failWith(CodePriorityLocked, "skill has a locked priority; pass force=true to uninstall anyway",
			map[string]any{"skill_id": req.SkillID})
	}

	if err := s.store.UninstallSkill(ctx, req.SkillID, req.RemoveData); err != nil {
		s.logger.Error("uninstall_skill failed", "error", err, "skill_id", req.SkillID)
		return fail(CodeInternal, "uninstall failed")
	}
	if s.learning != nil {
		_, _ = s.learning.RecordUninstall(ctx, req.SkillID, "", "", catalog.PatternFromInstall, 0)
	}
	return withQueueMeta(ok(map[string]any{"uninstalled": true, "removed_data": req.RemoveData}), rateResult)
}

// ListInstalledRequest is list_installed's parameters.
type ListInstalledRequest struct {
	IncludeHealth bool
	FilterHealth  string // "healthy" | "degraded" | ""
	CallerKey     string
}

// InstalledItem is one list_installed row.
type InstalledItem struct {
	Skill           SkillSummary `json:"skill"`
	Version         string       `json:"version"`
	Path            string       `json:"path"`
	InstalledAt     string       `json:"installed_at"`
	ActivationCount int          `json:"activation_count"`
	Priority        string       `json:"priority"`
	PriorityLocked  bool         `json:"priority_locked"`
	Healthy         *bool        `json:"healthy,omitempty"`
}

// ListInstalled answers the list_installed tool operation. "Healthy"
// means the underlying catalog skill still resolves and its most recent
// security scan did not fail; a skill whose catalog row disappeared
// (source removed it) or that now fails scanning is reported unhealthy
// rather than silently dropped.
func (s *Service) ListInstalled(ctx context.Context, req ListInstalledRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetListInstalled(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	insts, err := s.store.ListInstalled(ctx)
	if err != nil {
		return fail(CodeInternal, "failed to list installed skills")
	}

	items := make([]InstalledItem, 0, len(insts))
	for _, inst := range insts {
		sk, err := s.store.GetSkill(ctx, inst.SkillID)
		healthy := err == nil && sk.ScanStatus != catalog.ScanFailed

		if req.FilterHealth == "healthy" && !healthy {
			continue
		}
		if req.FilterHealth == "degraded" && healthy {
			continue
		}

		item := InstalledItem{
			Skill: summarize(sk), Version: inst.Version, Path: inst.Path,
			InstalledAt:     inst.InstalledAt.Format("2006-01-02T15:04:05Z07:00"),
			ActivationCount: inst.ActivationCount, Priority: string(inst.Priority), PriorityLocked: inst.PriorityLocked,
		}
		if req.IncludeHealth {
			h := healthy
			item.Healthy = &h
		}
		items = append(items, item)
	}
	return withQueueMeta(ok(map[string]any{"installed": items}), rateResult)
}

// CheckConflictsRequest is check_conflicts' parameters.
type CheckConflictsRequest struct {
	SkillID          string
	AgainstInstalled bool
	AgainstSkills    []string
	CallerKey        string
}

// CheckConflicts answers the check_conflicts tool operation.
func (s *Service) CheckConflicts(ctx context.Context, req CheckConflictsRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetCheckConflicts(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if strings.TrimSpace(req.SkillID) == "" {
		return fail(CodeInvalidInput, "skill_id must not be empty")
	}

	against := req.AgainstSkills
	if req.AgainstInstalled {
		against = nil // nil => detectConflicts' against-all-installed path
	}
	conflicts, worst, err := s.safety.CheckConflicts(ctx, req.SkillID, against)
	if err != nil {
		return fail(CodeSkillNotFound, "skill not found: "+req.SkillID)
	}
	return withQueueMeta(ok(map[string]any{"conflicts": toConflictInfos(conflicts), "worst_severity": string(worst)}), rateResult)
}

// AuditActivationRequest is audit_activation's parameters.
type AuditActivationRequest struct {
	SkillID                string
	GenerateHooks          bool
	IncludeRecommendations bool
	CallerKey              string
}

// AuditActivationData is audit_activation's data payload.
type AuditActivationData struct {
	Recorded        bool     `json:"recorded"`
	Hooks           []string `json:"hooks,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// AuditActivation answers the audit_activation tool operation: it
// records one activation event for skill_id (when provided) and,
// optionally, synthesizes a minimal hook script and a follow-up
// recommendation list. Hook generation is a static template, not a
// sandboxed execution environment — activation hook
// mechanics unspecified beyond "generate_hooks", so this implements the
// simplest thing an integration can act on.
func (s *Service) AuditActivation(ctx context.Context, req AuditActivationRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetAudit(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	data := AuditActivationData{}
	if req.SkillID != "" {
		if err := s.store.RecordActivation(ctx, req.SkillID); err != nil {
			return fail(CodeSkillNotInstalled, "skill is not installed: "+req.SkillID)
		}
		data.Recorded = true
		if req.GenerateHooks {
			data.Hooks = []string{"on_activate: record_usage_signal(\"" + req.SkillID + "\")"}
		}
		if req.IncludeRecommendations && s.coinstall != nil {
			if top, err := s.coinstall.TopCoInstalls(ctx, req.SkillID, 5, 1); err == nil {
				for _, c := range top {
					data.Recommendations = append(data.Recommendations, c.SkillID)
				}
			}
		}
	}
	return withQueueMeta(ok(data), rateResult)
}
