// Package safety implements the pre-install safety gate: six
// ordered checks run before any install write. Evaluation stops at the
// first check that blocks; every check that ran is recorded, and checks
// after a blocking one are not run. Shaped like a security/policy.go
// IsAllowed(action) (bool, reason) ordered-check shape, generalized from
// a single boolean gate to a full per-check report, and on the
// retrieval pack's skillpm installer's staged-then-committed write
// (applied here to catalog.Store.RecordInstall, which is itself already
// transactional).
package safety

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/config"
)

// CheckID names one of the six ordered pre-install checks.
type CheckID string

const (
	CheckExistence        CheckID = "existence"
	CheckBlocklist        CheckID = "blocklist"
	CheckAlreadyInstalled CheckID = "already_installed"
	CheckConflict         CheckID = "conflict"
	CheckSecurityScan     CheckID = "security_scan"
	CheckBudget           CheckID = "budget"
)

// Severity is the closed set of check outcome severities.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// ErrorCode is the closed set of install-rejection codes.
type ErrorCode string

const (
	ErrSkillNotFound         ErrorCode = "SKILL_NOT_FOUND"
	ErrSkillBlocked          ErrorCode = "SKILL_BLOCKED"
	ErrSkillAlreadyInstalled ErrorCode = "SKILL_ALREADY_INSTALLED"
	ErrConflictBlocking      ErrorCode = "CONFLICT_BLOCKING"
	ErrSecurityScanFailed    ErrorCode = "SECURITY_SCAN_FAILED"
	ErrBudgetExceeded        ErrorCode = "BUDGET_EXCEEDED"
)

// CheckResult is one check's outcome, always recorded whether or not it
// blocked the install.
type CheckResult struct {
	ID       CheckID
	Passed   bool
	Severity Severity
	Message  string
	Code     ErrorCode
}

// Conflict describes one overlap between the candidate and an already
// installed skill.
type Conflict struct {
	WithSkillID string
	Overlap     float64 // fraction in [0,1]
	Severity    Severity
}

// Response is the pre-install evaluation: the result of every check that
// ran, up to and including the one that blocked the install. Checks after
// a blocking one are not run and do not appear.
type Response struct {
	Allowed   bool
	Checks    []CheckResult
	Conflicts []Conflict
	Warnings  []string
	BlockedBy ErrorCode
}

// Checker runs the ordered check pipeline.
type Checker struct {
	store *catalog.Store
	cfg   config.SafetyConfig
}

// New builds a Checker.
func New(store *catalog.Store, cfg config.SafetyConfig) *Checker {
	if cfg.ConflictBlockingThreshold == 0 {
		cfg.ConflictBlockingThreshold = 0.60
	}
	if cfg.ConflictWarningThreshold == 0 {
		cfg.ConflictWarningThreshold = 0.40
	}
	if cfg.BudgetLimit == 0 {
		cfg.BudgetLimit = 100_000
	}
	return &Checker{store: store, cfg: cfg}
}

// Evaluate runs the six checks in order and returns at the first one that
// blocks, recording every check that did run. force lifts the
// already-installed, conflict, security-scan and budget blocks; a missing
// or blocklisted skill always halts.
func (c *Checker) Evaluate(ctx context.Context, skillID string, force bool) (Response, error) {
	var resp Response

	sk, err := c.store.GetSkill(ctx, skillID)
	if err == sql.ErrNoRows {
		resp.Checks = append(resp.Checks, CheckResult{ID: CheckExistence, Passed: false, Severity: SeverityBlocking, Message: "skill not in catalog", Code: ErrSkillNotFound})
		resp.BlockedBy = ErrSkillNotFound
		return resp, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("safety: lookup skill: %w", err)
	}
	resp.Checks = append(resp.Checks, CheckResult{ID: CheckExistence, Passed: true})

	blocked, err := c.store.IsBlocklisted(ctx, skillID)
	if err != nil {
		return Response{}, fmt.Errorf("safety: blocklist check: %w", err)
	}
	if blocked {
		resp.Checks = append(resp.Checks, CheckResult{ID: CheckBlocklist, Passed: false, Severity: SeverityBlocking, Message: "skill is blocklisted", Code: ErrSkillBlocked})
		resp.BlockedBy = ErrSkillBlocked
		return resp, nil
	}
	resp.Checks = append(resp.Checks, CheckResult{ID: CheckBlocklist, Passed: true})

	existing, err := c.store.GetInstalled(ctx, skillID)
	alreadyInstalled := err == nil && existing.Active
	if alreadyInstalled && !force {
		resp.Checks = append(resp.Checks, CheckResult{ID: CheckAlreadyInstalled, Passed: false, Severity: SeverityBlocking, Message: "skill already installed", Code: ErrSkillAlreadyInstalled})
		resp.BlockedBy = ErrSkillAlreadyInstalled
		return resp, nil
	}
	resp.Checks = append(resp.Checks, CheckResult{ID: CheckAlreadyInstalled, Passed: !alreadyInstalled || force})

	conflicts, conflictSeverity, err := c.detectConflicts(ctx, sk)
	if err != nil {
		return Response{}, fmt.Errorf("safety: conflict detection: %w", err)
	}
	resp.Conflicts = conflicts
	conflictCheck := CheckResult{ID: CheckConflict, Passed: true, Severity: conflictSeverity}
	if conflictSeverity == SeverityBlocking && !force {
		conflictCheck.Passed = false
		conflictCheck.Message = "blocking conflict with an installed skill"
		conflictCheck.Code = ErrConflictBlocking
		resp.Checks = append(resp.Checks, conflictCheck)
		resp.BlockedBy = ErrConflictBlocking
		return resp, nil
	}
	if conflictSeverity == SeverityWarning {
		resp.Warnings = append(resp.Warnings, "overlapping trigger phrases or output patterns with an installed skill")
	}
	resp.Checks = append(resp.Checks, conflictCheck)

	scanCheck := CheckResult{ID: CheckSecurityScan, Passed: true}
	switch sk.ScanStatus {
	case catalog.ScanFailed:
		scanCheck.Severity = SeverityBlocking
		if !force {
			scanCheck.Passed = false
			scanCheck.Message = "security scan failed"
			scanCheck.Code = ErrSecurityScanFailed
			resp.Checks = append(resp.Checks, scanCheck)
			resp.BlockedBy = ErrSecurityScanFailed
			return resp, nil
		}
	case catalog.ScanWarning:
		scanCheck.Severity = SeverityWarning
		resp.Warnings = append(resp.Warnings, "security scan reported warnings")
	}
	resp.Checks = append(resp.Checks, scanCheck)

	currentUsage, err := c.store.TotalCharBudget(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("safety: budget check: %w", err)
	}
	budgetCheck := CheckResult{ID: CheckBudget, Passed: true}
	if currentUsage+sk.CharBudget > c.cfg.BudgetLimit {
		budgetCheck.Severity = SeverityBlocking
		if !force {
			budgetCheck.Passed = false
			budgetCheck.Message = "installing would exceed the character budget"
			budgetCheck.Code = ErrBudgetExceeded
			resp.Checks = append(resp.Checks, budgetCheck)
			resp.BlockedBy = ErrBudgetExceeded
			return resp, nil
		}
	}
	resp.Checks = append(resp.Checks, budgetCheck)

	resp.Allowed = true
	return resp, nil
}

// CheckConflicts answers the check_conflicts tool operation: overlap
// between skillID and either every installed skill (against is empty,
// the against_installed=true case) or an explicit candidate set
// (against_skills), independent of any install decision.
func (c *Checker) CheckConflicts(ctx context.Context, skillID string, against []string) ([]Conflict, Severity, error) {
	candidate, err := c.store.GetSkill(ctx, skillID)
	if err != nil {
		return nil, SeverityNone, err
	}
	if len(against) == 0 {
		return c.detectConflicts(ctx, candidate)
	}

	var conflicts []Conflict
	worst := SeverityNone
	for _, id := range against {
		if id == candidate.ID {
			continue
		}
		other, err := c.store.GetSkill(ctx, id)
		if err != nil {
			continue
		}
		overlap := overlapFraction(candidate, other)
		exactPattern := sameOutputPattern(candidate, other)
		if overlap <= 0 && !exactPattern {
			continue
		}
		sev := conflictSeverity(overlap, exactPattern, c.cfg)
		conflicts = append(conflicts, Conflict{WithSkillID: other.ID, Overlap: overlap, Severity: sev})
		if severityRank(sev) > severityRank(worst) {
			worst = sev
		}
	}
	return conflicts, worst, nil
}

// detectConflicts computes overlap on {trigger_phrases, output_file_patterns}
// against every currently installed skill.
func (c *Checker) detectConflicts(ctx context.Context, candidate catalog.Skill) ([]Conflict, Severity, error) {
	installed, err := c.store.ListInstalled(ctx)
	if err != nil {
		return nil, SeverityNone, err
	}

	var conflicts []Conflict
	worst := SeverityNone
	for _, inst := range installed {
		if inst.SkillID == candidate.ID {
			continue
		}
		other, err := c.store.GetSkill(ctx, inst.SkillID)
		if err != nil {
			continue
		}
		overlap := overlapFraction(candidate, other)
		exactPattern := sameOutputPattern(candidate, other)
		if overlap <= 0 && !exactPattern {
			continue
		}
		sev := conflictSeverity(overlap, exactPattern, c.cfg)
		conflicts = append(conflicts, Conflict{WithSkillID: other.ID, Overlap: overlap, Severity: sev})
		if severityRank(sev) > severityRank(worst) {
			worst = sev
		}
	}
	return conflicts, worst, nil
}

func overlapFraction(a, b catalog.Skill) float64 {
	aSet := append(append([]string{}, a.TriggerPhrases...), a.OutputPatterns...)
	bSet := toSet(append(append([]string{}, b.TriggerPhrases...), b.OutputPatterns...))
	if len(aSet) == 0 || len(bSet) == 0 {
		return 0
	}
	var shared int
	for _, v := range aSet {
		if bSet[strings.ToLower(v)] {
			shared++
		}
	}
	return float64(shared) / float64(len(aSet))
}

// sameOutputPattern reports whether a and b target at least one identical
// output file pattern. This is the spec's second conflict condition,
// independent of the percentage trigger/pattern overlap below: two skills
// with zero shared trigger phrases still conflict if they'd both write the
// same output file pattern.
func sameOutputPattern(a, b catalog.Skill) bool {
	bSet := toSet(b.OutputPatterns)
	for _, p := range a.OutputPatterns {
		if bSet[strings.ToLower(p)] {
			return true
		}
	}
	return false
}

func toSet(xs []string) map[string]bool {
	out := make(map[string]bool, len(xs))
	for _, x := range xs {
		out[strings.ToLower(x)] = true
	}
	return out
}

// conflictSeverity maps an overlap fraction to a severity, with an exact
// output-pattern match always floored at SeverityWarning regardless of how
// low the overall overlap fraction is — sharing one destination file is
// reason enough to warn even if the two skills otherwise look unrelated.
func conflictSeverity(overlap float64, exactPattern bool, cfg config.SafetyConfig) Severity {
	sev := severityForOverlap(overlap, cfg)
	if exactPattern && severityRank(sev) < severityRank(SeverityWarning) {
		return SeverityWarning
	}
	return sev
}

func severityForOverlap(overlap float64, cfg config.SafetyConfig) Severity {
	switch {
	case overlap >= cfg.ConflictBlockingThreshold:
		return SeverityBlocking
	case overlap >= cfg.ConflictWarningThreshold:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityBlocking:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}
