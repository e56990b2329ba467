package toolapi

import (
	"context"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

// EstimateBudgetRequest is estimate_budget's parameters.
type EstimateBudgetRequest struct {
	SkillIDs       []string
	IncludeCurrent bool
	CallerKey      string
}

// EstimateBudgetData is estimate_budget's data payload.
type EstimateBudgetData struct {
	RequestedTotal int            `json:"requested_total"`
	PerSkill       map[string]int `json:"per_skill"`
	CurrentTotal   int            `json:"current_total,omitempty"`
	ProjectedTotal int            `json:"projected_total,omitempty"`
	Limit          int            `json:"limit"`
	OverLimit      bool           `json:"over_limit"`
}

// EstimateBudget answers the estimate_budget tool operation: the
// char_budget cost of installing skillIDs, optionally combined with the
// currently-installed total to project the budget after install.
func (s *Service) EstimateBudget(ctx context.Context, req EstimateBudgetRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetBudget(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if len(req.SkillIDs) == 0 {
		return fail(CodeInvalidInput, "skill_ids must not be empty")
	}

	perSkill := make(map[string]int, len(req.SkillIDs))
	total := 0
	for _, id := range req.SkillIDs {
		sk, err := s.store.GetSkill(ctx, id)
		if err != nil {
			return fail(CodeSkillNotFound, "skill not found: "+id)
		}
		perSkill[id] = sk.CharBudget
		total += sk.CharBudget
	}

	limit := s.cfg.Safety.BudgetLimit
	data := EstimateBudgetData{RequestedTotal: total, PerSkill: perSkill, Limit: limit}

	if req.IncludeCurrent {
		current, err := s.store.TotalCharBudget(ctx)
		if err != nil {
			return fail(CodeInternal, "failed to read current budget usage")
		}
		data.CurrentTotal = current
		data.ProjectedTotal = current + total
		data.OverLimit = limit > 0 && data.ProjectedTotal > limit
	} else {
		data.OverLimit = limit > 0 && total > limit
	}

	return withQueueMeta(ok(data), rateResult)
}

// GetPrioritiesRequest is get_priorities' parameters. An empty SkillIDs
// means "every installed skill".
type GetPrioritiesRequest struct {
	SkillIDs  []string
	CallerKey string
}

// GetPriorities answers the get_priorities tool operation.
func (s *Service) GetPriorities(ctx context.Context, req GetPrioritiesRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetPriority(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	ids := req.SkillIDs
	if len(ids) == 0 {
		insts, err := s.store.ListInstalled(ctx)
		if err != nil {
			return fail(CodeInternal, "failed to list installed skills")
		}
		for _, inst := range insts {
			ids = append(ids, inst.SkillID)
		}
	}

	priorities, err := s.store.GetPriorities(ctx, ids)
	if err != nil {
		return fail(CodeInternal, "failed to read priorities")
	}
	out := make(map[string]string, len(priorities))
	for id, p := range priorities {
		out[id] = string(p)
	}
	return withQueueMeta(ok(map[string]any{"priorities": out}), rateResult)
}

// SetPriorityRequest is set_priority's parameters.
type SetPriorityRequest struct {
	SkillID   string
	Priority  string
	Lock      bool
	CallerKey string
}

// SetPriority answers the set_priority tool operation.
func (s *Service) SetPriority(ctx context.Context, req SetPriorityRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetPriority(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if req.SkillID == "" {
		return fail(CodeInvalidInput, "skill_id must not be empty")
	}
	switch req.Priority {
	case "low", "normal", "high", "":
	default:
		return failWith(CodeInvalidInput, "priority must be one of low, normal, high", map[string]any{"priority": req.Priority})
	}

	if err := s.store.SetPriority(ctx, req.SkillID, catalog.Priority(req.Priority), req.Lock); err != nil {
		return failWith(CodePriorityLocked, err.Error(), map[string]any{"skill_id": req.SkillID})
	}
	return withQueueMeta(ok(map[string]any{"skill_id": req.SkillID, "priority": req.Priority, "locked": req.Lock}), rateResult)
}
