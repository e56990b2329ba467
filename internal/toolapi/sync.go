package toolapi

import (
	"context"
	"errors"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/syncctl"
)

// RefreshIndexRequest is refresh_index's parameters. Sources is accepted
// for protocol compatibility and is not used: the ingestion pipeline
// always walks every source configured in IngestConfig in one pass (it
// has no per-source selection entry point), and the response does not
// filter by it either.
type RefreshIndexRequest struct {
	Sources    []string
	ForceCheck bool
	CallerKey  string
}

// RefreshIndex answers the refresh_index tool operation: a normal,
// non-full sync trigger.
func (s *Service) RefreshIndex(ctx context.Context, req RefreshIndexRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetSync(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}
	if !req.ForceCheck {
		due, err := s.sync.IsDue(ctx, time.Now())
		if err != nil {
			return fail(CodeInternal, "failed to check sync schedule")
		}
		if !due {
			return withQueueMeta(ok(map[string]any{"triggered": false, "reason": "not due"}), rateResult)
		}
	}
	runID, err := s.sync.Trigger(ctx)
	if err != nil {
		return failWith(CodeInternal, "sync run failed", map[string]any{"run_id": runID})
	}
	if s.search != nil {
		s.search.InvalidateCache()
	}
	return withQueueMeta(ok(map[string]any{"triggered": true, "sync_id": runID}), rateResult)
}

// ForceFullSyncRequest is force_full_sync's parameters.
type ForceFullSyncRequest struct {
	Sources   []string
	Confirm   bool
	CallerKey string
}

// ForceFullSyncData is force_full_sync's data payload.
type ForceFullSyncData struct {
	Confirmed         bool   `json:"confirmed"`
	SyncID            string `json:"sync_id,omitempty"`
	EstimatedDuration string `json:"estimated_duration,omitempty"`
	SourceCount       int    `json:"source_count,omitempty"`
}

// ForceFullSync answers the force_full_sync tool operation.
func (s *Service) ForceFullSync(ctx context.Context, req ForceFullSyncRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetSync(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	preview, err := s.sync.RequestFullSync(ctx, req.Confirm)
	if errors.Is(err, syncctl.ErrConfirmRequired) {
		return failWith(CodeConfirmRequired, "full sync requires confirm=true",
			map[string]any{"estimated_duration": preview.EstimatedDuration.String(), "source_count": preview.SourceCount})
	}
	if err != nil {
		return fail(CodeInternal, "full sync failed")
	}
	if s.search != nil {
		s.search.InvalidateCache()
	}
	return withQueueMeta(ok(ForceFullSyncData{
		Confirmed: true, EstimatedDuration: preview.EstimatedDuration.String(), SourceCount: preview.SourceCount,
	}), rateResult)
}

// GetSyncStatusRequest is get_sync_status' parameters.
type GetSyncStatusRequest struct {
	SyncID         string
	IncludeHistory bool
	CallerKey      string
}

// SyncRunInfo mirrors catalog.SyncRun on the tool surface.
type SyncRunInfo struct {
	ID          string `json:"id"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Status      string `json:"status"`
	Added       int    `json:"added"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Error       string `json:"error,omitempty"`
}

func toSyncRunInfo(r catalog.SyncRun) SyncRunInfo {
	info := SyncRunInfo{
		ID: r.ID, StartedAt: r.StartedAt.Format(time.RFC3339), Status: string(r.Status),
		Added: r.Added, Updated: r.Updated, Unchanged: r.Unchanged, Error: r.Error,
	}
	if !r.CompletedAt.IsZero() {
		info.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return info
}

// GetSyncStatus answers the get_sync_status tool operation.
func (s *Service) GetSyncStatus(ctx context.Context, req GetSyncStatusRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetSync(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	if req.SyncID != "" {
		run, err := s.store.GetRun(ctx, req.SyncID)
		if err != nil {
			return fail(CodeSourceNotFound, "sync run not found: "+req.SyncID)
		}
		return withQueueMeta(ok(map[string]any{"run": toSyncRunInfo(run)}), rateResult)
	}

	status, err := s.sync.GetStatus(ctx)
	if err != nil {
		return fail(CodeInternal, "failed to read sync status")
	}
	data := map[string]any{
		"enabled": status.Enabled, "frequency": string(status.Frequency),
		"last_sync_at": status.LastSyncAt, "next_sync_at": status.NextSyncAt,
		"last_error": status.LastError, "running": status.Running,
	}
	if req.IncludeHistory {
		runs, err := s.store.RecentRuns(ctx, 20)
		if err != nil {
			return fail(CodeInternal, "failed to read sync history")
		}
		history := make([]SyncRunInfo, 0, len(runs))
		for _, r := range runs {
			history = append(history, toSyncRunInfo(r))
		}
		data["history"] = history
	}
	return withQueueMeta(ok(data), rateResult)
}

// GetSourceHealthRequest is get_source_health's parameters.
type GetSourceHealthRequest struct {
	SourceID  string
	CallerKey string
}

// SourceHealthInfo mirrors catalog.Source on the tool surface.
type SourceHealthInfo struct {
	ID          string `json:"id"`
	LastSuccess string `json:"last_success,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	Degraded    bool   `json:"degraded"`
}

func toSourceHealthInfo(src catalog.Source) SourceHealthInfo {
	info := SourceHealthInfo{ID: src.ID, LastError: src.LastError, Degraded: src.Degraded}
	if !src.LastSuccess.IsZero() {
		info.LastSuccess = src.LastSuccess.Format(time.RFC3339)
	}
	return info
}

// GetSourceHealth answers the get_source_health tool operation.
func (s *Service) GetSourceHealth(ctx context.Context, req GetSourceHealthRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetSync(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	if req.SourceID != "" {
		src, err := s.store.GetSourceHealth(ctx, req.SourceID)
		if err != nil {
			return fail(CodeInternal, "failed to read source health")
		}
		return withQueueMeta(ok(map[string]any{"source": toSourceHealthInfo(src)}), rateResult)
	}

	sources, err := s.store.ListSourceHealth(ctx)
	if err != nil {
		return fail(CodeInternal, "failed to list source health")
	}
	out := make([]SourceHealthInfo, 0, len(sources))
	for _, src := range sources {
		out = append(out, toSourceHealthInfo(src))
	}
	return withQueueMeta(ok(map[string]any{"sources": out}), rateResult)
}

// UpdateBlocklistRequest is update_blocklist's parameters. Action is
// "add", "remove", or "list". RefreshFromCommunity is accepted for
// protocol compatibility: the catalog has no community-maintained
// blocklist feed to refresh from (the ingestion pipeline has no such
// source type), so it is a documented no-op rather than a silent
// success claim — the response always reports refreshed=false.
type UpdateBlocklistRequest struct {
	Action               string
	SkillID              string
	Reason               string
	RefreshFromCommunity bool
	CallerKey            string
}

// UpdateBlocklist answers the update_blocklist tool operation.
func (s *Service) UpdateBlocklist(ctx context.Context, req UpdateBlocklistRequest) Envelope {
	rateEnv, rateResult := s.checkRate(ctx, opPresetAdmin(), req.CallerKey)
	if rateEnv != nil {
		return *rateEnv
	}

	switch req.Action {
	case "add":
		if req.SkillID == "" {
			return fail(CodeInvalidInput, "skill_id is required to add a blocklist entry")
		}
		if err := s.store.AddBlocklistEntry(ctx, catalog.BlocklistEntry{SkillID: req.SkillID, Reason: req.Reason}); err != nil {
			return fail(CodeInternal, "failed to add blocklist entry")
		}
		if s.search != nil {
			s.search.InvalidateCache()
		}
		return withQueueMeta(ok(map[string]any{"action": "add", "skill_id": req.SkillID, "refreshed": false}), rateResult)
	case "remove":
		if req.SkillID == "" {
			return fail(CodeInvalidInput, "skill_id is required to remove a blocklist entry")
		}
		if err := s.store.RemoveBlocklistEntry(ctx, req.SkillID); err != nil {
			return fail(CodeInternal, "failed to remove blocklist entry")
		}
		return withQueueMeta(ok(map[string]any{"action": "remove", "skill_id": req.SkillID, "refreshed": false}), rateResult)
	case "list", "":
		entries, err := s.store.ListBlocklist(ctx)
		if err != nil {
			return fail(CodeInternal, "failed to list blocklist")
		}
		out := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			out = append(out, map[string]any{"skill_id": e.SkillID, "reason": e.Reason, "added_at": e.AddedAt})
		}
		return withQueueMeta(ok(map[string]any{"action": "list", "entries": out, "refreshed": false}), rateResult)
	default:
		return failWith(CodeInvalidInput, "action must be one of add, remove, list", map[string]any{"action": req.Action})
	}
}
