package toolapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/skillsmith/skillsmith/internal/catalog"
	"github.com/skillsmith/skillsmith/internal/coinstall"
	"github.com/skillsmith/skillsmith/internal/config"
	"github.com/skillsmith/skillsmith/internal/learning"
	"github.com/skillsmith/skillsmith/internal/pathsafe"
	"github.com/skillsmith/skillsmith/internal/ratelimit"
	"github.com/skillsmith/skillsmith/internal/recommend"
	"github.com/skillsmith/skillsmith/internal/safety"
	"github.com/skillsmith/skillsmith/internal/search"
	"github.com/skillsmith/skillsmith/internal/syncctl"
)

// Service wires every catalog/search/recommend/safety/learning/sync
// component behind the tool surface named in
// the external interfaces section: search, get_skill, analyze_codebase,
// recommend_skills, install_skill, uninstall_skill, list_installed,
// check_conflicts, audit_activation, estimate_budget,
// get_priorities/set_priority, and the sync/admin operations. Grounded
// on a single api/server.go, which plays the same role
// (one struct holding every subsystem a handler method needs) for its
// HTTP handlers; here the handler method bodies live directly on
// Service so a future transport is a thin adapter rather than a second
// copy of this wiring.
type Service struct {
	store     *catalog.Store
	search    *search.Service
	recommend *recommend.Engine
	safety    *safety.Checker
	learning  *learning.Layer
	coinstall *coinstall.Graph
	sync      *syncctl.Controller
	limits    *ratelimit.Registry
	pathOpts  pathsafe.Options
	cfg       *config.Config
	logger    *slog.Logger
}

// New builds a Service over already-constructed components.
func New(
	store *catalog.Store,
	searchSvc *search.Service,
	recommendEng *recommend.Engine,
	safetyChecker *safety.Checker,
	learningLayer *learning.Layer,
	coinstallGraph *coinstall.Graph,
	syncController *syncctl.Controller,
	limits *ratelimit.Registry,
	pathOpts pathsafe.Options,
	cfg *config.Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		search:    searchSvc,
		recommend: recommendEng,
		safety:    safetyChecker,
		learning:  learningLayer,
		coinstall: coinstallGraph,
		sync:      syncController,
		limits:    limits,
		pathOpts:  pathOpts,
		cfg:       cfg,
		logger:    logger,
	}
}

// preset maps a tool operation to the rate-limit preset that gates it
// (presets are named by strictness, not by operation, so the
// mapping lives here rather than in config). Mutating and bulk-sync
// operations sit behind the stricter presets; read-heavy discovery
// operations get the more generous ones.
func (s *Service) preset(name string) *ratelimit.Limiter {
	if s.limits == nil {
		return nil
	}
	lim, err := s.limits.Get(name)
	if err != nil {
		return nil
	}
	return lim
}

// defaultWaitTimeout bounds how long checkRate queues a caller when a
// preset enables queueing but declares no explicit timeout.
const defaultWaitTimeout = 30 * time.Second

// checkRate admits one call of the named operation against its preset,
// keyed by callerKey (e.g. a session or client id; empty defaults to a
// single shared bucket for single-tenant daemons). A nil limiter (no
// registry wired, or unknown preset) always admits.
//
// Presets with no queue capacity configured reject over-limit callers
// immediately (an instant Check). Presets with a queue capacity instead
// queue the caller in the rate limiter's per-key FIFO via Wait, up to the
// preset's wait timeout; the returned Result reports whether the caller
// had to queue and for how long, so operation handlers can surface that
// to the resolver.
func (s *Service) checkRate(ctx context.Context, opPreset, callerKey string) (*Envelope, ratelimit.Result) {
	lim := s.preset(opPreset)
	if lim == nil {
		return nil, ratelimit.Result{}
	}
	if callerKey == "" {
		callerKey = "default"
	}

	queueCap, timeout := s.limits.QueueParams(opPreset)
	if queueCap <= 0 {
		if admitted, remaining := lim.Check(callerKey, 1); !admitted {
			env := failWith(CodeRateLimited, "rate limit exceeded for this operation",
				map[string]any{"preset": opPreset, "remaining": remaining},
				"retry after the preset's refill interval")
			return &env, ratelimit.Result{}
		}
		return nil, ratelimit.Result{}
	}
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	result, err := lim.Wait(ctx, callerKey, 1, timeout, queueCap)
	if err != nil {
		msg := "rate limit exceeded for this operation"
		switch {
		case errors.Is(err, ratelimit.ErrQueueFull):
			msg = "rate limit queue full for this operation"
		case errors.Is(err, ratelimit.ErrTimeout):
			msg = "timed out waiting for rate limit capacity"
		}
		env := failWith(CodeRateLimited, msg, map[string]any{"preset": opPreset},
			"retry after the preset's refill interval")
		return &env, ratelimit.Result{}
	}
	return nil, result
}

func opPresetSearch() string         { return "standard" }
func opPresetGetSkill() string       { return "relaxed" }
func opPresetAnalyze() string        { return "strict" }
func opPresetRecommend() string      { return "standard" }
func opPresetInstall() string        { return "strict" }
func opPresetUninstall() string      { return "strict" }
func opPresetListInstalled() string  { return "relaxed" }
func opPresetCheckConflicts() string { return "standard" }
func opPresetAudit() string          { return "relaxed" }
func opPresetBudget() string         { return "relaxed" }
func opPresetPriority() string       { return "standard" }
func opPresetSync() string           { return "strict" }
func opPresetAdmin() string          { return "strict" }
