// Package syncctl implements the sync controller: a
// thin state-machine facade over the catalog store's sync bookkeeping,
// modeled on a scheduler's Job/ScheduleConfig shape
// (interval validation, next-run computation) but simplified to the
// fixed daily/weekly frequency set.
package syncctl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

// RunFunc executes one ingestion pass for the given run id. It is
// expected to call catalog.Store.CompleteRun or FailRun itself.
type RunFunc func(ctx context.Context, runID string) error

// Controller drives the sync schedule state machine. It never runs an
// ingestion pass concurrently with itself; that invariant is enforced
// at the catalog layer (at most one run in state running).
type Controller struct {
	store  *catalog.Store
	run    RunFunc
	logger *slog.Logger

	// avgRunDuration seeds the full-sync preview estimate before any
	// run has completed.
	avgRunDuration time.Duration
}

// New builds a Controller. run is the ingestion entry point (typically
// ingest.Pipeline.Run); it is invoked synchronously by Trigger.
func New(store *catalog.Store, run RunFunc, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: store, run: run, logger: logger, avgRunDuration: 2 * time.Minute}
}

// Status is the get_status() response.
type Status struct {
	Enabled    bool
	Frequency  catalog.SyncFrequency
	LastSyncAt time.Time
	NextSyncAt time.Time
	LastError  string
	Running    bool
}

// Preview describes a would-be full sync without taking any action.
type Preview struct {
	EstimatedDuration time.Duration
	SourceCount       int
}

// ErrConfirmRequired is returned by RequestFullSync when confirm=false;
// Preview is still populated in that case via the second return value.
var ErrConfirmRequired = fmt.Errorf("syncctl: full sync requires explicit confirmation")

// ValidateFrequencyExpr validates an operator-supplied cron expression
// override for a custom schedule, mirroring a
// Job.Validate()'s use of cron.ParseStandard. The daily/weekly frequency
// set (daily/weekly) never needs this; it exists for operators who wire
// a custom SyncConfig.Frequency string that isn't one of the two
// built-ins.
func ValidateFrequencyExpr(expr string) error {
	_, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("syncctl: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// GetStatus returns the current schedule and run state.
func (c *Controller) GetStatus(ctx context.Context) (Status, error) {
	cfg, err := c.store.GetSyncConfig(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("syncctl: get status: %w", err)
	}
	running, err := c.store.IsRunning(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("syncctl: check running: %w", err)
	}
	return Status{
		Enabled:    cfg.Enabled,
		Frequency:  cfg.Frequency,
		LastSyncAt: cfg.LastSyncAt,
		NextSyncAt: cfg.NextSyncAt,
		LastError:  cfg.LastError,
		Running:    running,
	}, nil
}

// IsDue reports whether a scheduled run should start now.
func (c *Controller) IsDue(ctx context.Context, now time.Time) (bool, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	if !status.Enabled || status.Running {
		return false, nil
	}
	if status.NextSyncAt.IsZero() {
		return true, nil
	}
	return !now.Before(status.NextSyncAt), nil
}

// SetFrequency changes the sync schedule's frequency, recomputing
// next_sync_at immediately if a last run is on record.
func (c *Controller) SetFrequency(ctx context.Context, freq catalog.SyncFrequency) error {
	return c.store.SetSyncFrequency(ctx, freq)
}

// SetEnabled toggles whether scheduled syncs fire at all.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) error {
	return c.store.SetSyncEnabled(ctx, enabled)
}

// StartScheduledRun starts a run if one isn't already in progress,
// returning the new run id. Fails with catalog.ErrSyncInProgress if a
// run is already running.
func (c *Controller) StartScheduledRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	if err := c.store.StartRun(ctx, runID); err != nil {
		return "", err
	}
	return runID, nil
}

// Trigger starts and synchronously drives one ingestion run to
// completion, recording its duration for future Preview estimates. It
// does not itself call CompleteRun/FailRun — that is RunFunc's job —
// but records a fail_run if RunFunc panics-free errors out.
func (c *Controller) Trigger(ctx context.Context) (string, error) {
	runID, err := c.StartScheduledRun(ctx)
	if err != nil {
		return "", err
	}

	started := time.Now()
	if err := c.run(ctx, runID); err != nil {
		c.logger.Error("syncctl: run failed", "run_id", runID, "error", err)
		if failErr := c.store.FailRun(ctx, runID, err.Error()); failErr != nil {
			c.logger.Error("syncctl: failed to record run failure", "run_id", runID, "error", failErr)
		}
		return runID, err
	}
	c.avgRunDuration = time.Since(started)
	return runID, nil
}

// RequestFullSync implements the confirm-gated forced full-sync entry
// point: without confirm, it returns a preview and takes no action.
func (c *Controller) RequestFullSync(ctx context.Context, confirm bool) (Preview, error) {
	preview := Preview{EstimatedDuration: c.avgRunDuration, SourceCount: 1}
	if !confirm {
		return preview, ErrConfirmRequired
	}
	if _, err := c.Trigger(ctx); err != nil {
		return preview, err
	}
	return preview, nil
}
