// Package learning implements the learning layer:
// signal collection, trajectory conversion, an EWC++ pattern store, and
// verdict queries that personalize the recommendation engine. Grounded
// on a skillbank package's shape (Trajectory/Distiller/Updater
// shapes, confidence EMA) and internal/memory (ScoreConfig's decay/
// reinforcement formula, Consolidator's periodic-task split), adapted
// from an LLM-distillation domain to Fisher-information
// pattern retention.
package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skillsmith/skillsmith/internal/catalog"
)

// RewardFor maps a signal type to its fixed reward value, per the
// trajectory converter's closed reward table.
func RewardFor(t catalog.SignalType) float64 {
	switch t {
	case catalog.SignalAccept:
		return 1.0
	case catalog.SignalDismiss:
		return -0.5
	case catalog.SignalUsage:
		return 0.3
	case catalog.SignalAbandonment:
		return -0.3
	case catalog.SignalUninstall:
		return -0.7
	default:
		return 0
	}
}

// Verdict is a trajectory's derived success/confidence pair.
type Verdict struct {
	Success    bool
	Confidence float64
}

// Trajectory is the one-step conversion of a signal into an action,
// observation, reward, and verdict.
type Trajectory struct {
	ID          string
	Type        catalog.SignalType
	Action      string
	Observation string
	Reward      float64
	SkillID     string
	Source      catalog.PatternSource
	Timestamp   time.Time
	Verdict     Verdict
}

// ToTrajectory converts a durable signal into its one-step trajectory.
func ToTrajectory(sig catalog.Signal, source catalog.PatternSource) Trajectory {
	reward := RewardFor(sig.Type)
	return Trajectory{
		ID:          sig.ID,
		Type:        sig.Type,
		Action:      fmt.Sprintf("skill:%s", sig.Type),
		Observation: sig.Context,
		Reward:      reward,
		SkillID:     sig.SkillID,
		Source:      source,
		Timestamp:   sig.At,
		Verdict: Verdict{
			Success:    reward > 0,
			Confidence: minF(1, absF(reward)),
		},
	}
}

// Collector records user outcome signals durably, then converts and
// writes each into the pattern store (§4.9's signal collector and
// trajectory converter, composed into one atomic-feeling call — a
// signal is durable the instant InsertSignal returns, matching the
// teacher's store-then-derive split in skillbank's Updater.Update).
type Collector struct {
	store    *catalog.Store
	patterns *PatternStore
}

// NewCollector builds a Collector over the given pattern store.
func NewCollector(store *catalog.Store, patterns *PatternStore) *Collector {
	return &Collector{store: store, patterns: patterns}
}

// Record is the shared entry point for every record_<type> operation.
func (c *Collector) Record(ctx context.Context, t catalog.SignalType, skillID, signalContext, reason string, source catalog.PatternSource, originalScore float64) (Trajectory, error) {
	sig := catalog.Signal{
		ID:      uuid.NewString(),
		Type:    t,
		SkillID: skillID,
		Context: signalContext,
		At:      time.Now(),
		Reason:  reason,
	}
	if err := c.store.InsertSignal(ctx, sig); err != nil {
		return Trajectory{}, fmt.Errorf("learning: record signal: %w", err)
	}

	traj := ToTrajectory(sig, source)
	if c.patterns != nil {
		if _, err := c.patterns.Write(ctx, traj, originalScore); err != nil {
			return traj, fmt.Errorf("learning: write pattern: %w", err)
		}
	}
	return traj, nil
}

// RecordAccept records an accept signal (reward +1.0).
func (c *Collector) RecordAccept(ctx context.Context, skillID, signalContext string, source catalog.PatternSource, originalScore float64) (Trajectory, error) {
	return c.Record(ctx, catalog.SignalAccept, skillID, signalContext, "", source, originalScore)
}

// RecordDismiss records a dismiss signal (reward -0.5).
func (c *Collector) RecordDismiss(ctx context.Context, skillID, signalContext, reason string, source catalog.PatternSource, originalScore float64) (Trajectory, error) {
	return c.Record(ctx, catalog.SignalDismiss, skillID, signalContext, reason, source, originalScore)
}

// RecordUsage records a usage signal (reward +0.3).
func (c *Collector) RecordUsage(ctx context.Context, skillID, signalContext string, source catalog.PatternSource, originalScore float64) (Trajectory, error) {
	return c.Record(ctx, catalog.SignalUsage, skillID, signalContext, "", source, originalScore)
}

// RecordAbandonment records an abandonment signal (reward -0.3).
func (c *Collector) RecordAbandonment(ctx context.Context, skillID, signalContext string, source catalog.PatternSource, originalScore float64) (Trajectory, error) {
	return c.Record(ctx, catalog.SignalAbandonment, skillID, signalContext, "", source, originalScore)
}

// RecordUninstall records an uninstall signal (reward -0.7).
func (c *Collector) RecordUninstall(ctx context.Context, skillID, signalContext, reason string, source catalog.PatternSource, originalScore float64) (Trajectory, error) {
	return c.Record(ctx, catalog.SignalUninstall, skillID, signalContext, reason, source, originalScore)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
