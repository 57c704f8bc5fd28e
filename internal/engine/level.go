// Package engine implements the position risk-management engine: per-level
// state machines, the trigger evaluator, per-position strategy monitors, the
// shared order budget gate, and the supervisor that owns them all.
package engine

import (
	"fmt"

	"dealdesk/internal/riskconfig"
)

// LevelKind classifies a configured exit level.
type LevelKind string

const (
	KindStop     LevelKind = "stop"
	KindTarget   LevelKind = "target"
	KindTrailing LevelKind = "trailing"
)

// LevelState is the lifecycle tag of one exit level.
//
// ARMED → TRIGGERED → PARTIAL (zero or more times) → FILLED, with CANCELLED
// terminal. A level leaves ARMED only when the trigger evaluator fires it;
// no level ever re-arms on its own. An order rejection reverts TRIGGERED
// back to ARMED so the level stays eligible.
type LevelState string

const (
	LevelArmed     LevelState = "ARMED"
	LevelTriggered LevelState = "TRIGGERED"
	LevelPartial   LevelState = "PARTIAL"
	LevelFilled    LevelState = "FILLED"
	LevelCancelled LevelState = "CANCELLED"
)

// Level is one configured exit trigger. The set of levels for a monitor is
// fixed at creation time, derived deterministically from the RiskConfig:
// one per stop rung, one per profit target, one for the trailing stop.
type Level struct {
	ID         string    `json:"id"` // "stop_1", "target_2", "trailing"
	Kind       LevelKind `json:"kind"`
	TriggerPct float64   `json:"trigger_pct"` // unused for trailing
	ExitPct    float64   `json:"exit_pct"`    // trailing always exits 100
}

// LevelsFromConfig derives the closed level set for a validated config.
// Order is the evaluation order: stop rungs least- to most-adverse, then
// the trailing stop, then profit targets — so that on a tick where both a
// stop and a profit level qualify, the stop fires first.
func LevelsFromConfig(cfg *riskconfig.RiskConfig) []Level {
	var levels []Level

	switch cfg.StopLoss.Mode {
	case riskconfig.StopSimple:
		levels = append(levels, Level{
			ID:         "stop_1",
			Kind:       KindStop,
			TriggerPct: cfg.StopLoss.TriggerPct,
			ExitPct:    100,
		})
	case riskconfig.StopLaddered:
		for i, r := range cfg.StopLoss.Rungs {
			levels = append(levels, Level{
				ID:         fmt.Sprintf("stop_%d", i+1),
				Kind:       KindStop,
				TriggerPct: r.TriggerPct,
				ExitPct:    r.ExitPct,
			})
		}
	}

	if cfg.ProfitTaking.Enabled {
		if cfg.ProfitTaking.Trailing != nil {
			levels = append(levels, Level{
				ID:      "trailing",
				Kind:    KindTrailing,
				ExitPct: 100,
			})
		}
		for i, t := range cfg.ProfitTaking.Targets {
			levels = append(levels, Level{
				ID:         fmt.Sprintf("target_%d", i+1),
				Kind:       KindTarget,
				TriggerPct: t.TriggerPct,
				ExitPct:    t.ExitPct,
			})
		}
	}

	return levels
}
