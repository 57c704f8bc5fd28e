// Package riskconfig defines the declarative stop-loss / profit-taking
// policy a monitor is created with, plus validation and named presets.
//
// A RiskConfig is immutable for the life of one monitor. Selecting a preset
// is a data substitution, not behavior: presets are plain records merged
// into the config at start time.
package riskconfig

import (
	"errors"
	"fmt"

	"dealdesk/internal/model"
)

// ErrConfiguration wraps all synchronous config-rejection failures.
var ErrConfiguration = errors.New("risk config invalid")

// StopLossMode selects the stop-loss scheme.
type StopLossMode string

const (
	StopDisabled StopLossMode = "disabled"
	StopSimple   StopLossMode = "simple"
	StopLaddered StopLossMode = "laddered"
)

// Rung is one trigger level: fire at TriggerPct adverse/favorable move,
// exit ExitPct of the quantity remaining at trigger time.
type Rung struct {
	TriggerPct float64 `json:"trigger_pct" yaml:"trigger_pct"`
	ExitPct    float64 `json:"exit_pct" yaml:"exit_pct"`
}

// StopLoss configures the stop side. TriggerPct is used in simple mode and
// must be negative; Rungs are used in laddered mode, ordered from
// least-adverse (closest to zero) to most-adverse.
type StopLoss struct {
	Mode       StopLossMode `json:"mode" yaml:"mode"`
	TriggerPct float64      `json:"trigger_pct,omitempty" yaml:"trigger_pct,omitempty"`
	Rungs      []Rung       `json:"rungs,omitempty" yaml:"rungs,omitempty"`
}

// Trailing configures the trailing stop: it activates once the position is
// up ActivationPct, then exits all remaining quantity when price gives back
// TrailPct from the high-water mark.
type Trailing struct {
	ActivationPct float64 `json:"activation_pct" yaml:"activation_pct"`
	TrailPct      float64 `json:"trail_pct" yaml:"trail_pct"`
}

// ProfitTaking configures profit targets and the optional trailing stop.
// Targets are ordered by increasing TriggerPct.
type ProfitTaking struct {
	Enabled  bool      `json:"enabled" yaml:"enabled"`
	Targets  []Rung    `json:"targets,omitempty" yaml:"targets,omitempty"`
	Trailing *Trailing `json:"trailing,omitempty" yaml:"trailing,omitempty"`
}

// Execution controls how an order intent is converted into a real order.
// LimitOffsetBps walks the limit price away from the trigger price to
// improve fill probability (basis points of the monitor price).
type Execution struct {
	OrderType      model.OrderType `json:"order_type" yaml:"order_type"`
	LimitOffsetBps int64           `json:"limit_offset_bps,omitempty" yaml:"limit_offset_bps,omitempty"`
}

// RiskConfig is the full declarative policy for one monitored position.
type RiskConfig struct {
	StopLoss     StopLoss     `json:"stop_loss" yaml:"stop_loss"`
	ProfitTaking ProfitTaking `json:"profit_taking" yaml:"profit_taking"`
	Execution    Execution    `json:"execution" yaml:"execution"`
}

// Validate rejects malformed configs synchronously, before any monitor is
// created. All failures wrap ErrConfiguration.
func (c *RiskConfig) Validate() error {
	switch c.StopLoss.Mode {
	case StopDisabled, "":
	case StopSimple:
		if c.StopLoss.TriggerPct >= 0 {
			return fmt.Errorf("%w: simple stop trigger_pct must be negative, got %.2f",
				ErrConfiguration, c.StopLoss.TriggerPct)
		}
	case StopLaddered:
		if len(c.StopLoss.Rungs) == 0 {
			return fmt.Errorf("%w: laddered stop has no rungs", ErrConfiguration)
		}
		for i, r := range c.StopLoss.Rungs {
			if r.TriggerPct >= 0 {
				return fmt.Errorf("%w: stop rung %d trigger_pct must be negative, got %.2f",
					ErrConfiguration, i+1, r.TriggerPct)
			}
			// Each successive rung must be strictly more adverse.
			if i > 0 && r.TriggerPct >= c.StopLoss.Rungs[i-1].TriggerPct {
				return fmt.Errorf("%w: stop rungs must be ordered least- to most-adverse (rung %d)",
					ErrConfiguration, i+1)
			}
			if err := validExitPct(r.ExitPct, fmt.Sprintf("stop rung %d", i+1)); err != nil {
				return err
			}
		}
		// Rung exit percentages are fractions of the quantity remaining at
		// trigger time, so a ladder like 33/50/100 is well-formed; no sum
		// constraint applies here.
	default:
		return fmt.Errorf("%w: unknown stop_loss mode %q", ErrConfiguration, c.StopLoss.Mode)
	}

	if c.ProfitTaking.Enabled {
		if len(c.ProfitTaking.Targets) == 0 && c.ProfitTaking.Trailing == nil {
			return fmt.Errorf("%w: profit_taking enabled with no targets and no trailing stop",
				ErrConfiguration)
		}
		sum := 0.0
		for i, t := range c.ProfitTaking.Targets {
			if t.TriggerPct <= 0 {
				return fmt.Errorf("%w: profit target %d trigger_pct must be positive, got %.2f",
					ErrConfiguration, i+1, t.TriggerPct)
			}
			if i > 0 && t.TriggerPct <= c.ProfitTaking.Targets[i-1].TriggerPct {
				return fmt.Errorf("%w: profit targets must be ordered by increasing trigger_pct (target %d)",
					ErrConfiguration, i+1)
			}
			if err := validExitPct(t.ExitPct, fmt.Sprintf("profit target %d", i+1)); err != nil {
				return err
			}
			sum += t.ExitPct
		}
		if sum > 100 {
			return fmt.Errorf("%w: profit target exit percentages sum to %.1f (max 100)",
				ErrConfiguration, sum)
		}
		if tr := c.ProfitTaking.Trailing; tr != nil {
			if tr.ActivationPct <= 0 {
				return fmt.Errorf("%w: trailing activation_pct must be positive, got %.2f",
					ErrConfiguration, tr.ActivationPct)
			}
			if tr.TrailPct <= 0 || tr.TrailPct >= 100 {
				return fmt.Errorf("%w: trailing trail_pct must be in (0, 100), got %.2f",
					ErrConfiguration, tr.TrailPct)
			}
		}
	}

	switch c.Execution.OrderType {
	case model.OrderTypeMarket, model.OrderTypeLimit, "":
	default:
		return fmt.Errorf("%w: unknown order_type %q", ErrConfiguration, c.Execution.OrderType)
	}
	if c.Execution.LimitOffsetBps < 0 {
		return fmt.Errorf("%w: limit_offset_bps must be >= 0", ErrConfiguration)
	}

	return nil
}

func validExitPct(pct float64, where string) error {
	if pct <= 0 || pct > 100 {
		return fmt.Errorf("%w: %s exit_pct must be in (0, 100], got %.2f",
			ErrConfiguration, where, pct)
	}
	return nil
}
