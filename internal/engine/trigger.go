package engine

import (
	"math"

	"dealdesk/internal/model"
	"dealdesk/internal/riskconfig"
)

// Fire reports one level that newly qualified on a tick.
type Fire struct {
	Level  Level
	PnLPct float64 // signed move at fire time, positive in position's favor
	Price  int64   // monitor price that triggered the fire
}

// Evaluate decides which armed levels newly qualify at the given price.
//
// It performs no I/O and no level-state transitions — those belong to the
// monitor — but it does advance the high-water mark and trailing-stop
// sub-state in st, so it must only be called from the owning monitor's
// event loop.
//
// Fire order is deterministic: stop rungs least- to most-adverse (a single
// gap-down tick fires every crossed rung cumulatively), then the trailing
// stop, then profit targets. Stops therefore always fire before profit
// levels on the same tick.
func Evaluate(cfg *riskconfig.RiskConfig, pos *model.Position, levels []Level, st *State, price int64) []Fire {
	pnlPct := pos.PnLPct(price)

	// Advance the high-water mark in the favorable direction only.
	if favorable(pos.Side, price, st.HighWaterMark) {
		st.HighWaterMark = price
	}

	updateTrailing(cfg, pos, st, pnlPct)

	var fires []Fire
	for _, lv := range levels {
		if st.LevelStates[lv.ID] != LevelArmed {
			continue
		}
		if !qualifies(lv, pos, st, price, pnlPct) {
			continue
		}
		fires = append(fires, Fire{Level: lv, PnLPct: pnlPct, Price: price})
	}
	return fires
}

// qualifies reports whether an armed level's trigger has been crossed.
func qualifies(lv Level, pos *model.Position, st *State, price int64, pnlPct float64) bool {
	switch lv.Kind {
	case KindStop:
		return pnlPct <= lv.TriggerPct
	case KindTarget:
		return pnlPct >= lv.TriggerPct
	case KindTrailing:
		if !st.TrailingActive {
			return false
		}
		if pos.Side == model.SideLong {
			return price <= st.TrailingStopPrice
		}
		return price >= st.TrailingStopPrice
	}
	return false
}

// updateTrailing advances the two-phase trailing-stop sub-state.
//
// Phase 1 (inactive): once the move reaches the activation threshold the
// stop becomes active, anchored TrailPct off the high-water mark. Phase 2
// (active): the stop price ratchets with the high-water mark in the
// favorable direction only — it never loosens on an adverse tick.
func updateTrailing(cfg *riskconfig.RiskConfig, pos *model.Position, st *State, pnlPct float64) {
	tr := cfg.ProfitTaking.Trailing
	if !cfg.ProfitTaking.Enabled || tr == nil {
		return
	}

	if !st.TrailingActive {
		if pnlPct >= tr.ActivationPct {
			st.TrailingActive = true
			st.TrailingStopPrice = trailPrice(pos.Side, st.HighWaterMark, tr.TrailPct)
		}
		return
	}

	candidate := trailPrice(pos.Side, st.HighWaterMark, tr.TrailPct)
	if pos.Side == model.SideLong {
		if candidate > st.TrailingStopPrice {
			st.TrailingStopPrice = candidate
		}
	} else {
		if candidate < st.TrailingStopPrice {
			st.TrailingStopPrice = candidate
		}
	}
}

// trailPrice computes the stop price TrailPct off the high-water mark:
// hwm × (1 − trail/100) for long, mirrored for short. Rounded to the cent.
func trailPrice(side model.Side, hwm int64, trailPct float64) int64 {
	factor := 1 - trailPct/100
	if side == model.SideShort {
		factor = 1 + trailPct/100
	}
	return int64(math.Round(float64(hwm) * factor))
}

// favorable reports whether price improves on ref for the given side.
func favorable(side model.Side, price, ref int64) bool {
	if side == model.SideLong {
		return price > ref
	}
	return price < ref
}
