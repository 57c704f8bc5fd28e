package engine

import (
	"testing"

	"dealdesk/internal/model"
	"dealdesk/internal/riskconfig"
)

func ladderCfg() riskconfig.RiskConfig {
	return riskconfig.RiskConfig{
		StopLoss: riskconfig.StopLoss{
			Mode: riskconfig.StopLaddered,
			Rungs: []riskconfig.Rung{
				{TriggerPct: -2, ExitPct: 33},
				{TriggerPct: -4, ExitPct: 50},
				{TriggerPct: -6, ExitPct: 100},
			},
		},
	}
}

func trailingCfg() riskconfig.RiskConfig {
	return riskconfig.RiskConfig{
		ProfitTaking: riskconfig.ProfitTaking{
			Enabled:  true,
			Targets:  []riskconfig.Rung{{TriggerPct: 10, ExitPct: 50}},
			Trailing: &riskconfig.Trailing{ActivationPct: 5, TrailPct: 3},
		},
	}
}

func longPos(qty, entry int64) model.Position {
	return model.Position{Side: model.SideLong, Qty: qty, EntryPrice: entry}
}

// evalState builds a fresh state over the config's level set.
func evalState(t *testing.T, cfg *riskconfig.RiskConfig, pos model.Position) ([]Level, *State) {
	t.Helper()
	levels := LevelsFromConfig(cfg)
	if len(levels) == 0 {
		t.Fatal("config produced no levels")
	}
	return levels, newState("test", pos.Qty, pos.EntryPrice, levels)
}

// markFired mimics the monitor transitioning fired levels out of ARMED.
func markFired(st *State, fires []Fire) {
	for _, f := range fires {
		st.LevelStates[f.Level.ID] = LevelTriggered
	}
}

func TestLadderGapFiresCrossedRungsCumulatively(t *testing.T) {
	cfg := ladderCfg()
	pos := longPos(100, 5000) // 100 shares at 50.00
	levels, st := evalState(t, &cfg, pos)

	// -2.2%: only rung 1 crossed.
	fires := Evaluate(&cfg, &pos, levels, st, 4890)
	if len(fires) != 1 || fires[0].Level.ID != "stop_1" {
		t.Fatalf("at -2.2%% expected [stop_1], got %v", fireIDs(fires))
	}
	markFired(st, fires)

	// Gap to -5.0%: rung 2 crossed; rung 1 must not refire.
	fires = Evaluate(&cfg, &pos, levels, st, 4750)
	if len(fires) != 1 || fires[0].Level.ID != "stop_2" {
		t.Fatalf("at -5.0%% expected [stop_2], got %v", fireIDs(fires))
	}
	markFired(st, fires)

	// Same price again: nothing left to fire.
	fires = Evaluate(&cfg, &pos, levels, st, 4750)
	if len(fires) != 0 {
		t.Fatalf("repeat tick refired: %v", fireIDs(fires))
	}
}

func TestLadderSingleGapFiresMultipleRungs(t *testing.T) {
	cfg := ladderCfg()
	pos := longPos(100, 5000)
	levels, st := evalState(t, &cfg, pos)

	// One tick straight to -7%: all three rungs cross at once, in
	// least- to most-adverse order.
	fires := Evaluate(&cfg, &pos, levels, st, 4650)
	got := fireIDs(fires)
	want := []string{"stop_1", "stop_2", "stop_3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTrailingActivationAndRatchet(t *testing.T) {
	cfg := trailingCfg()
	pos := longPos(100, 5000)
	levels, st := evalState(t, &cfg, pos)

	// +6%: activation threshold crossed, stop anchored 3% off hwm.
	fires := Evaluate(&cfg, &pos, levels, st, 5300)
	if len(fires) != 0 {
		t.Fatalf("activation tick fired: %v", fireIDs(fires))
	}
	if !st.TrailingActive {
		t.Fatal("trailing not active at +6%")
	}
	if st.HighWaterMark != 5300 {
		t.Fatalf("hwm = %d, want 5300", st.HighWaterMark)
	}
	if st.TrailingStopPrice != 5141 {
		t.Fatalf("trailing stop = %d, want 5141", st.TrailingStopPrice)
	}

	// Price rises: hwm and stop ratchet up.
	Evaluate(&cfg, &pos, levels, st, 5500)
	if st.HighWaterMark != 5500 {
		t.Fatalf("hwm = %d, want 5500", st.HighWaterMark)
	}
	if st.TrailingStopPrice != 5335 {
		t.Fatalf("trailing stop = %d, want 5335", st.TrailingStopPrice)
	}

	// Pullback through the stop: trailing fires.
	fires = Evaluate(&cfg, &pos, levels, st, 5140)
	if len(fires) != 1 || fires[0].Level.ID != "trailing" {
		t.Fatalf("expected [trailing], got %v", fireIDs(fires))
	}
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	cfg := trailingCfg()
	pos := longPos(100, 5000)
	levels, st := evalState(t, &cfg, pos)

	Evaluate(&cfg, &pos, levels, st, 5500)
	stop := st.TrailingStopPrice

	// Adverse tick above the stop: hwm and stop must hold.
	Evaluate(&cfg, &pos, levels, st, 5400)
	if st.TrailingStopPrice != stop {
		t.Fatalf("trailing stop moved %d -> %d on adverse tick", stop, st.TrailingStopPrice)
	}
	if st.HighWaterMark != 5500 {
		t.Fatalf("hwm regressed to %d", st.HighWaterMark)
	}
}

func TestProfitTargetFires(t *testing.T) {
	cfg := trailingCfg()
	pos := longPos(100, 5000)
	levels, st := evalState(t, &cfg, pos)

	// +10% exactly: target_1 qualifies. Trailing activated on the same
	// tick but its stop (5335) is below price, so only the target fires.
	fires := Evaluate(&cfg, &pos, levels, st, 5500)
	if len(fires) != 1 || fires[0].Level.ID != "target_1" {
		t.Fatalf("expected [target_1], got %v", fireIDs(fires))
	}
	if fires[0].PnLPct != 10 {
		t.Fatalf("pnl = %.2f, want 10", fires[0].PnLPct)
	}
}

func TestShortPositionSigns(t *testing.T) {
	cfg := riskconfig.RiskConfig{
		StopLoss: riskconfig.StopLoss{Mode: riskconfig.StopSimple, TriggerPct: -2},
	}
	pos := model.Position{Side: model.SideShort, Qty: 10, EntryPrice: 5000}
	levels, st := evalState(t, &cfg, pos)

	// Price falls: a short is in profit, no stop.
	fires := Evaluate(&cfg, &pos, levels, st, 4900)
	if len(fires) != 0 {
		t.Fatalf("profitable short fired stop: %v", fireIDs(fires))
	}
	if st.HighWaterMark != 4900 {
		t.Fatalf("short hwm = %d, want 4900 (favorable = down)", st.HighWaterMark)
	}

	// Price rises 2.5% above entry: -2.5% pnl, stop fires.
	fires = Evaluate(&cfg, &pos, levels, st, 5125)
	if len(fires) != 1 || fires[0].Level.ID != "stop_1" {
		t.Fatalf("expected [stop_1], got %v", fireIDs(fires))
	}
	if fires[0].PnLPct != -2.5 {
		t.Fatalf("pnl = %.2f, want -2.5", fires[0].PnLPct)
	}
}

func TestShortTrailingStopRatchetsDown(t *testing.T) {
	cfg := trailingCfg()
	pos := model.Position{Side: model.SideShort, Qty: 10, EntryPrice: 5000}
	levels, st := evalState(t, &cfg, pos)

	// -6% price move = +6% pnl for the short: trailing activates with the
	// stop 3% above the (low) high-water mark.
	Evaluate(&cfg, &pos, levels, st, 4700)
	if !st.TrailingActive {
		t.Fatal("trailing not active")
	}
	if st.TrailingStopPrice != 4841 {
		t.Fatalf("trailing stop = %d, want 4841", st.TrailingStopPrice)
	}

	// Further drop ratchets the stop down.
	Evaluate(&cfg, &pos, levels, st, 4600)
	if st.TrailingStopPrice != 4738 {
		t.Fatalf("trailing stop = %d, want 4738", st.TrailingStopPrice)
	}

	// Bounce through the stop fires.
	fires := Evaluate(&cfg, &pos, levels, st, 4740)
	if len(fires) != 1 || fires[0].Level.ID != "trailing" {
		t.Fatalf("expected [trailing], got %v", fireIDs(fires))
	}
}

func TestLevelsFromConfigOrdering(t *testing.T) {
	cfg := ladderCfg()
	cfg.ProfitTaking = trailingCfg().ProfitTaking

	levels := LevelsFromConfig(&cfg)
	got := make([]string, len(levels))
	for i, lv := range levels {
		got[i] = lv.ID
	}
	want := []string{"stop_1", "stop_2", "stop_3", "trailing", "target_1"}
	if len(got) != len(want) {
		t.Fatalf("levels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("levels = %v, want %v", got, want)
		}
	}
}

func TestSimpleStopExitsEverything(t *testing.T) {
	cfg := riskconfig.RiskConfig{
		StopLoss: riskconfig.StopLoss{Mode: riskconfig.StopSimple, TriggerPct: -3},
	}
	levels := LevelsFromConfig(&cfg)
	if len(levels) != 1 {
		t.Fatalf("expected 1 level, got %d", len(levels))
	}
	if levels[0].ExitPct != 100 {
		t.Fatalf("simple stop exit_pct = %.0f, want 100", levels[0].ExitPct)
	}
}

func fireIDs(fires []Fire) []string {
	ids := make([]string, len(fires))
	for i, f := range fires {
		ids[i] = f.Level.ID
	}
	return ids
}
