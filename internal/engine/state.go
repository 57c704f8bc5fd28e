package engine

import "time"

// PendingOrder tracks one in-flight exit order owned by a monitor.
type PendingOrder struct {
	Level       string `json:"level"`
	ExpectedQty int64  `json:"expected_qty"`
	FilledQty   int64  `json:"filled_qty"`
}

// FillRecord is one append-only entry in a monitor's fill log. The log is
// the audit trail: replaying it against InitialQty reproduces RemainingQty.
type FillRecord struct {
	Time           time.Time `json:"time"`
	OrderID        string    `json:"order_id"`
	Level          string    `json:"level"`
	Qty            int64     `json:"qty"`
	AvgPrice       int64     `json:"avg_price"` // cents
	RemainingAfter int64     `json:"remaining_after"`
	PnLPct         float64   `json:"pnl_pct"` // realized P&L pct at fill
}

// State is the mutable per-position strategy state, owned exclusively by
// one Monitor. All fields are mutated only from the monitor's event loop.
type State struct {
	InitialQty   int64 `json:"initial_qty"`
	RemainingQty int64 `json:"remaining_qty"`

	// HighWaterMark is the best price seen since monitor start, in the
	// position's favorable direction (max for long, min for short).
	HighWaterMark     int64 `json:"high_water_mark"`
	TrailingActive    bool  `json:"trailing_active"`
	TrailingStopPrice int64 `json:"trailing_stop_price"`

	LevelStates   map[string]LevelState   `json:"level_states"`
	PendingOrders map[string]PendingOrder `json:"pending_orders"`
	FillLog       []FillRecord            `json:"fill_log"`

	Completed bool   `json:"completed"`
	CacheKey  string `json:"cache_key"`

	// BudgetSuppressed counts fires denied by the order budget gate. Those
	// levels stay armed and retry on the next qualifying tick.
	BudgetSuppressed int64 `json:"budget_suppressed"`

	// LastQuoteTS is the timestamp of the last processed tick. Older ticks
	// are discarded so an out-of-order feed cannot regress the high-water
	// mark.
	LastQuoteTS time.Time `json:"last_quote_ts"`
}

// newState initializes state for a monitor over the given level set.
func newState(cacheKey string, initialQty, entryPrice int64, levels []Level) *State {
	st := &State{
		InitialQty:    initialQty,
		RemainingQty:  initialQty,
		HighWaterMark: entryPrice,
		LevelStates:   make(map[string]LevelState, len(levels)),
		PendingOrders: make(map[string]PendingOrder),
		CacheKey:      cacheKey,
	}
	for _, lv := range levels {
		st.LevelStates[lv.ID] = LevelArmed
	}
	return st
}

// Clone returns a deep copy safe to hand outside the monitor's event loop.
func (s *State) Clone() *State {
	cp := *s
	cp.LevelStates = make(map[string]LevelState, len(s.LevelStates))
	for k, v := range s.LevelStates {
		cp.LevelStates[k] = v
	}
	cp.PendingOrders = make(map[string]PendingOrder, len(s.PendingOrders))
	for k, v := range s.PendingOrders {
		cp.PendingOrders[k] = v
	}
	cp.FillLog = make([]FillRecord, len(s.FillLog))
	copy(cp.FillLog, s.FillLog)
	return &cp
}
