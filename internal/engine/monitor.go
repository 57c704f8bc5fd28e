package engine

import (
	"context"
	"log"
	"sync"

	"dealdesk/internal/model"
	"dealdesk/internal/riskconfig"
)

// OrderRouter is the order-routing collaborator. Submit hands off an intent
// and returns the broker order id immediately; it must not block on network
// I/O — acceptance, rejection, and fills arrive later as OrderUpdates.
type OrderRouter interface {
	Submit(ctx context.Context, intent model.OrderIntent) (string, error)
	Cancel(ctx context.Context, orderID string) error
}

// Hooks are optional observation points on a monitor. All hooks are invoked
// from the monitor's event loop and must be fast; heavy sinks should hand
// off to their own goroutine.
type Hooks struct {
	OnFill           func(strategyID string, rec FillRecord)
	OnFire           func(kind LevelKind)
	OnStaleQuote     func()
	OnSuppressed     func(strategyID string)
	OnReject         func(reason string)
	OnOrderSubmitted func(orderID string, m *Monitor)
	OnOrderClosed    func(orderID string)
}

// monitorEvent is the single serialized input to a monitor's event loop.
// Exactly one field is set. One channel carries quotes, order updates, and
// stop requests so all state transitions for a position are totally ordered.
type monitorEvent struct {
	quote *model.Quote
	order *model.OrderUpdate
	stop  bool
}

// Monitor owns the full risk-management state of one position and applies
// the single-writer discipline: every mutation happens on its Run loop.
type Monitor struct {
	ID         string
	cacheKey   string
	instrument model.Instrument
	pos        model.Position
	cfg        riskconfig.RiskConfig
	levels     []Level
	policy     model.PricePolicy

	gate   *Gate
	router OrderRouter
	hooks  Hooks

	// mu guards st for snapshot readers; the Run loop is the only writer.
	mu sync.Mutex
	st *State

	events chan monitorEvent
	done   chan struct{}
	stopCh chan struct{}
	once   sync.Once
}

func newMonitor(id, cacheKey string, inst model.Instrument, pos model.Position,
	cfg riskconfig.RiskConfig, policy model.PricePolicy, gate *Gate, router OrderRouter) *Monitor {

	levels := LevelsFromConfig(&cfg)
	return &Monitor{
		ID:         id,
		cacheKey:   cacheKey,
		instrument: inst,
		pos:        pos,
		cfg:        cfg,
		levels:     levels,
		policy:     policy,
		gate:       gate,
		router:     router,
		st:         newState(cacheKey, pos.Qty, pos.EntryPrice, levels),
		events:     make(chan monitorEvent, 1024),
		done:       make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
}

// CacheKey returns the stable identifier binding this monitor to one
// physical position.
func (m *Monitor) CacheKey() string { return m.cacheKey }

// Instrument returns the monitored instrument.
func (m *Monitor) Instrument() model.Instrument { return m.instrument }

// Config returns the immutable risk config this monitor was created with.
func (m *Monitor) Config() riskconfig.RiskConfig { return m.cfg }

// Snapshot returns a deep copy of the strategy state.
func (m *Monitor) Snapshot() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

// Done is closed when the monitor's event loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// EnqueueQuote delivers a price tick. Non-blocking: returns false when the
// monitor's buffer is full or it has stopped. Dropping a tick is safe —
// armed levels remain armed and re-evaluate on the next tick.
func (m *Monitor) EnqueueQuote(q model.Quote) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- monitorEvent{quote: &q}:
		return true
	default:
		return false
	}
}

// EnqueueOrderUpdate delivers an order-routing event. Blocking: fills must
// not be dropped. Returns once the event is queued or the monitor exits.
func (m *Monitor) EnqueueOrderUpdate(u model.OrderUpdate) {
	select {
	case m.events <- monitorEvent{order: &u}:
	case <-m.done:
	}
}

// RequestStop asks the monitor to cancel pending orders and exit.
// Idempotent: repeated calls, or stopping a completed monitor, are no-ops.
func (m *Monitor) RequestStop() {
	m.once.Do(func() { close(m.stopCh) })
}

// Run drives the monitor until completion, stop, or context cancellation.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-m.stopCh:
			m.shutdown()
			return
		case ev := <-m.events:
			switch {
			case ev.quote != nil:
				m.handleQuote(ctx, *ev.quote)
			case ev.order != nil:
				if completed := m.handleOrderUpdate(ctx, *ev.order); completed {
					return
				}
			}
		}
	}
}

// handleQuote applies one tick: staleness check, trigger evaluation, and
// intent emission for every approved fire.
func (m *Monitor) handleQuote(ctx context.Context, q model.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.Completed {
		return
	}

	// Out-of-order ticks are discarded so the high-water mark never
	// regresses on a feed gap replay.
	if !m.st.LastQuoteTS.IsZero() && q.QuoteTS.Before(m.st.LastQuoteTS) {
		if m.hooks.OnStaleQuote != nil {
			m.hooks.OnStaleQuote()
		}
		return
	}
	price := q.MonitorPrice(m.policy)
	if price <= 0 {
		// No usable price: not a processed tick, so it must not advance
		// the staleness watermark either.
		return
	}
	m.st.LastQuoteTS = q.QuoteTS

	fires := Evaluate(&m.cfg, &m.pos, m.levels, m.st, price)
	for _, fire := range fires {
		m.emitIntent(ctx, fire)
	}
}

// emitIntent sizes one fire, requests budget, and hands the order intent to
// the router. Caller holds m.mu.
func (m *Monitor) emitIntent(ctx context.Context, fire Fire) {
	qty := m.intentQty(fire.Level)
	if qty <= 0 {
		return
	}

	if !m.gate.Request(1) {
		m.st.BudgetSuppressed++
		if m.hooks.OnSuppressed != nil {
			m.hooks.OnSuppressed(m.ID)
		}
		log.Printf("[monitor %s] fire %s suppressed: order budget exhausted (pnl=%.2f%%)",
			m.ID, fire.Level.ID, fire.PnLPct)
		return
	}

	intent := model.OrderIntent{
		StrategyID: m.ID,
		Level:      fire.Level.ID,
		Instrument: m.instrument,
		Action:     exitAction(m.pos.Side),
		Qty:        qty,
		OrderType:  m.cfg.Execution.OrderType,
	}
	if intent.OrderType == "" {
		intent.OrderType = model.OrderTypeMarket
	}
	if intent.OrderType == model.OrderTypeLimit {
		intent.LimitPrice = limitPrice(intent.Action, fire.Price, m.cfg.Execution.LimitOffsetBps)
	}

	orderID, err := m.router.Submit(ctx, intent)
	if err != nil {
		// Could not hand off; the level stays armed and refires later.
		log.Printf("[monitor %s] submit %s failed: %v", m.ID, fire.Level.ID, err)
		if m.hooks.OnReject != nil {
			m.hooks.OnReject(err.Error())
		}
		return
	}

	m.st.LevelStates[fire.Level.ID] = LevelTriggered
	m.st.PendingOrders[orderID] = PendingOrder{
		Level:       fire.Level.ID,
		ExpectedQty: qty,
	}
	if m.hooks.OnOrderSubmitted != nil {
		m.hooks.OnOrderSubmitted(orderID, m)
	}
	if m.hooks.OnFire != nil {
		m.hooks.OnFire(fire.Level.Kind)
	}
	log.Printf("[monitor %s] fired %s at %d (pnl=%.2f%%): %s %d -> order %s",
		m.ID, fire.Level.ID, fire.Price, fire.PnLPct, intent.Action, qty, orderID)
}

// intentQty sizes an intent at exit_pct of the quantity still available —
// remaining minus what outstanding orders are already expected to take —
// rounded down to the instrument's minimum tradable unit of 1. Cumulative
// exits can therefore never oversell remaining quantity even when several
// rungs fire before earlier fills land.
func (m *Monitor) intentQty(lv Level) int64 {
	committed := int64(0)
	for _, po := range m.st.PendingOrders {
		committed += po.ExpectedQty - po.FilledQty
	}
	available := m.st.RemainingQty - committed
	if available <= 0 {
		return 0
	}
	if lv.Kind == KindTrailing || lv.ExitPct >= 100 {
		return available
	}
	return int64(float64(available) * lv.ExitPct / 100)
}

// handleOrderUpdate applies an order-routing event. Returns true when the
// position has been fully exited and the monitor should shut down.
func (m *Monitor) handleOrderUpdate(ctx context.Context, u model.OrderUpdate) bool {
	m.mu.Lock()

	po, ok := m.st.PendingOrders[u.OrderID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	var fills []FillRecord
	completed := false

	switch u.Status {
	case model.OrderAccepted:
		// Broker ack only; nothing to apply.

	case model.OrderRejected:
		delete(m.st.PendingOrders, u.OrderID)
		m.st.LevelStates[po.Level] = LevelArmed
		log.Printf("[monitor %s] order %s rejected (%s), level %s re-armed",
			m.ID, u.OrderID, u.Reason, po.Level)
		if m.hooks.OnReject != nil {
			m.hooks.OnReject(u.Reason)
		}
		if m.hooks.OnOrderClosed != nil {
			m.hooks.OnOrderClosed(u.OrderID)
		}

	case model.OrderCancelled:
		delete(m.st.PendingOrders, u.OrderID)
		m.st.LevelStates[po.Level] = LevelCancelled
		if m.hooks.OnOrderClosed != nil {
			m.hooks.OnOrderClosed(u.OrderID)
		}

	case model.OrderPartFill, model.OrderFilled:
		fills = m.applyFills(u, &po)
		completed = m.st.Completed
	}

	m.mu.Unlock()

	for _, rec := range fills {
		if m.hooks.OnFill != nil {
			m.hooks.OnFill(m.ID, rec)
		}
	}
	if completed {
		m.cancelOutstanding(ctx)
		log.Printf("[monitor %s] position fully exited", m.ID)
	}
	return completed
}

// applyFills folds new executions into remaining quantity, the fill log,
// and the owning level's state. Caller holds m.mu.
func (m *Monitor) applyFills(u model.OrderUpdate, po *PendingOrder) []FillRecord {
	var recs []FillRecord

	for _, f := range u.Fills {
		qty := f.Qty
		if qty > m.st.RemainingQty {
			// Cap so cumulative exits never exceed remaining quantity.
			qty = m.st.RemainingQty
		}
		if qty <= 0 {
			continue
		}
		m.st.RemainingQty -= qty
		po.FilledQty += qty

		rec := FillRecord{
			Time:           f.FillTS,
			OrderID:        u.OrderID,
			Level:          po.Level,
			Qty:            qty,
			AvgPrice:       f.Price,
			RemainingAfter: m.st.RemainingQty,
			PnLPct:         m.pos.PnLPct(f.Price),
		}
		m.st.FillLog = append(m.st.FillLog, rec)
		recs = append(recs, rec)
	}

	if u.Status == model.OrderFilled || po.FilledQty >= po.ExpectedQty {
		m.st.LevelStates[po.Level] = LevelFilled
		delete(m.st.PendingOrders, u.OrderID)
		if m.hooks.OnOrderClosed != nil {
			m.hooks.OnOrderClosed(u.OrderID)
		}
	} else {
		m.st.LevelStates[po.Level] = LevelPartial
		m.st.PendingOrders[u.OrderID] = *po
	}

	if m.st.RemainingQty == 0 {
		m.st.Completed = true
	}
	return recs
}

// cancelOutstanding cancels every still-pending order. Called when the
// position is fully exited or the monitor is being stopped.
func (m *Monitor) cancelOutstanding(ctx context.Context) {
	m.mu.Lock()
	pending := make(map[string]PendingOrder, len(m.st.PendingOrders))
	for id, po := range m.st.PendingOrders {
		pending[id] = po
		delete(m.st.PendingOrders, id)
		m.st.LevelStates[po.Level] = LevelCancelled
	}
	m.mu.Unlock()

	for orderID := range pending {
		if err := m.router.Cancel(ctx, orderID); err != nil {
			log.Printf("[monitor %s] cancel %s: %v", m.ID, orderID, err)
		}
		if m.hooks.OnOrderClosed != nil {
			m.hooks.OnOrderClosed(orderID)
		}
	}
}

// shutdown cancels pending orders and marks open levels cancelled.
func (m *Monitor) shutdown() {
	m.cancelOutstanding(context.Background())

	m.mu.Lock()
	if !m.st.Completed {
		for id, ls := range m.st.LevelStates {
			if ls == LevelArmed || ls == LevelTriggered || ls == LevelPartial {
				m.st.LevelStates[id] = LevelCancelled
			}
		}
	}
	m.mu.Unlock()
	log.Printf("[monitor %s] stopped", m.ID)
}

// exitAction maps position side to the broker action that reduces it.
func exitAction(side model.Side) model.OrderAction {
	if side == model.SideLong {
		return model.ActionSell
	}
	return model.ActionBuy
}

// limitPrice offsets the trigger price toward the market so a crossing
// limit order fills: sells are walked down, buys up.
func limitPrice(action model.OrderAction, price, offsetBps int64) int64 {
	offset := price * offsetBps / 10000
	if action == model.ActionSell {
		return price - offset
	}
	return price + offset
}
