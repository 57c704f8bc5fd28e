package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dealdesk/internal/model"
	"dealdesk/internal/riskconfig"
)

// UpdateSource delivers asynchronous order-routing events for orders the
// engine has submitted. Implemented by internal/routing routers.
type UpdateSource interface {
	Updates() <-chan model.OrderUpdate
}

// StartRequest is the presentation-layer contract for starting risk
// management on a position. Preset, when set, names a policy bundle that
// replaces Config.
type StartRequest struct {
	Instrument model.Instrument      `json:"instrument"`
	Position   model.Position        `json:"position"`
	Preset     string                `json:"preset,omitempty"`
	Config     riskconfig.RiskConfig `json:"config"`
}

// MonitorStatus is one active monitor's slice of the status snapshot.
type MonitorStatus struct {
	StrategyID    string                `json:"strategy_id"`
	IsActive      bool                  `json:"is_active"`
	Instrument    model.Instrument      `json:"instrument"`
	Position      model.Position        `json:"position"`
	StrategyState *State                `json:"strategy_state"`
	Config        riskconfig.RiskConfig `json:"config"`
}

// StatusSnapshot aggregates all active monitors plus the global budget.
type StatusSnapshot struct {
	Monitors        []MonitorStatus `json:"monitors"`
	OrderBudget     int64           `json:"order_budget"`
	TotalAlgoOrders int64           `json:"total_algo_orders"`
	TS              time.Time       `json:"ts"`
}

// SupervisorConfig wires a Supervisor.
type SupervisorConfig struct {
	Gate        *Gate
	Router      OrderRouter
	PricePolicy model.PricePolicy
	Presets     *riskconfig.Presets // optional
}

// Supervisor owns the set of active strategy monitors: registration keyed
// by cache_key, quote routing by instrument, order-update routing by order
// id, and status snapshots for the presentation layer.
type Supervisor struct {
	gate    *Gate
	router  OrderRouter
	policy  model.PricePolicy
	presets *riskconfig.Presets

	mu           sync.RWMutex
	monitors     map[string]*Monitor   // cache_key -> monitor
	byStrategy   map[string]*Monitor   // strategy_id -> monitor
	byInstrument map[string][]*Monitor // instrument key -> monitors

	// Order-update routing table. owners maps live broker order ids to the
	// owning monitor so a single router update stream can be fanned back to
	// per-position loops. The router reports on an independent stream, so an
	// update can arrive before the submitting monitor has registered
	// ownership; such updates are parked and re-delivered on registration
	// instead of dropped, or a racing fill would be lost for good.
	ordMu  sync.Mutex
	owners map[string]*Monitor
	parked map[string]*parkedOrder

	seq atomic.Int64

	// Hooks, set before Run. OnFill receives every committed fill; heavy
	// sinks should drain into their own goroutine.
	OnFill       func(strategyID string, rec FillRecord)
	OnFire       func(kind LevelKind)
	OnStaleQuote func()
	OnSuppressed func(strategyID string)
	OnReject     func(reason string)
	OnQuoteDrop  func()

	runCtx context.Context
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Router must also implement
// UpdateSource for Run to consume order events.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	policy := cfg.PricePolicy
	if policy == "" {
		policy = model.PolicyMid
	}
	return &Supervisor{
		gate:         cfg.Gate,
		router:       cfg.Router,
		policy:       policy,
		presets:      cfg.Presets,
		monitors:     make(map[string]*Monitor),
		byStrategy:   make(map[string]*Monitor),
		byInstrument: make(map[string][]*Monitor),
		owners:       make(map[string]*Monitor),
		parked:       make(map[string]*parkedOrder),
	}
}

// Run consumes order updates from the router and dispatches them to the
// owning monitors. Blocks until ctx is cancelled; on exit all monitors are
// stopped and drained.
func (s *Supervisor) Run(ctx context.Context, updates UpdateSource) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return
		case u, ok := <-updates.Updates():
			if !ok {
				s.stopAll()
				s.wg.Wait()
				return
			}
			s.routeUpdate(u)
		}
	}
}

// parkedOrder holds order updates that arrived before ownership was
// registered, in received order.
type parkedOrder struct {
	since   time.Time
	updates []model.OrderUpdate
}

// parkedTTL bounds how long updates for a never-claimed order id are held.
const parkedTTL = 30 * time.Second

// routeUpdate fans one router event back to the owning monitor, parking it
// when the owner is not registered yet. While a park drain is in flight,
// later updates for the same order queue behind it so per-order delivery
// stays in received order.
func (s *Supervisor) routeUpdate(u model.OrderUpdate) {
	s.ordMu.Lock()
	m, owned := s.owners[u.OrderID]
	if owned {
		if p, draining := s.parked[u.OrderID]; draining {
			p.updates = append(p.updates, u)
			s.ordMu.Unlock()
			return
		}
		s.ordMu.Unlock()
		m.EnqueueOrderUpdate(u)
		return
	}

	p, ok := s.parked[u.OrderID]
	if !ok {
		p = &parkedOrder{since: time.Now()}
		s.parked[u.OrderID] = p
		log.Printf("[supervisor] parking update for not-yet-registered order %s (%s)", u.OrderID, u.Status)
	}
	p.updates = append(p.updates, u)
	s.purgeUnclaimedLocked()
	s.ordMu.Unlock()
}

// purgeUnclaimedLocked drops parked entries whose order id was never
// claimed, so stray ids from a shared router cannot accumulate. Caller
// holds s.ordMu.
func (s *Supervisor) purgeUnclaimedLocked() {
	for id, p := range s.parked {
		if _, owned := s.owners[id]; owned {
			continue
		}
		if time.Since(p.since) > parkedTTL {
			log.Printf("[supervisor] dropping %d update(s) for unclaimed order %s", len(p.updates), id)
			delete(s.parked, id)
		}
	}
}

// registerOrder records the monitor owning a broker order id and kicks off
// delivery of any updates that beat the registration. The drain runs on its
// own goroutine: this is called from the monitor's event loop, which must
// never block sending to its own channel.
func (s *Supervisor) registerOrder(orderID string, m *Monitor) {
	s.ordMu.Lock()
	s.owners[orderID] = m
	_, hasParked := s.parked[orderID]
	s.ordMu.Unlock()
	if hasParked {
		go s.drainParked(orderID, m)
	}
}

// drainParked delivers parked updates for one order in received order, then
// retires the park entry so later updates route directly.
func (s *Supervisor) drainParked(orderID string, m *Monitor) {
	for {
		s.ordMu.Lock()
		p, ok := s.parked[orderID]
		if !ok || len(p.updates) == 0 {
			delete(s.parked, orderID)
			s.ordMu.Unlock()
			return
		}
		u := p.updates[0]
		p.updates = p.updates[1:]
		s.ordMu.Unlock()
		m.EnqueueOrderUpdate(u)
	}
}

// closeOrder drops the routing entry for a terminal order.
func (s *Supervisor) closeOrder(orderID string) {
	s.ordMu.Lock()
	delete(s.owners, orderID)
	delete(s.parked, orderID)
	s.ordMu.Unlock()
}

// Start validates the request and spins up a monitor for the position.
// Returns the new strategy id, or ErrDuplicateMonitor / a configuration
// error wrapping riskconfig.ErrConfiguration.
func (s *Supervisor) Start(req StartRequest) (string, error) {
	if err := req.Instrument.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", riskconfig.ErrConfiguration, err)
	}
	if req.Position.Qty <= 0 {
		return "", fmt.Errorf("%w: position qty must be positive", riskconfig.ErrConfiguration)
	}
	if req.Position.EntryPrice <= 0 {
		return "", fmt.Errorf("%w: position entry_price must be positive", riskconfig.ErrConfiguration)
	}
	if req.Position.Side != model.SideLong && req.Position.Side != model.SideShort {
		return "", fmt.Errorf("%w: position side must be LONG or SHORT", riskconfig.ErrConfiguration)
	}

	cfg := req.Config
	if req.Preset != "" {
		if s.presets == nil {
			return "", fmt.Errorf("%w: no presets configured", riskconfig.ErrConfiguration)
		}
		p, ok := s.presets.Get(req.Preset)
		if !ok {
			return "", fmt.Errorf("%w: unknown preset %q", riskconfig.ErrConfiguration, req.Preset)
		}
		cfg = p
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if len(LevelsFromConfig(&cfg)) == 0 {
		return "", fmt.Errorf("%w: config declares no exit levels", riskconfig.ErrConfiguration)
	}

	cacheKey := CacheKey(req.Instrument, req.Position.Side)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.monitors[cacheKey]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateMonitor, cacheKey)
	}

	id := fmt.Sprintf("rm-%d", s.seq.Add(1))
	m := newMonitor(id, cacheKey, req.Instrument, req.Position, cfg, s.policy, s.gate, s.router)
	m.hooks = Hooks{
		OnFill:       s.OnFill,
		OnFire:       s.OnFire,
		OnStaleQuote: s.OnStaleQuote,
		OnSuppressed: s.OnSuppressed,
		OnReject:     s.OnReject,
		OnOrderSubmitted: s.registerOrder,
		OnOrderClosed:    s.closeOrder,
	}

	s.monitors[cacheKey] = m
	s.byStrategy[id] = m
	instKey := req.Instrument.Key()
	s.byInstrument[instKey] = append(s.byInstrument[instKey], m)

	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.Run(ctx)
		s.remove(m)
	}()

	log.Printf("[supervisor] started %s for %s (%s qty=%d entry=%d, %d levels)",
		id, cacheKey, req.Position.Side, req.Position.Qty, req.Position.EntryPrice,
		len(m.levels))
	return id, nil
}

// Stop stops the monitor with the given strategy id. Idempotent: stopping
// an unknown, already-stopped, or completed monitor is a no-op.
func (s *Supervisor) Stop(strategyID string) {
	s.mu.RLock()
	m, ok := s.byStrategy[strategyID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	m.RequestStop()
}

// OnQuote routes a tick to every monitor watching the quoted instrument.
// Per-position ordering is preserved by each monitor's event channel;
// different positions process in parallel.
func (s *Supervisor) OnQuote(q model.Quote) {
	s.mu.RLock()
	watchers := s.byInstrument[q.Key]
	s.mu.RUnlock()

	for _, m := range watchers {
		if !m.EnqueueQuote(q) {
			if s.OnQuoteDrop != nil {
				s.OnQuoteDrop()
			}
		}
	}
}

// Status returns the aggregated snapshot served to the presentation layer.
func (s *Supervisor) Status() StatusSnapshot {
	s.mu.RLock()
	monitors := make([]*Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.mu.RUnlock()

	out := make([]MonitorStatus, 0, len(monitors))
	for _, m := range monitors {
		st := m.Snapshot()
		out = append(out, MonitorStatus{
			StrategyID:    m.ID,
			IsActive:      !st.Completed,
			Instrument:    m.instrument,
			Position:      m.pos,
			StrategyState: st,
			Config:        m.cfg,
		})
	}

	gs := s.gate.Status()
	return StatusSnapshot{
		Monitors:        out,
		OrderBudget:     gs.Remaining,
		TotalAlgoOrders: gs.LifetimeTotal,
		TS:              time.Now().UTC(),
	}
}

// SetBudget applies an operator budget override to the shared gate.
func (s *Supervisor) SetBudget(v int64) error {
	return s.gate.SetBudget(v)
}

// BudgetStatus returns the gate counters.
func (s *Supervisor) BudgetStatus() GateStatus {
	return s.gate.Status()
}

// ActiveCount returns the number of registered monitors.
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.monitors)
}

// remove unregisters a monitor after its loop exits.
func (s *Supervisor) remove(m *Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.monitors, m.cacheKey)
	delete(s.byStrategy, m.ID)

	instKey := m.instrument.Key()
	watchers := s.byInstrument[instKey]
	for i, w := range watchers {
		if w == m {
			s.byInstrument[instKey] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
	if len(s.byInstrument[instKey]) == 0 {
		delete(s.byInstrument, instKey)
	}
}

func (s *Supervisor) stopAll() {
	s.mu.RLock()
	for _, m := range s.monitors {
		m.RequestStop()
	}
	s.mu.RUnlock()
}

// CacheKey derives the stable handle binding one monitor to one physical
// position: instrument key plus side.
func CacheKey(inst model.Instrument, side model.Side) string {
	return inst.Key() + ":" + string(side)
}
