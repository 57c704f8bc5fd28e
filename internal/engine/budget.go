package engine

import (
	"fmt"
	"log"
	"sync"
)

// Budget gate sentinel values.
const (
	BudgetUnlimited int64 = -1
	BudgetHalted    int64 = 0
)

// Gate is the shared admission counter for autonomously generated orders.
// One Gate is shared by every monitor; its decrement is the only mutable
// state crossing monitor boundaries, so it lives behind its own mutex
// rather than being touched ad hoc by callers.
//
// remaining: −1 = unlimited, 0 = halted, N > 0 = N more approvals allowed.
// lifetime is a monotonically increasing count of approvals, never reset.
type Gate struct {
	mu        sync.Mutex
	remaining int64
	lifetime  int64
}

// GateStatus is a point-in-time snapshot of the gate counters.
type GateStatus struct {
	Remaining     int64 `json:"order_budget"`
	LifetimeTotal int64 `json:"total_algo_orders"`
}

// NewGate creates a Gate with the given initial budget (−1, 0, or N).
func NewGate(initial int64) (*Gate, error) {
	if initial < BudgetUnlimited {
		return nil, fmt.Errorf("budget gate: invalid initial budget %d", initial)
	}
	return &Gate{remaining: initial}, nil
}

// Request asks for approval to send count autonomous orders. Approval
// atomically decrements the remaining budget (unless unlimited); a denial
// changes nothing. Concurrent requests never oversubscribe: against a
// budget of N=1, exactly one of two racing requests is approved.
func (g *Gate) Request(count int64) bool {
	if count <= 0 {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// A negative counter other than the unlimited sentinel means a
	// double-decrement slipped through; that breaks the safety guarantee,
	// so fail loudly instead of clamping.
	if g.remaining < BudgetUnlimited {
		panic(fmt.Sprintf("budget gate: counter corrupted: %d", g.remaining))
	}

	if g.remaining == BudgetUnlimited {
		g.lifetime += count
		return true
	}
	if g.remaining < count {
		return false
	}
	g.remaining -= count
	g.lifetime += count
	return true
}

// SetBudget applies an operator override: −1 lifts all limits, 0 halts all
// further autonomous orders, N allows N more. Takes effect for the next
// Request after it returns; approvals already granted are not recalled.
func (g *Gate) SetBudget(v int64) error {
	if v < BudgetUnlimited {
		return fmt.Errorf("budget gate: invalid budget %d (want -1, 0, or N)", v)
	}
	g.mu.Lock()
	prev := g.remaining
	g.remaining = v
	g.mu.Unlock()
	log.Printf("[budget] override: %d -> %d", prev, v)
	return nil
}

// Status returns the current counters.
func (g *Gate) Status() GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStatus{Remaining: g.remaining, LifetimeTotal: g.lifetime}
}
