package routing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dealdesk/internal/model"
)

// Compile-time interface check.
var _ Router = (*PaperRouter)(nil)

// PaperRouter simulates order routing without a broker connection. Useful
// for staging the dashboard and for engine tests.
//
// Market orders fill at the last mark seen for the instrument (fed via
// UpdateMark), limit orders at their limit price. Fills are reported after
// FillDelay; orders larger than PartialChunk are split into partial fills
// to exercise the PARTIAL path.
type PaperRouter struct {
	mu       sync.Mutex
	orderSeq int64
	open     map[string]model.OrderIntent
	marks    map[string]int64 // instrument key -> last price in cents

	updateCh chan model.OrderUpdate

	// Simulation parameters.
	SlippageBps  int64         // adverse slippage applied to market fills
	FillDelay    time.Duration // delay before fills are reported
	PartialChunk int64         // max qty per fill report, 0 = fill whole
}

// NewPaperRouter creates a paper router with the given update buffer size.
func NewPaperRouter(updateBufferSize int) *PaperRouter {
	return &PaperRouter{
		open:     make(map[string]model.OrderIntent),
		marks:    make(map[string]int64),
		updateCh: make(chan model.OrderUpdate, updateBufferSize),
	}
}

// Updates returns the stream of order lifecycle events.
func (p *PaperRouter) Updates() <-chan model.OrderUpdate {
	return p.updateCh
}

// UpdateMark records the latest market price for an instrument, used to
// fill simulated market orders.
func (p *PaperRouter) UpdateMark(instrumentKey string, price int64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.marks[instrumentKey] = price
	p.mu.Unlock()
}

// Submit accepts the intent, assigns a paper order id, and schedules the
// simulated acceptance and fills. Never blocks on I/O.
func (p *PaperRouter) Submit(_ context.Context, intent model.OrderIntent) (string, error) {
	if intent.Qty <= 0 {
		return "", fmt.Errorf("paper: invalid qty %d", intent.Qty)
	}

	p.mu.Lock()
	p.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	fillPrice := intent.LimitPrice
	if intent.OrderType == model.OrderTypeMarket {
		fillPrice = p.marks[intent.Instrument.Key()]
	}
	if fillPrice <= 0 {
		p.mu.Unlock()
		// No mark yet — report an async rejection like a real broker would.
		go p.emit(model.OrderUpdate{
			OrderID: orderID,
			Status:  model.OrderRejected,
			Reason:  "no market price for " + intent.Instrument.Key(),
		})
		return orderID, nil
	}

	if intent.OrderType == model.OrderTypeMarket && p.SlippageBps > 0 {
		slip := fillPrice * p.SlippageBps / 10000
		if intent.Action == model.ActionBuy {
			fillPrice += slip
		} else {
			fillPrice -= slip
		}
	}

	p.open[orderID] = intent
	p.mu.Unlock()

	log.Printf("[paper] %s %s %s qty=%d type=%s -> %s",
		intent.StrategyID, intent.Action, intent.Instrument.Key(),
		intent.Qty, intent.OrderType, orderID)

	go p.simulate(orderID, intent, fillPrice)
	return orderID, nil
}

// Cancel removes an open order. Fills already reported stand.
func (p *PaperRouter) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	_, ok := p.open[orderID]
	delete(p.open, orderID)
	p.mu.Unlock()

	if ok {
		p.emit(model.OrderUpdate{OrderID: orderID, Status: model.OrderCancelled})
	}
	return nil
}

// simulate emits acceptance and then fills for one order.
func (p *PaperRouter) simulate(orderID string, intent model.OrderIntent, fillPrice int64) {
	p.emit(model.OrderUpdate{OrderID: orderID, Status: model.OrderAccepted})

	if p.FillDelay > 0 {
		time.Sleep(p.FillDelay)
	}

	remaining := intent.Qty
	for remaining > 0 {
		p.mu.Lock()
		_, stillOpen := p.open[orderID]
		p.mu.Unlock()
		if !stillOpen {
			return // cancelled mid-flight
		}

		qty := remaining
		if p.PartialChunk > 0 && qty > p.PartialChunk {
			qty = p.PartialChunk
		}
		remaining -= qty

		status := model.OrderPartFill
		if remaining == 0 {
			status = model.OrderFilled
			p.mu.Lock()
			delete(p.open, orderID)
			p.mu.Unlock()
		}

		p.emit(model.OrderUpdate{
			OrderID: orderID,
			Status:  status,
			Fills:   []model.Fill{{Qty: qty, Price: fillPrice, FillTS: time.Now().UTC()}},
		})
	}
}

func (p *PaperRouter) emit(u model.OrderUpdate) {
	select {
	case p.updateCh <- u:
	default:
		log.Printf("[paper] update channel full, dropping %s for %s", u.Status, u.OrderID)
	}
}
