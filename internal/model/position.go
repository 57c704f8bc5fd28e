package model

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Position describes the position a monitor is created for. Qty and
// EntryPrice are authoritative only at creation; the monitor tracks its own
// remaining quantity as exits fill.
type Position struct {
	Side       Side  `json:"side"`
	Qty        int64 `json:"qty"`         // contracts or shares, always positive
	EntryPrice int64 `json:"entry_price"` // cents
}

// PnLPct returns the signed percentage move of price against the entry,
// positive in the position's favor. A short position profits from a falling
// price, so the sign flips.
func (p *Position) PnLPct(price int64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	pct := float64(price-p.EntryPrice) / float64(p.EntryPrice) * 100
	if p.Side == SideShort {
		pct = -pct
	}
	return pct
}

// PositionSnapshot is the externally-reported position used to seed a new
// monitor's defaults. Delivered by the broker position feed, never trusted
// for remaining-quantity tracking.
type PositionSnapshot struct {
	Symbol    string  `json:"symbol"`
	SecType   SecType `json:"sec_type"`
	Qty       int64   `json:"qty"` // signed: negative = short
	AvgCost   int64   `json:"avg_cost"`
	LastPrice int64   `json:"last_price"`
}
