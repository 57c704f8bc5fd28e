package model

import "time"

// Quote is a single market data update for one instrument.
type Quote struct {
	Key     string    `json:"key"` // Instrument.Key of the quoted contract
	Bid     int64     `json:"bid"` // cents, 0 = no bid
	Ask     int64     `json:"ask"` // cents, 0 = no ask
	Last    int64     `json:"last"`
	QuoteTS time.Time `json:"quote_ts"` // UTC exchange timestamp
}

// Mid returns the bid/ask midpoint, falling back to Last when one side of
// the book is empty.
func (q *Quote) Mid() int64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// PricePolicy selects which price from a quote drives trigger evaluation.
type PricePolicy string

const (
	PolicyMid  PricePolicy = "mid"
	PolicyLast PricePolicy = "last"
)

// MonitorPrice derives the price used for trigger evaluation per the policy.
// Returns 0 when the quote carries no usable price.
func (q *Quote) MonitorPrice(policy PricePolicy) int64 {
	switch policy {
	case PolicyLast:
		if q.Last > 0 {
			return q.Last
		}
		return q.Mid()
	default: // mid
		return q.Mid()
	}
}
