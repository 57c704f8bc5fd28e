// Package model defines the wire types shared across the risk engine:
// instruments, positions, quotes, and order messages.
//
// Prices are stored as int64 in cents (1 USD = 100 cents) to avoid float
// drift in trigger arithmetic. Percentages are float64.
package model

import (
	"fmt"
	"strings"
)

// SecType identifies the security type of an instrument.
type SecType string

const (
	SecTypeStock  SecType = "STK"
	SecTypeOption SecType = "OPT"
)

// Right identifies an option right. Empty for non-options.
type Right string

const (
	RightCall Right = "C"
	RightPut  Right = "P"
)

// Instrument describes a tradable contract. Immutable once a monitor has
// been created for a position on it.
type Instrument struct {
	Symbol     string  `json:"symbol"`
	SecType    SecType `json:"sec_type"`
	Expiry     string  `json:"expiry,omitempty"` // YYYYMMDD, options only
	Strike     int64   `json:"strike,omitempty"` // cents, options only
	Right      Right   `json:"right,omitempty"`
	Multiplier int64   `json:"multiplier"` // 100 for US equity options, 1 for stock
	Exchange   string  `json:"exchange"`
	Currency   string  `json:"currency"`
}

// Key returns a stable identifier for the instrument, used for quote routing.
// Format: "OPT:TWTR:20260116:5400:C" or "STK:TWTR".
func (i *Instrument) Key() string {
	if i.SecType == SecTypeOption {
		return fmt.Sprintf("%s:%s:%s:%d:%s", i.SecType, i.Symbol, i.Expiry, i.Strike, i.Right)
	}
	return fmt.Sprintf("%s:%s", i.SecType, i.Symbol)
}

// EffMultiplier returns the contract multiplier, defaulting to 1 when unset.
func (i *Instrument) EffMultiplier() int64 {
	if i.Multiplier <= 0 {
		return 1
	}
	return i.Multiplier
}

// Validate checks that the instrument is well-formed.
func (i *Instrument) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("instrument: empty symbol")
	}
	switch i.SecType {
	case SecTypeStock:
	case SecTypeOption:
		if i.Expiry == "" || i.Strike <= 0 {
			return fmt.Errorf("instrument %s: option requires expiry and strike", i.Symbol)
		}
		if i.Right != RightCall && i.Right != RightPut {
			return fmt.Errorf("instrument %s: bad option right %q", i.Symbol, i.Right)
		}
	default:
		return fmt.Errorf("instrument %s: unknown sec_type %q", i.Symbol, i.SecType)
	}
	return nil
}
