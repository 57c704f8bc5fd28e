package model

import (
	"math"
	"testing"
)

func TestInstrumentKey(t *testing.T) {
	opt := Instrument{
		SecType: SecTypeOption,
		Symbol:  "TWTR",
		Expiry:  "20260116",
		Strike:  5400,
		Right:   RightCall,
	}
	if got := opt.Key(); got != "OPT:TWTR:20260116:5400:C" {
		t.Fatalf("option key = %s", got)
	}

	stk := Instrument{SecType: SecTypeStock, Symbol: "TWTR"}
	if got := stk.Key(); got != "STK:TWTR" {
		t.Fatalf("stock key = %s", got)
	}
}

func TestInstrumentValidate(t *testing.T) {
	cases := []struct {
		name string
		inst Instrument
		ok   bool
	}{
		{"stock", Instrument{SecType: SecTypeStock, Symbol: "TWTR"}, true},
		{"option", Instrument{SecType: SecTypeOption, Symbol: "TWTR",
			Expiry: "20260116", Strike: 5400, Right: RightPut}, true},
		{"empty symbol", Instrument{SecType: SecTypeStock}, false},
		{"option missing strike", Instrument{SecType: SecTypeOption, Symbol: "TWTR",
			Expiry: "20260116", Right: RightCall}, false},
		{"option bad right", Instrument{SecType: SecTypeOption, Symbol: "TWTR",
			Expiry: "20260116", Strike: 5400, Right: "X"}, false},
		{"unknown sec type", Instrument{SecType: "FUT", Symbol: "ES"}, false},
	}
	for _, tc := range cases {
		err := tc.inst.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}

func TestEffMultiplier(t *testing.T) {
	opt := Instrument{SecType: SecTypeOption, Multiplier: 100}
	if opt.EffMultiplier() != 100 {
		t.Fatalf("multiplier = %d", opt.EffMultiplier())
	}
	stk := Instrument{SecType: SecTypeStock}
	if stk.EffMultiplier() != 1 {
		t.Fatalf("default multiplier = %d", stk.EffMultiplier())
	}
}

func TestPnLPctSignFlipsForShort(t *testing.T) {
	long := Position{Side: SideLong, Qty: 100, EntryPrice: 5000}
	if got := long.PnLPct(4890); math.Abs(got-(-2.2)) > 1e-9 {
		t.Fatalf("long pnl at 4890 = %v, want -2.2", got)
	}
	if got := long.PnLPct(5300); math.Abs(got-6) > 1e-9 {
		t.Fatalf("long pnl at 5300 = %v, want 6", got)
	}

	short := Position{Side: SideShort, Qty: 100, EntryPrice: 5000}
	if got := short.PnLPct(4890); math.Abs(got-2.2) > 1e-9 {
		t.Fatalf("short pnl at 4890 = %v, want 2.2", got)
	}

	zero := Position{Side: SideLong}
	if got := zero.PnLPct(100); got != 0 {
		t.Fatalf("zero-entry pnl = %v, want 0", got)
	}
}

func TestQuoteMidAndPolicy(t *testing.T) {
	q := Quote{Bid: 310, Ask: 314, Last: 300}
	if q.Mid() != 312 {
		t.Fatalf("mid = %d, want 312", q.Mid())
	}
	if q.MonitorPrice(PolicyMid) != 312 {
		t.Fatalf("policy mid = %d", q.MonitorPrice(PolicyMid))
	}
	if q.MonitorPrice(PolicyLast) != 300 {
		t.Fatalf("policy last = %d", q.MonitorPrice(PolicyLast))
	}

	// One-sided book falls back to last.
	oneSided := Quote{Bid: 310, Last: 305}
	if oneSided.Mid() != 305 {
		t.Fatalf("one-sided mid = %d, want 305", oneSided.Mid())
	}

	// No last either: policy last falls back to mid.
	noLast := Quote{Bid: 310, Ask: 314}
	if noLast.MonitorPrice(PolicyLast) != 312 {
		t.Fatalf("last fallback = %d, want 312", noLast.MonitorPrice(PolicyLast))
	}
}
