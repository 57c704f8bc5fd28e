package journal

import (
	"path/filepath"
	"testing"
	"time"

	"dealdesk/internal/engine"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "fills.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func rec(orderID, level string, qty, remaining int64) engine.FillRecord {
	return engine.FillRecord{
		Time:           time.Now().UTC(),
		OrderID:        orderID,
		Level:          level,
		Qty:            qty,
		AvgPrice:       4890,
		RemainingAfter: remaining,
		PnLPct:         -2.2,
	}
}

func TestRecordAndReadBack(t *testing.T) {
	j := testJournal(t)

	if err := j.RecordFill("rm-1", rec("ORD-1", "stop_1", 33, 67)); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if err := j.RecordFill("rm-1", rec("ORD-2", "stop_2", 33, 34)); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if err := j.RecordFill("rm-2", rec("ORD-3", "trailing", 10, 0)); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}

	all, err := j.Fills("", 100)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("rows = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].OrderID != "ORD-3" || all[2].OrderID != "ORD-1" {
		t.Fatalf("order wrong: %s ... %s", all[0].OrderID, all[2].OrderID)
	}

	got := all[2]
	if got.StrategyID != "rm-1" || got.Level != "stop_1" || got.Qty != 33 ||
		got.AvgPrice != 4890 || got.RemainingAfter != 67 {
		t.Fatalf("row mismatch: %+v", got)
	}
	if got.PnLPct != -2.2 {
		t.Fatalf("pnl = %v, want -2.2", got.PnLPct)
	}
}

func TestFillsFilterByStrategy(t *testing.T) {
	j := testJournal(t)

	j.RecordFill("rm-1", rec("ORD-1", "stop_1", 33, 67))
	j.RecordFill("rm-2", rec("ORD-2", "stop_1", 10, 0))

	rows, err := j.Fills("rm-2", 100)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(rows) != 1 || rows[0].StrategyID != "rm-2" {
		t.Fatalf("filtered rows = %+v", rows)
	}
}

func TestFillsSkipsUnscannableRow(t *testing.T) {
	j := testJournal(t)

	if err := j.RecordFill("rm-1", rec("ORD-1", "stop_1", 33, 67)); err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	// SQLite's type affinity lets a corrupt writer land text in the qty
	// column; the read path must skip such a row, not fail the whole query.
	_, err := j.db.Exec(
		`INSERT INTO fills (strategy_id, order_id, level, qty, avg_price, remaining_after, pnl_pct, filled_at)
		 VALUES ('rm-1', 'ORD-BAD', 'stop_1', 'garbage', 4890, 0, -2.2, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	rows, err := j.Fills("rm-1", 100)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(rows) != 1 || rows[0].OrderID != "ORD-1" {
		t.Fatalf("rows = %+v, want only ORD-1", rows)
	}
}

func TestFillsLimit(t *testing.T) {
	j := testJournal(t)

	for i := 0; i < 10; i++ {
		j.RecordFill("rm-1", rec("ORD", "stop_1", 1, int64(9-i)))
	}

	rows, err := j.Fills("rm-1", 4)
	if err != nil {
		t.Fatalf("Fills: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	// Latest insert has the smallest remaining_after.
	if rows[0].RemainingAfter != 0 {
		t.Fatalf("newest row remaining = %d, want 0", rows[0].RemainingAfter)
	}
}
