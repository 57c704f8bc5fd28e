// Package journal persists fill records to SQLite for audit and UI replay.
package journal

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dealdesk/internal/engine"
)

// Journal is the append-only fill store backing the dashboard's history
// views. Rows are never updated or deleted.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// DB returns the underlying handle for liveness checks.
func (j *Journal) DB() *sql.DB { return j.db }

// New opens (or creates) the SQLite journal database.
func New(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id     TEXT NOT NULL,
		order_id        TEXT NOT NULL,
		level           TEXT NOT NULL,
		qty             INTEGER NOT NULL,
		avg_price       INTEGER NOT NULL,
		remaining_after INTEGER NOT NULL,
		pnl_pct         REAL NOT NULL,
		filled_at       DATETIME NOT NULL,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_fills_strategy ON fills(strategy_id);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened fill journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordFill persists one fill record.
func (j *Journal) RecordFill(strategyID string, rec engine.FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (strategy_id, order_id, level, qty, avg_price, remaining_after, pnl_pct, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strategyID,
		rec.OrderID,
		rec.Level,
		rec.Qty,
		rec.AvgPrice,
		rec.RemainingAfter,
		rec.PnLPct,
		rec.Time.Format(time.RFC3339Nano),
	)
	return err
}

// FillRow is one row from the fills table.
type FillRow struct {
	ID             int64   `json:"id"`
	StrategyID     string  `json:"strategy_id"`
	OrderID        string  `json:"order_id"`
	Level          string  `json:"level"`
	Qty            int64   `json:"qty"`
	AvgPrice       int64   `json:"avg_price"`
	RemainingAfter int64   `json:"remaining_after"`
	PnLPct         float64 `json:"pnl_pct"`
	FilledAt       string  `json:"filled_at"`
}

// Fills returns the last N fills, newest first. strategyID filters to one
// monitor when non-empty.
func (j *Journal) Fills(strategyID string, limit int) ([]FillRow, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	query := `SELECT id, strategy_id, order_id, level, qty, avg_price, remaining_after, pnl_pct, filled_at
		 FROM fills`
	args := []interface{}{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRow
	for rows.Next() {
		var f FillRow
		if err := rows.Scan(&f.ID, &f.StrategyID, &f.OrderID, &f.Level, &f.Qty,
			&f.AvgPrice, &f.RemainingAfter, &f.PnLPct, &f.FilledAt); err != nil {
			log.Printf("[journal] scan fill row: %v", err)
			continue
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
