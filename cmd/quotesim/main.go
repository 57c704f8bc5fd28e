// cmd/quotesim — Demo WebSocket quote server.
// Broadcasts simulated bid/ask/last quotes for testing the risk engine
// without a live market data session.
//
// Quote JSON shape is identical to model.Quote:
//
//	{"key":"OPT:TWTR:20260116:5400:C","bid":310,"ask":314,"last":312,"quote_ts":"..."}
//
// Prices are in cents, same as the live feed.
//
// Config (env vars):
//
//	QUOTE_SERVER_ADDR  — listen address (default: ":8081")
//	QUOTE_KEYS         — comma-separated KEY=STARTPRICE pairs
//	                     (default: "OPT:TWTR:20260116:5400:C=312,STK:TWTR=5185")
//	QUOTE_INTERVAL_MS  — broadcast interval milliseconds (default: "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dealdesk/internal/model"
)

// instrument holds per-contract simulation state.
type instrument struct {
	Key   string
	Price int64 // current simulated mid in cents
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop quote
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[quotesim] upgrade error: %v", err)
			return
		}
		log.Printf("[quotesim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[quotesim] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sends quote JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Quote generator ─────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.3%) to simulate price movement.
// Option mids are jumpy compared to the underlying, so the step is wider
// than a stock simulator would use.
func walkPrice(price int64) int64 {
	pct := (rand.Float64()*0.6 - 0.3) / 100.0
	delta := int64(float64(price) * pct)
	newPrice := price + delta
	if newPrice < 1 { // floor at 1 cent
		newPrice = 1
	}
	return newPrice
}

// spread derives a bid/ask around the mid. Wider for cheap contracts where
// a 1-cent tick is a large fraction of the price.
func spread(mid int64) int64 {
	s := mid / 100 // ~1%
	if s < 1 {
		s = 1
	}
	return s
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(instruments[i].Price)
			mid := instruments[i].Price
			half := spread(mid)
			q := model.Quote{
				Key:     instruments[i].Key,
				Bid:     mid - half,
				Ask:     mid + half,
				Last:    mid,
				QuoteTS: time.Now().UTC(),
			}
			b, err := json.Marshal(q)
			if err != nil {
				continue
			}
			h.broadcast(b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[quotesim] starting demo quote server...")

	addr := envOrDefault("QUOTE_SERVER_ADDR", ":8081")
	keysEnv := envOrDefault("QUOTE_KEYS", "OPT:TWTR:20260116:5400:C=312,STK:TWTR=5185")
	intervalMs := envIntOrDefault("QUOTE_INTERVAL_MS", 250)

	instruments := parseInstruments(keysEnv)
	if len(instruments) == 0 {
		log.Fatalf("[quotesim] no instruments configured via QUOTE_KEYS")
	}
	log.Printf("[quotesim] instruments: %+v", instruments)
	log.Printf("[quotesim] broadcast interval: %dms", intervalMs)

	h := newHub()

	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/quotes", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"quotesim"}`)
	})

	log.Printf("[quotesim] ✅ listening on %s  (WebSocket: ws://localhost%s/quotes)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[quotesim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, "=", 2)
		if len(seg) != 2 {
			log.Printf("[quotesim] skipping invalid key spec: %q", part)
			continue
		}
		key := strings.TrimSpace(seg[0])
		price, err := strconv.ParseInt(strings.TrimSpace(seg[1]), 10, 64)
		if err != nil || price <= 0 {
			log.Printf("[quotesim] skipping key %q: bad start price %q", key, seg[1])
			continue
		}
		result = append(result, instrument{Key: key, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
