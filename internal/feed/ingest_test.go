package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dealdesk/internal/model"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// quoteServer serves one WebSocket connection and writes each payload.
func quoteServer(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestIngestDeliversQuotes(t *testing.T) {
	srv := quoteServer(t, []string{
		`{"key":"STK:TWTR","bid":5180,"ask":5190,"last":5185,"quote_ts":"2026-01-05T14:30:00Z"}`,
		`not json`,       // parse errors are skipped
		`{"bid":1}`,      // empty key skipped
		`{"key":"OPT:TWTR:20260116:5400:C","bid":310,"ask":314}`, // zero ts gets stamped
	})
	defer srv.Close()

	ing, err := New(Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quoteCh := make(chan model.Quote, 16)
	go ing.Start(ctx, quoteCh)

	q1 := recvQuote(t, quoteCh)
	if q1.Key != "STK:TWTR" || q1.Bid != 5180 || q1.Ask != 5190 {
		t.Fatalf("first quote = %+v", q1)
	}
	if q1.QuoteTS.IsZero() {
		t.Fatal("wire timestamp lost")
	}

	q2 := recvQuote(t, quoteCh)
	if q2.Key != "OPT:TWTR:20260116:5400:C" {
		t.Fatalf("second quote = %+v (bad payloads not skipped?)", q2)
	}
	if q2.QuoteTS.IsZero() {
		t.Fatal("missing timestamp not stamped on receive")
	}
}

func TestIngestRejectsBadURL(t *testing.T) {
	if _, err := New(Config{URL: "://not-a-url"}); err == nil {
		t.Fatal("unparseable URL accepted")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "ws://localhost:8081/quotes"}
	cfg.defaults()
	if cfg.ReconnectDelay != 2*time.Second {
		t.Fatalf("reconnect delay = %v", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnectDelay != 30*time.Second {
		t.Fatalf("max reconnect delay = %v", cfg.MaxReconnectDelay)
	}
}

func recvQuote(t *testing.T, ch <-chan model.Quote) model.Quote {
	t.Helper()
	select {
	case q := <-ch:
		return q
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quote")
		return model.Quote{}
	}
}
