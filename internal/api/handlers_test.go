package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"dealdesk/internal/engine"
	"dealdesk/internal/model"
	"dealdesk/internal/riskconfig"
	"dealdesk/internal/routing"
)

func newTestServer(t *testing.T, totpSecret string) (*httptest.Server, *engine.Supervisor) {
	t.Helper()

	gate, err := engine.NewGate(engine.BudgetUnlimited)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	presets, err := riskconfig.LoadPresets("")
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	sup := engine.NewSupervisor(engine.SupervisorConfig{
		Gate:        gate,
		Router:      routing.NewPaperRouter(64),
		PricePolicy: model.PolicyMid,
		Presets:     presets,
	})

	s := &Server{
		Supervisor:   sup,
		Hub:          NewEventHub(16),
		Presets:      presets,
		TOTPSecret:   totpSecret,
		ProcessStart: time.Now(),
	}
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sup
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func validStart() engine.StartRequest {
	return engine.StartRequest{
		Instrument: model.Instrument{SecType: model.SecTypeStock, Symbol: "TWTR"},
		Position:   model.Position{Side: model.SideLong, Qty: 100, EntryPrice: 5000},
		Preset:     riskconfig.PresetStandard,
	}
}

func TestStartStopStatusFlow(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/risk/start", validStart())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var started map[string]string
	json.NewDecoder(resp.Body).Decode(&started)
	id := started["strategy_id"]
	if id == "" {
		t.Fatal("no strategy_id in start response")
	}

	// Duplicate position is a conflict.
	resp = postJSON(t, srv.URL+"/api/risk/start", validStart())
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate start status = %d, want 409", resp.StatusCode)
	}

	// Malformed config is a bad request.
	bad := validStart()
	bad.Position.Side = "SIDEWAYS"
	resp = postJSON(t, srv.URL+"/api/risk/start", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad start status = %d, want 400", resp.StatusCode)
	}

	// Status shows the active monitor and the budget counters.
	resp2, err := http.Get(srv.URL + "/api/risk/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp2.Body.Close()
	var snap engine.StatusSnapshot
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(snap.Monitors) != 1 || snap.Monitors[0].StrategyID != id {
		t.Fatalf("status monitors = %+v", snap.Monitors)
	}
	if snap.OrderBudget != engine.BudgetUnlimited {
		t.Fatalf("order_budget = %d, want -1", snap.OrderBudget)
	}

	// Stop is idempotent: both calls return 200.
	stopBody := map[string]string{"strategy_id": id}
	if resp := postJSON(t, srv.URL+"/api/risk/stop", stopBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/api/risk/stop", stopBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat stop status = %d", resp.StatusCode)
	}
}

func TestStopRequiresStrategyID(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp := postJSON(t, srv.URL+"/api/risk/stop", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBudgetEndpoint(t *testing.T) {
	srv, sup := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/risk/budget")
	if err != nil {
		t.Fatalf("GET budget: %v", err)
	}
	defer resp.Body.Close()
	var gs engine.GateStatus
	json.NewDecoder(resp.Body).Decode(&gs)
	if gs.Remaining != engine.BudgetUnlimited {
		t.Fatalf("order_budget = %d, want -1", gs.Remaining)
	}

	// Emergency halt via the API.
	resp = postJSON(t, srv.URL+"/api/risk/budget", map[string]int64{"budget": 0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("halt status = %d", resp.StatusCode)
	}
	if got := sup.BudgetStatus().Remaining; got != 0 {
		t.Fatalf("remaining after halt = %d, want 0", got)
	}

	resp = postJSON(t, srv.URL+"/api/risk/budget", map[string]int64{"budget": -7})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid budget status = %d, want 400", resp.StatusCode)
	}
}

func TestBudgetTOTPGuard(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	srv, sup := newTestServer(t, secret)

	// Missing or wrong code is forbidden.
	resp := postJSON(t, srv.URL+"/api/risk/budget",
		map[string]interface{}{"budget": 0, "totp_code": "000000"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong code status = %d, want 403", resp.StatusCode)
	}
	if got := sup.BudgetStatus().Remaining; got != engine.BudgetUnlimited {
		t.Fatalf("budget changed despite rejected code: %d", got)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	resp = postJSON(t, srv.URL+"/api/risk/budget",
		map[string]interface{}{"budget": 5, "totp_code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid code status = %d", resp.StatusCode)
	}
	if got := sup.BudgetStatus().Remaining; got != 5 {
		t.Fatalf("remaining = %d, want 5", got)
	}
}

func TestPresetsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/risk/presets")
	if err != nil {
		t.Fatalf("GET presets: %v", err)
	}
	defer resp.Body.Close()

	var presets map[string]riskconfig.RiskConfig
	if err := json.NewDecoder(resp.Body).Decode(&presets); err != nil {
		t.Fatalf("decode presets: %v", err)
	}
	std, ok := presets[riskconfig.PresetStandard]
	if !ok {
		t.Fatalf("standard preset missing: %v", presets)
	}
	if std.StopLoss.Mode != riskconfig.StopLaddered {
		t.Fatalf("standard mode = %s", std.StopLoss.Mode)
	}
}

func TestFillsEndpointWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/api/risk/fills")
	if err != nil {
		t.Fatalf("GET fills: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode fills: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health = %v", body)
	}
}
