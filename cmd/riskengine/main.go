package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dealdesk/config"
	"dealdesk/internal/api"
	"dealdesk/internal/engine"
	"dealdesk/internal/feed"
	"dealdesk/internal/journal"
	"dealdesk/internal/logger"
	"dealdesk/internal/metrics"
	"dealdesk/internal/model"
	"dealdesk/internal/notification"
	"dealdesk/internal/riskconfig"
	"dealdesk/internal/routing"
	redisstore "dealdesk/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init("riskengine", logger.ParseLevel(cfg.LogLevel))
	log.Println("[riskengine] starting...")

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Fill journal (SQLite, off hot path) ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	jnl, err := journal.New(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[riskengine] journal init failed: %v", err)
	}
	defer jnl.Close()
	log.Println("[riskengine] fill journal ready")

	// ---- Redis publisher ----
	var pub *redisstore.Publisher
	pub, err = redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[riskengine] WARNING: redis init failed: %v (continuing without redis)", err)
		pub = nil
	} else {
		pub.OnPublish = func(d time.Duration) {
			prom.RedisPublishDur.Observe(d.Seconds())
		}
		log.Println("[riskengine] redis publisher ready")
	}

	// ---- Periodic liveness checks ----
	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), jnl.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, jnl.DB(), 10*time.Second)
	}

	// ---- Order budget gate ----
	gate, err := engine.NewGate(cfg.OrderBudget)
	if err != nil {
		log.Fatalf("[riskengine] bad ORDER_BUDGET: %v", err)
	}
	log.Printf("[riskengine] order budget: %d (-1 = unlimited)", cfg.OrderBudget)

	// ---- Risk presets ----
	presets, err := riskconfig.LoadPresets(cfg.PresetsPath)
	if err != nil {
		log.Fatalf("[riskengine] presets load failed: %v", err)
	}
	log.Printf("[riskengine] presets loaded: %v", presets.Names())

	// ---- Price policy ----
	policy := model.PricePolicy(cfg.PricePolicy)
	if policy != model.PolicyMid && policy != model.PolicyLast {
		log.Fatalf("[riskengine] bad PRICE_POLICY %q (want mid|last)", cfg.PricePolicy)
	}

	// ---- Paper order router ----
	router := routing.NewPaperRouter(1024)

	// ---- Supervisor ----
	sup := engine.NewSupervisor(engine.SupervisorConfig{
		Gate:        gate,
		Router:      router,
		PricePolicy: policy,
		Presets:     presets,
	})

	// ---- WebSocket event hub for the dashboard ----
	hub := api.NewEventHub(512)

	// ---- Operator alerts ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
		log.Println("[riskengine] webhook alerts enabled")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[riskengine] telegram alerts enabled")
	}
	alerts := notification.NewDispatcher(backends...)
	go alerts.Run(ctx)

	// ---- Fill fan-out: journal + redis + dashboard WS ----
	type fillMsg struct {
		strategyID string
		rec        engine.FillRecord
	}
	journalCh := make(chan fillMsg, 1024)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-journalCh:
				start := time.Now()
				if err := jnl.RecordFill(msg.strategyID, msg.rec); err != nil {
					log.Printf("[riskengine] journal write failed for %s: %v", msg.strategyID, err)
				}
				prom.JournalWriteDur.Observe(time.Since(start).Seconds())
			}
		}
	}()

	redisFillCh := make(chan redisstore.FillMsg, 1024)
	if pub != nil {
		go pub.RunFills(ctx, redisFillCh)
	}

	sup.OnFill = func(strategyID string, rec engine.FillRecord) {
		prom.FillsTotal.Inc()
		prom.QtyExitedTotal.Add(float64(rec.Qty))

		select {
		case journalCh <- fillMsg{strategyID, rec}:
		default:
			log.Printf("[riskengine] journalCh full, dropping fill record for %s", strategyID)
		}
		if pub != nil {
			select {
			case redisFillCh <- redisstore.FillMsg{StrategyID: strategyID, Rec: rec}:
			default:
			}
		}
		hub.Broadcast("fill", map[string]interface{}{
			"strategy_id": strategyID,
			"fill":        rec,
		})
		alerts.Post(notification.FillAlert(strategyID, rec))
	}
	sup.OnFire = func(kind engine.LevelKind) {
		prom.FiresTotal.WithLabelValues(string(kind)).Inc()
		prom.BudgetApprovals.Inc()
		prom.OrdersSubmitted.Inc()
	}
	sup.OnStaleQuote = func() { prom.StaleQuotes.Inc() }
	sup.OnSuppressed = func(strategyID string) {
		prom.BudgetDenials.Inc()
		alerts.Post(notification.SuppressedAlert(strategyID))
	}
	sup.OnReject = func(reason string) { prom.OrderRejections.Inc() }
	sup.OnQuoteDrop = func() { prom.DroppedQuotes.Inc() }

	go sup.Run(ctx, router)

	// ---- Quote feed ----
	quoteCh := make(chan model.Quote, 10000)
	ingest, err := feed.New(feed.Config{
		URL:               cfg.FeedWSURL,
		ReconnectDelay:    2 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
	})
	if err != nil {
		log.Fatalf("[riskengine] feed init failed: %v", err)
	}
	ingest.OnReconnect = func() {
		prom.FeedReconnects.Inc()
		health.SetFeedConnected(false)
	}

	go func() {
		health.SetFeedConnected(true)
		if err := ingest.Start(ctx, quoteCh); err != nil {
			log.Printf("[riskengine] feed error: %v", err)
			health.SetFeedConnected(false)
		}
	}()

	// Quote dispatch: marks for the paper router, then monitor routing.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case q := <-quoteCh:
				prom.QuotesTotal.Inc()
				health.SetFeedConnected(true)
				health.SetLastQuoteTime(q.QuoteTS)
				router.UpdateMark(q.Key, q.MonitorPrice(policy))
				sup.OnQuote(q)
			}
		}
	}()

	// ---- Periodic status publish (Redis + dashboard WS) ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := sup.Status()
				prom.ActiveMonitors.Set(float64(len(snap.Monitors)))
				health.SetActiveMonitors(len(snap.Monitors))
				if pub != nil {
					pub.PublishStatus(ctx, snap)
				}
				hub.Broadcast("status", snap)
			}
		}
	}()

	// ---- Control API ----
	apiSrv := &api.Server{
		Supervisor:   sup,
		Hub:          hub,
		Fills:        jnl,
		Presets:      presets,
		TOTPSecret:   cfg.OperatorTOTPSecret,
		ProcessStart: time.Now(),
		OnBudgetChange: func(newBudget int64) {
			alerts.Post(notification.BudgetAlert(newBudget))
		},
	}
	mux := http.NewServeMux()
	apiSrv.RegisterRoutes(mux)
	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: mux}
	go func() {
		log.Printf("[riskengine] control API listening on %s", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[riskengine] api server error: %v", err)
		}
	}()

	log.Println("[riskengine] ╔══════════════════════════════════════════════════════════╗")
	log.Println("[riskengine] ║  Position Risk Engine                                   ║")
	log.Println("[riskengine] ║                                                         ║")
	log.Println("[riskengine] ║  [Quote WS] → [Monitors] → [Budget Gate] → [Paper Router]║")
	log.Printf("[riskengine] ║  API: %-8s  Metrics: %-8s  Policy: %-6s       ║", cfg.APIAddr, cfg.MetricsAddr, policy)
	log.Println("[riskengine] ╚══════════════════════════════════════════════════════════╝")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[riskengine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if pub != nil {
		pub.Close()
	}

	log.Println("[riskengine] shutdown complete.")
}
