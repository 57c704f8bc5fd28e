package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	APIAddr       string
	LogLevel      string

	// Quote feed
	FeedWSURL   string
	PricePolicy string // "mid" or "last"

	// Risk engine
	OrderBudget int64 // -1 unlimited, 0 halted, N remaining
	PresetsPath string

	// Operator TOTP secret guarding budget overrides. Empty disables the check.
	OperatorTOTPSecret string

	// Alerting. Each channel is enabled by setting its variables.
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/fills.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		FeedWSURL:   getEnv("FEED_WS_URL", "ws://localhost:8081/quotes"),
		PricePolicy: getEnv("PRICE_POLICY", "mid"),

		OrderBudget: getEnvInt64("ORDER_BUDGET", -1),
		PresetsPath: getEnv("PRESETS_PATH", ""),

		OperatorTOTPSecret: getEnv("OPERATOR_TOTP_SECRET", ""),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[config] invalid value for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
