package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the platform
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Broker
	BrokerName    string
	PluginsDir    string
	BrokerAPIKey  string
	BrokerSecret  string
	BrokerToken   string

	// Kill-switch store
	RedisURL string // empty selects the in-memory backend

	// Default risk limits
	MaxDrawdownPct   decimal.Decimal
	DailyLossLimit   decimal.Decimal
	StopLossPct      decimal.Decimal
	MaxPositions     int
	MaxOrderValuePct decimal.Decimal
	MaxDailyTrades   int

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Mode
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		// Broker
		BrokerName:   getEnv("BROKER", "paper"),
		PluginsDir:   getEnv("PLUGINS_DIR", "plugins"),
		BrokerAPIKey: os.Getenv("BROKER_API_KEY"),
		BrokerSecret: os.Getenv("BROKER_API_SECRET"),
		BrokerToken:  os.Getenv("BROKER_ACCESS_TOKEN"),

		// Kill-switch store
		RedisURL: os.Getenv("REDIS_URL"),

		// Risk limits
		MaxDrawdownPct:   getEnvDecimal("MAX_DRAWDOWN_PCT", decimal.NewFromInt(10)),
		DailyLossLimit:   getEnvDecimal("DAILY_LOSS_LIMIT", decimal.NewFromInt(5000)),
		StopLossPct:      getEnvDecimal("STOP_LOSS_PCT", decimal.NewFromInt(2)),
		MaxPositions:     getEnvInt("MAX_POSITIONS", 5),
		MaxOrderValuePct: getEnvDecimal("MAX_ORDER_VALUE_PCT", decimal.NewFromInt(20)),
		MaxDailyTrades:   getEnvInt("MAX_DAILY_TRADES", 50),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "data/algotrader.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
