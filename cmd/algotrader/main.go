// AlgoTrader - Algorithmic trading platform for Indian equity markets
//
// Runtime shape:
// 1. Broker plugins are discovered from the plugins directory; the paper
//    broker is always available
// 2. The supervisor hosts one isolated runner per strategy subscription
// 3. Every candidate order passes the risk gate before reaching the broker
// 4. A redis-backed kill switch can halt a strategy, a user or the world
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/karthikreddy9595/AlgoTrading-sub000/broker"
	_ "github.com/karthikreddy9595/AlgoTrading-sub000/broker/httpapi"
	"github.com/karthikreddy9595/AlgoTrading-sub000/broker/paper"
	"github.com/karthikreddy9595/AlgoTrading-sub000/engine"
	"github.com/karthikreddy9595/AlgoTrading-sub000/internal/config"
	"github.com/karthikreddy9595/AlgoTrading-sub000/killswitch"
	"github.com/karthikreddy9595/AlgoTrading-sub000/notify"
	"github.com/karthikreddy9595/AlgoTrading-sub000/storage"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("broker", cfg.BrokerName).
		Bool("dry_run", cfg.DryRun).
		Msg("📈 AlgoTrader starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Kill-switch plane: redis when configured, in-memory for single-node
	// deployments
	var backend killswitch.Backend
	if cfg.RedisURL != "" {
		rb, err := killswitch.NewRedisBackendURL(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect kill-switch redis")
		}
		backend = rb
	} else {
		log.Warn().Msg("REDIS_URL not set, kill switch is process-local only")
		backend = killswitch.NewMemoryBackend()
	}
	kill := killswitch.NewClient(backend)

	// Notifier
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram setup failed, alerts go to the log")
		} else {
			notifier = tg
		}
	}

	// Broker plugins
	registry := broker.NewRegistry(cfg.PluginsDir)
	registry.RegisterBuiltin(paper.New(decimal.NewFromInt(1_000_000)))
	if err := registry.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load broker plugins")
	}
	log.Info().Strs("brokers", registry.List()).Msg("Brokers available")

	active, err := registry.Get(cfg.BrokerName)
	if err != nil {
		log.Fatal().Err(err).Msg("Configured broker not available")
	}
	credentials := map[string]string{
		"api_key":      cfg.BrokerAPIKey,
		"api_secret":   cfg.BrokerSecret,
		"access_token": cfg.BrokerToken,
	}
	if err := active.Connect(ctx, credentials); err != nil {
		log.Fatal().Err(err).Msg("Broker connect failed")
	}

	// Execution engine
	eng, err := engine.New(engine.Config{
		Broker:   active,
		Registry: registry,
		Kill:     kill,
		DB:       db,
		Notifier: notifier,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build execution engine")
	}
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start execution engine")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	eng.Shutdown()
	log.Info().Msg("👋 AlgoTrader stopped")
}
