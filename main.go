package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"levels-trading-bot/config"
	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/journal"
	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/monitor"
	"levels-trading-bot/internal/notification"
	"levels-trading-bot/internal/position"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize event bus
	eventBus := events.NewBus()
	logger.Info("Event bus initialized")

	// Initialize notifications
	notifyManager := notification.NewManager(cfg.NotificationConfig.Enabled)
	notifyManager.AddNotifier(notification.NewLogNotifier())
	if cfg.NotificationConfig.Telegram.Enabled {
		notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: cfg.NotificationConfig.Telegram.BotToken,
			ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			Enabled:  cfg.NotificationConfig.Telegram.Enabled,
		}))
		logger.Info("Telegram notifications enabled")
	}
	notification.NewRouter(notifyManager, eventBus)

	// Initialize the trade journal
	journalLogger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "journal").Logger()

	var tradeLog position.TradeLog
	var pgLog *journal.PostgresLog
	if dsn := cfg.JournalConfig.PostgresDSN; dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		pgLog, err = journal.NewPostgresLog(ctx, dsn, journalLogger)
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect the trade journal", "error", err)
		}
		tradeLog = pgLog
	} else {
		logger.Info("No postgres DSN configured, journaling trades in memory")
		tradeLog = journal.NewMemoryLog()
	}

	var redisClient *redis.Client
	if addr := cfg.JournalConfig.RedisAddr; addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.JournalConfig.RedisPassword,
			DB:       cfg.JournalConfig.RedisDB,
		})
	}
	snapshots := journal.NewRedisSnapshotStore(redisClient, journalLogger)

	// Surface whatever was open when the previous run stopped
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 5*time.Second)
	recovered, err := snapshots.LoadOpenPositions(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Warn("Could not read the previous open-position snapshot", "error", err)
	}
	for _, p := range recovered {
		logger.Info("Position was open at last shutdown",
			"symbol", p.Symbol, "direction", string(p.Direction),
			"entry", p.Entry, "stop", p.StopLoss, "target", p.TakeProfit)
	}

	// Initialize the symbol monitors and the position manager. The monitor
	// manager is the price source, so it is built first and gets the
	// position manager attached afterwards.
	monitorManager, err := monitor.NewManager(cfg, eventBus)
	if err != nil {
		logger.Fatal("Failed to create monitor manager", "error", err)
	}

	positionManager := position.NewManager(position.Config{
		Balance:     cfg.RiskConfig.Balance,
		RiskPercent: cfg.RiskConfig.RiskPercent,
		DefaultRR:   cfg.RiskConfig.DefaultRR,
		AutoTrade:   cfg.RiskConfig.AutoTrade,
		ProposalTTL: time.Duration(cfg.RiskConfig.ProposalTTLMins) * time.Minute,
	}, monitorManager, eventBus, tradeLog, snapshots)
	monitorManager.AttachPositions(positionManager)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 5*time.Minute)
	err = monitorManager.Start(startCtx)
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to start symbol monitors", "error", err)
	}

	logger.Info("Key-level monitor bot started",
		"symbols", cfg.MonitorConfig.Symbols,
		"mock_mode", cfg.BinanceConfig.MockMode,
		"auto_trade", cfg.RiskConfig.AutoTrade)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	positionManager.CloseAll("shutdown")
	monitorManager.Stop()
	if pgLog != nil {
		pgLog.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("Shutdown complete")
}
