package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full bot configuration, loaded from an optional JSON file
// with environment-variable overrides.
type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	MonitorConfig      MonitorConfig      `json:"monitor"`
	ProfileConfig      ProfileConfig      `json:"volume_profile"`
	TrendConfig        TrendConfig        `json:"trend"`
	RiskConfig         RiskConfig         `json:"risk"`
	JournalConfig      JournalConfig      `json:"journal"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// BinanceConfig holds exchange endpoints
type BinanceConfig struct {
	BaseURL   string `json:"base_url"`    // futures REST base
	WSBaseURL string `json:"ws_base_url"` // futures stream base
	MockMode  bool   `json:"mock_mode"`   // use simulated data instead of the exchange
}

// MonitorConfig holds per-symbol monitoring settings
type MonitorConfig struct {
	Symbols       []string `json:"symbols"`
	DayTimezone   string   `json:"day_timezone"`   // trading-day boundary timezone
	HistoryDays   int      `json:"history_days"`   // days of 1m history fetched on (re)init
	LevelDays     int      `json:"level_days"`     // completed days used to derive key levels
	CandleWindow  int      `json:"candle_window"`  // max candles kept per symbol/timeframe
	ReconnectSecs int      `json:"reconnect_secs"` // stream reconnect backoff
}

// ProfileConfig holds volume-profile tunables
type ProfileConfig struct {
	BinSize          float64 `json:"bin_size"`
	ValueAreaPercent float64 `json:"value_area_percent"`
}

// TrendConfig holds trend-classifier tunables
type TrendConfig struct {
	MinDays          int     `json:"min_days"`          // minimum completed days of history
	SlopeWindow      int     `json:"slope_window"`      // daily closes used for the regression slope
	BullishThreshold float64 `json:"bullish_threshold"` // total score at or above -> bullish
	BearishThreshold float64 `json:"bearish_threshold"` // total score at or below -> bearish
}

// RiskConfig holds position sizing and lifecycle settings
type RiskConfig struct {
	Balance          float64 `json:"balance"`            // paper balance in quote currency
	RiskPercent      float64 `json:"risk_percent"`       // percent of balance risked per trade
	DefaultRR        float64 `json:"default_rr"`         // reward multiple when a signal has no target
	AutoTrade        bool    `json:"auto_trade"`         // open positions without confirmation
	PollIntervalSecs int     `json:"poll_interval_secs"` // stop/target polling interval
	ProposalTTLMins  int     `json:"proposal_ttl_mins"`  // pending proposal expiry
}

// JournalConfig holds trade-log persistence settings. Empty values disable
// the corresponding backend and the journal runs in memory only.
type JournalConfig struct {
	PostgresDSN   string `json:"postgres_dsn"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// NotificationConfig holds outbound notification settings
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig holds Telegram bot credentials
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level      string `json:"level"`  // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"` // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// Load reads config.json if present, applies defaults, then environment
// overrides. Env vars always win.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if _, err := os.Stat("config.json"); err == nil {
		fileCfg, err := loadFromFile("config.json")
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			BaseURL:   "https://fapi.binance.com",
			WSBaseURL: "wss://fstream.binance.com",
		},
		MonitorConfig: MonitorConfig{
			Symbols:       []string{"BTCUSDT", "ETHUSDT"},
			DayTimezone:   "America/New_York",
			HistoryDays:   10,
			LevelDays:     4,
			CandleWindow:  3000,
			ReconnectSecs: 5,
		},
		ProfileConfig: ProfileConfig{
			BinSize:          0.5,
			ValueAreaPercent: 0.68,
		},
		TrendConfig: TrendConfig{
			MinDays:          3,
			SlopeWindow:      30,
			BullishThreshold: 1.5,
			BearishThreshold: -1.5,
		},
		RiskConfig: RiskConfig{
			Balance:          10000,
			RiskPercent:      1.0,
			DefaultRR:        2.0,
			AutoTrade:        false,
			PollIntervalSecs: 5,
			ProposalTTLMins:  30,
		},
		LoggingConfig: LoggingConfig{
			Level:  "INFO",
			Output: "stdout",
		},
	}
}

func (c *Config) validate() error {
	if c.ProfileConfig.BinSize <= 0 {
		return fmt.Errorf("volume_profile.bin_size must be positive, got %v", c.ProfileConfig.BinSize)
	}
	if c.ProfileConfig.ValueAreaPercent <= 0 || c.ProfileConfig.ValueAreaPercent > 1 {
		return fmt.Errorf("volume_profile.value_area_percent must be in (0,1], got %v", c.ProfileConfig.ValueAreaPercent)
	}
	if c.RiskConfig.RiskPercent <= 0 || c.RiskConfig.RiskPercent > 100 {
		return fmt.Errorf("risk.risk_percent must be in (0,100], got %v", c.RiskConfig.RiskPercent)
	}
	if len(c.MonitorConfig.Symbols) == 0 {
		return fmt.Errorf("monitor.symbols must not be empty")
	}
	if _, err := time.LoadLocation(c.MonitorConfig.DayTimezone); err != nil {
		return fmt.Errorf("monitor.day_timezone %q is not a valid timezone: %w", c.MonitorConfig.DayTimezone, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.WSBaseURL = getEnvOrDefault("BINANCE_WS_BASE_URL", cfg.BinanceConfig.WSBaseURL)
	cfg.BinanceConfig.MockMode = getEnvBoolOrDefault("BINANCE_MOCK_MODE", cfg.BinanceConfig.MockMode)

	if v := os.Getenv("MONITOR_SYMBOLS"); v != "" {
		cfg.MonitorConfig.Symbols = splitSymbols(v)
	}
	cfg.MonitorConfig.DayTimezone = getEnvOrDefault("MONITOR_DAY_TIMEZONE", cfg.MonitorConfig.DayTimezone)
	cfg.MonitorConfig.HistoryDays = getEnvIntOrDefault("MONITOR_HISTORY_DAYS", cfg.MonitorConfig.HistoryDays)
	cfg.MonitorConfig.LevelDays = getEnvIntOrDefault("MONITOR_LEVEL_DAYS", cfg.MonitorConfig.LevelDays)
	cfg.MonitorConfig.CandleWindow = getEnvIntOrDefault("MONITOR_CANDLE_WINDOW", cfg.MonitorConfig.CandleWindow)
	cfg.MonitorConfig.ReconnectSecs = getEnvIntOrDefault("MONITOR_RECONNECT_SECS", cfg.MonitorConfig.ReconnectSecs)

	cfg.ProfileConfig.BinSize = getEnvFloatOrDefault("PROFILE_BIN_SIZE", cfg.ProfileConfig.BinSize)
	cfg.ProfileConfig.ValueAreaPercent = getEnvFloatOrDefault("PROFILE_VALUE_AREA_PERCENT", cfg.ProfileConfig.ValueAreaPercent)

	cfg.TrendConfig.MinDays = getEnvIntOrDefault("TREND_MIN_DAYS", cfg.TrendConfig.MinDays)
	cfg.TrendConfig.SlopeWindow = getEnvIntOrDefault("TREND_SLOPE_WINDOW", cfg.TrendConfig.SlopeWindow)
	cfg.TrendConfig.BullishThreshold = getEnvFloatOrDefault("TREND_BULLISH_THRESHOLD", cfg.TrendConfig.BullishThreshold)
	cfg.TrendConfig.BearishThreshold = getEnvFloatOrDefault("TREND_BEARISH_THRESHOLD", cfg.TrendConfig.BearishThreshold)

	cfg.RiskConfig.Balance = getEnvFloatOrDefault("RISK_BALANCE", cfg.RiskConfig.Balance)
	cfg.RiskConfig.RiskPercent = getEnvFloatOrDefault("RISK_PERCENT_PER_TRADE", cfg.RiskConfig.RiskPercent)
	cfg.RiskConfig.DefaultRR = getEnvFloatOrDefault("RISK_DEFAULT_RR", cfg.RiskConfig.DefaultRR)
	cfg.RiskConfig.AutoTrade = getEnvBoolOrDefault("RISK_AUTO_TRADE", cfg.RiskConfig.AutoTrade)
	cfg.RiskConfig.PollIntervalSecs = getEnvIntOrDefault("RISK_POLL_INTERVAL_SECS", cfg.RiskConfig.PollIntervalSecs)
	cfg.RiskConfig.ProposalTTLMins = getEnvIntOrDefault("RISK_PROPOSAL_TTL_MINS", cfg.RiskConfig.ProposalTTLMins)

	cfg.JournalConfig.PostgresDSN = getEnvOrDefault("JOURNAL_POSTGRES_DSN", cfg.JournalConfig.PostgresDSN)
	cfg.JournalConfig.RedisAddr = getEnvOrDefault("JOURNAL_REDIS_ADDR", cfg.JournalConfig.RedisAddr)
	cfg.JournalConfig.RedisPassword = getEnvOrDefault("JOURNAL_REDIS_PASSWORD", cfg.JournalConfig.RedisPassword)
	cfg.JournalConfig.RedisDB = getEnvIntOrDefault("JOURNAL_REDIS_DB", cfg.JournalConfig.RedisDB)

	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATION_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaultConfig()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
