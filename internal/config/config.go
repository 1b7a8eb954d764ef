package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type QuoteConfig struct {
	FinnhubURL   string
	FinnhubToken string
	RedisURL     string
	CacheTTL     time.Duration
	BatchDelay   time.Duration
	RetryCount   int
	Timeout      time.Duration
}

type APIConfig struct {
	Addr                   string
	DatabaseURL            string
	SupabaseURL            string
	SupabaseAnonKey        string
	AutoMigrate            bool
	DefaultStartingBalance decimal.Decimal
	Quotes                 QuoteConfig
	Log                    LogConfig
}

type WorkerConfig struct {
	DatabaseURL    string
	AutoMigrate    bool
	ValuationEvery time.Duration
	RunOnce        bool
	Quotes         QuoteConfig
	Log            LogConfig
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads .env from the working directory when present. Values
// already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	LoadDotEnv()
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("WSF_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		AutoMigrate:     envBoolDefault("WSF_AUTO_MIGRATE", true),
		Quotes:          loadQuotes(),
		Log:             loadLog(),
	}
	balance, err := envDecimalDefault("WSF_DEFAULT_STARTING_BALANCE", decimal.NewFromInt(100_000))
	if err != nil {
		return cfg, err
	}
	cfg.DefaultStartingBalance = balance

	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.Quotes.FinnhubToken == "" {
		return cfg, fmt.Errorf("FINNHUB_API_KEY is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	LoadDotEnv()
	cfg := WorkerConfig{
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AutoMigrate:    envBoolDefault("WSF_AUTO_MIGRATE", true),
		ValuationEvery: envDurationDefault("WSF_VALUATION_EVERY", 5*time.Minute),
		RunOnce:        envBoolDefault("WSF_WORKER_RUN_ONCE", false),
		Quotes:         loadQuotes(),
		Log:            loadLog(),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Quotes.FinnhubToken == "" {
		return cfg, fmt.Errorf("FINNHUB_API_KEY is required")
	}
	if cfg.ValuationEvery <= 0 {
		return cfg, fmt.Errorf("WSF_VALUATION_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	LoadDotEnv()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("WSF_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadQuotes() QuoteConfig {
	return QuoteConfig{
		FinnhubURL:   envDefault("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
		FinnhubToken: strings.TrimSpace(os.Getenv("FINNHUB_API_KEY")),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:     envDurationDefault("WSF_QUOTE_CACHE_TTL", 15*time.Second),
		BatchDelay:   envDurationDefault("WSF_QUOTE_BATCH_DELAY", 100*time.Millisecond),
		RetryCount:   envIntDefault("WSF_QUOTE_RETRIES", 3),
		Timeout:      envDurationDefault("WSF_QUOTE_TIMEOUT", 10*time.Second),
	}
}

func loadLog() LogConfig {
	return LogConfig{
		Level:      strings.ToLower(envDefault("WSF_LOG_LEVEL", "info")),
		File:       strings.TrimSpace(os.Getenv("WSF_LOG_FILE")),
		MaxSizeMB:  envIntDefault("WSF_LOG_MAX_SIZE_MB", 100),
		MaxBackups: envIntDefault("WSF_LOG_MAX_BACKUPS", 5),
		MaxAgeDays: envIntDefault("WSF_LOG_MAX_AGE_DAYS", 30),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDecimalDefault(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return fallback, fmt.Errorf("%s must be a positive decimal, got %q", key, v)
	}
	return d, nil
}
