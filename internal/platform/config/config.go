package config

import (
	"log"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	LedgerDatabaseURL  string
	BalanceDatabaseURL string
	Port               string
	IsProduction       bool
	LogLevel           string
	JWTSecret          string

	// Accounting day anchor
	AccountingLocation *time.Location
	AccountingHour     int

	// Posting pipeline
	LockTimeout         time.Duration
	LockMaxHold         time.Duration
	PostingTimeout      time.Duration
	IdempotencyCacheTTL time.Duration

	// Outbox applier
	OutboxApplyInterval time.Duration
	OutboxBatchSize     int

	// Accrual scheduler
	AccrualConcurrency   int
	AccrualRatePerSecond float64
	AccrualPageSize      int

	// Committed-entry publication
	KafkaBrokers []string
	KafkaTopic   string

	// HTTP surface
	RateLimit   string
	CORSOrigins []string
}

// SharedStore reports whether ledger and balances live in one database.
func (c *Config) SharedStore() bool {
	return c.BalanceDatabaseURL == "" || c.BalanceDatabaseURL == c.LedgerDatabaseURL
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("LEDGER_PGSQL_URL", "")
	viper.SetDefault("BALANCE_PGSQL_URL", "")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("IS_PRODUCTION", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("JWT_SECRET", "a-very-secret-key-should-be-longer-and-random")
	viper.SetDefault("ACCOUNTING_TIMEZONE", "UTC")
	viper.SetDefault("ACCOUNTING_HOUR", 0)
	viper.SetDefault("OUTBOX_APPLY_INTERVAL", "5s")
	viper.SetDefault("OUTBOX_BATCH_SIZE", 100)
	viper.SetDefault("LOCK_TIMEOUT", "2s")
	viper.SetDefault("LOCK_MAX_HOLD", "30s")
	viper.SetDefault("POSTING_TIMEOUT", "10s")
	viper.SetDefault("IDEMPOTENCY_CACHE_TTL", "10m")
	viper.SetDefault("ACCRUAL_CONCURRENCY", 4)
	viper.SetDefault("ACCRUAL_RATE_PER_SECOND", 0)
	viper.SetDefault("ACCRUAL_PAGE_SIZE", 500)
	viper.SetDefault("KAFKA_BROKERS", "")
	viper.SetDefault("KAFKA_TOPIC", "journal_entry_committed")
	viper.SetDefault("RATE_LIMIT", "100-M")
	viper.SetDefault("CORS_ORIGINS", "")

	viper.AutomaticEnv()

	cfg := &Config{}

	cfg.LedgerDatabaseURL = viper.GetString("LEDGER_PGSQL_URL")
	if cfg.LedgerDatabaseURL == "" {
		log.Println("Warning: LEDGER_PGSQL_URL environment variable not set.")
	}
	cfg.BalanceDatabaseURL = viper.GetString("BALANCE_PGSQL_URL")

	cfg.Port = viper.GetString("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
		log.Printf("Warning: PORT environment variable not set. Defaulting to %s\n", cfg.Port)
	}
	cfg.IsProduction = viper.GetBool("IS_PRODUCTION")
	cfg.LogLevel = viper.GetString("LOG_LEVEL")

	cfg.JWTSecret = viper.GetString("JWT_SECRET")
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "a-very-secret-key-should-be-longer-and-random" // !! CHANGE IN PRODUCTION !!
		log.Println("Warning: JWT_SECRET environment variable not set. Using default insecure key.")
	}

	tz := viper.GetString("ACCOUNTING_TIMEZONE")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("Warning: Invalid value for ACCOUNTING_TIMEZONE ('%s'). Defaulting to UTC.\n", tz)
		loc = time.UTC
	}
	cfg.AccountingLocation = loc

	cfg.AccountingHour = viper.GetInt("ACCOUNTING_HOUR")
	if cfg.AccountingHour < 0 || cfg.AccountingHour > 23 {
		log.Printf("Warning: Invalid value for ACCOUNTING_HOUR (%d). Defaulting to 0.\n", cfg.AccountingHour)
		cfg.AccountingHour = 0
	}

	cfg.OutboxApplyInterval = durationOrDefault("OUTBOX_APPLY_INTERVAL", 5*time.Second)
	cfg.LockTimeout = durationOrDefault("LOCK_TIMEOUT", 2*time.Second)
	cfg.LockMaxHold = durationOrDefault("LOCK_MAX_HOLD", 30*time.Second)
	cfg.PostingTimeout = durationOrDefault("POSTING_TIMEOUT", 10*time.Second)
	cfg.IdempotencyCacheTTL = durationOrDefault("IDEMPOTENCY_CACHE_TTL", 10*time.Minute)

	cfg.OutboxBatchSize = positiveOrDefault("OUTBOX_BATCH_SIZE", 100)
	cfg.AccrualConcurrency = positiveOrDefault("ACCRUAL_CONCURRENCY", 4)
	cfg.AccrualPageSize = positiveOrDefault("ACCRUAL_PAGE_SIZE", 500)
	cfg.AccrualRatePerSecond = viper.GetFloat64("ACCRUAL_RATE_PER_SECOND")
	if cfg.AccrualRatePerSecond < 0 {
		log.Printf("Warning: Invalid value for ACCRUAL_RATE_PER_SECOND (%v). Disabling pacing.\n", cfg.AccrualRatePerSecond)
		cfg.AccrualRatePerSecond = 0
	}

	cfg.KafkaBrokers = splitList(viper.GetString("KAFKA_BROKERS"))
	cfg.KafkaTopic = viper.GetString("KAFKA_TOPIC")
	cfg.RateLimit = viper.GetString("RATE_LIMIT")
	cfg.CORSOrigins = splitList(viper.GetString("CORS_ORIGINS"))

	return cfg, nil
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		if raw != "" {
			log.Printf("Warning: Invalid value for %s ('%s'). Defaulting to %s.\n", key, raw, def.String())
		}
		return def
	}
	return d
}

func positiveOrDefault(key string, def int) int {
	v := viper.GetInt(key)
	if v <= 0 {
		log.Printf("Warning: Invalid value for %s (%d). Defaulting to %d.\n", key, v, def)
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
