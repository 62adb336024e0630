package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("LEDGER_PGSQL_URL", "postgres://ledger")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres://ledger", cfg.LedgerDatabaseURL)
	assert.True(t, cfg.SharedStore())
	assert.Equal(t, time.UTC, cfg.AccountingLocation)
	assert.Equal(t, 0, cfg.AccountingHour)
	assert.Equal(t, 5*time.Second, cfg.OutboxApplyInterval)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 10*time.Second, cfg.PostingTimeout)
	assert.Equal(t, 4, cfg.AccrualConcurrency)
	assert.Equal(t, "journal_entry_committed", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadConfig_Overrides(t *testing.T) {
	viper.Reset()
	t.Setenv("LEDGER_PGSQL_URL", "postgres://ledger")
	t.Setenv("BALANCE_PGSQL_URL", "postgres://balances")
	t.Setenv("ACCOUNTING_TIMEZONE", "Asia/Manila")
	t.Setenv("ACCOUNTING_HOUR", "2")
	t.Setenv("LOCK_TIMEOUT", "not-a-duration")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.False(t, cfg.SharedStore())
	assert.Equal(t, "Asia/Manila", cfg.AccountingLocation.String())
	assert.Equal(t, 2, cfg.AccountingHour)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout, "invalid duration falls back to default")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}
