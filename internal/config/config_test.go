package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5, cfg.PayoutMaxRetries)
	assert.Equal(t, time.Minute, cfg.PayoutBaseBackoff)
	assert.Equal(t, 6*time.Hour, cfg.PayoutMaxBackoff)
	assert.Equal(t, 24*time.Hour, cfg.RequiresActionTTL)
	assert.Equal(t, "marketplace.events", cfg.EventsExchange)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.CommissionTiers)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadConfig_InvalidTunablesFallBackWithWarning(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("PAYOUT_WORKERS", "0")
	t.Setenv("PAYOUT_SCAN_SCHEDULE", "every now and then")
	t.Setenv("PAYOUT_BASE_BACKOFF", "10m")
	t.Setenv("PAYOUT_MAX_BACKOFF", "1m")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.PayoutWorkers)
	assert.Equal(t, "@every 1m", cfg.PayoutScanSchedule)
	assert.Equal(t, 10*time.Minute, cfg.PayoutMaxBackoff)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.ServerPort)
}

func TestLoadConfig_InternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("INTERNAL_API_KEY", "")
	t.Setenv("PAYMENTS_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "alias-key", cfg.InternalAPIKey)
}

func TestLoadConfig_CommissionTiersJSON(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("COMMISSION_TIERS_JSON", `[
		{"category":"DEFAULT","base_rate":"0.05","min_fee":100,"max_fee":0},
		{"category":"VENUE","base_rate":"0.02","tiered_rates":[{"threshold_amount":1000000,"rate":"0.015"}],"min_fee":500,"max_fee":50000}
	]`)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Len(t, cfg.CommissionTiers, 2)
	assert.Equal(t, "VENUE", cfg.CommissionTiers[1].Category)
	assert.True(t, decimal.RequireFromString("0.015").Equal(cfg.CommissionTiers[1].TieredRates[0].Rate))
}

func TestLoadConfig_InvalidCommissionTiersJSON(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("COMMISSION_TIERS_JSON", `{"not":"a list"}`)

	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
}

func TestLoadConfig_CORSOriginsSplit(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
}
