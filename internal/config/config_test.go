package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	_, err := Load()
	assert.ErrorContains(t, err, "ENCRYPTION_KEY")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "dGVzdC1rZXk=")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, time.Hour, cfg.ValidateInterval)
	assert.Equal(t, 5, cfg.ValidateConcurrency)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 5*time.Minute, cfg.PortfolioInterval)
	assert.Equal(t, 15*time.Minute, cfg.MarketInterval)
	assert.Equal(t, 5.0, cfg.ChangeThreshold)
	assert.Equal(t, 120, cfg.BrokerRatePerMin)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotRetention)
	assert.Equal(t, "broker_connections", cfg.DynamoTables.Connections)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "dGVzdC1rZXk=")
	t.Setenv("VALIDATE_INTERVAL", "30m")
	t.Setenv("CHANGE_THRESHOLD", "2.5")
	t.Setenv("VALIDATE_CONCURRENCY", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.ValidateInterval)
	assert.Equal(t, 2.5, cfg.ChangeThreshold)
	assert.Equal(t, 10, cfg.ValidateConcurrency)
}
