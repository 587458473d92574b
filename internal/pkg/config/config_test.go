package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Cache.EstimateTTL)
	assert.Equal(t, time.Hour, cfg.Cache.AddressTTL)
	assert.Equal(t, uint(3), cfg.Provider.FetchAttempts)
	assert.Equal(t, []string{"US", "CA"}, cfg.Totals.RegionRequiredCountries)
	assert.True(t, cfg.Totals.CorrectionEnabled)
	assert.Equal(t, int64(2), cfg.Totals.CorrectionDivisor)
	assert.Equal(t, int64(1), cfg.Totals.PriceFaultTolerance)
	assert.Empty(t, cfg.Cache.RedisAddr)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9999"
cache:
  redis_addr: "redis:6379"
  estimate_ttl: 5m
totals:
  correction_enabled: false
kafka:
  brokers: "kafka:9092"
`), 0o600))

	t.Setenv("RECONCILER_HTTP_ADDR", ":7000")
	t.Setenv("RECONCILER_PROVIDER_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.HTTP.Addr, "env wins over the file")
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.Cache.EstimateTTL)
	assert.False(t, cfg.Totals.CorrectionEnabled)
	assert.Equal(t, "kafka:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "secret", cfg.Provider.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("RECONCILER_STORE_DRIVER", "mongo")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown store.driver")
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("RECONCILER_STORE_DRIVER", "postgres")
		_, err := Load("")
		assert.ErrorContains(t, err, "postgres_dsn")
	})
}
