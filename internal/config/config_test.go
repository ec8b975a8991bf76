package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "PHP", cfg.Wallet.DefaultCurrency)
	assert.Equal(t, int64(1000), cfg.Quota.DefaultTokens)
	assert.Equal(t, 7, cfg.Quota.RefillIntervalDays)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL())
	assert.Equal(t, 50*time.Millisecond, cfg.Lock.RetryInterval())
	assert.Equal(t, 200*time.Millisecond, cfg.Outbox.Interval())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
store:
  driver: mysql
mysql:
  host: db
  user: app
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
quota:
  default_tokens: 500
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, "db", cfg.MySQL.Host)
	assert.Equal(t, 3306, cfg.MySQL.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(500), cfg.Quota.DefaultTokens)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAGNETAR_STORE_DRIVER", "redis")
	t.Setenv("MAGNETAR_WALLET_DEFAULT_CURRENCY", "USD")

	cfg, err := LoadConfig(writeConfig(t, "store:\n  driver: memory\n"))
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "USD", cfg.Wallet.DefaultCurrency)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown driver":       "store:\n  driver: etcd\n",
		"zero tokens":          "quota:\n  default_tokens: 0\n",
		"kafka no brokers":     "kafka:\n  enabled: true\n  brokers: []\n",
		"zero outbox interval": "kafka:\n  enabled: true\n  brokers: [\"k:9092\"]\noutbox:\n  interval_ms: 0\n",
		"zero batch size":      "outbox:\n  batch_size: 0\n",
		"zero max retry count": "outbox:\n  max_retry_count: 0\n",
		"zero lock retries":    "lock:\n  max_retries: 0\n",
		"zero lock interval":   "lock:\n  retry_interval_ms: 0\n",
		"zero lock ttl":        "lock:\n  ttl_seconds: 0\n",
		"unknown lock driver":  "lock:\n  driver: zookeeper\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRejectsZeroOutboxIntervalFromEnv(t *testing.T) {
	t.Setenv("MAGNETAR_OUTBOX_INTERVAL_MS", "0")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLockDriver(t *testing.T) {
	tests := []struct {
		store, lock, want string
	}{
		{DriverMemory, "", LockLocal},
		{DriverRedis, "", LockRedis},
		{DriverMySQL, "", LockLocal},
		{DriverMySQL, LockRedis, LockRedis},
		{DriverRedis, LockLocal, LockLocal},
	}
	for _, tt := range tests {
		cfg := &Config{Store: StoreConfig{Driver: tt.store}, Lock: LockConfig{Driver: tt.lock}}
		assert.Equal(t, tt.want, cfg.LockDriver(), "%s/%q", tt.store, tt.lock)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
