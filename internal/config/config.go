package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Redis  RedisConfig  `mapstructure:"redis"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Lock   LockConfig   `mapstructure:"lock"`
	Wallet WalletConfig `mapstructure:"wallet"`
	Quota  QuotaConfig  `mapstructure:"quota"`
	Outbox OutboxConfig `mapstructure:"outbox"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
)

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

// Lock drivers. An empty lock.driver follows the store: redis for the redis
// store, local otherwise.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

type LockConfig struct {
	Driver          string `mapstructure:"driver"` // local or redis
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
	RetryIntervalMS int    `mapstructure:"retry_interval_ms"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

func (c LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c LockConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

type WalletConfig struct {
	DefaultCurrency string `mapstructure:"default_currency"`
}

type QuotaConfig struct {
	DefaultTokens      int64 `mapstructure:"default_tokens"`
	RefillIntervalDays int   `mapstructure:"refill_interval_days"`
}

type OutboxConfig struct {
	IntervalMS    int `mapstructure:"interval_ms"`
	BatchSize     int `mapstructure:"batch_size"`
	MaxRetryCount int `mapstructure:"max_retry_count"`
}

func (c OutboxConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "magnetar")
	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "magnetar")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.ledger_events", "magnetar.ledger.events")
	v.SetDefault("lock.driver", "")
	v.SetDefault("lock.ttl_seconds", 30)
	v.SetDefault("lock.retry_interval_ms", 50)
	v.SetDefault("lock.max_retries", 100)
	v.SetDefault("wallet.default_currency", "PHP")
	v.SetDefault("quota.default_tokens", 1000)
	v.SetDefault("quota.refill_interval_days", 7)
	v.SetDefault("outbox.interval_ms", 200)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retry_count", 5)
}

// LoadConfig reads configPath (YAML) and applies MAGNETAR_* environment
// overrides, e.g. MAGNETAR_STORE_DRIVER=redis. A .env file in the working
// directory is loaded first when present. An empty configPath uses defaults
// and the environment only.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("magnetar")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverRedis, DriverMySQL:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Quota.DefaultTokens <= 0 {
		return fmt.Errorf("quota.default_tokens must be positive")
	}
	if c.Quota.RefillIntervalDays <= 0 {
		return fmt.Errorf("quota.refill_interval_days must be positive")
	}
	if c.Wallet.DefaultCurrency == "" {
		return fmt.Errorf("wallet.default_currency must be set")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when kafka is enabled")
	}
	switch c.Lock.Driver {
	case "", LockLocal, LockRedis:
	default:
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be positive")
	}
	if c.Lock.RetryIntervalMS <= 0 {
		return fmt.Errorf("lock.retry_interval_ms must be positive")
	}
	if c.Lock.MaxRetries <= 0 {
		return fmt.Errorf("lock.max_retries must be positive")
	}
	if c.Outbox.IntervalMS <= 0 {
		return fmt.Errorf("outbox.interval_ms must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox.batch_size must be positive")
	}
	if c.Outbox.MaxRetryCount <= 0 {
		return fmt.Errorf("outbox.max_retry_count must be positive")
	}
	return nil
}

// LockDriver resolves lock.driver against the store driver.
func (c *Config) LockDriver() string {
	if c.Lock.Driver != "" {
		return c.Lock.Driver
	}
	if c.Store.Driver == DriverRedis {
		return LockRedis
	}
	return LockLocal
}
