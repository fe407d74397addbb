// Package config loads the service configuration with Viper.
//
// Layers, lowest to highest: built-in defaults, an optional YAML file, a .env
// file in the working directory, then WMS_-prefixed environment variables
// (WMS_KAFKA_BROKERS overrides kafka.brokers).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "WMS"

// Transport names accepted by audit.transport.
const (
	TransportKafka  = "kafka"
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig describes the Postgres pool used by the audit store.
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port" validate:"omitempty,gt=0,lt=65536"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	URL                string        `mapstructure:"url"`
	MaxConnections     int           `mapstructure:"max_connections" validate:"gte=1"`
	MinIdleConnections int           `mapstructure:"min_idle_connections" validate:"gte=0"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart     bool          `mapstructure:"migrate_on_start"`
}

// Enabled reports whether a database is configured at all.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the connection string; an explicit URL wins over fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig configures the Redis client used by the stream transport.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the franz-go transport.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	ClientID          string   `mapstructure:"client_id"`
	Partitions        int32    `mapstructure:"partitions" validate:"gte=1"`
	ReplicationFactor int16    `mapstructure:"replication_factor" validate:"gte=1"`
	AutoCreateTopic   bool     `mapstructure:"auto_create_topic"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	Transport      string              `mapstructure:"transport" validate:"oneof=kafka redis memory"`
	Topic          string              `mapstructure:"topic" validate:"required"`
	EnqueueTimeout time.Duration       `mapstructure:"enqueue_timeout" validate:"gt=0"`
	AsyncBuffer    int                 `mapstructure:"async_buffer" validate:"gte=0"`
	Breaker        BreakerConfig       `mapstructure:"breaker"`
	Consumer       AuditConsumerConfig `mapstructure:"consumer"`
	Stream         AuditStreamConfig   `mapstructure:"stream"`
	Store          AuditStoreConfig    `mapstructure:"store"`
}

// BreakerConfig tunes the dispatcher's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gte=1"`
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"gt=0"`
}

// AuditConsumerConfig configures the consumer pool.
type AuditConsumerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Group   string        `mapstructure:"group" validate:"required"`
	Workers int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	Backoff time.Duration `mapstructure:"backoff" validate:"gt=0"`
}

// AuditStreamConfig holds Redis Streams specific settings.
type AuditStreamConfig struct {
	MaxLen       int64         `mapstructure:"max_len" validate:"gte=0"`
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle" validate:"gt=0"`
	BlockTimeout time.Duration `mapstructure:"block_timeout" validate:"gt=0"`
}

// AuditStoreConfig selects the audit store backend.
type AuditStoreConfig struct {
	Backend         string `mapstructure:"backend" validate:"oneof=postgres memory"`
	DeleteBatchSize int    `mapstructure:"delete_batch_size" validate:"gte=0"`
}

// RetentionConfig schedules the retention sweep.
type RetentionConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	RunOnStart  bool          `mapstructure:"run_on_start"`
	DefaultDays int           `mapstructure:"default_days" validate:"gte=1"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Load reads configuration from the optional file at configPath, a .env file
// and the environment, then validates it.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/wms")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars binds every key so nested structs pick up env overrides during
// Unmarshal; AutomaticEnv alone only serves explicit Get calls.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env var %q: %w", key, err)
		}
	}
	for _, key := range []string{"database.url", "database.password", "redis.url"} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env var %q: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "wms")
	v.SetDefault("database.user", "wms")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_idle_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "wms-audit")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.replication_factor", 1)
	v.SetDefault("kafka.auto_create_topic", true)

	v.SetDefault("audit.transport", TransportKafka)
	v.SetDefault("audit.topic", "wms.audit.events")
	v.SetDefault("audit.enqueue_timeout", "2s")
	v.SetDefault("audit.async_buffer", 0)
	v.SetDefault("audit.breaker.failure_threshold", 5)
	v.SetDefault("audit.breaker.success_threshold", 1)
	v.SetDefault("audit.breaker.cooldown", "30s")
	v.SetDefault("audit.consumer.enabled", true)
	v.SetDefault("audit.consumer.group", "wms-audit-consumer")
	v.SetDefault("audit.consumer.workers", 1)
	v.SetDefault("audit.consumer.backoff", "1s")
	v.SetDefault("audit.stream.max_len", 1_000_000)
	v.SetDefault("audit.stream.claim_min_idle", "1m")
	v.SetDefault("audit.stream.block_timeout", "5s")
	v.SetDefault("audit.store.backend", "postgres")
	v.SetDefault("audit.store.delete_batch_size", 5000)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.interval", "24h")
	v.SetDefault("retention.run_on_start", false)
	v.SetDefault("retention.default_days", 90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Audit.Transport {
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka transport")
		}
	case TransportRedis:
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis transport")
		}
	}
	if c.Audit.Store.Backend == "postgres" && !c.Database.Enabled() {
		return errors.New("database.host or database.url is required for the postgres store")
	}
	return nil
}
