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
	t.Setenv("WMS_AUDIT_STORE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, TransportKafka, cfg.Audit.Transport)
	assert.Equal(t, "wms.audit.events", cfg.Audit.Topic)
	assert.Equal(t, 2*time.Second, cfg.Audit.EnqueueTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Interval)
	assert.Equal(t, 90, cfg.Retention.DefaultDays)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("WMS_AUDIT_STORE_BACKEND", "memory")
	t.Setenv("WMS_AUDIT_TRANSPORT", "redis")
	t.Setenv("WMS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WMS_AUDIT_ENQUEUE_TIMEOUT", "250ms")
	t.Setenv("WMS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WMS_RETENTION_INTERVAL", "1h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportRedis, cfg.Audit.Transport)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Audit.EnqueueTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db.internal
  port: 5433
audit:
  transport: memory
  consumer:
    workers: 4
logging:
  level: debug
  format: text
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, TransportMemory, cfg.Audit.Transport)
	assert.Equal(t, 4, cfg.Audit.Consumer.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: time.Second},
			Database: DatabaseConfig{MaxConnections: 1},
			Kafka:    KafkaConfig{Brokers: []string{"k:9092"}, Partitions: 1, ReplicationFactor: 1},
			Audit: AuditConfig{
				Transport:      TransportKafka,
				Topic:          "wms.audit.events",
				EnqueueTimeout: time.Second,
				Breaker:        BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Second},
				Consumer:       AuditConsumerConfig{Group: "g", Workers: 1, Backoff: time.Second},
				Stream:         AuditStreamConfig{ClaimMinIdle: time.Second, BlockTimeout: time.Second},
				Store:          AuditStoreConfig{Backend: "memory"},
			},
			Retention: RetentionConfig{Interval: time.Hour, DefaultDays: 90},
			Logging:   LoggingConfig{Level: "info", Format: "json"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("unknown transport", func(t *testing.T) {
		cfg := valid()
		cfg.Audit.Transport = "sqs"
		assert.Error(t, cfg.Validate())
	})

	t.Run("redis transport needs a url", func(t *testing.T) {
		cfg := valid()
		cfg.Audit.Transport = TransportRedis
		assert.ErrorContains(t, cfg.Validate(), "redis.url")
	})

	t.Run("kafka transport needs brokers", func(t *testing.T) {
		cfg := valid()
		cfg.Kafka.Brokers = nil
		assert.ErrorContains(t, cfg.Validate(), "kafka.brokers")
	})

	t.Run("postgres store needs a database", func(t *testing.T) {
		cfg := valid()
		cfg.Audit.Store.Backend = "postgres"
		assert.ErrorContains(t, cfg.Validate(), "database")
	})

	t.Run("zero enqueue timeout", func(t *testing.T) {
		cfg := valid()
		cfg.Audit.EnqueueTimeout = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "localhost", Port: 5432, User: "wms", Password: "secret", Name: "wms", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=wms password=secret dbname=wms sslmode=disable", cfg.DSN())

	cfg.URL = "postgres://wms@db/wms"
	assert.Equal(t, "postgres://wms@db/wms", cfg.DSN())
}
