package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, 1e9, cfg.MaxExtentSqMeters)
	assert.Equal(t, 1, cfg.Workers)
	assert.Contains(t, cfg.WFSURL, "SDMWGS84Geographic.wfs")
	assert.Equal(t, 2*time.Minute, cfg.WFSTimeout)
	assert.Equal(t, 0, cfg.WFSMaxRetries)
	assert.Equal(t, 2.0, cfg.WFSRateLimit)
	assert.Equal(t, SourceSDA, cfg.AttributeSource)
	assert.Contains(t, cfg.SDAURL, "post.rest")
	assert.Equal(t, time.Minute, cfg.SDATimeout)
	assert.Equal(t, 250, cfg.SDABatchSize)
	assert.Equal(t, CacheMemory, cfg.AttributeCache)
	assert.Equal(t, 10000, cfg.AttributeCacheSize)
	assert.Equal(t, 24*time.Hour, cfg.RedisTTL)
	assert.Equal(t, EventsNone, cfg.EventsBackend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 60, cfg.HTTPRateLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/data/ssurgo")
	t.Setenv("MAX_EXTENT_SQ_METERS", "5e8")
	t.Setenv("WORKERS", "4")
	t.Setenv("WFS_TIMEOUT", "30s")
	t.Setenv("WFS_MAX_RETRIES", "3")
	t.Setenv("WFS_RATE_LIMIT", "0.5")
	t.Setenv("ATTRIBUTE_SOURCE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ssurgo@localhost/ssurgo")
	t.Setenv("ATTRIBUTE_CACHE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_TTL", "1h")
	t.Setenv("EVENTS_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "tiles")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/ssurgo", cfg.OutputDir)
	assert.Equal(t, 5e8, cfg.MaxExtentSqMeters)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.WFSTimeout)
	assert.Equal(t, 3, cfg.WFSMaxRetries)
	assert.Equal(t, 0.5, cfg.WFSRateLimit)
	assert.Equal(t, SourcePostgres, cfg.AttributeSource)
	assert.Equal(t, "postgres://ssurgo@localhost/ssurgo", cfg.DatabaseURL)
	assert.Equal(t, CacheRedis, cfg.AttributeCache)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, time.Hour, cfg.RedisTTL)
	assert.Equal(t, EventsKafka, cfg.EventsBackend)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "tiles", cfg.KafkaTopic)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssurgo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: /from/file\nworkers: 3\nevents_backend: nats\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WORKERS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.OutputDir)
	assert.Equal(t, 6, cfg.Workers, "environment overrides the file")
	assert.Equal(t, EventsNATS, cfg.EventsBackend)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIG_FILE")
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env, value, mention string
	}{
		{"WORKERS", "0", "WORKERS"},
		{"WORKERS", "many", "WORKERS"},
		{"MAX_EXTENT_SQ_METERS", "-1", "MAX_EXTENT_SQ_METERS"},
		{"MAX_EXTENT_SQ_METERS", "huge", "MAX_EXTENT_SQ_METERS"},
		{"WFS_TIMEOUT", "bad", "WFS_TIMEOUT"},
		{"WFS_TIMEOUT", "-5s", "WFS_TIMEOUT"},
		{"WFS_MAX_RETRIES", "-1", "WFS_MAX_RETRIES"},
		{"SDA_BATCH_SIZE", "0", "SDA_BATCH_SIZE"},
		{"ATTRIBUTE_SOURCE", "oracle", "ATTRIBUTE_SOURCE"},
		{"ATTRIBUTE_CACHE", "memcached", "ATTRIBUTE_CACHE"},
		{"ATTRIBUTE_CACHE_SIZE", "0", "ATTRIBUTE_CACHE_SIZE"},
		{"EVENTS_BACKEND", "sqs", "EVENTS_BACKEND"},
		{"HTTP_RATE_LIMIT", "-3", "HTTP_RATE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.mention)
		})
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("ATTRIBUTE_SOURCE", "postgres")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_KafkaRequiresTopic(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "kafka")
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
