package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/spf13/viper"
)

// Attribute sources.
const (
	SourceSDA      = "sda"
	SourcePostgres = "postgres"
)

// Attribute cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Tile event backends.
const (
	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsNATS  = "nats"
)

// Config holds all service settings, populated from environment variables and
// an optional YAML file named by CONFIG_FILE. Environment variables win.
type Config struct {
	OutputDir         string
	MaxExtentSqMeters float64
	Workers           int

	WFSURL        string
	WFSTimeout    time.Duration
	WFSMaxRetries int
	WFSRateLimit  float64 // requests per second, 0 disables limiting

	AttributeSource string
	SDAURL          string
	SDATimeout      time.Duration
	SDABatchSize    int
	DatabaseURL     string

	AttributeCache     string
	AttributeCacheSize int
	RedisAddr          string
	RedisTTL           time.Duration

	EventsBackend string
	KafkaBrokers  []string
	KafkaTopic    string
	NATSURL       string
	NATSSubject   string

	HTTPAddr        string
	HTTPRateLimit   int // requests per minute per client, 0 disables limiting
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", ".")
	v.SetDefault("max_extent_sq_meters", 1e9)
	v.SetDefault("workers", 1)

	v.SetDefault("wfs_url", "https://SDMDataAccess.sc.egov.usda.gov/Spatial/SDMWGS84Geographic.wfs")
	v.SetDefault("wfs_timeout", "2m")
	v.SetDefault("wfs_max_retries", 0)
	v.SetDefault("wfs_rate_limit", 2)

	v.SetDefault("attribute_source", SourceSDA)
	v.SetDefault("sda_url", "https://SDMDataAccess.sc.egov.usda.gov/Tabular/post.rest")
	v.SetDefault("sda_timeout", "1m")
	v.SetDefault("sda_batch_size", 250)
	v.SetDefault("database_url", "")

	v.SetDefault("attribute_cache", CacheMemory)
	v.SetDefault("attribute_cache_size", 10000)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_ttl", "24h")

	v.SetDefault("events_backend", EventsNone)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "ssurgo-tile-events")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("nats_subject", "ssurgo.tiles")

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("http_rate_limit", 60)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration, applying defaults where unset.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := sharedcfg.EnvOrDefault("CONFIG_FILE", ""); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read CONFIG_FILE %s: %v", domain.ErrConfiguration, path, err)
		}
	}
	v.AutomaticEnv()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	p := parser{v: v}
	cfg := &Config{
		OutputDir:         v.GetString("output_dir"),
		MaxExtentSqMeters: p.float("max_extent_sq_meters"),
		Workers:           p.int("workers"),

		WFSURL:        v.GetString("wfs_url"),
		WFSTimeout:    p.duration("wfs_timeout"),
		WFSMaxRetries: p.int("wfs_max_retries"),
		WFSRateLimit:  p.float("wfs_rate_limit"),

		AttributeSource: strings.ToLower(v.GetString("attribute_source")),
		SDAURL:          v.GetString("sda_url"),
		SDATimeout:      p.duration("sda_timeout"),
		SDABatchSize:    p.int("sda_batch_size"),
		DatabaseURL:     v.GetString("database_url"),

		AttributeCache:     strings.ToLower(v.GetString("attribute_cache")),
		AttributeCacheSize: p.int("attribute_cache_size"),
		RedisAddr:          v.GetString("redis_addr"),
		RedisTTL:           p.duration("redis_ttl"),

		EventsBackend: strings.ToLower(v.GetString("events_backend")),
		KafkaBrokers:  sharedcfg.ParseBrokers(v.GetString("kafka_brokers")),
		KafkaTopic:    v.GetString("kafka_topic"),
		NATSURL:       v.GetString("nats_url"),
		NATSSubject:   v.GetString("nats_subject"),

		HTTPAddr:        v.GetString("http_addr"),
		HTTPRateLimit:   p.int("http_rate_limit"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		ShutdownTimeout: shutdownTimeout,
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and the settings each selected backend needs.
// Errors name the offending environment variable.
func (c *Config) Validate() error {
	switch {
	case c.OutputDir == "":
		return invalid("OUTPUT_DIR is required")
	case !(c.MaxExtentSqMeters > 0):
		return invalid("MAX_EXTENT_SQ_METERS must be positive")
	case c.Workers < 1:
		return invalid("WORKERS must be at least 1")
	case c.WFSURL == "":
		return invalid("WFS_URL is required")
	case c.WFSTimeout <= 0:
		return invalid("WFS_TIMEOUT must be a positive duration")
	case c.WFSMaxRetries < 0:
		return invalid("WFS_MAX_RETRIES must not be negative")
	case c.WFSRateLimit < 0:
		return invalid("WFS_RATE_LIMIT must not be negative")
	case c.HTTPRateLimit < 0:
		return invalid("HTTP_RATE_LIMIT must not be negative")
	}

	switch c.AttributeSource {
	case SourceSDA:
		if c.SDAURL == "" {
			return invalid("SDA_URL is required when ATTRIBUTE_SOURCE is sda")
		}
		if c.SDATimeout <= 0 {
			return invalid("SDA_TIMEOUT must be a positive duration")
		}
		if c.SDABatchSize < 1 {
			return invalid("SDA_BATCH_SIZE must be at least 1")
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return invalid("DATABASE_URL is required when ATTRIBUTE_SOURCE is postgres")
		}
	default:
		return invalid("ATTRIBUTE_SOURCE must be sda or postgres, got %q", c.AttributeSource)
	}

	switch c.AttributeCache {
	case CacheNone:
	case CacheMemory:
		if c.AttributeCacheSize < 1 {
			return invalid("ATTRIBUTE_CACHE_SIZE must be at least 1")
		}
	case CacheRedis:
		if c.RedisAddr == "" {
			return invalid("REDIS_ADDR is required when ATTRIBUTE_CACHE is redis")
		}
		if c.RedisTTL < 0 {
			return invalid("REDIS_TTL must not be negative")
		}
	default:
		return invalid("ATTRIBUTE_CACHE must be memory, redis or none, got %q", c.AttributeCache)
	}

	switch c.EventsBackend {
	case EventsNone:
	case EventsKafka:
		if len(c.KafkaBrokers) == 0 {
			return invalid("KAFKA_BROKERS is required when EVENTS_BACKEND is kafka")
		}
		if c.KafkaTopic == "" {
			return invalid("KAFKA_TOPIC is required when EVENTS_BACKEND is kafka")
		}
	case EventsNATS:
		if c.NATSURL == "" {
			return invalid("NATS_URL is required when EVENTS_BACKEND is nats")
		}
		if c.NATSSubject == "" {
			return invalid("NATS_SUBJECT is required when EVENTS_BACKEND is nats")
		}
	default:
		return invalid("EVENTS_BACKEND must be none, kafka or nats, got %q", c.EventsBackend)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}

// parser reads typed values and keeps the first failure, naming the variable.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) int(key string) int {
	s := strings.TrimSpace(p.v.GetString(key))
	n, err := strconv.Atoi(s)
	if err != nil {
		p.fail(key, "must be an integer", s)
	}
	return n
}

func (p *parser) float(key string) float64 {
	s := strings.TrimSpace(p.v.GetString(key))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(key, "must be a number", s)
	}
	return f
}

func (p *parser) duration(key string) time.Duration {
	s := strings.TrimSpace(p.v.GetString(key))
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, "must be a duration", s)
	}
	return d
}

func (p *parser) fail(key, problem, value string) {
	if p.err == nil {
		p.err = invalid("%s %s, got %q", strings.ToUpper(key), problem, value)
	}
}
