// Package app assembles the pipeline from configuration. Both commands share
// it so the CLI and the service run the same stack.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/cache"
	kafkaadapter "github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/kafka"
	natsadapter "github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/nats"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/postgres"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/sda"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/adapter/wfs"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/catalog"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/config"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/redis/go-redis/v9"
)

// CatalogSRS is the reference system assumed for files found on disk; the
// default feature service serves WGS84 geographic coordinates.
const CatalogSRS = "EPSG:4326"

const dbConnectAttempts = 5

// App holds the wired components and the resources they own.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Catalog      *catalog.Catalog

	ready   []sharedobs.ReadinessChecker
	closers []closer
	logger  *slog.Logger
}

type closer struct {
	name  string
	close func() error
}

// Build connects every backend selected by cfg. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*App, error) {
	a := &App{logger: logger}
	if err := a.wire(ctx, cfg, metrics, logger); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("pipeline assembled",
		"attribute_source", cfg.AttributeSource,
		"attribute_cache", cfg.AttributeCache,
		"events_backend", cfg.EventsBackend,
		"workers", cfg.Workers,
		"tiles_indexed", a.Catalog.Len(),
	)
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) error {
	features := wfs.NewClient(cfg.WFSURL, wfs.Options{
		Timeout:    cfg.WFSTimeout,
		MaxRetries: cfg.WFSMaxRetries,
		RateLimit:  cfg.WFSRateLimit,
	}, metrics, logger)

	attributes, err := a.attributeFetcher(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	publisher, err := a.publisher(cfg, logger)
	if err != nil {
		return err
	}
	if publisher != nil {
		opts = append(opts, pipeline.WithPublisher(publisher))
	}

	a.Catalog = catalog.New(CatalogSRS, logger)
	if _, err := a.Catalog.Scan(cfg.OutputDir); err != nil {
		logger.Warn("tile catalog starts empty", "error", err)
	}
	opts = append(opts, pipeline.WithRecorder(a.Catalog))

	a.Orchestrator = pipeline.New(features, attributes, pipeline.Config{
		OutputDir: cfg.OutputDir,
		MaxExtent: cfg.MaxExtentSqMeters,
		Workers:   cfg.Workers,
	}, logger, metrics, opts...)
	a.ready = append([]sharedobs.ReadinessChecker{a.Orchestrator}, a.ready...)
	return nil
}

func (a *App) attributeFetcher(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (pipeline.AttributeFetcher, error) {
	var inner cache.AttributeFetcher
	switch cfg.AttributeSource {
	case config.SourcePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, dbConnectAttempts, logger)
		if err != nil {
			return nil, fmt.Errorf("attribute database: %w", err)
		}
		a.onClose("postgres", func() error { pool.Close(); return nil })
		inner = postgres.NewStore(pool, metrics, logger)
	default:
		inner = sda.NewClient(cfg.SDAURL, cfg.SDATimeout, cfg.SDABatchSize, metrics, logger)
	}

	switch cfg.AttributeCache {
	case config.CacheMemory:
		return cache.NewCachedFetcher(inner, cache.NewMemoryStore(cfg.AttributeCacheSize), metrics, logger), nil
	case config.CacheRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.onClose("redis", rdb.Close)
		return cache.NewCachedFetcher(inner, cache.NewRedisStore(rdb, cfg.RedisTTL), metrics, logger), nil
	default:
		return inner, nil
	}
}

func (a *App) publisher(cfg *config.Config, logger *slog.Logger) (pipeline.EventPublisher, error) {
	switch cfg.EventsBackend {
	case config.EventsKafka:
		p := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		a.onClose("kafka publisher", p.Close)
		return p, nil
	case config.EventsNATS:
		p, err := natsadapter.NewPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		a.onClose("nats publisher", p.Close)
		a.ready = append(a.ready, p)
		return p, nil
	default:
		return nil, nil
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// CheckReadiness reports the first component that is not ready.
func (a *App) CheckReadiness(ctx context.Context) error {
	for _, r := range a.ready {
		if err := r.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error(c.name+" close error", "error", err)
		}
	}
	a.closers = nil
}
