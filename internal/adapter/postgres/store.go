// Package postgres reads SSURGO component attributes from a local PostgreSQL
// copy of the SSURGO tabular tables (component, chorizon, chtexturegrp).
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const serviceName = "postgres"

const componentQuery = `
	SELECT c.mukey::text, c.cokey::text, COALESCE(c.comppct_r, 0)::double precision,
	       ch.ksat_r::double precision, COALESCE(tg.texdesc, ''),
	       ch.claytotal_r::double precision, ch.silttotal_r::double precision, ch.sandtotal_r::double precision
	FROM component c
	LEFT JOIN chorizon ch ON ch.cokey = c.cokey AND ch.hzdept_r = 0
	LEFT JOIN chtexturegrp tg ON tg.chkey = ch.chkey AND tg.rvindicator = 'Yes'
	WHERE c.mukey::text = ANY($1)
	ORDER BY c.mukey, c.cokey
`

// querier is the subset of *pgxpool.Pool used by Store.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements the attribute fetcher against a SSURGO database.
type Store struct {
	db      querier
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewStore wraps an open pool.
func NewStore(db querier, metrics *observability.Metrics, logger *slog.Logger) *Store {
	return &Store{db: db, metrics: metrics, logger: logger}
}

// Connect opens a pool and waits for the database to answer, retrying the
// ping with exponential backoff until ctx ends or attempts run out.
func Connect(ctx context.Context, dsn string, attempts int, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse DATABASE_URL: %v", domain.ErrConfiguration, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if attempt >= attempts {
			break
		}
		logger.Warn("database not ready, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			err = ctx.Err()
			break
		}
		backoff = retry.NextBackoff(backoff, 10*time.Second)
	}
	pool.Close()
	return nil, fmt.Errorf("ping: %w", err)
}

// FetchComponentAttributes returns the surface-horizon attributes of every
// component of each key. Every requested key is present in the result.
func (s *Store) FetchComponentAttributes(ctx context.Context, keys domain.KeySet) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error) {
	out := make(map[domain.MapunitKey][]domain.ComponentAttributeRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	sorted := keys.Sorted()
	args := make([]string, len(sorted))
	for i, k := range sorted {
		out[k] = []domain.ComponentAttributeRecord{}
		args[i] = string(k)
	}

	start := time.Now()
	records, err := s.query(ctx, args)
	s.metrics.ServiceDuration.WithLabelValues(serviceName).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.ServiceRequests.WithLabelValues(serviceName, "error").Inc()
		return nil, fmt.Errorf("query components: %w", &domain.ServiceError{Service: serviceName, Message: err.Error(), Err: err})
	}
	s.metrics.ServiceRequests.WithLabelValues(serviceName, "success").Inc()

	for _, r := range records {
		if _, ok := out[r.MapunitKey]; ok {
			out[r.MapunitKey] = append(out[r.MapunitKey], r)
		}
	}
	s.logger.Debug("component attributes loaded", "mapunits", len(sorted), "components", len(records))
	return out, nil
}

func (s *Store) query(ctx context.Context, keys []string) ([]domain.ComponentAttributeRecord, error) {
	rows, err := s.db.Query(ctx, componentQuery, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ComponentAttributeRecord
	for rows.Next() {
		var r domain.ComponentAttributeRecord
		var mukey string
		if err := rows.Scan(&mukey, &r.ComponentKey, &r.ComponentPercent,
			&r.Ksat, &r.TextureClass, &r.PctClay, &r.PctSilt, &r.PctSand); err != nil {
			return nil, err
		}
		r.MapunitKey = domain.MapunitKey(mukey)
		records = append(records, r)
	}
	return records, rows.Err()
}
