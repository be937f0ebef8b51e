// Package cache decorates an attribute fetcher with a per-mapunit cache so
// overlapping tiles and repeated runs do not re-query the attribute source.
package cache

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/couchcryptid/ssurgo-feature-etl/internal/observability"
)

// AttributeFetcher is the contract being cached.
type AttributeFetcher interface {
	FetchComponentAttributes(ctx context.Context, keys domain.KeySet) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error)
}

// Store holds component records per mapunit. Absent keys are left out of
// the map returned by GetMany.
type Store interface {
	GetMany(ctx context.Context, keys []domain.MapunitKey) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error)
	PutMany(ctx context.Context, records map[domain.MapunitKey][]domain.ComponentAttributeRecord) error
}

// CachedFetcher serves what it can from a Store and forwards only the
// missing keys to the inner fetcher. Store failures degrade to cache misses.
type CachedFetcher struct {
	inner   AttributeFetcher
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedFetcher creates a cache decorator around an attribute fetcher.
func NewCachedFetcher(inner AttributeFetcher, store Store, metrics *observability.Metrics, logger *slog.Logger) *CachedFetcher {
	return &CachedFetcher{inner: inner, store: store, metrics: metrics, logger: logger}
}

func (c *CachedFetcher) FetchComponentAttributes(ctx context.Context, keys domain.KeySet) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error) {
	sorted := keys.Sorted()
	cached, err := c.store.GetMany(ctx, sorted)
	if err != nil {
		c.logger.Warn("attribute cache read failed", "error", err)
		cached = nil
	}

	out := make(map[domain.MapunitKey][]domain.ComponentAttributeRecord, len(keys))
	missing := make(domain.KeySet)
	for _, k := range sorted {
		if recs, ok := cached[k]; ok {
			out[k] = recs
			continue
		}
		missing.Add(k)
	}
	c.metrics.AttributeCache.WithLabelValues("hit").Add(float64(len(out)))
	c.metrics.AttributeCache.WithLabelValues("miss").Add(float64(len(missing)))

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.inner.FetchComponentAttributes(ctx, missing)
	if err != nil {
		return nil, err
	}
	toStore := make(map[domain.MapunitKey][]domain.ComponentAttributeRecord, len(missing))
	for k := range missing {
		recs, ok := fetched[k]
		if !ok {
			recs = []domain.ComponentAttributeRecord{}
		}
		out[k] = recs
		toStore[k] = recs
	}
	if err := c.store.PutMany(ctx, toStore); err != nil {
		c.logger.Warn("attribute cache write failed", "error", err)
	}
	return out, nil
}
