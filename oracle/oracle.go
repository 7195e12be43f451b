package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/omni/bridge-core/config"
	"github.com/omni/bridge-core/logging"
)

type cacheEntry struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// cachedFeed serves values from a per-key TTL cache in front of a fetch
// function. When a fetch fails, a stale cached value is preferred, then the
// configured fallback constant. Both substitutions mark the result degraded.
type cachedFeed struct {
	name     string
	ttl      time.Duration
	fallback decimal.Decimal
	fetch    func(ctx context.Context, key string) (decimal.Decimal, error)
	logger   logging.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newCachedFeed(
	logger logging.Logger,
	name string,
	ttl time.Duration,
	fallback decimal.Decimal,
	fetch func(ctx context.Context, key string) (decimal.Decimal, error),
) *cachedFeed {
	return &cachedFeed{
		name:     name,
		ttl:      ttl,
		fallback: fallback,
		fetch:    fetch,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]cacheEntry, 5),
	}
}

func (f *cachedFeed) get(ctx context.Context, key string) (decimal.Decimal, bool) {
	now := f.now()

	f.mu.RLock()
	entry, cached := f.entries[key]
	f.mu.RUnlock()
	if cached && now.Sub(entry.fetchedAt) < f.ttl {
		return entry.value, false
	}

	value, err := f.fetch(ctx, key)
	if err == nil {
		f.mu.Lock()
		f.entries[key] = cacheEntry{value: value, fetchedAt: now}
		f.mu.Unlock()
		return value, false
	}

	if cached {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"oracle": f.name,
			"key":    key,
			"age":    now.Sub(entry.fetchedAt),
		}).Warn("oracle fetch failed, using stale cached value")
		ObserveFallback(f.name, "stale_cache")
		return entry.value, true
	}

	f.logger.WithError(err).WithFields(logrus.Fields{
		"oracle":   f.name,
		"key":      key,
		"fallback": f.fallback,
	}).Warn("oracle fetch failed with cold cache, using configured fallback")
	ObserveFallback(f.name, "constant")
	return f.fallback, true
}

// PriceOracle returns a token's fiat value. The boolean result reports
// whether the value is degraded, i.e. not obtained from a live feed.
type PriceOracle struct {
	feed *cachedFeed
}

func NewPriceOracle(logger logging.Logger, provider PriceProvider, cfg *config.OracleConfig) *PriceOracle {
	return &PriceOracle{
		feed: newCachedFeed(logger, "price", cfg.CacheTTL, cfg.FallbackPrice, provider.TokenPrice),
	}
}

func (o *PriceOracle) TokenPrice(ctx context.Context, token string) (decimal.Decimal, bool) {
	return o.feed.get(ctx, token)
}

// GasOracle returns the fiat cost of a settlement transaction on a chain,
// with the same caching and degradation contract as PriceOracle.
type GasOracle struct {
	feed *cachedFeed
}

func NewGasOracle(logger logging.Logger, provider GasProvider, cfg *config.OracleConfig) *GasOracle {
	return &GasOracle{
		feed: newCachedFeed(logger, "gas", cfg.CacheTTL, cfg.FallbackGas, provider.GasCost),
	}
}

func (o *GasOracle) GasCost(ctx context.Context, chain string) (decimal.Decimal, bool) {
	return o.feed.get(ctx, chain)
}
