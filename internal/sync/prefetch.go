package sync

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/cache"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/upstream"
)

// CatalogAPI is the read side of the upstream client: the reference
// collections the POS needs cached to operate offline.
type CatalogAPI interface {
	MenuItems(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	Categories(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	PaymentMethods(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	Staff(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	AvailableTables(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	POSSettings(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	DeliveryZones(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
	Customers(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)
}

// PrefetchOptions configure one prefetch pass.
type PrefetchOptions struct {
	Scope upstream.Scope
	// Force fetches every collection even when its snapshot is still fresh.
	Force bool
	// Progress, when set, is invoked once per collection as it settles.
	Progress func(CollectionResult)
}

// Prefetcher populates the snapshot cache with every reference collection,
// tolerating per-collection failure.
type Prefetcher struct {
	api   CatalogAPI
	cache *cache.Cache
}

func NewPrefetcher(api CatalogAPI, c *cache.Cache) *Prefetcher {
	return &Prefetcher{api: api, cache: c}
}

type fetchFunc func(ctx context.Context, scope upstream.Scope) (json.RawMessage, error)

type collection struct {
	key   string
	fetch fetchFunc
}

func (p *Prefetcher) collections() []collection {
	return []collection{
		{cache.KeyMenuItems, p.api.MenuItems},
		{cache.KeyCategories, p.api.Categories},
		{cache.KeyPaymentMethods, p.api.PaymentMethods},
		{cache.KeyStaff, p.api.Staff},
		{cache.KeyTables, p.api.AvailableTables},
		{cache.KeySettings, p.api.POSSettings},
		{cache.KeyDeliveryZones, p.api.DeliveryZones},
		{cache.KeyCustomers, p.api.Customers},
	}
}

// Refresh fetches all reference collections concurrently. A fresh snapshot is
// skipped unless forced; one collection's failure never aborts or delays the
// others. The pass itself never fails: total failure is a summary with every
// result carrying an error.
func (p *Prefetcher) Refresh(ctx context.Context, opts PrefetchOptions) PrefetchSummary {
	cols := p.collections()
	results := make([]CollectionResult, len(cols))

	var progressMu sync.Mutex
	emit := func(res CollectionResult) {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		opts.Progress(res)
		progressMu.Unlock()
	}

	var wg sync.WaitGroup
	for i, col := range cols {
		wg.Add(1)
		go func(i int, key string, fetch fetchFunc) {
			defer wg.Done()
			res := p.refreshOne(ctx, key, fetch, opts)
			results[i] = res
			emit(res)
		}(i, col.key, col.fetch)
	}
	wg.Wait()

	summary := PrefetchSummary{Results: results}
	for _, res := range results {
		if res.Err != nil {
			summary.HasErrors = true
		}
	}

	logger.Log.Info("Prefetch pass finished",
		zap.Bool("hasErrors", summary.HasErrors),
		zap.Bool("forced", opts.Force),
	)
	return summary
}

func (p *Prefetcher) refreshOne(ctx context.Context, key string, fetch fetchFunc, opts PrefetchOptions) CollectionResult {
	ttl := cache.TTLFor(key)

	if !opts.Force && p.cache.IsFresh(ctx, key, ttl) {
		return CollectionResult{Key: key, Count: -1, Skipped: true}
	}

	data, err := fetch(ctx, opts.Scope)
	if err != nil {
		logger.Log.Warn("Reference fetch failed", zap.String("key", key), zap.Error(err))
		return CollectionResult{Key: key, Err: err, Error: err.Error()}
	}

	if err := p.cache.Save(ctx, key, data, ttl); err != nil {
		logger.Log.Error("Failed to cache snapshot", zap.String("key", key), zap.Error(err))
		return CollectionResult{Key: key, Err: err, Error: err.Error()}
	}

	return CollectionResult{Key: key, Count: recordCount(data)}
}

// OfflineReady reports whether the POS can function without connectivity:
// menu items and payment methods must be cached (fetched now or fresh enough
// to skip); the rest are best-effort enhancements.
func (s PrefetchSummary) OfflineReady() bool {
	required := map[string]bool{
		cache.KeyMenuItems:      false,
		cache.KeyPaymentMethods: false,
	}
	for _, res := range s.Results {
		if _, ok := required[res.Key]; ok && res.Err == nil {
			required[res.Key] = true
		}
	}
	return required[cache.KeyMenuItems] && required[cache.KeyPaymentMethods]
}

func recordCount(data json.RawMessage) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		return len(arr)
	}
	// Single-entity payloads (settings) count as one record.
	return 1
}
