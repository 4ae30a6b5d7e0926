// Package cache provides typed, TTL-aware access to the locally persisted
// reference collections the POS needs to operate offline.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
)

// Reference collection keys. The set is fixed: the prefetcher iterates it and
// the local API exposes it.
const (
	KeyMenuItems      = "menu_items"
	KeyCategories     = "categories"
	KeyPaymentMethods = "payment_methods"
	KeyStaff          = "staff"
	KeyTables         = "tables"
	KeySettings       = "settings"
	KeyDeliveryZones  = "delivery_zones"
	KeyCustomers      = "customers"
)

// Per-key freshness windows, scaled to how fast each collection moves:
// table/order state churns by the minute, catalog data by the shift,
// payment-method and settings configuration almost never.
var ttls = map[string]time.Duration{
	KeyMenuItems:      30 * time.Minute,
	KeyCategories:     30 * time.Minute,
	KeyPaymentMethods: 24 * time.Hour,
	KeyStaff:          30 * time.Minute,
	KeyTables:         5 * time.Minute,
	KeySettings:       24 * time.Hour,
	KeyDeliveryZones:  12 * time.Hour,
	KeyCustomers:      15 * time.Minute,
}

// Keys returns every reference collection key.
func Keys() []string {
	return []string{
		KeyMenuItems,
		KeyCategories,
		KeyPaymentMethods,
		KeyStaff,
		KeyTables,
		KeySettings,
		KeyDeliveryZones,
		KeyCustomers,
	}
}

// Known reports whether key names a reference collection.
func Known(key string) bool {
	_, ok := ttls[key]
	return ok
}

// TTLFor returns the freshness window for a collection key.
func TTLFor(key string) time.Duration {
	if ttl, ok := ttls[key]; ok {
		return ttl
	}
	return 30 * time.Minute
}

type Cache struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store) *Cache {
	return &Cache{store: s, now: time.Now}
}

// Save overwrites the snapshot for key, stamping it with the current time.
func (c *Cache) Save(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) error {
	return c.store.SaveSnapshot(ctx, &store.Snapshot{
		Key:     key,
		Data:    data,
		SavedAt: c.now(),
		TTL:     ttl,
	})
}

// Read returns the stored snapshot regardless of freshness, or nil if none
// exists. Stale data stays readable until a successful refetch replaces it.
// Storage failures degrade to "nothing cached".
func (c *Cache) Read(ctx context.Context, key string) *store.Snapshot {
	snap, err := c.store.GetSnapshot(ctx, key)
	if err != nil {
		logger.Log.Error("Failed to read snapshot", zap.String("key", key), zap.Error(err))
		return nil
	}
	return snap
}

// IsFresh reports whether a snapshot exists for key and is inside the given
// freshness window. A missing snapshot is never fresh.
func (c *Cache) IsFresh(ctx context.Context, key string, ttl time.Duration) bool {
	snap := c.Read(ctx, key)
	if snap == nil {
		return false
	}
	return snap.Fresh(ttl, c.now())
}

// Clear drops every cached snapshot.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.ClearSnapshots(ctx)
}
