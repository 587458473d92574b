// Package estimate caches interactive shipping and tax estimates so that
// checkout does not rerun the engine on every address keystroke.
//
// Two tiers live in the same KV store: a per-cart address entry (best-guess or
// last used address, about an hour) and a per-fingerprint estimate entry
// (about ten minutes). Neither is authoritative; a lost or failed lookup only
// costs a recomputation.
package estimate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/cache"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

const (
	DefaultEstimateTTL = 10 * time.Minute
	DefaultAddressTTL  = time.Hour
)

// ShippingOption is one priced carrier method.
type ShippingOption struct {
	Service   string `json:"service"`
	Reference string `json:"reference"`
	Cost      int64  `json:"cost"`
	TaxAmount int64  `json:"tax_amount"`
}

// Estimate is the cached result of a rate and tax computation.
type Estimate struct {
	ShippingOptions []ShippingOption `json:"shipping_options"`
	TaxAmount       int64            `json:"tax_amount"`
	Address         *domain.Address  `json:"address,omitempty"`
}

// Cache reads and writes both tiers. Store errors are logged and reported as
// misses.
type Cache struct {
	store cache.Cache
}

// NewCache stores estimates in store as JSON.
func NewCache(store cache.Cache) *Cache {
	return &Cache{store: store}
}

// Get returns the estimate stored under fingerprint.
func (c *Cache) Get(ctx context.Context, fingerprint string) (Estimate, bool) {
	var est Estimate
	ok := c.read(ctx, c.store.GenerateKey("estimate", fingerprint), &est)
	return est, ok
}

// Put stores est under fingerprint for ttl. Write failures are logged.
func (c *Cache) Put(ctx context.Context, fingerprint string, est Estimate, ttl time.Duration) {
	c.write(ctx, c.store.GenerateKey("estimate", fingerprint), est, ttl)
}

// GetAddress returns the last shipping address estimated for cartID.
func (c *Cache) GetAddress(ctx context.Context, cartID domain.CartID) (domain.Address, bool) {
	var addr domain.Address
	ok := c.read(ctx, c.store.GenerateKey("address", cartID.String()), &addr)
	return addr, ok
}

// PutAddress remembers addr as cartID's latest shipping address.
func (c *Cache) PutAddress(ctx context.Context, cartID domain.CartID, addr domain.Address, ttl time.Duration) {
	c.write(ctx, c.store.GenerateKey("address", cartID.String()), addr, ttl)
}

func (c *Cache) read(ctx context.Context, key string, into any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "estimate cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, into); err != nil {
		slog.WarnContext(ctx, "estimate cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *Cache) write(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		slog.WarnContext(ctx, "estimate cache entry not encodable", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		slog.WarnContext(ctx, "estimate cache write failed", "key", key, "error", err)
	}
}
