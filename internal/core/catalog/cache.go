// Package catalog holds the in-process snapshot of the product catalog.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
)

type Loader interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// Cache is a read-mostly shadow of the products table. Entries are replaced
// as whole values, so readers never see a half-updated product.
type Cache struct {
	loader  Loader
	metrics *metrics.Metrics

	mu       sync.RWMutex
	products map[int64]domain.Product
	loadedAt time.Time
}

func NewCache(loader Loader, m *metrics.Metrics) *Cache {
	return &Cache{
		loader:   loader,
		metrics:  m,
		products: make(map[int64]domain.Product),
	}
}

// Load fetches every product from the store and swaps the map wholesale.
// It returns a copy of the new snapshot.
func (c *Cache) Load(ctx context.Context) (map[int64]domain.Product, error) {
	rows, err := c.loader.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	next := make(map[int64]domain.Product, len(rows))
	for _, p := range rows {
		if p.Quantity < 0 {
			logging.FromContext(ctx).Warn("catalog_negative_quantity",
				zap.Int64("product_id", p.ID),
				zap.Int("quantity", p.Quantity),
			)
			p.Quantity = 0
		}
		next[p.ID] = p
	}

	c.mu.Lock()
	c.products = next
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.metrics.CatalogSize(len(next))

	snapshot := make(map[int64]domain.Product, len(next))
	for id, p := range next {
		snapshot[id] = p
	}
	return snapshot, nil
}

func (c *Cache) Get(id int64) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	return p, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// LoadedAt reports when the last full load finished; zero before the first.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// ApplyDecrement lowers the cached quantity of one product. The store stays
// the authority; this only keeps the shadow copy in step.
func (c *Cache) ApplyDecrement(id int64, amount int) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.NewProductError(id, domain.ErrNotFound)
	}
	if amount > p.Quantity {
		return p, domain.NewProductError(id, domain.ErrInsufficientCache)
	}

	p.Quantity -= amount
	c.products[id] = p
	return p, nil
}

// Reconcile overwrites the cached quantity with the value read back from the
// store after a write.
func (c *Cache) Reconcile(level domain.StockLevel) (domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[level.ProductID]
	if !ok {
		return domain.Product{}, domain.NewProductError(level.ProductID, domain.ErrNotFound)
	}
	if level.Quantity < 0 {
		level.Quantity = 0
	}

	p.Quantity = level.Quantity
	c.products[level.ProductID] = p
	return p, nil
}

// Run reloads the catalog every interval until ctx is done. Failed reloads
// keep the previous snapshot.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snapshot, err := c.Load(ctx)
			if err != nil {
				logger.Error("catalog_refresh_failed", zap.Error(err))
				continue
			}
			logger.Debug("catalog_refreshed", zap.Int("products", len(snapshot)))
		}
	}
}
