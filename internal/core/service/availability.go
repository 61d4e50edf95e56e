package service

import (
	"github.com/rl1809/storefront/internal/core/domain"
)

// Catalog is the view of the catalog cache the core works against.
type Catalog interface {
	Get(id int64) (domain.Product, bool)
	ApplyDecrement(id int64, amount int) (domain.Product, error)
	Reconcile(level domain.StockLevel) (domain.Product, error)
}

// AvailabilityChecker answers stock questions from the cached snapshot. It
// reserves nothing; settlement re-validates against the store.
type AvailabilityChecker struct {
	catalog Catalog
}

func NewAvailabilityChecker(catalog Catalog) *AvailabilityChecker {
	return &AvailabilityChecker{catalog: catalog}
}

func (c *AvailabilityChecker) Check(cart []domain.CartItem) []domain.AvailabilityResult {
	results := make([]domain.AvailabilityResult, 0, len(cart))
	for _, item := range cart {
		p, ok := c.catalog.Get(item.ProductID)
		results = append(results, domain.AvailabilityResult{
			ProductID: item.ProductID,
			Available: ok && item.Quantity <= p.Quantity,
		})
	}
	return results
}
