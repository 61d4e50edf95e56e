package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type CatalogRepository interface {
	// ListProducts reads every product row
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// ConditionalDecrement subtracts amount only while quantity >= amount, returns affected rows
	ConditionalDecrement(ctx context.Context, productID int64, amount int) (int64, error)

	// GetQuantity re-reads the authoritative stock of one product
	GetQuantity(ctx context.Context, productID int64) (int, error)

	// SettleItems records the settlement and decrements every item in one transaction
	SettleItems(ctx context.Context, settlementID string, items []domain.CartItem) ([]domain.StockLevel, error)
}
