package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type EventPublisher interface {
	// PublishSettled announces a completed settlement
	PublishSettled(ctx context.Context, event domain.StockSettledEvent) error
}
