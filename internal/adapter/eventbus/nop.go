package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

// NopPublisher only logs events. It is selected when RABBITMQ_URL is empty.
type NopPublisher struct {
	logger *zap.Logger
}

func NewNopPublisher(logger *zap.Logger) *NopPublisher {
	return &NopPublisher{logger: logger}
}

func (n *NopPublisher) PublishSettled(ctx context.Context, event domain.StockSettledEvent) error {
	n.logger.Debug("settlement_event_dropped",
		zap.String("event_id", event.EventID),
		zap.String("settlement_id", event.SettlementID),
	)
	return nil
}
