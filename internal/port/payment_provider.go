package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type PaymentProvider interface {
	// CreateSession opens a hosted checkout session, failures are *domain.ProviderError
	CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error)
}
