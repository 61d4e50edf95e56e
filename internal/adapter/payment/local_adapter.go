package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

// LocalAdapter completes every session immediately by redirecting straight
// to the success URL. It stands in for Stripe in development and load tests.
type LocalAdapter struct{}

func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{}
}

func (l *LocalAdapter) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error) {
	if len(req.LineItems) == 0 {
		return domain.Session{}, &domain.ProviderError{Message: "no line items"}
	}

	id := "cs_local_" + uuid.NewString()
	return domain.Session{
		ID:          id,
		RedirectURL: strings.ReplaceAll(req.SuccessURL, domain.SessionIDPlaceholder, id),
	}, nil
}
