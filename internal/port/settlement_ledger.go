package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type SettlementLedger interface {
	// Claim marks key pending under token unless it is already pending or done
	Claim(ctx context.Context, key, token string) (domain.ClaimState, error)
	// Complete marks key done after the decrements committed
	Complete(ctx context.Context, key string) error
	// Release drops a pending claim held by token so a failed settlement can be retried
	Release(ctx context.Context, key, token string) error
}
