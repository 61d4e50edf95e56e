// Package payment holds the hosted checkout providers.
package payment

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

type StripeAdapter struct {
	client session.Client
}

// NewStripeAdapter builds a client for key. apiURL overrides the Stripe API
// endpoint when non-empty.
func NewStripeAdapter(key, apiURL string, logger *zap.Logger) *StripeAdapter {
	cfg := &stripe.BackendConfig{
		LeveledLogger: logger.Named("stripe").Sugar(),
	}
	if apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	return NewStripeAdapterWithBackend(key, stripe.GetBackendWithConfig(stripe.APIBackend, cfg))
}

func NewStripeAdapterWithBackend(key string, backend stripe.Backend) *StripeAdapter {
	return &StripeAdapter{client: session.Client{B: backend, Key: key}}
}

func (s *StripeAdapter) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx

	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(item.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.ProductName),
				},
				UnitAmount: stripe.Int64(item.UnitAmountMinor),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	sess, err := s.client.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Msg != "" {
			return domain.Session{}, &domain.ProviderError{Message: serr.Msg}
		}
		return domain.Session{}, &domain.ProviderError{Message: err.Error()}
	}

	return domain.Session{ID: sess.ID, RedirectURL: sess.URL}, nil
}
