package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

type CheckoutService struct {
	catalog  Catalog
	checker  *AvailabilityChecker
	provider port.PaymentProvider
	currency string
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewCheckoutService(catalog Catalog, provider port.PaymentProvider, currency string, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{
		catalog:  catalog,
		checker:  NewAvailabilityChecker(catalog),
		provider: provider,
		currency: currency,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateCheckout validates the cart against the cached catalog and opens a
// payment session for it. Nothing local changes before the provider answers,
// so a failed call can be retried as is.
func (s *CheckoutService) CreateCheckout(ctx context.Context, cart []domain.CartItem, urls domain.CheckoutURLs) (_ domain.CheckoutSession, err error) {
	ctx, span := tracer().Start(ctx, "Checkout.CreateCheckout")
	span.SetAttributes(attribute.Int("cart.items", len(cart)))
	defer func() { endSpan(span, err) }()

	logger := logging.FromContext(ctx).With(zap.String("use_case", "checkout.create"))

	items, err := domain.NormalizeCart(cart)
	if err != nil {
		s.metrics.Checkout("invalid_cart")
		return domain.CheckoutSession{}, err
	}

	for _, result := range s.checker.Check(items) {
		if result.Available {
			continue
		}
		if _, ok := s.catalog.Get(result.ProductID); !ok {
			s.metrics.Checkout("unknown_product")
			logger.Warn("checkout_unknown_product", zap.Int64("product_id", result.ProductID))
			return domain.CheckoutSession{}, domain.NewProductError(result.ProductID, domain.ErrUnknownProduct)
		}
		s.metrics.Checkout("insufficient_stock")
		logger.Warn("checkout_insufficient_stock", zap.Int64("product_id", result.ProductID))
		return domain.CheckoutSession{}, domain.NewProductError(result.ProductID, domain.ErrInsufficientStock)
	}

	lineItems, err := s.lineItems(items)
	if err != nil {
		s.metrics.Checkout("unknown_product")
		return domain.CheckoutSession{}, err
	}

	successURL, err := buildSuccessURL(urls.SuccessURL, items)
	if err != nil {
		s.metrics.Checkout("error")
		return domain.CheckoutSession{}, err
	}

	session, err := s.provider.CreateSession(ctx, domain.SessionRequest{
		LineItems:  lineItems,
		SuccessURL: successURL,
		CancelURL:  urls.CancelURL,
	})
	if err != nil {
		s.metrics.Checkout("provider_error")
		logger.Error("checkout_provider_failed", zap.Error(err))

		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			return domain.CheckoutSession{}, err
		}
		return domain.CheckoutSession{}, &domain.ProviderError{Message: err.Error()}
	}

	span.SetAttributes(attribute.String("checkout.session_id", session.ID))
	s.metrics.Checkout("success")
	logger.Info("checkout_created",
		zap.String("session_id", session.ID),
		zap.Int("items", len(items)),
	)

	return domain.CheckoutSession{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		Items:       items,
		CreatedAt:   s.now(),
	}, nil
}

// lineItems prices each cart entry from the cache.
func (s *CheckoutService) lineItems(items []domain.CartItem) ([]domain.LineItem, error) {
	out := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		p, ok := s.catalog.Get(item.ProductID)
		if !ok {
			return nil, domain.NewProductError(item.ProductID, domain.ErrUnknownProduct)
		}

		amount, err := domain.MinorUnits(p.Price)
		if err != nil {
			return nil, domain.NewProductError(item.ProductID, err)
		}

		out = append(out, domain.LineItem{
			Currency:        s.currency,
			ProductName:     p.Name,
			UnitAmountMinor: amount,
			Quantity:        int64(item.Quantity),
		})
	}
	return out, nil
}

// buildSuccessURL appends the session placeholder and the serialized cart, so
// settlement can recover the purchase without a pending-order table.
func buildSuccessURL(base string, items []domain.CartItem) (string, error) {
	encoded, err := domain.EncodeCart(items)
	if err != nil {
		return "", err
	}
	if base == "" {
		return "", errors.New("checkout: success url is required")
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "session_id=" + domain.SessionIDPlaceholder + "&items=" + url.QueryEscape(encoded), nil
}
