package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/rl1809/storefront/internal/core/domain"
)

var testURLs = domain.CheckoutURLs{
	SuccessURL: "http://localhost:5000/success.html",
	CancelURL:  "http://localhost:5000/cart",
}

func TestCreateCheckout_Success(t *testing.T) {
	repo := newMockRepo(
		testProduct(1, "mug", 5, "10.00"),
		testProduct(2, "tee", 3, "19.99"),
	)
	cache := loadCache(t, repo)
	provider := &mockProvider{}
	svc := NewCheckoutService(cache, provider, "gbp", nil)

	session, err := svc.CreateCheckout(context.Background(), []domain.CartItem{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 1},
	}, testURLs)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if session.SessionID != "cs_test_1" {
		t.Errorf("expected session cs_test_1, got %s", session.SessionID)
	}
	if session.RedirectURL != "https://pay.example.com/cs_test_1" {
		t.Errorf("unexpected redirect url %s", session.RedirectURL)
	}
	if len(session.Items) != 2 || session.CreatedAt.IsZero() {
		t.Errorf("unexpected session %+v", session)
	}

	req := provider.lastRequest()
	if len(req.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(req.LineItems))
	}
	first := req.LineItems[0]
	if first.Currency != "gbp" || first.ProductName != "mug" || first.UnitAmountMinor != 1000 || first.Quantity != 3 {
		t.Errorf("unexpected first line item %+v", first)
	}
	if req.LineItems[1].UnitAmountMinor != 1999 {
		t.Errorf("expected 1999 minor units for 19.99, got %d", req.LineItems[1].UnitAmountMinor)
	}
	if req.CancelURL != testURLs.CancelURL {
		t.Errorf("unexpected cancel url %s", req.CancelURL)
	}

	// success URL carries the session placeholder and the cart
	if !strings.Contains(req.SuccessURL, "session_id="+domain.SessionIDPlaceholder) {
		t.Errorf("expected session placeholder in %s", req.SuccessURL)
	}
	parsed, err := url.Parse(strings.Replace(req.SuccessURL, domain.SessionIDPlaceholder, "cs_test_1", 1))
	if err != nil {
		t.Fatalf("parse success url: %v", err)
	}
	items, err := domain.DecodeCart(parsed.Query().Get("items"))
	if err != nil {
		t.Fatalf("decode cart from success url: %v", err)
	}
	if len(items) != 2 || items[0].ProductID != 1 || items[0].Quantity != 3 {
		t.Errorf("unexpected cart in success url: %+v", items)
	}

	// checkout never touches stock
	if cachedQuantity(cache, 1) != 5 || repo.quantity(1) != 5 {
		t.Error("expected stock untouched by checkout")
	}
}

func TestCreateCheckout_InsufficientStock(t *testing.T) {
	cache := loadCache(t, newMockRepo(
		testProduct(1, "mug", 5, "10.00"),
		testProduct(2, "tee", 1, "15.00"),
	))
	provider := &mockProvider{}
	svc := NewCheckoutService(cache, provider, "gbp", nil)

	_, err := svc.CreateCheckout(context.Background(), []domain.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 2},
	}, testURLs)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
	if id, _ := domain.ProductIDOf(err); id != 2 {
		t.Errorf("expected product 2 in error, got %d", id)
	}
	if provider.calls.Load() != 0 {
		t.Errorf("expected no provider call, got %d", provider.calls.Load())
	}
}

func TestCreateCheckout_DuplicateLinesMerged(t *testing.T) {
	cache := loadCache(t, newMockRepo(testProduct(1, "mug", 5, "10.00")))
	provider := &mockProvider{}
	svc := NewCheckoutService(cache, provider, "gbp", nil)

	// 3 + 3 exceeds the 5 in stock even though each line fits
	_, err := svc.CreateCheckout(context.Background(), []domain.CartItem{
		{ProductID: 1, Quantity: 3},
		{ProductID: 1, Quantity: 3},
	}, testURLs)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}
	if provider.calls.Load() != 0 {
		t.Errorf("expected no provider call, got %d", provider.calls.Load())
	}
}

func TestCreateCheckout_UnknownProduct(t *testing.T) {
	cache := loadCache(t, newMockRepo(testProduct(1, "mug", 5, "10.00")))
	provider := &mockProvider{}
	svc := NewCheckoutService(cache, provider, "gbp", nil)

	_, err := svc.CreateCheckout(context.Background(), []domain.CartItem{{ProductID: 42, Quantity: 1}}, testURLs)
	if !errors.Is(err, domain.ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got: %v", err)
	}
	if provider.calls.Load() != 0 {
		t.Errorf("expected no provider call, got %d", provider.calls.Load())
	}
}

func TestCreateCheckout_InvalidCart(t *testing.T) {
	cache := loadCache(t, newMockRepo(testProduct(1, "mug", 5, "10.00")))
	provider := &mockProvider{}
	svc := NewCheckoutService(cache, provider, "gbp", nil)

	_, err := svc.CreateCheckout(context.Background(), nil, testURLs)
	if !errors.Is(err, domain.ErrInvalidCart) {
		t.Errorf("expected ErrInvalidCart, got: %v", err)
	}
	_, err = svc.CreateCheckout(context.Background(), []domain.CartItem{{ProductID: 1, Quantity: 0}}, testURLs)
	if !errors.Is(err, domain.ErrInvalidCart) {
		t.Errorf("expected ErrInvalidCart for zero quantity, got: %v", err)
	}
	if provider.calls.Load() != 0 {
		t.Errorf("expected no provider call, got %d", provider.calls.Load())
	}
}

func TestCreateCheckout_ProviderFailure(t *testing.T) {
	repo := newMockRepo(testProduct(1, "mug", 5, "10.00"))
	cache := loadCache(t, repo)
	provider := &mockProvider{err: errors.New("api key invalid")}
	svc := NewCheckoutService(cache, provider, "gbp", nil)

	_, err := svc.CreateCheckout(context.Background(), []domain.CartItem{{ProductID: 1, Quantity: 1}}, testURLs)
	if !errors.Is(err, domain.ErrPaymentProvider) {
		t.Fatalf("expected ErrPaymentProvider, got: %v", err)
	}
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || perr.Message != "api key invalid" {
		t.Errorf("expected provider message to be kept, got: %v", err)
	}
	if cachedQuantity(cache, 1) != 5 {
		t.Error("expected no local state change after provider failure")
	}

	// retry after the provider recovers
	provider.err = nil
	if _, err := svc.CreateCheckout(context.Background(), []domain.CartItem{{ProductID: 1, Quantity: 1}}, testURLs); err != nil {
		t.Errorf("expected retry to succeed, got: %v", err)
	}
}

func TestBuildSuccessURL_ExistingQuery(t *testing.T) {
	got, err := buildSuccessURL("https://shop.example.com/success.html?lang=en", []domain.CartItem{{ProductID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://shop.example.com/success.html?lang=en&session_id={CHECKOUT_SESSION_ID}&items=" +
		url.QueryEscape(`[{"id":1,"quantity":2}]`)
	if got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}

	if _, err := buildSuccessURL("", []domain.CartItem{{ProductID: 1, Quantity: 2}}); err == nil {
		t.Error("expected error for empty base url")
	}
}
