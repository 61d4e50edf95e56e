package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/eventbus"
	"github.com/rl1809/storefront/internal/adapter/payment"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/catalog"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

// fakeStore is an in-memory CatalogRepository
type fakeStore struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	settled  map[string]bool
	listErr  error
}

func newFakeStore(products ...domain.Product) *fakeStore {
	s := &fakeStore{products: make(map[int64]domain.Product), settled: make(map[string]bool)}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *fakeStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) ConditionalDecrement(ctx context.Context, productID int64, amount int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok || p.Quantity < amount {
		return 0, nil
	}
	p.Quantity -= amount
	s.products[productID] = p
	return 1, nil
}

func (s *fakeStore) GetQuantity(ctx context.Context, productID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Quantity, nil
}

func (s *fakeStore) SettleItems(ctx context.Context, settlementID string, items []domain.CartItem) ([]domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled[settlementID] {
		return nil, domain.ErrAlreadySettled
	}
	for _, item := range items {
		if s.products[item.ProductID].Quantity < item.Quantity {
			return nil, domain.NewProductError(item.ProductID, domain.ErrConcurrentOversell)
		}
	}
	levels := make([]domain.StockLevel, 0, len(items))
	for _, item := range items {
		p := s.products[item.ProductID]
		p.Quantity -= item.Quantity
		s.products[item.ProductID] = p
		levels = append(levels, domain.StockLevel{ProductID: p.ID, Quantity: p.Quantity})
	}
	s.settled[settlementID] = true
	return levels, nil
}

func (s *fakeStore) quantity(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Quantity
}

type failingProvider struct{}

func (failingProvider) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error) {
	return domain.Session{}, &domain.ProviderError{Message: "card network down"}
}

var testURLs = domain.CheckoutURLs{
	SuccessURL: "http://shop.local/success.html",
	CancelURL:  "http://shop.local/cart",
}

type testApp struct {
	store      *fakeStore
	cache      *catalog.Cache
	checkout   *service.CheckoutService
	settlement *service.SettlementService
}

func newTestApp(t *testing.T, provider port.PaymentProvider, products ...domain.Product) *testApp {
	t.Helper()
	if provider == nil {
		provider = payment.NewLocalAdapter()
	}

	store := newFakeStore(products...)
	cache := catalog.NewCache(store, nil)
	if _, err := cache.Load(context.Background()); err != nil {
		t.Fatalf("load cache: %v", err)
	}

	return &testApp{
		store:    store,
		cache:    cache,
		checkout: service.NewCheckoutService(cache, provider, "gbp", nil),
		settlement: service.NewSettlementService(
			cache, store, storage.NewMemoryLedger(time.Hour), eventbus.NewNopPublisher(zap.NewNop()),
			domain.SettlementModeAtomic, nil,
		),
	}
}

func product(id int64, name string, qty int, price string) domain.Product {
	return domain.Product{ID: id, Name: name, Quantity: qty, Price: decimal.RequireFromString(price)}
}

var errStoreDown = errors.New("store down")
