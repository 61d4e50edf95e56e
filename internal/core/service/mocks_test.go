package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/catalog"
	"github.com/rl1809/storefront/internal/core/domain"
)

// Mock CatalogRepository backed by a map; SettleItems is all-or-nothing
type mockRepo struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	settled  map[string]bool

	decrementCalls  atomic.Int32
	settleCalls     atomic.Int32
	failGetQuantity bool
}

func newMockRepo(products ...domain.Product) *mockRepo {
	m := &mockRepo{
		products: make(map[int64]domain.Product),
		settled:  make(map[string]bool),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockRepo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRepo) ConditionalDecrement(ctx context.Context, productID int64, amount int) (int64, error) {
	m.decrementCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok || p.Quantity < amount {
		return 0, nil
	}
	p.Quantity -= amount
	m.products[productID] = p
	return 1, nil
}

func (m *mockRepo) GetQuantity(ctx context.Context, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetQuantity {
		return 0, errors.New("connection reset")
	}
	p, ok := m.products[productID]
	if !ok {
		return 0, domain.NewProductError(productID, domain.ErrNotFound)
	}
	return p.Quantity, nil
}

func (m *mockRepo) SettleItems(ctx context.Context, settlementID string, items []domain.CartItem) ([]domain.StockLevel, error) {
	m.settleCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled[settlementID] {
		return nil, domain.ErrAlreadySettled
	}
	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if !ok || p.Quantity < item.Quantity {
			return nil, domain.NewProductError(item.ProductID, domain.ErrConcurrentOversell)
		}
	}

	levels := make([]domain.StockLevel, 0, len(items))
	for _, item := range items {
		p := m.products[item.ProductID]
		p.Quantity -= item.Quantity
		m.products[item.ProductID] = p
		levels = append(levels, domain.StockLevel{ProductID: p.ID, Quantity: p.Quantity})
	}
	m.settled[settlementID] = true
	return levels, nil
}

func (m *mockRepo) quantity(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Quantity
}

func (m *mockRepo) setQuantity(id int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Quantity = qty
	m.products[id] = p
}

// Mock SettlementLedger
type mockLedger struct {
	mu      sync.Mutex
	claims  map[string]domain.ClaimState
	tokens  map[string]string
	err     error
	release atomic.Int32
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		claims: make(map[string]domain.ClaimState),
		tokens: make(map[string]string),
	}
}

func (m *mockLedger) Claim(ctx context.Context, key, token string) (domain.ClaimState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.ClaimPending, m.err
	}
	if state, ok := m.claims[key]; ok {
		return state, nil
	}
	m.claims[key] = domain.ClaimPending
	m.tokens[key] = token
	return domain.ClaimAcquired, nil
}

func (m *mockLedger) Complete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[key] = domain.ClaimDone
	delete(m.tokens, key)
	return nil
}

func (m *mockLedger) Release(ctx context.Context, key, token string) error {
	m.release.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] == domain.ClaimPending && m.tokens[key] == token {
		delete(m.claims, key)
		delete(m.tokens, key)
	}
	return nil
}

// pending leaves a claim behind as if its owner crashed mid-settlement.
func (m *mockLedger) pending(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[key] = domain.ClaimPending
	m.tokens[key] = "crashed"
}

func (m *mockLedger) held(key string) bool {
	_, ok := m.state(key)
	return ok
}

func (m *mockLedger) state(key string) (domain.ClaimState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.claims[key]
	return state, ok
}

// blockingRepo parks the first settlement write until unblock is closed,
// then fails it with firstErr.
type blockingRepo struct {
	*mockRepo
	entered  chan struct{}
	unblock  chan struct{}
	firstErr error
	writes   atomic.Int32
}

func newBlockingRepo(repo *mockRepo, firstErr error) *blockingRepo {
	return &blockingRepo{
		mockRepo: repo,
		entered:  make(chan struct{}),
		unblock:  make(chan struct{}),
		firstErr: firstErr,
	}
}

func (b *blockingRepo) first() bool {
	if b.writes.Add(1) != 1 {
		return false
	}
	close(b.entered)
	<-b.unblock
	return true
}

func (b *blockingRepo) SettleItems(ctx context.Context, settlementID string, items []domain.CartItem) ([]domain.StockLevel, error) {
	if b.first() {
		return nil, b.firstErr
	}
	return b.mockRepo.SettleItems(ctx, settlementID, items)
}

func (b *blockingRepo) ConditionalDecrement(ctx context.Context, productID int64, amount int) (int64, error) {
	if b.first() {
		return 0, b.firstErr
	}
	return b.mockRepo.ConditionalDecrement(ctx, productID, amount)
}

// Mock PaymentProvider
type mockProvider struct {
	mu       sync.Mutex
	requests []domain.SessionRequest
	err      error
	calls    atomic.Int32
}

func (m *mockProvider) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error) {
	m.calls.Add(1)
	if m.err != nil {
		return domain.Session{}, m.err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return domain.Session{ID: "cs_test_1", RedirectURL: "https://pay.example.com/cs_test_1"}, nil
}

func (m *mockProvider) lastRequest() domain.SessionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// Mock EventPublisher
type mockPublisher struct {
	mu     sync.Mutex
	events []domain.StockSettledEvent
	err    error
}

func (m *mockPublisher) PublishSettled(ctx context.Context, event domain.StockSettledEvent) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func testProduct(id int64, name string, qty int, price string) domain.Product {
	return domain.Product{ID: id, Name: name, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func loadCache(t *testing.T, repo *mockRepo) *catalog.Cache {
	t.Helper()
	cache := catalog.NewCache(repo, nil)
	if _, err := cache.Load(context.Background()); err != nil {
		t.Fatalf("load cache: %v", err)
	}
	return cache
}

func cachedQuantity(cache *catalog.Cache, id int64) int {
	p, _ := cache.Get(id)
	return p.Quantity
}
