package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Mock Loader
type mockLoader struct {
	mu       sync.Mutex
	products []domain.Product
	err      error
	calls    atomic.Int32
}

func (m *mockLoader) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Product, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *mockLoader) set(products []domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
}

func newLoadedCache(t *testing.T, products ...domain.Product) (*Cache, *mockLoader) {
	t.Helper()
	loader := &mockLoader{products: products}
	cache := NewCache(loader, nil)
	if _, err := cache.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return cache, loader
}

func product(id int64, qty int, price string) domain.Product {
	return domain.Product{ID: id, Name: "product", Quantity: qty, Price: decimal.RequireFromString(price)}
}

func TestLoad_ReplacesSnapshot(t *testing.T) {
	cache, loader := newLoadedCache(t, product(1, 5, "10.00"), product(2, 0, "3.50"))

	if cache.Len() != 2 {
		t.Fatalf("expected 2 products, got %d", cache.Len())
	}

	loader.set([]domain.Product{product(3, 1, "1.00")})
	snapshot, err := cache.Load(context.Background())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(snapshot) != 1 {
		t.Errorf("expected snapshot of 1, got %d", len(snapshot))
	}
	if _, ok := cache.Get(1); ok {
		t.Error("expected product 1 to be gone after reload")
	}
	if _, ok := cache.Get(3); !ok {
		t.Error("expected product 3 after reload")
	}
	if cache.LoadedAt().IsZero() {
		t.Error("expected load time to be recorded")
	}
}

func TestLoad_ErrorKeepsPreviousSnapshot(t *testing.T) {
	cache, loader := newLoadedCache(t, product(1, 5, "10.00"))

	loader.err = errors.New("connection refused")
	if _, err := cache.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}

	if _, ok := cache.Get(1); !ok {
		t.Error("expected previous snapshot to survive a failed load")
	}
}

func TestLoad_ClampsNegativeQuantity(t *testing.T) {
	cache, _ := newLoadedCache(t, product(1, -3, "10.00"))

	p, _ := cache.Get(1)
	if p.Quantity != 0 {
		t.Errorf("expected quantity clamped to 0, got %d", p.Quantity)
	}
}

func TestApplyDecrement(t *testing.T) {
	cache, _ := newLoadedCache(t, product(1, 5, "10.00"))

	p, err := cache.ApplyDecrement(1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Quantity != 2 {
		t.Errorf("expected quantity 2, got %d", p.Quantity)
	}

	if _, err := cache.ApplyDecrement(1, 3); !errors.Is(err, domain.ErrInsufficientCache) {
		t.Errorf("expected ErrInsufficientCache, got: %v", err)
	}
	got, _ := cache.Get(1)
	if got.Quantity != 2 {
		t.Errorf("expected quantity unchanged at 2, got %d", got.Quantity)
	}

	if _, err := cache.ApplyDecrement(99, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestReconcile(t *testing.T) {
	cache, _ := newLoadedCache(t, product(1, 5, "10.00"))

	p, err := cache.Reconcile(domain.StockLevel{ProductID: 1, Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Quantity != 1 {
		t.Errorf("expected quantity 1, got %d", p.Quantity)
	}
	if !p.Price.Equal(decimal.RequireFromString("10.00")) {
		t.Errorf("expected price untouched, got %s", p.Price)
	}

	if _, err := cache.Reconcile(domain.StockLevel{ProductID: 2, Quantity: 1}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	cache, _ := newLoadedCache(t, product(1, 1000, "10.00"), product(2, 1000, "5.00"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cache.ApplyDecrement(1, 1)
		}()
		go func() {
			defer wg.Done()
			if p, ok := cache.Get(1); ok && p.Quantity < 0 {
				t.Errorf("observed negative quantity %d", p.Quantity)
			}
			cache.Get(2)
		}()
	}
	wg.Wait()

	p, _ := cache.Get(1)
	if p.Quantity != 950 {
		t.Errorf("expected quantity 950, got %d", p.Quantity)
	}
}

func TestRun_ReloadsPeriodically(t *testing.T) {
	cache, loader := newLoadedCache(t, product(1, 5, "10.00"))
	loader.set([]domain.Product{product(1, 4, "10.00")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cache.Run(ctx, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := cache.Get(1); p.Quantity == 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("expected nil from Run, got: %v", err)
	}
	if p, _ := cache.Get(1); p.Quantity != 4 {
		t.Errorf("expected refreshed quantity 4, got %d", p.Quantity)
	}
	if loader.calls.Load() < 2 {
		t.Errorf("expected at least 2 loads, got %d", loader.calls.Load())
	}
}
