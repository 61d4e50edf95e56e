package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
)

type ledgerEntry struct {
	state   domain.ClaimState
	token   string
	expires time.Time
}

// MemoryLedger keeps claims in process memory. It is used when no Redis is
// configured; the settlements table still rejects replays across restarts.
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]ledgerEntry
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		claims: make(map[string]ledgerEntry),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryLedger) Claim(ctx context.Context, key, token string) (domain.ClaimState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.claims[key]; ok && now.Before(entry.expires) {
		if entry.state == domain.ClaimDone {
			return domain.ClaimDone, nil
		}
		return domain.ClaimPending, nil
	}
	m.claims[key] = ledgerEntry{state: domain.ClaimPending, token: token, expires: now.Add(pendingTTL(m.ttl))}
	m.sweep(now)
	return domain.ClaimAcquired, nil
}

func (m *MemoryLedger) Complete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[key] = ledgerEntry{state: domain.ClaimDone, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryLedger) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.claims[key]; ok && entry.state == domain.ClaimPending && entry.token == token {
		delete(m.claims, key)
	}
	return nil
}

// sweep drops expired claims; caller holds mu.
func (m *MemoryLedger) sweep(now time.Time) {
	for key, entry := range m.claims {
		if !now.Before(entry.expires) {
			delete(m.claims, key)
		}
	}
}
