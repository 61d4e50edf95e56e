package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

type settlementClaim struct {
	key   string
	token string
	owner bool
}

type SettlementService struct {
	catalog   Catalog
	repo      port.CatalogRepository
	ledger    port.SettlementLedger
	publisher port.EventPublisher
	mode      domain.SettlementMode
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewSettlementService(
	catalog Catalog,
	repo port.CatalogRepository,
	ledger port.SettlementLedger,
	publisher port.EventPublisher,
	mode domain.SettlementMode,
	m *metrics.Metrics,
) *SettlementService {
	if mode == "" {
		mode = domain.SettlementModeAtomic
	}
	return &SettlementService{
		catalog:   catalog,
		repo:      repo,
		ledger:    ledger,
		publisher: publisher,
		mode:      mode,
		metrics:   m,
		now:       time.Now,
	}
}

// Settle decrements stock for a paid cart. sessionID is the provider's
// session handle; when empty the cart contents identify the settlement.
// A settlement that was already applied returns a result tagged
// AlreadySettled and touches nothing. A settlement still running elsewhere
// returns ErrSettlementInProgress in per_item mode; atomic mode retries
// through the store, which rejects a committed duplicate.
func (s *SettlementService) Settle(ctx context.Context, sessionID string, purchased []domain.CartItem) (_ domain.SettlementResult, err error) {
	// money has moved: run to a terminal result even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ctx, span := tracer().Start(ctx, "Settlement.Settle")
	defer func() { endSpan(span, err) }()

	items, err := domain.NormalizeCart(purchased)
	if err != nil {
		s.metrics.Settlement("invalid_cart", time.Since(start))
		return domain.SettlementResult{}, err
	}

	key := sessionID
	if key == "" {
		key = domain.CartKey(items)
	}
	span.SetAttributes(
		attribute.String("settlement.id", key),
		attribute.String("settlement.mode", string(s.mode)),
	)

	logger := logging.FromContext(ctx).With(
		zap.String("use_case", "settlement.settle"),
		zap.String("settlement_id", key),
	)

	if sessionID == "" {
		logger.Warn("settlement_keyed_by_cart", zap.Bool("money_moved", true))
	}

	claim := settlementClaim{key: key, token: uuid.NewString()}
	state, err := s.ledger.Claim(ctx, key, claim.token)
	if err != nil {
		s.metrics.Settlement("store_error", time.Since(start))
		logger.Error("settlement_ledger_failed", zap.Error(err), zap.Bool("money_moved", true))
		return domain.SettlementResult{}, fmt.Errorf("%w: claim settlement: %w", domain.ErrStore, err)
	}

	switch state {
	case domain.ClaimDone:
		s.metrics.Settlement("already_settled", time.Since(start))
		logger.Info("settlement_already_settled")
		return s.alreadySettled(key, items), nil
	case domain.ClaimPending:
		// per-item decrements have no durable replay guard
		if s.mode == domain.SettlementModePerItem {
			s.metrics.Settlement("in_progress", time.Since(start))
			logger.Warn("settlement_in_progress", zap.Bool("money_moved", true))
			return domain.SettlementResult{}, domain.ErrSettlementInProgress
		}
		logger.Info("settlement_claim_pending", zap.String("source", "ledger"))
	default:
		claim.owner = true
	}

	// a pending attempt may already have taken the stock
	if err := s.precheck(items, claim.owner); err != nil {
		s.release(ctx, claim, logger)
		s.fail(logger, err, start)
		return domain.SettlementResult{}, err
	}

	var levels []domain.StockLevel
	switch s.mode {
	case domain.SettlementModePerItem:
		levels, err = s.settlePerItem(ctx, claim, items, logger)
	default:
		levels, err = s.settleAtomic(ctx, claim, items, logger)
	}
	if errors.Is(err, domain.ErrAlreadySettled) {
		s.complete(ctx, key, logger)
		s.metrics.Settlement("already_settled", time.Since(start))
		logger.Info("settlement_already_settled", zap.String("source", "store"))
		return s.alreadySettled(key, items), nil
	}
	if err != nil {
		s.fail(logger, err, start)
		return domain.SettlementResult{}, err
	}
	s.complete(ctx, key, logger)

	result := domain.SettlementResult{
		SettlementID: key,
		Items:        items,
		Levels:       levels,
		SettledAt:    s.now(),
	}
	s.publish(ctx, result, logger)

	s.metrics.Settlement("success", time.Since(start))
	logger.Info("settlement_completed", zap.Int("items", len(items)))
	return result, nil
}

// precheck compares every item against the cache. Failing here means the
// optimistic checkout check went stale before payment completed.
func (s *SettlementService) precheck(items []domain.CartItem, checkStock bool) error {
	for _, item := range items {
		p, ok := s.catalog.Get(item.ProductID)
		if !ok {
			return domain.NewProductError(item.ProductID, domain.ErrUnknownProduct)
		}
		if checkStock && item.Quantity > p.Quantity {
			return domain.NewProductError(item.ProductID, domain.ErrOversoldAtSettlement)
		}
	}
	return nil
}

// settleAtomic applies every decrement in one store transaction, then
// reconciles the cache with the quantities read back inside it.
func (s *SettlementService) settleAtomic(ctx context.Context, claim settlementClaim, items []domain.CartItem, logger *zap.Logger) ([]domain.StockLevel, error) {
	levels, err := s.repo.SettleItems(ctx, claim.key, domain.SortedByProduct(items))
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadySettled) {
			s.release(ctx, claim, logger)
		}
		return nil, err
	}

	for _, level := range levels {
		if _, err := s.catalog.Reconcile(level); err != nil {
			logger.Warn("settlement_cache_reconcile_failed", zap.Int64("product_id", level.ProductID), zap.Error(err))
		}
	}
	return levels, nil
}

// settlePerItem runs one conditional decrement per item concurrently. Items
// commit independently; the first failure is reported and earlier successes
// stay applied.
func (s *SettlementService) settlePerItem(ctx context.Context, claim settlementClaim, items []domain.CartItem, logger *zap.Logger) ([]domain.StockLevel, error) {
	levels := make([]domain.StockLevel, len(items))
	var applied atomic.Int32

	var g errgroup.Group
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			rows, err := s.repo.ConditionalDecrement(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if rows == 0 {
				return domain.NewProductError(item.ProductID, domain.ErrConcurrentOversell)
			}
			applied.Add(1)

			levels[i] = s.reconcileAfterWrite(ctx, item, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if applied.Load() == 0 {
			s.release(ctx, claim, logger)
		} else {
			logger.Error("settlement_partially_applied",
				zap.Int32("applied_items", applied.Load()),
				zap.Int("total_items", len(items)),
				zap.Bool("money_moved", true),
			)
		}
		return nil, err
	}
	return levels, nil
}

// reconcileAfterWrite re-reads the authoritative quantity. If the read fails
// the cache falls back to subtracting the amount, which is safe because the
// conditional update affected exactly one row.
func (s *SettlementService) reconcileAfterWrite(ctx context.Context, item domain.CartItem, logger *zap.Logger) domain.StockLevel {
	qty, err := s.repo.GetQuantity(ctx, item.ProductID)
	if err == nil {
		level := domain.StockLevel{ProductID: item.ProductID, Quantity: qty}
		if _, err := s.catalog.Reconcile(level); err != nil {
			logger.Warn("settlement_cache_reconcile_failed", zap.Int64("product_id", item.ProductID), zap.Error(err))
		}
		return level
	}

	logger.Warn("settlement_reread_failed", zap.Int64("product_id", item.ProductID), zap.Error(err))
	p, derr := s.catalog.ApplyDecrement(item.ProductID, item.Quantity)
	if derr != nil {
		logger.Warn("settlement_cache_decrement_failed", zap.Int64("product_id", item.ProductID), zap.Error(derr))
	}
	return domain.StockLevel{ProductID: item.ProductID, Quantity: p.Quantity}
}

// release drops the pending claim so the settlement can be retried. Only the
// attempt that acquired the claim may drop it.
func (s *SettlementService) release(ctx context.Context, claim settlementClaim, logger *zap.Logger) {
	if !claim.owner {
		return
	}
	if err := s.ledger.Release(ctx, claim.key, claim.token); err != nil {
		logger.Error("settlement_ledger_release_failed", zap.Error(err))
	}
}

func (s *SettlementService) complete(ctx context.Context, key string, logger *zap.Logger) {
	if err := s.ledger.Complete(ctx, key); err != nil {
		logger.Warn("settlement_ledger_complete_failed", zap.Error(err))
	}
}

func (s *SettlementService) fail(logger *zap.Logger, err error, start time.Time) {
	outcome := "store_error"
	msg := "settlement_failed"
	switch {
	case errors.Is(err, domain.ErrUnknownProduct):
		outcome, msg = "unknown_product", "settlement_unknown_product"
	case errors.Is(err, domain.ErrOversoldAtSettlement):
		outcome, msg = "oversold", "settlement_oversold"
	case errors.Is(err, domain.ErrConcurrentOversell):
		outcome, msg = "concurrent_oversell", "settlement_concurrent_oversell"
	}

	fields := []zap.Field{zap.Error(err), zap.Bool("money_moved", true)}
	if id, ok := domain.ProductIDOf(err); ok {
		fields = append(fields, zap.Int64("product_id", id))
	}
	logger.Error(msg, fields...)
	s.metrics.Settlement(outcome, time.Since(start))
}

func (s *SettlementService) publish(ctx context.Context, result domain.SettlementResult, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}

	event := domain.StockSettledEvent{
		EventID:      uuid.NewString(),
		SettlementID: result.SettlementID,
		Items:        result.Items,
		Levels:       result.Levels,
		Timestamp:    result.SettledAt,
	}
	if err := s.publisher.PublishSettled(ctx, event); err != nil {
		s.metrics.EventPublishFailed()
		logger.Error("settlement_event_publish_failed", zap.String("event_id", event.EventID), zap.Error(err))
	}
}

func (s *SettlementService) alreadySettled(key string, items []domain.CartItem) domain.SettlementResult {
	return domain.SettlementResult{
		SettlementID:   key,
		Items:          items,
		AlreadySettled: true,
		SettledAt:      s.now(),
	}
}
