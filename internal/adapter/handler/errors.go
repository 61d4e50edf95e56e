package handler

import (
	"errors"
	"net/http"

	"github.com/rl1809/storefront/internal/core/domain"
)

// errorCode names err for API clients. The order matters: a ProductError
// wraps one of the sentinels below.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCart):
		return "INVALID_CART"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, domain.ErrUnknownProduct):
		return "UNKNOWN_PRODUCT"
	case errors.Is(err, domain.ErrOversoldAtSettlement):
		return "OVERSOLD_AT_SETTLEMENT"
	case errors.Is(err, domain.ErrConcurrentOversell):
		return "CONCURRENT_OVERSELL"
	case errors.Is(err, domain.ErrSettlementInProgress):
		return "SETTLEMENT_IN_PROGRESS"
	case errors.Is(err, domain.ErrPaymentProvider):
		return "PAYMENT_PROVIDER_ERROR"
	case errors.Is(err, domain.ErrStore):
		return "STORE_ERROR"
	default:
		return "INTERNAL"
	}
}

// checkoutStatus maps a checkout failure to an HTTP status. Anything the
// shopper can fix by changing the cart is a 400.
func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCart),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrUnknownProduct):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// settlementStatus maps a settlement failure to an HTTP status. An attempt
// still running elsewhere is a 409 the shopper can retry by reloading.
func settlementStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCart):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSettlementInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides store and unexpected failures behind a generic text.
func publicMessage(err error) string {
	switch errorCode(err) {
	case "STORE_ERROR", "INTERNAL":
		return "internal error"
	case "INSUFFICIENT_STOCK":
		return "Insufficient stock for some items"
	default:
		return err.Error()
	}
}
