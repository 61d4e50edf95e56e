package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCart          = errors.New("invalid cart")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrUnknownProduct       = errors.New("unknown product")
	ErrOversoldAtSettlement = errors.New("oversold at settlement")
	ErrConcurrentOversell   = errors.New("concurrent oversell")
	ErrPaymentProvider      = errors.New("payment provider error")
	ErrStore                = errors.New("store error")
	ErrAlreadySettled       = errors.New("already settled")
	ErrSettlementInProgress = errors.New("settlement in progress")

	// cache-level failures
	ErrNotFound          = errors.New("product not found")
	ErrInsufficientCache = errors.New("insufficient cached quantity")
)

// ProductError ties a failure to the product that caused it.
type ProductError struct {
	ProductID int64
	Err       error
}

func NewProductError(productID int64, err error) *ProductError {
	return &ProductError{ProductID: productID, Err: err}
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %d: %v", e.ProductID, e.Err)
}

func (e *ProductError) Unwrap() error { return e.Err }

type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return "payment provider: " + e.Message
}

func (e *ProviderError) Unwrap() error { return ErrPaymentProvider }

// ProductIDOf extracts the product id from err when it carries one.
func ProductIDOf(err error) (int64, bool) {
	var pe *ProductError
	if errors.As(err, &pe) {
		return pe.ProductID, true
	}
	return 0, false
}
