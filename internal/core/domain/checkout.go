package domain

import "time"

// SessionIDPlaceholder is substituted by the payment provider with the
// session id when it redirects to the success URL.
const SessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

type LineItem struct {
	Currency        string
	ProductName     string
	UnitAmountMinor int64
	Quantity        int64
}

type SessionRequest struct {
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
}

type Session struct {
	ID          string
	RedirectURL string
}

type CheckoutURLs struct {
	SuccessURL string // base of the success page, cart and session id are appended
	CancelURL  string
}

type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	Items       []CartItem
	CreatedAt   time.Time
}
