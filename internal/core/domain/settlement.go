package domain

import "time"

type SettlementMode string

const (
	SettlementModeAtomic  SettlementMode = "atomic"
	SettlementModePerItem SettlementMode = "per_item"
)

// ClaimState is the ledger's view of a settlement key.
type ClaimState int

const (
	// ClaimAcquired means the caller now owns the settlement
	ClaimAcquired ClaimState = iota
	// ClaimPending means another attempt holds the key and has not finished
	ClaimPending
	// ClaimDone means the settlement committed
	ClaimDone
)

func (c ClaimState) String() string {
	switch c {
	case ClaimAcquired:
		return "acquired"
	case ClaimPending:
		return "pending"
	case ClaimDone:
		return "done"
	}
	return "unknown"
}

type SettlementResult struct {
	SettlementID   string
	Items          []CartItem
	Levels         []StockLevel
	AlreadySettled bool
	SettledAt      time.Time
}

type StockSettledEvent struct {
	EventID      string       `json:"eventId"`
	SettlementID string       `json:"settlementId"`
	Items        []CartItem   `json:"items"`
	Levels       []StockLevel `json:"levels"`
	Timestamp    time.Time    `json:"timestamp"`
}
