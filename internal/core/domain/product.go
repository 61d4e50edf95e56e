package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Tag         string          `db:"tag" json:"tag"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Quantity    int             `db:"quantity" json:"quantity"` // authoritative copy lives in the store
	Image       string          `db:"image" json:"image"`
	Link        string          `db:"link" json:"link"`
	// InCart is the storefront's per-shopper cart counter; the server always sends 0
	InCart int `db:"-" json:"inCart"`
}

type StockLevel struct {
	ProductID int64 `db:"id" json:"id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}
