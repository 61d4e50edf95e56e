package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

type CartItem struct {
	ProductID int64 `json:"id"`
	Quantity  int   `json:"quantity"`
}

type AvailabilityResult struct {
	ProductID int64 `json:"id"`
	Available bool  `json:"available"`
}

// NormalizeCart merges repeated product ids and rejects empty carts or
// non-positive quantities. First-occurrence order is kept.
func NormalizeCart(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidCart)
	}

	index := make(map[int64]int, len(items))
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for product %d", ErrInvalidCart, item.Quantity, item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out, nil
}

func EncodeCart(items []CartItem) (string, error) {
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode cart: %w", err)
	}
	return string(b), nil
}

func DecodeCart(raw string) ([]CartItem, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing items", ErrInvalidCart)
	}
	var items []CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}
	return items, nil
}

// CartKey identifies a cart independently of item order. Used as the
// settlement key when the provider did not hand back a session id.
func CartKey(items []CartItem) string {
	b, _ := json.Marshal(SortedByProduct(items))
	sum := sha256.Sum256(b)
	return "cart:" + hex.EncodeToString(sum[:])
}

// SortedByProduct returns a copy ordered by product id, which keeps row lock
// order stable across concurrent settlements.
func SortedByProduct(items []CartItem) []CartItem {
	sorted := make([]CartItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	return sorted
}
