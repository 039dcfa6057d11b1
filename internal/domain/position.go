package domain

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Position is a user's open holding in one symbol.
type Position struct {
	UserID           string    `json:"userId"`
	Symbol           string    `json:"symbol"`
	Qty              float64   `json:"qty"`
	EntryPrice       float64   `json:"entryPrice"`
	CurrentPrice     float64   `json:"currentPrice"`
	MarketValue      float64   `json:"marketValue"`
	UnrealizedPl     float64   `json:"unrealizedPl"`
	UnrealizedPlPerc float64   `json:"unrealizedPlPerc"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Reprice marks the position to price and recomputes the derived fields.
func (p *Position) Reprice(price float64, now time.Time) {
	p.CurrentPrice = price
	p.MarketValue = p.Qty * price
	p.UnrealizedPl = p.Qty * (price - p.EntryPrice)
	if p.EntryPrice != 0 {
		p.UnrealizedPlPerc = (price - p.EntryPrice) / p.EntryPrice * 100
	} else {
		p.UnrealizedPlPerc = 0
	}
	p.UpdatedAt = now
}

// Trade is an append-only record of a submitted order.
type Trade struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	OrderType string    `json:"orderType"`
	Status    string    `json:"status"`
	OrderID   string    `json:"orderId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
