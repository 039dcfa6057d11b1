package domain

import "time"

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"

	TimeInForceGTC = "gtc"
	TimeInForceIOC = "ioc"
)

// Account is the broker account snapshot.
type Account struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buyingPower"`
	Equity         float64 `json:"equity"`
	LastEquity     float64 `json:"lastEquity"`
	PortfolioValue float64 `json:"portfolioValue"`
}

// OrderRequest is what the core hands to the broker.
type OrderRequest struct {
	Symbol      string   `json:"symbol"`
	Qty         float64  `json:"qty"`
	Side        Side     `json:"side"`
	Type        string   `json:"type"`
	TimeInForce string   `json:"time_in_force"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	StopPrice   *float64 `json:"stop_price,omitempty"`
}

// OrderResponse is the broker acknowledgement for a submitted order.
type OrderResponse struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	Qty            float64   `json:"qty"`
	FilledQty      float64   `json:"filled_qty"`
	FilledAvgPrice float64   `json:"filled_avg_price"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
