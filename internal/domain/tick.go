package domain

import "time"

// Tick is one timestamped market observation for a symbol.
type Tick struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
}

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal is a strategy's recommended action and its confidence (0-100).
type Signal struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// HoldSignal is the "not enough data" sentinel.
func HoldSignal(symbol string, now time.Time) Signal {
	return Signal{
		Symbol:     symbol,
		Action:     ActionHold,
		Confidence: 0,
		Timestamp:  now,
	}
}

func (s Signal) IsHold() bool {
	return s.Action == ActionHold || s.Action == ""
}
