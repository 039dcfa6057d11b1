package domain

import "time"

// PerformanceMetrics is a derived per-user snapshot. It is never authoritative:
// it is always recomputed from the account snapshot and current positions.
type PerformanceMetrics struct {
	UserID           string    `json:"userId"`
	TotalValue       float64   `json:"totalValue"`
	Cash             float64   `json:"cash"`
	BuyingPower      float64   `json:"buyingPower"`
	UnrealizedPl     float64   `json:"unrealizedPl"`
	UnrealizedPlPerc float64   `json:"unrealizedPlPerc"`
	DailyPl          float64   `json:"dailyPl"`
	DailyPlPerc      float64   `json:"dailyPlPerc"`
	OpenPositions    int       `json:"openPositions"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func ComputeMetrics(userID string, account *Account, positions []*Position, now time.Time) *PerformanceMetrics {
	m := &PerformanceMetrics{
		UserID:    userID,
		UpdatedAt: now,
	}

	var costBasis float64
	for _, p := range positions {
		if p == nil || p.Qty == 0 {
			continue
		}
		m.OpenPositions++
		m.UnrealizedPl += p.UnrealizedPl
		costBasis += p.Qty * p.EntryPrice
	}
	if costBasis != 0 {
		m.UnrealizedPlPerc = m.UnrealizedPl / costBasis * 100
	}

	if account != nil {
		m.TotalValue = account.Equity
		m.Cash = account.Cash
		m.BuyingPower = account.BuyingPower
		if account.LastEquity != 0 {
			m.DailyPl = account.Equity - account.LastEquity
			m.DailyPlPerc = m.DailyPl / account.LastEquity * 100
		}
	}
	return m
}
