package strategy

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// Momentum follows the rate of change over a lookback window.
type Momentum struct {
	params *params
}

func NewMomentum() *Momentum {
	return &Momentum{
		params: newParams(map[string]float64{
			"lookback":  10,
			"threshold": 0.5, // percent
		}),
	}
}

func (s *Momentum) Name() string {
	return string(domain.StrategyMomentum)
}

func (s *Momentum) Params() map[string]float64 {
	return s.params.snapshot()
}

func (s *Momentum) SetParams(p map[string]float64) error {
	return s.params.set(p, positive)
}

func (s *Momentum) Analyze(symbol string, recent, historical []domain.Tick) domain.Signal {
	last := lastTick(recent, historical)
	prices := series(recent, historical)
	lookback := int(s.params.get("lookback"))
	threshold := s.params.get("threshold")

	if lookback < 1 || len(prices) <= lookback {
		return domain.HoldSignal(symbol, last.Timestamp)
	}

	base := prices[len(prices)-1-lookback]
	if base == 0 {
		return domain.HoldSignal(symbol, last.Timestamp)
	}
	price := prices[len(prices)-1]
	roc := (price - base) / base * 100

	signal := domain.HoldSignal(symbol, last.Timestamp)
	signal.Strategy = s.Name()
	if math.Abs(roc) < threshold {
		return signal
	}

	signal.Confidence = clamp(50+(math.Abs(roc)-threshold)/threshold*25, 0, 100)
	if roc > 0 {
		signal.Action = domain.ActionBuy
	} else {
		signal.Action = domain.ActionSell
	}
	signal.Reason = fmt.Sprintf("rate of change %.2f%% over %d ticks", roc, lookback)
	return signal
}
