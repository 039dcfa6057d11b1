package strategy

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

const adaptiveLags = 3

// Adaptive scores the next move with a logistic model over the last three
// percentage returns. Weights are learned offline and loaded through SetParams.
type Adaptive struct {
	params *params
}

func NewAdaptive() *Adaptive {
	return &Adaptive{
		params: newParams(map[string]float64{
			"bias": 0,
			"w1":   0.8,
			"w2":   0.4,
			"w3":   0.2,
		}),
	}
}

func (s *Adaptive) Name() string {
	return string(domain.StrategyAdaptive)
}

func (s *Adaptive) Params() map[string]float64 {
	return s.params.snapshot()
}

func (s *Adaptive) SetParams(p map[string]float64) error {
	return s.params.set(p, func(key string, value float64) error {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("parameter %q must be finite", key)
		}
		return nil
	})
}

func (s *Adaptive) RiskSized() bool {
	return true
}

func (s *Adaptive) Analyze(symbol string, recent, historical []domain.Tick) domain.Signal {
	last := lastTick(recent, historical)
	prices := series(recent, historical)
	if len(prices) < adaptiveLags+1 {
		return domain.HoldSignal(symbol, last.Timestamp)
	}

	w := s.params.snapshot()
	z := w["bias"]
	n := len(prices)
	for lag := 1; lag <= adaptiveLags; lag++ {
		prev := prices[n-lag-1]
		if prev == 0 {
			return domain.HoldSignal(symbol, last.Timestamp)
		}
		ret := (prices[n-lag] - prev) / prev * 100
		z += w[fmt.Sprintf("w%d", lag)] * ret
	}
	p := 1 / (1 + math.Exp(-z))

	signal := domain.HoldSignal(symbol, last.Timestamp)
	signal.Strategy = s.Name()
	signal.Confidence = clamp(math.Abs(p-0.5)*200, 0, 100)
	switch {
	case p > 0.5:
		signal.Action = domain.ActionBuy
	case p < 0.5:
		signal.Action = domain.ActionSell
	default:
		signal.Confidence = 0
		return signal
	}
	signal.Reason = fmt.Sprintf("p(up)=%.3f", p)
	return signal
}
