package strategy

import (
	"fmt"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// RSI is the relative strength oscillator: buy oversold, sell overbought.
type RSI struct {
	params *params
}

func NewRSI() *RSI {
	return &RSI{
		params: newParams(map[string]float64{
			"period":     14,
			"oversold":   30,
			"overbought": 70,
		}),
	}
}

func (s *RSI) Name() string {
	return string(domain.StrategyRSI)
}

func (s *RSI) Params() map[string]float64 {
	return s.params.snapshot()
}

func (s *RSI) SetParams(p map[string]float64) error {
	return s.params.set(p, func(key string, value float64) error {
		if key == "period" {
			return positive(key, value)
		}
		if value <= 0 || value >= 100 {
			return fmt.Errorf("parameter %q must be within (0,100), got %v", key, value)
		}
		return nil
	})
}

func (s *RSI) Analyze(symbol string, recent, historical []domain.Tick) domain.Signal {
	last := lastTick(recent, historical)
	prices := series(recent, historical)
	period := int(s.params.get("period"))

	if period < 1 || len(prices) < period+1 {
		return domain.HoldSignal(symbol, last.Timestamp)
	}

	rsi := relativeStrength(prices[len(prices)-period-1:])
	oversold := s.params.get("oversold")
	overbought := s.params.get("overbought")

	signal := domain.HoldSignal(symbol, last.Timestamp)
	signal.Strategy = s.Name()
	switch {
	case rsi <= oversold:
		signal.Action = domain.ActionBuy
		signal.Confidence = clamp(50+(oversold-rsi)/oversold*50, 0, 100)
		signal.Reason = fmt.Sprintf("RSI%d %.1f <= %.0f", period, rsi, oversold)
	case rsi >= overbought:
		signal.Action = domain.ActionSell
		signal.Confidence = clamp(50+(rsi-overbought)/(100-overbought)*50, 0, 100)
		signal.Reason = fmt.Sprintf("RSI%d %.1f >= %.0f", period, rsi, overbought)
	}
	return signal
}

// relativeStrength computes a simple-average RSI over consecutive price changes.
func relativeStrength(prices []float64) float64 {
	var gains, losses float64
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
