package strategy

import (
	"fmt"
	"math"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// MeanReversion buys when price sits far below its moving average and sells
// when far above, measured as a z-score over the last `period` prices.
type MeanReversion struct {
	params *params
}

func NewMeanReversion() *MeanReversion {
	return &MeanReversion{
		params: newParams(map[string]float64{
			"period":    20,
			"threshold": 1.5, // z-score that triggers a signal
		}),
	}
}

func (s *MeanReversion) Name() string {
	return string(domain.StrategyMeanReversion)
}

func (s *MeanReversion) Params() map[string]float64 {
	return s.params.snapshot()
}

func (s *MeanReversion) SetParams(p map[string]float64) error {
	return s.params.set(p, positive)
}

func (s *MeanReversion) Analyze(symbol string, recent, historical []domain.Tick) domain.Signal {
	last := lastTick(recent, historical)
	prices := series(recent, historical)
	period := int(s.params.get("period"))
	threshold := s.params.get("threshold")

	if period < 2 || len(prices) < period {
		return domain.HoldSignal(symbol, last.Timestamp)
	}

	window := prices[len(prices)-period:]
	mean, std := meanStd(window)
	if std == 0 {
		return domain.HoldSignal(symbol, last.Timestamp)
	}

	price := window[len(window)-1]
	z := (price - mean) / std
	signal := domain.HoldSignal(symbol, last.Timestamp)
	signal.Strategy = s.Name()

	// |z| == threshold maps to 50, twice the threshold to 100.
	confidence := clamp(math.Abs(z)/(2*threshold)*100, 0, 100)

	switch {
	case z <= -threshold:
		signal.Action = domain.ActionBuy
		signal.Confidence = confidence
		signal.Reason = fmt.Sprintf("price %.4f is %.2f std below SMA%d %.4f", price, -z, period, mean)
	case z >= threshold:
		signal.Action = domain.ActionSell
		signal.Confidence = confidence
		signal.Reason = fmt.Sprintf("price %.4f is %.2f std above SMA%d %.4f", price, z, period, mean)
	default:
		signal.Confidence = 0
	}
	return signal
}

func meanStd(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
