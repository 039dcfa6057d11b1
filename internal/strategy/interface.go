package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// Strategy scores a symbol's tick history. Implementations are pure functions of
// the ticks passed in and answer a hold/0 signal when there is not enough data.
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Analyze returns the signal for symbol. historical holds the ticks that
	// precede recent; both are ordered oldest first.
	Analyze(symbol string, recent, historical []domain.Tick) domain.Signal

	Params() map[string]float64
	SetParams(params map[string]float64) error
}

// RiskSized is implemented by strategies whose orders are sized from account
// value and confidence instead of the fixed minimal quantity.
type RiskSized interface {
	RiskSized() bool
}

// params is a guarded set of named tunables shared by the built-in strategies.
type params struct {
	mu     sync.RWMutex
	values map[string]float64
}

func newParams(defaults map[string]float64) *params {
	values := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}
	return &params{values: values}
}

func (p *params) get(key string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.values[key]
}

func (p *params) snapshot() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// set applies updates atomically; unknown keys reject the whole update.
func (p *params) set(updates map[string]float64, validate func(key string, value float64) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, ok := p.values[k]; !ok {
			return fmt.Errorf("unknown parameter %q", k)
		}
		if validate != nil {
			if err := validate(k, updates[k]); err != nil {
				return err
			}
		}
	}
	for _, k := range keys {
		p.values[k] = updates[k]
	}
	return nil
}

func positive(key string, value float64) error {
	if value <= 0 {
		return fmt.Errorf("parameter %q must be positive, got %v", key, value)
	}
	return nil
}

// series joins historical and recent into one price slice, oldest first.
func series(recent, historical []domain.Tick) []float64 {
	prices := make([]float64, 0, len(historical)+len(recent))
	for _, t := range historical {
		prices = append(prices, t.Price)
	}
	for _, t := range recent {
		prices = append(prices, t.Price)
	}
	return prices
}

// lastTimestamp picks the signal time from the data so Analyze stays pure.
func lastTick(recent, historical []domain.Tick) domain.Tick {
	if len(recent) > 0 {
		return recent[len(recent)-1]
	}
	if len(historical) > 0 {
		return historical[len(historical)-1]
	}
	return domain.Tick{}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
