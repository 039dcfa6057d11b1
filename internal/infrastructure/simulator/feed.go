package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

var startPrices = map[string]float64{
	"BTCUSD": 65000,
	"ETHUSD": 3200,
	"SOLUSD": 150,
}

// Feed is a random-walk tick source for running without market data access.
type Feed struct {
	interval   time.Duration
	volatility float64 // per-tick standard deviation as a fraction of price
	rng        *rand.Rand

	prices    map[string]float64
	first     map[string]float64
	symbols   []string
	callbacks []func(domain.Tick)
	mu        sync.Mutex
}

func NewFeed(interval time.Duration, seed int64) *Feed {
	if interval <= 0 {
		interval = time.Second
	}
	return &Feed{
		interval:   interval,
		volatility: 0.001,
		rng:        rand.New(rand.NewSource(seed)),
		prices:     make(map[string]float64),
		first:      make(map[string]float64),
	}
}

func (f *Feed) OnTick(callback func(domain.Tick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

func (f *Feed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		if _, ok := f.prices[s]; ok {
			continue
		}
		p, ok := startPrices[s]
		if !ok {
			p = 100
		}
		f.prices[s] = p
		f.first[s] = p
		f.symbols = append(f.symbols, s)
	}
	return nil
}

func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.Step(time.Now())
		case <-ctx.Done():
			return nil
		}
	}
}

// Step advances every subscribed symbol by one random move and emits ticks.
func (f *Feed) Step(now time.Time) {
	f.mu.Lock()
	ticks := make([]domain.Tick, 0, len(f.symbols))
	for _, s := range f.symbols {
		p := f.prices[s] * (1 + f.rng.NormFloat64()*f.volatility)
		if p <= 0 {
			p = f.prices[s]
		}
		f.prices[s] = p

		first := f.first[s]
		ticks = append(ticks, domain.Tick{
			Symbol:        s,
			Price:         p,
			Timestamp:     now,
			Change:        p - first,
			ChangePercent: (p - first) / first * 100,
		})
	}
	callbacks := make([]func(domain.Tick), len(f.callbacks))
	copy(callbacks, f.callbacks)
	f.mu.Unlock()

	for _, t := range ticks {
		for _, cb := range callbacks {
			cb(t)
		}
	}
}
