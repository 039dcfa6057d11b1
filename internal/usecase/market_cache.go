package usecase

import (
	"sort"
	"sync"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// MarketCache holds the latest tick per symbol plus a bounded history used to
// build strategy windows.
type MarketCache struct {
	latest      map[string]domain.Tick
	history     map[string][]domain.Tick // Symbol -> ticks, oldest first
	historySize int
	mu          sync.RWMutex
}

func NewMarketCache(historySize int) *MarketCache {
	if historySize <= 0 {
		historySize = 200
	}
	return &MarketCache{
		latest:      make(map[string]domain.Tick),
		history:     make(map[string][]domain.Tick),
		historySize: historySize,
	}
}

func (c *MarketCache) Update(tick domain.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest[tick.Symbol] = tick

	h := append(c.history[tick.Symbol], tick)
	if len(h) > c.historySize {
		// Copy down instead of reslicing so the backing array does not grow forever.
		trimmed := make([]domain.Tick, c.historySize, c.historySize+1)
		copy(trimmed, h[len(h)-c.historySize:])
		h = trimmed
	}
	c.history[tick.Symbol] = h
}

func (c *MarketCache) Latest(symbol string) (domain.Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.latest[symbol]
	return t, ok
}

// Window splits the symbol history into the last n ticks and everything before
// them. Both slices are copies.
func (c *MarketCache) Window(symbol string, n int) (recent, historical []domain.Tick) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.history[symbol]
	if n < 0 {
		n = 0
	}
	if n > len(h) {
		n = len(h)
	}
	split := len(h) - n

	historical = make([]domain.Tick, split)
	copy(historical, h[:split])
	recent = make([]domain.Tick, n)
	copy(recent, h[split:])
	return recent, historical
}

func (c *MarketCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	symbols := make([]string, 0, len(c.latest))
	for s := range c.latest {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
