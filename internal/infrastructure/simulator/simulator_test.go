package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

type prices struct {
	mu sync.Mutex
	m  map[string]float64
}

func (p *prices) Latest(symbol string) (domain.Tick, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[symbol]
	return domain.Tick{Symbol: symbol, Price: v}, ok
}

func (p *prices) set(symbol string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[symbol] = v
}

func TestBroker_BuySellLifecycle(t *testing.T) {
	px := &prices{m: map[string]float64{"BTCUSD": 100}}
	b := NewBroker(px, 1000)
	ctx := context.Background()

	order, err := b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Qty: 2, Side: domain.SideBuy, Type: domain.OrderTypeMarket})
	require.NoError(t, err)
	assert.Equal(t, "filled", order.Status)
	assert.Equal(t, 100.0, order.FilledAvgPrice)

	px.set("BTCUSD", 110)
	acc, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 800.0, acc.Cash)
	assert.Equal(t, 1020.0, acc.Equity)
	assert.Equal(t, 1000.0, acc.LastEquity)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 20.0, positions[0].UnrealizedPl)
	assert.InDelta(t, 10.0, positions[0].UnrealizedPlPerc, 1e-9)

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Qty: 5, Side: domain.SideSell})
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Qty: 1, Side: domain.SideSell})
	require.NoError(t, err)

	closed, err := b.ClosePosition(ctx, "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.0, closed.Qty)

	acc, _ = b.GetAccount(ctx)
	assert.Equal(t, 1020.0, acc.Cash)

	_, err = b.ClosePosition(ctx, "BTCUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBroker_Rejections(t *testing.T) {
	b := NewBroker(&prices{m: map[string]float64{"BTCUSD": 100}}, 50)
	ctx := context.Background()

	_, err := b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Qty: 1, Side: domain.SideBuy})
	assert.ErrorIs(t, err, domain.ErrOrderRejected, "insufficient balance")

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "ETHUSD", Qty: 0.1, Side: domain.SideBuy})
	assert.ErrorIs(t, err, domain.ErrOrderRejected, "no price")

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "BTCUSD", Qty: 0.1, Side: domain.SideBuy, Type: domain.OrderTypeLimit})
	assert.ErrorIs(t, err, domain.ErrOrderRejected)

	assert.ErrorIs(t, b.CancelOrder(ctx, "x"), domain.ErrNotFound)
}

func TestFeed_StepEmitsSubscribedSymbols(t *testing.T) {
	f := NewFeed(time.Second, 42)
	require.NoError(t, f.Subscribe([]string{"BTCUSD", "DOGEUSD"}))
	require.NoError(t, f.Subscribe([]string{"BTCUSD"}))

	var ticks []domain.Tick
	f.OnTick(func(tk domain.Tick) { ticks = append(ticks, tk) })

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.Step(now)
	f.Step(now.Add(time.Second))

	require.Len(t, ticks, 4)
	assert.Equal(t, "BTCUSD", ticks[0].Symbol)
	assert.Equal(t, "DOGEUSD", ticks[1].Symbol)
	assert.InDelta(t, 65000, ticks[0].Price, 65000*0.01)
	assert.InDelta(t, 100, ticks[1].Price, 1)
	assert.InDelta(t, ticks[2].Price-65000, ticks[2].Change, 1e-6)
	assert.Equal(t, now, ticks[0].Timestamp)
}

func TestFeed_RunStopsOnCancel(t *testing.T) {
	f := NewFeed(5*time.Millisecond, 1)
	require.NoError(t, f.Subscribe([]string{"ETHUSD"}))

	var mu sync.Mutex
	n := 0
	f.OnTick(func(domain.Tick) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
