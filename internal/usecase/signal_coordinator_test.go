package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

func TestSignalCoordinator_Admit(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		signal domain.Signal
		want   bool
	}{
		{"strong buy", domain.Signal{Action: domain.ActionBuy, Confidence: 85}, true},
		{"strong sell", domain.Signal{Action: domain.ActionSell, Confidence: 70.5}, true},
		{"at threshold", domain.Signal{Action: domain.ActionBuy, Confidence: 70}, false},
		{"weak", domain.Signal{Action: domain.ActionBuy, Confidence: 40}, false},
		{"confident hold", domain.Signal{Action: domain.ActionHold, Confidence: 99}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.coordinator.Admit(tt.signal))
		})
	}
}

func TestSignalCoordinator_Size(t *testing.T) {
	h := newHarness(t)
	sig := domain.Signal{Action: domain.ActionBuy, Confidence: 80}

	qty, ok := h.coordinator.Size(sig, 50000, 10000, 5, false)
	assert.True(t, ok)
	assert.Equal(t, 0.001, qty)

	// 10000 * 0.02 * 0.8 / 50000 = 0.0032
	qty, ok = h.coordinator.Size(sig, 50000, 10000, 5, true)
	assert.True(t, ok)
	assert.InDelta(t, 0.0032, qty, 1e-12)

	// Risk level 10 doubles the fraction.
	qty, ok = h.coordinator.Size(sig, 50000, 10000, 10, true)
	assert.True(t, ok)
	assert.InDelta(t, 0.0064, qty, 1e-12)

	// Floors to the 0.0001 increment: 0.00533... -> 0.0053
	qty, ok = h.coordinator.Size(sig, 30000, 10000, 5, true)
	assert.True(t, ok)
	assert.InDelta(t, 0.0053, qty, 1e-12)

	_, ok = h.coordinator.Size(sig, 5_000_000, 10000, 5, true)
	assert.False(t, ok, "rounds to zero")

	_, ok = h.coordinator.Size(sig, 0, 10000, 5, false)
	assert.False(t, ok)
}

func TestSignalCoordinator_ExecuteBuy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sig := domain.Signal{Symbol: "ETHUSD", Action: domain.ActionBuy, Confidence: 85}

	exec, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 2500, domain.DefaultBotSettings("alice"), false)
	require.NoError(t, err)
	require.NotNil(t, exec)

	orders := h.broker.submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, "ETHUSD", orders[0].Symbol)
	assert.Equal(t, domain.SideBuy, orders[0].Side)
	assert.Greater(t, orders[0].Qty, 0.0)
	assert.Equal(t, domain.OrderTypeMarket, orders[0].Type)
	assert.Equal(t, domain.TimeInForceGTC, orders[0].TimeInForce)

	assert.Equal(t, 1, h.store.tradeCount())
	assert.Equal(t, "order-1", exec.Trade.OrderID)
	assert.Len(t, h.store.logsAt("alice", domain.LogTrade), 1)
}

func TestSignalCoordinator_SubmitFailureLeavesNoTrade(t *testing.T) {
	h := newHarness(t)
	h.broker.SubmitErr = &domain.BrokerError{Kind: domain.ErrOrderRejected, StatusCode: 422, Message: "insufficient balance"}
	sig := domain.Signal{Symbol: "ETHUSD", Action: domain.ActionBuy, Confidence: 85}

	exec, err := h.coordinator.Execute(context.Background(), "alice", h.broker, sig, 2500, domain.DefaultBotSettings("alice"), false)
	assert.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.Nil(t, exec)

	assert.Len(t, h.broker.submitted(), 1, "no retry")
	assert.Zero(t, h.store.tradeCount())
	assert.Len(t, h.store.logsAt("alice", domain.LogError), 1)
}

func TestSignalCoordinator_NoSubmitBelowThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, sig := range []domain.Signal{
		{Symbol: "BTCUSD", Action: domain.ActionBuy, Confidence: 70},
		{Symbol: "BTCUSD", Action: domain.ActionSell, Confidence: 10},
		{Symbol: "BTCUSD", Action: domain.ActionHold, Confidence: 100},
	} {
		exec, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 100, nil, false)
		assert.NoError(t, err)
		assert.Nil(t, exec)
	}
	assert.Empty(t, h.broker.submitted())
}

func TestSignalCoordinator_SellWithoutPositionSkipped(t *testing.T) {
	h := newHarness(t)
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionSell, Confidence: 90}

	exec, err := h.coordinator.Execute(context.Background(), "alice", h.broker, sig, 100, nil, false)
	assert.NoError(t, err)
	assert.Nil(t, exec)
	assert.Empty(t, h.broker.submitted())
	assert.Len(t, h.store.logsAt("alice", domain.LogWarning), 1)
}

func TestSignalCoordinator_SellCappedAtHolding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SavePosition(ctx, &domain.Position{UserID: "alice", Symbol: "BTCUSD", Qty: 0.0005, EntryPrice: 100}))
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionSell, Confidence: 90}

	_, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 100, nil, false)
	require.NoError(t, err)

	orders := h.broker.submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, 0.0005, orders[0].Qty)

	_, err = h.store.GetPosition(ctx, "alice", "BTCUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignalCoordinator_RiskSizingUsesCachedAccount(t *testing.T) {
	h := newHarness(t)
	h.accounts.Set("alice", &domain.Account{Equity: 20000})
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, Confidence: 100}

	_, err := h.coordinator.Execute(context.Background(), "alice", h.broker, sig, 40000, domain.DefaultBotSettings("alice"), true)
	require.NoError(t, err)

	assert.Zero(t, h.broker.accountCalls.Load())
	orders := h.broker.submitted()
	require.Len(t, orders, 1)
	// 20000 * 0.02 * 1.0 / 40000 = 0.01
	assert.InDelta(t, 0.01, orders[0].Qty, 1e-12)
}

func TestSignalCoordinator_BuyOpensPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sig := domain.Signal{Symbol: "ETHUSD", Action: domain.ActionBuy, Confidence: 85}

	exec, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 2500, domain.DefaultBotSettings("alice"), false)
	require.NoError(t, err)
	require.NotNil(t, exec.Position)
	assert.False(t, exec.PositionClosed)

	pos, err := h.store.GetPosition(ctx, "alice", "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, "alice", pos.UserID)
	assert.InDelta(t, 0.001, pos.Qty, 1e-12)
	assert.Equal(t, 2500.0, pos.EntryPrice)
	assert.Equal(t, 2500.0, pos.CurrentPrice)
}

func TestSignalCoordinator_BuyAveragesIntoPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SavePosition(ctx, &domain.Position{UserID: "alice", Symbol: "BTCUSD", Qty: 0.001, EntryPrice: 100}))
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionBuy, Confidence: 85}

	exec, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 200, nil, false)
	require.NoError(t, err)
	require.NotNil(t, exec.Position)

	pos, err := h.store.GetPosition(ctx, "alice", "BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 0.002, pos.Qty, 1e-12)
	assert.InDelta(t, 150, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 0.1, pos.UnrealizedPl, 1e-9)
}

func TestSignalCoordinator_PartialSellKeepsEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SavePosition(ctx, &domain.Position{UserID: "alice", Symbol: "BTCUSD", Qty: 0.003, EntryPrice: 100}))
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionSell, Confidence: 90}

	exec, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 120, nil, false)
	require.NoError(t, err)
	require.NotNil(t, exec.Position)

	pos, err := h.store.GetPosition(ctx, "alice", "BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 0.002, pos.Qty, 1e-12)
	assert.Equal(t, 100.0, pos.EntryPrice)
}

func TestSignalCoordinator_FullSellClosesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SavePosition(ctx, &domain.Position{UserID: "alice", Symbol: "BTCUSD", Qty: 0.001, EntryPrice: 100}))
	sig := domain.Signal{Symbol: "BTCUSD", Action: domain.ActionSell, Confidence: 85}

	exec, err := h.coordinator.Execute(ctx, "alice", h.broker, sig, 110, nil, false)
	require.NoError(t, err)
	assert.True(t, exec.PositionClosed)
	assert.Nil(t, exec.Position)

	_, err = h.store.GetPosition(ctx, "alice", "BTCUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The next sell finds nothing to sell.
	exec, err = h.coordinator.Execute(ctx, "alice", h.broker, sig, 110, nil, false)
	assert.NoError(t, err)
	assert.Nil(t, exec)
	assert.Len(t, h.broker.submitted(), 1)
}
