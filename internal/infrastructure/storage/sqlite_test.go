package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_bot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_BotSettingsDefaultAndUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings, err := store.GetBotSettings(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, settings.IsActive)
	assert.Equal(t, domain.FrequencyMedium, settings.TradingFrequency)

	settings.IsActive = true
	settings.TradingFrequency = domain.FrequencyHigh
	settings.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.SaveBotSettings(ctx, settings))

	got, err := store.GetBotSettings(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, domain.FrequencyHigh, got.TradingFrequency)

	active, err := store.ListActiveBotSettings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "u1", active[0].UserID)
}

func TestSQLiteStore_PositionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPosition(ctx, "u1", "BTCUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pos := &domain.Position{UserID: "u1", Symbol: "BTCUSD", Qty: 1, EntryPrice: 100}
	pos.Reprice(105, time.Now().UTC())
	require.NoError(t, store.SavePosition(ctx, pos))

	pos.Reprice(95, time.Now().UTC())
	require.NoError(t, store.SavePosition(ctx, pos))

	got, err := store.GetPosition(ctx, "u1", "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 95.0, got.CurrentPrice)
	assert.InDelta(t, -5, got.UnrealizedPl, 1e-9)

	list, err := store.ListPositions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeletePosition(ctx, "u1", "BTCUSD"))
	list, err = store.ListPositions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLiteStore_TradesAndLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveTrade(ctx, &domain.Trade{
			ID: string(rune('a' + i)), UserID: "u1", Symbol: "ETHUSD", Side: domain.SideBuy,
			Qty: 1, Price: 2000, OrderType: domain.OrderTypeMarket, Status: "accepted",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	trades, err := store.ListTrades(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "c", trades[0].ID)

	require.NoError(t, store.SaveLog(ctx, &domain.SystemLog{ID: "l1", UserID: "u1", Level: domain.LogError, Message: "boom", Timestamp: base}))
	logs, err := store.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.LogError, logs[0].Level)

	require.NoError(t, store.ClearLogs(ctx, "u1"))
	logs, err = store.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSQLiteStore_MetricsAndCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetMetrics(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.SaveMetrics(ctx, &domain.PerformanceMetrics{UserID: "u1", TotalValue: 10000, OpenPositions: 2, UpdatedAt: time.Now().UTC()}))
	m, err := store.GetMetrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, m.TotalValue)
	assert.Equal(t, 2, m.OpenPositions)

	_, err = store.GetCredentials(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.SaveCredentials(ctx, &domain.Credentials{UserID: "u1", APIKey: "k", APISecret: "s", Environment: domain.EnvironmentPaper, UpdatedAt: time.Now().UTC()}))
	c, err := store.GetCredentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "k", c.APIKey)

	require.NoError(t, store.DeleteCredentials(ctx, "u1"))
	_, err = store.GetCredentials(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
