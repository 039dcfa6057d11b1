package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// Execution is the outcome of an admitted and submitted signal. Position is
// the local position after the fill; it is nil when the fill closed it.
type Execution struct {
	Order          *domain.OrderResponse
	Trade          *domain.Trade
	Position       *domain.Position
	PositionClosed bool
}

// SignalCoordinator gates the step from signal to order: admission, sizing and
// a single market order per signal.
type SignalCoordinator struct {
	cfg       config.TradingConfig
	trades    domain.TradeRepository
	positions domain.PositionRepository
	accounts  AccountSnapshots
	journal   *Journal
	events    domain.EventSink
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewSignalCoordinator(
	cfg config.TradingConfig,
	trades domain.TradeRepository,
	positions domain.PositionRepository,
	accounts AccountSnapshots,
	journal *Journal,
	events domain.EventSink,
	logger *zap.Logger,
) *SignalCoordinator {
	return &SignalCoordinator{
		cfg:       cfg,
		trades:    trades,
		positions: positions,
		accounts:  accounts,
		journal:   journal,
		events:    events,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Admit reports whether the signal is strong enough to trade.
func (c *SignalCoordinator) Admit(signal domain.Signal) bool {
	return !signal.IsHold() && signal.Confidence > c.cfg.AdmissionThreshold
}

// Size returns the order quantity. Fixed sizing uses the configured default;
// risk sizing spends riskFraction*(riskLevel/5) of accountValue scaled by
// confidence, floored to the minimum increment. ok is false when nothing should
// be ordered.
func (c *SignalCoordinator) Size(signal domain.Signal, price, accountValue float64, riskLevel int, riskSized bool) (float64, bool) {
	if price <= 0 {
		return 0, false
	}
	if !riskSized {
		return c.cfg.DefaultQty, c.cfg.DefaultQty > 0
	}
	if accountValue <= 0 {
		return 0, false
	}

	fraction := c.cfg.RiskFraction * float64(riskLevel) / 5
	raw := decimal.NewFromFloat(accountValue).
		Mul(decimal.NewFromFloat(fraction)).
		Mul(decimal.NewFromFloat(signal.Confidence)).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(price))

	qty := raw
	if c.cfg.MinQtyIncrement > 0 {
		inc := decimal.NewFromFloat(c.cfg.MinQtyIncrement)
		qty = raw.Div(inc).Floor().Mul(inc)
	}
	if !qty.IsPositive() {
		return 0, false
	}
	f, _ := qty.Float64()
	return f, true
}

// Execute submits at most one market order for an admitted signal. It returns
// nil, nil when the signal is skipped. A failed submit leaves no trade behind
// and is reported through an ERROR system log.
func (c *SignalCoordinator) Execute(
	ctx context.Context,
	userID string,
	broker domain.Broker,
	signal domain.Signal,
	price float64,
	settings *domain.BotSettings,
	riskSized bool,
) (*Execution, error) {
	if !c.Admit(signal) {
		return nil, nil
	}
	side := domain.Side(signal.Action)

	var held *domain.Position
	if side == domain.SideSell {
		pos, err := c.positions.GetPosition(ctx, userID, signal.Symbol)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if !c.cfg.AllowShort {
				c.journal.Logf(ctx, userID, domain.LogWarning, "Skipping sell signal for %s: no open position", signal.Symbol)
				return nil, nil
			}
		case err != nil:
			c.journal.Logf(ctx, userID, domain.LogError, "Failed to load %s position: %v", signal.Symbol, err)
			return nil, err
		default:
			held = pos
		}
	}

	var accountValue float64
	if riskSized {
		account, err := c.account(ctx, userID, broker)
		if err != nil {
			c.journal.Logf(ctx, userID, domain.LogError, "Failed to fetch account for sizing: %v", err)
			return nil, err
		}
		accountValue = account.Equity
	}

	riskLevel := 5
	if settings != nil {
		riskLevel = settings.RiskLevel
	}
	qty, ok := c.Size(signal, price, accountValue, riskLevel, riskSized)
	if !ok {
		c.journal.Logf(ctx, userID, domain.LogInfo, "Order quantity for %s rounds to zero, skipping", signal.Symbol)
		return nil, nil
	}
	if held != nil && held.Qty > 0 && qty > held.Qty {
		qty = held.Qty
	}

	req := domain.OrderRequest{
		Symbol:      signal.Symbol,
		Qty:         qty,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceGTC,
	}
	order, err := broker.SubmitOrder(ctx, req)
	if err != nil {
		c.journal.Logf(ctx, userID, domain.LogError, "Order %s %v %s failed: %v", side, qty, signal.Symbol, err)
		return nil, fmt.Errorf("submit order: %w", err)
	}

	trade := &domain.Trade{
		ID:        uuid.NewString(),
		UserID:    userID,
		Symbol:    signal.Symbol,
		Side:      side,
		Qty:       qty,
		Price:     price,
		OrderType: domain.OrderTypeMarket,
		Status:    order.Status,
		OrderID:   order.ID,
		Timestamp: c.timeNow(),
	}
	if order.FilledAvgPrice > 0 {
		trade.Price = order.FilledAvgPrice
	}
	if err := c.trades.SaveTrade(ctx, trade); err != nil {
		c.journal.Logf(ctx, userID, domain.LogError, "Order %s placed but trade record failed: %v", order.ID, err)
		return &Execution{Order: order}, fmt.Errorf("save trade: %w", err)
	}

	c.journal.Logf(ctx, userID, domain.LogTrade, "%s %v %s @ %.2f (confidence %.0f%%, order %s)",
		strings.ToUpper(string(side)), qty, signal.Symbol, trade.Price, signal.Confidence, order.ID)

	if err := c.events.Publish(ctx, userID, trade); err != nil {
		c.logger.Warn("Failed to publish trade event", zap.String("user_id", userID), zap.Error(err))
	}

	exec := &Execution{Order: order, Trade: trade}
	fillQty := order.FilledQty
	if fillQty <= 0 {
		// Market orders are often acknowledged before they fill; reconciliation
		// corrects the quantity on the next scheduler tick.
		fillQty = qty
	}
	pos, closed, err := c.applyFill(ctx, userID, signal.Symbol, side, fillQty, trade.Price)
	if err != nil {
		c.journal.Logf(ctx, userID, domain.LogError, "Failed to update %s position after fill: %v", signal.Symbol, err)
		return exec, nil
	}
	exec.Position, exec.PositionClosed = pos, closed
	return exec, nil
}

// applyFill folds a fill into the stored position: it opens a new one, averages
// into an increase, keeps the entry on a reduction and deletes it at zero.
func (c *SignalCoordinator) applyFill(ctx context.Context, userID, symbol string, side domain.Side, qty, price float64) (*domain.Position, bool, error) {
	pos, err := c.positions.GetPosition(ctx, userID, symbol)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		pos = &domain.Position{UserID: userID, Symbol: symbol}
	case err != nil:
		return nil, false, err
	}

	delta := decimal.NewFromFloat(qty)
	if side == domain.SideSell {
		delta = delta.Neg()
	}
	held := decimal.NewFromFloat(pos.Qty)
	next := held.Add(delta)
	if c.cfg.MinQtyIncrement > 0 {
		next = next.Round(int32(-decimal.NewFromFloat(c.cfg.MinQtyIncrement).Exponent()))
	}

	if next.IsZero() {
		if err := c.positions.DeletePosition(ctx, userID, symbol); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	switch {
	case held.IsZero() || held.Sign() == delta.Sign():
		// Opening or adding: volume-weighted entry.
		cost := held.Abs().Mul(decimal.NewFromFloat(pos.EntryPrice)).
			Add(delta.Abs().Mul(decimal.NewFromFloat(price)))
		pos.EntryPrice, _ = cost.Div(next.Abs()).Float64()
	case next.Sign() != held.Sign():
		// Flipped through zero: the remainder was opened at this price.
		pos.EntryPrice = price
	}
	pos.Qty, _ = next.Float64()
	pos.Reprice(price, c.timeNow())

	if err := c.positions.SavePosition(ctx, pos); err != nil {
		return nil, false, err
	}
	return pos, false, nil
}

func (c *SignalCoordinator) account(ctx context.Context, userID string, broker domain.Broker) (*domain.Account, error) {
	if c.accounts != nil {
		if acc, ok := c.accounts.Get(userID); ok {
			return acc, nil
		}
	}
	acc, err := broker.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	if c.accounts != nil {
		c.accounts.Set(userID, acc)
	}
	return acc, nil
}
