package simulator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// PriceSource supplies the last known price for a symbol.
type PriceSource interface {
	Latest(symbol string) (domain.Tick, bool)
}

type holding struct {
	qty        float64
	entryPrice float64
}

// Broker is an in-memory paper account that fills market orders at the last
// cached price.
type Broker struct {
	prices     PriceSource
	cash       float64
	lastEquity float64
	holdings   map[string]*holding
	timeNow    func() time.Time
	mu         sync.Mutex
}

func NewBroker(prices PriceSource, startingCash float64) *Broker {
	return &Broker{
		prices:     prices,
		cash:       startingCash,
		lastEquity: startingCash,
		holdings:   make(map[string]*holding),
		timeNow:    time.Now,
	}
}

func (b *Broker) price(symbol string) (float64, bool) {
	t, ok := b.prices.Latest(symbol)
	if !ok || t.Price <= 0 {
		return 0, false
	}
	return t.Price, true
}

func (b *Broker) GetAccount(ctx context.Context) (*domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for symbol, h := range b.holdings {
		p, ok := b.price(symbol)
		if !ok {
			p = h.entryPrice
		}
		equity += h.qty * p
	}
	return &domain.Account{
		ID:             "simulated",
		Status:         "ACTIVE",
		Cash:           b.cash,
		BuyingPower:    b.cash,
		Equity:         equity,
		LastEquity:     b.lastEquity,
		PortfolioValue: equity,
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.timeNow()
	positions := make([]*domain.Position, 0, len(b.holdings))
	for symbol, h := range b.holdings {
		p, ok := b.price(symbol)
		if !ok {
			p = h.entryPrice
		}
		pos := &domain.Position{Symbol: symbol, Qty: h.qty, EntryPrice: h.entryPrice}
		pos.Reprice(p, now)
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (b *Broker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	if req.Qty <= 0 {
		return nil, rejected("qty must be positive")
	}
	if req.Type != "" && req.Type != domain.OrderTypeMarket {
		return nil, rejected(fmt.Sprintf("order type %q not supported", req.Type))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.price(req.Symbol)
	if !ok {
		return nil, rejected("no price for " + req.Symbol)
	}

	switch req.Side {
	case domain.SideBuy:
		cost := req.Qty * price
		if cost > b.cash {
			return nil, rejected("insufficient balance")
		}
		h := b.holdings[req.Symbol]
		if h == nil {
			h = &holding{}
			b.holdings[req.Symbol] = h
		}
		h.entryPrice = (h.qty*h.entryPrice + cost) / (h.qty + req.Qty)
		h.qty += req.Qty
		b.cash -= cost
	case domain.SideSell:
		h := b.holdings[req.Symbol]
		if h == nil || h.qty+1e-12 < req.Qty {
			return nil, rejected("insufficient qty")
		}
		h.qty -= req.Qty
		b.cash += req.Qty * price
		if math.Abs(h.qty) < 1e-12 {
			delete(b.holdings, req.Symbol)
		}
	default:
		return nil, rejected(fmt.Sprintf("unknown side %q", req.Side))
	}

	return b.fill(req.Symbol, req.Side, req.Qty, price), nil
}

func (b *Broker) fill(symbol string, side domain.Side, qty, price float64) *domain.OrderResponse {
	return &domain.OrderResponse{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           side,
		Qty:            qty,
		FilledQty:      qty,
		FilledAvgPrice: price,
		Status:         "filled",
		CreatedAt:      b.timeNow(),
	}
}

// CancelOrder always fails: market orders fill on submit.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	return &domain.BrokerError{Kind: domain.ErrNotFound, StatusCode: 404, Message: "order " + orderID + " is not open"}
}

func (b *Broker) ClosePosition(ctx context.Context, symbol string) (*domain.OrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.holdings[symbol]
	if !ok {
		return nil, &domain.BrokerError{Kind: domain.ErrNotFound, StatusCode: 404, Message: "position not found: " + symbol}
	}
	price, ok := b.price(symbol)
	if !ok {
		price = h.entryPrice
	}
	b.cash += h.qty * price
	delete(b.holdings, symbol)
	return b.fill(symbol, domain.SideSell, h.qty, price), nil
}

func rejected(msg string) error {
	return &domain.BrokerError{Kind: domain.ErrOrderRejected, StatusCode: 422, Message: msg}
}
