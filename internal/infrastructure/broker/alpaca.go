package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

const (
	AlpacaPaperURL = "https://paper-api.alpaca.markets"
	AlpacaLiveURL  = "https://api.alpaca.markets"
)

// AlpacaClient is the REST trading gateway. Paper and live differ only in
// baseURL.
type AlpacaClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	client    *http.Client
}

func NewAlpacaClient(apiKey, apiSecret, baseURL string, timeout time.Duration) *AlpacaClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlpacaClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
	}
}

// --- REST API ---

func (a *AlpacaClient) sendRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &domain.BrokerError{Kind: domain.ErrBrokerUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BrokerError{Kind: domain.ErrBrokerUnavailable, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		return nil, classify(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// classify maps an Alpaca error response onto the broker error kinds.
func classify(status int, body []byte) error {
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	kind := domain.ErrOrderRejected
	switch {
	case status == http.StatusUnauthorized:
		kind = domain.ErrUnauthorized
	case status == http.StatusForbidden:
		// 403 covers both bad keys and orders the account cannot afford.
		lower := strings.ToLower(msg)
		if !strings.Contains(lower, "insufficient") && !strings.Contains(lower, "buying power") {
			kind = domain.ErrUnauthorized
		}
	case status == http.StatusNotFound:
		kind = domain.ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		kind = domain.ErrBrokerUnavailable
	}
	return &domain.BrokerError{Kind: kind, StatusCode: status, Message: msg}
}

type alpacaAccount struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Cash           string `json:"cash"`
	BuyingPower    string `json:"buying_power"`
	Equity         string `json:"equity"`
	LastEquity     string `json:"last_equity"`
	PortfolioValue string `json:"portfolio_value"`
}

type alpacaPosition struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	MarketValue    string `json:"market_value"`
	UnrealizedPl   string `json:"unrealized_pl"`
	UnrealizedPlPc string `json:"unrealized_plpc"`
}

type alpacaOrderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
	StopPrice   string `json:"stop_price,omitempty"`
}

type alpacaOrder struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Qty            string    `json:"qty"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice *string   `json:"filled_avg_price"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (o *alpacaOrder) toDomain() *domain.OrderResponse {
	resp := &domain.OrderResponse{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      domain.Side(o.Side),
		Qty:       parseFloat(o.Qty),
		FilledQty: parseFloat(o.FilledQty),
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
	if o.FilledAvgPrice != nil {
		resp.FilledAvgPrice = parseFloat(*o.FilledAvgPrice)
	}
	return resp
}

func (a *AlpacaClient) GetAccount(ctx context.Context) (*domain.Account, error) {
	body, err := a.sendRequest(ctx, http.MethodGet, "/v2/account", nil)
	if err != nil {
		return nil, err
	}

	var acc alpacaAccount
	if err := json.Unmarshal(body, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &domain.Account{
		ID:             acc.ID,
		Status:         acc.Status,
		Cash:           parseFloat(acc.Cash),
		BuyingPower:    parseFloat(acc.BuyingPower),
		Equity:         parseFloat(acc.Equity),
		LastEquity:     parseFloat(acc.LastEquity),
		PortfolioValue: parseFloat(acc.PortfolioValue),
	}, nil
}

func (a *AlpacaClient) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	body, err := a.sendRequest(ctx, http.MethodGet, "/v2/positions", nil)
	if err != nil {
		return nil, err
	}

	var raw []alpacaPosition
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]*domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, &domain.Position{
			Symbol:           p.Symbol,
			Qty:              parseFloat(p.Qty),
			EntryPrice:       parseFloat(p.AvgEntryPrice),
			CurrentPrice:     parseFloat(p.CurrentPrice),
			MarketValue:      parseFloat(p.MarketValue),
			UnrealizedPl:     parseFloat(p.UnrealizedPl),
			UnrealizedPlPerc: parseFloat(p.UnrealizedPlPc) * 100,
		})
	}
	return positions, nil
}

func (a *AlpacaClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	if req.Qty <= 0 {
		return nil, &domain.BrokerError{Kind: domain.ErrOrderRejected, Message: "qty must be positive"}
	}

	payload := alpacaOrderRequest{
		Symbol:      req.Symbol,
		Qty:         formatFloat(req.Qty),
		Side:        string(req.Side),
		Type:        req.Type,
		TimeInForce: req.TimeInForce,
	}
	if req.LimitPrice != nil {
		payload.LimitPrice = formatFloat(*req.LimitPrice)
	}
	if req.StopPrice != nil {
		payload.StopPrice = formatFloat(*req.StopPrice)
	}

	body, err := a.sendRequest(ctx, http.MethodPost, "/v2/orders", payload)
	if err != nil {
		return nil, err
	}

	var order alpacaOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return order.toDomain(), nil
}

func (a *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("order id is required")
	}
	_, err := a.sendRequest(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(orderID), nil)
	return err
}

func (a *AlpacaClient) ClosePosition(ctx context.Context, symbol string) (*domain.OrderResponse, error) {
	body, err := a.sendRequest(ctx, http.MethodDelete, "/v2/positions/"+url.PathEscape(symbol), nil)
	if err != nil {
		return nil, err
	}

	var order alpacaOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode close order: %w", err)
	}
	return order.toDomain(), nil
}
