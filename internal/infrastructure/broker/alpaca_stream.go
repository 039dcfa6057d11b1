package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

const AlpacaCryptoStreamURL = "wss://stream.data.alpaca.markets/v1beta3/crypto/us"

// AlpacaStream is the crypto trade feed. Each trade becomes a Tick whose change
// is measured against the first price seen for that symbol.
type AlpacaStream struct {
	apiKey    string
	apiSecret string
	wsURL     string
	logger    *zap.Logger

	wsConn    *websocket.Conn
	symbols   []string
	callbacks []func(domain.Tick)
	firstSeen map[string]float64
	mu        sync.Mutex
	writeMu   sync.Mutex

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewAlpacaStream(apiKey, apiSecret, wsURL string, logger *zap.Logger) *AlpacaStream {
	if wsURL == "" {
		wsURL = AlpacaCryptoStreamURL
	}
	return &AlpacaStream{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		wsURL:      wsURL,
		logger:     logger,
		firstSeen:  make(map[string]float64),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (s *AlpacaStream) OnTick(callback func(domain.Tick)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// Subscribe adds symbols. When connected the subscription is sent right away,
// otherwise it is sent on the next connect.
func (s *AlpacaStream) Subscribe(symbols []string) error {
	s.mu.Lock()
	known := make(map[string]bool, len(s.symbols))
	for _, sym := range s.symbols {
		known[sym] = true
	}
	var added []string
	for _, sym := range symbols {
		if !known[sym] {
			known[sym] = true
			added = append(added, sym)
			s.symbols = append(s.symbols, sym)
		}
	}
	conn := s.wsConn
	s.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return nil
	}
	return s.subscribe(conn, added)
}

// Run keeps the stream connected until ctx is cancelled, reconnecting with
// exponential backoff.
func (s *AlpacaStream) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			return err
		}
		s.logger.Warn("Market stream disconnected", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

type streamEvent struct {
	T      string    `json:"T"`
	Msg    string    `json:"msg"`
	Code   int       `json:"code"`
	Symbol string    `json:"S"`
	Price  float64   `json:"p"`
	Size   float64   `json:"s"`
	Time   time.Time `json:"t"`
}

func (s *AlpacaStream) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.wsConn = nil
		s.mu.Unlock()
	}()

	if err := s.writeJSON(conn, map[string]string{"action": "auth", "key": s.apiKey, "secret": s.apiSecret}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	authenticated := false
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var events []streamEvent
		if err := json.Unmarshal(message, &events); err != nil {
			s.logger.Debug("Market stream unmarshal error", zap.Error(err))
			continue
		}

		for _, ev := range events {
			switch ev.T {
			case "success":
				if ev.Msg == "authenticated" && !authenticated {
					authenticated = true
					s.mu.Lock()
					s.wsConn = conn
					symbols := append([]string(nil), s.symbols...)
					s.mu.Unlock()
					if err := s.subscribe(conn, symbols); err != nil {
						return fmt.Errorf("subscribe: %w", err)
					}
					s.logger.Info("Market stream connected", zap.Strings("symbols", symbols))
				}
			case "error":
				if ev.Code == 401 || ev.Code == 402 {
					return &domain.BrokerError{Kind: domain.ErrUnauthorized, StatusCode: ev.Code, Message: ev.Msg}
				}
				return fmt.Errorf("stream error %d: %s", ev.Code, ev.Msg)
			case "t":
				s.emit(ev)
			}
		}
	}
}

func (s *AlpacaStream) subscribe(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	pairs := make([]string, len(symbols))
	for i, sym := range symbols {
		pairs[i] = toStreamSymbol(sym)
	}
	return s.writeJSON(conn, map[string]any{"action": "subscribe", "trades": pairs})
}

func (s *AlpacaStream) writeJSON(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *AlpacaStream) emit(ev streamEvent) {
	symbol := fromStreamSymbol(ev.Symbol)
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	first, ok := s.firstSeen[symbol]
	if !ok {
		first = ev.Price
		s.firstSeen[symbol] = first
	}
	callbacks := make([]func(domain.Tick), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	tick := domain.Tick{
		Symbol:    symbol,
		Price:     ev.Price,
		Timestamp: ts,
		Change:    ev.Price - first,
	}
	if first != 0 {
		tick.ChangePercent = tick.Change / first * 100
	}
	for _, cb := range callbacks {
		cb(tick)
	}
}

// toStreamSymbol turns BTCUSD into BTC/USD; symbols with a slash pass through.
func toStreamSymbol(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC"} {
		if len(symbol) > len(quote) && strings.HasSuffix(symbol, quote) {
			return symbol[:len(symbol)-len(quote)] + "/" + quote
		}
	}
	return symbol
}

func fromStreamSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}
