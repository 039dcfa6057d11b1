package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/strategy"
)

// memStore is an in-memory domain.Store.
type memStore struct {
	mu        sync.Mutex
	settings  map[string]domain.BotSettings
	positions map[string]map[string]domain.Position
	trades    []*domain.Trade
	logs      []*domain.SystemLog
	metrics   map[string]domain.PerformanceMetrics
	creds     map[string]domain.Credentials

	savePositionCalls int
}

func newMemStore() *memStore {
	return &memStore{
		settings:  make(map[string]domain.BotSettings),
		positions: make(map[string]map[string]domain.Position),
		metrics:   make(map[string]domain.PerformanceMetrics),
		creds:     make(map[string]domain.Credentials),
	}
}

func (m *memStore) GetBotSettings(ctx context.Context, userID string) (*domain.BotSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[userID]; ok {
		return &s, nil
	}
	return domain.DefaultBotSettings(userID), nil
}

func (m *memStore) SaveBotSettings(ctx context.Context, s *domain.BotSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.UserID] = *s
	return nil
}

func (m *memStore) ListActiveBotSettings(ctx context.Context) ([]*domain.BotSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BotSettings
	for _, s := range m.settings {
		if s.IsActive {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[userID][symbol]; ok {
		return &p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ListPositions(ctx context.Context, userID string) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.positions[userID] {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *memStore) SavePosition(ctx context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savePositionCalls++
	if m.positions[p.UserID] == nil {
		m.positions[p.UserID] = make(map[string]domain.Position)
	}
	m.positions[p.UserID][p.Symbol] = *p
	return nil
}

func (m *memStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions[userID], symbol)
	return nil
}

func (m *memStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *memStore) ListTrades(ctx context.Context, userID string, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) SaveLog(ctx context.Context, l *domain.SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memStore) ListLogs(ctx context.Context, userID string, limit int) ([]*domain.SystemLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SystemLog
	for _, l := range m.logs {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) ClearLogs(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	for _, l := range m.logs {
		if l.UserID != userID {
			kept = append(kept, l)
		}
	}
	m.logs = kept
	return nil
}

func (m *memStore) SaveMetrics(ctx context.Context, pm *domain.PerformanceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[pm.UserID] = *pm
	return nil
}

func (m *memStore) GetMetrics(ctx context.Context, userID string) (*domain.PerformanceMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm, ok := m.metrics[userID]; ok {
		return &pm, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) GetCredentials(ctx context.Context, userID string) (*domain.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[userID]; ok {
		return &c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) SaveCredentials(ctx context.Context, c *domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[c.UserID] = *c
	return nil
}

func (m *memStore) DeleteCredentials(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, userID)
	return nil
}

func (m *memStore) logsAt(userID string, level domain.LogLevel) []*domain.SystemLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SystemLog
	for _, l := range m.logs {
		if l.UserID == userID && l.Level == level {
			out = append(out, l)
		}
	}
	return out
}

func (m *memStore) tradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

// MockBroker records calls and returns canned answers.
type MockBroker struct {
	mu           sync.Mutex
	Account      *domain.Account
	Positions    []*domain.Position
	AccountErr   error
	PositionsErr error
	SubmitErr    error
	CloseErr     error
	Submitted    []domain.OrderRequest
	Closed       []string

	accountCalls atomic.Int32
}

func (m *MockBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	m.accountCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AccountErr != nil {
		return nil, m.AccountErr
	}
	if m.Account == nil {
		return &domain.Account{ID: "acc", Equity: 10000, LastEquity: 10000, Cash: 10000, BuyingPower: 10000}, nil
	}
	acc := *m.Account
	return &acc, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]*domain.Position, len(m.Positions))
	for i, p := range m.Positions {
		p := *p
		out[i] = &p
	}
	return out, nil
}

func (m *MockBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Submitted = append(m.Submitted, req)
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	return &domain.OrderResponse{
		ID:     "order-1",
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		Status: "accepted",
	}, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (m *MockBroker) ClosePosition(ctx context.Context, symbol string) (*domain.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return nil, m.CloseErr
	}
	m.Closed = append(m.Closed, symbol)
	return &domain.OrderResponse{ID: "close-1", Symbol: symbol, Side: domain.SideSell, Qty: 1, Status: "filled", FilledAvgPrice: 110}, nil
}

func (m *MockBroker) submitted() []domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OrderRequest(nil), m.Submitted...)
}

type MockBrokerFactory struct {
	Broker domain.Broker
	Err    error
}

func (f *MockBrokerFactory) ForCredentials(creds domain.Credentials) (domain.Broker, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Broker, nil
}

// recordingHub captures broadcasts and reports a fixed set of session users.
type recordingHub struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	users    []string
}

func newRecordingHub(users ...string) *recordingHub {
	return &recordingHub{messages: make(map[string][]domain.Message), users: users}
}

func (h *recordingHub) Broadcast(userID string, msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[userID] = append(h.messages[userID], msg)
}

func (h *recordingHub) Users() []string {
	return h.users
}

func (h *recordingHub) ofType(userID string, typ domain.MessageType) []domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.Message
	for _, m := range h.messages[userID] {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type memAccounts struct {
	mu   sync.Mutex
	accs map[string]domain.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accs: make(map[string]domain.Account)}
}

func (m *memAccounts) Get(userID string) (*domain.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accs[userID]
	if !ok {
		return nil, false
	}
	return &a, true
}

func (m *memAccounts) Set(userID string, acc *domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accs[userID] = *acc
}

// fakeClock hands out tickers that only fire on Advance.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

type fakeTicker struct {
	interval time.Duration
	ch       chan time.Time
	stopped  atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{interval: d, ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance fires every ticker ever created, stopped or not.
func (c *fakeClock) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		select {
		case t.ch <- time.Now():
		default:
		}
	}
}

func (c *fakeClock) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

func (c *fakeClock) last() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[len(c.tickers)-1]
}

type nopSink struct{}

func (nopSink) Publish(context.Context, string, any) error { return nil }

// stubStrategy returns a fixed signal, or panics when asked to.
type stubStrategy struct {
	action     domain.Action
	confidence float64
	panics     bool
}

func (s *stubStrategy) Name() string                          { return "stub" }
func (s *stubStrategy) Params() map[string]float64            { return nil }
func (s *stubStrategy) SetParams(map[string]float64) error    { return nil }
func (s *stubStrategy) Analyze(symbol string, recent, historical []domain.Tick) domain.Signal {
	if s.panics {
		panic("boom")
	}
	return domain.Signal{Symbol: symbol, Action: s.action, Confidence: s.confidence, Strategy: "stub"}
}

type harness struct {
	cfg         *config.Config
	store       *memStore
	hub         *recordingHub
	broker      *MockBroker
	factory     *MockBrokerFactory
	clock       *fakeClock
	accounts    *memAccounts
	cache       *MarketCache
	registry    *strategy.Registry
	stub        *stubStrategy
	journal     *Journal
	resolver    *BrokerResolver
	coordinator *SignalCoordinator
	scheduler   *BotScheduler
	pipeline    *UpdatePipeline
	service     *BotService
}

func newHarness(t *testing.T, sessionUsers ...string) *harness {
	t.Helper()

	h := &harness{
		cfg:      config.Defaults(),
		store:    newMemStore(),
		hub:      newRecordingHub(sessionUsers...),
		broker:   &MockBroker{},
		clock:    &fakeClock{},
		accounts: newMemAccounts(),
		registry: strategy.NewRegistry(),
		stub:     &stubStrategy{action: domain.ActionHold},
	}
	h.factory = &MockBrokerFactory{Broker: h.broker}
	h.cache = NewMarketCache(h.cfg.MarketData.HistorySize)
	h.registry.Register("stub", func() strategy.Strategy { return h.stub })

	logger := zap.NewNop()
	h.journal = NewJournal(h.store, h.hub, logger)
	h.resolver = NewBrokerResolver(h.store, h.factory)
	h.coordinator = NewSignalCoordinator(h.cfg.Trading, h.store, h.store, h.accounts, h.journal, nopSink{}, logger)
	h.scheduler = NewBotScheduler(h.cfg.Scheduler, h.clock.NewTicker, h.resolver, h.store, h.accounts, h.hub, h.journal, logger)
	h.pipeline = NewUpdatePipeline(h.cache, h.hub, h.hub, h.store, h.resolver, h.registry, h.coordinator,
		h.scheduler, h.journal, nopSink{}, logger, h.cfg.MarketData.RecentWindow)
	h.service = NewBotService(h.store, h.resolver, h.scheduler, h.pipeline, h.registry, h.cache, h.hub, h.journal, logger)

	t.Cleanup(h.scheduler.StopAll)
	return h
}

func (h *harness) withCredentials(userID string) {
	_ = h.store.SaveCredentials(context.Background(), &domain.Credentials{
		UserID:      userID,
		APIKey:      "key",
		APISecret:   "secret",
		Environment: domain.EnvironmentPaper,
		UpdatedAt:   time.Now(),
	})
}

func (h *harness) activate(userID string, name domain.StrategyName) {
	s := domain.DefaultBotSettings(userID)
	s.IsActive = true
	s.Strategy = name
	_ = h.store.SaveBotSettings(context.Background(), s)
}
