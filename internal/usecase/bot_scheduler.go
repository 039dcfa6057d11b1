package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/config"
	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// Ticker is the part of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// schedulerHandle is one live reconciliation loop for a user.
type schedulerHandle struct {
	userID   string
	interval time.Duration
	active   atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func (h *schedulerHandle) stop() {
	h.active.Store(false)
	h.cancel()
	<-h.done
}

// BotScheduler runs a periodic account reconciliation per active user. There is
// at most one live handle per user.
type BotScheduler struct {
	cfg       config.SchedulerConfig
	newTicker TickerFactory
	brokers   *BrokerResolver
	positions domain.PositionRepository
	metrics   domain.MetricsRepository
	accounts  AccountSnapshots
	hub       domain.Broadcaster
	journal   *Journal
	logger    *zap.Logger
	timeNow   func() time.Time

	reconciled func(ctx context.Context, userID string)
	hookMu     sync.RWMutex

	handles map[string]*schedulerHandle
	mu      sync.Mutex
}

func NewBotScheduler(
	cfg config.SchedulerConfig,
	newTicker TickerFactory,
	brokers *BrokerResolver,
	store domain.Store,
	accounts AccountSnapshots,
	hub domain.Broadcaster,
	journal *Journal,
	logger *zap.Logger,
) *BotScheduler {
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &BotScheduler{
		cfg:       cfg,
		newTicker: newTicker,
		brokers:   brokers,
		positions: store,
		metrics:   store,
		accounts:  accounts,
		hub:       hub,
		journal:   journal,
		logger:    logger,
		timeNow:   time.Now,
		handles:   make(map[string]*schedulerHandle),
	}
}

// OnReconciled sets the callback run after every successful reconciliation of
// an active bot. Set it before the first Start.
func (s *BotScheduler) OnReconciled(fn func(ctx context.Context, userID string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.reconciled = fn
}

// Interval maps a trading frequency to the reconciliation period. Unknown
// values get the medium period.
func (s *BotScheduler) Interval(freq domain.TradingFrequency) time.Duration {
	switch freq {
	case domain.FrequencyLow:
		return s.cfg.Low
	case domain.FrequencyHigh:
		return s.cfg.High
	default:
		return s.cfg.Medium
	}
}

// Start launches the user's loop, first stopping and waiting for any loop that
// is already running.
func (s *BotScheduler) Start(userID string, freq domain.TradingFrequency) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.handles[userID]; ok {
		prev.stop()
		delete(s.handles, userID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &schedulerHandle{
		userID:   userID,
		interval: s.Interval(freq),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	h.active.Store(true)
	s.handles[userID] = h

	ticker := s.newTicker(h.interval)
	go s.run(ctx, h, ticker)

	s.logger.Info("Bot scheduler started",
		zap.String("user_id", userID),
		zap.Duration("interval", h.interval))
}

// Stop cancels the user's loop and returns once it has exited. It reports
// whether a loop was running.
func (s *BotScheduler) Stop(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[userID]
	if !ok {
		return false
	}
	h.stop()
	delete(s.handles, userID)

	s.logger.Info("Bot scheduler stopped", zap.String("user_id", userID))
	return true
}

func (s *BotScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID, h := range s.handles {
		h.stop()
		delete(s.handles, userID)
	}
}

func (s *BotScheduler) IsRunning(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[userID]
	return ok
}

func (s *BotScheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *BotScheduler) RunningUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.handles))
	for u := range s.handles {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (s *BotScheduler) run(ctx context.Context, h *schedulerHandle, ticker Ticker) {
	defer close(h.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.reconcile(ctx, h)
		case <-ctx.Done():
			return
		}
	}
}

// reconcile pulls account and positions from the broker, upserts the reported
// positions, drops local ones the broker no longer holds, refreshes metrics and
// pushes the snapshot. Failures are logged and the loop keeps going.
func (s *BotScheduler) reconcile(ctx context.Context, h *schedulerHandle) {
	userID := h.userID
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler tick panic", zap.String("user_id", userID), zap.Any("panic", r))
			s.journal.Logf(context.WithoutCancel(ctx), userID, domain.LogError, "Scheduler tick failed: %v", r)
		}
	}()

	fail := func(format string, err error) {
		if ctx.Err() != nil || !h.active.Load() {
			return
		}
		s.journal.Logf(ctx, userID, domain.LogError, format, err)
	}

	broker, _, err := s.brokers.Resolve(ctx, userID)
	if err != nil {
		fail("Account sync skipped: %v", err)
		return
	}
	account, err := broker.GetAccount(ctx)
	if err != nil {
		fail("Failed to fetch account: %v", err)
		return
	}
	positions, err := broker.GetPositions(ctx)
	if err != nil {
		fail("Failed to fetch positions: %v", err)
		return
	}

	if !h.active.Load() {
		return
	}

	now := s.timeNow()
	held := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		p.UserID = userID
		p.UpdatedAt = now
		held[p.Symbol] = struct{}{}
		if err := s.positions.SavePosition(ctx, p); err != nil {
			fail("Failed to save position: %v", err)
		}
	}
	closed := s.dropStale(ctx, userID, held, fail)
	s.accounts.Set(userID, account)

	m := domain.ComputeMetrics(userID, account, positions, now)
	if err := s.metrics.SaveMetrics(ctx, m); err != nil {
		fail("Failed to save metrics: %v", err)
	}

	if !h.active.Load() {
		return
	}
	for _, symbol := range closed {
		s.hub.Broadcast(userID, domain.Message{
			Type: domain.MsgPositionClosed,
			Data: domain.PositionClosed{Symbol: symbol},
		})
	}
	s.hub.Broadcast(userID, domain.Message{
		Type: domain.MsgAccountUpdate,
		Data: domain.AccountUpdate{Account: account, Positions: nonNil(positions), Metrics: m},
	})

	s.hookMu.RLock()
	after := s.reconciled
	s.hookMu.RUnlock()
	if after != nil && ctx.Err() == nil && h.active.Load() {
		after(ctx, userID)
	}
}

// dropStale deletes stored positions whose symbol the broker did not report and
// returns the deleted symbols.
func (s *BotScheduler) dropStale(ctx context.Context, userID string, held map[string]struct{}, fail func(string, error)) []string {
	local, err := s.positions.ListPositions(ctx, userID)
	if err != nil {
		fail("Failed to list positions: %v", err)
		return nil
	}
	var closed []string
	for _, p := range local {
		if _, ok := held[p.Symbol]; ok {
			continue
		}
		if err := s.positions.DeletePosition(ctx, userID, p.Symbol); err != nil {
			fail("Failed to delete position: %v", err)
			continue
		}
		closed = append(closed, p.Symbol)
	}
	return closed
}
