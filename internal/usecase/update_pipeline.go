package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/strategy"
)

// SessionLister reports which users currently have live sessions.
type SessionLister interface {
	Users() []string
}

// UpdatePipeline handles every market tick for a user in five gated steps:
// cache, broadcast, position reprice, strategy evaluation and order decision.
type UpdatePipeline struct {
	cache        *MarketCache
	hub          domain.Broadcaster
	sessions     SessionLister
	store        domain.Store
	brokers      *BrokerResolver
	registry     *strategy.Registry
	coordinator  *SignalCoordinator
	scheduler    *BotScheduler
	journal      *Journal
	events       domain.EventSink
	logger       *zap.Logger
	recentWindow int

	timeNow      func() time.Time

	strategies map[string]strategy.Strategy // UserID -> strategy instance
	mu         sync.Mutex
}

func NewUpdatePipeline(
	cache *MarketCache,
	hub domain.Broadcaster,
	sessions SessionLister,
	store domain.Store,
	brokers *BrokerResolver,
	registry *strategy.Registry,
	coordinator *SignalCoordinator,
	scheduler *BotScheduler,
	journal *Journal,
	events domain.EventSink,
	logger *zap.Logger,
	recentWindow int,
) *UpdatePipeline {
	p := &UpdatePipeline{
		cache:        cache,
		hub:          hub,
		sessions:     sessions,
		store:        store,
		brokers:      brokers,
		registry:     registry,
		coordinator:  coordinator,
		scheduler:    scheduler,
		journal:      journal,
		events:       events,
		logger:       logger,
		recentWindow: recentWindow,
		timeNow:      time.Now,
		strategies:   make(map[string]strategy.Strategy),
	}
	if scheduler != nil {
		scheduler.OnReconciled(p.Evaluate)
	}
	return p
}

// Dispatch caches one feed tick and runs the per-user steps for every user
// that either has a live session or a running bot.
func (p *UpdatePipeline) Dispatch(ctx context.Context, tick domain.Tick) {
	p.cache.Update(tick)
	for _, userID := range p.interestedUsers() {
		p.process(ctx, userID, tick)
	}
}

// HandleTick runs all five steps for a single user.
func (p *UpdatePipeline) HandleTick(ctx context.Context, userID string, tick domain.Tick) {
	p.cache.Update(tick)
	p.process(ctx, userID, tick)
}

func (p *UpdatePipeline) interestedUsers() []string {
	seen := make(map[string]struct{})
	for _, u := range p.sessions.Users() {
		seen[u] = struct{}{}
	}
	if p.scheduler != nil {
		for _, u := range p.scheduler.RunningUsers() {
			seen[u] = struct{}{}
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (p *UpdatePipeline) process(ctx context.Context, userID string, tick domain.Tick) {
	p.guarded(userID, tick, func() { p.steps(ctx, userID, tick) })
}

func (p *UpdatePipeline) steps(ctx context.Context, userID string, tick domain.Tick) {
	p.hub.Broadcast(userID, domain.Message{Type: domain.MsgMarketData, Data: tick})

	if err := p.repricePosition(ctx, userID, tick); err != nil {
		p.logger.Error("Position reprice failed",
			zap.String("user_id", userID),
			zap.String("symbol", tick.Symbol),
			zap.Error(err))
		return
	}

	p.evaluate(ctx, userID, tick)
}

// Evaluate re-runs strategy evaluation and the order decision for userID over
// the latest cached tick of every known symbol. The scheduler calls it after
// each reconciliation so a quiet feed still gets decisions.
func (p *UpdatePipeline) Evaluate(ctx context.Context, userID string) {
	for _, symbol := range p.cache.Symbols() {
		if ctx.Err() != nil {
			return
		}
		latest, ok := p.cache.Latest(symbol)
		if !ok {
			continue
		}
		p.guarded(userID, latest, func() { p.evaluate(ctx, userID, latest) })
	}
}

func (p *UpdatePipeline) guarded(userID string, tick domain.Tick, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Tick handler panic",
				zap.String("user_id", userID),
				zap.String("symbol", tick.Symbol),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// evaluate runs steps four and five: strategy evaluation for an active bot and
// the order decision for an admitted signal.
func (p *UpdatePipeline) evaluate(ctx context.Context, userID string, tick domain.Tick) {
	settings, err := p.store.GetBotSettings(ctx, userID)
	if err != nil {
		p.logger.Error("Failed to load bot settings", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if !settings.IsActive {
		return
	}

	strat := p.strategyFor(ctx, userID, settings.Strategy)
	recent, historical := p.cache.Window(tick.Symbol, p.recentWindow)
	signal := strat.Analyze(tick.Symbol, recent, historical)
	if signal.Symbol == "" {
		signal.Symbol = tick.Symbol
	}

	p.hub.Broadcast(userID, domain.Message{Type: domain.MsgStrategySignal, Data: signal})
	if signal.IsHold() {
		return
	}
	p.journal.Logf(ctx, userID, domain.LogSignal, "%s %s %s confidence %.0f%%",
		signal.Strategy, signal.Action, signal.Symbol, signal.Confidence)
	if err := p.events.Publish(ctx, userID, signal); err != nil {
		p.logger.Warn("Failed to publish signal event", zap.String("user_id", userID), zap.Error(err))
	}

	if !p.coordinator.Admit(signal) {
		return
	}

	broker, _, err := p.brokers.Resolve(ctx, userID)
	if err != nil {
		p.journal.Logf(ctx, userID, domain.LogError, "Cannot place order for %s: %v", signal.Symbol, err)
		return
	}

	riskSized := false
	if rs, ok := strat.(strategy.RiskSized); ok {
		riskSized = rs.RiskSized()
	}
	exec, err := p.coordinator.Execute(ctx, userID, broker, signal, tick.Price, settings, riskSized)
	if err != nil || exec == nil || exec.Trade == nil {
		return
	}
	p.hub.Broadcast(userID, domain.Message{
		Type: domain.MsgOrderUpdate,
		Data: domain.OrderUpdate{Order: exec.Order, Trade: exec.Trade},
	})

	switch {
	case exec.PositionClosed:
		p.hub.Broadcast(userID, domain.Message{
			Type: domain.MsgPositionClosed,
			Data: domain.PositionClosed{Symbol: signal.Symbol, Trade: exec.Trade},
		})
	case exec.Position != nil:
		p.hub.Broadcast(userID, domain.Message{Type: domain.MsgPositionUpdate, Data: exec.Position})
	}

	p.refreshMetrics(ctx, userID, broker)
}

// refreshMetrics recomputes the user's metrics after a fill from the account
// snapshot and the stored positions, then pushes them as an accountUpdate.
func (p *UpdatePipeline) refreshMetrics(ctx context.Context, userID string, broker domain.Broker) {
	account, err := p.coordinator.account(ctx, userID, broker)
	if err != nil {
		p.logger.Warn("Metrics refresh skipped", zap.String("user_id", userID), zap.Error(err))
		return
	}
	positions, err := p.store.ListPositions(ctx, userID)
	if err != nil {
		p.logger.Error("Failed to list positions", zap.String("user_id", userID), zap.Error(err))
		return
	}

	m := domain.ComputeMetrics(userID, account, positions, p.timeNow())
	if err := p.store.SaveMetrics(ctx, m); err != nil {
		p.logger.Error("Failed to save metrics", zap.String("user_id", userID), zap.Error(err))
		return
	}
	p.hub.Broadcast(userID, domain.Message{
		Type: domain.MsgAccountUpdate,
		Data: domain.AccountUpdate{Account: account, Positions: nonNil(positions), Metrics: m},
	})
}

// repricePosition marks an existing position to the tick price. Symbols the
// user does not hold are left untouched.
func (p *UpdatePipeline) repricePosition(ctx context.Context, userID string, tick domain.Tick) error {
	pos, err := p.store.GetPosition(ctx, userID, tick.Symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pos.Reprice(tick.Price, tick.Timestamp)
	if err := p.store.SavePosition(ctx, pos); err != nil {
		return err
	}
	p.hub.Broadcast(userID, domain.Message{Type: domain.MsgPositionUpdate, Data: pos})
	return nil
}

// strategyFor returns the user's strategy instance, rebuilding it when the
// configured name changes.
func (p *UpdatePipeline) strategyFor(ctx context.Context, userID string, name domain.StrategyName) strategy.Strategy {
	p.mu.Lock()
	cur, ok := p.strategies[userID]
	if ok && cur.Name() == string(name) {
		p.mu.Unlock()
		return cur
	}
	s, fellBack := p.registry.New(name)
	if fellBack && ok && cur.Name() == s.Name() {
		// Same fallback as last time, nothing to warn about.
		p.mu.Unlock()
		return cur
	}
	p.strategies[userID] = s
	p.mu.Unlock()

	if fellBack {
		p.journal.Logf(ctx, userID, domain.LogWarning, "Unknown strategy %q, using %s", name, s.Name())
	}
	return s
}

// Forget drops the cached strategy for a user.
func (p *UpdatePipeline) Forget(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.strategies, userID)
}
