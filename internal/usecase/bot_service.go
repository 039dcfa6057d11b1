package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/strategy"
)

const (
	initialTradesLimit = 50
	initialLogsLimit   = 100
)

// SettingsUpdate is a partial bot settings change; nil fields are kept.
type SettingsUpdate struct {
	Strategy         *domain.StrategyName     `json:"strategy,omitempty"`
	RiskLevel        *int                     `json:"riskLevel,omitempty"`
	TradingFrequency *domain.TradingFrequency `json:"tradingFrequency,omitempty"`
}

type APIKeyInput struct {
	APIKey      string             `json:"apiKey"`
	APISecret   string             `json:"apiSecret"`
	Environment domain.Environment `json:"environment"`
}

// BotService implements the dashboard commands: bot lifecycle, settings,
// credentials, manual position close and log housekeeping.
type BotService struct {
	store     domain.Store
	brokers   *BrokerResolver
	scheduler *BotScheduler
	pipeline  *UpdatePipeline
	registry  *strategy.Registry
	cache     *MarketCache
	hub       domain.Broadcaster
	journal   *Journal
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewBotService(
	store domain.Store,
	brokers *BrokerResolver,
	scheduler *BotScheduler,
	pipeline *UpdatePipeline,
	registry *strategy.Registry,
	cache *MarketCache,
	hub domain.Broadcaster,
	journal *Journal,
	logger *zap.Logger,
) *BotService {
	return &BotService{
		store:     store,
		brokers:   brokers,
		scheduler: scheduler,
		pipeline:  pipeline,
		registry:  registry,
		cache:     cache,
		hub:       hub,
		journal:   journal,
		logger:    logger,
		timeNow:   time.Now,
	}
}

// InitialData builds the snapshot sent to a freshly authenticated session.
func (s *BotService) InitialData(ctx context.Context, userID string) (*domain.InitialData, error) {
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	trades, err := s.store.ListTrades(ctx, userID, initialTradesLimit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	logs, err := s.store.ListLogs(ctx, userID, initialLogsLimit)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	settings, err := s.store.GetBotSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get bot settings: %w", err)
	}
	metrics, err := s.store.GetMetrics(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics = domain.ComputeMetrics(userID, nil, positions, s.timeNow())
	} else if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}

	_, credErr := s.store.GetCredentials(ctx, userID)
	if credErr != nil && !errors.Is(credErr, domain.ErrNotFound) {
		return nil, fmt.Errorf("get credentials: %w", credErr)
	}

	return &domain.InitialData{
		Positions:   nonNil(positions),
		Trades:      nonNil(trades),
		Metrics:     metrics,
		Logs:        nonNil(logs),
		BotSettings: settings,
		HasAPIKey:   credErr == nil,
	}, nil
}

// CheckReadiness decides whether the user's bot may run. With probe set the
// broker is asked for the account so rejected keys show up as invalid.
func (s *BotService) CheckReadiness(ctx context.Context, userID string, probe bool) domain.Readiness {
	broker, readiness, err := s.brokers.Resolve(ctx, userID)
	if err != nil || !probe {
		return readiness
	}
	if _, err := broker.GetAccount(ctx); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.brokers.Invalidate(userID)
			return domain.ReadinessInvalidCredentials
		}
		s.logger.Warn("Readiness probe failed", zap.String("user_id", userID), zap.Error(err))
	}
	return domain.ReadinessReady
}

func (s *BotService) StartBot(ctx context.Context, userID string) (*domain.BotStatus, error) {
	settings, err := s.store.GetBotSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get bot settings: %w", err)
	}

	readiness := s.CheckReadiness(ctx, userID, true)
	if readiness != domain.ReadinessReady {
		s.journal.Logf(ctx, userID, domain.LogWarning, "Cannot start bot: %s", readiness)
		status := &domain.BotStatus{IsActive: settings.IsActive, Running: s.scheduler.IsRunning(userID), Readiness: readiness}
		s.hub.Broadcast(userID, domain.Message{Type: domain.MsgBotStatus, Data: status})
		return status, nil
	}

	settings.IsActive = true
	settings.UpdatedAt = s.timeNow()
	if err := s.store.SaveBotSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save bot settings: %w", err)
	}
	s.scheduler.Start(userID, settings.TradingFrequency)
	s.journal.Logf(ctx, userID, domain.LogInfo, "Bot started (%s, risk %d, %s)",
		settings.Strategy, settings.RiskLevel, settings.TradingFrequency)

	return s.broadcastStatus(userID, settings.IsActive, readiness), nil
}

func (s *BotService) StopBot(ctx context.Context, userID string) (*domain.BotStatus, error) {
	settings, err := s.store.GetBotSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get bot settings: %w", err)
	}

	s.scheduler.Stop(userID)
	settings.IsActive = false
	settings.UpdatedAt = s.timeNow()
	if err := s.store.SaveBotSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save bot settings: %w", err)
	}
	s.journal.Log(ctx, userID, domain.LogInfo, "Bot stopped")

	return s.broadcastStatus(userID, false, s.CheckReadiness(ctx, userID, false)), nil
}

func (s *BotService) Status(ctx context.Context, userID string) (*domain.BotStatus, error) {
	settings, err := s.store.GetBotSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get bot settings: %w", err)
	}
	return &domain.BotStatus{
		IsActive:  settings.IsActive,
		Running:   s.scheduler.IsRunning(userID),
		Readiness: s.CheckReadiness(ctx, userID, false),
	}, nil
}

func (s *BotService) broadcastStatus(userID string, active bool, readiness domain.Readiness) *domain.BotStatus {
	status := &domain.BotStatus{
		IsActive:  active,
		Running:   s.scheduler.IsRunning(userID),
		Readiness: readiness,
	}
	s.hub.Broadcast(userID, domain.Message{Type: domain.MsgBotStatus, Data: status})
	return status
}

func (s *BotService) UpdateSettings(ctx context.Context, userID string, upd SettingsUpdate) (*domain.BotSettings, error) {
	settings, err := s.store.GetBotSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get bot settings: %w", err)
	}
	prevFreq := settings.TradingFrequency

	if upd.Strategy != nil {
		if !s.knownStrategy(*upd.Strategy) {
			return nil, fmt.Errorf("unknown strategy %q", *upd.Strategy)
		}
		settings.Strategy = *upd.Strategy
	}
	if upd.RiskLevel != nil {
		settings.RiskLevel = *upd.RiskLevel
	}
	if upd.TradingFrequency != nil {
		settings.TradingFrequency = *upd.TradingFrequency
	}
	settings.Normalize()
	settings.UpdatedAt = s.timeNow()

	if err := s.store.SaveBotSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("save bot settings: %w", err)
	}

	if upd.Strategy != nil && s.pipeline != nil {
		s.pipeline.Forget(userID)
	}
	if settings.TradingFrequency != prevFreq && s.scheduler.IsRunning(userID) {
		s.scheduler.Start(userID, settings.TradingFrequency)
	}

	s.journal.Logf(ctx, userID, domain.LogInfo, "Settings updated: %s, risk %d, %s",
		settings.Strategy, settings.RiskLevel, settings.TradingFrequency)
	s.hub.Broadcast(userID, domain.Message{Type: domain.MsgBotSettingsUpdate, Data: settings})
	return settings, nil
}

func (s *BotService) knownStrategy(name domain.StrategyName) bool {
	for _, n := range s.registry.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (s *BotService) SaveAPIKey(ctx context.Context, userID string, in APIKeyInput) error {
	key := strings.TrimSpace(in.APIKey)
	secret := strings.TrimSpace(in.APISecret)
	if key == "" || secret == "" {
		return errors.New("api key and secret are required")
	}

	env := in.Environment
	switch env {
	case domain.EnvironmentPaper, domain.EnvironmentLive:
	case "":
		env = domain.EnvironmentPaper
	default:
		return fmt.Errorf("unknown environment %q", in.Environment)
	}

	creds := &domain.Credentials{
		UserID:      userID,
		APIKey:      key,
		APISecret:   secret,
		Environment: env,
		UpdatedAt:   s.timeNow(),
	}
	if err := s.store.SaveCredentials(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.brokers.Invalidate(userID)

	s.journal.Logf(ctx, userID, domain.LogInfo, "API key saved (%s)", env)
	s.hub.Broadcast(userID, domain.Message{
		Type: domain.MsgAPIKeyUpdate,
		Data: domain.APIKeyUpdate{HasAPIKey: true, Environment: env},
	})
	return nil
}

// DeleteAPIKey removes the credentials and stops the bot, which can no longer
// trade without them.
func (s *BotService) DeleteAPIKey(ctx context.Context, userID string) error {
	if s.scheduler.IsRunning(userID) {
		if _, err := s.StopBot(ctx, userID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteCredentials(ctx, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	s.brokers.Invalidate(userID)

	s.journal.Log(ctx, userID, domain.LogInfo, "API key removed")
	s.hub.Broadcast(userID, domain.Message{
		Type: domain.MsgAPIKeyUpdate,
		Data: domain.APIKeyUpdate{HasAPIKey: false},
	})
	return nil
}

// ClosePosition liquidates a symbol at the broker, drops the local position
// and records the closing trade.
func (s *BotService) ClosePosition(ctx context.Context, userID, symbol string) (*domain.Trade, error) {
	if symbol == "" {
		return nil, errors.New("symbol is required")
	}
	broker, _, err := s.brokers.Resolve(ctx, userID)
	if err != nil {
		s.journal.Logf(ctx, userID, domain.LogError, "Cannot close %s: %v", symbol, err)
		return nil, err
	}

	local, err := s.store.GetPosition(ctx, userID, symbol)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get position: %w", err)
	}

	order, err := broker.ClosePosition(ctx, symbol)
	if err != nil {
		s.journal.Logf(ctx, userID, domain.LogError, "Failed to close %s: %v", symbol, err)
		return nil, fmt.Errorf("close position: %w", err)
	}

	if err := s.store.DeletePosition(ctx, userID, symbol); err != nil {
		return nil, fmt.Errorf("delete position: %w", err)
	}

	trade := &domain.Trade{
		ID:        uuid.NewString(),
		UserID:    userID,
		Symbol:    symbol,
		Side:      order.Side,
		Qty:       order.Qty,
		Price:     order.FilledAvgPrice,
		OrderType: domain.OrderTypeMarket,
		Status:    order.Status,
		OrderID:   order.ID,
		Timestamp: s.timeNow(),
	}
	if local != nil {
		if trade.Qty == 0 {
			trade.Qty = math.Abs(local.Qty)
		}
		if trade.Side == "" {
			trade.Side = domain.SideSell
			if local.Qty < 0 {
				trade.Side = domain.SideBuy
			}
		}
	}
	if trade.Price == 0 {
		if t, ok := s.cache.Latest(symbol); ok {
			trade.Price = t.Price
		} else if local != nil {
			trade.Price = local.CurrentPrice
		}
	}
	if err := s.store.SaveTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("save trade: %w", err)
	}

	s.journal.Logf(ctx, userID, domain.LogTrade, "Closed %s: %s %v @ %.2f", symbol, strings.ToUpper(string(trade.Side)), trade.Qty, trade.Price)
	s.hub.Broadcast(userID, domain.Message{
		Type: domain.MsgPositionClosed,
		Data: domain.PositionClosed{Symbol: symbol, Trade: trade},
	})
	return trade, nil
}

// Notify writes a user-visible log entry on behalf of the transport layer.
func (s *BotService) Notify(ctx context.Context, userID string, level domain.LogLevel, msg string) {
	s.journal.Log(ctx, userID, level, msg)
}

func (s *BotService) ClearLogs(ctx context.Context, userID string) error {
	return s.journal.Clear(ctx, userID)
}

func (s *BotService) ListPositions(ctx context.Context, userID string) ([]*domain.Position, error) {
	positions, err := s.store.ListPositions(ctx, userID)
	return nonNil(positions), err
}

func (s *BotService) ListTrades(ctx context.Context, userID string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = initialTradesLimit
	}
	trades, err := s.store.ListTrades(ctx, userID, limit)
	return nonNil(trades), err
}

func (s *BotService) ListLogs(ctx context.Context, userID string, limit int) ([]*domain.SystemLog, error) {
	if limit <= 0 {
		limit = initialLogsLimit
	}
	logs, err := s.store.ListLogs(ctx, userID, limit)
	return nonNil(logs), err
}

// ResumeActive restarts the schedulers of bots persisted as active. Bots that
// are no longer ready are switched off.
func (s *BotService) ResumeActive(ctx context.Context) (int, error) {
	active, err := s.store.ListActiveBotSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active bots: %w", err)
	}

	resumed := 0
	for _, settings := range active {
		readiness := s.CheckReadiness(ctx, settings.UserID, false)
		if readiness != domain.ReadinessReady {
			settings.IsActive = false
			settings.UpdatedAt = s.timeNow()
			if err := s.store.SaveBotSettings(ctx, settings); err != nil {
				s.logger.Error("Failed to deactivate bot", zap.String("user_id", settings.UserID), zap.Error(err))
			}
			s.journal.Logf(ctx, settings.UserID, domain.LogWarning, "Bot not resumed: %s", readiness)
			continue
		}
		s.scheduler.Start(settings.UserID, settings.TradingFrequency)
		resumed++
	}
	return resumed, nil
}

// Shutdown stops every running scheduler without touching persisted state so
// the bots resume on the next start.
func (s *BotService) Shutdown() {
	s.scheduler.StopAll()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
