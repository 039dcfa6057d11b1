package domain

import "context"

// Broker is the remote trading venue. Every call is network-bound and may fail
// with a *BrokerError.
type Broker interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetPositions(ctx context.Context) ([]*Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	ClosePosition(ctx context.Context, symbol string) (*OrderResponse, error)
}

// BrokerFactory builds a gateway for a user's credentials. Paper vs live is
// decided here and never inside the pipeline.
type BrokerFactory interface {
	ForCredentials(creds Credentials) (Broker, error)
}

// MarketFeed is the market-data subscription handle.
type MarketFeed interface {
	OnTick(callback func(tick Tick))
	Subscribe(symbols []string) error
	Run(ctx context.Context) error
}

// Broadcaster fans a message out to every live session of a user.
type Broadcaster interface {
	Broadcast(userID string, msg Message)
}

// EventSink mirrors trade and signal events to an external stream.
type EventSink interface {
	Publish(ctx context.Context, key string, event any) error
}

type SettingsRepository interface {
	GetBotSettings(ctx context.Context, userID string) (*BotSettings, error)
	SaveBotSettings(ctx context.Context, settings *BotSettings) error
	ListActiveBotSettings(ctx context.Context) ([]*BotSettings, error)
}

type PositionRepository interface {
	GetPosition(ctx context.Context, userID, symbol string) (*Position, error)
	ListPositions(ctx context.Context, userID string) ([]*Position, error)
	SavePosition(ctx context.Context, position *Position) error
	DeletePosition(ctx context.Context, userID, symbol string) error
}

type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, userID string, limit int) ([]*Trade, error)
}

type LogRepository interface {
	SaveLog(ctx context.Context, entry *SystemLog) error
	ListLogs(ctx context.Context, userID string, limit int) ([]*SystemLog, error)
	ClearLogs(ctx context.Context, userID string) error
}

type MetricsRepository interface {
	SaveMetrics(ctx context.Context, metrics *PerformanceMetrics) error
	GetMetrics(ctx context.Context, userID string) (*PerformanceMetrics, error)
}

type CredentialRepository interface {
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)
	SaveCredentials(ctx context.Context, creds *Credentials) error
	DeleteCredentials(ctx context.Context, userID string) error
}

// Store is the full persistence collaborator.
type Store interface {
	SettingsRepository
	PositionRepository
	TradeRepository
	LogRepository
	MetricsRepository
	CredentialRepository
}
