package domain

import "time"

type TradingFrequency string

const (
	FrequencyLow    TradingFrequency = "low"
	FrequencyMedium TradingFrequency = "medium"
	FrequencyHigh   TradingFrequency = "high"
)

type StrategyName string

const (
	StrategyMeanReversion StrategyName = "mean_reversion"
	StrategyMomentum      StrategyName = "momentum"
	StrategyRSI           StrategyName = "rsi"
	StrategyAdaptive      StrategyName = "adaptive"
)

const (
	MinRiskLevel = 1
	MaxRiskLevel = 10
)

// BotSettings is the per-user bot configuration. IsActive is the master switch.
type BotSettings struct {
	UserID           string           `json:"userId"`
	IsActive         bool             `json:"isActive"`
	Strategy         StrategyName     `json:"strategy"`
	RiskLevel        int              `json:"riskLevel"`
	TradingFrequency TradingFrequency `json:"tradingFrequency"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func DefaultBotSettings(userID string) *BotSettings {
	return &BotSettings{
		UserID:           userID,
		IsActive:         false,
		Strategy:         StrategyMeanReversion,
		RiskLevel:        5,
		TradingFrequency: FrequencyMedium,
	}
}

// Normalize clamps the risk level and replaces unknown enum values with defaults.
func (s *BotSettings) Normalize() {
	if s.RiskLevel < MinRiskLevel {
		s.RiskLevel = MinRiskLevel
	}
	if s.RiskLevel > MaxRiskLevel {
		s.RiskLevel = MaxRiskLevel
	}
	switch s.TradingFrequency {
	case FrequencyLow, FrequencyMedium, FrequencyHigh:
	default:
		s.TradingFrequency = FrequencyMedium
	}
	if s.Strategy == "" {
		s.Strategy = StrategyMeanReversion
	}
}

type Environment string

const (
	EnvironmentPaper Environment = "paper"
	EnvironmentLive  Environment = "live"
)

// Credentials are the brokerage API keys stored for a user.
type Credentials struct {
	UserID      string      `json:"userId"`
	APIKey      string      `json:"-"`
	APISecret   string      `json:"-"`
	Environment Environment `json:"environment"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Readiness is the result of the "may this bot run" precondition check.
type Readiness string

const (
	ReadinessReady              Readiness = "ready"
	ReadinessMissingCredentials Readiness = "missing-credentials"
	ReadinessInvalidCredentials Readiness = "invalid-credentials"
)

type LogLevel string

const (
	LogInfo    LogLevel = "INFO"
	LogSignal  LogLevel = "SIGNAL"
	LogTrade   LogLevel = "TRADE"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// SystemLog is a user-visible log entry delivered via newLog.
type SystemLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
