package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/domain"
)

// Journal is the single path for user-visible logs: every entry is persisted,
// pushed to the user's sessions as newLog and mirrored to the server log.
type Journal struct {
	logs    domain.LogRepository
	hub     domain.Broadcaster
	logger  *zap.Logger
	timeNow func() time.Time
}

func NewJournal(logs domain.LogRepository, hub domain.Broadcaster, logger *zap.Logger) *Journal {
	return &Journal{
		logs:    logs,
		hub:     hub,
		logger:  logger,
		timeNow: time.Now,
	}
}

func (j *Journal) Log(ctx context.Context, userID string, level domain.LogLevel, msg string) *domain.SystemLog {
	entry := &domain.SystemLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Level:     level,
		Message:   msg,
		Timestamp: j.timeNow(),
	}

	fields := []zap.Field{zap.String("user_id", userID), zap.String("level", string(level))}
	switch level {
	case domain.LogError:
		j.logger.Error(msg, fields...)
	case domain.LogWarning:
		j.logger.Warn(msg, fields...)
	default:
		j.logger.Info(msg, fields...)
	}

	if err := j.logs.SaveLog(ctx, entry); err != nil {
		j.logger.Error("Failed to persist system log", zap.String("user_id", userID), zap.Error(err))
	}
	j.hub.Broadcast(userID, domain.Message{Type: domain.MsgNewLog, Data: entry})
	return entry
}

func (j *Journal) Logf(ctx context.Context, userID string, level domain.LogLevel, format string, args ...any) *domain.SystemLog {
	return j.Log(ctx, userID, level, fmt.Sprintf(format, args...))
}

func (j *Journal) Clear(ctx context.Context, userID string) error {
	if err := j.logs.ClearLogs(ctx, userID); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	j.hub.Broadcast(userID, domain.Message{Type: domain.MsgLogsClear})
	return nil
}
