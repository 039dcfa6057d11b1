package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_trade_bot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under the scheduler and pipeline.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bot_settings (
			user_id TEXT PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			strategy TEXT NOT NULL,
			risk_level INTEGER NOT NULL,
			trading_frequency TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			qty REAL NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL NOT NULL,
			market_value REAL NOT NULL,
			unrealized_pl REAL NOT NULL,
			unrealized_pl_perc REAL NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			price REAL NOT NULL,
			order_type TEXT NOT NULL,
			status TEXT NOT NULL,
			order_id TEXT,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS system_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_logs_user ON system_logs(user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS performance_metrics (
			user_id TEXT PRIMARY KEY,
			total_value REAL NOT NULL,
			cash REAL NOT NULL,
			buying_power REAL NOT NULL,
			unrealized_pl REAL NOT NULL,
			unrealized_pl_perc REAL NOT NULL,
			daily_pl REAL NOT NULL,
			daily_pl_perc REAL NOT NULL,
			open_positions INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS api_credentials (
			user_id TEXT PRIMARY KEY,
			api_key TEXT NOT NULL,
			api_secret TEXT NOT NULL,
			environment TEXT NOT NULL DEFAULT 'paper',
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// SettingsRepository Implementation

func (s *SQLiteStore) GetBotSettings(ctx context.Context, userID string) (*domain.BotSettings, error) {
	query := `SELECT user_id, is_active, strategy, risk_level, trading_frequency, updated_at FROM bot_settings WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var b domain.BotSettings
	err := row.Scan(&b.UserID, &b.IsActive, &b.Strategy, &b.RiskLevel, &b.TradingFrequency, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultBotSettings(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) SaveBotSettings(ctx context.Context, b *domain.BotSettings) error {
	query := `INSERT INTO bot_settings (user_id, is_active, strategy, risk_level, trading_frequency, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE SET
			  is_active=excluded.is_active,
			  strategy=excluded.strategy,
			  risk_level=excluded.risk_level,
			  trading_frequency=excluded.trading_frequency,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		b.UserID, b.IsActive, b.Strategy, b.RiskLevel, b.TradingFrequency, b.UpdatedAt)
	return err
}

func (s *SQLiteStore) ListActiveBotSettings(ctx context.Context) ([]*domain.BotSettings, error) {
	query := `SELECT user_id, is_active, strategy, risk_level, trading_frequency, updated_at FROM bot_settings WHERE is_active = 1`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.BotSettings
	for rows.Next() {
		var b domain.BotSettings
		if err := rows.Scan(&b.UserID, &b.IsActive, &b.Strategy, &b.RiskLevel, &b.TradingFrequency, &b.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}

// PositionRepository Implementation

const positionColumns = `user_id, symbol, qty, entry_price, current_price, market_value, unrealized_pl, unrealized_pl_perc, updated_at`

func scanPosition(scan func(dest ...any) error) (*domain.Position, error) {
	var p domain.Position
	if err := scan(&p.UserID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.CurrentPrice, &p.MarketValue, &p.UnrealizedPl, &p.UnrealizedPlPerc, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ? AND symbol = ?`
	row := s.db.QueryRowContext(ctx, query, userID, symbol)

	p, err := scanPosition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListPositions(ctx context.Context, userID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = ? ORDER BY symbol`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id, symbol) DO UPDATE SET
			  qty=excluded.qty,
			  entry_price=excluded.entry_price,
			  current_price=excluded.current_price,
			  market_value=excluded.market_value,
			  unrealized_pl=excluded.unrealized_pl,
			  unrealized_pl_perc=excluded.unrealized_pl_perc,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		p.UserID, p.Symbol, p.Qty, p.EntryPrice, p.CurrentPrice, p.MarketValue, p.UnrealizedPl, p.UnrealizedPlPerc, p.UpdatedAt)
	return err
}

func (s *SQLiteStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM positions WHERE user_id = ? AND symbol = ?", userID, symbol)
	return err
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	query := `INSERT INTO trades (id, user_id, symbol, side, qty, price, order_type, status, order_id, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Symbol, t.Side, t.Qty, t.Price, t.OrderType, t.Status, t.OrderID, t.Timestamp)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, userID string, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, user_id, symbol, side, qty, price, order_type, status, order_id, created_at
			  FROM trades WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var orderID sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.OrderType, &t.Status, &orderID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.OrderID = orderID.String
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// LogRepository Implementation

func (s *SQLiteStore) SaveLog(ctx context.Context, l *domain.SystemLog) error {
	query := `INSERT INTO system_logs (id, user_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, l.ID, l.UserID, l.Level, l.Message, l.Timestamp)
	return err
}

func (s *SQLiteStore) ListLogs(ctx context.Context, userID string, limit int) ([]*domain.SystemLog, error) {
	query := `SELECT id, user_id, level, message, created_at FROM system_logs
			  WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.SystemLog
	for rows.Next() {
		var l domain.SystemLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Level, &l.Message, &l.Timestamp); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) ClearLogs(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM system_logs WHERE user_id = ?", userID)
	return err
}

// MetricsRepository Implementation

func (s *SQLiteStore) SaveMetrics(ctx context.Context, m *domain.PerformanceMetrics) error {
	query := `INSERT INTO performance_metrics (user_id, total_value, cash, buying_power, unrealized_pl, unrealized_pl_perc, daily_pl, daily_pl_perc, open_positions, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE SET
			  total_value=excluded.total_value,
			  cash=excluded.cash,
			  buying_power=excluded.buying_power,
			  unrealized_pl=excluded.unrealized_pl,
			  unrealized_pl_perc=excluded.unrealized_pl_perc,
			  daily_pl=excluded.daily_pl,
			  daily_pl_perc=excluded.daily_pl_perc,
			  open_positions=excluded.open_positions,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		m.UserID, m.TotalValue, m.Cash, m.BuyingPower, m.UnrealizedPl, m.UnrealizedPlPerc, m.DailyPl, m.DailyPlPerc, m.OpenPositions, m.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetMetrics(ctx context.Context, userID string) (*domain.PerformanceMetrics, error) {
	query := `SELECT user_id, total_value, cash, buying_power, unrealized_pl, unrealized_pl_perc, daily_pl, daily_pl_perc, open_positions, updated_at
			  FROM performance_metrics WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var m domain.PerformanceMetrics
	err := row.Scan(&m.UserID, &m.TotalValue, &m.Cash, &m.BuyingPower, &m.UnrealizedPl, &m.UnrealizedPlPerc, &m.DailyPl, &m.DailyPlPerc, &m.OpenPositions, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CredentialRepository Implementation

func (s *SQLiteStore) GetCredentials(ctx context.Context, userID string) (*domain.Credentials, error) {
	query := `SELECT user_id, api_key, api_secret, environment, updated_at FROM api_credentials WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var c domain.Credentials
	err := row.Scan(&c.UserID, &c.APIKey, &c.APISecret, &c.Environment, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) SaveCredentials(ctx context.Context, c *domain.Credentials) error {
	query := `INSERT INTO api_credentials (user_id, api_key, api_secret, environment, updated_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(user_id) DO UPDATE SET
			  api_key=excluded.api_key,
			  api_secret=excluded.api_secret,
			  environment=excluded.environment,
			  updated_at=excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, c.UserID, c.APIKey, c.APISecret, c.Environment, c.UpdatedAt)
	return err
}

func (s *SQLiteStore) DeleteCredentials(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM api_credentials WHERE user_id = ?", userID)
	return err
}
