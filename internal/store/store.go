// Package store is the engine's relational Persistence Store: users, bots,
// trades, positions, activity logs and broker credentials, backed by
// PostgreSQL. Every mutation is a short, independently-committed
// transaction; the order-execution sequence spans multiple transactions by
// design (see CreatePendingBuy).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Registers the "postgres" sql driver.
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/models"
)

// Store is the full persistence surface the engine depends on. It is
// implemented by *Postgres; tests use internal/mock's in-memory fake.
type Store interface {
	// Users & credentials
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetBrokerCredentials(ctx context.Context, userID string) (*models.BrokerCredentials, error)
	ListUserIDsWithCredentials(ctx context.Context) ([]string, error)

	// Bots
	GetBot(ctx context.Context, botID string) (*models.Bot, error)
	ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]models.Bot, error)
	ListBotsByOwner(ctx context.Context, ownerID string) ([]models.Bot, error)
	CreateBot(ctx context.Context, bot *models.Bot) error
	UpdateBotStatus(ctx context.Context, botID string, status models.BotStatus) error
	IncrementBotError(ctx context.Context, botID string) (int, error)
	ResetBotError(ctx context.Context, botID string) error
	TouchBotLastRun(ctx context.Context, botID string, at time.Time) error
	DeleteBot(ctx context.Context, botID string) error

	// Positions
	GetOpenPosition(ctx context.Context, botID, symbol string) (*models.Position, error)
	ListOpenPositionsByBot(ctx context.Context, botID string) ([]models.Position, error)
	ListOpenPositionsByUser(ctx context.Context, userID, symbol string) ([]models.Position, error)
	UpdatePosition(ctx context.Context, pos *models.Position) error
	ClosePosition(ctx context.Context, positionID string, realizedPnL float64, closedAt time.Time) error
	BotTodayRealizedPnL(ctx context.Context, botID string, since time.Time) (float64, error)
	BotOpenPositionCount(ctx context.Context, botID string) (int, error)

	// Trades + the anti-duplication BUY contract
	CreatePendingBuy(ctx context.Context, trade *models.Trade, pos *models.Position) error
	CreateTrade(ctx context.Context, trade *models.Trade) error
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	GetTradeByClientOrderID(ctx context.Context, clientOrderID string) (*models.Trade, error)
	ListPendingTradesByUser(ctx context.Context, userID string) ([]models.Trade, error)
	ListTradesByBot(ctx context.Context, botID string, limit int) ([]models.Trade, error)

	// Activity log
	AppendActivityLog(ctx context.Context, entry *models.ActivityLog) error
	ListActivityLogsByBot(ctx context.Context, botID string, limit int) ([]models.ActivityLog, error)

	Close() error
}

// Postgres implements Store over database/sql + lib/pq.
type Postgres struct {
	db     *sql.DB
	logger logrus.FieldLogger
}

// Config configures the underlying connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open establishes the pool and verifies connectivity. It does not run
// migrations; call Migrate explicitly (the composition root does this once
// at startup).
func Open(cfg Config, logger logrus.FieldLogger) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Postgres{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the schema. Idempotent: every statement is
// CREATE ... IF NOT EXISTS.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Keeps every mutation a single short transaction per the
// engine's database discipline.
func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && p.logger != nil {
			p.logger.WithError(rbErr).Warn("store: rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
