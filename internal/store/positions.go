package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nimbustrade/tradeengine/internal/models"
)

func (p *Postgres) GetOpenPosition(ctx context.Context, botID, symbol string) (*models.Position, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions WHERE bot_id = $1 AND symbol = $2 AND is_open
		ORDER BY opened_at DESC LIMIT 1`, botID, symbol)
	pos, err := scanPosition(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return pos, err
}

func (p *Postgres) ListOpenPositionsByBot(ctx context.Context, botID string) ([]models.Position, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions WHERE bot_id = $1 AND is_open ORDER BY opened_at ASC`, botID)
	if err != nil {
		return nil, fmt.Errorf("store: list open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListOpenPositionsByUser returns every open position across all of a
// user's bots, oldest first — the order the Reconciler's FIFO
// excess-in-local repair relies on. An empty symbol matches every symbol;
// a non-empty one scopes the result to it.
func (p *Postgres) ListOpenPositionsByUser(ctx context.Context, userID, symbol string) ([]models.Position, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions pos
		JOIN bots b ON b.id = pos.bot_id
		WHERE b.owner_id = $1 AND ($2 = '' OR pos.symbol = $2) AND pos.is_open
		ORDER BY pos.opened_at ASC`, userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("store: list open positions by user: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (p *Postgres) UpdatePosition(ctx context.Context, pos *models.Position) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE positions SET
				quantity = $1, entry_price = $2, current_price = $3,
				stop_loss_price = $4, take_profit_price = $5,
				unrealized_pnl = $6, realized_pnl = $7,
				is_open = $8, closed_at = $9, entry_indicator = $10
			WHERE id = $11`,
			pos.Quantity, pos.EntryPrice, pos.CurrentPrice,
			pos.StopLossPrice, pos.TakeProfitPrice,
			pos.UnrealizedPnL, pos.RealizedPnL,
			pos.IsOpen, pos.ClosedAt, nullableString(pos.EntryIndicator),
			pos.ID)
		if err != nil {
			return fmt.Errorf("store: update position: %w", err)
		}
		return requireRowsAffected(res)
	})
}

func (p *Postgres) ClosePosition(ctx context.Context, positionID string, realizedPnL float64, closedAt time.Time) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE positions SET is_open = false, closed_at = $1,
			       realized_pnl = $2, unrealized_pnl = 0
			WHERE id = $3`, closedAt, realizedPnL, positionID)
		if err != nil {
			return fmt.Errorf("store: close position: %w", err)
		}
		return requireRowsAffected(res)
	})
}

func (p *Postgres) BotTodayRealizedPnL(ctx context.Context, botID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT SUM(realized_pnl) FROM positions
		WHERE bot_id = $1 AND closed_at >= $2 AND NOT is_open`, botID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("store: today realized pnl: %w", err)
	}
	return total.Float64, nil
}

func (p *Postgres) BotOpenPositionCount(ctx context.Context, botID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM positions WHERE bot_id = $1 AND is_open`, botID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: open position count: %w", err)
	}
	return count, nil
}

const positionColumns = `
	id, bot_id, symbol, quantity, entry_price, current_price,
	stop_loss_price, take_profit_price, unrealized_pnl, realized_pnl,
	opened_at, closed_at, is_open, entry_indicator`

func scanPosition(row rowScanner) (*models.Position, error) {
	var pos models.Position
	var entryIndicator sql.NullString
	var closedAt sql.NullTime

	err := row.Scan(&pos.ID, &pos.BotID, &pos.Symbol, &pos.Quantity, &pos.EntryPrice, &pos.CurrentPrice,
		&pos.StopLossPrice, &pos.TakeProfitPrice, &pos.UnrealizedPnL, &pos.RealizedPnL,
		&pos.OpenedAt, &closedAt, &pos.IsOpen, &entryIndicator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan position: %w", err)
	}
	if closedAt.Valid {
		pos.ClosedAt = &closedAt.Time
	}
	pos.EntryIndicator = entryIndicator.String
	return &pos, nil
}

func scanPositions(rows *sql.Rows) ([]models.Position, error) {
	var out []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
