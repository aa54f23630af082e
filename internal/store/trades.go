package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nimbustrade/tradeengine/internal/models"
)

// CreatePendingBuy inserts trade and pos in one transaction. This is the
// anti-duplication contract's load-bearing call: it must commit before the
// order's fill is known, so the next cycle of the same bot observes an open
// Position for this symbol and never submits a second BUY.
func (p *Postgres) CreatePendingBuy(ctx context.Context, trade *models.Trade, pos *models.Position) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (id, bot_id, symbol, quantity, entry_price, current_price,
			                        stop_loss_price, take_profit_price, unrealized_pnl, realized_pnl,
			                        opened_at, is_open, entry_indicator)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,0,$9,true,$10)`,
			pos.ID, pos.BotID, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.CurrentPrice,
			pos.StopLossPrice, pos.TakeProfitPrice, pos.OpenedAt, nullableString(pos.EntryIndicator))
		if err != nil {
			return fmt.Errorf("store: insert pending position: %w", err)
		}
		return nil
	})
}

// CreateTrade inserts a standalone trade record (the SELL path, where the
// order is submitted before any local record exists).
func (p *Postgres) CreateTrade(ctx context.Context, trade *models.Trade) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		return insertTrade(ctx, tx, trade)
	})
}

func insertTrade(ctx context.Context, tx *sql.Tx, trade *models.Trade) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, bot_id, symbol, side, quantity, price, ts,
		                     broker_order_id, client_order_id, status,
		                     indicator_snapshot, profit_loss, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		trade.ID, trade.BotID, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price, trade.Timestamp,
		trade.BrokerOrderID, trade.ClientOrderID, string(trade.Status),
		nullableString(trade.IndicatorSnapshot), trade.ProfitLoss, nullableString(trade.Reason))
	if err != nil {
		return fmt.Errorf("store: insert trade: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE trades SET quantity = $1, price = $2, broker_order_id = $3,
			       status = $4, profit_loss = $5, reason = $6
			WHERE id = $7`,
			trade.Quantity, trade.Price, trade.BrokerOrderID,
			string(trade.Status), trade.ProfitLoss, nullableString(trade.Reason), trade.ID)
		if err != nil {
			return fmt.Errorf("store: update trade: %w", err)
		}
		return requireRowsAffected(res)
	})
}

func (p *Postgres) GetTradeByClientOrderID(ctx context.Context, clientOrderID string) (*models.Trade, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE client_order_id = $1`, clientOrderID)
	return scanTrade(row)
}

func (p *Postgres) ListPendingTradesByUser(ctx context.Context, userID string) ([]models.Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.bot_id, t.symbol, t.side, t.quantity, t.price, t.ts,
		       t.broker_order_id, t.client_order_id, t.status, t.indicator_snapshot,
		       t.profit_loss, t.reason
		FROM trades t
		JOIN bots b ON b.id = t.bot_id
		WHERE b.owner_id = $1 AND t.status IN ('new', 'partially_filled')`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list pending trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

// ListTradesByBot returns a bot's trades newest-first, capped at limit (0
// means unbounded).
func (p *Postgres) ListTradesByBot(ctx context.Context, botID string, limit int) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE bot_id = $1 ORDER BY ts DESC`
	args := []interface{}{botID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list trades by bot: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

const tradeColumns = `
	id, bot_id, symbol, side, quantity, price, ts,
	broker_order_id, client_order_id, status, indicator_snapshot, profit_loss, reason`

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var snapshot, reason sql.NullString

	err := row.Scan(&t.ID, &t.BotID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Timestamp,
		&t.BrokerOrderID, &t.ClientOrderID, &t.Status, &snapshot, &t.ProfitLoss, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan trade: %w", err)
	}
	t.IndicatorSnapshot = snapshot.String
	t.Reason = reason.String
	return &t, nil
}
