package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nimbustrade/tradeengine/internal/models"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

func (p *Postgres) GetBot(ctx context.Context, botID string) (*models.Bot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, capital, period_secs, symbols,
		       window_start_min, window_end_min, indicators, risk,
		       status, consecutive_errors, last_run_at
		FROM bots WHERE id = $1`, botID)
	return scanBot(row)
}

func (p *Postgres) ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]models.Bot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, name, capital, period_secs, symbols,
		       window_start_min, window_end_min, indicators, risk,
		       status, consecutive_errors, last_run_at
		FROM bots WHERE status = $1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list bots: %w", err)
	}
	defer rows.Close()

	var out []models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bot)
	}
	return out, rows.Err()
}

func (p *Postgres) ListBotsByOwner(ctx context.Context, ownerID string) ([]models.Bot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, name, capital, period_secs, symbols,
		       window_start_min, window_end_min, indicators, risk,
		       status, consecutive_errors, last_run_at
		FROM bots WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list bots by owner: %w", err)
	}
	defer rows.Close()

	var out []models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *bot)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBot(ctx context.Context, bot *models.Bot) error {
	indicatorsJSON, err := json.Marshal(bot.Indicators)
	if err != nil {
		return fmt.Errorf("store: marshal indicators: %w", err)
	}
	riskJSON, err := json.Marshal(bot.Risk)
	if err != nil {
		return fmt.Errorf("store: marshal risk: %w", err)
	}

	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bots (id, owner_id, name, capital, period_secs, symbols,
			                   window_start_min, window_end_min, indicators, risk, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			bot.ID, bot.OwnerID, bot.Name, bot.Capital, bot.PeriodSecs, pq.Array(bot.Symbols),
			bot.Window.StartHour*60+bot.Window.StartMinute, bot.Window.EndHour*60+bot.Window.EndMinute,
			indicatorsJSON, riskJSON, string(bot.Status))
		if err != nil {
			return fmt.Errorf("store: create bot: %w", err)
		}
		return nil
	})
}

func (p *Postgres) UpdateBotStatus(ctx context.Context, botID string, status models.BotStatus) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE bots SET status = $1 WHERE id = $2`, string(status), botID)
		if err != nil {
			return fmt.Errorf("store: update bot status: %w", err)
		}
		return requireRowsAffected(res)
	})
}

// IncrementBotError atomically bumps the consecutive-error counter and
// returns its new value, so the caller can compare against the cap without
// a separate read.
func (p *Postgres) IncrementBotError(ctx context.Context, botID string) (int, error) {
	var count int
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			UPDATE bots SET consecutive_errors = consecutive_errors + 1
			WHERE id = $1 RETURNING consecutive_errors`, botID).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("store: increment bot error: %w", err)
	}
	return count, nil
}

func (p *Postgres) ResetBotError(ctx context.Context, botID string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE bots SET consecutive_errors = 0 WHERE id = $1`, botID)
		if err != nil {
			return fmt.Errorf("store: reset bot error: %w", err)
		}
		return nil
	})
}

func (p *Postgres) TouchBotLastRun(ctx context.Context, botID string, at time.Time) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE bots SET last_run_at = $1 WHERE id = $2`, at, botID)
		if err != nil {
			return fmt.Errorf("store: touch bot last run: %w", err)
		}
		return nil
	})
}

func (p *Postgres) DeleteBot(ctx context.Context, botID string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = $1`, botID)
		if err != nil {
			return fmt.Errorf("store: delete bot: %w", err)
		}
		return requireRowsAffected(res)
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner) (*models.Bot, error) {
	var bot models.Bot
	var symbols pq.StringArray
	var indicatorsJSON, riskJSON []byte
	var windowStart, windowEnd int
	var lastRun sql.NullTime

	err := row.Scan(&bot.ID, &bot.OwnerID, &bot.Name, &bot.Capital, &bot.PeriodSecs, &symbols,
		&windowStart, &windowEnd, &indicatorsJSON, &riskJSON,
		&bot.Status, &bot.ConsecutiveErrors, &lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan bot: %w", err)
	}

	bot.Symbols = []string(symbols)
	bot.Window = models.TradingWindow{
		StartHour: windowStart / 60, StartMinute: windowStart % 60,
		EndHour: windowEnd / 60, EndMinute: windowEnd % 60,
	}
	if err := json.Unmarshal(indicatorsJSON, &bot.Indicators); err != nil {
		return nil, fmt.Errorf("store: unmarshal indicators: %w", err)
	}
	if err := json.Unmarshal(riskJSON, &bot.Risk); err != nil {
		return nil, fmt.Errorf("store: unmarshal risk: %w", err)
	}
	if lastRun.Valid {
		bot.LastRunAt = lastRun.Time
	}
	return &bot, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
