package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nimbustrade/tradeengine/internal/models"
)

// ListActivityLogsByBot returns a bot's activity log entries newest-first,
// capped at limit (0 means unbounded).
func (p *Postgres) ListActivityLogsByBot(ctx context.Context, botID string, limit int) ([]models.ActivityLog, error) {
	query := `SELECT id, ts, severity, category, message, details, bot_id, user_id
		FROM activity_logs WHERE bot_id = $1 ORDER BY ts DESC`
	args := []interface{}{botID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list activity logs by bot: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityLog
	for rows.Next() {
		var e models.ActivityLog
		var details, botIDCol, userID sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Severity, &e.Category, &e.Message, &details, &botIDCol, &userID); err != nil {
			return nil, fmt.Errorf("store: scan activity log: %w", err)
		}
		e.Details = details.String
		e.BotID = botIDCol.String
		e.UserID = userID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendActivityLog(ctx context.Context, entry *models.ActivityLog) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activity_logs (id, ts, severity, category, message, details, bot_id, user_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			entry.ID, entry.Timestamp, string(entry.Severity), entry.Category, entry.Message,
			nullableString(entry.Details), nullableString(entry.BotID), nullableString(entry.UserID))
		if err != nil {
			return fmt.Errorf("store: append activity log: %w", err)
		}
		return nil
	})
}
