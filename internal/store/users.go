package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nimbustrade/tradeengine/internal/models"
)

func (p *Postgres) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx, `SELECT id, email FROM users WHERE id = $1`, userID).Scan(&u.ID, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

func (p *Postgres) GetBrokerCredentials(ctx context.Context, userID string) (*models.BrokerCredentials, error) {
	var c models.BrokerCredentials
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, api_key, secret, base_url, sandbox
		FROM broker_credentials WHERE user_id = $1`, userID).
		Scan(&c.UserID, &c.APIKey, &c.Secret, &c.BaseURL, &c.Sandbox)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get broker credentials: %w", err)
	}
	return &c, nil
}

// ListUserIDsWithCredentials returns every user id that has broker
// credentials on file, the population the Reconciler sweeps each pass.
func (p *Postgres) ListUserIDsWithCredentials(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id FROM broker_credentials`)
	if err != nil {
		return nil, fmt.Errorf("store: list users with credentials: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
