package store

// schemaSQL creates every table the Store touches. Cascade deletes express
// the ownership chain: Users own Bots own Trades and Positions.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS broker_credentials (
	user_id     TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	api_key     TEXT NOT NULL,
	secret      TEXT NOT NULL,
	base_url    TEXT NOT NULL,
	sandbox     BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS bots (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name                TEXT NOT NULL,
	capital             DOUBLE PRECISION NOT NULL,
	period_secs         INTEGER NOT NULL,
	symbols             TEXT[] NOT NULL,
	window_start_min    INTEGER NOT NULL,
	window_end_min      INTEGER NOT NULL,
	indicators          JSONB NOT NULL DEFAULT '[]',
	risk                JSONB NOT NULL DEFAULT '{}',
	status              TEXT NOT NULL DEFAULT 'stopped',
	consecutive_errors  INTEGER NOT NULL DEFAULT 0,
	last_run_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS positions (
	id                  TEXT PRIMARY KEY,
	bot_id              TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	symbol              TEXT NOT NULL,
	quantity            INTEGER NOT NULL,
	entry_price         DOUBLE PRECISION NOT NULL,
	current_price       DOUBLE PRECISION NOT NULL,
	stop_loss_price     DOUBLE PRECISION,
	take_profit_price   DOUBLE PRECISION,
	unrealized_pnl      DOUBLE PRECISION NOT NULL DEFAULT 0,
	realized_pnl        DOUBLE PRECISION NOT NULL DEFAULT 0,
	opened_at           TIMESTAMPTZ NOT NULL,
	closed_at           TIMESTAMPTZ,
	is_open             BOOLEAN NOT NULL DEFAULT true,
	entry_indicator     TEXT
);
CREATE INDEX IF NOT EXISTS idx_positions_bot_symbol_open ON positions(bot_id, symbol) WHERE is_open;

CREATE TABLE IF NOT EXISTS trades (
	id                  TEXT PRIMARY KEY,
	bot_id              TEXT NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
	symbol              TEXT NOT NULL,
	side                TEXT NOT NULL,
	quantity            INTEGER NOT NULL,
	price               DOUBLE PRECISION NOT NULL,
	ts                  TIMESTAMPTZ NOT NULL,
	broker_order_id     TEXT NOT NULL,
	client_order_id     TEXT NOT NULL UNIQUE,
	status              TEXT NOT NULL,
	indicator_snapshot  JSONB,
	profit_loss         DOUBLE PRECISION,
	reason              TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_pending ON trades(bot_id, status) WHERE status IN ('new', 'partially_filled');

CREATE TABLE IF NOT EXISTS activity_logs (
	id          TEXT PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL DEFAULT now(),
	severity    TEXT NOT NULL,
	category    TEXT NOT NULL,
	message     TEXT NOT NULL,
	details     JSONB,
	bot_id      TEXT,
	user_id     TEXT
);
`
