package postgres

// schemaStatements are idempotent and run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		cash          NUMERIC NOT NULL CHECK (cash >= 0),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(id),
		symbol     TEXT NOT NULL,
		shares     BIGINT NOT NULL,
		price      NUMERIC NOT NULL CHECK (price >= 0),
		total      NUMERIC NOT NULL,
		type       TEXT NOT NULL CHECK (type IN ('buy', 'sell')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_user_idx ON transactions (user_id, id)`,
	`CREATE TABLE IF NOT EXISTS positions (
		user_id    BIGINT NOT NULL REFERENCES users(id),
		symbol     TEXT NOT NULL,
		shares     BIGINT NOT NULL CHECK (shares >= 0),
		cost       NUMERIC NOT NULL,
		last_price NUMERIC NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS system_kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
