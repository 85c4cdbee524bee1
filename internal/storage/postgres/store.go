// Package postgres implements the LedgerStore on PostgreSQL via pgx.
// Trade writes lock the user row with SELECT ... FOR UPDATE, so the
// read-validate-write for one user is serialised by the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Store implements interfaces.LedgerStore using a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *common.Logger
	now    func() time.Time
}

var _ interfaces.LedgerStore = (*Store)(nil)

// NewStore connects to Postgres and applies the schema.
func NewStore(ctx context.Context, logger *common.Logger, cfg common.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	logger.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Msg("Ledger store opened (postgres)")

	return &Store{pool: pool, logger: logger, now: time.Now}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	query := `INSERT INTO users (username, password_hash, cash, created_at)
			  VALUES ($1, $2, $3, $4) RETURNING id`

	err := s.pool.QueryRow(ctx, query, user.Username, user.PasswordHash, user.Cash, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", models.ErrUsernameTaken, user.Username)
		}
		return fmt.Errorf("failed to create user '%s': %w", user.Username, err)
	}
	s.logger.Debug().Int64("user_id", user.ID).Str("username", user.Username).Msg("User created")
	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Cash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	query := `SELECT id, username, password_hash, cash, created_at FROM users WHERE id = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", models.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, password_hash, cash, created_at FROM users WHERE username = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("failed to get user '%s': %w", username, err)
	}
	return u, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

// --- Trades ---

func (s *Store) ExecuteTrade(ctx context.Context, userID int64, symbol string, fn interfaces.TradeFunc) (*models.Trade, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var state models.AccountState
	state.UserID = userID
	err = tx.QueryRow(ctx, `SELECT cash FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&state.Cash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", models.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("failed to lock user %d: %w", userID, err)
	}

	pos, err := getPosition(ctx, tx, userID, symbol)
	if err != nil {
		return nil, err
	}
	state.NetShares = pos.Shares

	trade, err := fn(state)
	if err != nil {
		return nil, err
	}
	trade.UserID = userID
	trade.Symbol = symbol
	trade.CreatedAt = s.now()

	newCash := state.Cash.Sub(trade.Total)
	if newCash.IsNegative() {
		return nil, fmt.Errorf("%w: balance would be %s", models.ErrInsufficientFunds, newCash)
	}
	pos.Apply(trade)
	if pos.Shares < 0 {
		return nil, fmt.Errorf("%w: position would be %d", models.ErrInsufficientShares, pos.Shares)
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET cash = $1 WHERE id = $2`, newCash, userID); err != nil {
		return nil, fmt.Errorf("failed to update cash for user %d: %w", userID, err)
	}

	insert := `INSERT INTO transactions (user_id, symbol, shares, price, total, type, created_at)
			   VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err = tx.QueryRow(ctx, insert, userID, symbol, trade.Shares, trade.Price, trade.Total, string(trade.Type), trade.CreatedAt).Scan(&trade.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record trade for user %d: %w", userID, err)
	}

	if err := upsertPosition(ctx, tx, pos); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit trade for user %d: %w", userID, err)
	}

	s.logger.Debug().
		Int64("user_id", userID).
		Int64("trade_id", trade.ID).
		Str("symbol", symbol).
		Int64("shares", trade.Shares).
		Msg("Trade committed")

	return trade, nil
}

func getPosition(ctx context.Context, q querier, userID int64, symbol string) (*models.Position, error) {
	pos := &models.Position{UserID: userID, Symbol: symbol}
	query := `SELECT shares, cost, last_price, updated_at FROM positions WHERE user_id = $1 AND symbol = $2`
	err := q.QueryRow(ctx, query, userID, symbol).Scan(&pos.Shares, &pos.Cost, &pos.LastPrice, &pos.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get position %s for user %d: %w", symbol, userID, err)
	}
	return pos, nil
}

func upsertPosition(ctx context.Context, q querier, pos *models.Position) error {
	query := `INSERT INTO positions (user_id, symbol, shares, cost, last_price, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (user_id, symbol) DO UPDATE
			  SET shares = EXCLUDED.shares, cost = EXCLUDED.cost,
			      last_price = EXCLUDED.last_price, updated_at = EXCLUDED.updated_at`
	if _, err := q.Exec(ctx, query, pos.UserID, pos.Symbol, pos.Shares, pos.Cost, pos.LastPrice, pos.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert position %s for user %d: %w", pos.Symbol, pos.UserID, err)
	}
	return nil
}

func (s *Store) ListTrades(ctx context.Context, userID int64) ([]*models.Trade, error) {
	query := `SELECT id, user_id, symbol, shares, price, total, type, created_at
			  FROM transactions WHERE user_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades for user %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		var typ string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Shares, &t.Price, &t.Total, &typ, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade for user %d: %w", userID, err)
		}
		t.Type = models.TradeType(typ)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades for user %d: %w", userID, err)
	}
	return trades, nil
}

func (s *Store) Positions(ctx context.Context, userID int64) ([]*models.Position, error) {
	query := `SELECT user_id, symbol, shares, cost, last_price, updated_at
			  FROM positions WHERE user_id = $1 ORDER BY symbol`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for user %d: %w", userID, err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Shares, &p.Cost, &p.LastPrice, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position for user %d: %w", userID, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions for user %d: %w", userID, err)
	}
	return positions, nil
}

func (s *Store) NetShares(ctx context.Context, userID int64, symbol string) (int64, error) {
	pos, err := getPosition(ctx, s.pool, userID, symbol)
	if err != nil {
		return 0, err
	}
	return pos.Shares, nil
}

// RebuildPositions replaces the projection for a user under the user row
// lock, so no trade can interleave with the rebuild.
func (s *Store) RebuildPositions(ctx context.Context, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID); err != nil {
		return fmt.Errorf("failed to lock user %d: %w", userID, err)
	}

	rows, err := tx.Query(ctx, `SELECT id, user_id, symbol, shares, price, total, type, created_at
								FROM transactions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return fmt.Errorf("failed to read trades for user %d: %w", userID, err)
	}
	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		var typ string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Shares, &t.Price, &t.Total, &typ, &t.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan trade for user %d: %w", userID, err)
		}
		t.Type = models.TradeType(typ)
		trades = append(trades, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate trades for user %d: %w", userID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear positions for user %d: %w", userID, err)
	}
	for _, pos := range models.AggregatePositions(userID, trades) {
		if err := upsertPosition(ctx, tx, pos); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rebuild for user %d: %w", userID, err)
	}
	return nil
}

// --- System KV ---

func (s *Store) GetSystemKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system kv '%s': %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSystemKV(ctx context.Context, key, value string) error {
	query := `INSERT INTO system_kv (key, value, updated_at) VALUES ($1, $2, $3)
			  ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, query, key, value, s.now()); err != nil {
		return fmt.Errorf("failed to set system kv '%s': %w", key, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
