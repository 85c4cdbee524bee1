package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/shopspring/decimal"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const (
	maxTxRetries = 8

	// conflictMarker is thrown by the commit query when the account version
	// moved between the read and the write.
	conflictMarker = "ledger_conflict"
)

// Amounts are held as decimal strings so no value passes through float64
// on the way in or out of the database.
type accountRecord struct {
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Cash         string    `json:"cash"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

type tradeRecord struct {
	TradeID   int64     `json:"trade_id"`
	UserID    int64     `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Shares    int64     `json:"shares"`
	Price     string    `json:"price"`
	Total     string    `json:"total"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type positionRecord struct {
	UserID    int64     `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Shares    int64     `json:"shares"`
	Cost      string    `json:"cost"`
	LastPrice string    `json:"last_price"`
	UpdatedAt time.Time `json:"updated_at"`
}

type counterRecord struct {
	Value int64 `json:"value"`
}

type sysKV struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	DateTime time.Time `json:"datetime"`
}

// LedgerStore implements interfaces.LedgerStore on SurrealDB. Trade writes
// are one BEGIN/COMMIT query guarded by an account version check; a
// per-user lock serialises writers within this process and the version
// guard catches writers in other processes.
type LedgerStore struct {
	db     *surrealdb.DB
	logger *common.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

var _ interfaces.LedgerStore = (*LedgerStore)(nil)

func NewLedgerStore(db *surrealdb.DB, logger *common.Logger) *LedgerStore {
	return &LedgerStore{
		db:     db,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
		now:    time.Now,
	}
}

func (s *LedgerStore) lockUser(userID int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[userID] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func positionID(userID int64, symbol string) string {
	return fmt.Sprintf("%d_%s", userID, symbol)
}

// firstError surfaces statement-level failures that a multi-statement
// query reports in its results rather than as the call error.
func firstError[T any](results *[]surrealdb.QueryResult[T], err error) error {
	if err != nil {
		return err
	}
	if results == nil {
		return nil
	}
	for _, r := range *results {
		if r.Status == "ERR" {
			return fmt.Errorf("query failed: %v", r.Result)
		}
	}
	return nil
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, conflictMarker) || strings.Contains(msg, "conflict")
}

func (s *LedgerStore) nextID(ctx context.Context, name string) (int64, error) {
	sql := "UPSERT type::record('counter', $name) SET value += 1 RETURN AFTER"
	vars := map[string]any{"name": name}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		results, err := surrealdb.Query[[]counterRecord](ctx, s.db, sql, vars)
		if err = firstError(results, err); err != nil {
			lastErr = err
			continue
		}
		if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
			lastErr = errors.New("counter returned no value")
			continue
		}
		return (*results)[0].Result[0].Value, nil
	}
	return 0, fmt.Errorf("failed to allocate %s id after retries: %w", name, lastErr)
}

// --- Users ---

func toUser(rec *accountRecord) (*models.User, error) {
	cash, err := decimal.NewFromString(rec.Cash)
	if err != nil {
		return nil, fmt.Errorf("corrupt cash for user %d: %w", rec.UserID, err)
	}
	return &models.User{
		ID:           rec.UserID,
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		Cash:         cash,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (s *LedgerStore) CreateUser(ctx context.Context, user *models.User) error {
	if _, err := s.GetUserByUsername(ctx, user.Username); err == nil {
		return fmt.Errorf("%w: %s", models.ErrUsernameTaken, user.Username)
	} else if !errors.Is(err, models.ErrUserNotFound) {
		return err
	}

	id, err := s.nextID(ctx, "user")
	if err != nil {
		return err
	}
	user.ID = id
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	rec := accountRecord{
		UserID:       user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Cash:         user.Cash.String(),
		CreatedAt:    user.CreatedAt,
	}
	sql := "CREATE type::record('account', $id) CONTENT $acct"
	vars := map[string]any{"id": user.ID, "acct": rec}

	results, err := surrealdb.Query[[]accountRecord](ctx, s.db, sql, vars)
	if err = firstError(results, err); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "account_username") || strings.Contains(msg, "already contains") {
			return fmt.Errorf("%w: %s", models.ErrUsernameTaken, user.Username)
		}
		return fmt.Errorf("failed to create user '%s': %w", user.Username, err)
	}

	s.logger.Debug().Int64("user_id", user.ID).Str("username", user.Username).Msg("User created")
	return nil
}

func (s *LedgerStore) getAccount(ctx context.Context, userID int64) (*accountRecord, error) {
	rec, err := surrealdb.Select[accountRecord](ctx, s.db, surrealmodels.NewRecordID("account", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to select user %d: %w", userID, err)
	}
	if rec == nil || rec.UserID == 0 {
		return nil, fmt.Errorf("%w: id %d", models.ErrUserNotFound, userID)
	}
	return rec, nil
}

func (s *LedgerStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	rec, err := s.getAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toUser(rec)
}

func (s *LedgerStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	sql := "SELECT * FROM account WHERE username = $username LIMIT 1"
	vars := map[string]any{"username": username}

	results, err := surrealdb.Query[[]accountRecord](ctx, s.db, sql, vars)
	if err = firstError(results, err); err != nil {
		return nil, fmt.Errorf("failed to query user '%s': %w", username, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrUserNotFound, username)
	}
	return toUser(&(*results)[0].Result[0])
}

func (s *LedgerStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	sql := "SELECT user_id FROM account ORDER BY user_id ASC"
	results, err := surrealdb.Query[[]accountRecord](ctx, s.db, sql, nil)
	if err = firstError(results, err); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var ids []int64
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			ids = append(ids, r.UserID)
		}
	}
	return ids, nil
}

// --- Trades ---

func toTrade(rec *tradeRecord) (*models.Trade, error) {
	price, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return nil, fmt.Errorf("corrupt price on trade %d: %w", rec.TradeID, err)
	}
	total, err := decimal.NewFromString(rec.Total)
	if err != nil {
		return nil, fmt.Errorf("corrupt total on trade %d: %w", rec.TradeID, err)
	}
	return &models.Trade{
		ID:        rec.TradeID,
		UserID:    rec.UserID,
		Symbol:    rec.Symbol,
		Shares:    rec.Shares,
		Price:     price,
		Total:     total,
		Type:      models.TradeType(rec.Type),
		CreatedAt: rec.CreatedAt,
	}, nil
}

func fromTrade(t *models.Trade) tradeRecord {
	return tradeRecord{
		TradeID:   t.ID,
		UserID:    t.UserID,
		Symbol:    t.Symbol,
		Shares:    t.Shares,
		Price:     t.Price.String(),
		Total:     t.Total.String(),
		Type:      string(t.Type),
		CreatedAt: t.CreatedAt,
	}
}

func toPosition(rec *positionRecord) (*models.Position, error) {
	cost, err := decimal.NewFromString(rec.Cost)
	if err != nil {
		return nil, fmt.Errorf("corrupt cost on position %s: %w", rec.Symbol, err)
	}
	last, err := decimal.NewFromString(rec.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt last price on position %s: %w", rec.Symbol, err)
	}
	return &models.Position{
		UserID:    rec.UserID,
		Symbol:    rec.Symbol,
		Shares:    rec.Shares,
		Cost:      cost,
		LastPrice: last,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func fromPosition(p *models.Position) positionRecord {
	return positionRecord{
		UserID:    p.UserID,
		Symbol:    p.Symbol,
		Shares:    p.Shares,
		Cost:      p.Cost.String(),
		LastPrice: p.LastPrice.String(),
		UpdatedAt: p.UpdatedAt,
	}
}

func (s *LedgerStore) getPosition(ctx context.Context, userID int64, symbol string) (*models.Position, error) {
	rec, err := surrealdb.Select[positionRecord](ctx, s.db, surrealmodels.NewRecordID("position", positionID(userID, symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to select position %s for user %d: %w", symbol, userID, err)
	}
	if rec == nil || rec.Symbol == "" {
		return &models.Position{UserID: userID, Symbol: symbol}, nil
	}
	return toPosition(rec)
}

const commitTradeSQL = `BEGIN TRANSACTION;
LET $current = (SELECT VALUE version FROM ONLY $aid);
IF $current != $version { THROW "` + conflictMarker + `" };
UPDATE $aid SET cash = $cash, version = $version + 1;
CREATE $tid CONTENT $trade;
UPSERT $pid CONTENT $position;
COMMIT TRANSACTION;`

func (s *LedgerStore) ExecuteTrade(ctx context.Context, userID int64, symbol string, fn interfaces.TradeFunc) (*models.Trade, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acct, err := s.getAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		cash, err := decimal.NewFromString(acct.Cash)
		if err != nil {
			return nil, fmt.Errorf("corrupt cash for user %d: %w", userID, err)
		}
		pos, err := s.getPosition(ctx, userID, symbol)
		if err != nil {
			return nil, err
		}

		trade, err := fn(models.AccountState{UserID: userID, Cash: cash, NetShares: pos.Shares})
		if err != nil {
			return nil, err
		}
		trade.UserID = userID
		trade.Symbol = symbol
		trade.CreatedAt = s.now()

		newCash := cash.Sub(trade.Total)
		if newCash.IsNegative() {
			return nil, fmt.Errorf("%w: balance would be %s", models.ErrInsufficientFunds, newCash)
		}
		pos.Apply(trade)
		if pos.Shares < 0 {
			return nil, fmt.Errorf("%w: position would be %d", models.ErrInsufficientShares, pos.Shares)
		}

		id, err := s.nextID(ctx, "trade")
		if err != nil {
			return nil, err
		}
		trade.ID = id

		vars := map[string]any{
			"aid":      surrealmodels.NewRecordID("account", userID),
			"tid":      surrealmodels.NewRecordID("trade", trade.ID),
			"pid":      surrealmodels.NewRecordID("position", positionID(userID, symbol)),
			"version":  acct.Version,
			"cash":     newCash.String(),
			"trade":    fromTrade(trade),
			"position": fromPosition(pos),
		}
		results, err := surrealdb.Query[any](ctx, s.db, commitTradeSQL, vars)
		err = firstError(results, err)
		if isConflict(err) {
			s.logger.Debug().Int64("user_id", userID).Int("attempt", attempt).Msg("Ledger version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to execute trade for user %d: %w", userID, err)
		}

		s.logger.Debug().
			Int64("user_id", userID).
			Int64("trade_id", trade.ID).
			Str("symbol", symbol).
			Int64("shares", trade.Shares).
			Msg("Trade committed")
		return trade, nil
	}
	return nil, fmt.Errorf("failed to execute trade for user %d: gave up after %d conflicts", userID, maxTxRetries)
}

func (s *LedgerStore) ListTrades(ctx context.Context, userID int64) ([]*models.Trade, error) {
	sql := "SELECT * FROM trade WHERE user_id = $uid ORDER BY trade_id ASC"
	results, err := surrealdb.Query[[]tradeRecord](ctx, s.db, sql, map[string]any{"uid": userID})
	if err = firstError(results, err); err != nil {
		return nil, fmt.Errorf("failed to list trades for user %d: %w", userID, err)
	}
	var trades []*models.Trade
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			t, err := toTrade(&(*results)[0].Result[i])
			if err != nil {
				return nil, err
			}
			trades = append(trades, t)
		}
	}
	return trades, nil
}

func (s *LedgerStore) Positions(ctx context.Context, userID int64) ([]*models.Position, error) {
	sql := "SELECT * FROM position WHERE user_id = $uid ORDER BY symbol ASC"
	results, err := surrealdb.Query[[]positionRecord](ctx, s.db, sql, map[string]any{"uid": userID})
	if err = firstError(results, err); err != nil {
		return nil, fmt.Errorf("failed to list positions for user %d: %w", userID, err)
	}
	var positions []*models.Position
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			p, err := toPosition(&(*results)[0].Result[i])
			if err != nil {
				return nil, err
			}
			positions = append(positions, p)
		}
	}
	return positions, nil
}

func (s *LedgerStore) NetShares(ctx context.Context, userID int64, symbol string) (int64, error) {
	pos, err := s.getPosition(ctx, userID, symbol)
	if err != nil {
		return 0, err
	}
	return pos.Shares, nil
}

func (s *LedgerStore) RebuildPositions(ctx context.Context, userID int64) error {
	unlock := s.lockUser(userID)
	defer unlock()

	trades, err := s.ListTrades(ctx, userID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\nDELETE position WHERE user_id = $uid;\n")
	vars := map[string]any{"uid": userID}
	for i, pos := range models.AggregatePositions(userID, trades) {
		fmt.Fprintf(&sb, "UPSERT $pid%d CONTENT $p%d;\n", i, i)
		vars[fmt.Sprintf("pid%d", i)] = surrealmodels.NewRecordID("position", positionID(userID, pos.Symbol))
		vars[fmt.Sprintf("p%d", i)] = fromPosition(pos)
	}
	sb.WriteString("COMMIT TRANSACTION;")

	results, err := surrealdb.Query[any](ctx, s.db, sb.String(), vars)
	if err = firstError(results, err); err != nil {
		return fmt.Errorf("failed to rebuild positions for user %d: %w", userID, err)
	}
	return nil
}

// --- System KV ---

func (s *LedgerStore) GetSystemKV(ctx context.Context, key string) (string, error) {
	kv, err := surrealdb.Select[sysKV](ctx, s.db, surrealmodels.NewRecordID("system_kv", key))
	if err != nil {
		return "", fmt.Errorf("failed to get system kv '%s': %w", key, err)
	}
	if kv == nil {
		return "", nil
	}
	return kv.Value, nil
}

func (s *LedgerStore) SetSystemKV(ctx context.Context, key, value string) error {
	kv := sysKV{Key: key, Value: value, DateTime: s.now()}

	sql := "UPSERT type::record('system_kv', $id) CONTENT $kv"
	vars := map[string]any{"id": key, "kv": kv}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]sysKV](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to set system KV after retries: %w", err)
		}
	}
	return nil
}

func (s *LedgerStore) Close() error {
	return nil
}
