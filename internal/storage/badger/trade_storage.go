package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// posSep separates the user id and symbol in a position key.
const posSep = "\x00"

func positionKey(userID int64, symbol string) string {
	return fmt.Sprintf("%d%s%s", userID, posSep, symbol)
}

// ExecuteTrade performs the read-validate-write for one trade inside a single
// Badger transaction. The user record and the position row are read through
// the transaction, so a concurrent commit touching either forces a conflict
// and fn is re-run against the new state.
func (s *Store) ExecuteTrade(ctx context.Context, userID int64, symbol string, fn interfaces.TradeFunc) (*models.Trade, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	var result *models.Trade
	err := s.update(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		var user models.User
		if err := s.db.TxGet(txn, userID, &user); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: id %d", models.ErrUserNotFound, userID)
			}
			return err
		}

		key := positionKey(userID, symbol)
		pos := models.Position{UserID: userID, Symbol: symbol}
		if err := s.db.TxGet(txn, key, &pos); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		trade, err := fn(models.AccountState{UserID: userID, Cash: user.Cash, NetShares: pos.Shares})
		if err != nil {
			return err
		}

		trade.UserID = userID
		trade.Symbol = symbol
		trade.CreatedAt = s.now()

		user.Cash = user.Cash.Sub(trade.Total)
		if user.Cash.IsNegative() {
			return fmt.Errorf("%w: balance would be %s", models.ErrInsufficientFunds, user.Cash)
		}
		pos.Apply(trade)
		if pos.Shares < 0 {
			return fmt.Errorf("%w: position would be %d", models.ErrInsufficientShares, pos.Shares)
		}

		id, err := s.nextID(s.tradeSeq)
		if err != nil {
			return fmt.Errorf("failed to allocate trade id: %w", err)
		}
		trade.ID = id

		if err := s.db.TxUpdate(txn, userID, &user); err != nil {
			return err
		}
		if err := s.db.TxInsert(txn, trade.ID, trade); err != nil {
			return err
		}
		if err := s.db.TxUpsert(txn, key, &pos); err != nil {
			return err
		}

		result = trade
		return nil
	})
	if err != nil {
		if models.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to execute trade for user %d: %w", userID, err)
	}

	s.logger.Debug().
		Int64("user_id", userID).
		Int64("trade_id", result.ID).
		Str("symbol", symbol).
		Int64("shares", result.Shares).
		Msg("Trade committed")

	return result, nil
}

func (s *Store) ListTrades(_ context.Context, userID int64) ([]*models.Trade, error) {
	var trades []models.Trade
	if err := s.db.Find(&trades, badgerhold.Where("UserID").Eq(userID).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list trades for user %d: %w", userID, err)
	}
	out := make([]*models.Trade, len(trades))
	for i := range trades {
		out[i] = &trades[i]
	}
	return out, nil
}

func (s *Store) Positions(_ context.Context, userID int64) ([]*models.Position, error) {
	var positions []models.Position
	if err := s.db.Find(&positions, badgerhold.Where("UserID").Eq(userID).SortBy("Symbol")); err != nil {
		return nil, fmt.Errorf("failed to list positions for user %d: %w", userID, err)
	}
	out := make([]*models.Position, len(positions))
	for i := range positions {
		out[i] = &positions[i]
	}
	return out, nil
}

func (s *Store) NetShares(_ context.Context, userID int64, symbol string) (int64, error) {
	var pos models.Position
	if err := s.db.Get(positionKey(userID, symbol), &pos); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get position %s for user %d: %w", symbol, userID, err)
	}
	return pos.Shares, nil
}

// RebuildPositions replaces a user's projection with one aggregated from the
// trade log, in a single transaction.
func (s *Store) RebuildPositions(_ context.Context, userID int64) error {
	unlock := s.lockUser(userID)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		var trades []models.Trade
		if err := s.db.TxFind(txn, &trades, badgerhold.Where("UserID").Eq(userID).SortBy("ID")); err != nil {
			return err
		}
		if err := s.db.TxDeleteMatching(txn, &models.Position{}, badgerhold.Where("UserID").Eq(userID)); err != nil {
			return err
		}
		ptrs := make([]*models.Trade, len(trades))
		for i := range trades {
			ptrs[i] = &trades[i]
		}
		for _, pos := range models.AggregatePositions(userID, ptrs) {
			if err := s.db.TxUpsert(txn, positionKey(userID, pos.Symbol), pos); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild positions for user %d: %w", userID, err)
	}
	return nil
}
