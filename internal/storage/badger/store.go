// Package badger implements the embedded LedgerStore using BadgerHold.
// Writes run inside Badger's serializable transactions; a commit that loses
// a conflict is retried, re-running validation against fresh state.
package badger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	tradeSeqKey = "_seq_trade"
	userSeqKey  = "_seq_user"
	seqLease    = 100

	// maxTxRetries bounds the optimistic retry loop on badger.ErrConflict.
	maxTxRetries = 16
)

// Store wraps a BadgerHold database connection.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger

	seqMu    sync.Mutex
	tradeSeq *badger.Sequence
	userSeq  *badger.Sequence

	userLocks sync.Map // int64 -> *sync.Mutex

	now func() time.Time
}

var _ interfaces.LedgerStore = (*Store)(nil)

// NewStore creates a new BadgerHold store at the given directory path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	tradeSeq, err := db.Badger().GetSequence([]byte(tradeSeqKey), seqLease)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open trade sequence: %w", err)
	}
	userSeq, err := db.Badger().GetSequence([]byte(userSeqKey), seqLease)
	if err != nil {
		tradeSeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open user sequence: %w", err)
	}

	logger.Info().Str("path", path).Msg("Ledger store opened (badger)")

	return &Store{
		db:       db,
		logger:   logger,
		tradeSeq: tradeSeq,
		userSeq:  userSeq,
		now:      time.Now,
	}, nil
}

// DB returns the underlying badgerhold store.
func (s *Store) DB() *badgerhold.Store {
	return s.db
}

// nextID draws the next value from a sequence. Sequences start at zero, so
// IDs are offset by one to keep zero meaning "unset".
func (s *Store) nextID(seq *badger.Sequence) (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// lockUser serialises writers for one user.
func (s *Store) lockUser(userID int64) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		err = s.db.Badger().Update(fn)
		if err != badger.ErrConflict {
			return err
		}
		s.logger.Debug().Int("attempt", attempt).Msg("Badger transaction conflict, retrying")
		time.Sleep(time.Duration(attempt) * time.Millisecond)
	}
	return fmt.Errorf("transaction aborted after %d conflicts: %w", maxTxRetries, err)
}

// Close releases the sequences and closes the BadgerHold database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if s.tradeSeq != nil {
		_ = s.tradeSeq.Release()
		s.tradeSeq = nil
	}
	if s.userSeq != nil {
		_ = s.userSeq.Release()
		s.userSeq = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
