package data

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/papertrade/internal/clients/simulated"
	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/services/account"
	"github.com/bobmcallan/papertrade/internal/services/ledger"
	"github.com/bobmcallan/papertrade/internal/services/quote"
	"github.com/bobmcallan/papertrade/internal/storage"
	tcommon "github.com/bobmcallan/papertrade/tests/common"
)

// backends lists every storage backend the suite runs against. Container
// backends skip unless PAPERTRADE_TEST_DOCKER=true.
var backends = []string{common.BackendBadger, common.BackendSurrealDB, common.BackendPostgres}

// testConfig returns a config pointing at a fresh, isolated database for backend.
func testConfig(t *testing.T, backend string) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Environment = "test"
	cfg.Storage.Backend = backend

	switch backend {
	case common.BackendBadger:
		cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "ledger")

	case common.BackendSurrealDB:
		sc := tcommon.StartSurrealDB(t)
		cfg.Storage.SurrealDB = common.SurrealDBConfig{
			Address:   sc.Address(),
			Namespace: "papertrade_data_test",
			Database:  tcommon.UniqueName(t, "d"),
			Username:  "root",
			Password:  "root",
		}

	case common.BackendPostgres:
		pc := tcommon.StartPostgres(t)
		ctx := context.Background()
		dbName := tcommon.UniqueName(t, "d")
		admin, err := pgx.Connect(ctx, pc.DSN("postgres"))
		if err != nil {
			t.Fatalf("connect to Postgres: %v", err)
		}
		if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{dbName}.Sanitize()); err != nil {
			t.Fatalf("create database: %v", err)
		}
		admin.Close(ctx)
		cfg.Storage.Postgres = common.PostgresConfig{DSN: pc.DSN(dbName), MaxConns: 8}
	}
	return cfg
}

// fixture is a fully wired ledger over one backend with a pinned market.
type fixture struct {
	store    interfaces.LedgerStore
	market   *simulated.Client
	accounts interfaces.AccountService
	ledger   interfaces.LedgerService
}

// newFixture opens the backend through the storage factory and wires the
// account and ledger services over it.
func newFixture(t *testing.T, backend string) *fixture {
	t.Helper()
	cfg := testConfig(t, backend)
	logger := common.NewSilentLogger()

	mgr, err := storage.NewStorageManager(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("open %s storage: %v", backend, err)
	}
	t.Cleanup(func() { mgr.Close() })
	if mgr.Backend() != backend {
		t.Fatalf("expected backend %s, got %s", backend, mgr.Backend())
	}

	market := simulated.NewClient(simulated.WithInstruments(nil))
	oracle := quote.NewService([]interfaces.QuoteProvider{market}, nil, 0, cfg.Quotes.GetTimeout(), logger)
	store := mgr.LedgerStore()

	return &fixture{
		store:    store,
		market:   market,
		accounts: account.NewService(store, account.NewBcryptCredentials(4), cfg.Ledger.GetInitialCash(), logger),
		ledger:   ledger.NewService(store, oracle, cfg.Ledger, logger),
	}
}

// forEachBackend runs fn as a subtest per backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			fn(t, newFixture(t, backend))
		})
	}
}
