package surrealdb

import (
	"context"
	"testing"

	"github.com/bobmcallan/papertrade/internal/common"
	tcommon "github.com/bobmcallan/papertrade/tests/common"
	surreal "github.com/surrealdb/surrealdb.go"
)

// testConfig starts the shared SurrealDB container and returns a config
// pointing at a unique database per test to ensure isolation.
func testConfig(t *testing.T) *common.Config {
	t.Helper()
	sc := tcommon.StartSurrealDB(t)

	cfg := common.NewDefaultConfig()
	cfg.Environment = "test"
	cfg.Storage.Backend = common.BackendSurrealDB
	cfg.Storage.SurrealDB = common.SurrealDBConfig{
		Address:   sc.Address(),
		Namespace: "papertrade_test",
		Database:  tcommon.UniqueName(t, "t"),
		Username:  "root",
		Password:  "root",
	}
	return cfg
}

// testStore opens a Manager against a fresh database and returns its ledger.
func testStore(t *testing.T) *LedgerStore {
	t.Helper()
	mgr, err := NewManager(testLogger(), testConfig(t))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr.ledger
}

// rawDB returns a second connection to the same database as cfg.
func rawDB(t *testing.T, cfg *common.Config) *surreal.DB {
	t.Helper()
	ctx := context.Background()
	sc := cfg.Storage.SurrealDB

	db, err := surreal.New(sc.Address)
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}
	if _, err := db.SignIn(ctx, map[string]interface{}{"user": sc.Username, "pass": sc.Password}); err != nil {
		t.Fatalf("sign in to SurrealDB: %v", err)
	}
	if err := db.Use(ctx, sc.Namespace, sc.Database); err != nil {
		t.Fatalf("select namespace/database: %v", err)
	}
	t.Cleanup(func() { db.Close(context.Background()) })
	return db
}

// testLogger returns a silent logger for tests.
func testLogger() *common.Logger {
	return common.NewSilentLogger()
}
