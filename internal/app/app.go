package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/papertrade/internal/clients/simulated"
	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/services/account"
	"github.com/bobmcallan/papertrade/internal/services/ledger"
	"github.com/bobmcallan/papertrade/internal/services/quote"
	"github.com/bobmcallan/papertrade/internal/storage"
)

// App holds all initialized services, clients and storage.
// It is the shared core used by cmd/papertrade-server and the tests.
type App struct {
	Config         *common.Config
	Logger         *common.Logger
	Storage        interfaces.StorageManager
	Providers      []interfaces.QuoteProvider
	Oracle         interfaces.PriceOracle
	AccountService interfaces.AccountService
	LedgerService  interfaces.LedgerService
	StartupTime    time.Time

	market      *simulated.Client
	marketStop  context.CancelFunc
	cacheCloser func() error
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath checks the provided path, PAPERTRADE_CONFIG, the binary
// directory, then the development fallback.
func resolveConfigPath(configPath, binDir string) string {
	if configPath == "" {
		configPath = os.Getenv("PAPERTRADE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "papertrade.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/papertrade.toml"
		}
	}
	return configPath
}

// NewApp loads configuration and initializes storage, quote providers and
// services. configPath may be empty, in which case the default resolution
// logic is used.
func NewApp(configPath string) (*App, error) {
	common.LoadVersionFromFile()

	binDir := getBinaryDir()
	config, err := common.LoadConfig(resolveConfigPath(configPath, binDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative data and log paths to the binary directory
	if p := config.Storage.Badger.Path; p != "" && !filepath.IsAbs(p) {
		config.Storage.Badger.Path = filepath.Join(binDir, p)
	}
	if p := config.Logging.FilePath; p != "" && !filepath.IsAbs(p) {
		config.Logging.FilePath = filepath.Join(binDir, p)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return NewAppWithConfig(config, logger)
}

// NewAppWithConfig wires the application from an already loaded config.
func NewAppWithConfig(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()
	ctx := context.Background()

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		StartupTime: startupStart,
	}

	if err := checkSchemaVersion(ctx, storageManager.LedgerStore(), config.Ledger.RebuildPositions, logger); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.initQuotes(ctx); err != nil {
		a.Close()
		return nil, err
	}

	store := storageManager.LedgerStore()
	credentials := account.NewBcryptCredentials(config.Auth.BcryptCost)
	a.AccountService = account.NewService(store, credentials, config.Ledger.GetInitialCash(), logger)
	a.LedgerService = ledger.NewService(store, a.Oracle, config.Ledger, logger)

	logger.Info().
		Str("storage", storageManager.Backend()).
		Str("quotes", config.Quotes.Provider).
		Str("initial_cash", config.Ledger.GetInitialCash().StringFixed(2)).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// initQuotes builds the provider chain, the cache and the price oracle.
func (a *App) initQuotes(ctx context.Context) error {
	cfg := a.Config.Quotes

	primary, err := a.newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	a.Providers = []interfaces.QuoteProvider{primary}
	if cfg.Fallback != "" {
		fallback, err := a.newProvider(cfg.Fallback)
		if err != nil {
			a.Logger.Warn().Err(err).Str("provider", cfg.Fallback).Msg("Fallback quote provider unavailable")
		} else {
			a.Providers = append(a.Providers, fallback)
		}
	}

	var cache interfaces.QuoteCache
	switch cfg.Cache {
	case common.CacheRedis:
		rc, err := quote.NewRedisCache(ctx, cfg.Redis, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize quote cache: %w", err)
		}
		cache = rc
		a.cacheCloser = rc.Close
	case common.CacheNone:
	default:
		cache = quote.NewMemoryCache()
	}

	a.Oracle = quote.NewService(a.Providers, cache, cfg.GetCacheTTL(), cfg.GetTimeout(), a.Logger)
	return nil
}

// Market returns the simulated market when it is one of the providers.
func (a *App) Market() *simulated.Client {
	return a.market
}

// Close releases all resources held by the App.
// Shutdown order: stop the market ticker, close the quote cache, close storage.
func (a *App) Close() {
	if a.marketStop != nil {
		a.marketStop()
		a.marketStop = nil
	}
	if a.cacheCloser != nil {
		if err := a.cacheCloser(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close quote cache")
		}
		a.cacheCloser = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
		a.Storage = nil
	}
}
