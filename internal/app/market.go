package app

import (
	"context"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/clients/eodhd"
	"github.com/bobmcallan/papertrade/internal/clients/simulated"
	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
)

// newProvider constructs the named quote provider.
func (a *App) newProvider(name string) (interfaces.QuoteProvider, error) {
	switch name {
	case common.ProviderEODHD:
		cfg := a.Config.Clients.EODHD
		key, err := common.ResolveAPIKey("eodhd_api_key", cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("eodhd quote provider: %w", err)
		}
		opts := []eodhd.ClientOption{
			eodhd.WithLogger(a.Logger),
			eodhd.WithRateLimit(cfg.RateLimit),
			eodhd.WithTimeout(cfg.GetTimeout()),
			eodhd.WithExchange(cfg.Exchange),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, eodhd.WithBaseURL(cfg.BaseURL))
		}
		return eodhd.NewClient(key, opts...), nil

	case common.ProviderSimulated, "":
		if a.market == nil {
			a.market = simulated.NewClient(
				simulated.WithLogger(a.Logger),
				simulated.WithInterval(a.Config.Quotes.GetTickEvery()),
			)
		}
		return a.market, nil

	default:
		return nil, fmt.Errorf("unknown quote provider %q", name)
	}
}

// StartMarket launches the simulated market ticker when the simulated
// provider is in use. It is a no-op otherwise.
func (a *App) StartMarket() {
	if a.market == nil || a.marketStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.marketStop = cancel
	go a.market.Start(ctx)
}
