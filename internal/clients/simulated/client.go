// Package simulated provides an in-process quote provider whose prices
// follow a bounded random walk.
package simulated

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// DefaultInterval is how often Start moves prices.
const DefaultInterval = 2 * time.Second

// maxStep is the largest fractional move per tick in either direction.
const maxStep = 0.005

// Instrument is one listed symbol with its display name and opening price.
type Instrument struct {
	Symbol string
	Name   string
	Price  float64
}

// DefaultInstruments seeds the market when no table is supplied.
var DefaultInstruments = []Instrument{
	{Symbol: "AAPL", Name: "Apple Inc.", Price: 189.84},
	{Symbol: "AMZN", Name: "Amazon.com, Inc.", Price: 178.22},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Price: 164.57},
	{Symbol: "IBM", Name: "International Business Machines Corporation", Price: 171.30},
	{Symbol: "META", Name: "Meta Platforms, Inc.", Price: 494.12},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Price: 425.27},
	{Symbol: "NFLX", Name: "Netflix, Inc.", Price: 632.05},
	{Symbol: "NVDA", Name: "NVIDIA Corporation", Price: 118.11},
	{Symbol: "TSLA", Name: "Tesla, Inc.", Price: 177.46},
}

type listing struct {
	name    string
	price   float64
	updated time.Time
}

// Client implements interfaces.QuoteProvider over an in-memory market.
type Client struct {
	mu       sync.RWMutex
	listings map[string]*listing
	rng      *rand.Rand
	interval time.Duration
	logger   *common.Logger
	now      func() time.Time
}

var _ interfaces.QuoteProvider = (*Client)(nil)

// Option configures the client
type Option func(*Client)

// WithInstruments replaces the default symbol table.
func WithInstruments(instruments []Instrument) Option {
	return func(c *Client) {
		c.listings = make(map[string]*listing, len(instruments))
		for _, in := range instruments {
			c.listings[strings.ToUpper(in.Symbol)] = &listing{name: in.Name, price: in.Price}
		}
	}
}

// WithInterval sets the tick interval used by Start.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithSeed makes the walk reproducible.
func WithSeed(seed uint64) Option {
	return func(c *Client) {
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a simulated market seeded with DefaultInstruments.
func NewClient(opts ...Option) *Client {
	c := &Client{
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		interval: DefaultInterval,
		logger:   common.NewSilentLogger(),
		now:      time.Now,
	}
	WithInstruments(DefaultInstruments)(c)
	for _, opt := range opts {
		opt(c)
	}
	now := c.now()
	for _, l := range c.listings {
		l.updated = now
	}
	return c
}

// Name implements interfaces.QuoteProvider.
func (c *Client) Name() string {
	return "simulated"
}

// GetQuote implements interfaces.QuoteProvider.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.listings[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrQuoteNotFound, symbol)
	}
	return &models.Quote{
		Symbol:    key,
		Name:      l.name,
		Price:     math.Round(l.price*100) / 100,
		Source:    c.Name(),
		Timestamp: l.updated,
	}, nil
}

// SetPrice lists symbol at price, adding it if absent.
func (c *Client) SetPrice(symbol, name string, price float64) {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.listings[key]
	if !ok {
		l = &listing{name: name}
		c.listings[key] = l
	}
	if name != "" {
		l.name = name
	}
	l.price = price
	l.updated = c.now()
}

// Delist removes a symbol so that lookups fail.
func (c *Client) Delist(symbol string) {
	c.mu.Lock()
	delete(c.listings, strings.ToUpper(strings.TrimSpace(symbol)))
	c.mu.Unlock()
}

// Symbols returns the listed symbols in sorted order.
func (c *Client) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.listings))
	for s := range c.listings {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tick moves every price by at most maxStep in either direction.
func (c *Client) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	symbols := make([]string, 0, len(c.listings))
	for s := range c.listings {
		symbols = append(symbols, s)
	}
	// Each listing takes its draw in symbol order so a seed fixes the walk.
	sort.Strings(symbols)
	for _, s := range symbols {
		l := c.listings[s]
		step := (c.rng.Float64()*2 - 1) * maxStep
		next := l.price * (1 + step)
		if next < 0.01 {
			next = 0.01
		}
		l.price = next
		l.updated = now
	}
}

// Start runs the ticker until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Dur("interval", c.interval).Int("symbols", len(c.Symbols())).Msg("Simulated market started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Simulated market stopped")
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}
