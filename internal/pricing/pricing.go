// Package pricing defines the quote provider boundary consumed by the
// ledger. Implementations fetch the latest traded price for a symbol in
// a given market; callers bound each call with a context timeout.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned when no quote can be produced for the
// requested symbol.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is a point-in-time price observation. AsOf lets the fill engine
// reject quotes older than its staleness limit.
type Quote struct {
	Symbol string          `json:"symbol"`
	Market string          `json:"market"`
	Price  decimal.Decimal `json:"price"`
	AsOf   time.Time       `json:"as_of"`
}

// Provider supplies the latest quote for a symbol.
type Provider interface {
	LatestPrice(ctx context.Context, symbol, market string) (Quote, error)
}

// StaticProvider serves quotes from an in-memory table. It backs the demo
// deployment and tests; prices can be moved at runtime to drive fills.
//
// Quotes stored without an observation time are live: they are stamped
// at read time, so a table seeded at boot never goes stale. SetQuote
// pins an explicit time for callers that need an aged observation.
type StaticProvider struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticProvider creates a provider seeded with the given prices as
// live quotes.
func NewStaticProvider(prices map[string]decimal.Decimal) *StaticProvider {
	p := &StaticProvider{quotes: make(map[string]Quote, len(prices))}
	for key, price := range prices {
		p.quotes[key] = Quote{Price: price}
	}
	return p
}

func key(symbol, market string) string {
	return symbol + "." + market
}

// LatestPrice returns the stored quote for symbol.market.
func (p *StaticProvider) LatestPrice(ctx context.Context, symbol, market string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	q, ok := p.quotes[key(symbol, market)]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no quote for %s.%s", ErrPriceUnavailable, symbol, market)
	}
	q.Symbol = symbol
	q.Market = market
	if q.AsOf.IsZero() {
		q.AsOf = time.Now()
	}
	return q, nil
}

// SetPrice updates a symbol's quote as a live price.
func (p *StaticProvider) SetPrice(symbol, market string, price decimal.Decimal) {
	p.SetQuote(symbol, market, price, time.Time{})
}

// SetQuote updates a symbol's quote with an explicit observation time.
func (p *StaticProvider) SetQuote(symbol, market string, price decimal.Decimal, asOf time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[key(symbol, market)] = Quote{Price: price, AsOf: asOf}
}

// Remove deletes a symbol's quote, simulating an upstream outage for it.
func (p *StaticProvider) Remove(symbol, market string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.quotes, key(symbol, market))
}

// DefaultDemoPrices seeds the demo deployment with a few liquid names.
func DefaultDemoPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"AAPL.US": decimal.NewFromFloat(190.0),
		"TSLA.US": decimal.NewFromFloat(250.0),
		"MSFT.US": decimal.NewFromFloat(420.0),
		"0700.HK": decimal.NewFromFloat(320.0),
		"9988.HK": decimal.NewFromFloat(85.0),
		"600519.CN": decimal.NewFromFloat(1700.0),
	}
}
