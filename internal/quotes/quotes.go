// Package quotes fetches market quotes and symbol search results from an
// upstream provider. The upstream is treated as unreliable and rate limited.
package quotes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrQuoteUnavailable is returned when the upstream cannot produce a usable quote.
var ErrQuoteUnavailable = errors.New("quote unavailable")

type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PreviousClose decimal.Decimal `json:"previousClose"`
	Timestamp     int64           `json:"timestamp"`
}

type SearchResult struct {
	Symbol        string `json:"symbol"`
	DisplaySymbol string `json:"displaySymbol"`
	Description   string `json:"description"`
	Type          string `json:"type"`
}

type Profile struct {
	Ticker    string          `json:"ticker"`
	Name      string          `json:"name"`
	Exchange  string          `json:"exchange"`
	Currency  string          `json:"currency"`
	Industry  string          `json:"finnhubIndustry"`
	Logo      string          `json:"logo"`
	WebURL    string          `json:"weburl"`
	MarketCap decimal.Decimal `json:"marketCapitalization"`
}

// Provider is the consumed contract of a market data source.
type Provider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Search(ctx context.Context, query string) ([]SearchResult, error)
	Profile(ctx context.Context, symbol string) (Profile, error)
}

// Batch fetches quotes one symbol at a time, pausing delay between
// requests. Symbols that fail are left out of the result; only context
// cancellation aborts the batch.
func Batch(ctx context.Context, p Provider, symbols []string, delay time.Duration) (map[string]Quote, error) {
	out := make(map[string]Quote, len(symbols))
	for i, symbol := range symbols {
		if i > 0 && delay > 0 {
			if err := sleepWithContext(ctx, delay); err != nil {
				return out, err
			}
		}
		q, err := p.Quote(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out[strings.ToUpper(symbol)] = q
	}
	return out, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
