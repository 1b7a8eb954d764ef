package quotes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFinnhubServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = w.Write([]byte(`{"c":189.84,"d":1.2,"dp":0.64,"h":190.1,"l":187.5,"o":188,"pc":188.64,"t":1717000000}`))
		case "FLAKY":
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"c":10,"d":0,"dp":0,"h":10,"l":10,"o":10,"pc":10,"t":1}`))
		default:
			_, _ = w.Write([]byte(`{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
		}
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1,"result":[{"symbol":"AAPL","displaySymbol":"AAPL","description":"APPLE INC","type":"Common Stock"}]}`))
	})
	mux.HandleFunc("/stock/profile2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ticker":"AAPL","name":"Apple Inc","exchange":"NASDAQ","currency":"USD","finnhubIndustry":"Technology","marketCapitalization":2900000}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFinnhub(url string) *Finnhub {
	return NewFinnhub(FinnhubConfig{BaseURL: url, Token: "secret", RetryCount: 2, RetryWait: time.Millisecond})
}

func TestFinnhubQuote(t *testing.T) {
	var calls atomic.Int32
	srv := newFinnhubServer(t, &calls)
	f := newTestFinnhub(srv.URL)

	q, err := f.Quote(context.Background(), " aapl ")
	require.NoError(t, err)
	require.Equal(t, "AAPL", q.Symbol)
	require.True(t, q.Price.Equal(decimal.RequireFromString("189.84")), "price %s", q.Price)
	require.True(t, q.PreviousClose.Equal(decimal.RequireFromString("188.64")))
	require.Equal(t, int64(1717000000), q.Timestamp)
}

func TestFinnhubUnknownSymbolIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := newFinnhubServer(t, &calls)
	f := newTestFinnhub(srv.URL)

	_, err := f.Quote(context.Background(), "NOPE")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrQuoteUnavailable), "got %v", err)
}

func TestFinnhubRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newFinnhubServer(t, &calls)
	f := newTestFinnhub(srv.URL)

	q, err := f.Quote(context.Background(), "FLAKY")
	require.NoError(t, err)
	require.True(t, q.Price.Equal(decimal.NewFromInt(10)))
	require.Equal(t, int32(2), calls.Load())
}

func TestFinnhubSearchAndProfile(t *testing.T) {
	var calls atomic.Int32
	srv := newFinnhubServer(t, &calls)
	f := newTestFinnhub(srv.URL)
	ctx := context.Background()

	res, err := f.Search(ctx, "apple")
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "APPLE INC", res[0].Description)

	empty, err := f.Search(ctx, "  ")
	require.NoError(t, err)
	require.Empty(t, empty)

	p, err := f.Profile(ctx, "aapl")
	require.NoError(t, err)
	require.Equal(t, "Technology", p.Industry)
}

type countingProvider struct {
	calls int
	fail  map[string]bool
}

func (c *countingProvider) Quote(_ context.Context, symbol string) (Quote, error) {
	c.calls++
	if c.fail[symbol] {
		return Quote{}, ErrQuoteUnavailable
	}
	return Quote{Symbol: symbol, Price: decimal.NewFromInt(int64(10 * c.calls))}, nil
}

func (c *countingProvider) Search(context.Context, string) ([]SearchResult, error) {
	return nil, nil
}

func (c *countingProvider) Profile(context.Context, string) (Profile, error) {
	return Profile{}, nil
}

func TestBatchSkipsFailures(t *testing.T) {
	p := &countingProvider{fail: map[string]bool{"BAD": true}}
	out, err := Batch(context.Background(), p, []string{"AAPL", "BAD", "MSFT"}, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Contains(t, out, "AAPL")
	require.Contains(t, out, "MSFT")
	require.Equal(t, 3, p.calls)
}

func TestBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &countingProvider{}
	_, err := Batch(ctx, p, []string{"AAPL", "MSFT"}, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, p.calls)
}

func TestCachedFallsThroughWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	p := &countingProvider{}
	c := NewCached(p, rdb, time.Minute)
	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL", q.Symbol)
	require.Equal(t, 1, p.calls)
}

func TestCachedReadsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := &countingProvider{}
	c := NewCached(p, rdb, 30*time.Second)
	ctx := context.Background()

	first, err := c.Quote(ctx, "AAPL")
	require.NoError(t, err)
	second, err := c.Quote(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, 1, p.calls)
	require.True(t, second.Price.Equal(first.Price), "cached %s, fetched %s", second.Price, first.Price)

	require.True(t, mr.Exists("quote:AAPL"))
	require.Equal(t, 30*time.Second, mr.TTL("quote:AAPL"))

	mr.FastForward(31 * time.Second)
	require.False(t, mr.Exists("quote:AAPL"))
	third, err := c.Quote(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, 2, p.calls)
	require.True(t, third.Price.Equal(decimal.NewFromInt(20)))
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := &countingProvider{fail: map[string]bool{"BAD": true}}
	c := NewCached(p, rdb, time.Minute)

	_, err := c.Quote(context.Background(), "BAD")
	require.ErrorIs(t, err, ErrQuoteUnavailable)
	require.False(t, mr.Exists("quote:BAD"))
}

func TestQuoteKey(t *testing.T) {
	require.Equal(t, "quote:AAPL", quoteKey(" aapl "))
}
