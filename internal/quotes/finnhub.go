package quotes

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"wsfantasy/internal/metrics"
)

const DefaultFinnhubURL = "https://finnhub.io/api/v1"

type FinnhubConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// Finnhub is a Provider backed by the Finnhub REST API.
type Finnhub struct {
	client *resty.Client
}

type finnhubQuote struct {
	C  decimal.Decimal `json:"c"`
	D  decimal.Decimal `json:"d"`
	DP decimal.Decimal `json:"dp"`
	H  decimal.Decimal `json:"h"`
	L  decimal.Decimal `json:"l"`
	O  decimal.Decimal `json:"o"`
	PC decimal.Decimal `json:"pc"`
	T  int64           `json:"t"`
}

type finnhubSearch struct {
	Count  int            `json:"count"`
	Result []SearchResult `json:"result"`
}

func NewFinnhub(cfg FinnhubConfig) *Finnhub {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultFinnhubURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetQueryParam("token", cfg.Token).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(10 * cfg.RetryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && secs > 0 {
					return time.Duration(secs) * time.Second, nil
				}
			}
			return 0, nil
		})

	return &Finnhub{client: client}
}

func (f *Finnhub) Quote(ctx context.Context, symbol string) (Quote, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return Quote{}, errors.New("symbol required")
	}
	var raw finnhubQuote
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", sym).
		SetResult(&raw).
		Get("/quote")
	if err := checkResponse(resp, err); err != nil {
		metrics.QuoteRequests.WithLabelValues("error").Inc()
		return Quote{}, errors.Wrapf(err, "quote %s", sym)
	}
	// Finnhub answers unknown symbols with an all-zero quote.
	if !raw.C.IsPositive() {
		metrics.QuoteRequests.WithLabelValues("error").Inc()
		return Quote{}, errors.Wrapf(ErrQuoteUnavailable, "quote %s: no price", sym)
	}
	metrics.QuoteRequests.WithLabelValues("ok").Inc()
	return Quote{
		Symbol:        sym,
		Price:         raw.C,
		Change:        raw.D,
		ChangePercent: raw.DP,
		High:          raw.H,
		Low:           raw.L,
		Open:          raw.O,
		PreviousClose: raw.PC,
		Timestamp:     raw.T,
	}, nil
}

func (f *Finnhub) Search(ctx context.Context, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	var raw finnhubSearch
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetResult(&raw).
		Get("/search")
	if err := checkResponse(resp, err); err != nil {
		return nil, errors.Wrapf(err, "search %q", query)
	}
	if raw.Result == nil {
		return []SearchResult{}, nil
	}
	return raw.Result, nil
}

func (f *Finnhub) Profile(ctx context.Context, symbol string) (Profile, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	var out Profile
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", sym).
		SetResult(&out).
		Get("/stock/profile2")
	if err := checkResponse(resp, err); err != nil {
		return Profile{}, errors.Wrapf(err, "profile %s", sym)
	}
	return out, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(ErrQuoteUnavailable, err.Error())
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 256 {
			body = body[:256]
		}
		return errors.Wrapf(ErrQuoteUnavailable, "upstream status %d: %s", resp.StatusCode(), body)
	}
	return nil
}
