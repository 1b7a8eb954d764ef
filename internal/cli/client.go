package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"wsfantasy/internal/auth"
	"wsfantasy/internal/league"
	"wsfantasy/internal/quotes"
)

// APIError is a structured rejection from the API. Transport failures are
// returned unwrapped so callers can tell the two apart.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsRejected reports whether err is a 4xx answer from the server. Such
// requests will not succeed on retry.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

type Client struct {
	BaseURL string
	HTTP    *resty.Client
}

func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: base,
		HTTP: resty.New().
			SetBaseURL(base).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

type TradeRequest struct {
	Symbol        string          `json:"symbol"`
	CompanyName   string          `json:"company_name,omitempty"`
	TradeType     string          `json:"trade_type"`
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
}

type TradeResult struct {
	Success bool         `json:"success"`
	Trade   league.Trade `json:"trade"`
}

type Dashboard struct {
	Email       string              `json:"email"`
	Memberships []league.Membership `json:"memberships"`
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/auth/logout", accessToken, nil, nil, "")
}

func (c *Client) Dashboard(ctx context.Context, accessToken string) (Dashboard, error) {
	var out Dashboard
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CreateLeague(ctx context.Context, accessToken string, in map[string]any) (league.CreateLeagueResult, error) {
	var out league.CreateLeagueResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/leagues", accessToken, in, &out, "")
	return out, err
}

func (c *Client) JoinLeague(ctx context.Context, accessToken, inviteCode string) (league.Member, error) {
	var out struct {
		Member league.Member `json:"member"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/leagues/join", accessToken, map[string]any{
		"invite_code": inviteCode,
	}, &out, "")
	return out.Member, err
}

func (c *Client) LeagueDetail(ctx context.Context, accessToken, leagueID string) (league.LeagueDetail, error) {
	var out league.LeagueDetail
	err := c.jsonRequest(ctx, http.MethodGet, leaguePath(leagueID, ""), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) DeleteLeague(ctx context.Context, accessToken, leagueID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, leaguePath(leagueID, ""), accessToken, nil, nil, "")
}

func (c *Client) StartLeague(ctx context.Context, accessToken, leagueID string) (league.League, error) {
	var out struct {
		League league.League `json:"league"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, leaguePath(leagueID, "start"), accessToken, nil, &out, "")
	return out.League, err
}

func (c *Client) Portfolio(ctx context.Context, accessToken, leagueID string) (league.PortfolioView, error) {
	var out league.PortfolioView
	err := c.jsonRequest(ctx, http.MethodGet, leaguePath(leagueID, "portfolio"), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Trades(ctx context.Context, accessToken, leagueID string, limit int) ([]league.Trade, error) {
	var out struct {
		Trades []league.Trade `json:"trades"`
	}
	path := leaguePath(leagueID, "trades")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Trades, err
}

func (c *Client) Leaderboard(ctx context.Context, accessToken, leagueID string) ([]league.LeaderboardRow, error) {
	var out struct {
		Rows []league.LeaderboardRow `json:"leaderboard"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, leaguePath(leagueID, "leaderboard"), accessToken, nil, &out, "")
	return out.Rows, err
}

func (c *Client) Trade(ctx context.Context, accessToken, leagueID, idem string, in TradeRequest) (TradeResult, error) {
	var out TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, TradePath(leagueID), accessToken, in, &out, idem)
	return out, err
}

func (c *Client) Quote(ctx context.Context, accessToken, symbol string) (quotes.Quote, error) {
	var out quotes.Quote
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/quote?symbol="+url.QueryEscape(symbol), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Search(ctx context.Context, accessToken, query string) ([]quotes.SearchResult, error) {
	var out struct {
		Results []quotes.SearchResult `json:"results"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/search?q="+url.QueryEscape(query), accessToken, nil, &out, "")
	return out.Results, err
}

// Do sends a raw JSON body. The sync queue uses it to replay stored writes.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body json.RawMessage, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if len(body) > 0 {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

func TradePath(leagueID string) string {
	return leaguePath(leagueID, "trade")
}

func leaguePath(leagueID, suffix string) string {
	path := "/v1/leagues/" + url.PathEscape(leagueID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	req := c.HTTP.R().SetContext(ctx)
	if in != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in)
	}
	if accessToken != "" {
		req.SetAuthToken(accessToken)
	}
	if idem != "" {
		req.SetHeader("Idempotency-Key", idem)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return &APIError{Status: resp.StatusCode(), Message: errorMessage(resp.Body())}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Body(), out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 4096 {
		msg = msg[:4096]
	}
	return msg
}
