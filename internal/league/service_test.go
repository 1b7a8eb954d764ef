package league_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"wsfantasy/internal/league"
	"wsfantasy/internal/quotes"
	"wsfantasy/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeQuotes map[string]decimal.Decimal

func (f fakeQuotes) Quote(_ context.Context, symbol string) (quotes.Quote, error) {
	p, ok := f[strings.ToUpper(symbol)]
	if !ok {
		return quotes.Quote{}, quotes.ErrQuoteUnavailable
	}
	return quotes.Quote{Symbol: strings.ToUpper(symbol), Price: p}, nil
}

func (f fakeQuotes) Search(context.Context, string) ([]quotes.SearchResult, error) {
	return []quotes.SearchResult{}, nil
}

func (f fakeQuotes) Profile(context.Context, string) (quotes.Profile, error) {
	return quotes.Profile{}, nil
}

// namedQuotes also answers company profiles.
type namedQuotes struct {
	fakeQuotes
	names    map[string]string
	profiles int
}

func (n *namedQuotes) Profile(_ context.Context, symbol string) (quotes.Profile, error) {
	n.profiles++
	name, ok := n.names[strings.ToUpper(symbol)]
	if !ok {
		return quotes.Profile{}, quotes.ErrQuoteUnavailable
	}
	return quotes.Profile{Ticker: strings.ToUpper(symbol), Name: name}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(prices quotes.Provider) (*league.Service, *store.Memory) {
	st := store.NewMemory()
	svc := league.NewService(st, prices, quietLogger())
	svc.SetBatchDelay(0)
	return svc, st
}

func createLeague(t *testing.T, svc *league.Service, owner, balance string, fractional bool, limit int) league.CreateLeagueResult {
	t.Helper()
	res, err := svc.CreateLeague(context.Background(), league.CreateLeagueInput{
		UserID:                owner,
		Name:                  "Desk " + owner,
		StartingBalance:       d(balance),
		TradeLimitPerDay:      limit,
		AllowFractionalShares: fractional,
	})
	if err != nil {
		t.Fatalf("create league: %v", err)
	}
	return res
}

func settle(svc *league.Service, leagueID, user, side, symbol, shares, price string) (league.Trade, error) {
	return svc.SettleTrade(context.Background(), league.TradeInput{
		LeagueID:      leagueID,
		UserID:        user,
		Symbol:        symbol,
		Side:          side,
		Shares:        d(shares),
		PricePerShare: d(price),
	})
}

func portfolio(t *testing.T, svc *league.Service, user, leagueID string) league.PortfolioView {
	t.Helper()
	p, err := svc.Portfolio(context.Background(), user, leagueID)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	return p
}

func holding(p league.PortfolioView, symbol string) (league.Holding, bool) {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			return pos.Holding, true
		}
	}
	return league.Holding{}, false
}

func TestSettleTradeScenarios(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League

	tr, err := settle(svc, lg.ID, "u1", "buy", "aapl", "5", "100.00")
	if err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if tr.Symbol != "AAPL" || tr.Status != league.TradeCompleted || !tr.TotalAmount.Equal(d("500")) {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	if !p.Member.CashBalance.Equal(d("500")) {
		t.Fatalf("cash got %s want 500", p.Member.CashBalance)
	}
	h, ok := holding(p, "AAPL")
	if !ok || !h.Shares.Equal(d("5")) || !h.AverageCost.Equal(d("100")) {
		t.Fatalf("unexpected holding: %+v", h)
	}

	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "5", "120.00"); !errors.Is(err, league.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	p = portfolio(t, svc, "u1", lg.ID)
	h, _ = holding(p, "AAPL")
	if !p.Member.CashBalance.Equal(d("500")) || !h.Shares.Equal(d("5")) {
		t.Fatalf("rejected buy changed state: cash=%s shares=%s", p.Member.CashBalance, h.Shares)
	}
}

func TestSettleTradeWeightedAverageAndFullSell(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "2000", false, 0).League

	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "5", "100"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "5", "120"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	h, _ := holding(p, "AAPL")
	if !h.Shares.Equal(d("10")) || !h.AverageCost.Equal(d("110")) {
		t.Fatalf("holding got %s@%s want 10@110", h.Shares, h.AverageCost)
	}
	if !p.Member.CashBalance.Equal(d("900")) {
		t.Fatalf("cash got %s want 900", p.Member.CashBalance)
	}

	tr, err := settle(svc, lg.ID, "u1", "sell", "AAPL", "10", "130")
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !tr.RealizedPnL.Equal(d("200")) {
		t.Fatalf("realized pnl got %s want 200", tr.RealizedPnL)
	}
	p = portfolio(t, svc, "u1", lg.ID)
	if _, ok := holding(p, "AAPL"); ok {
		t.Fatalf("expected holding to be removed")
	}
	if !p.Member.CashBalance.Equal(d("2200")) {
		t.Fatalf("cash got %s want 2200", p.Member.CashBalance)
	}
}

func TestSettleTradePartialSellKeepsAverageCost(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	if _, err := settle(svc, lg.ID, "u1", "buy", "MSFT", "4", "50"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := settle(svc, lg.ID, "u1", "sell", "MSFT", "1", "80"); err != nil {
		t.Fatalf("sell: %v", err)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	h, _ := holding(p, "MSFT")
	if !h.Shares.Equal(d("3")) || !h.AverageCost.Equal(d("50")) {
		t.Fatalf("holding got %s@%s want 3@50", h.Shares, h.AverageCost)
	}
	if !p.Member.CashBalance.Equal(d("880")) {
		t.Fatalf("cash got %s want 880", p.Member.CashBalance)
	}
}

func TestSettleTradeRejectsOverselling(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League

	if _, err := settle(svc, lg.ID, "u1", "sell", "TSLA", "1", "10"); !errors.Is(err, league.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares without holding, got %v", err)
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "TSLA", "2", "10"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := settle(svc, lg.ID, "u1", "sell", "TSLA", "3", "10"); !errors.Is(err, league.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	trades, err := svc.TradeHistory(context.Background(), "u1", lg.ID, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected only the buy to be recorded, got %d trades", len(trades))
	}
}

func TestSettleTradeAllowsSpendingExactBalance(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "8", "125"); err != nil {
		t.Fatalf("expected exact balance buy to settle: %v", err)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	if !p.Member.CashBalance.IsZero() {
		t.Fatalf("cash got %s want 0", p.Member.CashBalance)
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "1", "0.01"); !errors.Is(err, league.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSettleTradeValidation(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League

	tests := []struct {
		name                        string
		side, symbol, shares, price string
	}{
		{"zero shares", "buy", "AAPL", "0", "10"},
		{"negative shares", "buy", "AAPL", "-1", "10"},
		{"zero price", "buy", "AAPL", "1", "0"},
		{"bad side", "short", "AAPL", "1", "10"},
		{"too precise shares", "buy", "AAPL", "0.00001", "10"},
		{"too precise price", "buy", "AAPL", "1", "10.00001"},
		{"fractional in whole share league", "buy", "AAPL", "1.5", "10"},
	}
	for _, tc := range tests {
		_, err := settle(svc, lg.ID, "u1", tc.side, tc.symbol, tc.shares, tc.price)
		var verr *league.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "$$$", "1", "10"); !errors.Is(err, league.ErrInvalidSymbol) {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}
}

func TestSettleTradeFractionalLeague(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", true, 0).League
	if _, err := settle(svc, lg.ID, "u1", "buy", "AMZN", "0.5", "100"); err != nil {
		t.Fatalf("fractional buy: %v", err)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	if !p.Member.CashBalance.Equal(d("950")) {
		t.Fatalf("cash got %s want 950", p.Member.CashBalance)
	}
}

func TestSettleTradeRequiresMembership(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	if _, err := settle(svc, lg.ID, "stranger", "buy", "AAPL", "1", "10"); !errors.Is(err, league.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := settle(svc, "missing", "u1", "buy", "AAPL", "1", "10"); !errors.Is(err, league.ErrLeagueNotFound) {
		t.Fatalf("expected ErrLeagueNotFound, got %v", err)
	}
}

func TestSettleTradeFillsCompanyName(t *testing.T) {
	prices := &namedQuotes{fakeQuotes: fakeQuotes{}, names: map[string]string{"AAPL": "Apple Inc"}}
	svc, _ := newService(prices)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League

	tr, err := settle(svc, lg.ID, "u1", "buy", "aapl", "1", "100")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if tr.CompanyName != "Apple Inc" {
		t.Fatalf("company name got %q", tr.CompanyName)
	}
	if h, ok := holding(portfolio(t, svc, "u1", lg.ID), "AAPL"); !ok || h.CompanyName != "Apple Inc" {
		t.Fatalf("holding company name got %q", h.CompanyName)
	}

	// unknown issuers settle without a name
	tr, err = settle(svc, lg.ID, "u1", "buy", "ZZZZ", "1", "10")
	if err != nil {
		t.Fatalf("buy without profile: %v", err)
	}
	if tr.CompanyName != "" {
		t.Fatalf("expected blank name, got %q", tr.CompanyName)
	}

	calls := prices.profiles
	_, err = svc.SettleTrade(context.Background(), league.TradeInput{
		LeagueID:      lg.ID,
		UserID:        "u1",
		Symbol:        "AAPL",
		CompanyName:   "Apple (client)",
		Side:          "buy",
		Shares:        d("1"),
		PricePerShare: d("100"),
	})
	if err != nil {
		t.Fatalf("buy with name: %v", err)
	}
	if prices.profiles != calls {
		t.Fatalf("profile looked up although the client sent a name")
	}
}

func TestReadsRequireActiveMembership(t *testing.T) {
	svc, st := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	ctx := context.Background()
	for _, m := range []league.Member{
		{ID: "m-removed", LeagueID: lg.ID, UserID: "gone", Status: league.MemberRemoved, CashBalance: d("1000")},
		{ID: "m-pending", LeagueID: lg.ID, UserID: "waiting", Status: league.MemberPending, CashBalance: d("1000")},
	} {
		if err := st.InTx(ctx, func(tx league.Tx) error { return tx.InsertMember(ctx, &m) }); err != nil {
			t.Fatalf("insert %s: %v", m.UserID, err)
		}
	}

	for _, user := range []string{"gone", "waiting"} {
		if _, err := svc.LeagueDetail(ctx, user, lg.ID); !errors.Is(err, league.ErrNotMember) {
			t.Fatalf("LeagueDetail(%s): expected ErrNotMember, got %v", user, err)
		}
		if _, err := svc.Portfolio(ctx, user, lg.ID); !errors.Is(err, league.ErrNotMember) {
			t.Fatalf("Portfolio(%s): expected ErrNotMember, got %v", user, err)
		}
		if _, err := svc.TradeHistory(ctx, user, lg.ID, 10); !errors.Is(err, league.ErrNotMember) {
			t.Fatalf("TradeHistory(%s): expected ErrNotMember, got %v", user, err)
		}
		if _, err := svc.Leaderboard(ctx, user, lg.ID); !errors.Is(err, league.ErrNotMember) {
			t.Fatalf("Leaderboard(%s): expected ErrNotMember, got %v", user, err)
		}
	}

	rows, err := svc.Leaderboard(ctx, "u1", lg.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 1 || rows[0].UserID != "u1" {
		t.Fatalf("leaderboard should list only active members: %+v", rows)
	}
}

func TestSettleTradeRejectsClosedLeague(t *testing.T) {
	svc, st := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	ctx := context.Background()
	err := st.InTx(ctx, func(tx league.Tx) error {
		l, err := tx.GetLeague(ctx, lg.ID)
		if err != nil {
			return err
		}
		l.Status = league.StatusCompleted
		return tx.UpdateLeague(ctx, l)
	})
	if err != nil {
		t.Fatalf("close league: %v", err)
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "1", "10"); !errors.Is(err, league.ErrLeagueClosed) {
		t.Fatalf("expected ErrLeagueClosed, got %v", err)
	}
}

func TestSettleTradeIdempotencyKey(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	in := league.TradeInput{
		LeagueID:       lg.ID,
		UserID:         "u1",
		Symbol:         "AAPL",
		Side:           "buy",
		Shares:         d("1"),
		PricePerShare:  d("100"),
		IdempotencyKey: "replay-1",
	}
	if _, err := svc.SettleTrade(context.Background(), in); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := svc.SettleTrade(context.Background(), in); !errors.Is(err, league.ErrDuplicateIdempotency) {
		t.Fatalf("expected ErrDuplicateIdempotency, got %v", err)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	if !p.Member.CashBalance.Equal(d("900")) {
		t.Fatalf("replay moved cash: %s", p.Member.CashBalance)
	}
}

func TestSettleTradeDailyLimit(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 2).League
	for i := 0; i < 2; i++ {
		if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "1", "10"); err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "1", "10"); !errors.Is(err, league.ErrTradeLimitReached) {
		t.Fatalf("expected ErrTradeLimitReached, got %v", err)
	}
}

func TestSettleTradeConcurrentBuysNeverOverspend(t *testing.T) {
	svc, _ := newService(nil)
	lg := createLeague(t, svc, "u1", "1000", false, 0).League

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled, rejected := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "1", "100")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, league.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if settled != 10 || rejected != 10 {
		t.Fatalf("settled=%d rejected=%d, want 10/10", settled, rejected)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	h, _ := holding(p, "AAPL")
	if !p.Member.CashBalance.IsZero() || !h.Shares.Equal(d("10")) {
		t.Fatalf("cash=%s shares=%s", p.Member.CashBalance, h.Shares)
	}
}

func TestCreateLeagueDefaults(t *testing.T) {
	svc, _ := newService(nil)
	res, err := svc.CreateLeague(context.Background(), league.CreateLeagueInput{UserID: "u1", Name: "  Friday Desk "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.League.Name != "Friday Desk" || res.League.Status != league.StatusDraft {
		t.Fatalf("unexpected league: %+v", res.League)
	}
	if !res.League.StartingBalance.Equal(league.DefaultStartingBalance) ||
		res.League.SeasonLengthDays != league.DefaultSeasonLengthDays ||
		res.League.MaxPlayers != league.DefaultMaxPlayers {
		t.Fatalf("defaults not applied: %+v", res.League)
	}
	if res.Member.UserID != "u1" || !res.Member.CashBalance.Equal(league.DefaultStartingBalance) {
		t.Fatalf("unexpected commissioner member: %+v", res.Member)
	}
	if res.Invite.MaxUses != league.DefaultMaxInviteUses || len(res.Invite.Code) != 8 {
		t.Fatalf("unexpected invite: %+v", res.Invite)
	}

	if _, err := svc.CreateLeague(context.Background(), league.CreateLeagueInput{UserID: "u1", Name: "x", MaxPlayers: 1}); err == nil {
		t.Fatalf("expected max players validation error")
	}
	if _, err := svc.CreateLeague(context.Background(), league.CreateLeagueInput{UserID: "", Name: "x"}); !errors.Is(err, league.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestJoinLeague(t *testing.T) {
	svc, _ := newService(nil)
	ctx := context.Background()
	res, err := svc.CreateLeague(ctx, league.CreateLeagueInput{UserID: "u1", Name: "Duo", MaxPlayers: 2, StartingBalance: d("500")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	code := strings.ToLower(res.Invite.Code)

	m, err := svc.JoinLeague(ctx, "u2", code)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.LeagueID != res.League.ID || !m.CashBalance.Equal(d("500")) {
		t.Fatalf("unexpected member: %+v", m)
	}
	if _, err := svc.JoinLeague(ctx, "u2", code); !errors.Is(err, league.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if _, err := svc.JoinLeague(ctx, "u3", code); !errors.Is(err, league.ErrLeagueFull) {
		t.Fatalf("expected ErrLeagueFull, got %v", err)
	}
	if _, err := svc.JoinLeague(ctx, "u3", "NOPE0000"); !errors.Is(err, league.ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}

	detail, err := svc.LeagueDetail(ctx, "u2", res.League.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.MemberCount != 2 || detail.InviteCode != res.Invite.Code {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rows, err := svc.Memberships(ctx, "u2")
	if err != nil {
		t.Fatalf("memberships: %v", err)
	}
	if len(rows) != 1 || rows[0].League.ID != res.League.ID {
		t.Fatalf("unexpected memberships: %+v", rows)
	}
}

func TestJoinLeagueExhaustedInvite(t *testing.T) {
	svc, st := newService(nil)
	ctx := context.Background()
	res := createLeague(t, svc, "u1", "1000", false, 0)
	err := st.InTx(ctx, func(tx league.Tx) error {
		for i := 0; i < league.DefaultMaxInviteUses; i++ {
			if err := tx.IncrementInviteUses(ctx, res.Invite.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("exhaust invite: %v", err)
	}
	if _, err := svc.JoinLeague(ctx, "u2", res.Invite.Code); !errors.Is(err, league.ErrInviteExhausted) {
		t.Fatalf("expected ErrInviteExhausted, got %v", err)
	}
}

func TestStartAndDeleteLeague(t *testing.T) {
	svc, _ := newService(nil)
	ctx := context.Background()
	res := createLeague(t, svc, "u1", "1000", false, 0)
	if _, err := svc.JoinLeague(ctx, "u2", res.Invite.Code); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := svc.StartLeague(ctx, "u2", res.League.ID); !errors.Is(err, league.ErrNotCommissioner) {
		t.Fatalf("expected ErrNotCommissioner, got %v", err)
	}
	lg, err := svc.StartLeague(ctx, "u1", res.League.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if lg.Status != league.StatusActive || lg.SeasonStart == nil || lg.SeasonEnd == nil {
		t.Fatalf("unexpected league after start: %+v", lg)
	}
	if got := lg.SeasonEnd.Sub(*lg.SeasonStart).Hours(); got != float64(24*league.DefaultSeasonLengthDays) {
		t.Fatalf("season length got %vh", got)
	}

	if err := svc.DeleteLeague(ctx, "u2", res.League.ID); !errors.Is(err, league.ErrNotCommissioner) {
		t.Fatalf("expected ErrNotCommissioner, got %v", err)
	}
	if err := svc.DeleteLeague(ctx, "u1", res.League.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.LeagueDetail(ctx, "u1", res.League.ID); !errors.Is(err, league.ErrLeagueNotFound) {
		t.Fatalf("expected ErrLeagueNotFound, got %v", err)
	}
}

func TestPortfolioMarksToMarket(t *testing.T) {
	svc, _ := newService(fakeQuotes{"AAPL": d("150")})
	lg := createLeague(t, svc, "u1", "1000", false, 0).League
	if _, err := settle(svc, lg.ID, "u1", "buy", "AAPL", "2", "100"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := settle(svc, lg.ID, "u1", "buy", "NOQT", "1", "10"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	p := portfolio(t, svc, "u1", lg.ID)
	if len(p.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(p.Positions))
	}
	for _, pos := range p.Positions {
		switch pos.Symbol {
		case "AAPL":
			if pos.CurrentValue == nil || !pos.CurrentValue.Equal(d("300")) || !pos.UnrealizedPnL.Equal(d("100")) || !pos.UnrealizedPnLPercent.Equal(d("50")) {
				t.Fatalf("unexpected AAPL position: %+v", pos)
			}
		case "NOQT":
			if pos.CurrentPrice != nil {
				t.Fatalf("expected no market price for NOQT")
			}
		}
	}
}

func TestRefreshValuationsRanksMembers(t *testing.T) {
	svc, _ := newService(fakeQuotes{"AAPL": d("200"), "MSFT": d("50")})
	ctx := context.Background()
	res := createLeague(t, svc, "u1", "1000", false, 0)
	if _, err := svc.JoinLeague(ctx, "u2", res.Invite.Code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := settle(svc, res.League.ID, "u1", "buy", "MSFT", "10", "100"); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := settle(svc, res.League.ID, "u2", "buy", "AAPL", "5", "100"); err != nil {
		t.Fatalf("buy: %v", err)
	}

	out, err := svc.RefreshValuations(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if out.Leagues != 1 || out.Members != 2 || out.Quoted != 2 {
		t.Fatalf("unexpected refresh result: %+v", out)
	}

	rows, err := svc.Leaderboard(ctx, "u1", res.League.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// u2: 500 cash + 5*200 = 1500; u1: 0 cash + 10*50 = 500
	if rows[0].UserID != "u2" || rows[0].Rank != 1 || !rows[0].TotalValue.Equal(d("1500")) || !rows[0].TotalReturnPercent.Equal(d("50")) {
		t.Fatalf("unexpected leader: %+v", rows[0])
	}
	if rows[1].UserID != "u1" || rows[1].Rank != 2 || !rows[1].TotalValue.Equal(d("500")) || !rows[1].TotalReturnPercent.Equal(d("-50")) {
		t.Fatalf("unexpected runner up: %+v", rows[1])
	}

	if _, err := svc.Leaderboard(ctx, "stranger", res.League.ID); !errors.Is(err, league.ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}
