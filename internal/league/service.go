package league

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wsfantasy/internal/metrics"
	"wsfantasy/internal/quotes"
)

type Service struct {
	store      Store
	prices     quotes.Provider
	log        *slog.Logger
	batchDelay time.Duration
	startCash  decimal.Decimal
	now        func() time.Time
}

// NewService wires the league operations to a store. prices may be nil, in
// which case portfolios are reported at cost and valuations are skipped.
func NewService(store Store, prices quotes.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		prices:     prices,
		log:        logger,
		batchDelay: 100 * time.Millisecond,
		startCash:  DefaultStartingBalance,
		now:        time.Now,
	}
}

// SetDefaultStartingBalance sets the balance used when a new league does
// not name one.
func (s *Service) SetDefaultStartingBalance(v decimal.Decimal) {
	if v.IsPositive() {
		s.startCash = v
	}
}

// SetBatchDelay changes the pause between sequential quote requests.
func (s *Service) SetBatchDelay(d time.Duration) {
	s.batchDelay = d
}

type tradeRequest struct {
	symbol string
	side   Side
	shares decimal.Decimal
	price  decimal.Decimal
}

func validateTrade(in TradeInput) (tradeRequest, error) {
	var req tradeRequest
	if strings.TrimSpace(in.LeagueID) == "" {
		return req, invalid("league_id", "is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return req, ErrUnauthorized
	}
	symbol, err := NormalizeSymbol(in.Symbol)
	if err != nil {
		return req, err
	}
	side, err := ParseSide(in.Side)
	if err != nil {
		return req, err
	}
	if !in.Shares.IsPositive() {
		return req, invalid("shares", "must be > 0")
	}
	if hasMorePlaces(in.Shares, SharePlaces) {
		return req, invalid("shares", "at most %d decimal places", SharePlaces)
	}
	if !in.PricePerShare.IsPositive() {
		return req, invalid("price_per_share", "must be > 0")
	}
	if hasMorePlaces(in.PricePerShare, PricePlaces) {
		return req, invalid("price_per_share", "at most %d decimal places", PricePlaces)
	}
	return tradeRequest{symbol: symbol, side: side, shares: in.Shares, price: in.PricePerShare}, nil
}

// SettleTrade validates a member's trade intent and, in one transaction,
// appends the trade, adjusts the member's cash and reconciles the holding.
func (s *Service) SettleTrade(ctx context.Context, in TradeInput) (Trade, error) {
	start := s.now()
	req, err := validateTrade(in)
	if err != nil {
		s.rejected(err)
		return Trade{}, err
	}

	company := strings.TrimSpace(in.CompanyName)
	if company == "" {
		company = s.companyName(ctx, req.symbol)
	}

	var out Trade
	err = s.store.InTx(ctx, func(tx Tx) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, in.UserID, in.IdempotencyKey, "trade"); err != nil {
				return err
			}
		}

		lg, err := tx.GetLeague(ctx, in.LeagueID)
		if err != nil {
			return err
		}
		if !lg.Tradable() {
			return fmt.Errorf("%w: status %s", ErrLeagueClosed, lg.Status)
		}
		if !lg.AllowFractionalShares && !req.shares.IsInteger() {
			return invalid("shares", "fractional shares are not allowed in this league")
		}

		member, err := tx.LockMember(ctx, in.LeagueID, in.UserID)
		if err != nil {
			return err
		}
		if member.Status != MemberActive {
			return ErrNotMember
		}

		now := s.now().UTC()
		if lg.TradeLimitPerDay > 0 {
			dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			n, err := tx.CountTradesSince(ctx, member.ID, dayStart)
			if err != nil {
				return err
			}
			if n >= lg.TradeLimitPerDay {
				return fmt.Errorf("%w: %d trades per day", ErrTradeLimitReached, lg.TradeLimitPerDay)
			}
		}

		total := Notional(req.shares, req.price)
		holding, found, err := tx.GetHolding(ctx, member.ID, req.symbol)
		if err != nil {
			return err
		}

		trade := Trade{
			ID:            uuid.NewString(),
			MemberID:      member.ID,
			Symbol:        req.symbol,
			CompanyName:   company,
			Side:          req.side,
			Shares:        req.shares,
			PricePerShare: req.price,
			TotalAmount:   total,
			RealizedPnL:   decimal.Zero,
			Status:        TradeCompleted,
			ExecutedAt:    now,
			CreatedAt:     now,
		}

		var cash decimal.Decimal
		switch req.side {
		case SideBuy:
			if total.GreaterThan(member.CashBalance) {
				return fmt.Errorf("%w: need %s, available %s", ErrInsufficientFunds, total.StringFixed(2), member.CashBalance.StringFixed(2))
			}
			cash = member.CashBalance.Sub(total)
		case SideSell:
			if !found || holding.Shares.LessThan(req.shares) {
				held := decimal.Zero
				if found {
					held = holding.Shares
				}
				return fmt.Errorf("%w: selling %s, holding %s", ErrInsufficientShares, req.shares, held)
			}
			trade.RealizedPnL = RealizedPnL(req.shares, req.price, holding.AverageCost)
			cash = member.CashBalance.Add(total)
		}

		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return err
		}
		if err := tx.UpdateMemberCash(ctx, member.ID, cash); err != nil {
			return err
		}
		if err := reconcileHolding(ctx, tx, member.ID, holding, found, trade, now); err != nil {
			return err
		}
		out = trade
		return nil
	})
	if err != nil {
		s.rejected(err)
		if isDomainError(err) {
			return Trade{}, err
		}
		s.log.Error("trade settlement failed",
			"league_id", in.LeagueID,
			"user_id", in.UserID,
			"symbol", req.symbol,
			"side", req.side,
			"err", err,
		)
		return Trade{}, err
	}

	metrics.TradesTotal.WithLabelValues(string(out.Side)).Inc()
	metrics.SettlementLatency.Observe(s.now().Sub(start).Seconds())
	s.log.Info("trade settled",
		"league_id", in.LeagueID,
		"member_id", out.MemberID,
		"trade_id", out.ID,
		"symbol", out.Symbol,
		"side", out.Side,
		"shares", out.Shares.String(),
		"price", out.PricePerShare.String(),
	)
	return out, nil
}

// companyName looks the issuer up when the client did not send one. A
// failed lookup leaves the name blank rather than blocking the trade.
func (s *Service) companyName(ctx context.Context, symbol string) string {
	if s.prices == nil {
		return ""
	}
	p, err := s.prices.Profile(ctx, symbol)
	if err != nil {
		s.log.Debug("company profile lookup failed", "symbol", symbol, "err", err)
		return ""
	}
	return strings.TrimSpace(p.Name)
}

func reconcileHolding(ctx context.Context, tx Tx, memberID string, h Holding, found bool, t Trade, now time.Time) error {
	switch {
	case t.Side == SideBuy && !found:
		return tx.InsertHolding(ctx, &Holding{
			ID:          uuid.NewString(),
			MemberID:    memberID,
			Symbol:      t.Symbol,
			CompanyName: t.CompanyName,
			Shares:      t.Shares,
			AverageCost: t.PricePerShare,
			UpdatedAt:   now,
		})
	case t.Side == SideBuy:
		avg, err := CostBasis(h.Shares, h.AverageCost, t.Shares, t.TotalAmount)
		if err != nil {
			return err
		}
		h.Shares = h.Shares.Add(t.Shares)
		h.AverageCost = avg
		if h.CompanyName == "" {
			h.CompanyName = t.CompanyName
		}
		h.UpdatedAt = now
		return tx.UpdateHolding(ctx, h)
	default:
		remaining := h.Shares.Sub(t.Shares)
		if !remaining.IsPositive() {
			return tx.DeleteHolding(ctx, h.ID)
		}
		h.Shares = remaining
		h.UpdatedAt = now
		return tx.UpdateHolding(ctx, h)
	}
}

func (s *Service) rejected(err error) {
	metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
}

func rejectionReason(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, ErrInvalidSymbol):
		return "invalid"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrUnauthorized):
		return "not_member"
	case errors.Is(err, ErrLeagueNotFound), errors.Is(err, ErrLeagueClosed):
		return "league"
	case errors.Is(err, ErrTradeLimitReached):
		return "trade_limit"
	case errors.Is(err, ErrDuplicateIdempotency):
		return "duplicate"
	case errors.Is(err, ErrTxConflict):
		return "conflict"
	default:
		return "persistence"
	}
}

func isDomainError(err error) bool {
	return rejectionReason(err) != "persistence"
}

func (s *Service) CreateLeague(ctx context.Context, in CreateLeagueInput) (CreateLeagueResult, error) {
	var out CreateLeagueResult
	if strings.TrimSpace(in.UserID) == "" {
		return out, ErrUnauthorized
	}
	if err := validateLeagueName(in.Name); err != nil {
		return out, err
	}
	if in.StartingBalance.IsZero() {
		in.StartingBalance = s.startCash
	}
	if !in.StartingBalance.IsPositive() || hasMorePlaces(in.StartingBalance, 2) {
		return out, invalid("starting_balance", "must be a positive amount with at most 2 decimal places")
	}
	if in.SeasonLengthDays == 0 {
		in.SeasonLengthDays = DefaultSeasonLengthDays
	}
	if in.SeasonLengthDays < 1 || in.SeasonLengthDays > 365 {
		return out, invalid("season_length_days", "must be between 1 and 365")
	}
	if in.MaxPlayers == 0 {
		in.MaxPlayers = DefaultMaxPlayers
	}
	if in.MaxPlayers < 2 || in.MaxPlayers > 1000 {
		return out, invalid("max_players", "must be between 2 and 1000")
	}
	if in.TradeLimitPerDay < 0 {
		return out, invalid("trade_limit_per_day", "must be >= 0")
	}
	code, err := GenerateInviteCode()
	if err != nil {
		return out, err
	}

	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx Tx) error {
		lg := League{
			ID:                    uuid.NewString(),
			Name:                  strings.TrimSpace(in.Name),
			Description:           strings.TrimSpace(in.Description),
			CommissionerID:        in.UserID,
			StartingBalance:       in.StartingBalance,
			SeasonLengthDays:      in.SeasonLengthDays,
			MaxPlayers:            in.MaxPlayers,
			TradeLimitPerDay:      in.TradeLimitPerDay,
			AllowFractionalShares: in.AllowFractionalShares,
			Status:                StatusDraft,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.InsertLeague(ctx, &lg); err != nil {
			return err
		}
		m := newMember(lg, in.UserID, now)
		if err := tx.InsertMember(ctx, &m); err != nil {
			return err
		}
		inv := Invite{
			ID:        uuid.NewString(),
			LeagueID:  lg.ID,
			InvitedBy: in.UserID,
			Code:      code,
			MaxUses:   DefaultMaxInviteUses,
			CreatedAt: now,
		}
		if err := tx.InsertInvite(ctx, &inv); err != nil {
			return err
		}
		out = CreateLeagueResult{League: lg, Member: m, Invite: inv}
		return nil
	})
	if err != nil {
		return CreateLeagueResult{}, err
	}
	s.log.Info("league created", "league_id", out.League.ID, "commissioner", in.UserID)
	return out, nil
}

func newMember(lg League, userID string, now time.Time) Member {
	return Member{
		ID:                 uuid.NewString(),
		LeagueID:           lg.ID,
		UserID:             userID,
		Status:             MemberActive,
		JoinedAt:           now,
		CashBalance:        lg.StartingBalance,
		TotalValue:         lg.StartingBalance,
		TotalReturn:        decimal.Zero,
		TotalReturnPercent: decimal.Zero,
	}
}

// JoinLeague admits userID to the league behind an invite code and
// consumes one use of the invite.
func (s *Service) JoinLeague(ctx context.Context, userID, code string) (Member, error) {
	var out Member
	code = NormalizeInviteCode(code)
	if strings.TrimSpace(userID) == "" {
		return out, ErrUnauthorized
	}
	if code == "" {
		return out, invalid("invite_code", "is required")
	}
	now := s.now().UTC()
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.LockInviteByCode(ctx, code)
		if err != nil {
			return err
		}
		if !inv.Usable(now) {
			return ErrInviteExhausted
		}
		lg, err := tx.GetLeague(ctx, inv.LeagueID)
		if err != nil {
			return err
		}
		if lg.Status == StatusCompleted {
			return fmt.Errorf("%w: season completed", ErrLeagueClosed)
		}
		_, err = tx.LockMember(ctx, lg.ID, userID)
		switch {
		case err == nil:
			return ErrAlreadyMember
		case !errors.Is(err, ErrNotMember):
			return err
		}
		n, err := tx.CountMembers(ctx, lg.ID)
		if err != nil {
			return err
		}
		if n >= lg.MaxPlayers {
			return ErrLeagueFull
		}
		m := newMember(lg, userID, now)
		if err := tx.InsertMember(ctx, &m); err != nil {
			return err
		}
		if err := tx.IncrementInviteUses(ctx, inv.ID); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return Member{}, err
	}
	s.log.Info("league joined", "league_id", out.LeagueID, "user_id", userID)
	return out, nil
}

// StartLeague opens the season of a draft league.
func (s *Service) StartLeague(ctx context.Context, userID, leagueID string) (League, error) {
	var out League
	err := s.store.InTx(ctx, func(tx Tx) error {
		lg, err := tx.GetLeague(ctx, leagueID)
		if err != nil {
			return err
		}
		if lg.CommissionerID != userID {
			return ErrNotCommissioner
		}
		if lg.Status != StatusDraft {
			return invalid("status", "league already started")
		}
		now := s.now().UTC()
		end := now.AddDate(0, 0, lg.SeasonLengthDays)
		lg.Status = StatusActive
		lg.SeasonStart = &now
		lg.SeasonEnd = &end
		lg.UpdatedAt = now
		if err := tx.UpdateLeague(ctx, lg); err != nil {
			return err
		}
		out = lg
		return nil
	})
	return out, err
}

func (s *Service) DeleteLeague(ctx context.Context, userID, leagueID string) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		lg, err := tx.GetLeague(ctx, leagueID)
		if err != nil {
			return err
		}
		if lg.CommissionerID != userID {
			return ErrNotCommissioner
		}
		return tx.DeleteLeague(ctx, leagueID)
	})
	if err == nil {
		s.log.Info("league deleted", "league_id", leagueID, "user_id", userID)
	}
	return err
}

func (s *Service) LeagueDetail(ctx context.Context, userID, leagueID string) (LeagueDetail, error) {
	var out LeagueDetail
	err := s.store.InTx(ctx, func(tx Tx) error {
		lg, err := tx.GetLeague(ctx, leagueID)
		if err != nil {
			return err
		}
		m, err := activeMember(ctx, tx, leagueID, userID)
		if err != nil {
			return err
		}
		n, err := tx.CountMembers(ctx, leagueID)
		if err != nil {
			return err
		}
		out = LeagueDetail{League: lg, Member: m, MemberCount: n}
		inv, err := tx.GetInviteByLeague(ctx, leagueID)
		switch {
		case err == nil:
			out.InviteCode = inv.Code
		case !errors.Is(err, ErrInviteNotFound):
			return err
		}
		return nil
	})
	return out, err
}

// activeMember treats pending and removed members as outsiders.
func activeMember(ctx context.Context, tx Tx, leagueID, userID string) (Member, error) {
	m, err := tx.GetMember(ctx, leagueID, userID)
	if err != nil {
		return Member{}, err
	}
	if m.Status != MemberActive {
		return Member{}, ErrNotMember
	}
	return m, nil
}

// Memberships lists the caller's active league memberships.
func (s *Service) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	var out []Membership
	err := s.store.InTx(ctx, func(tx Tx) error {
		rows, err := tx.ListMemberships(ctx, userID)
		if err != nil {
			return err
		}
		out = make([]Membership, 0, len(rows))
		for _, row := range rows {
			if row.Member.Status == MemberActive {
				out = append(out, row)
			}
		}
		return nil
	})
	return out, err
}

// Portfolio returns the caller's cash and holdings in a league. When a
// quote provider is configured each position is marked to market.
func (s *Service) Portfolio(ctx context.Context, userID, leagueID string) (PortfolioView, error) {
	var out PortfolioView
	var holdings []Holding
	err := s.store.InTx(ctx, func(tx Tx) error {
		m, err := activeMember(ctx, tx, leagueID, userID)
		if err != nil {
			return err
		}
		holdings, err = tx.ListHoldings(ctx, m.ID)
		if err != nil {
			return err
		}
		out.Member = m
		return nil
	})
	if err != nil {
		return PortfolioView{}, err
	}

	prices := map[string]quotes.Quote{}
	if s.prices != nil && len(holdings) > 0 {
		symbols := make([]string, 0, len(holdings))
		for _, h := range holdings {
			symbols = append(symbols, h.Symbol)
		}
		prices, err = quotes.Batch(ctx, s.prices, symbols, s.batchDelay)
		if err != nil {
			return PortfolioView{}, err
		}
	}

	out.Positions = make([]PositionView, 0, len(holdings))
	for _, h := range holdings {
		pos := PositionView{Holding: h}
		if q, ok := prices[h.Symbol]; ok {
			price := q.Price
			value := Notional(h.Shares, price)
			cost := Notional(h.Shares, h.AverageCost)
			pnl := value.Sub(cost)
			pos.CurrentPrice = &price
			pos.CurrentValue = &value
			pos.UnrealizedPnL = &pnl
			if cost.IsPositive() {
				pct := pnl.Div(cost).Mul(decimal.NewFromInt(100)).Round(4)
				pos.UnrealizedPnLPercent = &pct
			}
		}
		out.Positions = append(out.Positions, pos)
	}
	return out, nil
}

func (s *Service) TradeHistory(ctx context.Context, userID, leagueID string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > MaxTradeHistory {
		limit = MaxTradeHistory
	}
	var out []Trade
	err := s.store.InTx(ctx, func(tx Tx) error {
		m, err := activeMember(ctx, tx, leagueID, userID)
		if err != nil {
			return err
		}
		out, err = tx.ListTrades(ctx, m.ID, limit)
		return err
	})
	if out == nil {
		out = []Trade{}
	}
	return out, err
}

// Leaderboard lists active members by current rank. Members that have not
// been ranked yet come last, ordered by value.
func (s *Service) Leaderboard(ctx context.Context, userID, leagueID string) ([]LeaderboardRow, error) {
	var members []Member
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := activeMember(ctx, tx, leagueID, userID); err != nil {
			return err
		}
		all, err := tx.ListMembers(ctx, leagueID)
		if err != nil {
			return err
		}
		for _, m := range all {
			if m.Status == MemberActive {
				members = append(members, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		switch {
		case a.CurrentRank != nil && b.CurrentRank != nil:
			return *a.CurrentRank < *b.CurrentRank
		case a.CurrentRank != nil:
			return true
		case b.CurrentRank != nil:
			return false
		default:
			return a.TotalValue.GreaterThan(b.TotalValue)
		}
	})
	out := make([]LeaderboardRow, 0, len(members))
	for i, m := range members {
		rank := i + 1
		if m.CurrentRank != nil {
			rank = *m.CurrentRank
		}
		out = append(out, LeaderboardRow{
			Rank:               rank,
			UserID:             m.UserID,
			TotalValue:         m.TotalValue,
			TotalReturnPercent: m.TotalReturnPercent,
		})
	}
	return out, nil
}
