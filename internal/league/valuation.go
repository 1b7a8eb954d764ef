package league

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"wsfantasy/internal/metrics"
	"wsfantasy/internal/quotes"
)

// RefreshResult summarizes one valuation pass.
type RefreshResult struct {
	Leagues   int `json:"leagues"`
	Members   int `json:"members"`
	Quoted    int `json:"quoted"`
	Completed int `json:"completed"`
}

// RefreshValuations marks every member of every open league to market,
// reranks each league and closes leagues whose season has ended.
// Holdings without a quote are valued at average cost.
func (s *Service) RefreshValuations(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	if s.prices == nil {
		return res, errors.New("no quote provider configured")
	}

	var leagues []League
	symbolSet := map[string]struct{}{}
	err := s.store.InTx(ctx, func(tx Tx) error {
		all, err := tx.ListLeagues(ctx)
		if err != nil {
			return err
		}
		leagues = leagues[:0]
		for _, lg := range all {
			if lg.Status == StatusCompleted {
				continue
			}
			leagues = append(leagues, lg)
			members, err := tx.ListMembers(ctx, lg.ID)
			if err != nil {
				return err
			}
			for _, m := range members {
				holdings, err := tx.ListHoldings(ctx, m.ID)
				if err != nil {
					return err
				}
				for _, h := range holdings {
					symbolSet[h.Symbol] = struct{}{}
				}
			}
		}
		return nil
	})
	if err != nil {
		metrics.ValuationRuns.WithLabelValues("error").Inc()
		return res, err
	}

	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	prices, err := quotes.Batch(ctx, s.prices, symbols, s.batchDelay)
	if err != nil {
		metrics.ValuationRuns.WithLabelValues("error").Inc()
		return res, err
	}
	res.Quoted = len(prices)

	for _, lg := range leagues {
		n, closed, err := s.revalueLeague(ctx, lg.ID, prices)
		if err != nil {
			metrics.ValuationRuns.WithLabelValues("error").Inc()
			s.log.Error("league valuation failed", "league_id", lg.ID, "err", err)
			return res, err
		}
		res.Leagues++
		res.Members += n
		if closed {
			res.Completed++
		}
	}
	metrics.ValuationRuns.WithLabelValues("ok").Inc()
	s.log.Info("valuations refreshed",
		"leagues", res.Leagues,
		"members", res.Members,
		"quoted", res.Quoted,
		"completed", res.Completed,
	)
	return res, nil
}

func (s *Service) revalueLeague(ctx context.Context, leagueID string, prices map[string]quotes.Quote) (int, bool, error) {
	var count int
	var closed bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		lg, err := tx.GetLeague(ctx, leagueID)
		if errors.Is(err, ErrLeagueNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		all, err := tx.ListMembers(ctx, leagueID)
		if err != nil {
			return err
		}
		var members []Member
		for _, m := range all {
			if m.Status != MemberActive {
				continue
			}
			locked, err := tx.LockMember(ctx, leagueID, m.UserID)
			if err != nil {
				return err
			}
			holdings, err := tx.ListHoldings(ctx, locked.ID)
			if err != nil {
				return err
			}
			value := MarkToMarket(locked.CashBalance, holdings, prices)
			locked.TotalValue = value
			locked.TotalReturn = value.Sub(lg.StartingBalance)
			locked.TotalReturnPercent = ReturnPercent(value, lg.StartingBalance)
			members = append(members, locked)
		}
		Rank(members)
		for _, m := range members {
			if err := tx.UpdateMemberValuation(ctx, m); err != nil {
				return err
			}
		}
		count = len(members)

		now := s.now().UTC()
		if lg.Status == StatusActive && lg.SeasonEnd != nil && !now.Before(*lg.SeasonEnd) {
			lg.Status = StatusCompleted
			lg.UpdatedAt = now
			if err := tx.UpdateLeague(ctx, lg); err != nil {
				return err
			}
			closed = true
		}
		return nil
	})
	return count, closed, err
}

// MarkToMarket values cash plus holdings at the given prices, falling back
// to average cost for symbols with no quote.
func MarkToMarket(cash decimal.Decimal, holdings []Holding, prices map[string]quotes.Quote) decimal.Decimal {
	total := cash
	for _, h := range holdings {
		price := h.AverageCost
		if q, ok := prices[h.Symbol]; ok && q.Price.IsPositive() {
			price = q.Price
		}
		total = total.Add(Notional(h.Shares, price))
	}
	return total
}

// Rank orders members by total value, highest first, and assigns
// 1-based ranks. The previous current rank moves to PreviousRank.
// Ties keep the earlier joiner ahead.
func Rank(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if !a.TotalValue.Equal(b.TotalValue) {
			return a.TotalValue.GreaterThan(b.TotalValue)
		}
		return a.JoinedAt.Before(b.JoinedAt)
	})
	for i := range members {
		members[i].PreviousRank = members[i].CurrentRank
		rank := i + 1
		members[i].CurrentRank = &rank
	}
}
