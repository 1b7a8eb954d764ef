package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"wsfantasy/internal/league"
)

// Memory is an in-process league.Store. Transactions are fully serialized
// and work on a copy of the data that replaces the live state only when
// the transaction function succeeds.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	leagues  map[string]league.League
	members  map[string]league.Member
	holdings map[string]league.Holding
	trades   []league.Trade
	invites  map[string]league.Invite
	idem     map[string]string
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		leagues:  map[string]league.League{},
		members:  map[string]league.Member{},
		holdings: map[string]league.Holding{},
		invites:  map[string]league.Invite{},
		idem:     map[string]string{},
	}}
}

func (m *Memory) InTx(ctx context.Context, fn func(league.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (s *memState) clone() *memState {
	out := &memState{
		leagues:  make(map[string]league.League, len(s.leagues)),
		members:  make(map[string]league.Member, len(s.members)),
		holdings: make(map[string]league.Holding, len(s.holdings)),
		trades:   make([]league.Trade, len(s.trades)),
		invites:  make(map[string]league.Invite, len(s.invites)),
		idem:     make(map[string]string, len(s.idem)),
	}
	for k, v := range s.leagues {
		out.leagues[k] = v
	}
	for k, v := range s.members {
		out.members[k] = v
	}
	for k, v := range s.holdings {
		out.holdings[k] = v
	}
	copy(out.trades, s.trades)
	for k, v := range s.invites {
		out.invites[k] = v
	}
	for k, v := range s.idem {
		out.idem[k] = v
	}
	return out
}

type memTx struct {
	s *memState
}

func (t *memTx) InsertLeague(_ context.Context, l *league.League) error {
	if _, ok := t.s.leagues[l.ID]; ok {
		return fmt.Errorf("league %s already exists", l.ID)
	}
	t.s.leagues[l.ID] = *l
	return nil
}

func (t *memTx) GetLeague(_ context.Context, id string) (league.League, error) {
	l, ok := t.s.leagues[id]
	if !ok {
		return league.League{}, league.ErrLeagueNotFound
	}
	return l, nil
}

func (t *memTx) UpdateLeague(_ context.Context, l league.League) error {
	if _, ok := t.s.leagues[l.ID]; !ok {
		return league.ErrLeagueNotFound
	}
	t.s.leagues[l.ID] = l
	return nil
}

func (t *memTx) DeleteLeague(_ context.Context, id string) error {
	if _, ok := t.s.leagues[id]; !ok {
		return league.ErrLeagueNotFound
	}
	delete(t.s.leagues, id)
	gone := map[string]bool{}
	for mid, m := range t.s.members {
		if m.LeagueID == id {
			gone[mid] = true
			delete(t.s.members, mid)
		}
	}
	for hid, h := range t.s.holdings {
		if gone[h.MemberID] {
			delete(t.s.holdings, hid)
		}
	}
	kept := t.s.trades[:0]
	for _, tr := range t.s.trades {
		if !gone[tr.MemberID] {
			kept = append(kept, tr)
		}
	}
	t.s.trades = kept
	for iid, inv := range t.s.invites {
		if inv.LeagueID == id {
			delete(t.s.invites, iid)
		}
	}
	return nil
}

func (t *memTx) ListLeagues(_ context.Context) ([]league.League, error) {
	out := make([]league.League, 0, len(t.s.leagues))
	for _, l := range t.s.leagues {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) InsertMember(_ context.Context, m *league.Member) error {
	if _, ok := t.s.leagues[m.LeagueID]; !ok {
		return league.ErrLeagueNotFound
	}
	if _, ok := t.findMember(m.LeagueID, m.UserID); ok {
		return league.ErrAlreadyMember
	}
	t.s.members[m.ID] = *m
	return nil
}

func (t *memTx) findMember(leagueID, userID string) (league.Member, bool) {
	for _, m := range t.s.members {
		if m.LeagueID == leagueID && m.UserID == userID {
			return m, true
		}
	}
	return league.Member{}, false
}

func (t *memTx) GetMember(_ context.Context, leagueID, userID string) (league.Member, error) {
	m, ok := t.findMember(leagueID, userID)
	if !ok {
		return league.Member{}, league.ErrNotMember
	}
	return m, nil
}

// LockMember is GetMember; the store-wide lock already serializes writers.
func (t *memTx) LockMember(ctx context.Context, leagueID, userID string) (league.Member, error) {
	return t.GetMember(ctx, leagueID, userID)
}

func (t *memTx) UpdateMemberCash(_ context.Context, memberID string, cash decimal.Decimal) error {
	m, ok := t.s.members[memberID]
	if !ok {
		return league.ErrNotMember
	}
	m.CashBalance = cash
	t.s.members[memberID] = m
	return nil
}

func (t *memTx) UpdateMemberValuation(_ context.Context, in league.Member) error {
	m, ok := t.s.members[in.ID]
	if !ok {
		return league.ErrNotMember
	}
	m.TotalValue = in.TotalValue
	m.TotalReturn = in.TotalReturn
	m.TotalReturnPercent = in.TotalReturnPercent
	m.CurrentRank = in.CurrentRank
	m.PreviousRank = in.PreviousRank
	t.s.members[in.ID] = m
	return nil
}

func (t *memTx) CountMembers(_ context.Context, leagueID string) (int, error) {
	n := 0
	for _, m := range t.s.members {
		if m.LeagueID == leagueID && m.Status == league.MemberActive {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ListMembers(_ context.Context, leagueID string) ([]league.Member, error) {
	var out []league.Member
	for _, m := range t.s.members {
		if m.LeagueID == leagueID {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out, nil
}

func sortMembers(ms []league.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			return ms[i].JoinedAt.Before(ms[j].JoinedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func (t *memTx) ListMemberships(_ context.Context, userID string) ([]league.Membership, error) {
	var out []league.Membership
	for _, m := range t.s.members {
		if m.UserID != userID {
			continue
		}
		l, ok := t.s.leagues[m.LeagueID]
		if !ok {
			continue
		}
		out = append(out, league.Membership{Member: m, League: l})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Member.JoinedAt.After(out[j].Member.JoinedAt)
	})
	return out, nil
}

func (t *memTx) GetHolding(_ context.Context, memberID, symbol string) (league.Holding, bool, error) {
	for _, h := range t.s.holdings {
		if h.MemberID == memberID && h.Symbol == symbol {
			return h, true, nil
		}
	}
	return league.Holding{}, false, nil
}

func (t *memTx) InsertHolding(ctx context.Context, h *league.Holding) error {
	if _, found, _ := t.GetHolding(ctx, h.MemberID, h.Symbol); found {
		return fmt.Errorf("holding %s for member %s already exists", h.Symbol, h.MemberID)
	}
	t.s.holdings[h.ID] = *h
	return nil
}

func (t *memTx) UpdateHolding(_ context.Context, h league.Holding) error {
	if _, ok := t.s.holdings[h.ID]; !ok {
		return fmt.Errorf("holding %s not found", h.ID)
	}
	t.s.holdings[h.ID] = h
	return nil
}

func (t *memTx) DeleteHolding(_ context.Context, id string) error {
	delete(t.s.holdings, id)
	return nil
}

func (t *memTx) ListHoldings(_ context.Context, memberID string) ([]league.Holding, error) {
	var out []league.Holding
	for _, h := range t.s.holdings {
		if h.MemberID == memberID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *league.Trade) error {
	t.s.trades = append(t.s.trades, *tr)
	return nil
}

// ListTrades returns the newest trades first.
func (t *memTx) ListTrades(_ context.Context, memberID string, limit int) ([]league.Trade, error) {
	var out []league.Trade
	for i := len(t.s.trades) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if t.s.trades[i].MemberID == memberID {
			out = append(out, t.s.trades[i])
		}
	}
	return out, nil
}

func (t *memTx) CountTradesSince(_ context.Context, memberID string, since time.Time) (int, error) {
	n := 0
	for _, tr := range t.s.trades {
		if tr.MemberID == memberID && !tr.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertInvite(_ context.Context, inv *league.Invite) error {
	for _, existing := range t.s.invites {
		if existing.Code == inv.Code {
			return fmt.Errorf("invite code %s already exists", inv.Code)
		}
	}
	t.s.invites[inv.ID] = *inv
	return nil
}

func (t *memTx) LockInviteByCode(_ context.Context, code string) (league.Invite, error) {
	for _, inv := range t.s.invites {
		if inv.Code == code {
			return inv, nil
		}
	}
	return league.Invite{}, league.ErrInviteNotFound
}

func (t *memTx) GetInviteByLeague(_ context.Context, leagueID string) (league.Invite, error) {
	var out league.Invite
	found := false
	for _, inv := range t.s.invites {
		if inv.LeagueID != leagueID {
			continue
		}
		if !found || inv.CreatedAt.After(out.CreatedAt) {
			out = inv
			found = true
		}
	}
	if !found {
		return league.Invite{}, league.ErrInviteNotFound
	}
	return out, nil
}

func (t *memTx) IncrementInviteUses(_ context.Context, id string) error {
	inv, ok := t.s.invites[id]
	if !ok {
		return league.ErrInviteNotFound
	}
	inv.UsesCount++
	t.s.invites[id] = inv
	return nil
}

func (t *memTx) ClaimIdempotencyKey(_ context.Context, userID, key, action string) error {
	k := userID + "\x00" + key
	if _, ok := t.s.idem[k]; ok {
		return league.ErrDuplicateIdempotency
	}
	t.s.idem[k] = action
	return nil
}
