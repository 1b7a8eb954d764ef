package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"wsfantasy/internal/league"
)

// Postgres implements league.Store on PostgreSQL. Every transaction runs
// at SERIALIZABLE and is retried on serialization failures and deadlocks.
// NUMERIC columns travel as text to keep exact decimal precision.
type Postgres struct {
	db    txBeginner
	sleep func(context.Context, time.Duration) error
}

// txBeginner is the part of *pgxpool.Pool the store needs.
type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool, sleep: sleepWithContext}
}

const (
	maxTxAttempts  = 8
	baseRetryDelay = 75 * time.Millisecond
	maxRetryDelay  = 1200 * time.Millisecond
)

func (p *Postgres) InTx(ctx context.Context, fn func(league.Tx) error) error {
	retryDelay := baseRetryDelay
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(&pgTx{tx: tx}); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == maxTxAttempts-1 {
			break
		}
		if err := p.sleep(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return league.ErrTxConflict
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
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

type scanner interface {
	Scan(dest ...any) error
}

type pgTx struct {
	tx pgx.Tx
}

func parseDecimals(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		raw := pairs[i].(string)
		dst := pairs[i+1].(*decimal.Decimal)
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", raw, err)
		}
		*dst = v
	}
	return nil
}

const leagueCols = `id, name, description, commissioner_id, starting_balance::TEXT,
	season_length_days, max_players, trade_limit_per_day, allow_fractional_shares,
	status, season_start_date, season_end_date, created_at, updated_at`

func scanLeague(row scanner) (league.League, error) {
	var l league.League
	var starting string
	if err := row.Scan(&l.ID, &l.Name, &l.Description, &l.CommissionerID, &starting,
		&l.SeasonLengthDays, &l.MaxPlayers, &l.TradeLimitPerDay, &l.AllowFractionalShares,
		&l.Status, &l.SeasonStart, &l.SeasonEnd, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return l, err
	}
	return l, parseDecimals(starting, &l.StartingBalance)
}

func (t *pgTx) InsertLeague(ctx context.Context, l *league.League) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wsf.leagues (id, name, description, commissioner_id, starting_balance,
			season_length_days, max_players, trade_limit_per_day, allow_fractional_shares,
			status, season_start_date, season_end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, l.ID, l.Name, l.Description, l.CommissionerID, l.StartingBalance.String(),
		l.SeasonLengthDays, l.MaxPlayers, l.TradeLimitPerDay, l.AllowFractionalShares,
		l.Status, l.SeasonStart, l.SeasonEnd, l.CreatedAt, l.UpdatedAt)
	return err
}

func (t *pgTx) GetLeague(ctx context.Context, id string) (league.League, error) {
	l, err := scanLeague(t.tx.QueryRow(ctx, `SELECT `+leagueCols+` FROM wsf.leagues WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return league.League{}, league.ErrLeagueNotFound
	}
	return l, err
}

func (t *pgTx) UpdateLeague(ctx context.Context, l league.League) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE wsf.leagues
		SET name = $2, description = $3, status = $4,
			season_start_date = $5, season_end_date = $6, updated_at = $7
		WHERE id = $1
	`, l.ID, l.Name, l.Description, l.Status, l.SeasonStart, l.SeasonEnd, l.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return league.ErrLeagueNotFound
	}
	return nil
}

func (t *pgTx) DeleteLeague(ctx context.Context, id string) error {
	cmd, err := t.tx.Exec(ctx, `DELETE FROM wsf.leagues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return league.ErrLeagueNotFound
	}
	return nil
}

func (t *pgTx) ListLeagues(ctx context.Context) ([]league.League, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+leagueCols+` FROM wsf.leagues ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []league.League
	for rows.Next() {
		l, err := scanLeague(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const memberCols = `id, league_id, user_id, status, joined_at, cash_balance::TEXT,
	total_value::TEXT, total_return::TEXT, total_return_percent::TEXT, current_rank, previous_rank`

func scanMember(row scanner) (league.Member, error) {
	var m league.Member
	var cash, value, ret, pct string
	if err := row.Scan(&m.ID, &m.LeagueID, &m.UserID, &m.Status, &m.JoinedAt, &cash,
		&value, &ret, &pct, &m.CurrentRank, &m.PreviousRank); err != nil {
		return m, err
	}
	return m, parseDecimals(cash, &m.CashBalance, value, &m.TotalValue,
		ret, &m.TotalReturn, pct, &m.TotalReturnPercent)
}

func (t *pgTx) InsertMember(ctx context.Context, m *league.Member) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wsf.league_members (id, league_id, user_id, status, joined_at,
			cash_balance, total_value, total_return, total_return_percent)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC)
	`, m.ID, m.LeagueID, m.UserID, m.Status, m.JoinedAt, m.CashBalance.String(),
		m.TotalValue.String(), m.TotalReturn.String(), m.TotalReturnPercent.String())
	if isUniqueViolation(err) {
		return league.ErrAlreadyMember
	}
	return err
}

func (t *pgTx) GetMember(ctx context.Context, leagueID, userID string) (league.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, `
		SELECT `+memberCols+`
		FROM wsf.league_members
		WHERE league_id = $1 AND user_id = $2
	`, leagueID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return league.Member{}, league.ErrNotMember
	}
	return m, err
}

func (t *pgTx) LockMember(ctx context.Context, leagueID, userID string) (league.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, `
		SELECT `+memberCols+`
		FROM wsf.league_members
		WHERE league_id = $1 AND user_id = $2
		FOR UPDATE
	`, leagueID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return league.Member{}, league.ErrNotMember
	}
	return m, err
}

func (t *pgTx) UpdateMemberCash(ctx context.Context, memberID string, cash decimal.Decimal) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE wsf.league_members SET cash_balance = $2::NUMERIC WHERE id = $1
	`, memberID, cash.String())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return league.ErrNotMember
	}
	return nil
}

func (t *pgTx) UpdateMemberValuation(ctx context.Context, m league.Member) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE wsf.league_members
		SET total_value = $2::NUMERIC, total_return = $3::NUMERIC,
			total_return_percent = $4::NUMERIC, current_rank = $5, previous_rank = $6
		WHERE id = $1
	`, m.ID, m.TotalValue.String(), m.TotalReturn.String(), m.TotalReturnPercent.String(),
		m.CurrentRank, m.PreviousRank)
	return err
}

func (t *pgTx) CountMembers(ctx context.Context, leagueID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM wsf.league_members WHERE league_id = $1 AND status = 'active'
	`, leagueID).Scan(&n)
	return n, err
}

func (t *pgTx) ListMembers(ctx context.Context, leagueID string) ([]league.Member, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+memberCols+`
		FROM wsf.league_members
		WHERE league_id = $1
		ORDER BY joined_at, id
	`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []league.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) ListMemberships(ctx context.Context, userID string) ([]league.Membership, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT m.id, m.league_id, m.user_id, m.status, m.joined_at, m.cash_balance::TEXT,
			m.total_value::TEXT, m.total_return::TEXT, m.total_return_percent::TEXT,
			m.current_rank, m.previous_rank,
			l.id, l.name, l.description, l.commissioner_id, l.starting_balance::TEXT,
			l.season_length_days, l.max_players, l.trade_limit_per_day, l.allow_fractional_shares,
			l.status, l.season_start_date, l.season_end_date, l.created_at, l.updated_at
		FROM wsf.league_members m
		JOIN wsf.leagues l ON l.id = m.league_id
		WHERE m.user_id = $1
		ORDER BY m.joined_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []league.Membership
	for rows.Next() {
		var ms league.Membership
		m, l := &ms.Member, &ms.League
		var cash, value, ret, pct, starting string
		if err := rows.Scan(&m.ID, &m.LeagueID, &m.UserID, &m.Status, &m.JoinedAt, &cash,
			&value, &ret, &pct, &m.CurrentRank, &m.PreviousRank,
			&l.ID, &l.Name, &l.Description, &l.CommissionerID, &starting,
			&l.SeasonLengthDays, &l.MaxPlayers, &l.TradeLimitPerDay, &l.AllowFractionalShares,
			&l.Status, &l.SeasonStart, &l.SeasonEnd, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		if err := parseDecimals(cash, &m.CashBalance, value, &m.TotalValue, ret, &m.TotalReturn,
			pct, &m.TotalReturnPercent, starting, &l.StartingBalance); err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

const holdingCols = `id, league_member_id, symbol, company_name, shares::TEXT, average_cost::TEXT, last_updated`

func scanHolding(row scanner) (league.Holding, error) {
	var h league.Holding
	var shares, avg string
	if err := row.Scan(&h.ID, &h.MemberID, &h.Symbol, &h.CompanyName, &shares, &avg, &h.UpdatedAt); err != nil {
		return h, err
	}
	return h, parseDecimals(shares, &h.Shares, avg, &h.AverageCost)
}

func (t *pgTx) GetHolding(ctx context.Context, memberID, symbol string) (league.Holding, bool, error) {
	h, err := scanHolding(t.tx.QueryRow(ctx, `
		SELECT `+holdingCols+`
		FROM wsf.portfolio_holdings
		WHERE league_member_id = $1 AND symbol = $2
		FOR UPDATE
	`, memberID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return league.Holding{}, false, nil
	}
	if err != nil {
		return league.Holding{}, false, err
	}
	return h, true, nil
}

func (t *pgTx) InsertHolding(ctx context.Context, h *league.Holding) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wsf.portfolio_holdings (id, league_member_id, symbol, company_name, shares, average_cost, last_updated)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
	`, h.ID, h.MemberID, h.Symbol, h.CompanyName, h.Shares.String(), h.AverageCost.String(), h.UpdatedAt)
	return err
}

func (t *pgTx) UpdateHolding(ctx context.Context, h league.Holding) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE wsf.portfolio_holdings
		SET shares = $2::NUMERIC, average_cost = $3::NUMERIC, company_name = $4, last_updated = $5
		WHERE id = $1
	`, h.ID, h.Shares.String(), h.AverageCost.String(), h.CompanyName, h.UpdatedAt)
	return err
}

func (t *pgTx) DeleteHolding(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM wsf.portfolio_holdings WHERE id = $1`, id)
	return err
}

func (t *pgTx) ListHoldings(ctx context.Context, memberID string) ([]league.Holding, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+holdingCols+`
		FROM wsf.portfolio_holdings
		WHERE league_member_id = $1
		ORDER BY symbol
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []league.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *league.Trade) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wsf.trades (id, league_member_id, symbol, company_name, trade_type, shares,
			price_per_share, total_amount, realized_pnl, status, executed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)
	`, tr.ID, tr.MemberID, tr.Symbol, tr.CompanyName, string(tr.Side), tr.Shares.String(),
		tr.PricePerShare.String(), tr.TotalAmount.String(), tr.RealizedPnL.String(),
		tr.Status, tr.ExecutedAt, tr.CreatedAt)
	return err
}

func (t *pgTx) ListTrades(ctx context.Context, memberID string, limit int) ([]league.Trade, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, league_member_id, symbol, company_name, trade_type, shares::TEXT,
			price_per_share::TEXT, total_amount::TEXT, realized_pnl::TEXT, status, executed_at, created_at
		FROM wsf.trades
		WHERE league_member_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []league.Trade
	for rows.Next() {
		var tr league.Trade
		var side, shares, price, total, pnl string
		if err := rows.Scan(&tr.ID, &tr.MemberID, &tr.Symbol, &tr.CompanyName, &side, &shares,
			&price, &total, &pnl, &tr.Status, &tr.ExecutedAt, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Side = league.Side(side)
		if err := parseDecimals(shares, &tr.Shares, price, &tr.PricePerShare,
			total, &tr.TotalAmount, pnl, &tr.RealizedPnL); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (t *pgTx) CountTradesSince(ctx context.Context, memberID string, since time.Time) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM wsf.trades WHERE league_member_id = $1 AND created_at >= $2
	`, memberID, since).Scan(&n)
	return n, err
}

const inviteCols = `id, league_id, invited_by, invite_code, max_uses, uses_count, expires_at, created_at`

func scanInvite(row scanner) (league.Invite, error) {
	var inv league.Invite
	err := row.Scan(&inv.ID, &inv.LeagueID, &inv.InvitedBy, &inv.Code, &inv.MaxUses,
		&inv.UsesCount, &inv.ExpiresAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return inv, league.ErrInviteNotFound
	}
	return inv, err
}

func (t *pgTx) InsertInvite(ctx context.Context, inv *league.Invite) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wsf.league_invites (id, league_id, invited_by, invite_code, max_uses, uses_count, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.LeagueID, inv.InvitedBy, inv.Code, inv.MaxUses, inv.UsesCount, inv.ExpiresAt, inv.CreatedAt)
	return err
}

func (t *pgTx) LockInviteByCode(ctx context.Context, code string) (league.Invite, error) {
	return scanInvite(t.tx.QueryRow(ctx, `
		SELECT `+inviteCols+`
		FROM wsf.league_invites
		WHERE invite_code = $1
		FOR UPDATE
	`, code))
}

func (t *pgTx) GetInviteByLeague(ctx context.Context, leagueID string) (league.Invite, error) {
	return scanInvite(t.tx.QueryRow(ctx, `
		SELECT `+inviteCols+`
		FROM wsf.league_invites
		WHERE league_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, leagueID))
}

func (t *pgTx) IncrementInviteUses(ctx context.Context, id string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE wsf.league_invites SET uses_count = uses_count + 1 WHERE id = $1
	`, id)
	return err
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, userID, key, action string) error {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO wsf.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return league.ErrDuplicateIdempotency
	}
	return nil
}
