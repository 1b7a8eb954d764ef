package league

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store hands out serializable transactions over league data.
type Store interface {
	// InTx runs fn atomically. Nothing fn writes is visible to other
	// transactions unless fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of row operations available inside a transaction.
// Lookups that find nothing return the matching sentinel error
// (ErrLeagueNotFound, ErrNotMember, ErrInviteNotFound).
type Tx interface {
	InsertLeague(ctx context.Context, l *League) error
	GetLeague(ctx context.Context, id string) (League, error)
	UpdateLeague(ctx context.Context, l League) error
	DeleteLeague(ctx context.Context, id string) error
	ListLeagues(ctx context.Context) ([]League, error)

	InsertMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, leagueID, userID string) (Member, error)
	// LockMember loads the member row and holds it until the transaction ends.
	LockMember(ctx context.Context, leagueID, userID string) (Member, error)
	UpdateMemberCash(ctx context.Context, memberID string, cash decimal.Decimal) error
	UpdateMemberValuation(ctx context.Context, m Member) error
	CountMembers(ctx context.Context, leagueID string) (int, error)
	ListMembers(ctx context.Context, leagueID string) ([]Member, error)
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)

	GetHolding(ctx context.Context, memberID, symbol string) (Holding, bool, error)
	InsertHolding(ctx context.Context, h *Holding) error
	UpdateHolding(ctx context.Context, h Holding) error
	DeleteHolding(ctx context.Context, id string) error
	ListHoldings(ctx context.Context, memberID string) ([]Holding, error)

	InsertTrade(ctx context.Context, t *Trade) error
	ListTrades(ctx context.Context, memberID string, limit int) ([]Trade, error)
	CountTradesSince(ctx context.Context, memberID string, since time.Time) (int, error)

	InsertInvite(ctx context.Context, inv *Invite) error
	LockInviteByCode(ctx context.Context, code string) (Invite, error)
	GetInviteByLeague(ctx context.Context, leagueID string) (Invite, error)
	IncrementInviteUses(ctx context.Context, id string) error

	// ClaimIdempotencyKey returns ErrDuplicateIdempotency when the key was
	// already used by the same user.
	ClaimIdempotencyKey(ctx context.Context, userID, key, action string) error
}
