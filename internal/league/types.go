package league

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"

	MemberPending = "pending"
	MemberActive  = "active"
	MemberRemoved = "removed"

	TradePending   = "pending"
	TradeCompleted = "completed"
	TradeFailed    = "failed"
)

type League struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Description           string          `json:"description,omitempty"`
	CommissionerID        string          `json:"commissioner_id"`
	StartingBalance       decimal.Decimal `json:"starting_balance"`
	SeasonLengthDays      int             `json:"season_length_days"`
	MaxPlayers            int             `json:"max_players"`
	TradeLimitPerDay      int             `json:"trade_limit_per_day"`
	AllowFractionalShares bool            `json:"allow_fractional_shares"`
	Status                string          `json:"status"`
	SeasonStart           *time.Time      `json:"season_start_date,omitempty"`
	SeasonEnd             *time.Time      `json:"season_end_date,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Tradable reports whether members may place trades.
func (l League) Tradable() bool {
	return l.Status == StatusDraft || l.Status == StatusActive
}

type Member struct {
	ID                 string          `json:"id"`
	LeagueID           string          `json:"league_id"`
	UserID             string          `json:"user_id"`
	Status             string          `json:"status"`
	JoinedAt           time.Time       `json:"joined_at"`
	CashBalance        decimal.Decimal `json:"cash_balance"`
	TotalValue         decimal.Decimal `json:"total_value"`
	TotalReturn        decimal.Decimal `json:"total_return"`
	TotalReturnPercent decimal.Decimal `json:"total_return_percent"`
	CurrentRank        *int            `json:"current_rank,omitempty"`
	PreviousRank       *int            `json:"previous_rank,omitempty"`
}

type Holding struct {
	ID          string          `json:"id"`
	MemberID    string          `json:"league_member_id"`
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"company_name,omitempty"`
	Shares      decimal.Decimal `json:"shares"`
	AverageCost decimal.Decimal `json:"average_cost"`
	UpdatedAt   time.Time       `json:"last_updated"`
}

type Trade struct {
	ID            string          `json:"id"`
	MemberID      string          `json:"league_member_id"`
	Symbol        string          `json:"symbol"`
	CompanyName   string          `json:"company_name,omitempty"`
	Side          Side            `json:"trade_type"`
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Status        string          `json:"status"`
	ExecutedAt    time.Time       `json:"executed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Invite struct {
	ID        string     `json:"id"`
	LeagueID  string     `json:"league_id"`
	InvitedBy string     `json:"invited_by"`
	Code      string     `json:"invite_code"`
	MaxUses   int        `json:"max_uses"`
	UsesCount int        `json:"uses_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Usable reports whether the invite still admits a new member at now.
func (i Invite) Usable(now time.Time) bool {
	if i.ExpiresAt != nil && !now.Before(*i.ExpiresAt) {
		return false
	}
	return i.UsesCount < i.MaxUses
}

// Membership is one dashboard row: a member record joined with its league.
type Membership struct {
	Member Member `json:"member"`
	League League `json:"league"`
}

type TradeInput struct {
	LeagueID       string
	UserID         string
	Symbol         string
	CompanyName    string
	Side           string
	Shares         decimal.Decimal
	PricePerShare  decimal.Decimal
	IdempotencyKey string
}

type CreateLeagueInput struct {
	UserID                string
	Name                  string
	Description           string
	StartingBalance       decimal.Decimal
	SeasonLengthDays      int
	MaxPlayers            int
	TradeLimitPerDay      int
	AllowFractionalShares bool
}

type CreateLeagueResult struct {
	League League `json:"league"`
	Member Member `json:"member"`
	Invite Invite `json:"invite"`
}

type LeagueDetail struct {
	League      League `json:"league"`
	Member      Member `json:"member"`
	InviteCode  string `json:"invite_code,omitempty"`
	MemberCount int    `json:"member_count"`
}

type PositionView struct {
	Holding
	CurrentPrice         *decimal.Decimal `json:"current_price,omitempty"`
	CurrentValue         *decimal.Decimal `json:"current_value,omitempty"`
	UnrealizedPnL        *decimal.Decimal `json:"unrealized_gain_loss,omitempty"`
	UnrealizedPnLPercent *decimal.Decimal `json:"unrealized_gain_loss_percent,omitempty"`
}

type PortfolioView struct {
	Member    Member         `json:"member"`
	Positions []PositionView `json:"holdings"`
}

type LeaderboardRow struct {
	Rank               int             `json:"rank"`
	UserID             string          `json:"user_id"`
	TotalValue         decimal.Decimal `json:"total_value"`
	TotalReturnPercent decimal.Decimal `json:"total_return_percent"`
}
