package league

import (
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Decimal places kept for each kind of quantity.
	SharePlaces = 4
	PricePlaces = 4
	MoneyPlaces = 8

	DefaultMaxInviteUses    = 100
	DefaultSeasonLengthDays = 90
	DefaultMaxPlayers       = 20
	MaxTradeHistory         = 100
)

var DefaultStartingBalance = decimal.NewFromInt(100_000)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotMember            = errors.New("not a league member")
	ErrNotCommissioner      = errors.New("only the league commissioner can do that")
	ErrLeagueNotFound       = errors.New("league not found")
	ErrLeagueClosed         = errors.New("league is not open for trading")
	ErrLeagueFull           = errors.New("league is full")
	ErrAlreadyMember        = errors.New("already a member of this league")
	ErrInviteNotFound       = errors.New("invalid invite code")
	ErrInviteExhausted      = errors.New("invite code has been used up")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrTradeLimitReached    = errors.New("daily trade limit reached")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var symbolRE = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// NormalizeSymbol returns the canonical holdings key for a ticker.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRE.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

func ParseSide(v string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(v))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", invalid("trade_type", "must be buy or sell")
	}
}

// Notional is shares * price at money precision.
func Notional(shares, price decimal.Decimal) decimal.Decimal {
	return shares.Mul(price).Round(MoneyPlaces)
}

// CostBasis merges a buy into an existing position and returns the
// weighted average cost of the combined shares.
func CostBasis(oldShares, oldAvg, boughtShares, total decimal.Decimal) (decimal.Decimal, error) {
	newShares := oldShares.Add(boughtShares)
	if !newShares.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid resulting share count %s", newShares)
	}
	cost := oldShares.Mul(oldAvg).Add(total)
	return cost.DivRound(newShares, MoneyPlaces), nil
}

// RealizedPnL is the gain of selling shares at price against the
// position's average cost. The average cost itself is not touched by sells.
func RealizedPnL(shares, price, avgCost decimal.Decimal) decimal.Decimal {
	return price.Sub(avgCost).Mul(shares).Round(MoneyPlaces)
}

func ReturnPercent(totalValue, starting decimal.Decimal) decimal.Decimal {
	if !starting.IsPositive() {
		return decimal.Zero
	}
	return totalValue.Sub(starting).Div(starting).Mul(decimal.NewFromInt(100)).Round(4)
}

func hasMorePlaces(v decimal.Decimal, places int32) bool {
	return !v.Equal(v.Truncate(places))
}

func GenerateInviteCode() (string, error) {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf), nil
}

// NormalizeInviteCode upper-cases a user supplied invite code.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateLeagueName(name string) error {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return invalid("name", "is required")
	}
	if len(clean) > 64 {
		return invalid("name", "too long (max 64 chars)")
	}
	return nil
}
