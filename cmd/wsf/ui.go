package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	cl "wsfantasy/internal/cli"
	"wsfantasy/internal/league"
	"wsfantasy/internal/quotes"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptConfirm(label string) (bool, error) {
	fmt.Printf("%s [y/N]: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	text = strings.ToLower(strings.TrimSpace(text))
	return text == "y" || text == "yes", nil
}

func promptDecimal(label string) (decimal.Decimal, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(text)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if !v.IsPositive() {
			printWarn("Value must be > 0")
			continue
		}
		return v, nil
	}
}

func promptSymbol(label string) (string, error) {
	for {
		raw, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol, err := league.NormalizeSymbol(raw)
		if err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

func renderDashboard(d cl.Dashboard, current string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(d.Email))
	if len(d.Memberships) == 0 {
		printInfo("No leagues yet. Create one with `wsf leagues create` or join with an invite code.")
		return
	}
	fmt.Printf("  %-36s %-22s %-10s %16s %10s %6s\n", "LEAGUE ID", "NAME", "STATUS", "VALUE", "RETURN", "RANK")
	for _, m := range d.Memberships {
		marker := " "
		if m.League.ID == current {
			marker = "*"
		}
		fmt.Printf("%s %-36s %-22s %-10s %16s %10s %6s\n",
			marker,
			m.League.ID,
			truncate(m.League.Name, 22),
			m.League.Status,
			formatMoney(m.Member.TotalValue),
			colorizePercent(m.Member.TotalReturnPercent),
			rankText(m.Member.CurrentRank),
		)
	}
	fmt.Println()
}

func renderLeague(d league.LeagueDetail) {
	lg := d.League
	accent.Printf("\n== %s ==\n", strings.ToUpper(lg.Name))
	if lg.Description != "" {
		printInfo(lg.Description)
	}
	fmt.Printf("Status:            %s\n", lg.Status)
	fmt.Printf("Members:           %d / %d\n", d.MemberCount, lg.MaxPlayers)
	fmt.Printf("Starting balance:  %s\n", formatMoney(lg.StartingBalance))
	fmt.Printf("Season length:     %d days\n", lg.SeasonLengthDays)
	if lg.SeasonStart != nil && lg.SeasonEnd != nil {
		fmt.Printf("Season:            %s to %s\n", lg.SeasonStart.Local().Format("2006-01-02"), lg.SeasonEnd.Local().Format("2006-01-02"))
	}
	limit := "unlimited"
	if lg.TradeLimitPerDay > 0 {
		limit = fmt.Sprintf("%d per day", lg.TradeLimitPerDay)
	}
	fmt.Printf("Trade limit:       %s\n", limit)
	fmt.Printf("Fractional shares: %t\n", lg.AllowFractionalShares)
	if d.InviteCode != "" {
		fmt.Printf("Invite code:       %s\n", accent.Sprint(d.InviteCode))
	}
	fmt.Println()
}

func renderPortfolio(p league.PortfolioView) {
	accent.Println("\n== PORTFOLIO ==")
	fmt.Printf("Cash:          %s\n", formatMoney(p.Member.CashBalance))
	fmt.Printf("Total value:   %s\n", formatMoney(p.Member.TotalValue))
	fmt.Printf("Total return:  %s (%s)\n", colorizeMoney(p.Member.TotalReturn), colorizePercent(p.Member.TotalReturnPercent))
	fmt.Println()

	if len(p.Positions) == 0 {
		printInfo("No open positions yet.")
		return
	}
	fmt.Printf("%-8s %-22s %12s %12s %12s %14s %14s %9s\n", "SYMBOL", "NAME", "SHARES", "AVG COST", "NOW", "VALUE", "P/L", "P/L%")
	for _, pos := range p.Positions {
		now, value, pnl, pct := "-", "-", "-", "-"
		if pos.CurrentPrice != nil {
			now = formatMoney(*pos.CurrentPrice)
		}
		if pos.CurrentValue != nil {
			value = formatMoney(*pos.CurrentValue)
		}
		if pos.UnrealizedPnL != nil {
			pnl = colorizeMoney(*pos.UnrealizedPnL)
		}
		if pos.UnrealizedPnLPercent != nil {
			pct = colorizePercent(*pos.UnrealizedPnLPercent)
		}
		fmt.Printf("%-8s %-22s %12s %12s %12s %14s %14s %9s\n",
			pos.Symbol,
			truncate(pos.CompanyName, 22),
			pos.Shares.String(),
			formatMoney(pos.AverageCost),
			now,
			value,
			pnl,
			pct,
		)
	}
	fmt.Println()
}

func renderTrades(trades []league.Trade) {
	accent.Println("\n== TRADES ==")
	if len(trades) == 0 {
		printInfo("No trades yet.")
		return
	}
	fmt.Printf("%-17s %-5s %-8s %12s %12s %14s %14s\n", "EXECUTED", "SIDE", "SYMBOL", "SHARES", "PRICE", "TOTAL", "REALIZED")
	for _, t := range trades {
		realized := "-"
		if t.Side == league.SideSell {
			realized = colorizeMoney(t.RealizedPnL)
		}
		fmt.Printf("%-17s %-5s %-8s %12s %12s %14s %14s\n",
			t.ExecutedAt.Local().Format("2006-01-02 15:04"),
			t.Side,
			t.Symbol,
			t.Shares.String(),
			formatMoney(t.PricePerShare),
			formatMoney(t.TotalAmount),
			realized,
		)
	}
	fmt.Println()
}

func renderLeaderboard(rows []league.LeaderboardRow, me string) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-36s %16s %10s\n", "RANK", "PLAYER", "VALUE", "RETURN")
	for _, row := range rows {
		player := row.UserID
		if row.UserID == me {
			player = success.Sprint(row.UserID + " (you)")
		}
		fmt.Printf("%-6d %-36s %16s %10s\n", row.Rank, player, formatMoney(row.TotalValue), colorizePercent(row.TotalReturnPercent))
	}
	fmt.Println()
}

func renderTradeResult(t league.Trade) {
	verb := "Bought"
	if t.Side == league.SideSell {
		verb = "Sold"
	}
	printSuccess(fmt.Sprintf("%s %s %s @ %s = %s", verb, t.Shares.String(), t.Symbol, formatMoney(t.PricePerShare), formatMoney(t.TotalAmount)))
	if t.Side == league.SideSell {
		fmt.Printf("Realized P/L: %s\n", colorizeMoney(t.RealizedPnL))
	}
}

func renderQuote(q quotes.Quote) {
	accent.Printf("\n%s  %s\n", q.Symbol, formatMoney(q.Price))
	fmt.Printf("Change:      %s (%s)\n", colorizeMoney(q.Change), colorizePercent(q.ChangePercent))
	fmt.Printf("Open:        %s\n", formatMoney(q.Open))
	fmt.Printf("High / Low:  %s / %s\n", formatMoney(q.High), formatMoney(q.Low))
	fmt.Printf("Prev close:  %s\n\n", formatMoney(q.PreviousClose))
}

func renderSearch(results []quotes.SearchResult) {
	if len(results) == 0 {
		printInfo("No matches.")
		return
	}
	fmt.Printf("%-10s %-40s %s\n", "SYMBOL", "DESCRIPTION", "TYPE")
	for _, r := range results {
		fmt.Printf("%-10s %-40s %s\n", r.Symbol, truncate(r.Description, 40), r.Type)
	}
}

func rankText(rank *int) string {
	if rank == nil {
		return "-"
	}
	return fmt.Sprintf("#%d", *rank)
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	if v.IsPositive() {
		text = "+" + text
	}
	switch v.Sign() {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal) string {
	text := v.StringFixed(2) + "%"
	if v.IsPositive() {
		text = "+" + text
	}
	switch v.Sign() {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	fixed := v.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + "$" + comma(whole) + "." + frac
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
