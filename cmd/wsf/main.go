package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cl "wsfantasy/internal/cli"
	"wsfantasy/internal/config"
	"wsfantasy/internal/league"
	"wsfantasy/internal/syncq"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "wsf",
		Short:        "Wall Street fantasy league client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newDashCmd(&apiBase),
		newLeaguesCmd(&apiBase),
		newTradeCmd(&apiBase),
		newQuoteCmd(&apiBase),
		newSearchCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `wsf login`.")
				return nil
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and store a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				Email:        session.User.Email,
				UserID:       session.User.ID,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and clear it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sess, err := cl.LoadSession(); err == nil {
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				if err := newClient(apiBase).Logout(ctx, sess.AccessToken); err != nil {
					printWarn(fmt.Sprintf("Server logout failed: %v", err))
				}
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show your leagues",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := newClient(apiBase).Dashboard(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			renderDashboard(out, sess.LeagueID)
			return nil
		},
	}
}

func newLeaguesCmd(apiBase *string) *cobra.Command {
	leagues := &cobra.Command{
		Use:   "leagues",
		Short: "Create, join and inspect leagues",
	}
	leagues.AddCommand(
		newLeagueCreateCmd(apiBase),
		newLeagueJoinCmd(apiBase),
		newLeagueUseCmd(),
		newLeagueShowCmd(apiBase),
		newLeagueStartCmd(apiBase),
		newLeagueDeleteCmd(apiBase),
		newLeaguePortfolioCmd(apiBase),
		newLeagueTradesCmd(apiBase),
		newLeagueLeaderboardCmd(apiBase),
	)
	return leagues
}

func newLeagueCreateCmd(apiBase *string) *cobra.Command {
	var (
		description string
		balance     string
		days        int
		maxPlayers  int
		tradeLimit  int
		fractional  bool
	)
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a league and become its commissioner",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			name, err := argOrPrompt(args, 0, "League name")
			if err != nil {
				return err
			}
			body := map[string]any{
				"name":                    name,
				"description":             description,
				"season_length_days":      days,
				"max_players":             maxPlayers,
				"trade_limit_per_day":     tradeLimit,
				"allow_fractional_shares": fractional,
			}
			if balance != "" {
				v, err := decimal.NewFromString(balance)
				if err != nil {
					return fmt.Errorf("invalid --balance: %w", err)
				}
				body["starting_balance"] = v
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := newClient(apiBase).CreateLeague(ctx, sess.AccessToken, body)
			if err != nil {
				return err
			}
			if err := sess.UseLeague(out.League.ID); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("League %q created.", out.League.Name))
			fmt.Printf("League ID:    %s\n", out.League.ID)
			fmt.Printf("Invite code:  %s\n", accent.Sprint(out.Invite.Code))
			fmt.Printf("Cash:         %s\n", formatMoney(out.Member.CashBalance))
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "league description")
	cmd.Flags().StringVar(&balance, "balance", "", "starting cash per member")
	cmd.Flags().IntVar(&days, "days", 0, "season length in days")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "member cap")
	cmd.Flags().IntVar(&tradeLimit, "trade-limit", 0, "trades per member per day, 0 for unlimited")
	cmd.Flags().BoolVar(&fractional, "fractional", false, "allow fractional shares")
	return cmd
}

func newLeagueJoinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join [invite-code]",
		Short: "Join a league with an invite code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			code, err := argOrPrompt(args, 0, "Invite code")
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			member, err := newClient(apiBase).JoinLeague(ctx, sess.AccessToken, strings.ToUpper(code))
			if err != nil {
				return err
			}
			if err := sess.UseLeague(member.LeagueID); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Joined league %s with %s cash.", member.LeagueID, formatMoney(member.CashBalance)))
			return nil
		},
	}
}

func newLeagueUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <league-id>",
		Short: "Set the default league for other commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			if err := sess.UseLeague(args[0]); err != nil {
				return err
			}
			printSuccess("Default league set.")
			return nil
		},
	}
}

func newLeagueShowCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show [league-id]",
		Short: "Show league settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, leagueID, err := sessionAndLeague(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := newClient(apiBase).LeagueDetail(ctx, sess.AccessToken, leagueID)
			if err != nil {
				return err
			}
			renderLeague(out)
			return nil
		},
	}
}

func newLeagueStartCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start [league-id]",
		Short: "Start the season (commissioner only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, leagueID, err := sessionAndLeague(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			lg, err := newClient(apiBase).StartLeague(ctx, sess.AccessToken, leagueID)
			if err != nil {
				return err
			}
			end := "-"
			if lg.SeasonEnd != nil {
				end = lg.SeasonEnd.Local().Format("2006-01-02")
			}
			printSuccess(fmt.Sprintf("Season started. Ends %s.", end))
			return nil
		},
	}
}

func newLeagueDeleteCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <league-id>",
		Short: "Delete a league (commissioner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			leagueID := strings.TrimSpace(args[0])
			ok, err := promptConfirm(fmt.Sprintf("Delete league %s and all its trades?", leagueID))
			if err != nil {
				return err
			}
			if !ok {
				printInfo("Cancelled.")
				return nil
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			if err := newClient(apiBase).DeleteLeague(ctx, sess.AccessToken, leagueID); err != nil {
				return err
			}
			if _, err := sess.ForgetLeague(leagueID); err != nil {
				return err
			}
			printSuccess("League deleted.")
			return nil
		},
	}
}

func newLeaguePortfolioCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio [league-id]",
		Short: "Show cash and holdings marked to market",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, leagueID, err := sessionAndLeague(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := newClient(apiBase).Portfolio(ctx, sess.AccessToken, leagueID)
			if err != nil {
				return err
			}
			renderPortfolio(out)
			return nil
		},
	}
}

func newLeagueTradesCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades [league-id]",
		Short: "Show your recent trades",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, leagueID, err := sessionAndLeague(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			out, err := newClient(apiBase).Trades(ctx, sess.AccessToken, leagueID, limit)
			if err != nil {
				return err
			}
			renderTrades(out)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of trades")
	return cmd
}

func newLeagueLeaderboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard [league-id]",
		Short: "Show league standings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, leagueID, err := sessionAndLeague(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			rows, err := newClient(apiBase).Leaderboard(ctx, sess.AccessToken, leagueID)
			if err != nil {
				return err
			}
			renderLeaderboard(rows, sess.UserID)
			return nil
		},
	}
}

func newTradeCmd(apiBase *string) *cobra.Command {
	trade := &cobra.Command{
		Use:   "trade",
		Short: "Buy or sell shares in a league",
	}
	trade.AddCommand(newTradeSideCmd(apiBase, league.SideBuy), newTradeSideCmd(apiBase, league.SideSell))
	return trade
}

func newTradeSideCmd(apiBase *string, side league.Side) *cobra.Command {
	var (
		leagueID string
		price    string
		company  string
	)
	cmd := &cobra.Command{
		Use:   string(side) + " [symbol] [shares]",
		Short: strings.ToUpper(string(side[:1])) + string(side[1:]) + " shares",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			leagueID, err = sess.RequireLeague(leagueID)
			if err != nil {
				return err
			}
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			shares, err := decimalFromArgOrPrompt(args, 1, "Shares to "+string(side))
			if err != nil {
				return err
			}

			client := newClient(apiBase)
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var pricePerShare decimal.Decimal
			if price != "" {
				pricePerShare, err = decimal.NewFromString(price)
				if err != nil {
					return fmt.Errorf("invalid --price: %w", err)
				}
			} else {
				q, err := client.Quote(ctx, sess.AccessToken, symbol)
				if err != nil {
					return fmt.Errorf("price lookup failed (pass --price to trade offline): %w", err)
				}
				pricePerShare = q.Price
			}

			req := cl.TradeRequest{
				Symbol:        symbol,
				CompanyName:   company,
				TradeType:     string(side),
				Shares:        shares,
				PricePerShare: pricePerShare,
			}
			idem := uuid.NewString()
			out, err := client.Trade(ctx, sess.AccessToken, leagueID, idem, req)
			if err != nil {
				return queueOnNetworkError(err, leagueID, idem, req)
			}
			renderTradeResult(out.Trade)
			return nil
		},
	}
	cmd.Flags().StringVar(&leagueID, "league", "", "league ID (defaults to the selected league)")
	cmd.Flags().StringVar(&price, "price", "", "price per share (defaults to the live quote)")
	cmd.Flags().StringVar(&company, "company", "", "company name to store with the trade")
	return cmd
}

func newQuoteCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quote [symbol]",
		Short: "Show the latest price for a symbol",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			q, err := newClient(apiBase).Quote(ctx, sess.AccessToken, symbol)
			if err != nil {
				return err
			}
			renderQuote(q)
			return nil
		},
	}
}

func newSearchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search symbols by name or ticker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			results, err := newClient(apiBase).Search(ctx, sess.AccessToken, strings.Join(args, " "))
			if err != nil {
				return err
			}
			renderSearch(results)
			return nil
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay trades queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			res := syncq.Replay(ctx, newClient(apiBase), sess.AccessToken, queue)
			for _, f := range res.Rejected {
				printError(fmt.Sprintf("Dropped %s %s: %v", f.Command.Method, f.Command.Path, f.Err))
			}
			if err := syncq.Save(res.Remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d",
				res.Replayed, len(res.Rejected), len(res.Remaining)))
			return nil
		},
	}
}

// queueOnNetworkError stores the trade for `wsf sync` when the API could not
// be reached. Structured API errors are returned as is.
func queueOnNetworkError(err error, leagueID, idem string, req cl.TradeRequest) error {
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	body, mErr := json.Marshal(req)
	if mErr != nil {
		return err
	}
	if qErr := syncq.Push(syncq.Command{
		Method:         http.MethodPost,
		Path:           cl.TradePath(leagueID),
		Body:           body,
		IdempotencyKey: idem,
	}); qErr != nil {
		return fmt.Errorf("%w (queueing also failed: %v)", err, qErr)
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Trade queued; run `wsf sync` when back online.", err))
	return nil
}

func sessionAndLeague(args []string) (cl.Session, string, error) {
	sess, err := requireSession()
	if err != nil {
		return cl.Session{}, "", err
	}
	override := ""
	if len(args) > 0 {
		override = args[0]
	}
	leagueID, err := sess.RequireLeague(override)
	if err != nil {
		return cl.Session{}, "", err
	}
	return sess, leagueID, nil
}

func argOrPrompt(args []string, idx int, label string) (string, error) {
	if len(args) > idx && strings.TrimSpace(args[idx]) != "" {
		return strings.TrimSpace(args[idx]), nil
	}
	return promptRequired(label)
}

func symbolFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return league.NormalizeSymbol(args[0])
	}
	return promptSymbol("Symbol")
}

func decimalFromArgOrPrompt(args []string, idx int, label string) (decimal.Decimal, error) {
	if len(args) > idx {
		v, err := decimal.NewFromString(strings.TrimSpace(args[idx]))
		if err != nil || !v.IsPositive() {
			return decimal.Zero, fmt.Errorf("%s must be a positive number", strings.ToLower(label))
		}
		return v, nil
	}
	return promptDecimal(label)
}
