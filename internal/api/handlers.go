package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"wsfantasy/internal/league"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.auth.Logout(r.Context(), user.Token); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rows, err := s.league.Memberships(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"email": user.Email, "memberships": rows})
}

func (s *Server) handleCreateLeague(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name                  string          `json:"name"`
		Description           string          `json:"description"`
		StartingBalance       decimal.Decimal `json:"starting_balance"`
		SeasonLengthDays      int             `json:"season_length_days"`
		MaxPlayers            int             `json:"max_players"`
		TradeLimitPerDay      int             `json:"trade_limit_per_day"`
		AllowFractionalShares bool            `json:"allow_fractional_shares"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.league.CreateLeague(r.Context(), league.CreateLeagueInput{
		UserID:                user.UserID,
		Name:                  in.Name,
		Description:           in.Description,
		StartingBalance:       in.StartingBalance,
		SeasonLengthDays:      in.SeasonLengthDays,
		MaxPlayers:            in.MaxPlayers,
		TradeLimitPerDay:      in.TradeLimitPerDay,
		AllowFractionalShares: in.AllowFractionalShares,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleJoinLeague(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		InviteCode string `json:"invite_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	member, err := s.league.JoinLeague(r.Context(), user.UserID, in.InviteCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"member": member})
}

func (s *Server) handleLeagueDetail(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.league.LeagueDetail(r.Context(), user.UserID, chi.URLParam(r, "leagueID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteLeague(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.league.DeleteLeague(r.Context(), user.UserID, chi.URLParam(r, "leagueID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStartLeague(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	lg, err := s.league.StartLeague(r.Context(), user.UserID, chi.URLParam(r, "leagueID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"league": lg})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.league.Portfolio(r.Context(), user.UserID, chi.URLParam(r, "leagueID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}
	out, err := s.league.TradeHistory(r.Context(), user.UserID, chi.URLParam(r, "leagueID"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rows, err := s.league.Leaderboard(r.Context(), user.UserID, chi.URLParam(r, "leagueID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}

type tradeRequest struct {
	Symbol        string          `json:"symbol"`
	CompanyName   string          `json:"company_name"`
	TradeType     string          `json:"trade_type"`
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in tradeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leagueID := chi.URLParam(r, "leagueID")
	trade, err := s.league.SettleTrade(r.Context(), league.TradeInput{
		LeagueID:       leagueID,
		UserID:         user.UserID,
		Symbol:         in.Symbol,
		CompanyName:    in.CompanyName,
		Side:           in.TradeType,
		Shares:         in.Shares,
		PricePerShare:  in.PricePerShare,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.feed != nil {
		s.feed.PublishTrade(leagueID, user.UserID, trade)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trade": trade})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	leagueID := chi.URLParam(r, "leagueID")
	if _, err := s.league.LeagueDetail(r.Context(), user.UserID, leagueID); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.feed.Serve(w, r, leagueID); err != nil {
		s.log.Warn("feed upgrade failed", "league_id", leagueID, "err", err)
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "quotes disabled")
		return
	}
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	normalized, err := league.NormalizeSymbol(symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	q, err := s.prices.Quote(r.Context(), normalized)
	if err != nil {
		s.log.Warn("quote lookup failed", "symbol", normalized, "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "quotes disabled")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"results": []any{}})
		return
	}
	results, err := s.prices.Search(r.Context(), query)
	if err != nil {
		s.log.Warn("symbol search failed", "query", query, "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
