package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wsfantasy/internal/auth"
	"wsfantasy/internal/config"
	"wsfantasy/internal/feed"
	"wsfantasy/internal/league"
	"wsfantasy/internal/metrics"
	"wsfantasy/internal/quotes"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

// Authenticator is the identity provider the API delegates to.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	Logout(ctx context.Context, accessToken string) error
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.SupabaseUser, error)
}

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	auth   Authenticator
	league *league.Service
	prices quotes.Provider
	feed   *feed.Hub
	mux    *chi.Mux
}

// New builds the HTTP API. prices and hub may be nil; the quote endpoints
// then answer 503 and settled trades are not broadcast.
func New(cfg config.APIConfig, logger *slog.Logger, authClient Authenticator, svc *league.Service, prices quotes.Provider, hub *feed.Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   authClient,
		league: svc,
		prices: prices,
		feed:   hub,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The feed is long lived and must stay outside the request timeout.
		r.With(s.authMiddleware).Get("/leagues/{leagueID}/feed", s.handleFeed)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Post("/auth/logout", s.handleLogout)
				r.Get("/dashboard", s.handleDashboard)

				r.Post("/leagues", s.handleCreateLeague)
				r.Post("/leagues/join", s.handleJoinLeague)
				r.Get("/leagues/{leagueID}", s.handleLeagueDetail)
				r.Delete("/leagues/{leagueID}", s.handleDeleteLeague)
				r.Post("/leagues/{leagueID}/start", s.handleStartLeague)
				r.Get("/leagues/{leagueID}/portfolio", s.handlePortfolio)
				r.Get("/leagues/{leagueID}/trades", s.handleTradeHistory)
				r.Get("/leagues/{leagueID}/leaderboard", s.handleLeaderboard)
				r.Post("/leagues/{leagueID}/trade", s.handleTrade)

				r.Get("/stocks/quote", s.handleQuote)
				r.Get("/stocks/search", s.handleSearch)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	var verr *league.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, league.ErrInsufficientFunds),
		errors.Is(err, league.ErrInsufficientShares),
		errors.Is(err, league.ErrInvalidSymbol):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, league.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, league.ErrNotMember), errors.Is(err, league.ErrNotCommissioner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, league.ErrLeagueNotFound), errors.Is(err, league.ErrInviteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, league.ErrDuplicateIdempotency),
		errors.Is(err, league.ErrAlreadyMember),
		errors.Is(err, league.ErrLeagueFull),
		errors.Is(err, league.ErrLeagueClosed),
		errors.Is(err, league.ErrInviteExhausted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, league.ErrTxConflict):
		// transient; clients holding the same idempotency key may resend
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, league.ErrTradeLimitReached):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, quotes.ErrQuoteUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
