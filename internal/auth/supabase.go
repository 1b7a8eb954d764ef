package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrInvalidCredentials is returned when GoTrue refuses a login or token.
var ErrInvalidCredentials = errors.New("invalid credentials")

type SupabaseClient struct {
	client *resty.Client
}

type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	TokenType    string       `json:"token_type"`
	User         SupabaseUser `json:"user"`
}

type SupabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(20*time.Second).
		SetHeader("apikey", anonKey).
		SetHeader("Content-Type", "application/json")
	return &SupabaseClient{client: client}
}

func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (Session, error) {
	var out Session
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(credentials{Email: email, Password: password}).
		SetResult(&out).
		Post("/auth/v1/signup")
	if err := check(resp, err); err != nil {
		return Session{}, fmt.Errorf("signup: %w", err)
	}
	return out, nil
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(credentials{Email: email, Password: password}).
		SetResult(&out).
		Post("/auth/v1/token")
	if err := check(resp, err); err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

// Logout revokes the refresh tokens behind accessToken.
func (c *SupabaseClient) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Post("/auth/v1/logout")
	if err := check(resp, err); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *SupabaseClient) VerifyAccessToken(ctx context.Context, accessToken string) (SupabaseUser, error) {
	var user SupabaseUser
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&user).
		Get("/auth/v1/user")
	if err := check(resp, err); err != nil {
		return SupabaseUser{}, fmt.Errorf("verify token: %w", err)
	}
	if user.ID == "" {
		return SupabaseUser{}, fmt.Errorf("verify token: %w", ErrInvalidCredentials)
	}
	return user, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > 2048 {
		body = body[:2048]
	}
	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidCredentials, resp.StatusCode(), body)
	}
	return fmt.Errorf("supabase status %d: %s", resp.StatusCode(), body)
}
