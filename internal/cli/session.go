package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Email        string `json:"email"`
	UserID       string `json:"user_id"`
	// LeagueID is the league commands default to when none is given.
	LeagueID string `json:"league_id,omitempty"`
}

var ErrNoLeague = errors.New("no league selected; pass a league ID or run `wsf leagues use <id>`")

// RequireLeague picks the league a command acts on: an explicit override
// wins over the stored default.
func (s Session) RequireLeague(override string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(s.LeagueID); id != "" {
		return id, nil
	}
	return "", ErrNoLeague
}

// UseLeague stores leagueID as the default and persists the session.
func (s *Session) UseLeague(leagueID string) error {
	s.LeagueID = strings.TrimSpace(leagueID)
	return SaveSession(*s)
}

// ForgetLeague drops the default when it points at leagueID, e.g. after
// the league was deleted. It reports whether the default changed.
func (s *Session) ForgetLeague(leagueID string) (bool, error) {
	if s.LeagueID == "" || s.LeagueID != strings.TrimSpace(leagueID) {
		return false, nil
	}
	s.LeagueID = ""
	return true, SaveSession(*s)
}

// BaseDir is ~/.wsf unless WSF_HOME points elsewhere.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("WSF_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".wsf")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, fmt.Errorf("no access token found in session")
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
