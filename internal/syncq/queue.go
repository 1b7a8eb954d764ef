// Package syncq keeps trade requests that could not reach the API so they
// can be replayed later with their original idempotency keys.
package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"wsfantasy/internal/cli"
)

type Command struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

// Sender is the subset of the API client replay needs.
type Sender interface {
	Do(ctx context.Context, method, path, accessToken string, body json.RawMessage, idem string) (map[string]any, error)
}

type Failure struct {
	Command Command
	Err     error
}

type ReplayResult struct {
	Replayed  int
	Rejected  []Failure
	Remaining []Command
}

func queuePath() (string, error) {
	dir, err := cli.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if commands == nil {
		commands = []Command{}
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Replay sends queued commands in order. Accepted commands and commands the
// server rejected with a 4xx are dropped; anything else stays queued. A
// duplicate idempotency key comes back as 409, so a command that was
// delivered before the client lost the response is dropped too.
func Replay(ctx context.Context, sender Sender, accessToken string, queue []Command) ReplayResult {
	res := ReplayResult{Remaining: make([]Command, 0, len(queue))}
	for i, q := range queue {
		if ctx.Err() != nil {
			res.Remaining = append(res.Remaining, queue[i:]...)
			break
		}
		_, err := sender.Do(ctx, q.Method, q.Path, accessToken, q.Body, q.IdempotencyKey)
		switch {
		case err == nil:
			res.Replayed++
		case cli.IsRejected(err):
			res.Rejected = append(res.Rejected, Failure{Command: q, Err: err})
		default:
			res.Remaining = append(res.Remaining, q)
		}
	}
	return res
}
