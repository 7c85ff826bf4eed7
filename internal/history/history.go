// Package history keeps the per-user log of searches, messages and viewed
// items used for personalization.
package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MaxRecent caps how many records a Recent query returns.
const MaxRecent = 10

type Kind string

const (
	KindSearch  Kind = "search"
	KindMessage Kind = "message"
	KindView    Kind = "view"
)

func (k Kind) Valid() bool {
	return k == KindSearch || k == KindMessage || k == KindView
}

// Record is one immutable history entry. For searches Type is the intent
// name; for messages it is the utterance source.
type Record struct {
	UserID     string         `json:"userId"`
	Kind       Kind           `json:"kind"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Store persists records. Recent returns at most limit (capped at
// MaxRecent) records of kind for the user, newest first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, userID string, kind Kind, limit int) ([]Record, error)
	Close(ctx context.Context) error
}

func validate(rec Record) error {
	if rec.UserID == "" {
		return errors.New("history: user id is required")
	}
	if !rec.Kind.Valid() {
		return errors.Errorf("history: unknown kind %q", rec.Kind)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRecent {
		return MaxRecent
	}
	return limit
}

func encodeParams(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "history: encode parameters")
	}
	return string(b), nil
}

func decodeParams(s string) map[string]any {
	out := map[string]any{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
