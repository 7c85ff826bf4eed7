// Package session holds the state owned by one user's conversation: the
// turn log, the cart and the voice state machine.
package session

import (
	"strings"
	"time"

	"voyager-backend/internal/intent"
	"voyager-backend/internal/providers"
)

type Source string

const (
	SourceTyped Source = "typed"
	SourceVoice Source = "voice"
)

type Utterance struct {
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one user utterance and the assistant's reply to it.
type Turn struct {
	User      Utterance          `json:"user"`
	Assistant string             `json:"assistant"`
	Intent    intent.Kind        `json:"intent"`
	Params    intent.Params      `json:"parameters"`
	Results   []providers.Result `json:"results,omitempty"`
	Notices   []string           `json:"notices,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Conversation is an append-only, time-ordered turn log.
type Conversation struct {
	turns []Turn
}

// Append adds t. A timestamp earlier than the last turn is raised to it so
// the log stays ordered.
func (c *Conversation) Append(t Turn) Turn {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if n := len(c.turns); n > 0 && t.Timestamp.Before(c.turns[n-1].Timestamp) {
		t.Timestamp = c.turns[n-1].Timestamp
	}
	if t.Params == nil {
		t.Params = intent.Params{}
	} else {
		t.Params = t.Params.Clone()
	}
	c.turns = append(c.turns, t)
	return t
}

// Turns returns a copy of the log.
func (c *Conversation) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

func (c *Conversation) Len() int { return len(c.turns) }

func (c *Conversation) Empty() bool { return len(c.turns) == 0 }

// Clear empties the log; only an explicit user action calls it.
func (c *Conversation) Clear() { c.turns = nil }

// Snapshot is a read-only copy of a session for rendering.
type Snapshot struct {
	ID            string     `json:"sessionId"`
	UserID        string     `json:"userId"`
	State         State      `json:"state"`
	VoiceActive   bool       `json:"voiceModeActive"`
	ShouldListen  bool       `json:"shouldListen"`
	Conversation  []Turn     `json:"conversation"`
	Cart          []CartItem `json:"cart"`
	CartTotal     float64    `json:"cartTotal"`
	CheckoutStage Stage      `json:"checkoutStage"`
}

// Session is the state for one user. It is not safe for concurrent use;
// the controller serializes access.
type Session struct {
	ID           string
	UserID       string
	Conversation Conversation
	Cart         Cart
	Machine      Machine
}

func New(id, userID string) *Session {
	return &Session{ID: id, UserID: strings.TrimSpace(userID)}
}

func (s *Session) Snapshot() Snapshot {
	items := s.Cart.Items()
	if items == nil {
		items = []CartItem{}
	}
	turns := s.Conversation.Turns()
	if turns == nil {
		turns = []Turn{}
	}
	return Snapshot{
		ID:            s.ID,
		UserID:        s.UserID,
		State:         s.Machine.State(),
		VoiceActive:   s.Machine.VoiceActive(),
		ShouldListen:  s.Machine.ShouldListen(),
		Conversation:  turns,
		Cart:          items,
		CartTotal:     s.Cart.Total(),
		CheckoutStage: s.Cart.Stage(),
	}
}
