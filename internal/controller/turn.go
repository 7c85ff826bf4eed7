package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/history"
	"voyager-backend/internal/intent"
	"voyager-backend/internal/llm"
	"voyager-backend/internal/router"
	"voyager-backend/internal/session"
)

// turn classifies one utterance, runs the search it asks for and appends
// exactly one Turn. A cancelled context commits nothing.
func (c *Controller) turn(ctx context.Context, u UtteranceReceived) (*session.Turn, error) {
	m := &c.sess.Machine
	text := strings.TrimSpace(u.Text)
	source := u.Source
	if source == "" {
		source = session.SourceTyped
	}
	if u.window != nil && (u.window != c.window || m.State() != session.Listening) {
		return nil, ErrWindowClosed
	}
	if text == "" {
		if source == session.SourceVoice && m.State() == session.Listening {
			c.closeWindow()
			_ = m.Miss()
		}
		return nil, &router.ValidationError{Field: "message", Message: "message is required"}
	}

	// A typed message during a capture window closes the window; the reply is
	// held until the recognizer has stopped.
	var preempted *captureWindow
	var err error
	if source == session.SourceVoice && m.State() == session.Listening {
		err = m.Capture()
		c.window = nil
	} else {
		if m.State() == session.Listening {
			preempted = c.closeWindow()
		}
		err = m.BeginTyped()
	}
	if err != nil {
		return nil, err
	}

	cls, err := c.deps.Classifier.Classify(ctx, text, c.chatHistory())
	if err != nil {
		if ctx.Err() != nil {
			_ = m.Finish()
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("component", "controller").Str("session_id", c.sess.ID).Msg("intent classification failed, answering as a general question")
		cls = intent.Fallback(err)
	}

	out, rerr := c.deps.Router.Search(ctx, cls.Kind, cls.Params)
	if ctx.Err() != nil {
		_ = m.Finish()
		return nil, ctx.Err()
	}

	params := cls.Params
	var ve *router.ValidationError
	switch {
	case errors.As(rerr, &ve):
		out.Notices = append(out.Notices, ve.Message)
	case rerr != nil:
		log.Error().Err(rerr).Str("component", "controller").Str("intent", string(cls.Kind)).Msg("routing failed")
		out.Notices = append(out.Notices, router.Notice(string(cls.Kind), rerr))
	case cls.Kind.IsSearch():
		params = out.Params
	}
	reply := compose(cls, out, ve)

	now := c.now()
	t := c.sess.Conversation.Append(session.Turn{
		User:      session.Utterance{Text: text, Source: source, Timestamp: now},
		Assistant: reply,
		Intent:    cls.Kind,
		Params:    params,
		Results:   out.Results,
		Notices:   out.Notices,
		Timestamp: now,
	})
	_ = m.Finish()

	if rerr == nil {
		c.deps.Router.RecordSearch(c.sess.UserID, out)
	}
	if ve == nil && c.deps.Recorder != nil && c.sess.UserID != "" {
		c.deps.Recorder.Record(history.Record{
			UserID: c.sess.UserID,
			Kind:   history.KindMessage,
			Type:   string(source),
			Parameters: map[string]any{
				"text":     text,
				"intent":   string(cls.Kind),
				"response": reply,
			},
			Timestamp: now,
		})
	}
	c.notify(t)
	c.publish("turn", t)
	if m.VoiceActive() {
		c.say(reply, preempted)
	}
	return &t, nil
}

// chatHistory replays the conversation as chat messages for the classifier.
func (c *Controller) chatHistory() []llm.Message {
	turns := c.sess.Conversation.Turns()
	out := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		if t.User.Text != "" {
			out = append(out, llm.Message{Role: llm.RoleUser, Content: t.User.Text})
		}
		if t.Assistant != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: t.Assistant})
		}
	}
	return out
}

var resultNouns = map[intent.Kind]string{
	intent.FlightSearch: "flights",
	intent.HotelSearch:  "hotels",
	intent.Shopping:     "products",
	intent.Recipe:       "recipes",
}

// compose builds the assistant text for a turn from the model's reply and
// what the search returned.
func compose(cls intent.Classification, out router.Outcome, ve *router.ValidationError) string {
	reply := strings.TrimSpace(cls.Response)
	if ve != nil {
		return joinSentences(reply, "I couldn't run that search: "+ve.Message+".")
	}
	if !cls.Kind.IsSearch() {
		if reply == "" {
			return "I'm not sure how to help with that yet."
		}
		return reply
	}
	noun := resultNouns[cls.Kind]
	switch {
	case len(out.Results) == 0 && len(out.Notices) > 0:
		return joinSentences(reply, out.Notices[0])
	case len(out.Results) == 0:
		return joinSentences(reply, fmt.Sprintf("I couldn't find any %s for that.", noun))
	case reply == "":
		return fmt.Sprintf("I found %d %s.", len(out.Results), noun)
	}
	return reply
}

func joinSentences(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
