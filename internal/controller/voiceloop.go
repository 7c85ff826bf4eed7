package controller

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/intent"
	"voyager-backend/internal/session"
	"voyager-backend/internal/voice"
)

func (c *Controller) toggleVoice(on bool) {
	m := &c.sess.Machine
	if !on {
		c.stopVoiceLoop()
		m.DisableVoice()
		c.publish("voice_mode", map[string]any{"active": false})
		return
	}
	if !m.EnableVoice() {
		return
	}
	if c.sess.Conversation.Empty() {
		now := c.now()
		t := c.sess.Conversation.Append(session.Turn{
			User:      session.Utterance{Source: session.SourceVoice, Timestamp: now},
			Assistant: greeting,
			Intent:    intent.GeneralQuestion,
			Timestamp: now,
		})
		c.notify(t)
		c.say(greeting, nil)
	}
	c.startVoiceLoop()
	c.publish("voice_mode", map[string]any{"active": true})
}

// captureWindow is one Capture call of the voice loop. close cancels the
// capture; done is closed once Capture has returned.
type captureWindow struct {
	close context.CancelFunc
	done  chan struct{}
}

func (c *Controller) listen(w *captureWindow) error {
	if c.speech != nil && !c.speech.Idle() {
		return ErrSpeaking
	}
	if err := c.sess.Machine.Listen(); err != nil {
		return err
	}
	c.window = w
	return nil
}

// closeWindow cancels the open capture, if any, and returns it.
func (c *Controller) closeWindow() *captureWindow {
	w := c.window
	c.window = nil
	if w != nil && w.close != nil {
		w.close()
	}
	return w
}

func (c *Controller) missed(e CaptureMissed) {
	if e.window != nil && e.window != c.window {
		return
	}
	if c.sess.Machine.State() == session.Listening {
		_ = c.sess.Machine.Miss()
	}
	c.window = nil
	log.Debug().Str("component", "controller").Str("session_id", c.sess.ID).Str("reason", e.Reason).Msg("capture produced no text")
}

// say queues text for playback. With a non-nil after, playback waits until
// that capture has stopped.
func (c *Controller) say(text string, after *captureWindow) {
	if c.speech == nil || text == "" {
		return
	}
	if after != nil && after.done != nil {
		c.speech.EnqueueAfter(text, after.done)
		return
	}
	c.speech.Enqueue(text)
}

func (c *Controller) attach(e VoiceAttached) {
	c.stopVoiceLoop()
	if c.speech != nil {
		c.speech.Close()
		c.speech = nil
	}
	if e.Speaker != nil {
		c.speech = voice.NewSpeechQueue(e.Speaker)
	}
	c.recognizer = e.Recognizer
	c.observer = e.Observer
	c.attached.Store(e.Recognizer != nil || e.Speaker != nil)
	if c.sess.Machine.VoiceActive() {
		c.startVoiceLoop()
	}
}

func (c *Controller) detach(e VoiceDetached) {
	if e.Observer != c.observer {
		log.Debug().Str("component", "controller").Str("session_id", c.sess.ID).Msg("stale voice detach ignored")
		return
	}
	c.stopVoiceLoop()
	c.sess.Machine.DisableVoice()
	if c.speech != nil {
		c.speech.Close()
		c.speech = nil
	}
	c.recognizer = nil
	c.observer = nil
	c.attached.Store(false)
}

func (c *Controller) startVoiceLoop() {
	if c.recognizer == nil || c.stopLoop != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.stopLoop = cancel
	c.loopWG.Add(1)
	go c.voiceLoop(ctx, c.recognizer, c.speech)
}

// stopVoiceLoop cancels the loop's capture. A window left open goes back to
// waiting for input so a later loop can reopen it.
func (c *Controller) stopVoiceLoop() {
	if c.stopLoop == nil {
		return
	}
	c.stopLoop()
	c.stopLoop = nil
	c.closeWindow()
	if c.sess.Machine.State() == session.Listening {
		_ = c.sess.Machine.Miss()
	}
}

// voiceLoop alternates listening and processing until ctx is cancelled or
// voice mode is turned off. It never opens a capture window while speech is
// queued or playing. A phrase whose window was closed meanwhile is dropped.
func (c *Controller) voiceLoop(ctx context.Context, rec voice.Recognizer, speech *voice.SpeechQueue) {
	defer c.loopWG.Done()
	logger := log.With().Str("component", "voice-loop").Str("session_id", c.sess.ID).Logger()
	logger.Debug().Msg("voice loop started")
	defer logger.Debug().Msg("voice loop stopped")

	for ctx.Err() == nil {
		if speech != nil {
			if err := speech.WaitIdle(ctx); err != nil {
				return
			}
		}
		if !c.captureOnce(ctx, rec, logger) {
			return
		}
	}
}

// captureOnce opens one capture window and submits what it heard. It
// reports false when the loop should stop.
func (c *Controller) captureOnce(ctx context.Context, rec voice.Recognizer, logger zerolog.Logger) bool {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := &captureWindow{close: cancel, done: make(chan struct{})}

	if _, err := c.Submit(ctx, ListenRequested{window: w}); err != nil {
		close(w.done)
		return errors.Is(err, ErrSpeaking)
	}
	text, err := rec.Capture(wctx)
	close(w.done)
	if ctx.Err() != nil {
		return false
	}
	if wctx.Err() != nil {
		logger.Debug().Msg("capture window closed early, phrase dropped")
		return true
	}
	if err != nil {
		reason := "error"
		var ce *voice.CaptureError
		if errors.As(err, &ce) {
			reason = ce.Reason
		}
		if _, serr := c.Submit(ctx, CaptureMissed{Reason: reason, window: w}); serr != nil {
			return false
		}
		if reason == voice.ReasonUnavailable || reason == voice.ReasonDeviceUnavailable || reason == "error" {
			logger.Warn().Err(err).Msg("capture failed, retrying")
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.retryDelay):
			}
		}
		return true
	}

	_, err = c.Submit(context.WithoutCancel(ctx), UtteranceReceived{Text: text, Source: session.SourceVoice, window: w})
	return !errors.Is(err, ErrClosed)
}
