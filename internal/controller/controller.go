// Package controller runs one conversation per session: it classifies each
// utterance, routes it to a search, keeps the session state and drives the
// listen/speak loop while voice mode is on.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"voyager-backend/internal/history"
	"voyager-backend/internal/intent"
	"voyager-backend/internal/llm"
	"voyager-backend/internal/router"
	"voyager-backend/internal/session"
	"voyager-backend/internal/voice"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrSpeaking     = errors.New("speech in progress")
	ErrItemNotFound = errors.New("cart item not found")
	// ErrWindowClosed rejects a capture whose window was closed before the
	// phrase arrived.
	ErrWindowClosed = errors.New("capture window closed")
)

const greeting = "Hi, I'm your travel assistant. I can find flights, hotels, products and recipes. What would you like to do?"

type Classifier interface {
	Classify(ctx context.Context, text string, history []llm.Message) (intent.Classification, error)
}

// Router runs searches. Turns call Search and record the search themselves
// once the turn is committed.
type Router interface {
	Route(ctx context.Context, userID string, kind intent.Kind, params intent.Params) (router.Outcome, error)
	Search(ctx context.Context, kind intent.Kind, params intent.Params) (router.Outcome, error)
	RecordSearch(userID string, out router.Outcome)
}

type Recorder interface {
	Record(rec history.Record)
}

// Publisher forwards interaction events to an external ingest. Publish must
// not block.
type Publisher interface {
	Publish(eventType string, data any)
}

// Deps are the collaborators shared by every session. Recognizer and
// Speaker are optional; VoiceAttached replaces them per session.
type Deps struct {
	Classifier Classifier
	Router     Router
	Recorder   Recorder
	Publisher  Publisher
	Recognizer voice.Recognizer
	Speaker    voice.Speaker
}

// Reply is the session state after an event, plus whatever the event
// produced.
type Reply struct {
	Snapshot session.Snapshot
	Turn     *session.Turn
	Outcome  *router.Outcome
	Item     *session.CartItem
}

type request struct {
	ctx   context.Context
	ev    Event
	reply chan result
}

type result struct {
	reply Reply
	err   error
}

// Controller owns one session. Events are handled one at a time on a single
// goroutine, so a turn always completes before the next event is looked at.
type Controller struct {
	deps       Deps
	sess       *session.Session
	requests   chan request
	now        func() time.Time
	retryDelay time.Duration

	// owned by the actor goroutine
	recognizer voice.Recognizer
	speech     *voice.SpeechQueue
	stopLoop   context.CancelFunc
	window     *captureWindow
	observer   TurnObserver

	lastActive atomic.Int64
	attached   atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	actorWG   sync.WaitGroup
	loopWG    sync.WaitGroup
	closeOnce sync.Once
}

func New(id, userID string, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:       deps,
		sess:       session.New(id, userID),
		requests:   make(chan request),
		now:        time.Now,
		retryDelay: time.Second,
		recognizer: deps.Recognizer,
		ctx:        ctx,
		cancel:     cancel,
	}
	if deps.Speaker != nil {
		c.speech = voice.NewSpeechQueue(deps.Speaker)
	}
	c.lastActive.Store(time.Now().UnixNano())
	c.actorWG.Add(1)
	go c.run()
	return c
}

func (c *Controller) ID() string { return c.sess.ID }

func (c *Controller) UserID() string { return c.sess.UserID }

// LastActive is when the session last handled an event.
func (c *Controller) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Attached reports whether voice I/O is connected.
func (c *Controller) Attached() bool { return c.attached.Load() }

// Submit hands ev to the session and waits for it to be processed.
func (c *Controller) Submit(ctx context.Context, ev Event) (Reply, error) {
	res := make(chan result, 1)
	select {
	case c.requests <- request{ctx: ctx, ev: ev, reply: res}:
	case <-c.ctx.Done():
		return Reply{}, ErrClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-res:
		return r.reply, r.err
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (c *Controller) run() {
	defer c.actorWG.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.requests:
			c.lastActive.Store(time.Now().UnixNano())
			reply, err := c.handle(req.ctx, req.ev)
			req.reply <- result{reply: reply, err: err}
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	var (
		reply Reply
		err   error
	)
	switch e := ev.(type) {
	case UtteranceReceived:
		reply.Turn, err = c.turn(ctx, e)
	case VoiceToggled:
		c.toggleVoice(e.On)
	case ListenRequested:
		err = c.listen(e.window)
	case CaptureMissed:
		c.missed(e)
	case SearchRequested:
		var out router.Outcome
		out, err = c.deps.Router.Route(ctx, c.sess.UserID, e.Kind, e.Params)
		reply.Outcome = &out
		if err == nil {
			c.publish("search", out)
		}
	case CartAdd:
		item := c.sess.Cart.Add(e.Item)
		reply.Item = &item
		c.publish("cart_add", item)
	case CartRemove:
		if !c.sess.Cart.Remove(e.ID) {
			err = ErrItemNotFound
		}
	case CartClear:
		c.sess.Cart.Clear()
	case CartOpen:
		c.sess.Cart.OpenCart()
	case CartClose:
		c.sess.Cart.CloseCart()
	case CheckoutBegin:
		if err = c.sess.Cart.BeginCheckout(); err == nil {
			c.publish("checkout", map[string]any{"items": c.sess.Cart.Len(), "total": c.sess.Cart.Total()})
		}
	case CheckoutCancel:
		c.sess.Cart.OpenCart()
	case ConversationCleared:
		c.sess.Conversation.Clear()
	case SnapshotRequested:
	case VoiceAttached:
		c.attach(e)
	case VoiceDetached:
		c.detach(e)
	default:
		err = errors.Errorf("unknown event %T", ev)
	}
	if err != nil {
		log.Debug().Err(err).Str("component", "controller").Str("session_id", c.sess.ID).Str("event", ev.eventName()).Msg("event rejected")
	}
	reply.Snapshot = c.sess.Snapshot()
	return reply, err
}

// Close stops the session, its voice loop and any speech in progress.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.actorWG.Wait()
		if c.stopLoop != nil {
			c.stopLoop()
		}
		c.loopWG.Wait()
		if c.speech != nil {
			c.speech.Close()
		}
	})
}

func (c *Controller) notify(t session.Turn) {
	if c.observer != nil {
		c.observer.TurnCommitted(t)
	}
}

func (c *Controller) publish(eventType string, data any) {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.Publish(eventType, map[string]any{
		"sessionId": c.sess.ID,
		"userId":    c.sess.UserID,
		"payload":   data,
	})
}
