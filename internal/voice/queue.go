package voice

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// SpeechQueue plays speech on a single worker with a one-slot queue: a new
// request replaces any request that has not started yet, while the one in
// flight always runs to completion.
type SpeechQueue struct {
	speaker Speaker

	mu         sync.Mutex
	pending    string
	after      <-chan struct{}
	hasPending bool
	busy       bool
	closed     bool
	idle       chan struct{} // closed while nothing is queued or playing
	replaced   int
	spoken     int

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSpeechQueue(speaker Speaker) *SpeechQueue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	q := &SpeechQueue{
		speaker: speaker,
		idle:    idle,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Enqueue schedules text. It reports false once the queue is closed.
func (q *SpeechQueue) Enqueue(text string) bool {
	return q.EnqueueAfter(text, nil)
}

// EnqueueAfter schedules text to start once after is closed. The queue
// counts as busy while it waits. A nil after starts as soon as possible.
func (q *SpeechQueue) EnqueueAfter(text string, after <-chan struct{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.hasPending {
		q.replaced++
	}
	if !q.busy && !q.hasPending {
		q.idle = make(chan struct{})
	}
	q.pending, q.after, q.hasPending = text, after, true
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *SpeechQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if !q.hasPending {
				q.busy = false
				q.markIdleLocked()
				q.mu.Unlock()
				break
			}
			text, after := q.pending, q.after
			q.pending, q.after, q.hasPending, q.busy = "", nil, false, true
			q.mu.Unlock()

			if after != nil {
				select {
				case <-after:
				case <-q.ctx.Done():
					return
				}
			}
			if err := q.speaker.Speak(q.ctx, text); err != nil && q.ctx.Err() == nil {
				log.Warn().Err(err).Str("component", "speech").Msg("speech playback failed")
			}
			q.mu.Lock()
			q.spoken++
			q.mu.Unlock()
		}
	}
}

func (q *SpeechQueue) markIdleLocked() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// Idle reports whether nothing is queued or playing.
func (q *SpeechQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.busy && !q.hasPending
}

// WaitIdle blocks until nothing is queued or playing.
func (q *SpeechQueue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports completed and replaced requests.
func (q *SpeechQueue) Stats() (spoken, replaced int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.spoken, q.replaced
}

// Close stops the worker, interrupting any playback in progress.
func (q *SpeechQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.hasPending = false
	q.after = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	q.busy = false
	q.markIdleLocked()
	q.mu.Unlock()
}
