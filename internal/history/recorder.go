package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
)

// Recorder writes records to a Store from a single background worker so
// callers never wait on the database. When the queue is full the oldest
// pending record is dropped.
type Recorder struct {
	store   Store
	queue   chan Record
	flush   chan chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	dropped int
	failed  int
}

func NewRecorder(store Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		store:   store,
		queue:   make(chan Record, queueSize),
		flush:   make(chan chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		timeout: defaultWriteTimeout,
	}
	r.wg.Add(1)
	go r.process()
	return r
}

// Record queues rec; it never blocks.
func (r *Recorder) Record(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
		return
	default:
	}
	select {
	case old := <-r.queue:
		r.dropped++
		log.Warn().Str("component", "history").Str("user_id", old.UserID).Str("type", old.Type).Msg("history queue full, dropped oldest record")
	default:
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped++
	}
}

func (r *Recorder) process() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case rec := <-r.queue:
			r.write(rec)
		case done := <-r.flush:
			r.drain()
			close(done)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	start := time.Now()
	if err := r.store.Append(ctx, rec); err != nil {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		log.Error().Err(err).Str("component", "history").Str("user_id", rec.UserID).Str("kind", string(rec.Kind)).Msg("history write failed")
		return
	}
	if d := time.Since(start); d > time.Second {
		log.Warn().Str("component", "history").Dur("duration", d).Msg("slow history write")
	}
}

// Flush blocks until everything queued before the call has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case r.flush <- done:
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes what is still queued, then stops the worker.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	err := r.Flush(ctx)
	r.cancel()
	r.wg.Wait()
	return err
}

// Stats reports dropped and failed writes since start.
func (r *Recorder) Stats() (dropped, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped, r.failed
}
