// Package pool schedules venue sessions. A pool is an ordered multiset of
// sessions handed out FIFO through a channel; each slot carries its own
// rate limiter, so spacing between uses of one session holds no matter
// which goroutine acquires it.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flashgate/internal/exchange"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("session pool closed")

type slot struct {
	session *exchange.Exchange
	limiter *rate.Limiter
}

// Pool hands out sessions in FIFO order with per-session pacing.
type Pool struct {
	slots    chan *slot
	sessions []*exchange.Exchange

	mu     sync.Mutex
	closed bool
}

// New builds a pool enforcing at least minInterval between consecutive
// acquisitions of the same session. Zero means unpaced.
func New(sessions []*exchange.Exchange, minInterval time.Duration) *Pool {
	p := &Pool{
		slots:    make(chan *slot, len(sessions)),
		sessions: sessions,
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	for _, session := range sessions {
		p.slots <- &slot{session: session, limiter: rate.NewLimiter(limit, 1)}
	}
	return p
}

// Acquire dequeues the least recently used session, sleeps out whatever
// remains of its pacing interval and re-enqueues it. The limiter wait
// doubles as the acquisition timestamp.
func (p *Pool) Acquire(ctx context.Context) (*exchange.Exchange, error) {
	var s *slot
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case got, ok := <-p.slots:
		if !ok {
			return nil, ErrClosed
		}
		s = got
	}

	if err := s.limiter.Wait(ctx); err != nil {
		p.release(s)
		return nil, err
	}

	p.release(s)
	return s.session, nil
}

// release hands a slot back unless the pool closed underneath the caller.
func (p *Pool) release(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.slots <- s
}

// Size returns the number of sessions in the pool.
func (p *Pool) Size() int {
	return len(p.sessions)
}

// Close drains the pool and closes every session exactly once. Waiting
// acquirers get ErrClosed. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.slots)
	p.mu.Unlock()

	for range p.slots {
		// drain remaining slots; sessions close below
	}

	var firstErr error
	for _, session := range p.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
