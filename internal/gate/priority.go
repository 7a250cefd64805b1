package gate

import (
	"context"
	"sync"
)

// priorityTracker counts in-flight priority commands and lets the watch
// loops wait for the set to drain. Idle is broadcast by closing a channel,
// so any number of waiters wake at once.
type priorityTracker struct {
	mu    sync.Mutex
	count int
	idle  chan struct{} // closed while count == 0
}

func newPriorityTracker() *priorityTracker {
	idle := make(chan struct{})
	close(idle)
	return &priorityTracker{idle: idle}
}

// Add registers one in-flight priority command.
func (p *priorityTracker) Add() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		p.idle = make(chan struct{})
	}
	p.count++
}

// Done releases one priority command. Unmatched calls are ignored.
func (p *priorityTracker) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return
	}
	p.count--
	if p.count == 0 {
		close(p.idle)
	}
}

// Busy reports whether any priority command is in flight.
func (p *priorityTracker) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count > 0
}

// AwaitIdle blocks until no priority command is in flight. A command that
// lands between the broadcast and the wakeup restarts the wait.
func (p *priorityTracker) AwaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}

		if !p.Busy() {
			return nil
		}
	}
}
