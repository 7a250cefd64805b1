package gate

import "sync"

// collector buffers the latency samples and call counters that feed the
// periodic metrics event.
type collector struct {
	mu              sync.Mutex
	bookLatenciesUs []int64
	bookRequests    int
	privateRequests int
}

// RecordOrderBook stores one polling round: its round-trip latency in
// microseconds and the number of requests it issued.
func (c *collector) RecordOrderBook(latencyUs int64, requests int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookLatenciesUs = append(c.bookLatenciesUs, latencyUs)
	c.bookRequests += requests
}

// RecordPrivateCall counts one authenticated API acquisition.
func (c *collector) RecordPrivateCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.privateRequests++
}

// Drain returns the buffered window and resets it, but only once at least
// two latency samples exist. Below the threshold nothing is consumed and
// the window keeps accumulating.
func (c *collector) Drain() (latenciesUs []int64, bookRequests, privateRequests int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.bookLatenciesUs) < 2 {
		return nil, 0, 0, false
	}

	latenciesUs = c.bookLatenciesUs
	bookRequests = c.bookRequests
	privateRequests = c.privateRequests
	c.bookLatenciesUs = nil
	c.bookRequests = 0
	c.privateRequests = 0
	return latenciesUs, bookRequests, privateRequests, true
}
